package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contramind/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	contents, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, contents.IsEmpty())

	seeded, err := s.SeedIfEmpty(ctx, Contents{
		Thresholds: map[string]decimal.Decimal{"amount_max": decimal.NewFromInt(2100)},
		Allowlist:  []string{"US", "CA"},
	})
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = s.SeedIfEmpty(ctx, Contents{Allowlist: []string{"FR"}})
	require.NoError(t, err)
	assert.False(t, seeded, "second seed must not overwrite")

	require.NoError(t, s.AddCountry(ctx, "GB"))
	require.NoError(t, s.AddCountry(ctx, "GB"))
	require.NoError(t, s.RemoveCountry(ctx, "CA"))
	require.NoError(t, s.RemoveCountry(ctx, "ZZ"))

	contents, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GB", "US"}, contents.Allowlist)

	require.NoError(t, s.DeleteThreshold(ctx, "amount_max"))
	assert.ErrorIs(t, s.DeleteThreshold(ctx, "amount_max"), sentinel.ErrNotFound)
}

func TestInMemoryLoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	require.NoError(t, s.SetThreshold(ctx, "amount_max", decimal.NewFromInt(10)))

	contents, _ := s.Load(ctx)
	contents.Thresholds["amount_max"] = decimal.NewFromInt(99)

	again, _ := s.Load(ctx)
	assert.True(t, again.Thresholds["amount_max"].Equal(decimal.NewFromInt(10)))
}

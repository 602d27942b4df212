package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contramind/internal/attestor/models"
	"contramind/pkg/platform/sentinel"
)

func TestInMemoryRegisterAndActivate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	t0 := time.Date(2025, 9, 16, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Register(ctx, models.KeyRecord{KID: "k1", PublicKey: "pub1", CreatedAt: t0}))
	require.NoError(t, s.Register(ctx, models.KeyRecord{KID: "k1", PublicKey: "pub1", CreatedAt: t0}))
	assert.ErrorIs(t, s.Register(ctx, models.KeyRecord{KID: "k1", PublicKey: "other"}), sentinel.ErrConflict)
	require.NoError(t, s.Register(ctx, models.KeyRecord{KID: "k2", PublicKey: "pub2", CreatedAt: t0.Add(time.Hour)}))

	assert.ErrorIs(t, s.Activate(ctx, "missing", t0), sentinel.ErrNotFound)
	require.NoError(t, s.Activate(ctx, "k1", t0))
	require.NoError(t, s.Activate(ctx, "k2", t0.Add(2*time.Hour)))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "k1", recs[0].KID)
	assert.False(t, recs[0].Active)
	assert.True(t, recs[1].Active)
	require.NotNil(t, recs[1].ActivatedAt)
	assert.Equal(t, t0.Add(2*time.Hour), *recs[1].ActivatedAt)
}

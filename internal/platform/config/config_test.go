package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaultsInDev(t *testing.T) {
	t.Setenv("CM_ENV", "dev")
	t.Setenv("ATTESTOR_SEED", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, devSeed, cfg.Attestor.Seed)
	assert.Equal(t, "k1", cfg.Attestor.ActiveKID)
	assert.Equal(t, 1000, cfg.Anchor.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Decision.WaitTimeout)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnvRequiresSeedOutsideDev(t *testing.T) {
	t.Setenv("CM_ENV", "prod")
	t.Setenv("ATTESTOR_SEED", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ATTESTOR_SEED")
}

func TestFromEnvParsesOverrides(t *testing.T) {
	t.Setenv("CM_ENV", "prod")
	t.Setenv("ATTESTOR_SEED", "seed")
	t.Setenv("ATTESTOR_ACTIVE_KID", "k2")
	t.Setenv("ATTESTOR_RETIRED_KIDS", "k0, k1")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("ANCHOR_INTERVAL", "15s")
	t.Setenv("ANCHOR_BATCH_SIZE", "50")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"k0", "k1"}, cfg.Attestor.RetiredKIDs)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Second, cfg.Anchor.Interval)
	assert.Equal(t, 50, cfg.Anchor.BatchSize)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("CM_ENV", "dev")
	t.Setenv("ANCHOR_INTERVAL", "soon")
	t.Setenv("ANCHOR_BATCH_SIZE", "0")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANCHOR_INTERVAL")
}

func TestValidateRejectsRetiredActiveKid(t *testing.T) {
	t.Setenv("CM_ENV", "dev")
	t.Setenv("ATTESTOR_ACTIVE_KID", "k2")
	t.Setenv("ATTESTOR_RETIRED_KIDS", "k1,k2")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active kid")
}

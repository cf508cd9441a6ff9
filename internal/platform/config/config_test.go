package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "tank_commands", cfg.CommandStream)
	assert.Equal(t, "0-0", cfg.CommandStreamStart)
	assert.Equal(t, int64(500), cfg.StatusMaxLen)
	assert.Equal(t, int64(1000), cfg.RadarMaxLen)
	assert.Equal(t, 10*time.Minute, cfg.StaleTimeout)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, int64(20), cfg.RelayBatchSize)
	assert.Equal(t, 5*time.Second, cfg.RelayBlock)
}

func TestLoad_MissingRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("COMMAND_STREAM", "ops_commands")
	t.Setenv("STALE_TIMEOUT", "5m")
	t.Setenv("STATUS_MAXLEN", "100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ops_commands", cfg.CommandStream)
	assert.Equal(t, 5*time.Minute, cfg.StaleTimeout)
	assert.Equal(t, int64(100), cfg.StatusMaxLen)
}

func TestLoad_RejectsNonPositiveBatchSize(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RELAY_BATCH_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_BATCH_SIZE")
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 100, cfg.Sweep.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 5*time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("SWEEP_BATCH_SIZE", "banana")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("LOCK_TTL", "soon")

	cfg := Load()

	// A malformed batch size must not become 0 and disable the sweeper.
	assert.Equal(t, 100, cfg.Sweep.BatchSize)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("SWEEP_BATCH_SIZE", "25")
	t.Setenv("LOCK_WAIT_TIMEOUT", "250ms")

	cfg := Load()

	assert.Equal(t, 25, cfg.Sweep.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.WaitTimeout)
}

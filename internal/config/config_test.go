package config

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 5*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffCap)
	assert.Equal(t, 2, cfg.DisconnectAfter)
	assert.Equal(t, 15*time.Second, cfg.BalanceCacheTTL)
	assert.Equal(t, 0, cfg.WorkerPoolSize)
	assert.Equal(t, uint64(21000), cfg.EVMGasLimit)
	assert.Equal(t, log.InfoLevel, cfg.LogLevel)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("RPC_TIMEOUT", "2s")
	t.Setenv("SWEEP_MAX_RETRIES", "3")
	t.Setenv("SWEEP_BACKOFF_BASE", "10ms")
	t.Setenv("SWEEP_BACKOFF_CAP", "1ms")
	t.Setenv("HEALTH_HYSTERESIS", "0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HEALTH_HTTP_PROBES", "openai=https://api.openai.com/v1/models, broken ,mempool=https://mempool.space/api/blocks/tip/height")

	cfg := LoadConfig()

	assert.Equal(t, 2*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 10*time.Millisecond, cfg.BackoffCap, "cap below base is raised to base")
	assert.Equal(t, 2, cfg.DisconnectAfter)
	assert.Equal(t, log.DebugLevel, cfg.LogLevel)
	assert.Equal(t, map[string]string{
		"openai":  "https://api.openai.com/v1/models",
		"mempool": "https://mempool.space/api/blocks/tip/height",
	}, cfg.HTTPProbes)
}

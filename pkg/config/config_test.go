package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.MaxConcurrentAgents)
	assert.Equal(t, 12, cfg.DiscoveryMaxQuestions)
	assert.Equal(t, 2*time.Hour, cfg.SessionTimeout)
	assert.Equal(t, 15*time.Second, cfg.PauseGrace)
	assert.Equal(t, int64(1000), cfg.WatchdogMaxIterations)
	assert.Equal(t, 256, cfg.SubscriberQueueSize)
	assert.False(t, cfg.HostedMode)
	assert.Nil(t, cfg.GateTestCommand)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_AGENTS", "2")
	t.Setenv("PAUSE_GRACE_MS", "500")
	t.Setenv("HOSTED_MODE", "true")
	t.Setenv("GATE_TEST_CMD", "go test ./...")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxConcurrentAgents)
	assert.Equal(t, 500*time.Millisecond, cfg.PauseGrace)
	assert.True(t, cfg.HostedMode)
	assert.Equal(t, []string{"go", "test", "./..."}, cfg.GateTestCommand)
}

func TestValidate(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_AGENTS", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("MAX_CONCURRENT_AGENTS", "5")
	t.Setenv("TASK_TIMEOUT_SECONDS", "7200")
	t.Setenv("SESSION_TIMEOUT_SECONDS", "600")
	_, err = Load()
	assert.Error(t, err)
}

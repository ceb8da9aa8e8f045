package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 1000, cfg.QueueCapacity)
	assert.Equal(t, 10*time.Minute, cfg.QueueMaxWait)
	assert.Equal(t, 30*time.Second, cfg.AcceptTimeout)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}, cfg.Cooldowns)

	assert.Equal(t, 1000, cfg.Queue().PartitionCapacity)
	assert.Equal(t, 5*time.Second, cfg.Service().MatchInterval)
	assert.Equal(t, 30*time.Second, cfg.Dispatch().Timeout)
	assert.NotEmpty(t, cfg.Dispatch().Rules)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("QUEUE_CAPACITY", "25")
	t.Setenv("ACCEPT_TIMEOUT", "10s")
	t.Setenv("COOLDOWN_LADDER", "30s,2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, 25, cfg.QueueCapacity)
	assert.Equal(t, 10*time.Second, cfg.Dispatch().Timeout)
	assert.Equal(t, []time.Duration{30 * time.Second, 2 * time.Minute}, cfg.Cooldowns)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "-1")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	bad := base
	bad.QueueCapacity = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.AcceptTimeout = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.LogLevel = "loud"
	assert.Error(t, bad.Validate())
}

func TestLogger(t *testing.T) {
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	var buf bytes.Buffer
	log := cfg.Logger(&buf)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("hidden")
	log.WithField("k", "v").Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)
}

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 1*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 5, cfg.MaxStripeRetries)
	assert.Equal(t, 65535, cfg.UDPBufferSize)
	assert.Equal(t, 0, cfg.MetricsPort)
	assert.Equal(t, 0, cfg.FaultInjectionPercent)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	cfg, err := Load("/nonexistent/stripefs.yaml")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/stripefs.yaml"
	contents := "rpc_timeout: 2s\nmax_stripe_retries: 8\nmetrics_port: 9100\nlogging:\n  level: DEBUG\n  output: /var/log/stripefs.log\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 8, cfg.MaxStripeRetries)
	assert.Equal(t, 9100, cfg.MetricsPort)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "/var/log/stripefs.log", cfg.Logging.Output)
	// Untouched fields keep their defaults.
	assert.Equal(t, 65535, cfg.UDPBufferSize)
	assert.Equal(t, "text", cfg.Logging.Format)
}

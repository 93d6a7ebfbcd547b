package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "data/cache", cfg.Cache.Dir)
	assert.Equal(t, 8, cfg.Fetch.MaxConcurrency)
	assert.Equal(t, 5, cfg.Fetch.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.BackoffMin)
	assert.Equal(t, "https://api.binance.com", cfg.REST.SpotBaseURL)
	assert.Equal(t, "https://data.binance.vision", cfg.Vision.BaseURL)
	assert.Equal(t, 40*time.Hour, cfg.Vision.DelayThreshold)
	assert.Equal(t, 6000, cfg.RateLimit.WeightPerMinute)
	assert.Equal(t, 2, cfg.RateLimit.KlineWeight)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
fetch:
  max_concurrency: 16
  backoff_min: 250ms
  backoff_max: 10s
vision:
  delay_threshold: 48h
rest:
  timeout: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Fetch.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.BackoffMin)
	assert.Equal(t, 10*time.Second, cfg.Fetch.BackoffMax)
	assert.Equal(t, 48*time.Hour, cfg.Vision.DelayThreshold)
	assert.Equal(t, 5*time.Second, cfg.REST.Timeout)
}

func TestLoadCapsConcurrency(t *testing.T) {
	path := writeConfig(t, `
fetch:
  max_concurrency: 5000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Fetch.MaxConcurrency)
}

func TestLoadRejectsInvertedBackoff(t *testing.T) {
	path := writeConfig(t, `
fetch:
  backoff_min: 1m
  backoff_max: 1s
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "backoff_min")
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: verbose
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "log_level")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())
	assert.True(t, cfg.Cache.Enabled)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generated.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Fetch.MaxConcurrency, cfg.Fetch.MaxConcurrency)
	assert.Equal(t, Default().Vision.DelayThreshold, cfg.Vision.DelayThreshold)

	// refuses to clobber an existing file
	assert.Error(t, WriteDefault(path))
}

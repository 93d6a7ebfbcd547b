package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteDefault writes the built-in defaults as a commented-out starting point
// for a new deployment. Refuses to clobber an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	cfg := Default()
	out, err := yaml.Marshal(configToMap(cfg))
	if err != nil {
		return fmt.Errorf("marshal default config failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// configToMap keeps yaml key names in sync with the mapstructure tags read by
// Load, so a written default round-trips.
func configToMap(c *Config) map[string]any {
	return map[string]any{
		"app": map[string]any{
			"log_level": c.App.LogLevel,
		},
		"cache": map[string]any{
			"enabled": c.Cache.Enabled,
			"dir":     c.Cache.Dir,
		},
		"fetch": map[string]any{
			"max_concurrency": c.Fetch.MaxConcurrency,
			"max_retries":     c.Fetch.MaxRetries,
			"backoff_min":     c.Fetch.BackoffMin.String(),
			"backoff_max":     c.Fetch.BackoffMax.String(),
		},
		"rest": map[string]any{
			"spot_base_url":    c.REST.SpotBaseURL,
			"futures_base_url": c.REST.FuturesBaseURL,
			"timeout":          c.REST.Timeout.String(),
			"proxy_url":        c.REST.ProxyURL,
		},
		"vision": map[string]any{
			"base_url":        c.Vision.BaseURL,
			"timeout":         c.Vision.Timeout.String(),
			"delay_threshold": c.Vision.DelayThreshold.String(),
		},
		"rate_limit": map[string]any{
			"weight_per_minute": c.RateLimit.WeightPerMinute,
			"kline_weight":      c.RateLimit.KlineWeight,
		},
		"journal": map[string]any{
			"enabled": c.Journal.Enabled,
			"path":    c.Journal.Path,
		},
	}
}

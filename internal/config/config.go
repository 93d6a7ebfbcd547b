package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config carries every knob the core consumes. Values are injected at
// construction time; nothing in the core reads global state.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	REST      RESTConfig      `mapstructure:"rest"`
	Vision    VisionConfig    `mapstructure:"vision"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Journal   JournalConfig   `mapstructure:"journal"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type FetchConfig struct {
	// MaxConcurrency bounds the segment worker pool; hard cap 100.
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffMin     time.Duration `mapstructure:"backoff_min"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

type RESTConfig struct {
	SpotBaseURL    string        `mapstructure:"spot_base_url"`
	FuturesBaseURL string        `mapstructure:"futures_base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ProxyURL       string        `mapstructure:"proxy_url"`
}

type VisionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// DelayThreshold is how old a day must be before the bulk archive is
	// assumed published. Provider policy; drifts over time.
	DelayThreshold time.Duration `mapstructure:"delay_threshold"`
}

type RateLimitConfig struct {
	// WeightPerMinute is the provider's request-weight ceiling per rolling minute.
	WeightPerMinute int `mapstructure:"weight_per_minute"`
	// KlineWeight is the static weight charged per klines call.
	KlineWeight int `mapstructure:"kline_weight"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const maxConcurrencyCap = 100

// Load reads a YAML config file, fills defaults and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, suitable for running without a
// config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		c.Cache.Dir = "data/cache"
		c.Cache.Enabled = true
	}
	if c.Fetch.MaxConcurrency <= 0 {
		c.Fetch.MaxConcurrency = 8
	}
	if c.Fetch.MaxConcurrency > maxConcurrencyCap {
		c.Fetch.MaxConcurrency = maxConcurrencyCap
	}
	if c.Fetch.MaxRetries <= 0 {
		c.Fetch.MaxRetries = 5
	}
	if c.Fetch.BackoffMin <= 0 {
		c.Fetch.BackoffMin = 500 * time.Millisecond
	}
	if c.Fetch.BackoffMax <= 0 {
		c.Fetch.BackoffMax = 30 * time.Second
	}
	if strings.TrimSpace(c.REST.SpotBaseURL) == "" {
		c.REST.SpotBaseURL = "https://api.binance.com"
	}
	if strings.TrimSpace(c.REST.FuturesBaseURL) == "" {
		c.REST.FuturesBaseURL = "https://fapi.binance.com"
	}
	if c.REST.Timeout <= 0 {
		c.REST.Timeout = 15 * time.Second
	}
	if strings.TrimSpace(c.Vision.BaseURL) == "" {
		c.Vision.BaseURL = "https://data.binance.vision"
	}
	if c.Vision.Timeout <= 0 {
		c.Vision.Timeout = 60 * time.Second
	}
	if c.Vision.DelayThreshold <= 0 {
		c.Vision.DelayThreshold = 40 * time.Hour
	}
	if c.RateLimit.WeightPerMinute <= 0 {
		c.RateLimit.WeightPerMinute = 6000
	}
	if c.RateLimit.KlineWeight <= 0 {
		c.RateLimit.KlineWeight = 2
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = "data/journal.db"
	}
}

func (c *Config) validate() error {
	if c.Fetch.BackoffMin > c.Fetch.BackoffMax {
		return fmt.Errorf("fetch.backoff_min (%s) exceeds fetch.backoff_max (%s)",
			c.Fetch.BackoffMin, c.Fetch.BackoffMax)
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("cache.dir is required when cache.enabled is true")
	}
	if c.RateLimit.KlineWeight > c.RateLimit.WeightPerMinute {
		return fmt.Errorf("rate_limit.kline_weight (%d) exceeds rate_limit.weight_per_minute (%d)",
			c.RateLimit.KlineWeight, c.RateLimit.WeightPerMinute)
	}
	switch strings.ToLower(strings.TrimSpace(c.App.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown app.log_level: %s", c.App.LogLevel)
	}
	return nil
}

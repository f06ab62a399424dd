// Package config loads HIVE client settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/hivesocial/hive_sdk_go/internal/httpx"
	"github.com/hivesocial/hive_sdk_go/pkg/query"
)

const (
	EnvMode      = "HIVE_RUNTIME_MODE"
	EnvAPIURL    = "HIVE_API_URL"
	EnvConfig    = "HIVE_CONFIG"
	EnvRedisAddr = "HIVE_REDIS_ADDR"
	EnvLogLevel  = "HIVE_LOG_LEVEL"
	// EnvMockErrorRate overrides mock.error_rate.
	EnvMockErrorRate = "HIVE_MOCK_ERROR_RATE"

	ModeAuto = "auto"
	ModeHTTP = "http"
	ModeMock = "mock"
)

// Config is the full client configuration.
type Config struct {
	Mode    string        `yaml:"mode"`
	API     APIConfig     `yaml:"api"`
	Breaker BreakerConfig `yaml:"breaker"`
	Cache   CacheConfig   `yaml:"cache"`
	Persist PersistConfig `yaml:"persist"`
	Mock    MockConfig    `yaml:"mock"`
	Log     LogConfig     `yaml:"log"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

// BreakerConfig enables the transport circuit breaker.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests"`
}

// CacheConfig tunes the query cache. Nil pointers keep the defaults.
type CacheConfig struct {
	StaleTime          time.Duration `yaml:"stale_time"`
	GCTime             time.Duration `yaml:"gc_time"`
	MaxRetries         *int          `yaml:"max_retries"`
	RefetchOnFocus     bool          `yaml:"refetch_on_focus"`
	RefetchOnReconnect *bool         `yaml:"refetch_on_reconnect"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// PersistConfig points the cache persister at Redis. An empty address
// disables persistence.
type PersistConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// MockConfig shapes the in-process backend used in mock mode.
type MockConfig struct {
	Latency   time.Duration `yaml:"latency"`
	Jitter    time.Duration `yaml:"jitter"`
	ErrorRate float64       `yaml:"error_rate"`
	Seed      int64         `yaml:"seed"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode: ModeAuto,
		API: APIConfig{
			Timeout: httpx.DefaultTimeout,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
			HalfOpenRequests:    1,
		},
		Cache: CacheConfig{
			StaleTime:     query.DefaultStaleTime,
			GCTime:        query.DefaultGCTime,
			SweepInterval: time.Minute,
		},
		Persist: PersistConfig{
			Prefix: "hive:query:",
			TTL:    24 * time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads the file named by HIVE_CONFIG, applies the environment
// overrides and validates the result.
func FromEnv() (Config, error) {
	return FromFileAndEnv("")
}

// FromFileAndEnv is FromEnv reading path instead of HIVE_CONFIG when path is
// not empty.
func FromFileAndEnv(path string) (Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfig))
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvMode)); v != "" {
		c.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv(EnvAPIURL)); v != "" {
		c.API.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisAddr)); v != "" {
		c.Persist.RedisAddr = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvMockErrorRate)); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			c.Mock.ErrorRate = rate
		}
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeAuto, ModeMock:
	case ModeHTTP:
		if c.API.BaseURL == "" {
			return fmt.Errorf("config: HTTP mode requires %s or api.base_url", EnvAPIURL)
		}
	default:
		return fmt.Errorf("config: unsupported %s value %q", EnvMode, c.Mode)
	}
	if c.API.RateLimit < 0 {
		return errors.New("config: api.rate_limit must not be negative")
	}
	if c.Mock.ErrorRate < 0 || c.Mock.ErrorRate > 1 {
		return errors.New("config: mock.error_rate must be within [0, 1]")
	}
	if c.Cache.MaxRetries != nil && *c.Cache.MaxRetries < 0 {
		return errors.New("config: cache.max_retries must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// Policy converts the cache section into a query policy.
func (c CacheConfig) Policy() query.Policy {
	p := query.DefaultPolicy()
	if c.StaleTime > 0 {
		p.StaleTime = c.StaleTime
	}
	if c.GCTime > 0 {
		p.GCTime = c.GCTime
	}
	if c.MaxRetries != nil {
		p.MaxRetries = *c.MaxRetries
	}
	p.RefetchOnFocus = c.RefetchOnFocus
	if c.RefetchOnReconnect != nil {
		p.RefetchOnReconnect = *c.RefetchOnReconnect
	}
	return p
}

// Settings returns the breaker settings, or nil when disabled.
func (b BreakerConfig) Settings() *httpx.BreakerSettings {
	if !b.Enabled {
		return nil
	}
	return &httpx.BreakerSettings{
		ConsecutiveFailures: b.ConsecutiveFailures,
		OpenTimeout:         b.OpenTimeout,
		HalfOpenRequests:    b.HalfOpenRequests,
	}
}

// ParsedLevel parses the log level, falling back to info.
func (l LogConfig) ParsedLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

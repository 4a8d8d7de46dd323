package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all predictgate configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	UI        UIConfig        `yaml:"ui"`
	Audit     AuditConfig     `yaml:"audit"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" (default) or "text"
}

// ServerConfig bounds inbound requests.
type ServerConfig struct {
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// InferenceConfig defines the downstream prediction service.
type InferenceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// RetryConfig bounds retries of the outbound inference call.
// MaxAttempts counts the initial attempt, so 1 disables retries.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// CacheConfig controls the prediction cache.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // "memory", "sqlite" or "redis"
	TTL           time.Duration `yaml:"ttl"`
	KeyPrefix     string        `yaml:"key_prefix"`
	OpTimeout     time.Duration `yaml:"op_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SQLite        SQLiteConfig  `yaml:"sqlite"`
	Redis         RedisConfig   `yaml:"redis"`
}

// SQLiteConfig locates the SQLite cache database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds connection settings shared by the redis cache and limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig controls the fixed-window per-client limiter.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Backend           string        `yaml:"backend"` // "memory" or "redis"
	Window            time.Duration `yaml:"window"`
	Max               int           `yaml:"max"`
	TrustForwardedFor bool          `yaml:"trust_forwarded_for"`
	Redis             RedisConfig   `yaml:"redis"`
}

// ProxyConfig tunes the /predict handler.
type ProxyConfig struct {
	Dedupe bool `yaml:"dedupe"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// UIConfig controls the embedded browser form.
type UIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuditConfig controls the request audit log.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	IncludeBodies bool   `yaml:"include_bodies"`
	MaxBodySize   int    `yaml:"max_body_size"` // bytes
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":5000",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			MaxBodyBytes:      1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Inference: InferenceConfig{
			URL:     "http://inference:6000/predict",
			Timeout: 10 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
			},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			TTL:           time.Hour,
			KeyPrefix:     "predict:",
			OpTimeout:     2 * time.Second,
			SweepInterval: time.Minute,
			SQLite:        SQLiteConfig{Path: "predictgate.db"},
			Redis:         RedisConfig{Addr: "localhost:6379"},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Backend: "memory",
			Window:  time.Minute,
			Max:     30,
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Proxy: ProxyConfig{
			Dedupe: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		UI: UIConfig{
			Enabled: true,
		},
		Audit: AuditConfig{
			Enabled:       false,
			DBPath:        "predictgate-audit.db",
			RetentionDays: 30,
			MaxBodySize:   8192,
		},
	}
}

// Load reads a YAML config file, expands environment variables and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is non-empty and exists, otherwise returns Default.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen must not be empty")
	}
	u, err := url.Parse(c.Inference.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("inference.url %q is not an absolute URL", c.Inference.URL)
	}
	if c.Inference.Retry.MaxAttempts < 1 {
		return errors.New("inference.retry.max_attempts must be at least 1")
	}
	switch c.Cache.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
		switch c.Metrics.Path {
		case "/", "/predict", "/healthz", "/readyz":
			return fmt.Errorf("metrics.path %q collides with a built-in route", c.Metrics.Path)
		}
	}
	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory", "redis":
		default:
			return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
		}
		if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
			return errors.New("rate_limit.window and rate_limit.max must be positive")
		}
	}
	return nil
}

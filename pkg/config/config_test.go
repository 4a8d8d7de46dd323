package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":5000" {
		t.Errorf("expected :5000, got %s", cfg.Listen)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected 1h TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.RateLimit.Window != time.Minute || cfg.RateLimit.Max != 30 {
		t.Errorf("expected 30 per 1m, got %d per %v", cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_REDIS_PASSWORD", "s3cret")

	content := `
listen: ":9090"
inference:
  url: http://localhost:6000/predict
  timeout: 3s
  retry:
    max_attempts: 5
cache:
  backend: redis
  ttl: 30m
  redis:
    addr: redis:6379
    password: ${TEST_REDIS_PASSWORD}
rate_limit:
  max: 10
  window: 10s
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Cache.Redis.Password != "s3cret" {
		t.Errorf("env var not expanded: got %s", cfg.Cache.Redis.Password)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Inference.Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", cfg.Inference.Timeout)
	}
	if cfg.Inference.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Inference.Retry.MaxAttempts)
	}
	// Unset keys keep their defaults.
	if cfg.Inference.Retry.MaxInterval != 2*time.Second {
		t.Errorf("expected default max interval, got %v", cfg.Inference.Retry.MaxInterval)
	}
	if cfg.RateLimit.Max != 10 || cfg.RateLimit.Window != 10*time.Second {
		t.Errorf("unexpected rate limit %d per %v", cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	if !cfg.Proxy.Dedupe {
		t.Error("expected dedupe to stay enabled")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":5000" {
		t.Errorf("expected defaults, got listen %s", cfg.Listen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"RelativeURL", func(c *Config) { c.Inference.URL = "/predict" }},
		{"ZeroAttempts", func(c *Config) { c.Inference.Retry.MaxAttempts = 0 }},
		{"UnknownCache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"ZeroTTL", func(c *Config) { c.Cache.TTL = 0 }},
		{"UnknownLimiter", func(c *Config) { c.RateLimit.Backend = "etcd" }},
		{"ZeroQuota", func(c *Config) { c.RateLimit.Max = 0 }},
		{"EmptyMetricsPath", func(c *Config) { c.Metrics.Path = "" }},
		{"RelativeMetricsPath", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"MetricsOnPredict", func(c *Config) { c.Metrics.Path = "/predict" }},
		{"MetricsOnRoot", func(c *Config) { c.Metrics.Path = "/" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := Default()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled metrics should not be validated: %v", err)
	}

	cfg = Default()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Backend = "anything"
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled limiter should not be validated: %v", err)
	}
}

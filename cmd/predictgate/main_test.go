package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/fingerprint"
	"github.com/pario-ai/predictgate/pkg/models"
)

func TestFingerprintCmd(t *testing.T) {
	cmd := newFingerprintCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(`{ "b": 1, "a": "x" }` + "\n"))
	cmd.SetArgs([]string{"--canonical"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	want, err := fingerprint.FromJSON([]byte(`{"a":"x","b":1}`))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out.String())
	}
	if lines[0] != want {
		t.Errorf("expected %s, got %s", want, lines[0])
	}
	if lines[1] != `{"a":"x","b":1}` {
		t.Errorf("unexpected canonical form %s", lines[1])
	}
}

func TestFingerprintCmdInvalid(t *testing.T) {
	cmd := newFingerprintCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{`{"data":`})
	if err := cmd.Execute(); !errors.Is(err, fingerprint.ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestPredictCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Data != "I love this" {
			t.Errorf("unexpected data %q", req.Data)
		}
		_, _ = w.Write([]byte(`{"output":{"label":"POSITIVE","score":0.9998},"cached":true}`))
	}))
	defer srv.Close()

	cmd := newPredictCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--url", srv.URL, "I", "love", "this"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Label:  POSITIVE", "Score:  0.9998", "Cached: true"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output %q missing %q", out.String(), want)
		}
	}
}

func TestPredictCmdEmptyText(t *testing.T) {
	cmd := newPredictCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"   "})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestOpenCacheBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"Memory", func(c *config.Config) { c.Cache.Backend = "memory" }},
		{"SQLite", func(c *config.Config) {
			c.Cache.Backend = "sqlite"
			c.Cache.SQLite.Path = filepath.Join(t.TempDir(), "cache.db")
		}},
		{"Redis", func(c *config.Config) {
			c.Cache.Backend = "redis"
			c.Cache.Redis.Addr = mr.Addr()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			ctx := context.Background()
			store, err := openCache(ctx, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer store.Close()

			if _, err := store.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := store.Set(ctx, "k", []byte(`{"label":"POSITIVE"}`), time.Hour); err != nil {
				t.Fatal(err)
			}
			got, err := store.Get(ctx, "k")
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != `{"label":"POSITIVE"}` {
				t.Errorf("unexpected value %s", got)
			}
		})
	}

	if !mr.Exists("predict:k") {
		t.Error("expected redis key to carry the configured prefix")
	}
}

func TestOpenLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default().RateLimit
	cfg.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	cfg.Max = 1

	l, closeLimiter, err := openLimiter(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeLimiter()

	first, err := l.Allow(context.Background(), "10.0.0.1")
	if err != nil || !first.Allowed {
		t.Fatalf("first request should pass: %+v, %v", first, err)
	}
	second, err := l.Allow(context.Background(), "10.0.0.1")
	if err != nil || second.Allowed {
		t.Fatalf("second request should be limited: %+v, %v", second, err)
	}
}

func TestAuditCommandsShareServeConfig(t *testing.T) {
	want := newServeCmd().Flags().Lookup("config").DefValue
	for _, sub := range newAuditCmd().Commands() {
		f := sub.Flags().Lookup("config")
		if f == nil {
			t.Errorf("audit %s has no --config flag", sub.Name())
			continue
		}
		if f.DefValue != want {
			t.Errorf("audit %s --config defaults to %q, serve uses %q", sub.Name(), f.DefValue, want)
		}
	}
}

func TestOpenAuditLoggerUsesConfig(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "custom-audit.db")
	cfgPath := filepath.Join(dir, "predictgate.yaml")
	if err := os.WriteFile(cfgPath, []byte("audit:\n  db_path: "+dbPath+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l, cleanup, err := openAuditLogger(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	if err := l.Log(context.Background(), models.AuditEntry{RequestID: "req-1", StatusCode: 200}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected audit db at configured path: %v", err)
	}
}

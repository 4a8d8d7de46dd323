package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/audit"
	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/cache/memory"
	rediscache "github.com/pario-ai/predictgate/pkg/cache/redis"
	"github.com/pario-ai/predictgate/pkg/cache/sqlite"
	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/inference"
	"github.com/pario-ai/predictgate/pkg/logging"
	"github.com/pario-ai/predictgate/pkg/proxy"
	"github.com/pario-ai/predictgate/pkg/ratelimit"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openCache(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init cache: %w", err)
			}
			defer func() { _ = store.Close() }()

			opts := []proxy.Option{proxy.WithLogger(logger)}

			if cfg.RateLimit.Enabled {
				limiter, closeLimiter, err := openLimiter(ctx, cfg.RateLimit)
				if err != nil {
					return fmt.Errorf("init rate limiter: %w", err)
				}
				defer closeLimiter()
				opts = append(opts, proxy.WithLimiter(limiter))
			}

			if cfg.Audit.Enabled {
				auditor, err := audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit log: %w", err)
				}
				defer func() { _ = auditor.Close() }()
				opts = append(opts, proxy.WithAuditor(auditor))
			}

			client := inference.New(cfg.Inference, inference.WithLogger(logger))
			srv := proxy.New(cfg, store, client, opts...)

			logger.Info("starting predictgate",
				"config", configPath,
				"inference_url", cfg.Inference.URL,
				"cache_backend", cfg.Cache.Backend,
				"rate_limit", cfg.RateLimit.Enabled,
			)
			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

// openCache builds the configured backend wrapped with the key prefix.
func openCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case "memory":
		store = memory.New(cfg.Cache.SweepInterval)
	case "sqlite":
		c, err := sqlite.New(cfg.Cache.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store = c
	case "redis":
		c, err := rediscache.Dial(ctx, redisOptions(cfg.Cache.Redis), cfg.Cache.KeyPrefix+"*")
		if err != nil {
			return nil, err
		}
		store = c
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return cache.Prefixed(store, cfg.Cache.KeyPrefix), nil
}

func openLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func(), error) {
	switch cfg.Backend {
	case "memory":
		return ratelimit.NewFixedWindow(cfg.Max, cfg.Window), func() {}, nil
	case "redis":
		client := goredis.NewClient(redisOptions(cfg.Redis))
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return ratelimit.NewRedis(client, cfg.Max, cfg.Window), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

func redisOptions(cfg config.RedisConfig) *goredis.Options {
	return &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

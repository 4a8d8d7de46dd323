package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the prediction cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeStore, err := openInspector(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := in.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Backend: %s\nEntries: %d\nHits:    %d\nMisses:  %d\n",
				stats.Backend, stats.Entries, stats.Hits, stats.Misses)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeStore, err := openInspector(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := in.Clear(cmd.Context(), expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// openInspector opens the configured cache backend for inspection. The memory
// backend lives inside the serving process and cannot be inspected from here.
func openInspector(ctx context.Context, configPath string) (cache.Inspector, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Cache.Backend == "memory" {
		return nil, nil, fmt.Errorf("cache backend %q is process-local; use sqlite or redis to inspect it", cfg.Cache.Backend)
	}

	store, err := openCache(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	in, ok := store.(cache.Inspector)
	if !ok {
		_ = store.Close()
		return nil, nil, fmt.Errorf("cache backend %q does not support inspection", cfg.Cache.Backend)
	}
	return in, func() { _ = store.Close() }, nil
}

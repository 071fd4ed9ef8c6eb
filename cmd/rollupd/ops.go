package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentboard/rollupd/internal/config"
	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/timeutil"
)

func newMigrateCmd() *cobra.Command {
	var showStatus bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				if showStatus {
					return mgr.MigrationStatus(ctx)
				}
				return mgr.Migrate(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&showStatus, "status", false, "Show migration status instead of applying")
	return cmd
}

func newRollupCmd() *cobra.Command {
	var granularity string
	var targetRaw string

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Run one rollup synchronously and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := timeutil.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			target, err := parseTarget(targetRaw)
			if err != nil {
				return err
			}
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				result, runErr := mgr.Rollup(ctx, g, target)
				if err := printJSON(result); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&granularity, "granularity", "", "Rollup granularity (hourly, daily, weekly, monthly)")
	cmd.Flags().StringVar(&targetRaw, "target", "", "Instant inside the window to aggregate (RFC3339; default: last closed window)")
	cmd.MarkFlagRequired("granularity")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var startRaw, endRaw, granularity string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Recompute every window in a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := timeutil.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			start, err := time.Parse(time.RFC3339, startRaw)
			if err != nil {
				return fmt.Errorf("invalid start %q: %w", startRaw, err)
			}
			end, err := time.Parse(time.RFC3339, endRaw)
			if err != nil {
				return fmt.Errorf("invalid end %q: %w", endRaw, err)
			}
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				result, runErr := mgr.Backfill(ctx, start, end, g)
				if err := printJSON(result); err != nil {
					return err
				}
				if runErr != nil {
					return runErr
				}
				if result.WindowsFailed > 0 {
					return fmt.Errorf("%d of %d windows failed", result.WindowsFailed, result.WindowsTotal)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&startRaw, "start", "", "Range start (RFC3339, inclusive)")
	cmd.Flags().StringVar(&endRaw, "end", "", "Range end (RFC3339, exclusive)")
	cmd.Flags().StringVar(&granularity, "granularity", "", "Granularity (hourly, daily, weekly, monthly)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	cmd.MarkFlagRequired("granularity")
	return cmd
}

func newViewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "Manage the materialized views",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create missing materialized views",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				return mgr.CreateViewsIfMissing(ctx)
			})
		},
	})

	var viewName string
	var concurrent bool
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh materialized views",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				if viewName != "" {
					result := mgr.RefreshView(ctx, viewName, concurrent)
					if err := printJSON(result); err != nil {
						return err
					}
					if !result.Success {
						return fmt.Errorf("refresh of %s failed: %s", result.Name, result.Error)
					}
					return nil
				}

				summary := mgr.RefreshAllViews(ctx, concurrent)
				if err := printJSON(summary); err != nil {
					return err
				}
				if summary.FailureCount > 0 {
					return fmt.Errorf("%d of %d views failed", summary.FailureCount, summary.Total)
				}
				return nil
			})
		},
	}
	refreshCmd.Flags().StringVar(&viewName, "view", "", "Refresh a single view by name")
	refreshCmd.Flags().BoolVar(&concurrent, "concurrent", false, "Refresh without locking readers (view must be populated)")
	cmd.AddCommand(refreshCmd)

	return cmd
}

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run maintenance jobs",
	}

	var retentionDays int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete rows past the retention cutoffs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				result, runErr := mgr.Cleanup(ctx, resolveRetention(retentionDays, cfg))
				if err := printJSON(result); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cleanupCmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Raw-row retention in days (default: configured value)")
	cmd.AddCommand(cleanupCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim storage on the raw and aggregate tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				summary := mgr.ReclaimStorage(ctx)
				if err := printJSON(summary); err != nil {
					return err
				}
				if summary.FailureCount > 0 {
					return fmt.Errorf("%d of %d tables failed", summary.FailureCount, summary.Total)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reindex",
		Short: "Rebuild indexes on the raw and aggregate tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				summary := mgr.RebuildIndexes(ctx)
				if err := printJSON(summary); err != nil {
					return err
				}
				if summary.FailureCount > 0 {
					return fmt.Errorf("%d of %d tables failed", summary.FailureCount, summary.Total)
				}
				return nil
			})
		},
	})

	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the health check and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithStore(func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error {
				status := mgr.HealthCheck(ctx)
				if err := printJSON(status); err != nil {
					return err
				}
				if status.Status == models.HealthUnhealthy {
					return fmt.Errorf("store is unhealthy")
				}
				return nil
			})
		},
	}
}

// parseTarget parses an optional RFC3339 instant.
func parseTarget(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", raw, err)
	}
	return &t, nil
}

// resolveRetention picks the first configured retention: flag, config file,
// built-in default.
func resolveRetention(flagDays int, cfg *config.Config) int {
	if flagDays > 0 {
		return flagDays
	}
	if cfg.Maintenance.RetentionDays > 0 {
		return cfg.Maintenance.RetentionDays
	}
	return models.DefaultRetentionDays
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentboard/rollupd/internal/config"
	"github.com/agentboard/rollupd/internal/logger"
	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/scheduler"
	"github.com/agentboard/rollupd/internal/timeutil"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "rollupd",
		Short: "Rollup and summarization service for agent execution logs",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "rollupd.yaml", "Path to configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newRollupCmd())
	root.AddCommand(newBackfillCmd())
	root.AddCommand(newViewsCmd())
	root.AddCommand(newMaintenanceCmd())
	root.AddCommand(newHealthCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the server section.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.Server.LoggingFormat == "text" {
		return logger.New(cfg.Server.LoggingLevel)
	}
	return logger.NewJSON(cfg.Server.LoggingLevel)
}

// storeConfig maps the database and maintenance sections onto the store's
// own config type.
func storeConfig(cfg *config.Config, log *slog.Logger) *models.Config {
	return &models.Config{
		DatabaseURL:           cfg.Database.URL,
		MaxConns:              cfg.Database.MaxConns,
		MinConns:              cfg.Database.MinConns,
		ConnectTimeout:        cfg.Database.ConnectTimeout.Duration,
		QueryTimeout:          cfg.Database.QueryTimeout.Duration,
		VacuumTables:          cfg.Maintenance.VacuumTables,
		ReindexTables:         cfg.Maintenance.ReindexTables,
		AggregationStaleAfter: cfg.Maintenance.AggregationStaleAfter.Duration,
		RawStaleAfter:         cfg.Maintenance.RawStaleAfter.Duration,
		Logger:                log,
	}
}

// taskOptions maps the task and rollup sections onto the scheduler's option
// set. Granularities switched off become disabled overrides for their task.
func taskOptions(cfg *config.Config) scheduler.TaskOptions {
	overrides := make(map[string]scheduler.TaskOverride, len(cfg.Tasks)+len(timeutil.Granularities))

	for name, tc := range cfg.Tasks {
		ov := scheduler.TaskOverride{
			MaxRetries: tc.MaxRetries,
			Disabled:   tc.Disabled,
		}
		if tc.BackoffBase != nil {
			d := tc.BackoffBase.Duration
			ov.BackoffBase = &d
		}
		if tc.SoftTimeLimit != nil {
			d := tc.SoftTimeLimit.Duration
			ov.SoftTimeLimit = &d
		}
		if tc.HardTimeLimit != nil {
			d := tc.HardTimeLimit.Duration
			ov.HardTimeLimit = &d
		}
		if tc.Every != nil {
			d := tc.Every.Duration
			ov.Every = &d
		}
		overrides[name] = ov
	}

	for _, g := range timeutil.Granularities {
		if cfg.Rollups.Enabled(g.String()) {
			continue
		}
		name := "rollup." + g.String()
		ov := overrides[name]
		ov.Disabled = true
		overrides[name] = ov
	}

	return scheduler.TaskOptions{
		RetentionDays:     cfg.Maintenance.RetentionDays,
		ConcurrentRefresh: cfg.Views.Concurrent(),
		Overrides:         overrides,
	}
}

// knownTask reports whether name is one of the built-in task names.
func knownTask(name string) bool {
	for _, n := range scheduler.TaskNames {
		if n == name {
			return true
		}
	}
	return false
}

// runWithStore loads configuration, connects the store, runs fn and shuts
// the store down. Signals cancel the context so long sweeps stop cleanly.
func runWithStore(fn func(ctx context.Context, mgr rollupdb.Manager, cfg *config.Config, log *slog.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := rollupdb.New(storeConfig(cfg, log))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			log.Error("Store shutdown failed", "error", err)
		}
	}()

	return fn(ctx, mgr, cfg, log)
}

// printJSON pretty-prints v to stdout.
func printJSON(v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

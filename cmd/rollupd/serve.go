package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agentboard/rollupd/internal/config"
	"github.com/agentboard/rollupd/internal/monitoring"
	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/router"
	"github.com/agentboard/rollupd/internal/scheduler"
	"github.com/agentboard/rollupd/internal/startup"
)

func newServeCmd() *cobra.Command {
	var applyMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, workers and metrics listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(applyMigrations)
		},
	}
	cmd.Flags().BoolVar(&applyMigrations, "migrate", false, "Apply pending schema migrations before starting")
	return cmd
}

func runServe(applyMigrations bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	log.Info("Starting rollupd",
		"logging_level", cfg.Server.LoggingLevel,
		"listen_addr", cfg.Server.ListenAddr,
	)
	config.PrintConfig(log, cfg)

	for name := range cfg.Tasks {
		if !knownTask(name) {
			log.Warn("Ignoring override for unknown task", "task", name)
		}
	}

	mgr, err := rollupdb.New(storeConfig(cfg, log))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if applyMigrations {
		if err := mgr.Migrate(ctx); err != nil {
			return err
		}
	}

	startup.ValidateStoreAtStartup(ctx, mgr, log)

	metrics := monitoring.New(true)

	executor := scheduler.NewExecutor(scheduler.ExecutorConfig{
		Routes:        cfg.Queues.Routes,
		Workers:       cfg.Queues.Workers,
		QueueCapacity: cfg.Queues.Capacity,
	}, metrics, log)
	executor.Start(ctx)

	var lock scheduler.LeaderLock
	if cfg.Redis.Addr != "" {
		redisLock, err := scheduler.NewRedisLock(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.LockKey, cfg.Redis.LockTTL.Duration, log)
		if err != nil {
			return err
		}
		defer redisLock.Close()
		lock = redisLock
	}

	tasks := scheduler.BuildTasks(mgr, metrics, log, taskOptions(cfg))
	sched := scheduler.NewScheduler(tasks, executor, lock, metrics, log)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/", router.New(mgr, executor, log))
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("Prometheus metrics enabled", "path", "/metrics")

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Info("Server starting", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")

	// Stop firing new work, then drain what is already queued.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	<-schedDone
	executor.Stop()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Store shutdown failed", "error", err)
	}

	log.Info("Shutdown complete")
	return nil
}

package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/agentboard/rollupd/internal/security"
)

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// PrintConfig outputs the configuration in a structured, readable format to the logger
func PrintConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("=== Configuration Loaded ===")

	logger.Info("server",
		"listen_addr", cfg.Server.ListenAddr,
		"logging_level", cfg.Server.LoggingLevel,
		"logging_format", cfg.Server.LoggingFormat,
		"shutdown_timeout", cfg.Server.ShutdownTimeout.String(),
	)

	logger.Info("database",
		"url", security.MaskDatabaseURL(cfg.Database.URL),
		"max_conns", cfg.Database.MaxConns,
		"min_conns", cfg.Database.MinConns,
		"connect_timeout", cfg.Database.ConnectTimeout.String(),
		"query_timeout", cfg.Database.QueryTimeout.String(),
	)

	if cfg.Redis.Addr != "" {
		logger.Info("redis (leader lock ENABLED)",
			"addr", cfg.Redis.Addr,
			"db", cfg.Redis.DB,
			"password", security.MaskSecret(cfg.Redis.Password, 4),
			"lock_key", cfg.Redis.LockKey,
			"lock_ttl", cfg.Redis.LockTTL.String(),
		)
	} else {
		logger.Info("redis", "status", "DISABLED (single-instance leader)")
	}

	logger.Info("rollups",
		"hourly", cfg.Rollups.Enabled("hourly"),
		"daily", cfg.Rollups.Enabled("daily"),
		"weekly", cfg.Rollups.Enabled("weekly"),
		"monthly", cfg.Rollups.Enabled("monthly"),
		"concurrent_view_refresh", cfg.Views.Concurrent(),
	)

	logger.Info("maintenance",
		"retention_days", cfg.Maintenance.RetentionDays,
		"vacuum_tables", len(cfg.Maintenance.VacuumTables),
		"reindex_tables", len(cfg.Maintenance.ReindexTables),
		"aggregation_stale_after", cfg.Maintenance.AggregationStaleAfter.String(),
		"raw_stale_after", cfg.Maintenance.RawStaleAfter.String(),
	)

	logger.Info("queues",
		"routes", len(cfg.Queues.Routes),
		"capacity", cfg.Queues.Capacity,
	)
	for queue, workers := range cfg.Queues.Workers {
		logger.Info("  queue workers", "queue", queue, "workers", workers)
	}

	logger.Info("tasks", "override_count", len(cfg.Tasks))
	for name, task := range cfg.Tasks {
		if task.Disabled {
			logger.Info("  task", "name", name, "status", "DISABLED")
		}
	}

	logger.Info("=== Configuration Ready ===")
}

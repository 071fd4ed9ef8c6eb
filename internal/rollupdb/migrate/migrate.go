// Package migrate applies the embedded schema migrations with goose.
//
// Only the tables this service owns are managed here: the twelve rollup
// tables, the three workspace summary tables and the materialized views. The raw
// event tables (agent_executions, user_activity_events, credit_events) are
// written by the ingestion path and are never created or altered by this
// package.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/agentboard/rollupd/internal/rollupdb/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const applyTimeout = time.Minute

// Runner wraps database migration capabilities.
type Runner struct {
	dsn string
	log *slog.Logger
}

// New returns a migration runner backed by goose. Migrations are embedded in
// the binary, so the runner needs only a DSN.
func New(dsn string, log *slog.Logger) (Runner, error) {
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{dsn: dsn, log: log}, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withDB(func(db *sql.DB) error {
		runCtx, cancel := context.WithTimeout(ctx, applyTimeout)
		defer cancel()

		r.log.Info("[DB] Applying schema migrations")
		if err := goose.UpContext(runCtx, db, "migrations"); err != nil {
			return fmt.Errorf("%w: apply: %v", models.ErrMigrationFailed, err)
		}

		version, err := goose.GetDBVersionContext(runCtx, db)
		if err != nil {
			return fmt.Errorf("%w: read version: %v", models.ErrMigrationFailed, err)
		}
		r.log.Info("[DB] Schema is up to date", "version", version)
		return nil
	})
}

// Status reports applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.withDB(func(db *sql.DB) error {
		if err := goose.StatusContext(ctx, db, "migrations"); err != nil {
			return fmt.Errorf("%w: status: %v", models.ErrMigrationFailed, err)
		}
		return nil
	})
}

// Down rolls back migrations either to the previous version or a specific
// target version. Meant for development databases.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withDB(func(db *sql.DB) error {
		runCtx, cancel := context.WithTimeout(ctx, applyTimeout)
		defer cancel()

		if targetVersion > 0 {
			r.log.Info("[DB] Rolling back migrations", "target", targetVersion)
			if err := goose.DownToContext(runCtx, db, "migrations", targetVersion); err != nil {
				return fmt.Errorf("%w: rollback to version %d: %v", models.ErrMigrationFailed, targetVersion, err)
			}
		} else {
			r.log.Info("[DB] Rolling back latest migration")
			if err := goose.DownContext(runCtx, db, "migrations"); err != nil {
				return fmt.Errorf("%w: rollback latest: %v", models.ErrMigrationFailed, err)
			}
		}

		r.log.Info("[DB] Rollback complete")
		return nil
	})
}

func (r Runner) withDB(fn func(*sql.DB) error) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%w: configure goose: %v", models.ErrMigrationFailed, err)
	}

	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("%w: open sql connection: %v", models.ErrMigrationFailed, err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("%w: ping sql connection: %v", models.ErrMigrationFailed, err)
	}

	return fn(db)
}

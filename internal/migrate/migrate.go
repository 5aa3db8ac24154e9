// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package migrate implements a minimal versioned schema migration runner.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the default migrate errs class.
var Error = errs.Class("migrate")

// DB is the minimal database interface the runner needs.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Step describes a single schema version.
type Step struct {
	Description string
	Version     int
	Statements  []string
}

// Migration is an ordered list of steps sharing a version table.
type Migration struct {
	Table string
	Steps []*Step
}

// Run applies all steps with a version greater than the current one,
// each inside its own transaction.
func (migration *Migration) Run(ctx context.Context, log *zap.Logger, db DB) error {
	if migration.Table == "" {
		migration.Table = "schema_version"
	}

	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migration.Table+` (
		version INTEGER NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return Error.Wrap(err)
	}

	current, err := migration.currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, step := range migration.Steps {
		if step.Version <= current {
			continue
		}
		log.Info("applying migration",
			zap.Int("version", step.Version),
			zap.String("description", step.Description))

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return Error.Wrap(err)
		}
		for _, statement := range step.Statements {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return Error.Wrap(errs.Combine(err, tx.Rollback()))
			}
		}
		// version is a trusted integer, inlined to stay placeholder-dialect agnostic
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (version, applied_at) VALUES (%d, CURRENT_TIMESTAMP)`,
			migration.Table, step.Version))
		if err != nil {
			return Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
		if err := tx.Commit(); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (migration *Migration) currentVersion(ctx context.Context, db DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM `+migration.Table).Scan(&version)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

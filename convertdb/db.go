// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package convertdb implements the persistent databases on postgres
// or sqlite.
package convertdb

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"geoconvert.io/geoconvert/console"
	"geoconvert.io/geoconvert/internal/migrate"
	"geoconvert.io/geoconvert/jobs"
)

// Error is the default error class for the convertdb package.
var Error = errs.Class("convertdb")

// DB implements jobs.DB on a SQL database.
type DB struct {
	log      *zap.Logger
	db       *sql.DB
	postgres bool
}

// Open connects to the database named by a URL of the form
// postgres://... or sqlite3://<path>.
func Open(log *zap.Logger, databaseURL string) (*DB, error) {
	var driver, source string
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		driver, source = "postgres", databaseURL
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		driver, source = "sqlite3", strings.TrimPrefix(databaseURL, "sqlite3://")
	default:
		return nil, Error.New("unsupported database url %q", databaseURL)
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if driver == "sqlite3" {
		// sqlite locks the whole file per writer
		db.SetMaxOpenConns(1)
	}
	return &DB{log: log, db: db, postgres: driver == "postgres"}, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// Users returns the user database.
func (db *DB) Users() console.Users { return &usersDB{db: db} }

// Subscriptions returns the subscription database.
func (db *DB) Subscriptions() console.Subscriptions { return &subscriptionsDB{db: db} }

// Jobs returns the conversion job database.
func (db *DB) Jobs() jobs.Jobs { return &jobsDB{db: db} }

// rebind converts ? placeholders to the dialect's form.
func (db *DB) rebind(query string) string {
	if !db.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MigrateToLatest applies all pending schema steps.
func (db *DB) MigrateToLatest(ctx context.Context) error {
	migration := &migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				Description: "initial schema",
				Version:     1,
				Statements: []string{
					`CREATE TABLE users (
						id TEXT NOT NULL PRIMARY KEY,
						email TEXT NOT NULL UNIQUE,
						password_hash TEXT NOT NULL,
						full_name TEXT NOT NULL DEFAULT '',
						active BOOLEAN NOT NULL DEFAULT false,
						created_at TIMESTAMP NOT NULL
					)`,
					`CREATE TABLE subscriptions (
						user_id TEXT NOT NULL PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE,
						plan TEXT NOT NULL DEFAULT 'free',
						conversions_used INTEGER NOT NULL DEFAULT 0,
						period_start TIMESTAMP NOT NULL,
						period_end TIMESTAMP NOT NULL
					)`,
					`CREATE TABLE conversion_jobs (
						id TEXT NOT NULL PRIMARY KEY,
						user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
						task_id TEXT NOT NULL DEFAULT '',
						original_filename TEXT NOT NULL DEFAULT '',
						input_path TEXT NOT NULL,
						input_size BIGINT NOT NULL DEFAULT 0,
						detected_format TEXT NOT NULL DEFAULT '',
						detected_epsg INTEGER NOT NULL DEFAULT 0,
						geometry_type TEXT NOT NULL DEFAULT '',
						feature_count_in INTEGER NOT NULL DEFAULT 0,
						output_format TEXT NOT NULL,
						target_epsg INTEGER NOT NULL DEFAULT 0,
						fix_geometries BOOLEAN NOT NULL DEFAULT true,
						normalize_attributes BOOLEAN NOT NULL DEFAULT true,
						encoding TEXT NOT NULL DEFAULT 'UTF-8',
						driver_options TEXT NOT NULL DEFAULT '{}',
						status TEXT NOT NULL DEFAULT 'pending',
						output_path TEXT NOT NULL DEFAULT '',
						output_size BIGINT NOT NULL DEFAULT 0,
						feature_count_out INTEGER NOT NULL DEFAULT 0,
						processing_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
						quality_report TEXT,
						geometry_errors_found INTEGER NOT NULL DEFAULT 0,
						geometry_errors_fixed INTEGER NOT NULL DEFAULT 0,
						null_geometry_count INTEGER NOT NULL DEFAULT 0,
						duplicate_count INTEGER NOT NULL DEFAULT 0,
						download_url TEXT NOT NULL DEFAULT '',
						download_expires_at TIMESTAMP,
						error_message TEXT NOT NULL DEFAULT '',
						error_trace TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						started_at TIMESTAMP,
						completed_at TIMESTAMP
					)`,
					`CREATE INDEX idx_jobs_user_created ON conversion_jobs (user_id, created_at)`,
					`CREATE INDEX idx_jobs_expiry ON conversion_jobs (status, download_expires_at)`,
				},
			},
		},
	}
	return Error.Wrap(migration.Run(ctx, db.log, db.db))
}

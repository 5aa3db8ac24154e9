// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package convertdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/jobs"
)

// CreateJob inserts the job and increments the subscription counter in
// one transaction. The subscription row is locked for the duration on
// postgres; sqlite serializes writers anyway. A limit of -1 is
// unlimited.
func (db *DB) CreateJob(ctx context.Context, job *jobs.Job, limit int) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, ignoreTxDone(tx.Rollback()))
		}
	}()

	query := `SELECT conversions_used, period_start, period_end FROM subscriptions WHERE user_id = ?`
	if db.postgres {
		query += ` FOR UPDATE`
	}

	var used int
	var periodStart, periodEnd time.Time
	err = tx.QueryRowContext(ctx, db.rebind(query), job.UserID.String()).
		Scan(&used, &periodStart, &periodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return Error.New("no subscription for user %s", job.UserID)
	}
	if err != nil {
		return Error.Wrap(err)
	}

	// Lazy monthly rollover: the counter resets when the first job of a
	// new period arrives.
	now := time.Now().UTC()
	if now.After(periodEnd) {
		used = 0
		for now.After(periodEnd) {
			periodStart = periodEnd
			periodEnd = periodEnd.AddDate(0, 1, 0)
		}
	}

	if limit != -1 && used >= limit {
		return jobs.ErrQuotaExhausted.New("%d of %d conversions used", used, limit)
	}

	driverOptions := "{}"
	if len(job.DriverOptions) > 0 {
		raw, err := json.Marshal(job.DriverOptions)
		if err != nil {
			return Error.Wrap(err)
		}
		driverOptions = string(raw)
	}

	_, err = tx.ExecContext(ctx, db.rebind(
		`INSERT INTO conversion_jobs (
			id, user_id, task_id, original_filename, input_path, input_size,
			detected_format, output_format, target_epsg,
			fix_geometries, normalize_attributes, encoding, driver_options,
			status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID.String(), job.UserID.String(), job.TaskID,
		job.OriginalFilename, job.InputPath, job.InputSize,
		job.DetectedFormat, job.OutputFormat, job.TargetEPSG,
		job.FixGeometries, job.NormalizeAttributes, job.Encoding, driverOptions,
		string(job.Status), job.CreatedAt)
	if err != nil {
		return Error.Wrap(err)
	}

	_, err = tx.ExecContext(ctx, db.rebind(
		`UPDATE subscriptions SET conversions_used = ?, period_start = ?, period_end = ?
		 WHERE user_id = ?`),
		used+1, periodStart, periodEnd, job.UserID.String())
	if err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(tx.Commit())
}

func ignoreTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

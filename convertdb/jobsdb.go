// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package convertdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/geo/quality"
	"geoconvert.io/geoconvert/jobs"
)

type jobsDB struct {
	db *DB
}

const jobColumns = `id, user_id, task_id, original_filename, input_path, input_size,
	detected_format, detected_epsg, geometry_type, feature_count_in,
	output_format, target_epsg, fix_geometries, normalize_attributes, encoding, driver_options,
	status, output_path, output_size, feature_count_out, processing_seconds, quality_report,
	geometry_errors_found, geometry_errors_fixed, null_geometry_count, duplicate_count,
	download_url, download_expires_at, error_message, error_trace,
	created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*jobs.Job, error) {
	var job jobs.Job
	var id, userID, status, driverOptions string
	var report sql.NullString
	var expiresAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&id, &userID, &job.TaskID, &job.OriginalFilename, &job.InputPath, &job.InputSize,
		&job.DetectedFormat, &job.DetectedEPSG, &job.GeometryType, &job.FeatureCountIn,
		&job.OutputFormat, &job.TargetEPSG, &job.FixGeometries, &job.NormalizeAttributes,
		&job.Encoding, &driverOptions,
		&status, &job.OutputPath, &job.OutputSize, &job.FeatureCountOut,
		&job.ProcessingSeconds, &report,
		&job.GeometryErrorsFound, &job.GeometryErrorsFixed, &job.NullGeometryCount,
		&job.DuplicateCount,
		&job.DownloadURL, &expiresAt, &job.ErrorMessage, &job.ErrorTrace,
		&job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if job.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)

	if driverOptions != "" && driverOptions != "{}" {
		if err := json.Unmarshal([]byte(driverOptions), &job.DriverOptions); err != nil {
			return nil, err
		}
	}
	if report.Valid && report.String != "" {
		job.QualityReport = &quality.Report{}
		if err := json.Unmarshal([]byte(report.String), job.QualityReport); err != nil {
			return nil, err
		}
	}
	if expiresAt.Valid {
		job.DownloadExpiresAt = &expiresAt.Time
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func (db *jobsDB) Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	row := db.db.db.QueryRowContext(ctx, db.db.rebind(
		`SELECT `+jobColumns+` FROM conversion_jobs WHERE id = ?`), id.String())

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound.New("%s", id)
	}
	return job, Error.Wrap(err)
}

func (db *jobsDB) ListByUser(ctx context.Context, userID uuid.UUID, status jobs.Status, limit, offset int) (_ []*jobs.Job, total int, err error) {
	countQuery := `SELECT COUNT(*) FROM conversion_jobs WHERE user_id = ?`
	listQuery := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE user_id = ?`
	countArgs := []interface{}{userID.String()}
	listArgs := []interface{}{userID.String()}

	if status != "" {
		countQuery += ` AND status = ?`
		listQuery += ` AND status = ?`
		countArgs = append(countArgs, string(status))
		listArgs = append(listArgs, string(status))
	}
	listQuery += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	listArgs = append(listArgs, limit, offset)

	err = db.db.db.QueryRowContext(ctx, db.db.rebind(countQuery), countArgs...).Scan(&total)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}

	rows, err := db.db.db.QueryContext(ctx, db.db.rebind(listQuery), listArgs...)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var list []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, Error.Wrap(err)
		}
		list = append(list, job)
	}
	return list, total, Error.Wrap(rows.Err())
}

func (db *jobsDB) MarkProcessing(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	result, err := db.db.db.ExecContext(ctx, db.db.rebind(
		`UPDATE conversion_jobs SET status = ?, started_at = ?
		 WHERE id = ? AND status = ?`),
		string(jobs.StatusProcessing), time.Now().UTC(),
		id.String(), string(jobs.StatusPending))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, jobs.ErrNotFound.New("no pending job %s", id)
	}
	return db.Get(ctx, id)
}

func (db *jobsDB) MarkSucceeded(ctx context.Context, id uuid.UUID, update jobs.SuccessUpdate) error {
	report, err := json.Marshal(update.QualityReport)
	if err != nil {
		return Error.Wrap(err)
	}

	result, err := db.db.db.ExecContext(ctx, db.db.rebind(
		`UPDATE conversion_jobs SET
			status = ?, output_path = ?, output_size = ?,
			feature_count_in = ?, feature_count_out = ?,
			detected_epsg = ?, geometry_type = ?, processing_seconds = ?,
			quality_report = ?,
			geometry_errors_found = ?, geometry_errors_fixed = ?,
			null_geometry_count = ?, duplicate_count = ?,
			download_url = ?, download_expires_at = ?, completed_at = ?
		 WHERE id = ? AND status = ?`),
		string(jobs.StatusSuccess), update.OutputPath, update.OutputSize,
		update.FeatureCountIn, update.FeatureCountOut,
		update.DetectedEPSG, update.GeometryType, update.ProcessingSeconds,
		string(report),
		update.GeometryStats.InvalidBefore, update.GeometryStats.Fixed,
		update.GeometryStats.NullGeometry, update.GeometryStats.DuplicatesRemoved,
		update.DownloadURL, update.ExpiresAt, time.Now().UTC(),
		id.String(), string(jobs.StatusProcessing))
	if err != nil {
		return Error.Wrap(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return jobs.ErrNotFound.New("no processing job %s", id)
	}
	return nil
}

func (db *jobsDB) MarkFailed(ctx context.Context, id uuid.UUID, message, trace string) error {
	result, err := db.db.db.ExecContext(ctx, db.db.rebind(
		`UPDATE conversion_jobs SET status = ?, error_message = ?, error_trace = ?, completed_at = ?
		 WHERE id = ? AND status = ?`),
		string(jobs.StatusFailed), message, trace, time.Now().UTC(),
		id.String(), string(jobs.StatusProcessing))
	if err != nil {
		return Error.Wrap(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return jobs.ErrNotFound.New("no processing job %s", id)
	}
	return nil
}

func (db *jobsDB) ExpiredArtifacts(ctx context.Context, now time.Time, limit int) (_ []*jobs.Job, err error) {
	rows, err := db.db.db.QueryContext(ctx, db.db.rebind(
		`SELECT `+jobColumns+` FROM conversion_jobs
		 WHERE status = ? AND download_expires_at IS NOT NULL
		   AND download_expires_at < ? AND output_path <> ''
		 ORDER BY download_expires_at
		 LIMIT ?`),
		string(jobs.StatusSuccess), now, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	var list []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		list = append(list, job)
	}
	return list, Error.Wrap(rows.Err())
}

func (db *jobsDB) MarkExpired(ctx context.Context, id uuid.UUID) error {
	result, err := db.db.db.ExecContext(ctx, db.db.rebind(
		`UPDATE conversion_jobs SET status = ?, output_path = ''
		 WHERE id = ? AND status = ?`),
		string(jobs.StatusExpired), id.String(), string(jobs.StatusSuccess))
	if err != nil {
		return Error.Wrap(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return jobs.ErrNotFound.New("no success job %s", id)
	}
	return nil
}

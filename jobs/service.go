// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"geoconvert.io/geoconvert/geo/formats"
	"geoconvert.io/geoconvert/jobs/queue"
	"geoconvert.io/geoconvert/storage"
)

var mon = monkit.Package()

const (
	// estimatedWaitSeconds is the hint returned on submission.
	estimatedWaitSeconds = 30

	minEPSG = 1024
	maxEPSG = 32767
)

// SubmitParams are the caller-supplied parameters of a conversion.
type SubmitParams struct {
	StoragePath         string
	OriginalFilename    string
	OutputFormat        string
	TargetEPSG          int
	FixGeometries       bool
	NormalizeAttributes bool
	Encoding            string
	DriverOptions       map[string]string
}

// Receipt is returned from a successful submission.
type Receipt struct {
	JobID                uuid.UUID
	Status               Status
	Message              string
	CreatedAt            time.Time
	EstimatedWaitSeconds int
}

// Service exposes job submission and status reads.
//
// architecture: Service
type Service struct {
	log   *zap.Logger
	db    DB
	queue queue.Queue
	store storage.Store
}

// NewService creates a job service.
func NewService(log *zap.Logger, db DB, q queue.Queue, store storage.Store) *Service {
	return &Service{log: log, db: db, queue: q, store: store}
}

// Submit validates the request, creates the job atomically with the
// quota increment and enqueues it for a worker.
func (service *Service) Submit(ctx context.Context, userID uuid.UUID, params SubmitParams) (_ *Receipt, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validateParams(&params); err != nil {
		return nil, err
	}

	size, err := service.store.Stat(ctx, params.StoragePath)
	if err != nil {
		return nil, ErrInvalidInput.New("input file not found: %s", params.StoragePath)
	}

	sub, err := service.db.Subscriptions().Get(ctx, userID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	limit := sub.Plan.ConversionLimit()
	if limit != -1 && sub.ConversionsUsed >= limit {
		return nil, ErrQuotaExhausted.New("monthly quota reached (%d conversions)", limit)
	}

	job := &Job{
		ID:                  uuid.New(),
		UserID:              userID,
		OriginalFilename:    params.OriginalFilename,
		InputPath:           params.StoragePath,
		InputSize:           size,
		OutputFormat:        params.OutputFormat,
		TargetEPSG:          params.TargetEPSG,
		FixGeometries:       params.FixGeometries,
		NormalizeAttributes: params.NormalizeAttributes,
		Encoding:            params.Encoding,
		DriverOptions:       params.DriverOptions,
		Status:              StatusPending,
		CreatedAt:           time.Now().UTC(),
	}
	job.TaskID = job.ID.String()

	// the insert and the counter increment share one transaction so
	// concurrent submissions cannot bypass the quota
	if err := service.db.CreateJob(ctx, job, limit); err != nil {
		return nil, Error.Wrap(err)
	}

	if err := service.queue.Publish(ctx, job.ID); err != nil {
		service.log.Error("job created but dispatch failed",
			zap.Stringer("job_id", job.ID), zap.Error(err))
		return nil, Error.Wrap(err)
	}

	service.log.Info("job submitted",
		zap.Stringer("job_id", job.ID),
		zap.String("format", job.OutputFormat),
		zap.Int64("input_size", job.InputSize))

	return &Receipt{
		JobID:                job.ID,
		Status:               StatusPending,
		Message:              "Job de conversion créé. Interrogez /status pour suivre la progression.",
		CreatedAt:            job.CreatedAt,
		EstimatedWaitSeconds: estimatedWaitSeconds,
	}, nil
}

func validateParams(params *SubmitParams) error {
	info, ok := formats.Lookup(params.OutputFormat)
	if !ok {
		return ErrInvalidInput.New("unsupported output format %q", params.OutputFormat)
	}
	if !info.Available {
		return ErrInvalidInput.New("output format %q is not available", params.OutputFormat)
	}
	if params.TargetEPSG != 0 && (params.TargetEPSG < minEPSG || params.TargetEPSG > maxEPSG) {
		return ErrInvalidInput.New("invalid EPSG code %d (range: %d-%d)", params.TargetEPSG, minEPSG, maxEPSG)
	}
	switch {
	case params.Encoding == "":
		params.Encoding = "UTF-8"
	case strings.EqualFold(params.Encoding, "UTF-8"), strings.EqualFold(params.Encoding, "latin-1"):
	default:
		return ErrInvalidInput.New("unsupported encoding %q", params.Encoding)
	}
	if params.StoragePath == "" {
		return ErrInvalidInput.New("storage path is required")
	}
	return nil
}

// Status returns a job visible to the given user. Jobs of other users
// read as not found.
func (service *Service) Status(ctx context.Context, userID, jobID uuid.UUID) (_ *Job, err error) {
	defer mon.Task()(&ctx)(&err)

	job, err := service.db.Jobs().Get(ctx, jobID)
	if err != nil {
		return nil, ErrNotFound.Wrap(err)
	}
	if job.UserID != userID {
		return nil, ErrNotFound.New("job %s", jobID)
	}
	return job, nil
}

// List returns the user's jobs newest first. limit is clamped to
// [1, 100]; an unknown status filter is ignored.
func (service *Service) List(ctx context.Context, userID uuid.UUID, statusFilter string, limit, offset int) (_ []*Job, total int, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var status Status
	switch Status(statusFilter) {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed, StatusExpired:
		status = Status(statusFilter)
	}

	jobs, total, err := service.db.Jobs().ListByUser(ctx, userID, status, limit, offset)
	return jobs, total, Error.Wrap(err)
}

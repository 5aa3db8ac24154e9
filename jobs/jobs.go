// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package jobs manages conversion jobs: submission with quota
// accounting, the persistent job record, dispatch and status reads.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/console"
	"geoconvert.io/geoconvert/geo/attrnorm"
	"geoconvert.io/geoconvert/geo/geomclean"
	"geoconvert.io/geoconvert/geo/quality"
)

// Error is the default error class for the jobs package.
var Error = errs.Class("jobs")

// Typed failures surfaced to API consumers.
var (
	ErrQuotaExhausted = errs.Class("quota exhausted")
	ErrInvalidInput   = errs.Class("invalid input")
	ErrNotFound       = errs.Class("job not found")
	ErrForbidden      = errs.Class("forbidden")
	ErrNotReady       = errs.Class("artifact not ready")
	ErrExpired        = errs.Class("artifact expired")
	ErrSizeLimit      = errs.Class("size limit exceeded")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// CanTransition reports whether the state machine allows moving from
// the current status to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusSuccess || next == StatusFailed
	case StatusSuccess:
		return next == StatusExpired
	default:
		return false
	}
}

// Job is the persistent record of one conversion.
type Job struct {
	ID     uuid.UUID
	UserID uuid.UUID
	TaskID string

	OriginalFilename string
	InputPath        string
	InputSize        int64
	DetectedFormat   string
	DetectedEPSG     int
	GeometryType     string
	FeatureCountIn   int

	OutputFormat        string
	TargetEPSG          int
	FixGeometries       bool
	NormalizeAttributes bool
	Encoding            string
	DriverOptions       map[string]string

	Status              Status
	OutputPath          string
	OutputSize          int64
	FeatureCountOut     int
	ProcessingSeconds   float64
	QualityReport       *quality.Report
	GeometryErrorsFound int
	GeometryErrorsFixed int
	NullGeometryCount   int
	DuplicateCount      int
	DownloadURL         string
	DownloadExpiresAt   *time.Time
	ErrorMessage        string
	ErrorTrace          string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SuccessUpdate carries the fields a worker commits on a successful
// run. The terminal write is a single transaction.
type SuccessUpdate struct {
	OutputPath        string
	OutputSize        int64
	FeatureCountIn    int
	FeatureCountOut   int
	DetectedEPSG      int
	GeometryType      string
	ProcessingSeconds float64
	QualityReport     *quality.Report
	GeometryStats     geomclean.Stats
	AttributeStats    attrnorm.Stats
	DownloadURL       string
	ExpiresAt         time.Time
}

// Jobs is the conversion job database.
//
// architecture: Database
type Jobs interface {
	// Get returns a job by id.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	// ListByUser returns the user's jobs ordered newest first, with an
	// optional status filter, plus the total matching count.
	ListByUser(ctx context.Context, userID uuid.UUID, status Status, limit, offset int) ([]*Job, int, error)
	// MarkProcessing transitions pending to processing and stamps
	// started_at.
	MarkProcessing(ctx context.Context, id uuid.UUID) (*Job, error)
	// MarkSucceeded transitions processing to success and writes the
	// outcome atomically.
	MarkSucceeded(ctx context.Context, id uuid.UUID, update SuccessUpdate) error
	// MarkFailed transitions processing to failed with an error
	// message and optional trace.
	MarkFailed(ctx context.Context, id uuid.UUID, message, trace string) error
	// ExpiredArtifacts lists success jobs whose artifact expiry has
	// passed and whose blob is still referenced.
	ExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// MarkExpired transitions success to expired and clears the output
	// path.
	MarkExpired(ctx context.Context, id uuid.UUID) error
}

// DB aggregates the databases the job service touches. CreateJob spans
// two entities and must be atomic, so it lives on the aggregate.
//
// architecture: Master Database
type DB interface {
	Users() console.Users
	Subscriptions() console.Subscriptions
	Jobs() Jobs

	// CreateJob inserts the job and increments the subscription
	// counter in one transaction, enforcing the plan limit. A limit of
	// -1 is unlimited. Returns ErrQuotaExhausted when the counter has
	// reached the limit.
	CreateJob(ctx context.Context, job *Job, limit int) error
}

// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package queue dispatches conversion jobs to workers over redis.
package queue

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default error class for the queue package.
var Error = errs.Class("queue")

// ErrEmpty is returned by Claim when no job is pending.
var ErrEmpty = errs.Class("queue empty")

// Queue hands job ids from submission to workers. A claimed id stays
// on a processing list until acknowledged, so a worker crash before
// ack leaves the job recoverable.
//
// architecture: Database
type Queue interface {
	// Publish appends a job id to the pending list.
	Publish(ctx context.Context, jobID uuid.UUID) error
	// Claim atomically moves one id from pending to processing and
	// returns it. Returns ErrEmpty when nothing is pending.
	Claim(ctx context.Context) (uuid.UUID, error)
	// Ack removes a claimed id from the processing list. Call only
	// after the terminal database write has committed.
	Ack(ctx context.Context, jobID uuid.UUID) error
	// RestorePending moves all claimed ids back to the pending list,
	// used on startup to recover from worker crashes.
	RestorePending(ctx context.Context) (int, error)
	// Progress publishes a best-effort progress checkpoint.
	Progress(ctx context.Context, jobID uuid.UUID, step string, percent int) error
	// Close releases the connection.
	Close() error
}

// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package cleanup removes expired conversion artifacts on a schedule.
package cleanup

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"geoconvert.io/geoconvert/internal/sync2"
	"geoconvert.io/geoconvert/jobs"
	"geoconvert.io/geoconvert/storage"
)

// Error is the default error class for the cleanup package.
var Error = errs.Class("cleanup")

var mon = monkit.Package()

// Config holds cleanup chore settings.
type Config struct {
	Interval  time.Duration `help:"how often to sweep for expired artifacts" default:"1h"`
	BatchSize int           `help:"maximum artifacts removed per sweep" default:"500"`
}

// Chore deletes artifact blobs whose availability window has passed
// and expires their job rows.
//
// architecture: Chore
type Chore struct {
	log    *zap.Logger
	db     jobs.Jobs
	store  storage.Store
	config Config

	Loop *sync2.Cycle
}

// NewChore creates a cleanup chore.
func NewChore(log *zap.Logger, db jobs.Jobs, store storage.Store, config Config) *Chore {
	if config.BatchSize < 1 {
		config.BatchSize = 500
	}
	return &Chore{
		log:    log,
		db:     db,
		store:  store,
		config: config,
		Loop:   sync2.NewCycle(config.Interval),
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return chore.Loop.Run(ctx, chore.RunOnce)
}

// Close stops the sweep loop.
func (chore *Chore) Close() error {
	chore.Loop.Stop()
	return nil
}

// RunOnce performs a single sweep. Per-job failures are logged and
// skipped so one stuck artifact cannot stall the chore.
func (chore *Chore) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	expired, err := chore.db.ExpiredArtifacts(ctx, time.Now().UTC(), chore.config.BatchSize)
	if err != nil {
		return Error.Wrap(err)
	}

	cleaned := 0
	for _, job := range expired {
		if err := ctx.Err(); err != nil {
			return Error.Wrap(err)
		}
		// delete is idempotent; a missing blob is not an error
		if err := chore.store.Delete(ctx, job.OutputPath); err != nil {
			chore.log.Warn("artifact delete failed",
				zap.Stringer("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := chore.db.MarkExpired(ctx, job.ID); err != nil {
			chore.log.Warn("expire transition failed",
				zap.Stringer("job_id", job.ID), zap.Error(err))
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		chore.log.Info("expired artifacts removed", zap.Int("count", cleaned))
	}
	return nil
}

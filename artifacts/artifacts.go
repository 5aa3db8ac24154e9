// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package artifacts serves download URLs for finished conversions,
// enforcing ownership and expiry.
package artifacts

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"geoconvert.io/geoconvert/geo/formats"
	"geoconvert.io/geoconvert/jobs"
	"geoconvert.io/geoconvert/storage"
)

// Error is the default error class for the artifacts package.
var Error = errs.Class("artifacts")

var mon = monkit.Package()

// urlTTL is how long a generated download URL stays valid.
const urlTTL = time.Hour

// Artifact is a ready-to-download conversion result.
type Artifact struct {
	URL       string
	Filename  string
	Size      int64
	ExpiresAt time.Time
}

// Service validates access to artifacts and mints download URLs.
//
// architecture: Service
type Service struct {
	log   *zap.Logger
	db    jobs.Jobs
	store storage.Store
}

// NewService creates an artifact service.
func NewService(log *zap.Logger, db jobs.Jobs, store storage.Store) *Service {
	return &Service{log: log, db: db, store: store}
}

// Get returns a short-lived download URL for the job's artifact. The
// checks run in order: existence, ownership, readiness, expiry.
func (service *Service) Get(ctx context.Context, userID, jobID uuid.UUID) (_ *Artifact, err error) {
	defer mon.Task()(&ctx)(&err)

	job, err := service.db.Get(ctx, jobID)
	if err != nil {
		return nil, jobs.ErrNotFound.Wrap(err)
	}
	if job.UserID != userID {
		return nil, jobs.ErrForbidden.New("job %s belongs to another user", jobID)
	}
	switch job.Status {
	case jobs.StatusSuccess:
	case jobs.StatusExpired:
		return nil, jobs.ErrExpired.New("artifact for job %s has expired", jobID)
	default:
		return nil, jobs.ErrNotReady.New("job %s is %s", jobID, job.Status)
	}
	if job.OutputPath == "" {
		return nil, jobs.ErrNotReady.New("job %s has no artifact", jobID)
	}
	if job.DownloadExpiresAt != nil && time.Now().UTC().After(*job.DownloadExpiresAt) {
		return nil, jobs.ErrExpired.New("artifact for job %s has expired", jobID)
	}

	url, err := service.store.URL(ctx, job.OutputPath, urlTTL)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	expiresAt := time.Now().UTC().Add(urlTTL)
	if job.DownloadExpiresAt != nil && job.DownloadExpiresAt.Before(expiresAt) {
		expiresAt = *job.DownloadExpiresAt
	}

	service.log.Debug("artifact url issued", zap.Stringer("job_id", jobID))
	return &Artifact{
		URL:       url,
		Filename:  DownloadFilename(job),
		Size:      job.OutputSize,
		ExpiresAt: expiresAt,
	}, nil
}

// DownloadFilename derives the client-facing artifact name:
// <stem>_converted<ext>, where multi-file outputs download as ZIP.
func DownloadFilename(job *jobs.Job) string {
	stem := strings.TrimSuffix(filepath.Base(job.OriginalFilename), filepath.Ext(job.OriginalFilename))
	if stem == "" {
		stem = job.ID.String()
	}

	ext := ".bin"
	if info, ok := formats.Lookup(job.OutputFormat); ok {
		ext = info.Extension
		if info.MultiFile {
			ext = ".zip"
		}
	}
	return stem + "_converted" + ext
}

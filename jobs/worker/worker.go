// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package worker pulls conversion jobs off the queue and runs the
// pipeline, enforcing timeouts and transient-error retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"geoconvert.io/geoconvert/internal/sync2"
	"geoconvert.io/geoconvert/jobs"
	"geoconvert.io/geoconvert/jobs/queue"
	"geoconvert.io/geoconvert/pipeline"
	"geoconvert.io/geoconvert/storage"
)

// Error is the default error class for the worker package.
var Error = errs.Class("worker")

var mon = monkit.Package()

// timeoutMessage is stored on jobs killed by the soft time limit.
const timeoutMessage = "Timeout dépassé (10 minutes). Fichier trop volumineux."

// Config holds worker settings.
type Config struct {
	MaxConcurrent int           `help:"maximum conversions processed at once" default:"2"`
	Interval      time.Duration `help:"how often to poll the queue" default:"1s"`
	SoftTimeout   time.Duration `help:"soft conversion time limit" default:"10m"`
	HardMargin    time.Duration `help:"extra time past the soft limit before abandoning" default:"30s"`
	MaxRetries    int           `help:"retries for transient errors" default:"2"`
	RetryBackoff  time.Duration `help:"pause between transient retries" default:"10s"`
	ArtifactTTL   time.Duration `help:"artifact availability window after success" default:"24h"`
	TempDir       string        `help:"scratch directory for conversions" default:""`
}

// Converter runs one conversion. Implemented by pipeline.Processor;
// tests substitute stubs.
type Converter interface {
	Process(ctx context.Context, inputPath string, opts pipeline.Options) (*pipeline.Result, error)
}

// Service is the conversion worker pool.
//
// architecture: Worker
type Service struct {
	log       *zap.Logger
	queue     queue.Queue
	db        jobs.DB
	store     storage.Store
	converter Converter
	config    Config

	Loop    *sync2.Cycle
	limiter *sync2.Limiter
}

// NewService creates a worker service.
func NewService(log *zap.Logger, q queue.Queue, db jobs.DB, store storage.Store, converter Converter, config Config) *Service {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return &Service{
		log:       log,
		queue:     q,
		db:        db,
		store:     store,
		converter: converter,
		config:    config,
		Loop:      sync2.NewCycle(config.Interval),
		limiter:   sync2.NewLimiter(config.MaxConcurrent),
	}
}

// Run restores any jobs claimed by a crashed worker and polls the
// queue until the context is canceled.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	restored, err := service.queue.RestorePending(ctx)
	if err != nil {
		service.log.Warn("could not restore claimed jobs", zap.Error(err))
	} else if restored > 0 {
		service.log.Info("restored claimed jobs", zap.Int("count", restored))
	}

	return service.Loop.Run(ctx, service.tick)
}

// Close stops the polling loop and waits for in-flight conversions.
func (service *Service) Close() error {
	service.Loop.Stop()
	service.limiter.Wait()
	return nil
}

// tick claims jobs until the queue is empty or all slots are busy.
func (service *Service) tick(ctx context.Context) error {
	for {
		jobID, err := service.queue.Claim(ctx)
		if queue.ErrEmpty.Has(err) {
			return nil
		}
		if err != nil {
			service.log.Error("claim failed", zap.Error(err))
			return nil
		}

		started := service.limiter.Go(ctx, func() {
			service.handle(ctx, jobID)
		})
		if !started {
			return nil
		}
	}
}

// handle drives one job to a terminal state and acknowledges the queue
// message afterwards, so a crash mid-way leaves the job recoverable.
func (service *Service) handle(ctx context.Context, jobID uuid.UUID) {
	log := service.log.With(zap.Stringer("job_id", jobID))

	job, err := service.db.Jobs().MarkProcessing(ctx, jobID)
	if err != nil {
		log.Error("cannot mark job processing", zap.Error(err))
		// nothing to process; drop the message
		_ = service.queue.Ack(ctx, jobID)
		return
	}

	var result *pipeline.Result
	var outputKey string
	var artifactSize int64
	for attempt := 0; ; attempt++ {
		result, outputKey, artifactSize, err = service.attempt(ctx, job)
		if err == nil || !isTransient(err) || attempt >= service.config.MaxRetries {
			break
		}
		log.Warn("transient failure, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		if !sleep(ctx, service.config.RetryBackoff) {
			break
		}
	}

	switch {
	case err == nil:
		update := jobs.SuccessUpdate{
			OutputPath:        outputKey,
			OutputSize:        artifactSize,
			FeatureCountIn:    result.Report.Summary.FeaturesInput,
			FeatureCountOut:   result.FeatureCount,
			DetectedEPSG:      result.SourceEPSG,
			GeometryType:      result.GeometryType,
			ProcessingSeconds: result.Elapsed.Seconds(),
			QualityReport:     result.Report,
			GeometryStats:     result.GeometryStats,
			AttributeStats:    result.AttributeStats,
			DownloadURL:       "/api/v1/download/" + jobID.String(),
			ExpiresAt:         time.Now().UTC().Add(service.config.ArtifactTTL),
		}
		if err := service.db.Jobs().MarkSucceeded(ctx, jobID, update); err != nil {
			log.Error("terminal success write failed", zap.Error(err))
			return // keep the message; the job will be retried
		}
		log.Info("job succeeded",
			zap.Int("features", result.FeatureCount),
			zap.Int("score", result.Report.QualityScore))

	case errors.Is(err, context.DeadlineExceeded):
		if err := service.db.Jobs().MarkFailed(ctx, jobID, timeoutMessage, ""); err != nil {
			log.Error("terminal failure write failed", zap.Error(err))
			return
		}
		log.Warn("job timed out")

	default:
		message := truncate(err.Error(), 2000)
		trace := truncate(fmt.Sprintf("%+v", err), 5000)
		if err := service.db.Jobs().MarkFailed(ctx, jobID, message, trace); err != nil {
			log.Error("terminal failure write failed", zap.Error(err))
			return
		}
		log.Warn("job failed", zap.String("error", message))
	}

	// late ack: only after the terminal transition committed
	if err := service.queue.Ack(ctx, jobID); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

// attempt runs the pipeline once under the soft and hard time limits
// and stores the output blob.
func (service *Service) attempt(ctx context.Context, job *jobs.Job) (_ *pipeline.Result, outputKey string, size int64, err error) {
	defer mon.Task()(&ctx)(&err)

	workDir, err := os.MkdirTemp(service.config.TempDir, "convert-"+job.ID.String()+"-")
	if err != nil {
		return nil, "", 0, Error.Wrap(err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	service.publishProgress(ctx, job.ID, "reading_file", 10)

	inputPath, err := service.resolveInput(ctx, job, workDir)
	if err != nil {
		return nil, "", 0, err
	}

	service.publishProgress(ctx, job.ID, "processing", 30)

	softCtx, cancel := context.WithTimeout(ctx, service.config.SoftTimeout)
	defer cancel()

	type outcome struct {
		result *pipeline.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := service.converter.Process(softCtx, inputPath, pipeline.Options{
			OutputFormat:        job.OutputFormat,
			TargetEPSG:          job.TargetEPSG,
			FixGeometries:       job.FixGeometries,
			NormalizeAttributes: job.NormalizeAttributes,
			Encoding:            job.Encoding,
			WorkDir:             workDir,
			DriverOptions:       job.DriverOptions,
		})
		done <- outcome{result, err}
	}()

	hard := time.NewTimer(service.config.SoftTimeout + service.config.HardMargin)
	defer hard.Stop()

	var result *pipeline.Result
	select {
	case out := <-done:
		if out.err != nil {
			if softCtx.Err() != nil {
				return nil, "", 0, Error.Wrap(context.DeadlineExceeded)
			}
			return nil, "", 0, out.err
		}
		result = out.result
	case <-hard.C:
		// the conversion ignored cancellation; abandon it
		return nil, "", 0, Error.Wrap(context.DeadlineExceeded)
	}

	service.publishProgress(ctx, job.ID, "saving_output", 80)

	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		return nil, "", 0, Error.Wrap(err)
	}
	// a fixed key makes the store write retry-safe
	key := "outputs/" + job.ID.String() + "/" + filepath.Base(result.OutputPath)
	storedPath, err := service.store.Put(ctx, data, key)
	if err != nil {
		return nil, "", 0, Error.Wrap(err)
	}
	return result, storedPath, int64(len(data)), nil
}

// resolveInput stages the input blob into the scratch directory.
func (service *Service) resolveInput(ctx context.Context, job *jobs.Job, workDir string) (string, error) {
	data, err := service.store.Read(ctx, job.InputPath)
	if err != nil {
		return "", Error.Wrap(err)
	}
	name := filepath.Base(job.OriginalFilename)
	if name == "" || name == "." {
		name = "input" + filepath.Ext(job.InputPath)
	}
	local := filepath.Join(workDir, name)
	if err := os.WriteFile(local, data, 0o600); err != nil {
		return "", Error.Wrap(err)
	}
	return local, nil
}

func (service *Service) publishProgress(ctx context.Context, jobID uuid.UUID, step string, percent int) {
	// best-effort: a progress failure must not fail the job
	if err := service.queue.Progress(ctx, jobID, step, percent); err != nil {
		service.log.Debug("progress publish failed",
			zap.Stringer("job_id", jobID), zap.Error(err))
	}
}

// isTransient reports whether the error looks like a connectivity
// blip worth retrying.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "connection") || strings.Contains(message, "timeout")
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

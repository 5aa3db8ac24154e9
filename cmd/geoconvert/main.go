// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"geoconvert.io/geoconvert/convertdb"
	"geoconvert.io/geoconvert/geo/formats"
	"geoconvert.io/geoconvert/jobs/cleanup"
	"geoconvert.io/geoconvert/jobs/queue"
	"geoconvert.io/geoconvert/jobs/worker"
	"geoconvert.io/geoconvert/pipeline"
	"geoconvert.io/geoconvert/storage"
	"geoconvert.io/geoconvert/storage/filestore"
	"geoconvert.io/geoconvert/storage/s3store"
)

// Config is everything the daemon needs to run.
type Config struct {
	Database string
	Redis    string

	Storage storage.Config
	Worker  worker.Config
	Cleanup cleanup.Config

	Dev bool
}

var (
	rootCmd = &cobra.Command{
		Use:   "geoconvert",
		Short: "GeoConvert conversion service",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the conversion workers and the cleanup chore",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Create the database schema and storage directories",
		RunE:  cmdSetup,
	}
	formatsCmd = &cobra.Command{
		Use:   "formats",
		Short: "List the supported conversion formats",
		RunE:  cmdFormats,
	}

	runCfg Config
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(formatsCmd)

	bindConfig(runCmd.Flags(), &runCfg)
	bindConfig(setupCmd.Flags(), &runCfg)
}

// bindConfig registers the daemon flags, defaulting from the
// environment so container deployments need no flag plumbing.
func bindConfig(flags *pflag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.Database, "database", env("GEOCONVERT_DATABASE", "sqlite3://geoconvert.db"), "database connection url (postgres:// or sqlite3://)")
	flags.StringVar(&cfg.Redis, "redis", env("GEOCONVERT_REDIS", "redis://localhost:6379"), "redis connection url for the job queue")

	flags.StringVar(&cfg.Storage.Backend, "storage.backend", env("GEOCONVERT_STORAGE_BACKEND", "local"), "storage backend: local | s3 | minio")
	flags.StringVar(&cfg.Storage.Dir, "storage.dir", env("GEOCONVERT_STORAGE_DIR", "/var/lib/geoconvert"), "base directory for the local backend")
	flags.StringVar(&cfg.Storage.DownloadURL, "storage.download-url", env("GEOCONVERT_STORAGE_DOWNLOAD_URL", "/api/v1/download/file"), "base URL for local blob retrieval")
	flags.StringVar(&cfg.Storage.Endpoint, "storage.endpoint", env("GEOCONVERT_S3_ENDPOINT", "s3.amazonaws.com"), "S3-compatible endpoint")
	flags.StringVar(&cfg.Storage.Bucket, "storage.bucket", env("GEOCONVERT_S3_BUCKET", "geoconvert"), "bucket for uploaded and converted blobs")
	flags.StringVar(&cfg.Storage.AccessKey, "storage.access-key", env("GEOCONVERT_S3_ACCESS_KEY", ""), "S3 access key")
	flags.StringVar(&cfg.Storage.SecretKey, "storage.secret-key", env("GEOCONVERT_S3_SECRET_KEY", ""), "S3 secret key")
	flags.StringVar(&cfg.Storage.Region, "storage.region", env("GEOCONVERT_S3_REGION", "eu-west-3"), "S3 region")
	flags.BoolVar(&cfg.Storage.UseSSL, "storage.use-ssl", true, "use TLS towards the S3 endpoint")

	flags.IntVar(&cfg.Worker.MaxConcurrent, "worker.max-concurrent", 2, "maximum conversions processed at once")
	flags.DurationVar(&cfg.Worker.Interval, "worker.interval", time.Second, "how often to poll the queue")
	flags.DurationVar(&cfg.Worker.SoftTimeout, "worker.soft-timeout", 10*time.Minute, "soft conversion time limit")
	flags.DurationVar(&cfg.Worker.HardMargin, "worker.hard-margin", 30*time.Second, "extra time past the soft limit before abandoning")
	flags.IntVar(&cfg.Worker.MaxRetries, "worker.max-retries", 2, "retries for transient errors")
	flags.DurationVar(&cfg.Worker.RetryBackoff, "worker.retry-backoff", 10*time.Second, "pause between transient retries")
	flags.DurationVar(&cfg.Worker.ArtifactTTL, "worker.artifact-ttl", 24*time.Hour, "artifact availability window after success")
	flags.StringVar(&cfg.Worker.TempDir, "worker.temp-dir", env("GEOCONVERT_TEMP_DIR", ""), "scratch directory for conversions")

	flags.DurationVar(&cfg.Cleanup.Interval, "cleanup.interval", time.Hour, "how often to sweep for expired artifacts")
	flags.IntVar(&cfg.Cleanup.BatchSize, "cleanup.batch-size", 500, "maximum artifacts removed per sweep")

	flags.BoolVar(&cfg.Dev, "dev", false, "use development logging")
}

func env(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func openLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(config storage.Config) (storage.Store, error) {
	switch config.Backend {
	case "local":
		return filestore.New(config.Dir, config.DownloadURL)
	case "s3", "minio":
		return s3store.New(config)
	default:
		return nil, errs.New("unknown storage backend %q", config.Backend)
	}
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := openLogger(runCfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := convertdb.Open(log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("error opening database: %+v", err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	if err := db.MigrateToLatest(ctx); err != nil {
		return errs.New("error migrating database: %+v", err)
	}

	store, err := openStore(runCfg.Storage)
	if err != nil {
		return err
	}

	jobQueue, err := queue.NewRedisQueue(runCfg.Redis)
	if err != nil {
		return errs.New("error connecting to redis: %+v", err)
	}
	defer func() { err = errs.Combine(err, jobQueue.Close()) }()

	processor := pipeline.NewProcessor(log.Named("pipeline"))
	workers := worker.NewService(log.Named("worker"), jobQueue, db, store, processor, runCfg.Worker)
	chore := cleanup.NewChore(log.Named("cleanup"), db.Jobs(), store, runCfg.Cleanup)

	log.Info("geoconvert starting",
		zap.String("storage", runCfg.Storage.Backend),
		zap.Int("workers", runCfg.Worker.MaxConcurrent))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return workers.Run(groupCtx)
	})
	group.Go(func() error {
		return chore.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return errs.Combine(workers.Close(), chore.Close())
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	log, err := openLogger(runCfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	db, err := convertdb.Open(log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("error opening database: %+v", err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	if err := db.MigrateToLatest(ctx); err != nil {
		return errs.New("error migrating database: %+v", err)
	}

	if runCfg.Storage.Backend == "local" {
		if _, err := openStore(runCfg.Storage); err != nil {
			return err
		}
	}

	log.Info("setup complete", zap.String("database", runCfg.Database))
	return nil
}

func cmdFormats(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDRIVER\tEXTENSION\tLAYOUT\tAVAILABLE")
	for _, info := range formats.Supported() {
		layout := "single-file"
		if info.MultiFile {
			layout = "multi-file"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
			info.Name, info.Driver, info.Extension, layout, info.Available)
	}
	return w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

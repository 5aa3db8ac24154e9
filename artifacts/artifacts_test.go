// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package artifacts_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"geoconvert.io/geoconvert/artifacts"
	"geoconvert.io/geoconvert/console"
	"geoconvert.io/geoconvert/convertdb"
	"geoconvert.io/geoconvert/internal/testcontext"
	"geoconvert.io/geoconvert/jobs"
	"geoconvert.io/geoconvert/storage"
	"geoconvert.io/geoconvert/storage/filestore"
)

type artifactEnv struct {
	db      *convertdb.DB
	store   storage.Store
	service *artifacts.Service
}

func newArtifactEnv(t *testing.T, ctx *testcontext.Context) *artifactEnv {
	log := zaptest.NewLogger(t)

	db, err := convertdb.Open(log, "sqlite3://"+ctx.File("db", "convert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.MigrateToLatest(ctx))

	store, err := filestore.New(ctx.Dir("blobs"), "/api/v1/download/file")
	require.NoError(t, err)

	return &artifactEnv{
		db:      db,
		store:   store,
		service: artifacts.NewService(log, db.Jobs(), store),
	}
}

func (env *artifactEnv) createUser(t *testing.T, ctx *testcontext.Context) *console.User {
	user, err := env.db.Users().Insert(ctx, &console.User{
		Email:        uuid.New().String() + "@example.com",
		PasswordHash: []byte("hash"),
		Active:       true,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, env.db.Subscriptions().Insert(ctx, &console.Subscription{
		UserID:      user.ID,
		Plan:        console.PlanFree,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}))
	return user
}

func (env *artifactEnv) createJob(t *testing.T, ctx *testcontext.Context, userID uuid.UUID, format string) *jobs.Job {
	id := uuid.New()
	job := &jobs.Job{
		ID:               id,
		UserID:           userID,
		TaskID:           id.String(),
		OriginalFilename: "cities.geojson",
		InputPath:        "uploads/" + id.String(),
		OutputFormat:     format,
		Encoding:         "UTF-8",
		Status:           jobs.StatusPending,
	}
	require.NoError(t, env.db.CreateJob(ctx, job, -1))
	return job
}

// succeed drives the job to success with a stored artifact blob.
func (env *artifactEnv) succeed(t *testing.T, ctx *testcontext.Context, job *jobs.Job, expiresAt time.Time) {
	blob, err := env.store.Put(ctx, []byte("artifact"), "outputs/"+job.ID.String()+"/out")
	require.NoError(t, err)

	_, err = env.db.Jobs().MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.Jobs().MarkSucceeded(ctx, job.ID, jobs.SuccessUpdate{
		OutputPath:      blob,
		OutputSize:      8,
		FeatureCountOut: 1,
		DownloadURL:     "/api/v1/download/" + job.ID.String(),
		ExpiresAt:       expiresAt,
	}))
}

func TestGet(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newArtifactEnv(t, ctx)
	user := env.createUser(t, ctx)

	job := env.createJob(t, ctx, user.ID, "ESRI Shapefile")
	jobExpiry := time.Now().UTC().Add(24 * time.Hour)
	env.succeed(t, ctx, job, jobExpiry)

	artifact, err := env.service.Get(ctx, user.ID, job.ID)
	require.NoError(t, err)
	assert.Contains(t, artifact.URL, "/api/v1/download/file?path=")
	// multi-file formats download as zip
	assert.Equal(t, "cities_converted.zip", artifact.Filename)
	assert.Equal(t, int64(8), artifact.Size)
	// the URL never outlives the artifact, and here the 1h URL TTL wins
	assert.True(t, artifact.ExpiresAt.Before(jobExpiry))
	assert.InDelta(t, time.Hour.Seconds(),
		time.Until(artifact.ExpiresAt).Seconds(), 60)
}

func TestGetURLCappedByArtifactExpiry(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newArtifactEnv(t, ctx)
	user := env.createUser(t, ctx)

	job := env.createJob(t, ctx, user.ID, "GPKG")
	jobExpiry := time.Now().UTC().Add(10 * time.Minute)
	env.succeed(t, ctx, job, jobExpiry)

	artifact, err := env.service.Get(ctx, user.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "cities_converted.gpkg", artifact.Filename)
	assert.True(t, artifact.ExpiresAt.Equal(jobExpiry))
}

func TestGetNotFound(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newArtifactEnv(t, ctx)
	user := env.createUser(t, ctx)

	_, err := env.service.Get(ctx, user.ID, uuid.New())
	require.True(t, jobs.ErrNotFound.Has(err))
}

func TestGetForbidden(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newArtifactEnv(t, ctx)
	owner := env.createUser(t, ctx)
	stranger := env.createUser(t, ctx)

	job := env.createJob(t, ctx, owner.ID, "GPKG")
	env.succeed(t, ctx, job, time.Now().UTC().Add(time.Hour))

	_, err := env.service.Get(ctx, stranger.ID, job.ID)
	require.True(t, jobs.ErrForbidden.Has(err))
}

func TestGetNotReady(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newArtifactEnv(t, ctx)
	user := env.createUser(t, ctx)

	pending := env.createJob(t, ctx, user.ID, "GPKG")
	_, err := env.service.Get(ctx, user.ID, pending.ID)
	require.True(t, jobs.ErrNotReady.Has(err))

	processing := env.createJob(t, ctx, user.ID, "GPKG")
	_, err = env.db.Jobs().MarkProcessing(ctx, processing.ID)
	require.NoError(t, err)
	_, err = env.service.Get(ctx, user.ID, processing.ID)
	require.True(t, jobs.ErrNotReady.Has(err))

	failed := env.createJob(t, ctx, user.ID, "GPKG")
	_, err = env.db.Jobs().MarkProcessing(ctx, failed.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.Jobs().MarkFailed(ctx, failed.ID, "boom", ""))
	_, err = env.service.Get(ctx, user.ID, failed.ID)
	require.True(t, jobs.ErrNotReady.Has(err))
}

func TestGetExpired(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newArtifactEnv(t, ctx)
	user := env.createUser(t, ctx)

	// still success, but the availability window has passed
	passed := env.createJob(t, ctx, user.ID, "GPKG")
	env.succeed(t, ctx, passed, time.Now().UTC().Add(-time.Minute))
	_, err := env.service.Get(ctx, user.ID, passed.ID)
	require.True(t, jobs.ErrExpired.Has(err))

	// already swept by the cleanup chore
	swept := env.createJob(t, ctx, user.ID, "GPKG")
	env.succeed(t, ctx, swept, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, env.db.Jobs().MarkExpired(ctx, swept.ID))
	_, err = env.service.Get(ctx, user.ID, swept.ID)
	require.True(t, jobs.ErrExpired.Has(err))
}

func TestDownloadFilename(t *testing.T) {
	base := &jobs.Job{ID: uuid.New(), OriginalFilename: "communes.zip"}

	shp := *base
	shp.OutputFormat = "ESRI Shapefile"
	assert.Equal(t, "communes_converted.zip", artifacts.DownloadFilename(&shp))

	geojson := *base
	geojson.OutputFormat = "GeoJSON"
	assert.Equal(t, "communes_converted.geojson", artifacts.DownloadFilename(&geojson))

	unknown := *base
	unknown.OutputFormat = "Raster"
	assert.Equal(t, "communes_converted.bin", artifacts.DownloadFilename(&unknown))

	nameless := *base
	nameless.OriginalFilename = ""
	nameless.OutputFormat = "GPKG"
	assert.Equal(t, nameless.ID.String()+"_converted.gpkg", artifacts.DownloadFilename(&nameless))
}

// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package cleanup_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"geoconvert.io/geoconvert/console"
	"geoconvert.io/geoconvert/convertdb"
	"geoconvert.io/geoconvert/internal/testcontext"
	"geoconvert.io/geoconvert/jobs"
	"geoconvert.io/geoconvert/jobs/cleanup"
	"geoconvert.io/geoconvert/storage"
	"geoconvert.io/geoconvert/storage/filestore"
)

type cleanupEnv struct {
	db    *convertdb.DB
	store storage.Store
	chore *cleanup.Chore
}

func newCleanupEnv(t *testing.T, ctx *testcontext.Context) *cleanupEnv {
	log := zaptest.NewLogger(t)

	db, err := convertdb.Open(log, "sqlite3://"+ctx.File("db", "convert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.MigrateToLatest(ctx))

	store, err := filestore.New(ctx.Dir("blobs"), "/api/v1/download/file")
	require.NoError(t, err)

	return &cleanupEnv{
		db:    db,
		store: store,
		chore: cleanup.NewChore(log, db.Jobs(), store, cleanup.Config{
			Interval:  time.Hour,
			BatchSize: 10,
		}),
	}
}

// succeededJob drives a fresh job to success with the given artifact
// expiry and returns it with the stored blob path.
func (env *cleanupEnv) succeededJob(t *testing.T, ctx *testcontext.Context, expiresAt time.Time) *jobs.Job {
	user, err := env.db.Users().Insert(ctx, &console.User{
		Email:        uuid.New().String() + "@example.com",
		PasswordHash: []byte("hash"),
		Active:       true,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, env.db.Subscriptions().Insert(ctx, &console.Subscription{
		UserID:      user.ID,
		Plan:        console.PlanPro,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}))

	id := uuid.New()
	job := &jobs.Job{
		ID:               id,
		UserID:           user.ID,
		TaskID:           id.String(),
		OriginalFilename: "cities.geojson",
		InputPath:        "uploads/" + id.String(),
		OutputFormat:     "GPKG",
		Encoding:         "UTF-8",
		Status:           jobs.StatusPending,
	}
	require.NoError(t, env.db.CreateJob(ctx, job, -1))

	blob, err := env.store.Put(ctx, []byte("artifact"), "outputs/"+id.String()+"/cities.gpkg")
	require.NoError(t, err)

	_, err = env.db.Jobs().MarkProcessing(ctx, id)
	require.NoError(t, err)
	require.NoError(t, env.db.Jobs().MarkSucceeded(ctx, id, jobs.SuccessUpdate{
		OutputPath:      blob,
		OutputSize:      8,
		FeatureCountOut: 1,
		DownloadURL:     "/api/v1/download/" + id.String(),
		ExpiresAt:       expiresAt,
	}))

	job, err = env.db.Jobs().Get(ctx, id)
	require.NoError(t, err)
	return job
}

func TestRunOnceRemovesExpired(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newCleanupEnv(t, ctx)

	now := time.Now().UTC()
	expired := env.succeededJob(t, ctx, now.Add(-time.Hour))
	fresh := env.succeededJob(t, ctx, now.Add(time.Hour))

	require.NoError(t, env.chore.RunOnce(ctx))

	// the expired artifact blob is gone and the row flipped to expired
	_, err := env.store.Read(ctx, expired.OutputPath)
	require.Error(t, err)

	updated, err := env.db.Jobs().Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusExpired, updated.Status)
	assert.Empty(t, updated.OutputPath)
	// the report and counters survive expiry
	assert.Equal(t, "/api/v1/download/"+expired.ID.String(), updated.DownloadURL)

	// the fresh artifact is untouched
	data, err := env.store.Read(ctx, fresh.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)

	untouched, err := env.db.Jobs().Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, untouched.Status)
}

func TestRunOnceIdempotent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newCleanupEnv(t, ctx)

	expired := env.succeededJob(t, ctx, time.Now().UTC().Add(-time.Hour))

	require.NoError(t, env.chore.RunOnce(ctx))
	require.NoError(t, env.chore.RunOnce(ctx))

	updated, err := env.db.Jobs().Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusExpired, updated.Status)
}

func TestRunOnceToleratesMissingBlob(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newCleanupEnv(t, ctx)

	expired := env.succeededJob(t, ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, env.store.Delete(ctx, expired.OutputPath))

	// delete is idempotent, so the sweep still expires the row
	require.NoError(t, env.chore.RunOnce(ctx))

	updated, err := env.db.Jobs().Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusExpired, updated.Status)
}

func TestRunOnceEmpty(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	env := newCleanupEnv(t, ctx)

	require.NoError(t, env.chore.RunOnce(ctx))
}

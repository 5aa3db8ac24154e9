// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package convertdb_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"geoconvert.io/geoconvert/console"
	"geoconvert.io/geoconvert/convertdb"
	"geoconvert.io/geoconvert/geo/quality"
	"geoconvert.io/geoconvert/internal/testcontext"
	"geoconvert.io/geoconvert/jobs"
)

func openTestDB(t *testing.T, ctx *testcontext.Context) *convertdb.DB {
	db, err := convertdb.Open(zaptest.NewLogger(t), "sqlite3://"+ctx.File("db", "convert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.MigrateToLatest(ctx))
	return db
}

func createUser(t *testing.T, ctx *testcontext.Context, db *convertdb.DB, plan console.PlanType) *console.User {
	user, err := db.Users().Insert(ctx, &console.User{
		Email:        uuid.New().String() + "@example.com",
		PasswordHash: []byte("hash"),
		FullName:     "Test User",
		Active:       true,
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Subscriptions().Insert(ctx, &console.Subscription{
		UserID:      user.ID,
		Plan:        plan,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}))
	return user
}

func newJob(userID uuid.UUID) *jobs.Job {
	id := uuid.New()
	return &jobs.Job{
		ID:               id,
		UserID:           userID,
		TaskID:           id.String(),
		OriginalFilename: "cities.geojson",
		InputPath:        "/tmp/cities.geojson",
		InputSize:        1024,
		OutputFormat:     "GPKG",
		FixGeometries:    true,
		Encoding:         "UTF-8",
		Status:           jobs.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestUsers(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	created, err := db.Users().Insert(ctx, &console.User{
		Email:        "User@Example.COM",
		PasswordHash: []byte("secret"),
		FullName:     "Jean Dupont",
		Active:       true,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	got, err := db.Users().Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.Email)
	assert.Equal(t, []byte("secret"), got.PasswordHash)

	byEmail, err := db.Users().GetByEmail(ctx, "  USER@example.com ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = db.Users().Get(ctx, uuid.New())
	require.True(t, console.ErrNoUser.Has(err))

	got.FullName = "Jeanne Dupont"
	require.NoError(t, db.Users().Update(ctx, got))
	updated, err := db.Users().Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jeanne Dupont", updated.FullName)

	require.NoError(t, db.Users().Delete(ctx, created.ID))
	_, err = db.Users().Get(ctx, created.ID)
	require.Error(t, err)
}

func TestSubscriptions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanStarter)

	sub, err := db.Subscriptions().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, console.PlanStarter, sub.Plan)
	assert.Zero(t, sub.ConversionsUsed)

	sub.Plan = console.PlanPro
	sub.ConversionsUsed = 7
	require.NoError(t, db.Subscriptions().Update(ctx, sub))

	got, err := db.Subscriptions().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, console.PlanPro, got.Plan)
	assert.Equal(t, 7, got.ConversionsUsed)

	_, err = db.Subscriptions().Get(ctx, uuid.New())
	require.Error(t, err)
}

func TestCreateJobEnforcesQuota(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanFree)
	limit := console.PlanFree.ConversionLimit()

	for i := 0; i < limit; i++ {
		require.NoError(t, db.CreateJob(ctx, newJob(user.ID), limit))
	}

	err := db.CreateJob(ctx, newJob(user.ID), limit)
	require.True(t, jobs.ErrQuotaExhausted.Has(err))

	sub, err := db.Subscriptions().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, sub.ConversionsUsed)

	// the rejected job must not exist
	list, total, err := db.Jobs().ListByUser(ctx, user.ID, "", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, limit, total)
	assert.Len(t, list, limit)
}

func TestCreateJobUnlimited(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanEnterprise)
	for i := 0; i < 10; i++ {
		require.NoError(t, db.CreateJob(ctx, newJob(user.ID), -1))
	}
}

func TestCreateJobPeriodRollover(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanFree)

	// exhaust the quota in a period that ended last month
	sub, err := db.Subscriptions().Get(ctx, user.ID)
	require.NoError(t, err)
	sub.ConversionsUsed = 5
	sub.PeriodStart = time.Now().UTC().AddDate(0, -2, 0)
	sub.PeriodEnd = time.Now().UTC().AddDate(0, -1, 0)
	require.NoError(t, db.Subscriptions().Update(ctx, sub))

	require.NoError(t, db.CreateJob(ctx, newJob(user.ID), 5))

	rolled, err := db.Subscriptions().Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rolled.ConversionsUsed)
	assert.True(t, rolled.PeriodEnd.After(time.Now().UTC()))
}

func TestJobLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanPro)
	job := newJob(user.ID)
	job.DriverOptions = map[string]string{"layer_name": "communes"}
	require.NoError(t, db.CreateJob(ctx, job, -1))

	got, err := db.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, got.Status)
	assert.Equal(t, "communes", got.DriverOptions["layer_name"])
	assert.Nil(t, got.StartedAt)

	processing, err := db.Jobs().MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, processing.Status)
	require.NotNil(t, processing.StartedAt)

	// pending -> processing only works once
	_, err = db.Jobs().MarkProcessing(ctx, job.ID)
	require.Error(t, err)

	expires := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	update := jobs.SuccessUpdate{
		OutputPath:        "/blobs/outputs/x.gpkg",
		OutputSize:        2048,
		FeatureCountIn:    10,
		FeatureCountOut:   9,
		DetectedEPSG:      4326,
		GeometryType:      "Point",
		ProcessingSeconds: 1.25,
		QualityReport:     &quality.Report{QualityScore: 92, QualityGrade: "A"},
		DownloadURL:       "/api/v1/download/" + job.ID.String(),
		ExpiresAt:         expires,
	}
	require.NoError(t, db.Jobs().MarkSucceeded(ctx, job.ID, update))

	done, err := db.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, done.Status)
	assert.Equal(t, int64(2048), done.OutputSize)
	assert.Equal(t, 9, done.FeatureCountOut)
	require.NotNil(t, done.QualityReport)
	assert.Equal(t, 92, done.QualityReport.QualityScore)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.DownloadExpiresAt)

	// success is terminal for the worker transitions
	require.Error(t, db.Jobs().MarkFailed(ctx, job.ID, "late failure", ""))
}

func TestMarkFailed(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanPro)
	job := newJob(user.ID)
	require.NoError(t, db.CreateJob(ctx, job, -1))
	_, err := db.Jobs().MarkProcessing(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, db.Jobs().MarkFailed(ctx, job.ID, "Timeout dépassé (10 minutes). Fichier trop volumineux.", "trace"))

	got, err := db.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "Timeout")
	require.NotNil(t, got.CompletedAt)
}

func TestListByUser(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanPro)
	other := createUser(t, ctx, db, console.PlanPro)

	for i := 0; i < 3; i++ {
		job := newJob(user.ID)
		job.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.CreateJob(ctx, job, -1))
	}
	require.NoError(t, db.CreateJob(ctx, newJob(other.ID), -1))

	list, total, err := db.Jobs().ListByUser(ctx, user.ID, "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	// newest first
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt) || list[0].CreatedAt.Equal(list[1].CreatedAt))

	filtered, total, err := db.Jobs().ListByUser(ctx, user.ID, jobs.StatusFailed, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, filtered)
}

func TestExpiredArtifacts(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	db := openTestDB(t, ctx)

	user := createUser(t, ctx, db, console.PlanPro)

	expired := newJob(user.ID)
	require.NoError(t, db.CreateJob(ctx, expired, -1))
	_, err := db.Jobs().MarkProcessing(ctx, expired.ID)
	require.NoError(t, err)
	require.NoError(t, db.Jobs().MarkSucceeded(ctx, expired.ID, jobs.SuccessUpdate{
		OutputPath: "/blobs/outputs/old.gpkg",
		ExpiresAt:  time.Now().UTC().Add(-time.Hour),
	}))

	fresh := newJob(user.ID)
	require.NoError(t, db.CreateJob(ctx, fresh, -1))
	_, err = db.Jobs().MarkProcessing(ctx, fresh.ID)
	require.NoError(t, err)
	require.NoError(t, db.Jobs().MarkSucceeded(ctx, fresh.ID, jobs.SuccessUpdate{
		OutputPath: "/blobs/outputs/new.gpkg",
		ExpiresAt:  time.Now().UTC().Add(24 * time.Hour),
	}))

	list, err := db.Jobs().ExpiredArtifacts(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)

	require.NoError(t, db.Jobs().MarkExpired(ctx, expired.ID))

	got, err := db.Jobs().Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusExpired, got.Status)
	assert.Empty(t, got.OutputPath)

	// the swept job no longer matches
	list, err = db.Jobs().ExpiredArtifacts(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	assert.Empty(t, list)
}

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/testutil"
)

func TestEnqueueCreatesJob(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	videoID := models.NewULID()
	job, err := repo.Enqueue(ctx, models.NewEncodeJob(videoID, "raw/x.mp4"))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusWaiting, job.Status)
	assert.Equal(t, models.EncodeJobKey(videoID), job.JobKey)
}

func TestEnqueueRefreshesQueuedJob(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	videoID := models.NewULID()
	first, err := repo.Enqueue(ctx, models.NewRetryJob(videoID, models.Quality720p, "raw/x.mp4", 1))
	require.NoError(t, err)

	second, err := repo.Enqueue(ctx, models.NewRetryJob(videoID, models.Quality720p, "raw/x.mp4", 2))
	require.NoError(t, err)

	// Same row, refreshed payload.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.QualityRetryCount)

	var count int64
	require.NoError(t, db.Model(&models.EncodeJob{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEnqueueAbsorbedWhileActive(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	videoID := models.NewULID()
	_, err := repo.Enqueue(ctx, models.NewRetryJob(videoID, models.Quality480p, "raw/x.mp4", 1))
	require.NoError(t, err)

	active, err := repo.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, active)

	absorbed, err := repo.Enqueue(ctx, models.NewRetryJob(videoID, models.Quality480p, "raw/x.mp4", 2))
	require.NoError(t, err)
	assert.Equal(t, active.ID, absorbed.ID)
	assert.Equal(t, models.JobStatusActive, absorbed.Status)
	// Payload of the running job is untouched.
	assert.Equal(t, 1, absorbed.QualityRetryCount)
}

func TestEnqueueRecyclesFinishedRow(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	videoID := models.NewULID()
	first, err := repo.Enqueue(ctx, models.NewEncodeJob(videoID, "raw/x.mp4"))
	require.NoError(t, err)

	first.MarkActive("worker-1")
	first.MarkCompleted()
	require.NoError(t, repo.Update(ctx, first))

	second, err := repo.Enqueue(ctx, models.NewEncodeJob(videoID, "raw/x.mp4"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.JobStatusWaiting, second.Status)
	assert.Zero(t, second.AttemptCount)
	assert.Nil(t, second.StartedAt)
	assert.Nil(t, second.CompletedAt)
	assert.Empty(t, second.LastError)
}

func TestAcquireOrdersByPriority(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	videoID := models.NewULID()
	_, err := repo.Enqueue(ctx, models.NewRetryJob(videoID, models.Quality1080p, "raw/x.mp4", 1))
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, models.NewRetryJob(videoID, models.Quality360p, "raw/x.mp4", 1))
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, models.NewRetryJob(videoID, models.Quality720p, "raw/x.mp4", 1))
	require.NoError(t, err)

	var got []models.QualityName
	for i := 0; i < 3; i++ {
		job, err := repo.Acquire(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, job)
		got = append(got, job.QualityName)
	}

	assert.Equal(t, []models.QualityName{models.Quality360p, models.Quality720p, models.Quality1080p}, got)

	// Queue drained.
	job, err := repo.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestAcquireSkipsFutureDelayedJobs(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/x.mp4"))
	require.NoError(t, err)

	future := models.Now().Add(time.Hour)
	job.Status = models.JobStatusDelayed
	job.NextRunAt = &future
	require.NoError(t, repo.Update(ctx, job))

	got, err := repo.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	past := models.Now().Add(-time.Minute)
	job.NextRunAt = &past
	require.NoError(t, repo.Update(ctx, job))

	got, err = repo.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusActive, got.Status)
	assert.Equal(t, "worker-1", got.LockedBy)
}

func TestCancelRejectsActiveJob(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	queued, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/x.mp4"))
	require.NoError(t, err)
	require.NoError(t, repo.Cancel(ctx, queued.ID))

	cancelled, err := repo.GetByID(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	active, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/y.mp4"))
	require.NoError(t, err)
	_, err = repo.Acquire(ctx, "worker-1")
	require.NoError(t, err)

	err = repo.Cancel(ctx, active.ID)
	assert.True(t, models.IsValidation(err))
}

func TestCancelMissingJob(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)

	err := repo.Cancel(context.Background(), models.NewULID())
	assert.True(t, models.IsNotFound(err))
}

func TestReleaseReturnsJobWithoutConsumingAttempt(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/x.mp4"))
	require.NoError(t, err)

	active, err := repo.Acquire(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, 1, active.AttemptCount)

	require.NoError(t, repo.Release(ctx, active.ID))

	released, err := repo.GetByID(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, released.Status)
	assert.Empty(t, released.LockedBy)
	assert.Zero(t, released.AttemptCount)
}

func TestDepthGroupsByStatus(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/a.mp4"))
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/b.mp4"))
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, models.NewRetryJob(models.NewULID(), models.Quality360p, "raw/c.mp4", 1))
	require.NoError(t, err)

	depth, err := repo.Depth(ctx, models.JobTypeVideoEncode)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth[models.JobStatusWaiting])

	depth, err = repo.Depth(ctx, models.JobTypeQualityRetry)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth[models.JobStatusWaiting])
}

func TestDeleteFinished(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	old, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/a.mp4"))
	require.NoError(t, err)
	old.MarkActive("worker-1")
	old.MarkCompleted()
	past := models.Now().Add(-48 * time.Hour)
	old.CompletedAt = &past
	require.NoError(t, repo.Update(ctx, old))

	fresh, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/b.mp4"))
	require.NoError(t, err)
	fresh.MarkActive("worker-1")
	fresh.AttemptCount = fresh.MaxAttempts
	fresh.RecordFailure(errors.New("boom"))
	require.NoError(t, repo.Update(ctx, fresh))
	require.Equal(t, models.JobStatusFailed, fresh.Status)

	deleted, err := repo.DeleteFinished(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	gone, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
}

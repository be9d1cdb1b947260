package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/testutil"
)

func acquireOne(t *testing.T, repo repository.JobRepository) *models.EncodeJob {
	t.Helper()
	job, err := repo.Acquire(context.Background(), "test-worker")
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestExecutorCompletesJob(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewJobRepository(db)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/x.mp4"))
	require.NoError(t, err)

	var handled []string
	exec := NewExecutor(repo)
	exec.RegisterHandler(models.JobTypeVideoEncode, JobHandlerFunc(func(ctx context.Context, job *models.EncodeJob) error {
		handled = append(handled, job.JobKey)
		return nil
	}))

	job := acquireOne(t, repo)
	require.NoError(t, exec.Execute(ctx, job))

	assert.Len(t, handled, 1)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Empty(t, got.LockedBy)
	assert.NotNil(t, got.CompletedAt)
}

func TestExecutorDelaysFailedJob(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewJobRepository(db)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/x.mp4"))
	require.NoError(t, err)

	exec := NewExecutor(repo)
	exec.RegisterHandler(models.JobTypeVideoEncode, JobHandlerFunc(func(ctx context.Context, job *models.EncodeJob) error {
		return errors.New("encode blew up")
	}))

	job := acquireOne(t, repo)
	require.NoError(t, exec.Execute(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDelayed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotNil(t, got.NextRunAt)
	assert.Equal(t, "encode blew up", got.LastError)
}

func TestExecutorFailsJobAfterMaxAttempts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewJobRepository(db)
	ctx := context.Background()

	queued, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/x.mp4"))
	require.NoError(t, err)

	exec := NewExecutor(repo)
	exec.RegisterHandler(models.JobTypeVideoEncode, JobHandlerFunc(func(ctx context.Context, job *models.EncodeJob) error {
		return errors.New("encode blew up")
	}))

	job := acquireOne(t, repo)
	job.AttemptCount = job.MaxAttempts
	require.NoError(t, exec.Execute(ctx, job))

	got, err := repo.GetByID(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestExecutorRejectsUnknownJobType(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewJobRepository(db)
	ctx := context.Background()

	_, err := repo.Enqueue(ctx, models.NewEncodeJob(models.NewULID(), "raw/x.mp4"))
	require.NoError(t, err)

	exec := NewExecutor(repo)

	job := acquireOne(t, repo)
	err = exec.Execute(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDelayed, got.Status)
}

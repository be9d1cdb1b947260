package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/testutil"
)

func TestUpsertBatchPreservesExistingRows(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVideoQualityRepository(db)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	video := testutil.NewTestVideo(t, db, user.ID, models.VideoStatusProcessing)

	existing := testutil.NewTestQuality(t, db, video.ID, models.Quality360p, models.QualityStatusReady)
	require.NoError(t, db.Model(existing).Update("retry_count", 2).Error)

	batch := []*models.VideoQuality{
		models.NewVideoQuality(video.ID, models.Quality360p),
		models.NewVideoQuality(video.ID, models.Quality720p),
	}
	require.NoError(t, repo.UpsertBatch(ctx, batch))

	qualities, err := repo.GetByVideoID(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, qualities, 2)

	// The pre-existing 360p row kept its status and retry state.
	assert.Equal(t, models.Quality360p, qualities[0].QualityName)
	assert.Equal(t, models.QualityStatusReady, qualities[0].Status)
	assert.Equal(t, 2, qualities[0].RetryCount)

	assert.Equal(t, models.Quality720p, qualities[1].QualityName)
	assert.Equal(t, models.QualityStatusPending, qualities[1].Status)
}

func TestGetByVideoIDTierOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVideoQualityRepository(db)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	video := testutil.NewTestVideo(t, db, user.ID, models.VideoStatusProcessing)

	testutil.NewTestQuality(t, db, video.ID, models.Quality1080p, models.QualityStatusPending)
	testutil.NewTestQuality(t, db, video.ID, models.Quality360p, models.QualityStatusPending)
	testutil.NewTestQuality(t, db, video.ID, models.Quality480p, models.QualityStatusPending)

	qualities, err := repo.GetByVideoID(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, qualities, 3)
	assert.Equal(t, models.Quality360p, qualities[0].QualityName)
	assert.Equal(t, models.Quality480p, qualities[1].QualityName)
	assert.Equal(t, models.Quality1080p, qualities[2].QualityName)
}

func TestGetReadyForRetry(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVideoQualityRepository(db)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	video := testutil.NewTestVideo(t, db, user.ID, models.VideoStatusProcessing)

	retryable1080 := testutil.NewTestQuality(t, db, video.ID, models.Quality1080p, models.QualityStatusFailed)
	require.NoError(t, db.Model(retryable1080).Update("retry_count", 1).Error)

	retryable360 := testutil.NewTestQuality(t, db, video.ID, models.Quality360p, models.QualityStatusFailed)
	require.NoError(t, db.Model(retryable360).Update("retry_count", 2).Error)

	exhausted := testutil.NewTestQuality(t, db, video.ID, models.Quality720p, models.QualityStatusFailed)
	require.NoError(t, db.Model(exhausted).Update("retry_count", models.MaxQualityRetries).Error)

	testutil.NewTestQuality(t, db, video.ID, models.Quality480p, models.QualityStatusReady)

	qualities, err := repo.GetReadyForRetry(ctx, models.MaxQualityRetries)
	require.NoError(t, err)
	require.Len(t, qualities, 2)

	// Cheapest tier first; exhausted and ready rows excluded.
	assert.Equal(t, models.Quality360p, qualities[0].QualityName)
	assert.Equal(t, models.Quality1080p, qualities[1].QualityName)
}

func TestIncrementRetryCount(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVideoQualityRepository(db)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	video := testutil.NewTestVideo(t, db, user.ID, models.VideoStatusProcessing)
	quality := testutil.NewTestQuality(t, db, video.ID, models.Quality720p, models.QualityStatusFailed)

	count, err := repo.IncrementRetryCount(ctx, quality.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.IncrementRetryCount(ctx, quality.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = repo.IncrementRetryCount(ctx, models.NewULID())
	assert.True(t, models.IsNotFound(err))
}

func TestHasMinimumQualities(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVideoQualityRepository(db)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	video := testutil.NewTestVideo(t, db, user.ID, models.VideoStatusProcessing)

	testutil.NewTestQuality(t, db, video.ID, models.Quality360p, models.QualityStatusReady)
	testutil.NewTestQuality(t, db, video.ID, models.Quality720p, models.QualityStatusFailed)

	ok, err := repo.HasMinimumQualities(ctx, video.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasMinimumQualities(ctx, video.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountByStatus(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewVideoQualityRepository(db)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	video := testutil.NewTestVideo(t, db, user.ID, models.VideoStatusProcessing)

	testutil.NewTestQuality(t, db, video.ID, models.Quality360p, models.QualityStatusReady)
	testutil.NewTestQuality(t, db, video.ID, models.Quality480p, models.QualityStatusReady)
	testutil.NewTestQuality(t, db, video.ID, models.Quality720p, models.QualityStatusFailed)

	counts, err := repo.CountByStatus(ctx, video.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[models.QualityStatusReady])
	assert.EqualValues(t, 1, counts[models.QualityStatusFailed])
}

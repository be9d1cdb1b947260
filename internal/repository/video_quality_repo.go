package repository

import (
	"context"
	"fmt"

	"github.com/vodarr/vodarr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// videoQualityRepo implements VideoQualityRepository using GORM.
type videoQualityRepo struct {
	db *gorm.DB
}

// NewVideoQualityRepository creates a new VideoQualityRepository.
func NewVideoQualityRepository(db *gorm.DB) *videoQualityRepo {
	return &videoQualityRepo{db: db}
}

// CreateBatch creates multiple rendition rows in a single batch.
func (r *videoQualityRepo) CreateBatch(ctx context.Context, qualities []*models.VideoQuality) error {
	if len(qualities) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(qualities).Error; err != nil {
		return fmt.Errorf("creating quality batch: %w", err)
	}
	return nil
}

// UpsertBatch creates rendition rows, ignoring conflicts on
// (video_id, quality_name). A re-delivered whole-video job therefore never
// duplicates rows nor resets the status or retry state of existing ones.
func (r *videoQualityRepo) UpsertBatch(ctx context.Context, qualities []*models.VideoQuality) error {
	if len(qualities) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "video_id"}, {Name: "quality_name"}},
			DoNothing: true,
		}).
		Create(qualities).Error; err != nil {
		return fmt.Errorf("upserting quality batch: %w", err)
	}
	return nil
}

// GetByVideoID retrieves all rendition rows for a video in tier order.
func (r *videoQualityRepo) GetByVideoID(ctx context.Context, videoID models.ULID) ([]models.VideoQuality, error) {
	var qualities []models.VideoQuality
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("retry_priority ASC").
		Find(&qualities).Error; err != nil {
		return nil, fmt.Errorf("getting qualities by video: %w", err)
	}
	return qualities, nil
}

// GetByVideoAndName retrieves one rendition row.
func (r *videoQualityRepo) GetByVideoAndName(ctx context.Context, videoID models.ULID, name models.QualityName) (*models.VideoQuality, error) {
	var quality models.VideoQuality
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND quality_name = ?", videoID, name).
		First(&quality).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting quality by video and name: %w", err)
	}
	return &quality, nil
}

// GetByStatus retrieves rendition rows with a given status.
func (r *videoQualityRepo) GetByStatus(ctx context.Context, status models.QualityStatus) ([]models.VideoQuality, error) {
	var qualities []models.VideoQuality
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("retry_priority ASC, created_at ASC").
		Find(&qualities).Error; err != nil {
		return nil, fmt.Errorf("getting qualities by status: %w", err)
	}
	return qualities, nil
}

// GetReadyForRetry retrieves failed renditions with retry budget left,
// cheapest tier first.
func (r *videoQualityRepo) GetReadyForRetry(ctx context.Context, maxRetries int) ([]models.VideoQuality, error) {
	var qualities []models.VideoQuality
	if err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", models.QualityStatusFailed, maxRetries).
		Order("retry_priority ASC, created_at ASC").
		Find(&qualities).Error; err != nil {
		return nil, fmt.Errorf("getting qualities ready for retry: %w", err)
	}
	return qualities, nil
}

// Update updates an existing rendition row.
func (r *videoQualityRepo) Update(ctx context.Context, quality *models.VideoQuality) error {
	if err := r.db.WithContext(ctx).Save(quality).Error; err != nil {
		return fmt.Errorf("updating quality: %w", err)
	}
	return nil
}

// IncrementRetryCount atomically increments a rendition's retry count and
// returns the new value. The single-row UPDATE keeps concurrent retry
// workers from both observing the same pre-increment count.
func (r *videoQualityRepo) IncrementRetryCount(ctx context.Context, id models.ULID) (int, error) {
	result := r.db.WithContext(ctx).Model(&models.VideoQuality{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("incrementing retry count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, models.NewNotFoundError(fmt.Sprintf("quality not found: %s", id))
	}

	var quality models.VideoQuality
	if err := r.db.WithContext(ctx).Select("retry_count").Where("id = ?", id).First(&quality).Error; err != nil {
		return 0, fmt.Errorf("reading retry count: %w", err)
	}
	return quality.RetryCount, nil
}

// HasMinimumQualities reports whether at least minReady renditions are ready.
func (r *videoQualityRepo) HasMinimumQualities(ctx context.Context, videoID models.ULID, minReady int) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.VideoQuality{}).
		Where("video_id = ? AND status = ?", videoID, models.QualityStatusReady).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("counting ready qualities: %w", err)
	}
	return count >= int64(minReady), nil
}

// CountByStatus counts renditions of a video per status.
func (r *videoQualityRepo) CountByStatus(ctx context.Context, videoID models.ULID) (map[models.QualityStatus]int64, error) {
	type row struct {
		Status models.QualityStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.VideoQuality{}).
		Select("status, count(*) as count").
		Where("video_id = ?", videoID).
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting qualities by status: %w", err)
	}

	counts := make(map[models.QualityStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vodarr/vodarr/internal/models"
	"gorm.io/gorm"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// Create creates a new video record.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a non-deleted video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// GetByIDIncludeDeleted retrieves a video by ID including soft-deleted rows.
func (r *videoRepo) GetByIDIncludeDeleted(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video including deleted: %w", err)
	}
	return &video, nil
}

// GetByStatus retrieves videos with a given status.
func (r *videoRepo) GetByStatus(ctx context.Context, status models.VideoStatus) ([]*models.Video, error) {
	var videos []*models.Video
	if err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting videos by status: %w", err)
	}
	return videos, nil
}

// GetPendingProcessing retrieves videos stuck in processing.
func (r *videoRepo) GetPendingProcessing(ctx context.Context) ([]*models.Video, error) {
	return r.GetByStatus(ctx, models.VideoStatusProcessing)
}

// GetFailedForRetry retrieves failed videos whose retry count is below max.
func (r *videoRepo) GetFailedForRetry(ctx context.Context, maxRetries int) ([]*models.Video, error) {
	var videos []*models.Video
	if err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", models.VideoStatusFailed, maxRetries).
		Order("created_at ASC").
		Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting failed videos for retry: %w", err)
	}
	return videos, nil
}

// GetDeletedOlderThan retrieves soft-deleted videos whose deletion timestamp
// is before the cutoff, oldest first, capped at limit.
func (r *videoRepo) GetDeletedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	query := r.db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Order("deleted_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("getting expired deleted videos: %w", err)
	}
	return videos, nil
}

// Update updates an existing video.
func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

// UpdateGuarded writes the full video row only while its stored status still
// matches expected. A settle racing another settle of the same video loses
// this guard instead of clobbering the winner's row.
func (r *videoRepo) UpdateGuarded(ctx context.Context, video *models.Video, expected models.VideoStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("id = ? AND status = ?", video.ID, expected).
		Select("*").Omit("id", "created_at", "deleted_at").
		Updates(video)
	if result.Error != nil {
		return false, fmt.Errorf("updating video with status guard: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateStatus updates only the status and last error of a video.
func (r *videoRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.VideoStatus, lastError string) error {
	result := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
		})
	if result.Error != nil {
		return fmt.Errorf("updating video status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError(fmt.Sprintf("video not found: %s", id))
	}
	return nil
}

// SoftDelete soft-deletes a video. Its quality rows stay in place until the
// trash sweep hard-deletes the video.
func (r *videoRepo) SoftDelete(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Video{})
	if result.Error != nil {
		return fmt.Errorf("soft-deleting video: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError(fmt.Sprintf("video not found: %s", id))
	}
	return nil
}

// Restore reverses a soft delete.
func (r *videoRepo) Restore(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Unscoped().Model(&models.Video{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if result.Error != nil {
		return fmt.Errorf("restoring video: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError(fmt.Sprintf("deleted video not found: %s", id))
	}
	return nil
}

// HardDelete permanently deletes a video and cascades to its quality rows.
// SQLite does not always enforce the FK cascade through GORM, so the quality
// rows are removed explicitly in the same transaction.
func (r *videoRepo) HardDelete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&models.VideoQuality{}).Error; err != nil {
			return fmt.Errorf("deleting video qualities: %w", err)
		}
		if err := tx.Unscoped().Where("id = ?", id).Delete(&models.Video{}).Error; err != nil {
			return fmt.Errorf("hard-deleting video: %w", err)
		}
		return nil
	})
}

// CountByUser counts non-deleted videos owned by a user.
func (r *videoRepo) CountByUser(ctx context.Context, userID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting videos by user: %w", err)
	}
	return count, nil
}

// ExistsByRawPath reports whether a non-deleted video references a raw key.
func (r *videoRepo) ExistsByRawPath(ctx context.Context, rawPath string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Video{}).
		Where("raw_file_path = ?", rawPath).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking raw path reference: %w", err)
	}
	return count > 0, nil
}

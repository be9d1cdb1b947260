// Package repository defines data access interfaces for vodarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/vodarr/vodarr/internal/models"
)

// VideoRepository defines operations for video persistence.
type VideoRepository interface {
	// Create creates a new video record.
	Create(ctx context.Context, video *models.Video) error
	// GetByID retrieves a non-deleted video by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)
	// GetByIDIncludeDeleted retrieves a video by ID including soft-deleted rows.
	GetByIDIncludeDeleted(ctx context.Context, id models.ULID) (*models.Video, error)
	// GetByStatus retrieves videos with a given status.
	GetByStatus(ctx context.Context, status models.VideoStatus) ([]*models.Video, error)
	// GetPendingProcessing retrieves videos stuck in processing.
	GetPendingProcessing(ctx context.Context) ([]*models.Video, error)
	// GetFailedForRetry retrieves failed videos whose retry count is below max.
	GetFailedForRetry(ctx context.Context, maxRetries int) ([]*models.Video, error)
	// GetDeletedOlderThan retrieves soft-deleted videos whose deletion
	// timestamp is before the cutoff, capped at limit.
	GetDeletedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Video, error)
	// Update updates an existing video.
	Update(ctx context.Context, video *models.Video) error
	// UpdateGuarded writes the full video row only while its stored status
	// still matches expected. Returns false, without writing, when another
	// writer changed the status first.
	UpdateGuarded(ctx context.Context, video *models.Video, expected models.VideoStatus) (bool, error)
	// UpdateStatus updates only the status and last error of a video.
	UpdateStatus(ctx context.Context, id models.ULID, status models.VideoStatus, lastError string) error
	// SoftDelete soft-deletes a video.
	SoftDelete(ctx context.Context, id models.ULID) error
	// Restore reverses a soft delete.
	Restore(ctx context.Context, id models.ULID) error
	// HardDelete permanently deletes a video and its quality rows.
	HardDelete(ctx context.Context, id models.ULID) error
	// CountByUser counts non-deleted videos owned by a user.
	CountByUser(ctx context.Context, userID models.ULID) (int64, error)
	// ExistsByRawPath reports whether a non-deleted video references the
	// given raw object key.
	ExistsByRawPath(ctx context.Context, rawPath string) (bool, error)
}

// VideoQualityRepository defines operations for per-rendition persistence.
type VideoQualityRepository interface {
	// CreateBatch creates multiple rendition rows in a single batch.
	CreateBatch(ctx context.Context, qualities []*models.VideoQuality) error
	// UpsertBatch creates or refreshes rendition rows, idempotent on
	// (video_id, quality_name). Existing rows keep their status and retry
	// state so a re-delivered whole-video job never resets progress.
	UpsertBatch(ctx context.Context, qualities []*models.VideoQuality) error
	// GetByVideoID retrieves all rendition rows for a video.
	GetByVideoID(ctx context.Context, videoID models.ULID) ([]models.VideoQuality, error)
	// GetByVideoAndName retrieves one rendition row.
	GetByVideoAndName(ctx context.Context, videoID models.ULID, name models.QualityName) (*models.VideoQuality, error)
	// GetByStatus retrieves rendition rows with a given status.
	GetByStatus(ctx context.Context, status models.QualityStatus) ([]models.VideoQuality, error)
	// GetReadyForRetry retrieves failed renditions with retry budget left,
	// ordered by ascending retry priority.
	GetReadyForRetry(ctx context.Context, maxRetries int) ([]models.VideoQuality, error)
	// Update updates an existing rendition row.
	Update(ctx context.Context, quality *models.VideoQuality) error
	// IncrementRetryCount atomically increments a rendition's retry count
	// and returns the new value.
	IncrementRetryCount(ctx context.Context, id models.ULID) (int, error)
	// HasMinimumQualities reports whether at least minReady renditions of
	// the video are ready.
	HasMinimumQualities(ctx context.Context, videoID models.ULID, minReady int) (bool, error)
	// CountByStatus counts renditions of a video per status.
	CountByStatus(ctx context.Context, videoID models.ULID) (map[models.QualityStatus]int64, error)
}

// JobRepository defines the persistence backing both encode queues.
type JobRepository interface {
	// Enqueue inserts a job, deduplicating on its JobKey: if a waiting or
	// delayed job with the same key exists its payload is refreshed in
	// place, if an active one exists the enqueue is a no-op. Returns the
	// job row that is now outstanding.
	Enqueue(ctx context.Context, job *models.EncodeJob) (*models.EncodeJob, error)
	// GetByID retrieves a job by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.EncodeJob, error)
	// GetByJobKey retrieves the current job for a deterministic key.
	GetByJobKey(ctx context.Context, jobKey string) (*models.EncodeJob, error)
	// Acquire atomically claims the runnable job with the lowest priority
	// value (FIFO within equal priority). Returns nil when none available.
	Acquire(ctx context.Context, workerID string) (*models.EncodeJob, error)
	// Update updates an existing job.
	Update(ctx context.Context, job *models.EncodeJob) error
	// Cancel cancels a waiting or delayed job. Active jobs are rejected.
	Cancel(ctx context.Context, id models.ULID) error
	// Release returns an active job to the waiting state (worker shutdown).
	Release(ctx context.Context, id models.ULID) error
	// GetActive retrieves all active jobs.
	GetActive(ctx context.Context) ([]*models.EncodeJob, error)
	// Depth returns queue depth per status for a job type.
	Depth(ctx context.Context, jobType models.JobType) (map[models.JobStatus]int64, error)
	// DeleteFinished deletes terminal jobs older than the cutoff.
	DeleteFinished(ctx context.Context, before time.Time) (int64, error)
}

// UserRepository defines operations for account lookups.
type UserRepository interface {
	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.User, error)
	// Create creates a user (used by tests and fixtures).
	Create(ctx context.Context, user *models.User) error
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vodarr/vodarr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Enqueue inserts a job deduplicated on its deterministic JobKey. While a
// job with the same key is waiting or delayed the payload is refreshed in
// place; while one is active the enqueue is a no-op so a rendition never has
// two in-flight retries. A finished prior job does not block re-enqueueing.
func (r *jobRepo) Enqueue(ctx context.Context, job *models.EncodeJob) (*models.EncodeJob, error) {
	var outstanding *models.EncodeJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.EncodeJob
		err := tx.Where("job_key = ?", job.JobKey).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if err := tx.Create(job).Error; err != nil {
				return fmt.Errorf("creating job: %w", err)
			}
			outstanding = job
			return nil
		case err != nil:
			return fmt.Errorf("finding job by key: %w", err)
		}

		switch existing.Status {
		case models.JobStatusWaiting, models.JobStatusDelayed:
			existing.RawFilePath = job.RawFilePath
			existing.Priority = job.Priority
			existing.QualityRetryCount = job.QualityRetryCount
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("refreshing queued job: %w", err)
			}
			outstanding = &existing
			return nil
		case models.JobStatusActive:
			// One in-flight job per key; the caller's enqueue is absorbed.
			outstanding = &existing
			return nil
		default:
			// Finished: recycle the row for the new delivery cycle.
			existing.Type = job.Type
			existing.VideoID = job.VideoID
			existing.QualityName = job.QualityName
			existing.RawFilePath = job.RawFilePath
			existing.Priority = job.Priority
			existing.QualityRetryCount = job.QualityRetryCount
			existing.Status = models.JobStatusWaiting
			existing.AttemptCount = 0
			existing.MaxAttempts = job.MaxAttempts
			existing.BackoffSeconds = job.BackoffSeconds
			existing.NextRunAt = nil
			existing.StartedAt = nil
			existing.CompletedAt = nil
			existing.LastError = ""
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("recycling finished job: %w", err)
			}
			outstanding = &existing
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return outstanding, nil
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.EncodeJob, error) {
	var job models.EncodeJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// GetByJobKey retrieves the current job for a deterministic key.
func (r *jobRepo) GetByJobKey(ctx context.Context, jobKey string) (*models.EncodeJob, error) {
	var job models.EncodeJob
	if err := r.db.WithContext(ctx).Where("job_key = ?", jobKey).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by key: %w", err)
	}
	return &job, nil
}

// Acquire atomically claims the runnable job with the lowest priority value.
// Waiting jobs and delayed jobs whose next_run_at has passed are runnable.
func (r *jobRepo) Acquire(ctx context.Context, workerID string) (*models.EncodeJob, error) {
	var job models.EncodeJob
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? OR (status = ? AND next_run_at <= ?))",
				models.JobStatusWaiting, models.JobStatusDelayed, now).
			Order("priority ASC, created_at ASC").
			Limit(1)

		if err := query.First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return err
			}
			return fmt.Errorf("finding runnable job: %w", err)
		}

		job.MarkActive(workerID)
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("claiming job: %w", err)
		}
		return nil
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	return &job, nil
}

// Update updates an existing job.
func (r *jobRepo) Update(ctx context.Context, job *models.EncodeJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// Cancel cancels a waiting or delayed job. Active jobs are rejected so an
// in-flight encode is never interrupted into a half-written segment set.
func (r *jobRepo) Cancel(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.EncodeJob
		if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.NewNotFoundError(fmt.Sprintf("job not found: %s", id))
			}
			return fmt.Errorf("finding job: %w", err)
		}

		if !job.IsCancellable() {
			return models.NewValidationError(fmt.Sprintf("job %s is %s and cannot be cancelled", id, job.Status))
		}

		job.MarkCancelled()
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("cancelling job: %w", err)
		}
		return nil
	})
}

// Release returns an active job to the waiting state without consuming an
// attempt, used on orderly worker shutdown.
func (r *jobRepo) Release(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.EncodeJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusActive).
		UpdateColumns(map[string]interface{}{
			"status":        models.JobStatusWaiting,
			"locked_by":     "",
			"locked_at":     nil,
			"attempt_count": gorm.Expr("attempt_count - 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("releasing job: %w", result.Error)
	}
	return nil
}

// GetActive retrieves all active jobs.
func (r *jobRepo) GetActive(ctx context.Context) ([]*models.EncodeJob, error) {
	var jobs []*models.EncodeJob
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusActive).
		Order("started_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting active jobs: %w", err)
	}
	return jobs, nil
}

// Depth returns queue depth per status for a job type.
func (r *jobRepo) Depth(ctx context.Context, jobType models.JobType) (map[models.JobStatus]int64, error) {
	type row struct {
		Status models.JobStatus
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.EncodeJob{}).
		Select("status, count(*) as count").
		Where("type = ?", jobType).
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting queue depth: %w", err)
	}

	depth := make(map[models.JobStatus]int64, len(rows))
	for _, r := range rows {
		depth[r.Status] = r.Count
	}
	return depth, nil
}

// DeleteFinished deletes terminal jobs older than the cutoff.
func (r *jobRepo) DeleteFinished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?, ?) AND completed_at < ?",
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled, before).
		Delete(&models.EncodeJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JobType distinguishes the two logical queues sharing the jobs table.
type JobType string

const (
	// JobTypeVideoEncode is a whole-video encoding job covering every
	// requested rendition.
	JobTypeVideoEncode JobType = "video_encode"
	// JobTypeQualityRetry is a single-rendition retry job.
	JobTypeQualityRetry JobType = "quality_retry"
)

// JobStatus represents the delivery state of a queued job.
type JobStatus string

const (
	// JobStatusWaiting indicates the job is runnable now.
	JobStatusWaiting JobStatus = "waiting"
	// JobStatusDelayed indicates the job is scheduled for a future retry.
	JobStatusDelayed JobStatus = "delayed"
	// JobStatusActive indicates a worker is executing the job.
	JobStatusActive JobStatus = "active"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job exhausted its delivery attempts.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled before execution.
	JobStatusCancelled JobStatus = "cancelled"
)

// Default delivery policy. Queue-level attempts absorb transient worker
// crashes; the persisted per-quality RetryCount governs semantic encode
// failures. The two budgets compose, they do not substitute for each other.
const (
	DefaultJobMaxAttempts   = 3
	DefaultJobBackoffSecond = 10
)

// EncodeJob is one queued unit of encoding work. The unique JobKey is the
// concurrency-control primitive: a given video (or rendition) has at most
// one outstanding job at a time.
type EncodeJob struct {
	BaseModel

	// Type selects the logical queue.
	Type JobType `gorm:"size:32;not null;index" json:"type"`

	// JobKey is the deterministic dedup key: "encode-<videoID>" for whole
	// videos, "retry-<videoID>-<quality>" for single renditions.
	JobKey string `gorm:"size:128;not null;uniqueIndex" json:"job_key"`

	// VideoID is the video this job operates on.
	VideoID ULID `gorm:"type:varchar(26);not null;index" json:"video_id"`

	// QualityName is set for quality_retry jobs only.
	QualityName QualityName `gorm:"size:16" json:"quality_name,omitempty"`

	// RawFilePath is the source object key the encoder reads from.
	RawFilePath string `gorm:"size:512;not null" json:"raw_file_path"`

	// Priority orders dequeue when multiple jobs are runnable; lower values
	// are dequeued first. For retries this carries the rendition's
	// RetryPriority.
	Priority int `gorm:"default:0;index" json:"priority"`

	// QualityRetryCount snapshots the rendition's persisted retry count at
	// enqueue time, for observability only.
	QualityRetryCount int `gorm:"default:0" json:"quality_retry_count,omitempty"`

	// Status is the delivery state.
	Status JobStatus `gorm:"size:16;not null;default:'waiting';index" json:"status"`

	// AttemptCount is the number of deliveries so far.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts bounds deliveries (transient failures only).
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffSeconds is the initial delivery-retry backoff; each retry
	// doubles it.
	BackoffSeconds int `gorm:"default:10" json:"backoff_seconds"`

	// NextRunAt gates delayed jobs.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	// StartedAt is when the current delivery began.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the job reached a terminal delivery state.
	CompletedAt *Time `json:"completed_at,omitempty"`

	// LockedBy identifies the worker executing the job.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// LockedAt is when the lock was taken.
	LockedAt *Time `json:"locked_at,omitempty"`

	// LastError holds the most recent delivery failure.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
}

// TableName returns the table name for EncodeJob.
func (EncodeJob) TableName() string {
	return "encode_jobs"
}

// EncodeJobKey builds the deterministic key for a whole-video encode job.
func EncodeJobKey(videoID ULID) string {
	return fmt.Sprintf("encode-%s", videoID)
}

// RetryJobKey builds the deterministic key for a single-rendition retry job.
func RetryJobKey(videoID ULID, quality QualityName) string {
	return fmt.Sprintf("retry-%s-%s", videoID, quality)
}

// NewEncodeJob creates a waiting whole-video job.
func NewEncodeJob(videoID ULID, rawFilePath string) *EncodeJob {
	return &EncodeJob{
		Type:           JobTypeVideoEncode,
		JobKey:         EncodeJobKey(videoID),
		VideoID:        videoID,
		RawFilePath:    rawFilePath,
		Status:         JobStatusWaiting,
		MaxAttempts:    DefaultJobMaxAttempts,
		BackoffSeconds: DefaultJobBackoffSecond,
	}
}

// NewRetryJob creates a waiting single-rendition retry job carrying the
// rendition's static priority. The job row is the rendition's queue slot:
// each delivery is one semantic retry, so the attempt budget covers every
// retry plus one spare delivery to settle after a crash on the last one.
func NewRetryJob(videoID ULID, quality QualityName, rawFilePath string, retryCount int) *EncodeJob {
	return &EncodeJob{
		Type:              JobTypeQualityRetry,
		JobKey:            RetryJobKey(videoID, quality),
		VideoID:           videoID,
		QualityName:       quality,
		RawFilePath:       rawFilePath,
		Priority:          quality.RetryPriority(),
		QualityRetryCount: retryCount,
		Status:            JobStatusWaiting,
		MaxAttempts:       MaxQualityRetries + 1,
		BackoffSeconds:    DefaultJobBackoffSecond,
	}
}

// IsFinished reports whether the job reached a terminal delivery state.
func (j *EncodeJob) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// IsCancellable reports whether the job may still be cancelled. Active jobs
// run to completion so a half-written segment set is never left behind.
func (j *EncodeJob) IsCancellable() bool {
	return j.Status == JobStatusWaiting || j.Status == JobStatusDelayed
}

// CanRedeliver reports whether a failed delivery still has attempts left.
func (j *EncodeJob) CanRedeliver() bool {
	return j.AttemptCount < j.MaxAttempts
}

// MarkActive marks the job as taken by a worker.
func (j *EncodeJob) MarkActive(workerID string) {
	j.Status = JobStatusActive
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.AttemptCount++
	j.LastError = ""
}

// MarkCompleted marks the delivery as successful.
func (j *EncodeJob) MarkCompleted() {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.LockedBy = ""
	j.LockedAt = nil
	j.LastError = ""
}

// MarkCancelled marks the job as cancelled.
func (j *EncodeJob) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := Now()
	j.CompletedAt = &now
	j.LockedBy = ""
	j.LockedAt = nil
}

// RecordFailure records a delivery failure: delayed with exponential backoff
// while attempts remain, terminally failed otherwise.
func (j *EncodeJob) RecordFailure(err error) {
	if err != nil {
		j.LastError = err.Error()
	}
	j.LockedBy = ""
	j.LockedAt = nil

	if j.CanRedeliver() {
		next := Now().Add(j.NextBackoff())
		j.NextRunAt = &next
		j.Status = JobStatusDelayed
		return
	}

	j.Status = JobStatusFailed
	now := Now()
	j.CompletedAt = &now
}

// NextBackoff returns the delay before the next delivery attempt.
// Exponential: base * 2^(attempts-1), capped at 10 minutes.
func (j *EncodeJob) NextBackoff() time.Duration {
	base := j.BackoffSeconds
	if base <= 0 {
		base = DefaultJobBackoffSecond
	}

	attempts := j.AttemptCount
	if attempts < 1 {
		attempts = 1
	}

	secs := base * (1 << (attempts - 1))
	const maxBackoffSecs = 600
	if secs > maxBackoffSecs {
		secs = maxBackoffSecs
	}
	return time.Duration(secs) * time.Second
}

// Validate performs basic validation on the job.
func (j *EncodeJob) Validate() error {
	if j.Type == "" {
		return ErrJobTypeRequired
	}
	if j.JobKey == "" {
		return ErrJobKeyRequired
	}
	if j.VideoID.IsZero() {
		return ErrVideoIDRequired
	}
	if j.RawFilePath == "" {
		return ErrRawFilePathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates its ULID.
func (j *EncodeJob) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/storage"
)

// TrashCleanupResult reports one trash sweep. The sweep always succeeds as a
// whole; per-video storage failures land in FailedVideoIDs and are retried
// on the next run.
type TrashCleanupResult struct {
	Candidates         int           `json:"candidates"`
	PermanentlyDeleted int           `json:"permanently_deleted"`
	FailedVideoIDs     []models.ULID `json:"failed_video_ids,omitempty"`
	DryRun             bool          `json:"dry_run"`
}

// OrphanCleanupResult reports one orphan sweep.
type OrphanCleanupResult struct {
	OrphanObjectsRemoved int `json:"orphan_objects_removed"`
	StaleUploadsCanceled int `json:"stale_uploads_canceled"`
}

// LifecycleService reconciles database and storage state: restore after soft
// delete, purge expired trash, and sweep abandoned uploads.
type LifecycleService struct {
	videoRepo repository.VideoRepository
	jobRepo   repository.JobRepository
	store     storage.ObjectStore
	cfg       config.CleanupConfig
	logger    *slog.Logger
}

// NewLifecycleService creates the lifecycle reconciler.
func NewLifecycleService(
	videoRepo repository.VideoRepository,
	jobRepo repository.JobRepository,
	store storage.ObjectStore,
	cfg config.CleanupConfig,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		videoRepo: videoRepo,
		jobRepo:   jobRepo,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// RestoreVideo reverses a soft delete. A video that never finished ingesting
// is re-submitted for processing when its raw object still exists; otherwise
// it is restored as-is.
func (s *LifecycleService) RestoreVideo(ctx context.Context, videoID models.ULID) (*models.Video, error) {
	video, err := s.videoRepo.GetByIDIncludeDeleted(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("looking up video: %w", err)
	}
	if video == nil {
		return nil, models.NewNotFoundError(fmt.Sprintf("video not found: %s", videoID))
	}
	if !video.IsDeleted() {
		return nil, models.NewValidationError(fmt.Sprintf("video %s is not deleted", videoID))
	}

	if err := s.videoRepo.Restore(ctx, videoID); err != nil {
		return nil, fmt.Errorf("restoring video: %w", err)
	}

	if video.NeverFinishedIngesting() && video.RawFilePath != "" {
		exists, err := s.store.Exists(ctx, video.RawFilePath)
		if err != nil {
			return nil, fmt.Errorf("checking raw object: %w", err)
		}
		if exists {
			if err := s.videoRepo.UpdateStatus(ctx, videoID, models.VideoStatusProcessing, ""); err != nil {
				return nil, fmt.Errorf("resetting status: %w", err)
			}
			job := models.NewEncodeJob(videoID, video.RawFilePath)
			if _, err := s.jobRepo.Enqueue(ctx, job); err != nil {
				return nil, fmt.Errorf("re-enqueueing encode: %w", err)
			}
			s.logger.InfoContext(ctx, "restored video re-queued for encoding", "video_id", videoID)
		}
	}

	restored, err := s.videoRepo.GetByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("reloading video: %w", err)
	}

	s.logger.InfoContext(ctx, "video restored", "video_id", videoID)
	return restored, nil
}

// CleanupOrphanVideos reconciles storage and the database in both
// directions: raw objects with no live video row are removed once they
// outlive the grace window, and uploading rows whose presign window lapsed
// without an object are cancelled.
func (s *LifecycleService) CleanupOrphanVideos(ctx context.Context) (*OrphanCleanupResult, error) {
	result := &OrphanCleanupResult{}
	grace := s.cfg.OrphanGrace
	now := time.Now()

	objects, err := s.store.ListPrefix(ctx, "raw/")
	if err != nil {
		return nil, fmt.Errorf("listing raw objects: %w", err)
	}

	for _, obj := range objects {
		if now.Sub(obj.LastModified) < grace {
			continue
		}
		referenced, err := s.videoRepo.ExistsByRawPath(ctx, obj.Key)
		if err != nil {
			return result, fmt.Errorf("checking raw reference %q: %w", obj.Key, err)
		}
		if referenced {
			continue
		}
		if err := s.store.Remove(ctx, obj.Key); err != nil {
			s.logger.WarnContext(ctx, "removing orphan object", "key", obj.Key, "error", err)
			continue
		}
		result.OrphanObjectsRemoved++
		s.logger.InfoContext(ctx, "removed orphan object", "key", obj.Key)
	}

	uploading, err := s.videoRepo.GetByStatus(ctx, models.VideoStatusUploading)
	if err != nil {
		return result, fmt.Errorf("listing uploading videos: %w", err)
	}

	for _, video := range uploading {
		if now.Sub(video.CreatedAt) < grace {
			continue
		}
		exists, err := s.store.Exists(ctx, video.RawFilePath)
		if err != nil {
			s.logger.WarnContext(ctx, "checking stale upload", "video_id", video.ID, "error", err)
			continue
		}
		if exists {
			// Uploaded but never confirmed; leave it for the client.
			continue
		}
		if err := s.videoRepo.UpdateStatus(ctx, video.ID, models.VideoStatusCancelled, "upload never completed"); err != nil {
			s.logger.WarnContext(ctx, "cancelling stale upload", "video_id", video.ID, "error", err)
			continue
		}
		result.StaleUploadsCanceled++
		s.logger.InfoContext(ctx, "cancelled stale upload", "video_id", video.ID)
	}

	return result, nil
}

// CleanupTrashVideos purges soft-deleted videos older than the retention
// window: raw object, encoded prefix, thumbnail, then the database row. One
// video's storage failure never aborts the batch.
func (s *LifecycleService) CleanupTrashVideos(ctx context.Context, dryRun bool) (*TrashCleanupResult, error) {
	cutoff := time.Now().Add(-s.cfg.TrashRetention())

	candidates, err := s.videoRepo.GetDeletedOlderThan(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("listing expired trash: %w", err)
	}

	result := &TrashCleanupResult{
		Candidates: len(candidates),
		DryRun:     dryRun,
	}
	if dryRun {
		s.logger.InfoContext(ctx, "trash sweep dry run", "candidates", len(candidates))
		return result, nil
	}

	for _, video := range candidates {
		if err := s.purgeVideo(ctx, video); err != nil {
			s.logger.ErrorContext(ctx, "purging expired video", "video_id", video.ID, "error", err)
			result.FailedVideoIDs = append(result.FailedVideoIDs, video.ID)
			continue
		}
		result.PermanentlyDeleted++
	}

	s.logger.InfoContext(ctx, "trash sweep complete",
		"candidates", result.Candidates,
		"deleted", result.PermanentlyDeleted,
		"failed", len(result.FailedVideoIDs))
	return result, nil
}

// purgeVideo deletes every storage artifact, then the row. Storage deletes
// run first so a failure leaves the row for the next sweep.
func (s *LifecycleService) purgeVideo(ctx context.Context, video *models.Video) error {
	if video.RawFilePath != "" && strings.HasPrefix(video.RawFilePath, "raw/") {
		if err := s.store.Remove(ctx, video.RawFilePath); err != nil {
			return fmt.Errorf("removing raw object: %w", err)
		}
	}

	if _, err := s.store.RemovePrefix(ctx, storage.EncodedPrefix(video.ID)); err != nil {
		return fmt.Errorf("removing encoded prefix: %w", err)
	}

	if err := s.store.Remove(ctx, storage.ThumbnailKey(video.ID)); err != nil {
		return fmt.Errorf("removing thumbnail: %w", err)
	}

	if err := s.videoRepo.HardDelete(ctx, video.ID); err != nil {
		return fmt.Errorf("hard-deleting row: %w", err)
	}

	s.logger.InfoContext(ctx, "video permanently deleted", "video_id", video.ID)
	return nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/storage"
	"github.com/vodarr/vodarr/pkg/bytesize"
)

// allowedMimeTypes is the upload content-type whitelist.
var allowedMimeTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/webm":       true,
	"video/x-msvideo":  true,
}

// UploadTicket is what a client needs to perform a direct-to-storage upload.
type UploadTicket struct {
	VideoID   models.ULID `json:"video_id"`
	UploadURL string      `json:"upload_url"`
	RawKey    string      `json:"raw_key"`
}

// UploadService issues upload URLs and confirms completed uploads.
type UploadService struct {
	videoRepo repository.VideoRepository
	userRepo  repository.UserRepository
	jobRepo   repository.JobRepository
	store     storage.ObjectStore
	cfg       config.UploadConfig
	logger    *slog.Logger
}

// NewUploadService creates the upload orchestrator.
func NewUploadService(
	videoRepo repository.VideoRepository,
	userRepo repository.UserRepository,
	jobRepo repository.JobRepository,
	store storage.ObjectStore,
	cfg config.UploadConfig,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		videoRepo: videoRepo,
		userRepo:  userRepo,
		jobRepo:   jobRepo,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
}

// GenerateUploadURL validates the request, creates an uploading video row,
// and returns a time-boxed presigned PUT URL the client uploads to directly.
func (s *UploadService) GenerateUploadURL(ctx context.Context, userID models.ULID, filename string, size int64, mimeType string) (*UploadTicket, error) {
	if filename == "" {
		return nil, models.NewValidationError("filename is required")
	}
	if size <= 0 {
		return nil, models.NewValidationError("size must be positive")
	}
	if size > s.cfg.MaxSizeBytes {
		return nil, models.NewValidationError(fmt.Sprintf("file size %s exceeds limit of %s",
			bytesize.Format(bytesize.Size(size)), bytesize.Format(bytesize.Size(s.cfg.MaxSizeBytes))))
	}
	if !allowedMimeTypes[mimeType] {
		return nil, models.NewValidationError(fmt.Sprintf("unsupported content type: %s", mimeType))
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user == nil {
		return nil, models.NewNotFoundError(fmt.Sprintf("user not found: %s", userID))
	}
	if !user.Active {
		return nil, models.NewPermissionError("account is inactive")
	}
	if !user.EmailVerified {
		return nil, models.NewPermissionError("email address is not verified")
	}

	count, err := s.videoRepo.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("counting user videos: %w", err)
	}
	if count >= s.cfg.MaxVideosPerUser {
		return nil, models.NewValidationError(fmt.Sprintf("video limit of %d reached", s.cfg.MaxVideosPerUser))
	}

	video := &models.Video{
		UserID:           userID,
		OriginalFilename: filename,
		OriginalSize:     size,
		MimeType:         mimeType,
		Status:           models.VideoStatusUploading,
	}
	video.ID = models.NewULID()
	video.RawFilePath = storage.RawKey(video.ID, filename)

	uploadURL, err := s.store.PresignedPutURL(ctx, video.RawFilePath, s.cfg.URLExpiry)
	if err != nil {
		return nil, fmt.Errorf("presigning upload URL: %w", err)
	}

	if err := s.videoRepo.Create(ctx, video); err != nil {
		return nil, fmt.Errorf("creating video record: %w", err)
	}

	s.logger.InfoContext(ctx, "issued upload URL",
		"video_id", video.ID,
		"user_id", userID,
		"filename", filename,
		"size", size)

	return &UploadTicket{
		VideoID:   video.ID,
		UploadURL: uploadURL,
		RawKey:    video.RawFilePath,
	}, nil
}

// ConfirmUpload verifies the upload landed in storage and hands the video to
// the encode queue. A missing object never enqueues a job.
func (s *UploadService) ConfirmUpload(ctx context.Context, videoID, userID models.ULID) (*models.Video, error) {
	video, err := s.videoRepo.GetByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("looking up video: %w", err)
	}
	if video == nil {
		return nil, models.NewNotFoundError(fmt.Sprintf("video not found: %s", videoID))
	}
	if video.UserID != userID {
		return nil, models.NewPermissionError("video belongs to another user")
	}
	if video.Status != models.VideoStatusUploading {
		return nil, models.NewValidationError(fmt.Sprintf("video is %s, only uploading videos can be confirmed", video.Status))
	}

	exists, err := s.store.Exists(ctx, video.RawFilePath)
	if err != nil {
		return nil, fmt.Errorf("checking uploaded object: %w", err)
	}
	if !exists {
		return nil, models.NewValidationError("no uploaded object found at the expected key")
	}

	now := models.Now()
	video.Status = models.VideoStatusProcessing
	video.UploadedAt = &now
	if err := s.videoRepo.Update(ctx, video); err != nil {
		return nil, fmt.Errorf("updating video: %w", err)
	}

	job := models.NewEncodeJob(video.ID, video.RawFilePath)
	if _, err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing encode job: %w", err)
	}

	s.logger.InfoContext(ctx, "upload confirmed",
		"video_id", video.ID,
		"user_id", userID,
		"raw_key", video.RawFilePath)

	return video, nil
}

// CancelUpload cancels an unconfirmed upload and removes any partially
// uploaded object.
func (s *UploadService) CancelUpload(ctx context.Context, videoID, userID models.ULID) error {
	video, err := s.videoRepo.GetByID(ctx, videoID)
	if err != nil {
		return fmt.Errorf("looking up video: %w", err)
	}
	if video == nil {
		return models.NewNotFoundError(fmt.Sprintf("video not found: %s", videoID))
	}
	if video.UserID != userID {
		return models.NewPermissionError("video belongs to another user")
	}
	if video.Status != models.VideoStatusUploading && video.Status != models.VideoStatusProcessing {
		return models.NewValidationError(fmt.Sprintf("video is %s and cannot be cancelled", video.Status))
	}

	if err := s.store.Remove(ctx, video.RawFilePath); err != nil {
		s.logger.WarnContext(ctx, "removing raw object on cancel", "video_id", videoID, "error", err)
	}

	if err := s.videoRepo.UpdateStatus(ctx, video.ID, models.VideoStatusCancelled, ""); err != nil {
		return fmt.Errorf("cancelling video: %w", err)
	}

	s.logger.InfoContext(ctx, "upload cancelled", "video_id", videoID, "user_id", userID)
	return nil
}

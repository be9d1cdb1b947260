package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/pubsub"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/storage"
)

// MetadataProber extracts media metadata from a local file.
type MetadataProber interface {
	ProbeMedia(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// HLSEncoder produces one HLS rendition, or a thumbnail, from a local file.
type HLSEncoder interface {
	EncodeHLS(ctx context.Context, spec ffmpeg.HLSSpec, onProgress ffmpeg.ProgressFunc) (*ffmpeg.HLSResult, error)
	ExtractThumbnail(ctx context.Context, inputPath, outputPath string, atSeconds float64) error
}

// ProgressSink receives encode progress events. May be nil.
type ProgressSink interface {
	PublishProgress(ctx context.Context, ev pubsub.ProgressEvent)
}

// EncodeService drains both encode queues: whole-video jobs fan out across
// every configured rendition, retry jobs re-encode a single failed rendition.
type EncodeService struct {
	videoRepo   repository.VideoRepository
	qualityRepo repository.VideoQualityRepository
	jobRepo     repository.JobRepository
	store       storage.ObjectStore
	prober      MetadataProber
	encoder     HLSEncoder
	notifier    Notifier
	progress    ProgressSink
	cfg         config.EncodingConfig
	tempDir     string
	logger      *slog.Logger
}

// NewEncodeService creates the encode orchestrator.
func NewEncodeService(
	videoRepo repository.VideoRepository,
	qualityRepo repository.VideoQualityRepository,
	jobRepo repository.JobRepository,
	store storage.ObjectStore,
	prober MetadataProber,
	encoder HLSEncoder,
	notifier Notifier,
	progress ProgressSink,
	cfg config.EncodingConfig,
	tempDir string,
	logger *slog.Logger,
) *EncodeService {
	return &EncodeService{
		videoRepo:   videoRepo,
		qualityRepo: qualityRepo,
		jobRepo:     jobRepo,
		store:       store,
		prober:      prober,
		encoder:     encoder,
		notifier:    notifier,
		progress:    progress,
		cfg:         cfg,
		tempDir:     tempDir,
		logger:      logger,
	}
}

// targetQualities resolves the configured rendition tiers.
func (s *EncodeService) targetQualities() []models.QualityName {
	names := make([]models.QualityName, 0, len(s.cfg.Qualities))
	for _, q := range s.cfg.Qualities {
		name := models.QualityName(q)
		if name.Valid() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		names = models.AllQualities
	}
	return names
}

// ProcessVideo handles a whole-video encode job: probe, fan out rendition
// rows, then encode each rendition in ascending retry-priority order. A
// failed rendition is isolated into the retry queue without blocking the
// rest.
func (s *EncodeService) ProcessVideo(ctx context.Context, job *models.EncodeJob) error {
	log := s.logger.With("video_id", job.VideoID)

	video, err := s.videoRepo.GetByID(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("loading video: %w", err)
	}
	if video == nil {
		// Deleted or cancelled between enqueue and dequeue; nothing to do.
		log.Warn("encode job references missing video")
		return nil
	}
	if video.Status != models.VideoStatusProcessing {
		log.Warn("skipping encode, video not in processing", "status", video.Status)
		return nil
	}

	localPath, cleanup, err := s.downloadRaw(ctx, video.ID, job.RawFilePath)
	if err != nil {
		return fmt.Errorf("fetching raw upload: %w", err)
	}
	defer cleanup()

	if err := s.probeAndPersist(ctx, video, localPath); err != nil {
		return err
	}

	s.extractThumbnail(ctx, video, localPath)

	targets := s.targetQualities()
	rows := make([]*models.VideoQuality, 0, len(targets))
	for _, name := range targets {
		rows = append(rows, models.NewVideoQuality(video.ID, name))
	}
	if err := s.qualityRepo.UpsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("creating rendition rows: %w", err)
	}

	qualities, err := s.qualityRepo.GetByVideoID(ctx, video.ID)
	if err != nil {
		return fmt.Errorf("loading rendition rows: %w", err)
	}
	sort.SliceStable(qualities, func(i, j int) bool {
		return qualities[i].RetryPriority < qualities[j].RetryPriority
	})

	for i := range qualities {
		q := &qualities[i]
		if q.IsTerminal() {
			// Re-delivered job; this rendition already succeeded or
			// exhausted its retries.
			continue
		}

		if err := s.encodeQuality(ctx, video, q, localPath); err != nil {
			log.Error("rendition encode failed", "quality", q.QualityName, "error", err)
			if err := s.failQuality(ctx, video, q, err); err != nil {
				return err
			}
			continue
		}
	}

	return s.settleVideo(ctx, video.ID)
}

// ProcessQualityRetry re-encodes a single failed rendition. The persisted
// retry count is incremented before the attempt so a crash mid-encode still
// consumes budget on redelivery.
//
// A failed attempt with budget left returns the encode error: this job's own
// row is the rendition's queue slot, so the executor's delayed redelivery is
// what carries the next retry. Exhaustion is handled here and returns nil.
func (s *EncodeService) ProcessQualityRetry(ctx context.Context, job *models.EncodeJob) error {
	log := s.logger.With("video_id", job.VideoID, "quality", job.QualityName)

	video, err := s.videoRepo.GetByID(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("loading video: %w", err)
	}
	if video == nil {
		log.Warn("retry job references missing video")
		return nil
	}

	quality, err := s.qualityRepo.GetByVideoAndName(ctx, job.VideoID, job.QualityName)
	if err != nil {
		return fmt.Errorf("loading rendition: %w", err)
	}
	if quality == nil {
		log.Warn("retry job references missing rendition")
		return nil
	}
	if quality.Status == models.QualityStatusReady {
		// Redelivery after a completed retry.
		return nil
	}
	if quality.RetryCount >= models.MaxQualityRetries {
		log.Warn("retry budget already exhausted", "retry_count", quality.RetryCount)
		return s.settleVideo(ctx, video.ID)
	}

	newCount, err := s.qualityRepo.IncrementRetryCount(ctx, quality.ID)
	if err != nil {
		return fmt.Errorf("incrementing retry count: %w", err)
	}
	quality.RetryCount = newCount
	log.Info("retrying rendition", "retry_count", newCount)

	localPath, cleanup, err := s.downloadRaw(ctx, video.ID, job.RawFilePath)
	if err != nil {
		return fmt.Errorf("fetching raw upload: %w", err)
	}
	defer cleanup()

	if encodeErr := s.encodeQuality(ctx, video, quality, localPath); encodeErr != nil {
		log.Error("rendition retry failed", "retry_count", newCount, "error", encodeErr)

		quality.MarkFailed(encodeErr)
		if err := s.qualityRepo.Update(ctx, quality); err != nil {
			return fmt.Errorf("marking rendition failed: %w", err)
		}

		if quality.CanRetry() {
			return encodeErr
		}

		s.notifier.NotifyQualityRetryFailed(ctx, video, quality.QualityName, quality.ErrorMessage)
	}

	return s.settleVideo(ctx, video.ID)
}

// encodeQuality runs one rendition encode end to end: mark encoding, run
// ffmpeg, upload playlist and segments, mark ready.
func (s *EncodeService) encodeQuality(ctx context.Context, video *models.Video, quality *models.VideoQuality, localPath string) error {
	spec, ok := quality.QualityName.Spec()
	if !ok {
		return fmt.Errorf("unknown rendition tier: %s", quality.QualityName)
	}

	quality.MarkEncoding()
	if err := s.qualityRepo.Update(ctx, quality); err != nil {
		return fmt.Errorf("marking rendition encoding: %w", err)
	}

	outDir := filepath.Join(s.tempDir, video.ID.String(), string(quality.QualityName))
	defer os.RemoveAll(outDir)

	result, err := s.encoder.EncodeHLS(ctx, ffmpeg.HLSSpec{
		InputPath:        localPath,
		OutputDir:        outDir,
		Width:            spec.Width,
		Height:           spec.Height,
		VideoBitrateKbps: spec.VideoBitrateKbps,
		AudioBitrateKbps: spec.AudioBitrateKbps,
		SegmentSeconds:   s.cfg.SegmentSeconds,
	}, s.progressFunc(ctx, video, quality.QualityName))
	if err != nil {
		return err
	}

	playlistKey, segmentCount, err := s.uploadRendition(ctx, video.ID, quality.QualityName, result)
	if err != nil {
		return fmt.Errorf("uploading rendition: %w", err)
	}

	quality.MarkReady(playlistKey, segmentCount)
	if err := s.qualityRepo.Update(ctx, quality); err != nil {
		return fmt.Errorf("marking rendition ready: %w", err)
	}

	s.logger.InfoContext(ctx, "rendition ready",
		"video_id", video.ID,
		"quality", quality.QualityName,
		"segments", segmentCount)
	return nil
}

// failQuality records a rendition failure and either queues a retry or, when
// the budget is spent, raises the exhaustion notification.
func (s *EncodeService) failQuality(ctx context.Context, video *models.Video, quality *models.VideoQuality, encodeErr error) error {
	quality.MarkFailed(encodeErr)
	if err := s.qualityRepo.Update(ctx, quality); err != nil {
		return fmt.Errorf("marking rendition failed: %w", err)
	}

	if quality.CanRetry() {
		job := models.NewRetryJob(video.ID, quality.QualityName, video.RawFilePath, quality.RetryCount)
		if _, err := s.jobRepo.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueueing rendition retry: %w", err)
		}
		s.logger.InfoContext(ctx, "rendition retry queued",
			"video_id", video.ID,
			"quality", quality.QualityName,
			"retry_count", quality.RetryCount,
			"priority", quality.RetryPriority)
		return nil
	}

	s.notifier.NotifyQualityRetryFailed(ctx, video, quality.QualityName, quality.ErrorMessage)
	return nil
}

// settleWriteAttempts bounds the settle read-derive-write loop. Contention
// only comes from other deliveries of the same video finishing, so one or two
// retries is the realistic worst case.
const settleWriteAttempts = 5

// settleVideo recomputes the aggregate status from the rendition rows and,
// on a settle transition, finalizes artifacts and fires the matching
// notification exactly once.
//
// Two workers can settle the same video near-simultaneously when its retry
// jobs finish together, so the write is guarded on the status read at the
// top of the loop. Losing the guard means another delivery already wrote a
// fresher derivation; re-derive from current rows instead of saving the
// stale snapshot.
func (s *EncodeService) settleVideo(ctx context.Context, videoID models.ULID) error {
	for attempt := 0; attempt < settleWriteAttempts; attempt++ {
		wrote, err := s.trySettleVideo(ctx, videoID)
		if err != nil {
			return err
		}
		if wrote {
			return nil
		}
	}
	return fmt.Errorf("settling video %s: status kept changing underneath", videoID)
}

// trySettleVideo runs one read-derive-write pass. Returns false when the
// guarded write lost to a concurrent settle.
func (s *EncodeService) trySettleVideo(ctx context.Context, videoID models.ULID) (bool, error) {
	video, err := s.videoRepo.GetByID(ctx, videoID)
	if err != nil {
		return false, fmt.Errorf("reloading video: %w", err)
	}
	if video == nil {
		return true, nil
	}

	qualities, err := s.qualityRepo.GetByVideoID(ctx, videoID)
	if err != nil {
		return false, fmt.Errorf("reloading renditions: %w", err)
	}

	derived := models.DeriveVideoStatus(qualities)
	previous := video.Status

	video.AvailableQualities = models.StringSlice(models.ReadyQualityNames(qualities))
	video.Status = derived

	settled := derived.IsTerminal() && previous == models.VideoStatusProcessing
	if settled {
		now := models.Now()
		video.ProcessingCompletedAt = &now

		if derived.IsPlayable() {
			masterKey, err := s.writeMasterPlaylist(ctx, videoID, qualities)
			if err != nil {
				return false, fmt.Errorf("writing master playlist: %w", err)
			}
			video.MasterPlaylistURL = &masterKey
		}

		if derived == models.VideoStatusReady {
			// Every rendition succeeded; the raw upload has no remaining
			// dependents.
			if err := s.store.Remove(ctx, video.RawFilePath); err != nil {
				s.logger.WarnContext(ctx, "removing raw object", "video_id", videoID, "error", err)
			} else {
				video.RawFilePath = ""
			}
		}

		if derived == models.VideoStatusFailed {
			video.LastError = "all renditions exhausted their retries"
		}
	}

	wrote, err := s.videoRepo.UpdateGuarded(ctx, video, previous)
	if err != nil {
		return false, fmt.Errorf("updating video: %w", err)
	}
	if !wrote {
		s.logger.InfoContext(ctx, "settle lost to concurrent writer, re-deriving", "video_id", videoID)
		return false, nil
	}

	if settled {
		switch derived {
		case models.VideoStatusReady:
			s.notifier.NotifyVideoReady(ctx, video)
		case models.VideoStatusPartialReady:
			s.notifier.NotifyVideoPartialReady(ctx, video, models.FailedQualityNames(qualities))
		case models.VideoStatusFailed:
			s.notifier.NotifyVideoFailed(ctx, video)
		}
		s.logger.InfoContext(ctx, "video settled",
			"video_id", videoID,
			"status", derived,
			"available", []string(video.AvailableQualities))
	}

	return true, nil
}

// probeAndPersist extracts source metadata and stores it on the video row.
func (s *EncodeService) probeAndPersist(ctx context.Context, video *models.Video, localPath string) error {
	info, err := s.prober.ProbeMedia(ctx, localPath)
	if err != nil {
		return fmt.Errorf("probing upload: %w", err)
	}
	if !info.HasVideo() {
		return fmt.Errorf("upload has no video stream")
	}

	bitrateKbps := info.BitrateBps / 1000
	video.DurationSeconds = &info.DurationSeconds
	video.Width = &info.Width
	video.Height = &info.Height
	video.Codec = &info.VideoCodec
	video.BitrateKbps = &bitrateKbps

	if err := s.videoRepo.Update(ctx, video); err != nil {
		return fmt.Errorf("persisting metadata: %w", err)
	}
	return nil
}

// extractThumbnail grabs a poster frame early in the clip. Failures are
// logged and never fail the encode.
func (s *EncodeService) extractThumbnail(ctx context.Context, video *models.Video, localPath string) {
	var atSeconds float64
	if video.DurationSeconds != nil {
		atSeconds = *video.DurationSeconds * 0.1
	}

	thumbPath := filepath.Join(s.tempDir, video.ID.String(), "thumbnail.jpg")
	defer os.Remove(thumbPath)

	if err := s.encoder.ExtractThumbnail(ctx, localPath, thumbPath, atSeconds); err != nil {
		s.logger.WarnContext(ctx, "thumbnail extraction failed", "video_id", video.ID, "error", err)
		return
	}

	f, err := os.Open(thumbPath)
	if err != nil {
		s.logger.WarnContext(ctx, "opening thumbnail", "video_id", video.ID, "error", err)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		s.logger.WarnContext(ctx, "statting thumbnail", "video_id", video.ID, "error", err)
		return
	}

	key := storage.ThumbnailKey(video.ID)
	if err := s.store.Put(ctx, key, f, stat.Size(), "image/jpeg"); err != nil {
		s.logger.WarnContext(ctx, "uploading thumbnail", "video_id", video.ID, "error", err)
		return
	}

	video.ThumbnailURL = &key
	if err := s.videoRepo.Update(ctx, video); err != nil {
		s.logger.WarnContext(ctx, "persisting thumbnail key", "video_id", video.ID, "error", err)
	}
}

// downloadRaw copies the raw upload to local scratch space for ffmpeg.
func (s *EncodeService) downloadRaw(ctx context.Context, videoID models.ULID, rawKey string) (string, func(), error) {
	dir := filepath.Join(s.tempDir, videoID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	localPath := filepath.Join(dir, "source"+filepath.Ext(rawKey))
	f, err := os.Create(localPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("creating scratch file: %w", err)
	}
	defer f.Close()

	r, err := s.store.Get(ctx, rawKey)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	defer r.Close()

	if _, err := io.Copy(f, r); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("downloading raw object %q: %w", rawKey, err)
	}

	return localPath, cleanup, nil
}

// uploadRendition pushes a finished rendition's playlist and segments into
// the bucket, returning the playlist key and segment count.
func (s *EncodeService) uploadRendition(ctx context.Context, videoID models.ULID, name models.QualityName, result *ffmpeg.HLSResult) (string, int, error) {
	for i, segPath := range result.SegmentPaths {
		if err := s.uploadFile(ctx, storage.SegmentKey(videoID, name, i), segPath, "video/mp2t"); err != nil {
			return "", 0, err
		}
	}

	playlistKey := storage.QualityPlaylistKey(videoID, name)
	if err := s.uploadFile(ctx, playlistKey, result.PlaylistPath, "application/vnd.apple.mpegurl"); err != nil {
		return "", 0, err
	}

	return playlistKey, len(result.SegmentPaths), nil
}

func (s *EncodeService) uploadFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("statting %q: %w", path, err)
	}

	return s.store.Put(ctx, key, f, stat.Size(), contentType)
}

// progressFunc adapts ffmpeg progress into published percent events.
func (s *EncodeService) progressFunc(ctx context.Context, video *models.Video, name models.QualityName) ffmpeg.ProgressFunc {
	if s.progress == nil {
		return nil
	}

	var total time.Duration
	if video.DurationSeconds != nil {
		total = time.Duration(*video.DurationSeconds * float64(time.Second))
	}

	var lastPercent float64 = -1
	return func(p ffmpeg.Progress) {
		percent := 0.0
		if total > 0 {
			percent = float64(p.Time) / float64(total) * 100
			if percent > 100 {
				percent = 100
			}
		}
		// Throttle to whole-percent steps.
		if percent-lastPercent < 1 {
			return
		}
		lastPercent = percent

		s.progress.PublishProgress(ctx, pubsub.ProgressEvent{
			VideoID: video.ID,
			Quality: name,
			Stage:   "encoding",
			Percent: percent,
			Frame:   p.Frame,
		})
	}
}

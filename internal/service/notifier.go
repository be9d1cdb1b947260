// Package service implements the upload, encode, and lifecycle use cases.
package service

import (
	"context"
	"log/slog"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/pubsub"
)

// Notifier receives video lifecycle notifications. Implementations are
// fire-and-forget: a notification failure never rolls back the status
// transition that triggered it.
type Notifier interface {
	// NotifyVideoReady fires once when every rendition became ready.
	NotifyVideoReady(ctx context.Context, video *models.Video)
	// NotifyVideoPartialReady fires once when encoding settled with some
	// renditions ready and some permanently failed.
	NotifyVideoPartialReady(ctx context.Context, video *models.Video, failed []string)
	// NotifyVideoFailed fires once when no rendition ever became ready.
	NotifyVideoFailed(ctx context.Context, video *models.Video)
	// NotifyQualityRetryFailed fires when one rendition exhausts its retry
	// budget.
	NotifyQualityRetryFailed(ctx context.Context, video *models.Video, quality models.QualityName, lastErr string)
}

// SlogNotifier logs notifications.
type SlogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier creates a logging notifier.
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) NotifyVideoReady(ctx context.Context, video *models.Video) {
	n.logger.InfoContext(ctx, "video ready",
		"video_id", video.ID,
		"qualities", []string(video.AvailableQualities))
}

func (n *SlogNotifier) NotifyVideoPartialReady(ctx context.Context, video *models.Video, failed []string) {
	n.logger.WarnContext(ctx, "video partially ready",
		"video_id", video.ID,
		"available", []string(video.AvailableQualities),
		"failed", failed)
}

func (n *SlogNotifier) NotifyVideoFailed(ctx context.Context, video *models.Video) {
	n.logger.ErrorContext(ctx, "video failed",
		"video_id", video.ID,
		"last_error", video.LastError)
}

func (n *SlogNotifier) NotifyQualityRetryFailed(ctx context.Context, video *models.Video, quality models.QualityName, lastErr string) {
	n.logger.WarnContext(ctx, "rendition retries exhausted",
		"video_id", video.ID,
		"quality", quality,
		"last_error", lastErr)
}

// RedisNotifier publishes notifications as lifecycle events.
type RedisNotifier struct {
	pub *pubsub.Publisher
}

// NewRedisNotifier creates a Redis-publishing notifier.
func NewRedisNotifier(pub *pubsub.Publisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

func (n *RedisNotifier) NotifyVideoReady(ctx context.Context, video *models.Video) {
	n.pub.PublishEvent(ctx, pubsub.LifecycleEvent{
		Type:    pubsub.EventVideoReady,
		VideoID: video.ID,
		Status:  string(video.Status),
	})
}

func (n *RedisNotifier) NotifyVideoPartialReady(ctx context.Context, video *models.Video, failed []string) {
	n.pub.PublishEvent(ctx, pubsub.LifecycleEvent{
		Type:    pubsub.EventVideoPartialReady,
		VideoID: video.ID,
		Status:  string(video.Status),
	})
}

func (n *RedisNotifier) NotifyVideoFailed(ctx context.Context, video *models.Video) {
	n.pub.PublishEvent(ctx, pubsub.LifecycleEvent{
		Type:    pubsub.EventVideoFailed,
		VideoID: video.ID,
		Status:  string(video.Status),
		Message: video.LastError,
	})
}

func (n *RedisNotifier) NotifyQualityRetryFailed(ctx context.Context, video *models.Video, quality models.QualityName, lastErr string) {
	n.pub.PublishEvent(ctx, pubsub.LifecycleEvent{
		Type:    pubsub.EventRetryExhausted,
		VideoID: video.ID,
		Quality: quality,
		Message: lastErr,
	})
}

// MultiNotifier fans notifications out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyVideoReady(ctx context.Context, video *models.Video) {
	for _, n := range m {
		n.NotifyVideoReady(ctx, video)
	}
}

func (m MultiNotifier) NotifyVideoPartialReady(ctx context.Context, video *models.Video, failed []string) {
	for _, n := range m {
		n.NotifyVideoPartialReady(ctx, video, failed)
	}
}

func (m MultiNotifier) NotifyVideoFailed(ctx context.Context, video *models.Video) {
	for _, n := range m {
		n.NotifyVideoFailed(ctx, video)
	}
}

func (m MultiNotifier) NotifyQualityRetryFailed(ctx context.Context, video *models.Video, quality models.QualityName, lastErr string) {
	for _, n := range m {
		n.NotifyQualityRetryFailed(ctx, video, quality, lastErr)
	}
}

// Package pubsub publishes encode progress and lifecycle events over Redis.
// Delivery is best effort: a Redis outage never fails an encode.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/models"
)

const (
	progressKeyPrefix  = "vodarr:progress:"
	progressChanPrefix = "vodarr:progress:"
	progressAllChan    = "vodarr:progress:all"
	eventsChan         = "vodarr:events"

	// Latest-progress snapshots expire after a day so abandoned videos do
	// not accumulate keys.
	progressTTL = 24 * time.Hour
)

// ProgressEvent is the per-rendition progress snapshot published while an
// encode runs.
type ProgressEvent struct {
	VideoID   models.ULID        `json:"video_id"`
	Quality   models.QualityName `json:"quality,omitempty"`
	Stage     string             `json:"stage"`
	Percent   float64            `json:"percent"`
	Frame     int64              `json:"frame,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// LifecycleEvent announces a video or rendition state change.
type LifecycleEvent struct {
	Type      string             `json:"type"`
	VideoID   models.ULID        `json:"video_id"`
	Quality   models.QualityName `json:"quality,omitempty"`
	Status    string             `json:"status,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Lifecycle event types.
const (
	EventVideoReady        = "video.ready"
	EventVideoPartialReady = "video.partial_ready"
	EventVideoFailed       = "video.failed"
	EventQualityReady      = "quality.ready"
	EventQualityFailed     = "quality.failed"
	EventRetryExhausted    = "quality.retry_exhausted"
)

// Publisher publishes events to Redis.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Publisher{client: client, logger: logger}, nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishProgress fans a progress snapshot out to the per-video channel, the
// global channel, and a TTL'd latest-progress key. Errors are logged, not
// returned.
func (p *Publisher) PublishProgress(ctx context.Context, ev ProgressEvent) {
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshalling progress event", "error", err)
		return
	}

	channel := progressChanPrefix + ev.VideoID.String()
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn("publishing progress", "channel", channel, "error", err)
		return
	}
	if err := p.client.Publish(ctx, progressAllChan, data).Err(); err != nil {
		p.logger.Warn("publishing progress", "channel", progressAllChan, "error", err)
	}

	key := progressKeyPrefix + ev.VideoID.String()
	if err := p.client.Set(ctx, key, data, progressTTL).Err(); err != nil {
		p.logger.Warn("storing progress snapshot", "key", key, "error", err)
	}
}

// PublishEvent publishes a lifecycle event. Errors are logged, not returned.
func (p *Publisher) PublishEvent(ctx context.Context, ev LifecycleEvent) {
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshalling lifecycle event", "error", err)
		return
	}

	if err := p.client.Publish(ctx, eventsChan, data).Err(); err != nil {
		p.logger.Warn("publishing lifecycle event", "type", ev.Type, "error", err)
	}
}

// GetProgress returns the latest progress snapshot for a video, or nil when
// none is stored.
func (p *Publisher) GetProgress(ctx context.Context, videoID models.ULID) (*ProgressEvent, error) {
	data, err := p.client.Get(ctx, progressKeyPrefix+videoID.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reading progress snapshot: %w", err)
	}

	var ev ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parsing progress snapshot: %w", err)
	}
	return &ev, nil
}

// SubscribeProgress streams progress events for one video until ctx ends.
func (p *Publisher) SubscribeProgress(ctx context.Context, videoID models.ULID) (<-chan ProgressEvent, error) {
	return p.subscribe(ctx, progressChanPrefix+videoID.String())
}

// SubscribeAllProgress streams progress events for every video until ctx
// ends.
func (p *Publisher) SubscribeAllProgress(ctx context.Context) (<-chan ProgressEvent, error) {
	return p.subscribe(ctx, progressAllChan)
}

func (p *Publisher) subscribe(ctx context.Context, channel string) (<-chan ProgressEvent, error) {
	sub := p.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	out := make(chan ProgressEvent)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.logger.Warn("parsing progress event", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/storage"
)

// fakeStore is an in-memory ObjectStore. Keys listed in failRemove make the
// corresponding Remove call fail, for partial-failure sweeps.
type fakeStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	modified   map[string]time.Time
	failRemove map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:    make(map[string][]byte),
		modified:   make(map[string]time.Time),
		failRemove: make(map[string]bool),
	}
}

func (s *fakeStore) putObject(key string, data []byte, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.modified[key] = modified
}

func (s *fakeStore) hasObject(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeStore) getObject(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

func (s *fakeStore) PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://bucket.test/upload/" + key, nil
}

func (s *fakeStore) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://bucket.test/get/" + key, nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.hasObject(key), nil
}

func (s *fakeStore) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return &storage.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: s.modified[key]}, nil
}

func (s *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.putObject(key, data, time.Now())
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRemove[key] {
		return fmt.Errorf("remove failed: %s", key)
	}
	delete(s.objects, key)
	delete(s.modified, key)
	return nil
}

func (s *fakeStore) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			delete(s.modified, key)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeStore) ListPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []storage.ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, storage.ObjectInfo{
				Key:          key,
				Size:         int64(len(data)),
				LastModified: s.modified[key],
			})
		}
	}
	return infos, nil
}

// fakeProber returns canned metadata.
type fakeProber struct {
	info *ffmpeg.MediaInfo
	err  error
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		info: &ffmpeg.MediaInfo{
			DurationSeconds: 120,
			Width:           1920,
			Height:          1080,
			VideoCodec:      "h264",
			AudioCodec:      "aac",
			Framerate:       30,
			BitrateBps:      8_000_000,
			ContainerFormat: "mov,mp4,m4a,3gp,3g2,mj2",
		},
	}
}

func (p *fakeProber) ProbeMedia(ctx context.Context, path string) (*ffmpeg.MediaInfo, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.info, nil
}

// fakeEncoder scripts per-tier failures by output height: failures[720] = 2
// makes the first two 720p encodes fail, then succeed. Successful encodes
// write a playlist and segments so the upload path reads real files.
type fakeEncoder struct {
	mu       sync.Mutex
	failures map[int]int
	attempts map[int]int
	thumbErr error
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{
		failures: make(map[int]int),
		attempts: make(map[int]int),
	}
}

func (e *fakeEncoder) attemptCount(height int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[height]
}

func (e *fakeEncoder) EncodeHLS(ctx context.Context, spec ffmpeg.HLSSpec, onProgress ffmpeg.ProgressFunc) (*ffmpeg.HLSResult, error) {
	e.mu.Lock()
	e.attempts[spec.Height]++
	shouldFail := e.failures[spec.Height] > 0
	if shouldFail {
		e.failures[spec.Height]--
	}
	e.mu.Unlock()

	if shouldFail {
		return nil, fmt.Errorf("ffmpeg exited with code 1")
	}

	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, err
	}

	playlist := filepath.Join(spec.OutputDir, "playlist.m3u8")
	if err := os.WriteFile(playlist, []byte("#EXTM3U\n"), 0o644); err != nil {
		return nil, err
	}

	var segments []string
	for i := 0; i < 2; i++ {
		seg := filepath.Join(spec.OutputDir, fmt.Sprintf("segment_%03d.ts", i))
		if err := os.WriteFile(seg, []byte("ts"), 0o644); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	if onProgress != nil {
		onProgress(ffmpeg.Progress{Frame: 100, Time: 60 * time.Second})
	}

	return &ffmpeg.HLSResult{PlaylistPath: playlist, SegmentPaths: segments}, nil
}

func (e *fakeEncoder) ExtractThumbnail(ctx context.Context, inputPath, outputPath string, atSeconds float64) error {
	if e.thumbErr != nil {
		return e.thumbErr
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("jpeg"), 0o644)
}

// recordingNotifier counts every notification.
type recordingNotifier struct {
	mu             sync.Mutex
	ready          []models.ULID
	partialReady   []models.ULID
	failed         []models.ULID
	retryExhausted []models.QualityName
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{}
}

func (n *recordingNotifier) NotifyVideoReady(ctx context.Context, video *models.Video) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, video.ID)
}

func (n *recordingNotifier) NotifyVideoPartialReady(ctx context.Context, video *models.Video, failedQualities []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partialReady = append(n.partialReady, video.ID)
}

func (n *recordingNotifier) NotifyVideoFailed(ctx context.Context, video *models.Video) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, video.ID)
}

func (n *recordingNotifier) NotifyQualityRetryFailed(ctx context.Context, video *models.Video, quality models.QualityName, lastErr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.retryExhausted = append(n.retryExhausted, quality)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

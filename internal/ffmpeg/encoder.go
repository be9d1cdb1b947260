package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// HLSSpec describes one rendition encode.
type HLSSpec struct {
	InputPath        string
	OutputDir        string
	Width            int
	Height           int
	VideoBitrateKbps int
	AudioBitrateKbps int
	SegmentSeconds   int
}

// HLSResult describes the artifacts an encode produced.
type HLSResult struct {
	PlaylistPath string
	SegmentPaths []string
}

// Progress represents FFmpeg progress information.
type Progress struct {
	Frame int64
	FPS   float64
	Time  time.Duration
	Speed float64
}

// ProgressFunc receives periodic encode progress. It must not block.
type ProgressFunc func(Progress)

// Encoder runs ffmpeg encodes.
type Encoder struct {
	ffmpegPath string
}

// NewEncoder creates a new encoder. An empty path falls back to "ffmpeg" on
// the PATH.
func NewEncoder(ffmpegPath string) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Encoder{ffmpegPath: ffmpegPath}
}

// EncodeHLS transcodes the input into one HLS rendition: a VOD playlist plus
// numbered transport-stream segments under spec.OutputDir.
func (e *Encoder) EncodeHLS(ctx context.Context, spec HLSSpec, onProgress ProgressFunc) (*HLSResult, error) {
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	segmentSeconds := spec.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = 6
	}

	playlistPath := filepath.Join(spec.OutputDir, "playlist.m3u8")
	segmentPattern := filepath.Join(spec.OutputDir, "segment_%03d.ts")

	// Scale preserving aspect ratio, padding to the exact target frame so
	// every rendition of a video shares the same geometry family.
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		spec.Width, spec.Height, spec.Width, spec.Height,
	)

	args := []string{
		"-hide_banner",
		"-y",
		"-i", spec.InputPath,
		"-vf", vf,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "main",
		"-b:v", fmt.Sprintf("%dk", spec.VideoBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", spec.VideoBitrateKbps*11/10),
		"-bufsize", fmt.Sprintf("%dk", spec.VideoBitrateKbps*2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", spec.AudioBitrateKbps),
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
		playlistPath,
	}

	if err := e.run(ctx, args, onProgress); err != nil {
		return nil, err
	}

	segments, err := filepath.Glob(filepath.Join(spec.OutputDir, "segment_*.ts"))
	if err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("encode produced no segments in %s", spec.OutputDir)
	}

	return &HLSResult{
		PlaylistPath: playlistPath,
		SegmentPaths: segments,
	}, nil
}

// ExtractThumbnail grabs a single JPEG frame at the given offset.
func (e *Encoder) ExtractThumbnail(ctx context.Context, inputPath, outputPath string, atSeconds float64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("creating thumbnail dir: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-y",
		"-ss", fmt.Sprintf("%.2f", atSeconds),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "3",
		outputPath,
	}

	if err := e.run(ctx, args, nil); err != nil {
		return err
	}
	return nil
}

// run executes ffmpeg, streaming progress from stderr.
func (e *Encoder) run(ctx context.Context, args []string, onProgress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	tail := parseProgress(stderr, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.Join(tail(), "; "))
	}
	return nil
}

var (
	frameRe = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe   = regexp.MustCompile(`fps=\s*([\d.]+)`)
	timeRe  = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	speedRe = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// parseProgress scans ffmpeg stderr, invoking onProgress per stats line. It
// returns a function yielding the final stderr lines for error reporting.
func parseProgress(r io.Reader, onProgress ProgressFunc) func() []string {
	const keepLines = 5
	var recent []string

	scanner := bufio.NewScanner(r)
	progress := Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		recent = append(recent, line)
		if len(recent) > keepLines {
			recent = recent[1:]
		}

		if matches := frameRe.FindStringSubmatch(line); len(matches) > 1 {
			progress.Frame, _ = strconv.ParseInt(matches[1], 10, 64)
		} else {
			continue
		}
		if matches := fpsRe.FindStringSubmatch(line); len(matches) > 1 {
			progress.FPS, _ = strconv.ParseFloat(matches[1], 64)
		}
		if matches := timeRe.FindStringSubmatch(line); len(matches) > 4 {
			hours, _ := strconv.Atoi(matches[1])
			mins, _ := strconv.Atoi(matches[2])
			secs, _ := strconv.Atoi(matches[3])
			centis, _ := strconv.Atoi(matches[4])
			progress.Time = time.Duration(hours)*time.Hour +
				time.Duration(mins)*time.Minute +
				time.Duration(secs)*time.Second +
				time.Duration(centis)*10*time.Millisecond
		}
		if matches := speedRe.FindStringSubmatch(line); len(matches) > 1 {
			progress.Speed, _ = strconv.ParseFloat(matches[1], 64)
		}

		if onProgress != nil {
			onProgress(progress)
		}
	}

	return func() []string { return recent }
}

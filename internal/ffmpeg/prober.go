// Package ffmpeg wraps the ffmpeg and ffprobe binaries for probing uploads
// and producing HLS renditions.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult contains the ffprobe output for an uploaded file.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle, data
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
	BitRate      string `json:"bit_rate,omitempty"`
}

// MediaInfo is the simplified view the rest of vodarr consumes.
type MediaInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
	VideoCodec      string
	AudioCodec      string
	Framerate       float64
	BitrateBps      int
	ContainerFormat string
}

// HasVideo reports whether a video stream was found.
func (m *MediaInfo) HasVideo() bool {
	return m.VideoCodec != ""
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new prober. An empty path falls back to "ffprobe" on
// the PATH.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs ffprobe against a local file and returns the raw result.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return &result, nil
}

// ProbeMedia probes a file and returns the simplified media info.
func (p *Prober) ProbeMedia(ctx context.Context, path string) (*MediaInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.Simplify(), nil
}

// Simplify flattens a probe result into MediaInfo.
func (r *ProbeResult) Simplify() *MediaInfo {
	info := &MediaInfo{
		ContainerFormat: r.Format.FormatName,
	}

	if r.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(r.Format.Duration, 64); err == nil {
			info.DurationSeconds = dur
		}
	}
	if r.Format.BitRate != "" {
		if br, err := strconv.Atoi(r.Format.BitRate); err == nil {
			info.BitrateBps = br
		}
	}

	if vs := r.GetVideoStream(); vs != nil {
		info.VideoCodec = vs.CodecName
		info.Width = vs.Width
		info.Height = vs.Height
		info.Framerate = vs.Framerate()
	}
	if as := r.GetAudioStream(); as != nil {
		info.AudioCodec = as.CodecName
	}

	return info
}

// GetVideoStream returns the first video stream, or nil.
func (r *ProbeResult) GetVideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// GetAudioStream returns the first audio stream, or nil.
func (r *ProbeResult) GetAudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Framerate returns the stream framerate in fps.
func (s *ProbeStream) Framerate() float64 {
	fr := s.AvgFrameRate
	if fr == "" || fr == "0/0" {
		fr = s.RFrameRate
	}
	return parseFramerate(fr)
}

// parseFramerate parses a framerate string like "30000/1001" or "25".
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	if num, den, ok := strings.Cut(fr, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(fr, 64)
	if err != nil {
		return 0
	}
	return f
}

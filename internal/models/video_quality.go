package models

import (
	"gorm.io/gorm"
)

// QualityName identifies one streaming rendition tier.
type QualityName string

const (
	// Quality360p is the lowest rendition tier.
	Quality360p QualityName = "360p"
	// Quality480p is the SD rendition tier.
	Quality480p QualityName = "480p"
	// Quality720p is the HD rendition tier.
	Quality720p QualityName = "720p"
	// Quality1080p is the full-HD rendition tier.
	Quality1080p QualityName = "1080p"
)

// AllQualities lists every rendition tier in ascending resolution order,
// which is also descending retry preference order.
var AllQualities = []QualityName{Quality360p, Quality480p, Quality720p, Quality1080p}

// qualitySpecs maps each tier to its encode parameters and retry priority.
// Lower priority values are retried first: a single ready low-resolution
// stream is enough to make a video playable.
var qualitySpecs = map[QualityName]QualitySpec{
	Quality360p:  {Height: 360, Width: 640, VideoBitrateKbps: 800, AudioBitrateKbps: 96, RetryPriority: 1},
	Quality480p:  {Height: 480, Width: 854, VideoBitrateKbps: 1400, AudioBitrateKbps: 128, RetryPriority: 2},
	Quality720p:  {Height: 720, Width: 1280, VideoBitrateKbps: 2800, AudioBitrateKbps: 128, RetryPriority: 3},
	Quality1080p: {Height: 1080, Width: 1920, VideoBitrateKbps: 5000, AudioBitrateKbps: 192, RetryPriority: 4},
}

// QualitySpec describes the encode parameters for a rendition tier.
type QualitySpec struct {
	Height           int
	Width            int
	VideoBitrateKbps int
	AudioBitrateKbps int
	RetryPriority    int
}

// Spec returns the encode parameters for a quality name.
func (q QualityName) Spec() (QualitySpec, bool) {
	spec, ok := qualitySpecs[q]
	return spec, ok
}

// Valid reports whether q is a known rendition tier.
func (q QualityName) Valid() bool {
	_, ok := qualitySpecs[q]
	return ok
}

// RetryPriority returns the static retry priority for the tier (lower = first).
func (q QualityName) RetryPriority() int {
	if spec, ok := qualitySpecs[q]; ok {
		return spec.RetryPriority
	}
	return len(qualitySpecs) + 1
}

// QualityStatus represents the state of a single rendition encode.
type QualityStatus string

const (
	// QualityStatusPending indicates the rendition has not started encoding.
	QualityStatusPending QualityStatus = "pending"
	// QualityStatusEncoding indicates the rendition is being encoded.
	QualityStatusEncoding QualityStatus = "encoding"
	// QualityStatusReady indicates the rendition encoded successfully.
	QualityStatusReady QualityStatus = "ready"
	// QualityStatusFailed indicates the last encode attempt failed.
	QualityStatusFailed QualityStatus = "failed"
)

// MaxQualityRetries is the semantic retry budget per rendition. Once a
// rendition has failed this many retries it stays failed permanently.
const MaxQualityRetries = 3

// VideoQuality is one (video, quality name) rendition row. Rows are owned
// exclusively by their video and cascade-deleted with it.
type VideoQuality struct {
	BaseModel

	// VideoID is the owning video.
	VideoID ULID `gorm:"type:varchar(26);not null;index;uniqueIndex:idx_video_quality" json:"video_id"`

	// QualityName is the rendition tier (360p/480p/720p/1080p).
	QualityName QualityName `gorm:"size:16;not null;uniqueIndex:idx_video_quality" json:"quality_name"`

	// Status tracks the rendition state machine:
	// pending -> encoding -> ready | failed, failed -> encoding via retry.
	Status QualityStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`

	// PlaylistPath is the HLS variant playlist object key once ready.
	PlaylistPath string `gorm:"size:512" json:"playlist_path,omitempty"`

	// SegmentCount is the number of HLS segments produced.
	SegmentCount int `json:"segment_count,omitempty"`

	// RetryCount is the number of semantic retries consumed. It never
	// exceeds MaxQualityRetries.
	RetryCount int `gorm:"default:0" json:"retry_count"`

	// RetryPriority is fixed at creation from the quality tier and never
	// changes afterwards. Lower values are retried first.
	RetryPriority int `gorm:"not null;index" json:"retry_priority"`

	// ErrorMessage holds the last encode error.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	// StartedAt is when the current/last encode attempt began.
	StartedAt *Time `json:"started_at,omitempty"`

	// CompletedAt is when the rendition reached ready or failed.
	CompletedAt *Time `json:"completed_at,omitempty"`
}

// TableName returns the table name for VideoQuality.
func (VideoQuality) TableName() string {
	return "video_qualities"
}

// NewVideoQuality creates a pending rendition row with its priority pinned
// from the tier.
func NewVideoQuality(videoID ULID, name QualityName) *VideoQuality {
	return &VideoQuality{
		VideoID:       videoID,
		QualityName:   name,
		Status:        QualityStatusPending,
		RetryPriority: name.RetryPriority(),
	}
}

// IsTerminal reports whether the rendition reached a final state: ready, or
// failed with the retry budget exhausted.
func (q *VideoQuality) IsTerminal() bool {
	if q.Status == QualityStatusReady {
		return true
	}
	return q.Status == QualityStatusFailed && q.RetryCount >= MaxQualityRetries
}

// CanRetry reports whether a failed rendition still has retry budget.
func (q *VideoQuality) CanRetry() bool {
	return q.Status == QualityStatusFailed && q.RetryCount < MaxQualityRetries
}

// MarkEncoding transitions the rendition into the encoding state.
func (q *VideoQuality) MarkEncoding() {
	q.Status = QualityStatusEncoding
	now := Now()
	q.StartedAt = &now
	q.ErrorMessage = ""
}

// MarkReady records a successful encode with its playlist key and segment count.
func (q *VideoQuality) MarkReady(playlistPath string, segmentCount int) {
	q.Status = QualityStatusReady
	q.PlaylistPath = playlistPath
	q.SegmentCount = segmentCount
	q.ErrorMessage = ""
	now := Now()
	q.CompletedAt = &now
}

// MarkFailed records an encode failure.
func (q *VideoQuality) MarkFailed(err error) {
	q.Status = QualityStatusFailed
	if err != nil {
		q.ErrorMessage = err.Error()
	}
	now := Now()
	q.CompletedAt = &now
}

// Validate performs basic validation on the rendition row.
func (q *VideoQuality) Validate() error {
	if q.VideoID.IsZero() {
		return ErrVideoIDRequired
	}
	if !q.QualityName.Valid() {
		return ErrInvalidQualityName
	}
	return nil
}

// BeforeCreate is a GORM hook that pins the retry priority and validates.
func (q *VideoQuality) BeforeCreate(tx *gorm.DB) error {
	if err := q.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if q.RetryPriority == 0 {
		q.RetryPriority = q.QualityName.RetryPriority()
	}
	return q.Validate()
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// VideoStatus represents the aggregate lifecycle state of an uploaded video.
type VideoStatus string

const (
	// VideoStatusUploading indicates an upload URL was issued but the upload
	// has not been confirmed.
	VideoStatusUploading VideoStatus = "uploading"
	// VideoStatusProcessing indicates the upload was confirmed and encoding
	// is in progress.
	VideoStatusProcessing VideoStatus = "processing"
	// VideoStatusReady indicates every requested rendition encoded successfully.
	VideoStatusReady VideoStatus = "ready"
	// VideoStatusPartialReady indicates at least one rendition is ready and
	// at least one failed permanently. The video is playable, degraded.
	VideoStatusPartialReady VideoStatus = "partial_ready"
	// VideoStatusFailed indicates no rendition ever became ready.
	VideoStatusFailed VideoStatus = "failed"
	// VideoStatusCancelled indicates the upload or processing was cancelled.
	VideoStatusCancelled VideoStatus = "cancelled"
)

// IsPlayable reports whether at least one rendition can be served.
func (s VideoStatus) IsPlayable() bool {
	return s == VideoStatusReady || s == VideoStatusPartialReady
}

// IsTerminal reports whether the status is a terminal encoding outcome.
func (s VideoStatus) IsTerminal() bool {
	switch s {
	case VideoStatusReady, VideoStatusPartialReady, VideoStatusFailed, VideoStatusCancelled:
		return true
	}
	return false
}

// StringSlice stores a []string as a JSON column. Used for the set of
// available quality names on a video.
type StringSlice []string

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("marshaling string slice: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for StringSlice: %T", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(s))
}

// Contains reports whether the slice contains the given value.
func (s StringSlice) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// GormDataType returns the GORM data type for StringSlice.
func (StringSlice) GormDataType() string {
	return "text"
}

// Video is one uploaded asset and its aggregate lifecycle state.
// Status transitions are monotonic except for explicit restore; soft delete
// and restore are orthogonal to the status machine.
type Video struct {
	BaseModel

	// UserID is the uploader.
	UserID ULID `gorm:"type:varchar(26);not null;index" json:"user_id"`

	// PostID is the originating post, set on the first playable state.
	PostID *ULID `gorm:"type:varchar(26);index" json:"post_id,omitempty"`

	// OriginalFilename is the client-supplied filename.
	OriginalFilename string `gorm:"size:255;not null" json:"original_filename"`

	// OriginalSize is the declared upload size in bytes.
	OriginalSize int64 `gorm:"not null" json:"original_size"`

	// MimeType is the declared content type.
	MimeType string `gorm:"size:64;not null" json:"mime_type"`

	// Status is the aggregate lifecycle state.
	Status VideoStatus `gorm:"size:20;not null;default:'uploading';index" json:"status"`

	// Probed source metadata, nullable until metadata extraction runs.
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
	Codec           *string  `gorm:"size:32" json:"codec,omitempty"`
	BitrateKbps     *int     `json:"bitrate_kbps,omitempty"`

	// RawFilePath is the object key of the original upload. Cleared only
	// after every rendition succeeded; a pending or retryable rendition
	// still depends on it.
	RawFilePath string `gorm:"size:512" json:"raw_file_path,omitempty"`

	// MasterPlaylistURL is the HLS master playlist object key once written.
	MasterPlaylistURL *string `gorm:"size:512" json:"master_playlist_url,omitempty"`

	// ThumbnailURL is the thumbnail object key once extracted.
	ThumbnailURL *string `gorm:"size:512" json:"thumbnail_url,omitempty"`

	// AvailableQualities is the set of rendition names currently servable.
	// Non-empty only when the status is playable.
	AvailableQualities StringSlice `gorm:"type:text" json:"available_qualities"`

	// RetryCount counts whole-video encode job deliveries.
	RetryCount int `gorm:"default:0" json:"retry_count"`

	// LastError holds the most recent failure message.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// UploadedAt is stamped when the upload is confirmed.
	UploadedAt *Time `json:"uploaded_at,omitempty"`

	// ProcessingCompletedAt is stamped when encoding settles.
	ProcessingCompletedAt *Time `json:"processing_completed_at,omitempty"`

	// DeletedAt soft-deletes the video independently of Status. Hard
	// deletion happens only through the trash cleanup sweep.
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Qualities are the per-rendition rows, cascade-deleted with the video.
	Qualities []VideoQuality `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE" json:"qualities,omitempty"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// Validate performs basic validation on the video.
func (v *Video) Validate() error {
	if v.UserID.IsZero() {
		return ErrUserIDRequired
	}
	if v.OriginalFilename == "" {
		return ErrFilenameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the video and generates its ULID.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return v.Validate()
}

// IsDeleted reports whether the video is soft-deleted.
func (v *Video) IsDeleted() bool {
	return v.DeletedAt.Valid
}

// NeverFinishedIngesting reports whether the video never made it through
// upload confirmation. Restore re-submits such videos for processing.
func (v *Video) NeverFinishedIngesting() bool {
	return v.Status == VideoStatusUploading || v.Status == VideoStatusCancelled
}

// DeriveVideoStatus recomputes the aggregate status from the rendition rows.
// It is the single source of truth invoked after every quality transition so
// that two renditions completing concurrently converge on the same answer.
//
// Rules:
//   - any rendition still pending/encoding or failed-with-budget: processing
//   - every rendition ready: ready
//   - at least one ready, remainder permanently failed: partial_ready
//   - zero ready, all permanently failed: failed
//
// An empty rendition set means encoding has not fanned out yet: processing.
func DeriveVideoStatus(qualities []VideoQuality) VideoStatus {
	if len(qualities) == 0 {
		return VideoStatusProcessing
	}

	ready := 0
	exhausted := 0
	for i := range qualities {
		q := &qualities[i]
		switch {
		case q.Status == QualityStatusReady:
			ready++
		case q.Status == QualityStatusFailed && !q.CanRetry():
			exhausted++
		default:
			// Still in flight or retryable.
			return VideoStatusProcessing
		}
	}

	switch {
	case ready == len(qualities):
		return VideoStatusReady
	case ready > 0:
		return VideoStatusPartialReady
	default:
		return VideoStatusFailed
	}
}

// ReadyQualityNames returns the names of ready renditions in tier order.
func ReadyQualityNames(qualities []VideoQuality) []string {
	names := make([]string, 0, len(qualities))
	for _, tier := range AllQualities {
		for i := range qualities {
			if qualities[i].QualityName == tier && qualities[i].Status == QualityStatusReady {
				names = append(names, string(tier))
			}
		}
	}
	return names
}

// FailedQualityNames returns the names of permanently failed renditions.
func FailedQualityNames(qualities []VideoQuality) []string {
	var names []string
	for i := range qualities {
		if qualities[i].Status == QualityStatusFailed && !qualities[i].CanRetry() {
			names = append(names, string(qualities[i].QualityName))
		}
	}
	return names
}

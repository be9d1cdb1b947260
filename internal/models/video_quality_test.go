package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityNameSpec(t *testing.T) {
	spec, ok := Quality1080p.Spec()
	assert.True(t, ok)
	assert.Equal(t, 1920, spec.Width)
	assert.Equal(t, 1080, spec.Height)
	assert.Equal(t, 5000, spec.VideoBitrateKbps)

	_, ok = QualityName("144p").Spec()
	assert.False(t, ok)
	assert.False(t, QualityName("144p").Valid())
}

func TestRetryPriorityOrdering(t *testing.T) {
	assert.Equal(t, 1, Quality360p.RetryPriority())
	assert.Equal(t, 2, Quality480p.RetryPriority())
	assert.Equal(t, 3, Quality720p.RetryPriority())
	assert.Equal(t, 4, Quality1080p.RetryPriority())
}

func TestQualityLifecycle(t *testing.T) {
	q := NewVideoQuality(NewULID(), Quality720p)
	assert.Equal(t, QualityStatusPending, q.Status)
	assert.Equal(t, 3, q.RetryPriority)
	assert.False(t, q.IsTerminal())
	assert.False(t, q.CanRetry())

	q.MarkEncoding()
	assert.Equal(t, QualityStatusEncoding, q.Status)
	assert.NotNil(t, q.StartedAt)

	q.MarkFailed(errors.New("encoder crashed"))
	assert.Equal(t, QualityStatusFailed, q.Status)
	assert.Equal(t, "encoder crashed", q.ErrorMessage)
	assert.True(t, q.CanRetry())
	assert.False(t, q.IsTerminal())

	q.RetryCount = MaxQualityRetries
	assert.False(t, q.CanRetry())
	assert.True(t, q.IsTerminal())
}

func TestQualityMarkReadyClearsError(t *testing.T) {
	q := NewVideoQuality(NewULID(), Quality360p)
	q.MarkFailed(errors.New("transient"))
	q.RetryCount = 1

	q.MarkEncoding()
	q.MarkReady("encoded/v/360p/playlist.m3u8", 42)

	assert.Equal(t, QualityStatusReady, q.Status)
	assert.Equal(t, "encoded/v/360p/playlist.m3u8", q.PlaylistPath)
	assert.Equal(t, 42, q.SegmentCount)
	assert.Empty(t, q.ErrorMessage)
	assert.Equal(t, 1, q.RetryCount)
	assert.True(t, q.IsTerminal())
}

func TestQualityValidate(t *testing.T) {
	q := &VideoQuality{}
	assert.ErrorIs(t, q.Validate(), ErrVideoIDRequired)

	q.VideoID = NewULID()
	assert.ErrorIs(t, q.Validate(), ErrInvalidQualityName)

	q.QualityName = Quality480p
	assert.NoError(t, q.Validate())
}

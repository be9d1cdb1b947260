// Package testutil provides shared test helpers: an in-memory database and
// domain fixtures.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vodarr/vodarr/internal/models"
)

// NewTestDB opens a fresh in-memory SQLite database with the full schema
// migrated. Each call returns an isolated database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Video{},
		&models.VideoQuality{},
		&models.EncodeJob{},
	))

	return db
}

// NewTestUser creates and persists an active, verified user.
func NewTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	user := &models.User{
		Email:         models.NewULID().String() + "@example.test",
		Active:        true,
		EmailVerified: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// NewTestVideo creates and persists a video in the given status owned by
// the user.
func NewTestVideo(t *testing.T, db *gorm.DB, userID models.ULID, status models.VideoStatus) *models.Video {
	t.Helper()

	video := &models.Video{
		UserID:           userID,
		OriginalFilename: "clip.mp4",
		OriginalSize:     50 << 20,
		MimeType:         "video/mp4",
		Status:           status,
	}
	video.ID = models.NewULID()
	video.RawFilePath = "raw/" + video.ID.String() + ".mp4"
	require.NoError(t, db.Create(video).Error)
	return video
}

// NewTestQuality creates and persists one rendition row in the given status.
func NewTestQuality(t *testing.T, db *gorm.DB, videoID models.ULID, name models.QualityName, status models.QualityStatus) *models.VideoQuality {
	t.Helper()

	q := models.NewVideoQuality(videoID, name)
	q.Status = status
	require.NoError(t, db.Create(q).Error)
	return q
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/testutil"
)

func newUploadService(t *testing.T, db *gorm.DB, store *fakeStore) *UploadService {
	t.Helper()
	return NewUploadService(
		repository.NewVideoRepository(db),
		repository.NewUserRepository(db),
		repository.NewJobRepository(db),
		store,
		config.UploadConfig{
			MaxSizeBytes:     2 << 30,
			URLExpiry:        15 * time.Minute,
			MaxVideosPerUser: 3,
		},
		testLogger(),
	)
}

func TestGenerateUploadURL(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := newFakeStore()
	svc := newUploadService(t, db, store)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)

	ticket, err := svc.GenerateUploadURL(ctx, user.ID, "holiday.mp4", 100<<20, "video/mp4")
	require.NoError(t, err)
	assert.False(t, ticket.VideoID.IsZero())
	assert.Contains(t, ticket.UploadURL, ticket.RawKey)
	assert.Contains(t, ticket.RawKey, "raw/")

	video, err := repository.NewVideoRepository(db).GetByID(ctx, ticket.VideoID)
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.Equal(t, models.VideoStatusUploading, video.Status)
	assert.Equal(t, ticket.RawKey, video.RawFilePath)
}

func TestGenerateUploadURLValidation(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := newUploadService(t, db, newFakeStore())
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)

	tests := []struct {
		name     string
		filename string
		size     int64
		mime     string
	}{
		{"empty filename", "", 100, "video/mp4"},
		{"zero size", "a.mp4", 0, "video/mp4"},
		{"oversize", "a.mp4", 3 << 30, "video/mp4"},
		{"bad mime", "a.gif", 100, "image/gif"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GenerateUploadURL(ctx, user.ID, tt.filename, tt.size, tt.mime)
			assert.True(t, models.IsValidation(err))
		})
	}
}

func TestGenerateUploadURLRejectsUnfitUsers(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := newUploadService(t, db, newFakeStore())
	ctx := context.Background()

	_, err := svc.GenerateUploadURL(ctx, models.NewULID(), "a.mp4", 100, "video/mp4")
	assert.True(t, models.IsNotFound(err))

	inactive := &models.User{Email: "inactive@example.test", Active: false, EmailVerified: true}
	require.NoError(t, db.Create(inactive).Error)
	_, err = svc.GenerateUploadURL(ctx, inactive.ID, "a.mp4", 100, "video/mp4")
	assert.True(t, models.IsPermission(err))

	unverified := &models.User{Email: "unverified@example.test", Active: true, EmailVerified: false}
	require.NoError(t, db.Create(unverified).Error)
	_, err = svc.GenerateUploadURL(ctx, unverified.ID, "a.mp4", 100, "video/mp4")
	assert.True(t, models.IsPermission(err))
}

func TestGenerateUploadURLEnforcesVideoCap(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := newUploadService(t, db, newFakeStore())
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	for i := 0; i < 3; i++ {
		testutil.NewTestVideo(t, db, user.ID, models.VideoStatusReady)
	}

	_, err := svc.GenerateUploadURL(ctx, user.ID, "one-too-many.mp4", 100, "video/mp4")
	assert.True(t, models.IsValidation(err))
}

func TestConfirmUpload(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := newFakeStore()
	svc := newUploadService(t, db, store)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	ticket, err := svc.GenerateUploadURL(ctx, user.ID, "holiday.mp4", 100<<20, "video/mp4")
	require.NoError(t, err)

	store.putObject(ticket.RawKey, []byte("mp4 bytes"), time.Now())

	video, err := svc.ConfirmUpload(ctx, ticket.VideoID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusProcessing, video.Status)
	assert.NotNil(t, video.UploadedAt)

	job, err := repository.NewJobRepository(db).GetByJobKey(ctx, models.EncodeJobKey(ticket.VideoID))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobTypeVideoEncode, job.Type)
	assert.Equal(t, models.JobStatusWaiting, job.Status)
}

func TestConfirmUploadMissingObjectDoesNotEnqueue(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := newUploadService(t, db, newFakeStore())
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	ticket, err := svc.GenerateUploadURL(ctx, user.ID, "holiday.mp4", 100<<20, "video/mp4")
	require.NoError(t, err)

	_, err = svc.ConfirmUpload(ctx, ticket.VideoID, user.ID)
	assert.True(t, models.IsValidation(err))

	// Still uploading, and no job was queued.
	video, err := repository.NewVideoRepository(db).GetByID(ctx, ticket.VideoID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusUploading, video.Status)

	job, err := repository.NewJobRepository(db).GetByJobKey(ctx, models.EncodeJobKey(ticket.VideoID))
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestConfirmUploadOwnershipAndState(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := newFakeStore()
	svc := newUploadService(t, db, store)
	ctx := context.Background()

	owner := testutil.NewTestUser(t, db)
	stranger := testutil.NewTestUser(t, db)
	ticket, err := svc.GenerateUploadURL(ctx, owner.ID, "holiday.mp4", 100<<20, "video/mp4")
	require.NoError(t, err)
	store.putObject(ticket.RawKey, []byte("mp4 bytes"), time.Now())

	_, err = svc.ConfirmUpload(ctx, ticket.VideoID, stranger.ID)
	assert.True(t, models.IsPermission(err))

	_, err = svc.ConfirmUpload(ctx, models.NewULID(), owner.ID)
	assert.True(t, models.IsNotFound(err))

	_, err = svc.ConfirmUpload(ctx, ticket.VideoID, owner.ID)
	require.NoError(t, err)

	// Confirming twice is rejected: the video already left uploading.
	_, err = svc.ConfirmUpload(ctx, ticket.VideoID, owner.ID)
	assert.True(t, models.IsValidation(err))
}

func TestCancelUpload(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := newFakeStore()
	svc := newUploadService(t, db, store)
	ctx := context.Background()

	user := testutil.NewTestUser(t, db)
	ticket, err := svc.GenerateUploadURL(ctx, user.ID, "holiday.mp4", 100<<20, "video/mp4")
	require.NoError(t, err)
	store.putObject(ticket.RawKey, []byte("partial"), time.Now())

	require.NoError(t, svc.CancelUpload(ctx, ticket.VideoID, user.ID))

	assert.False(t, store.hasObject(ticket.RawKey))

	video, err := repository.NewVideoRepository(db).GetByID(ctx, ticket.VideoID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusCancelled, video.Status)

	// Terminal videos cannot be cancelled again.
	err = svc.CancelUpload(ctx, ticket.VideoID, user.ID)
	assert.True(t, models.IsValidation(err))
}

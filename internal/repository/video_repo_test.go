package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clipdock/clipdock/internal/models"
)

func setupVideoTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps every goroutine on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Video{}))
	return db
}

func newTestVideo(tenant, title string) *models.Video {
	return &models.Video{
		TenantID: tenant,
		OwnerID:  "user-1",
		Title:    title,
		Filename: "clip.mp4",
		Size:     4096,
		Status:   models.VideoStatusUploaded,
	}
}

func TestVideoRepo_CreateAndGet(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	video := newTestVideo("tenant-a", "First clip")
	video.BlobRef = "tenant-a/first.mp4"
	require.NoError(t, repo.Create(ctx, video))
	assert.False(t, video.ID.IsZero())

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "First clip", found.Title)
	assert.Equal(t, "tenant-a", found.TenantID)
	assert.Equal(t, models.VideoStatusUploaded, found.Status)
	assert.Equal(t, "tenant-a/first.mp4", found.BlobRef)
}

func TestVideoRepo_GetByIDMissing(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))

	found, err := repo.GetByID(context.Background(), models.NewULID())
	require.NoError(t, err, "missing rows are not errors")
	assert.Nil(t, found)
}

func TestVideoRepo_CreateRejectsInvalid(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))

	video := newTestVideo("tenant-a", "ab") // title below minimum length
	err := repo.Create(context.Background(), video)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

func TestVideoRepo_List(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	for i, title := range []string{"Alpha clip", "Beta clip", "Gamma clip"} {
		v := newTestVideo("tenant-a", title)
		v.BlobRef = title
		v.CreatedAt = time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, repo.Create(ctx, v))
	}
	other := newTestVideo("tenant-b", "Other tenant clip")
	require.NoError(t, repo.Create(ctx, other))

	t.Run("scoped to tenant, newest first", func(t *testing.T) {
		videos, total, err := repo.List(ctx, "tenant-a", ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, videos, 3)
		assert.Equal(t, "Gamma clip", videos[0].Title)
		assert.Equal(t, "Alpha clip", videos[2].Title)
	})

	t.Run("pagination", func(t *testing.T) {
		videos, total, err := repo.List(ctx, "tenant-a", ListFilter{Offset: 1, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, videos, 1)
		assert.Equal(t, "Beta clip", videos[0].Title)
	})

	t.Run("status filter", func(t *testing.T) {
		videos, total, err := repo.List(ctx, "tenant-a", ListFilter{Status: models.VideoStatusSafe})
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
		assert.Empty(t, videos)
	})
}

func TestVideoRepo_ListByStatus(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	uploaded := newTestVideo("tenant-a", "Still uploaded")
	uploaded.BlobRef = "a"
	require.NoError(t, repo.Create(ctx, uploaded))

	processing := newTestVideo("tenant-b", "Mid pipeline")
	processing.BlobRef = "b"
	require.NoError(t, processing.MarkProcessing(time.Now()))
	require.NoError(t, repo.Create(ctx, processing))

	found, err := repo.ListByStatus(ctx, models.VideoStatusProcessing)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Mid pipeline", found[0].Title)

	found, err = repo.ListByStatus(ctx, models.VideoStatusUploaded)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Still uploaded", found[0].Title)
}

func TestVideoRepo_UpdateLifecycle(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	video := newTestVideo("tenant-a", "Lifecycle clip")
	require.NoError(t, repo.Create(ctx, video))

	require.NoError(t, video.MarkProcessing(time.Now()))
	require.NoError(t, repo.Update(ctx, video))

	sens := &models.Sensitivity{
		Score:   0,
		Verdict: models.VerdictSafe,
		Rules:   []string{"Passed all content checks"},
	}
	require.NoError(t, video.MarkCompleted(sens, time.Now()))
	require.NoError(t, repo.Update(ctx, video))

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.VideoStatusSafe, found.Status)
	assert.Equal(t, 100, found.Progress)
	require.NotNil(t, found.Sensitivity, "sensitivity survives the JSON column round trip")
	assert.Equal(t, models.VerdictSafe, found.Sensitivity.Verdict)
	assert.Equal(t, []string{"Passed all content checks"}, found.Sensitivity.Rules)
	require.NotNil(t, found.ProcessingCompletedAt)
}

func TestVideoRepo_ErrorHistoryRoundTrip(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	video := newTestVideo("tenant-a", "Broken clip")
	require.NoError(t, repo.Create(ctx, video))

	require.NoError(t, video.MarkProcessing(time.Now()))
	require.NoError(t, video.MarkFailed("validation", "unsupported container", time.Now()))
	require.NoError(t, repo.Update(ctx, video))

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, found.Errors, 1)
	assert.Equal(t, "validation", found.Errors[0].Step)
	assert.Equal(t, "unsupported container", found.Errors[0].Message)
	assert.Equal(t, 10, found.Progress, "failed keeps last progress")
}

func TestVideoRepo_Delete(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	video := newTestVideo("tenant-a", "Doomed clip")
	video.BlobRef = "tenant-a/doomed.mp4"
	require.NoError(t, repo.Create(ctx, video))

	require.NoError(t, repo.Delete(ctx, video.ID))

	found, err := repo.GetByID(ctx, video.ID)
	require.NoError(t, err)
	assert.Nil(t, found, "soft-deleted videos are invisible to lookups")

	exists, err := repo.BlobRefExists(ctx, "tenant-a/doomed.mp4")
	require.NoError(t, err)
	assert.True(t, exists, "soft-deleted rows still claim their blob")
}

func TestVideoRepo_BlobRefExists(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	video := newTestVideo("tenant-a", "Ref clip")
	video.BlobRef = "tenant-a/ref.mp4"
	require.NoError(t, repo.Create(ctx, video))

	exists, err := repo.BlobRefExists(ctx, "tenant-a/ref.mp4")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.BlobRefExists(ctx, "tenant-a/unclaimed.mp4")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestVideoRepo_PurgeDeletedBefore(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	video := newTestVideo("tenant-a", "Purge clip")
	video.BlobRef = "tenant-a/purge.mp4"
	require.NoError(t, repo.Create(ctx, video))
	require.NoError(t, repo.Delete(ctx, video.ID))

	// Nothing deleted before the cutoff in the past.
	n, err := repo.PurgeDeletedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.PurgeDeletedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := repo.BlobRefExists(ctx, "tenant-a/purge.mp4")
	require.NoError(t, err)
	assert.False(t, exists, "purged rows release their blob ref")
}

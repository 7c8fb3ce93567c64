package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clipdock/clipdock/internal/auth"
	"github.com/clipdock/clipdock/internal/blob"
	"github.com/clipdock/clipdock/internal/events"
	"github.com/clipdock/clipdock/internal/models"
	"github.com/clipdock/clipdock/internal/pipeline"
	"github.com/clipdock/clipdock/internal/repository"
)

type fakeScheduler struct {
	calls atomic.Int64
	err   error
	// fn runs inside Schedule, for ordering assertions.
	fn func(id models.ULID)
}

func (f *fakeScheduler) Schedule(_ context.Context, id models.ULID) (pipeline.ScheduleResult, error) {
	f.calls.Add(1)
	if f.fn != nil {
		f.fn(id)
	}
	if f.err != nil {
		return "", f.err
	}
	return pipeline.ScheduleAccepted, nil
}

func testService(t *testing.T) (*VideoService, *fakeScheduler, repository.VideoRepository, *blob.Store, *events.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps every goroutine on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Video{}))

	repo := repository.NewVideoRepository(db)
	store, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	sched := &fakeScheduler{}
	svc := NewVideoService(repo, store, bus, sched)
	return svc, sched, repo, store, bus
}

func alice() *auth.Principal {
	return &auth.Principal{ID: "alice", TenantID: "tenant-a"}
}

func mallory() *auth.Principal {
	return &auth.Principal{ID: "mallory", TenantID: "tenant-b"}
}

func uploadReq(title, filename string, payload []byte) UploadRequest {
	return UploadRequest{
		Title:    title,
		Filename: filename,
		Body:     bytes.NewReader(payload),
	}
}

func TestUploadHappyPath(t *testing.T) {
	svc, sched, repo, store, bus := testService(t)
	sub := bus.Subscribe("tenant-a")
	defer bus.Unsubscribe(sub)

	// The uploaded event must be on the bus before the pipeline is asked
	// to run, so subscribers always see the upload first.
	sched.fn = func(models.ULID) {
		assert.Equal(t, 1, len(sub.Events))
	}

	payload := bytes.Repeat([]byte{0x42}, 2048)
	video, err := svc.Upload(context.Background(), alice(), uploadReq("Morning standup recap", "standup.mp4", payload))
	require.NoError(t, err)

	assert.Equal(t, models.VideoStatusUploaded, video.Status)
	assert.Equal(t, 0, video.Progress)
	assert.Equal(t, "tenant-a", video.TenantID)
	assert.Equal(t, "alice", video.OwnerID)
	assert.EqualValues(t, 2048, video.Size)
	assert.NotEmpty(t, video.BlobRef)
	assert.EqualValues(t, 1, sched.calls.Load())

	select {
	case ev := <-sub.Events:
		assert.Equal(t, events.TypeVideoUploaded, ev.Type)
		assert.Equal(t, video.ID, ev.VideoID)
		require.NotNil(t, ev.Summary)
		assert.Equal(t, "Morning standup recap", ev.Summary.Title)
	case <-time.After(time.Second):
		t.Fatal("no uploaded event")
	}

	stored, err := repo.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, video.BlobRef, stored.BlobRef)

	f, err := store.Open(video.BlobRef)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestUploadValidation(t *testing.T) {
	svc, sched, _, _, _ := testService(t)

	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"title too short", uploadReq("ab", "clip.mp4", []byte("data"))},
		{"title too long", uploadReq(strings.Repeat("a", 101), "clip.mp4", []byte("data"))},
		{"description too long", UploadRequest{
			Title:       "Valid title",
			Description: strings.Repeat("d", 1001),
			Filename:    "clip.mp4",
			Body:        bytes.NewReader([]byte("data")),
		}},
		{"empty filename", uploadReq("Valid title", "", []byte("data"))},
		{"filename too long", uploadReq("Valid title", strings.Repeat("f", 513), []byte("data"))},
		{"missing body", UploadRequest{Title: "Valid title", Filename: "clip.mp4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), alice(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.EqualValues(t, 0, sched.calls.Load())
}

func TestUploadTooLarge(t *testing.T) {
	svc, sched, _, store, _ := testService(t)
	svc.WithMaxBlobBytes(10)

	_, err := svc.Upload(context.Background(), alice(), uploadReq("Oversize clip", "big.mp4", bytes.Repeat([]byte{1}, 20)))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.EqualValues(t, 0, sched.calls.Load())

	refs, err := store.Refs()
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestUploadEmptyFile(t *testing.T) {
	svc, sched, _, store, _ := testService(t)

	_, err := svc.Upload(context.Background(), alice(), uploadReq("Empty clip", "empty.mp4", nil))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "empty file")
	assert.EqualValues(t, 0, sched.calls.Load())

	refs, err := store.Refs()
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestUploadScheduleFailureStillSucceeds(t *testing.T) {
	svc, sched, repo, _, _ := testService(t)
	sched.err = pipeline.ErrQueueFull

	video, err := svc.Upload(context.Background(), alice(), uploadReq("Queued later clip", "clip.mp4", []byte("payload")))
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.VideoStatusUploaded, stored.Status)
}

func TestGetTenancy(t *testing.T) {
	svc, _, _, _, _ := testService(t)

	video, err := svc.Upload(context.Background(), alice(), uploadReq("Tenant a clip", "clip.mp4", []byte("payload")))
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), alice(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, video.ID, got.ID)

	_, err = svc.Get(context.Background(), mallory(), video.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(context.Background(), alice(), models.NewULID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	svc, _, repo, _, _ := testService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.Upload(context.Background(), alice(), uploadReq("Tenant a clip", "clip.mp4", []byte("payload")))
		require.NoError(t, err)
	}
	other, err := svc.Upload(context.Background(), mallory(), uploadReq("Tenant b clip", "clip.mp4", []byte("payload")))
	require.NoError(t, err)

	videos, total, err := svc.List(context.Background(), alice(), ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, videos, 3)
	for _, v := range videos {
		assert.Equal(t, "tenant-a", v.TenantID)
	}

	// Pagination.
	videos, total, err = svc.List(context.Background(), alice(), ListOptions{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, videos, 1)

	// Status filter.
	flagged, err := repo.GetByID(context.Background(), other.ID)
	require.NoError(t, err)
	flagged.Status = models.VideoStatusFlagged
	flagged.Progress = 100
	require.NoError(t, repo.Update(context.Background(), flagged))

	videos, total, err = svc.List(context.Background(), mallory(), ListOptions{Status: models.VideoStatusFlagged})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, videos, 1)
	assert.Equal(t, other.ID, videos[0].ID)

	videos, total, err = svc.List(context.Background(), mallory(), ListOptions{Status: models.VideoStatusUploaded})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.Empty(t, videos)

	_, _, err = svc.List(context.Background(), alice(), ListOptions{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProcessingStatus(t *testing.T) {
	svc, _, repo, _, _ := testService(t)

	video, err := svc.Upload(context.Background(), alice(), uploadReq("Status clip", "clip.mp4", []byte("payload")))
	require.NoError(t, err)

	view, err := svc.ProcessingStatus(context.Background(), alice(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusUploaded, view.Status)
	assert.Equal(t, 0, view.Progress)
	assert.Nil(t, view.Sensitivity)
	assert.NotNil(t, view.Errors)
	assert.Empty(t, view.Errors)
	assert.False(t, view.Timeline.CreatedAt.IsZero())
	assert.Nil(t, view.Timeline.CompletedAt)

	// Drive to terminal by hand and read it back.
	now := time.Now().UTC()
	stored, err := repo.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	require.NoError(t, stored.MarkProcessing(now))
	sens := &models.Sensitivity{Score: 0, Verdict: models.VerdictSafe, Summary: "Content passed all checks"}
	require.NoError(t, stored.MarkCompleted(sens, now))
	require.NoError(t, repo.Update(context.Background(), stored))

	view, err = svc.ProcessingStatus(context.Background(), alice(), video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusSafe, view.Status)
	assert.Equal(t, 100, view.Progress)
	require.NotNil(t, view.Sensitivity)
	require.NotNil(t, view.Timeline.CompletedAt)

	_, err = svc.ProcessingStatus(context.Background(), mallory(), video.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDelete(t *testing.T) {
	svc, _, repo, store, _ := testService(t)

	video, err := svc.Upload(context.Background(), alice(), uploadReq("Doomed clip", "clip.mp4", []byte("payload")))
	require.NoError(t, err)

	// Non-terminal videos cannot be deleted.
	err = svc.Delete(context.Background(), alice(), video.ID)
	assert.ErrorIs(t, err, ErrNotTerminal)

	now := time.Now().UTC()
	stored, err := repo.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	require.NoError(t, stored.MarkProcessing(now))
	require.NoError(t, stored.MarkCompleted(&models.Sensitivity{Verdict: models.VerdictSafe}, now))
	require.NoError(t, repo.Update(context.Background(), stored))

	// Cross-tenant delete is blocked.
	err = svc.Delete(context.Background(), mallory(), video.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, svc.Delete(context.Background(), alice(), video.ID))

	gone, err := repo.GetByID(context.Background(), video.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	refs, err := store.Refs()
	require.NoError(t, err)
	assert.Empty(t, refs)

	err = svc.Delete(context.Background(), alice(), video.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenBlob(t *testing.T) {
	svc, _, _, _, _ := testService(t)

	payload := []byte("streamable payload")
	video, err := svc.Upload(context.Background(), alice(), uploadReq("Streamed clip", "clip.mp4", payload))
	require.NoError(t, err)

	got, f, err := svc.OpenBlob(context.Background(), alice(), video.ID)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, video.ID, got.ID)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, _, err = svc.OpenBlob(context.Background(), mallory(), video.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

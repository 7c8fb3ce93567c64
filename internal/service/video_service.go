// Package service provides the business logic layer between the HTTP
// surface and the storage, pipeline and event layers.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/clipdock/clipdock/internal/auth"
	"github.com/clipdock/clipdock/internal/blob"
	"github.com/clipdock/clipdock/internal/events"
	"github.com/clipdock/clipdock/internal/models"
	"github.com/clipdock/clipdock/internal/observability"
	"github.com/clipdock/clipdock/internal/pipeline"
	"github.com/clipdock/clipdock/internal/repository"
)

var (
	// ErrNotFound reports an unknown video id.
	ErrNotFound = errors.New("video not found")
	// ErrForbidden reports a cross-tenant access attempt. Tenancy is
	// enforced here even though routing upstream should already prevent it.
	ErrForbidden = errors.New("cross-tenant access denied")
	// ErrNotTerminal reports a delete against a video still moving through
	// the pipeline.
	ErrNotTerminal = errors.New("video is not in a terminal state")
	// ErrInvalidInput reports caller-side input the service refuses.
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultMaxBlobBytes caps uploads when no limit is configured.
const DefaultMaxBlobBytes = 2 << 30 // 2 GiB

// DefaultPerPage is the page size used when a listing gives none.
const DefaultPerPage = 20

// MaxPerPage caps a listing page.
const MaxPerPage = 100

// Scheduler hands accepted uploads to the processing pipeline.
type Scheduler interface {
	Schedule(ctx context.Context, id models.ULID) (pipeline.ScheduleResult, error)
}

// UploadRequest carries one intake submission.
type UploadRequest struct {
	Title       string
	Description string
	Filename    string
	Body        io.Reader
}

// ListOptions pages a tenant's video listing.
type ListOptions struct {
	// Status restricts results to one lifecycle state when non-empty.
	Status  models.VideoStatus
	Page    int
	PerPage int
}

// Timeline is the wall-clock view of one video's processing.
type Timeline struct {
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ProcessingStatusView is the processing-status response shape.
type ProcessingStatusView struct {
	Status      models.VideoStatus         `json:"status"`
	Progress    int                        `json:"progress"`
	Sensitivity *models.Sensitivity        `json:"sensitivity,omitempty"`
	Errors      models.ProcessingErrorList `json:"errors"`
	Timeline    Timeline                   `json:"timeline"`
}

// VideoService implements intake, retrieval and deletion of videos.
type VideoService struct {
	repo     repository.VideoRepository
	blobs    *blob.Store
	bus      *events.Bus
	engine   Scheduler
	maxBytes int64
	logger   *slog.Logger
}

// NewVideoService creates a video service.
func NewVideoService(repo repository.VideoRepository, blobs *blob.Store, bus *events.Bus, engine Scheduler) *VideoService {
	return &VideoService{
		repo:     repo,
		blobs:    blobs,
		bus:      bus,
		engine:   engine,
		maxBytes: DefaultMaxBlobBytes,
		logger:   observability.WithComponent(slog.Default(), "service"),
	}
}

// WithLogger sets the logger for the service.
func (s *VideoService) WithLogger(logger *slog.Logger) *VideoService {
	if logger != nil {
		s.logger = observability.WithComponent(logger, "service")
	}
	return s
}

// WithMaxBlobBytes sets the upload size limit.
func (s *VideoService) WithMaxBlobBytes(n int64) *VideoService {
	if n > 0 {
		s.maxBytes = n
	}
	return s
}

// Upload stores the payload, creates the video record, announces it and
// schedules processing. The record and the uploaded event are both in
// place before the pipeline can publish anything for the video.
//
// A schedule rejection does not fail the upload: the video stays in
// uploaded and the maintenance requeue picks it up.
func (s *VideoService) Upload(ctx context.Context, principal *auth.Principal, req UploadRequest) (*models.Video, error) {
	video := &models.Video{
		BaseModel:   models.BaseModel{ID: models.NewULID()},
		TenantID:    principal.TenantID,
		OwnerID:     principal.ID,
		Title:       req.Title,
		Description: req.Description,
		Filename:    req.Filename,
		Status:      models.VideoStatusUploaded,
	}
	if err := video.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if req.Body == nil {
		return nil, fmt.Errorf("%w: missing file", ErrInvalidInput)
	}

	ref, size, err := s.blobs.Save(ctx, principal.TenantID, video.ID.String(), video.Ext(), req.Body, s.maxBytes)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, s.maxBytes)
		}
		return nil, fmt.Errorf("storing blob: %w", err)
	}
	if size == 0 {
		s.discardBlob(ref)
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	video.BlobRef = ref
	video.Size = size

	if err := s.repo.Create(ctx, video); err != nil {
		s.discardBlob(ref)
		return nil, fmt.Errorf("creating video record: %w", err)
	}

	s.bus.Publish(events.Uploaded(video))

	if _, err := s.engine.Schedule(ctx, video.ID); err != nil {
		s.logger.Warn("scheduling upload failed, video awaits requeue",
			"video_id", video.ID, "error", err)
	}

	s.logger.Info("video uploaded",
		"video_id", video.ID,
		"tenant_id", video.TenantID,
		"title", video.Title,
		"size", video.Size)
	return video, nil
}

// Get returns the video, enforcing tenancy.
func (s *VideoService) Get(ctx context.Context, principal *auth.Principal, id models.ULID) (*models.Video, error) {
	video, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading video: %w", err)
	}
	if video == nil {
		return nil, ErrNotFound
	}
	if video.TenantID != principal.TenantID {
		return nil, ErrForbidden
	}
	return video, nil
}

// List pages the principal's tenant videos, newest first.
func (s *VideoService) List(ctx context.Context, principal *auth.Principal, opts ListOptions) ([]*models.Video, int64, error) {
	if opts.Status != "" && !opts.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, opts.Status)
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	videos, total, err := s.repo.List(ctx, principal.TenantID, repository.ListFilter{
		Status: opts.Status,
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing videos: %w", err)
	}
	return videos, total, nil
}

// ProcessingStatus returns the pipeline view of one video.
func (s *VideoService) ProcessingStatus(ctx context.Context, principal *auth.Principal, id models.ULID) (*ProcessingStatusView, error) {
	video, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	view := &ProcessingStatusView{
		Status:      video.Status,
		Progress:    video.Progress,
		Sensitivity: video.Sensitivity,
		Errors:      video.Errors,
		Timeline: Timeline{
			CreatedAt:   video.CreatedAt,
			CompletedAt: video.ProcessingCompletedAt,
		},
	}
	if view.Errors == nil {
		view.Errors = models.ProcessingErrorList{}
	}
	return view, nil
}

// Delete removes a terminal video's record and payload.
func (s *VideoService) Delete(ctx context.Context, principal *auth.Principal, id models.ULID) error {
	video, err := s.Get(ctx, principal, id)
	if err != nil {
		return err
	}
	if !video.Status.IsTerminal() {
		return ErrNotTerminal
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting video record: %w", err)
	}
	// Blob removal is best-effort; the orphan sweep reclaims leftovers.
	if err := s.blobs.Remove(video.BlobRef); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("removing blob after delete", "video_id", id, "error", err)
	}

	s.logger.Info("video deleted", "video_id", id, "tenant_id", principal.TenantID)
	return nil
}

// OpenBlob returns the video and a random-access handle on its payload.
// The caller owns the handle.
func (s *VideoService) OpenBlob(ctx context.Context, principal *auth.Principal, id models.ULID) (*models.Video, *os.File, error) {
	video, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.blobs.Open(video.BlobRef)
	if err != nil {
		return nil, nil, fmt.Errorf("opening blob: %w", err)
	}
	return video, f, nil
}

func (s *VideoService) discardBlob(ref string) {
	if err := s.blobs.Remove(ref); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("discarding rejected blob", "ref", ref, "error", err)
	}
}

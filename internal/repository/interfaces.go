// Package repository defines data access interfaces for clipdock entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/clipdock/clipdock/internal/models"
)

// ListFilter constrains and pages List queries.
type ListFilter struct {
	// Status restricts results to one lifecycle state when non-empty.
	Status models.VideoStatus
	Offset int
	Limit  int
}

// VideoRepository defines operations for video persistence.
// Lookups return (nil, nil) when no matching row exists.
type VideoRepository interface {
	// Create creates a new video.
	Create(ctx context.Context, video *models.Video) error
	// GetByID retrieves a video by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Video, error)
	// List retrieves a tenant's videos, newest first, with the total count.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]*models.Video, int64, error)
	// ListByStatus retrieves all videos in the given lifecycle state,
	// oldest first, across tenants.
	ListByStatus(ctx context.Context, status models.VideoStatus) ([]*models.Video, error)
	// Update persists all fields of an existing video.
	Update(ctx context.Context, video *models.Video) error
	// Delete soft-deletes a video by ID.
	Delete(ctx context.Context, id models.ULID) error
	// BlobRefExists reports whether any video row, soft-deleted included,
	// still claims the given blob reference.
	BlobRefExists(ctx context.Context, ref string) (bool, error)
	// PurgeDeletedBefore permanently removes videos soft-deleted before the
	// given time and returns how many rows were dropped.
	PurgeDeletedBefore(ctx context.Context, before time.Time) (int64, error)
}

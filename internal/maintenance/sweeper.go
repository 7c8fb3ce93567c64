// Package maintenance runs periodic background sweeps: orphan blob
// reclamation, purging of soft-deleted rows past retention, and requeue
// of stranded uploads.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clipdock/clipdock/internal/blob"
	"github.com/clipdock/clipdock/internal/observability"
	"github.com/clipdock/clipdock/internal/pipeline"
	"github.com/clipdock/clipdock/internal/repository"
	"github.com/clipdock/clipdock/pkg/format"
)

// DefaultSchedule runs a sweep every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// DefaultOrphanGrace is how old an unclaimed blob must be before the
// sweep removes it. An upload writes its blob before its database row,
// so a freshly written blob without a row may simply be mid-upload.
const DefaultOrphanGrace = time.Hour

// Summary is the outcome of one maintenance run.
type Summary struct {
	OrphanBlobsRemoved int
	RowsPurged         int64
	Requeued           int
	Interrupted        int
	Errors             int
}

// Sweeper owns the maintenance schedule and the individual sweeps.
type Sweeper struct {
	mu sync.Mutex

	repo   repository.VideoRepository
	blobs  *blob.Store
	engine *pipeline.Engine
	logger *slog.Logger

	schedule    string
	retention   time.Duration
	orphanGrace time.Duration

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper over the given repository, blob store and
// pipeline engine.
func NewSweeper(repo repository.VideoRepository, blobs *blob.Store, engine *pipeline.Engine) *Sweeper {
	return &Sweeper{
		repo:        repo,
		blobs:       blobs,
		engine:      engine,
		logger:      observability.WithComponent(slog.Default(), "maintenance"),
		schedule:    DefaultSchedule,
		orphanGrace: DefaultOrphanGrace,
	}
}

// WithLogger sets the logger for the sweeper.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	if logger != nil {
		s.logger = observability.WithComponent(logger, "maintenance")
	}
	return s
}

// WithSchedule sets the cron expression, standard 5-field form.
func (s *Sweeper) WithSchedule(expr string) *Sweeper {
	if expr != "" {
		s.schedule = expr
	}
	return s
}

// WithRetention sets how long soft-deleted rows are kept before the
// purge sweep drops them. Zero keeps them forever.
func (s *Sweeper) WithRetention(d time.Duration) *Sweeper {
	if d > 0 {
		s.retention = d
	}
	return s
}

// WithOrphanGrace sets the minimum age of an unclaimed blob before it
// is removed.
func (s *Sweeper) WithOrphanGrace(d time.Duration) *Sweeper {
	if d >= 0 {
		s.orphanGrace = d
	}
	return s
}

// Start validates the schedule, runs a first sweep in the background and
// begins the periodic runs.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	s.cancel = cancel
	c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(runCtx)
	}()

	s.logger.Info("maintenance started",
		slog.String("schedule", s.schedule),
		slog.String("cadence", format.CronDescription(s.schedule)),
		slog.Duration("retention", s.retention),
		slog.Duration("orphan_grace", s.orphanGrace))
	return nil
}

// Stop cancels any running sweep and waits for in-flight runs to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.wg.Wait()

	s.logger.Info("maintenance stopped")
}

// RunOnce executes all sweeps and logs a summary. Failures in one sweep
// do not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) Summary {
	start := time.Now()
	var sum Summary

	if s.engine != nil {
		requeued, interrupted, err := s.engine.RequeueStranded(ctx)
		if err != nil {
			sum.Errors++
			s.logger.Error("requeue sweep failed", "error", err)
		}
		sum.Requeued = requeued
		sum.Interrupted = interrupted
	}

	if s.retention > 0 {
		purged, err := s.repo.PurgeDeletedBefore(ctx, time.Now().Add(-s.retention))
		if err != nil {
			sum.Errors++
			s.logger.Error("purge sweep failed", "error", err)
		}
		sum.RowsPurged = purged
	}

	removed, err := s.sweepOrphanBlobs(ctx)
	if err != nil {
		sum.Errors++
		s.logger.Error("orphan blob sweep failed", "error", err)
	}
	sum.OrphanBlobsRemoved = removed

	s.logger.Info("maintenance run finished",
		slog.Int("orphan_blobs_removed", sum.OrphanBlobsRemoved),
		slog.Int64("rows_purged", sum.RowsPurged),
		slog.Int("requeued", sum.Requeued),
		slog.Int("interrupted", sum.Interrupted),
		slog.Int("errors", sum.Errors),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	return sum
}

// sweepOrphanBlobs removes blobs no video row claims, soft-deleted rows
// included. Blobs younger than the grace window are left alone.
func (s *Sweeper) sweepOrphanBlobs(ctx context.Context) (int, error) {
	refs, err := s.blobs.Refs()
	if err != nil {
		return 0, fmt.Errorf("listing blobs: %w", err)
	}

	removed := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		claimed, err := s.repo.BlobRefExists(ctx, ref)
		if err != nil {
			return removed, fmt.Errorf("checking blob ref: %w", err)
		}
		if claimed {
			continue
		}

		info, err := s.blobs.Stat(ref)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("checking orphan blob: %w", err)
		}
		if time.Since(info.ModTime()) < s.orphanGrace {
			continue
		}

		if err := s.blobs.Remove(ref); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				continue
			}
			s.logger.Warn("removing orphan blob failed", "ref", ref, "error", err)
			continue
		}
		s.logger.Debug("orphan blob removed", "ref", ref)
		removed++
	}
	return removed, nil
}

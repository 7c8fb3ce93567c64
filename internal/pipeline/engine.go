package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipdock/clipdock/internal/blob"
	"github.com/clipdock/clipdock/internal/events"
	"github.com/clipdock/clipdock/internal/models"
	"github.com/clipdock/clipdock/internal/observability"
	"github.com/clipdock/clipdock/internal/repository"
)

// ScheduleResult reports the outcome of a Schedule call.
type ScheduleResult string

const (
	// ScheduleAccepted means the video was enqueued for processing.
	ScheduleAccepted ScheduleResult = "accepted"
	// ScheduleAlreadyRunning means a live job for the video exists.
	ScheduleAlreadyRunning ScheduleResult = "already_running"
	// ScheduleTerminal means the video already reached a terminal state.
	ScheduleTerminal ScheduleResult = "terminal"
)

var (
	// ErrNotFound reports a schedule or status request for an unknown video.
	ErrNotFound = errors.New("video not found")
	// ErrQueueFull reports a rejected schedule; the video stays uploaded
	// and can be re-scheduled.
	ErrQueueFull = errors.New("pipeline queue full")
	// ErrStopped reports a schedule against a stopped engine.
	ErrStopped = errors.New("pipeline stopped")
)

// persistTimeout bounds metadata writes that must survive shutdown
// cancellation, such as terminal transitions.
const persistTimeout = 5 * time.Second

// analyzeAfter is the checkpoint after which the sensitivity analyzer
// runs, so its result is ready before the following checkpoint.
const analyzeAfter = 65

// Step is one synthetic checkpoint of the processing sequence. The
// delay paces progress emission and is applied before the checkpoint
// publishes.
type Step struct {
	Progress int
	Label    string
	Delay    time.Duration
}

// DefaultSteps returns the fixed checkpoint table. Progress values and
// their order are part of the event contract; delays are tunable.
func DefaultSteps() []Step {
	return []Step{
		{Progress: 20, Label: "Validating video file", Delay: 1000 * time.Millisecond},
		{Progress: 35, Label: "Extracting metadata", Delay: 1500 * time.Millisecond},
		{Progress: 50, Label: "Processing video data", Delay: 1200 * time.Millisecond},
		{Progress: 65, Label: "Preparing content analysis", Delay: 2000 * time.Millisecond},
		{Progress: 80, Label: "Analyzing content sensitivity", Delay: 1500 * time.Millisecond},
		{Progress: 95, Label: "Finalizing processing", Delay: 1000 * time.Millisecond},
	}
}

// StepsWithDelays returns the checkpoint table with the given pacing
// delays applied in order. Missing entries keep their defaults; extras
// are ignored.
func StepsWithDelays(delays []time.Duration) []Step {
	steps := DefaultSteps()
	for i := 0; i < len(steps) && i < len(delays); i++ {
		steps[i].Delay = delays[i]
	}
	return steps
}

// Analyzer scores video metadata. Implementations must be safe for
// concurrent use.
type Analyzer interface {
	Analyze(title, description, filename string) models.Sensitivity
}

// EngineConfig holds engine tuning.
type EngineConfig struct {
	// Workers is the fixed worker pool size.
	// Default: 4
	Workers int

	// QueueSize bounds the pending-job queue.
	// Default: 256
	QueueSize int

	// ProbeTimeout is the wall-clock limit for one probe invocation.
	// Default: 5 seconds
	ProbeTimeout time.Duration

	// StepDelays overrides the per-checkpoint pacing delays in order.
	// All zeros disables pacing entirely.
	StepDelays []time.Duration
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:      4,
		QueueSize:    256,
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// Engine drives videos through the processing state machine on a fixed
// worker pool. Each job runs start to terminal on one worker, and that
// worker is the only writer of the video's metadata while it runs.
type Engine struct {
	repo     repository.VideoRepository
	blobs    *blob.Store
	prober   Prober
	analyzer Analyzer
	bus      *events.Bus
	logger   *slog.Logger

	workers      int
	queueSize    int
	probeTimeout time.Duration
	steps        []Step

	mu     sync.Mutex
	active map[models.ULID]bool
	cancel context.CancelFunc
	queue  chan models.ULID
	quit   chan struct{}

	wg        sync.WaitGroup
	accepting atomic.Bool
	completed atomic.Uint64
	failures  atomic.Uint64
}

// EngineStats is a point-in-time snapshot for diagnostics.
type EngineStats struct {
	Workers   int    `json:"workers"`
	Active    int    `json:"active"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Accepting bool   `json:"accepting"`
}

// JobStatus is the processing view of one video.
type JobStatus struct {
	ID          models.ULID                `json:"id"`
	Status      models.VideoStatus         `json:"status"`
	Progress    int                        `json:"progress"`
	Sensitivity *models.Sensitivity        `json:"sensitivity,omitempty"`
	Errors      models.ProcessingErrorList `json:"errors"`
}

// StatusFromVideo builds the processing view of an already-loaded video.
func StatusFromVideo(v *models.Video) *JobStatus {
	return &JobStatus{
		ID:          v.ID,
		Status:      v.Status,
		Progress:    v.Progress,
		Sensitivity: v.Sensitivity,
		Errors:      v.Errors,
	}
}

// NewEngine creates a pipeline engine with default configuration.
func NewEngine(repo repository.VideoRepository, blobs *blob.Store, prober Prober, analyzer Analyzer, bus *events.Bus) *Engine {
	cfg := DefaultEngineConfig()
	return &Engine{
		repo:         repo,
		blobs:        blobs,
		prober:       prober,
		analyzer:     analyzer,
		bus:          bus,
		logger:       observability.WithComponent(slog.Default(), "pipeline"),
		workers:      cfg.Workers,
		queueSize:    cfg.QueueSize,
		probeTimeout: cfg.ProbeTimeout,
		steps:        DefaultSteps(),
		active:       make(map[models.ULID]bool),
	}
}

// WithLogger sets the logger for the engine.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logger = observability.WithComponent(logger, "pipeline")
	}
	return e
}

// WithConfig applies engine tuning. Zero values keep defaults.
func (e *Engine) WithConfig(cfg EngineConfig) *Engine {
	if cfg.Workers > 0 {
		e.workers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		e.queueSize = cfg.QueueSize
	}
	if cfg.ProbeTimeout > 0 {
		e.probeTimeout = cfg.ProbeTimeout
	}
	if cfg.StepDelays != nil {
		e.steps = StepsWithDelays(cfg.StepDelays)
	}
	return e
}

// Start launches the worker pool. The engine's lifetime is detached
// from ctx; only Shutdown stops it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return fmt.Errorf("pipeline engine already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.quit = make(chan struct{})
	e.queue = make(chan models.ULID, e.queueSize)
	// Reservations left by jobs that were queued but never ran before
	// the previous shutdown are stale once the pool has drained.
	e.active = make(map[models.ULID]bool)
	e.accepting.Store(true)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(runCtx, i)
	}

	e.logger.Info("pipeline engine started", "workers", e.workers, "queue_size", e.queueSize)
	return nil
}

// Shutdown stops intake and waits for in-flight jobs to reach terminal
// states. Jobs still running when ctx expires are cancelled and marked
// failed with step "shutdown". Queued videos that never started stay
// uploaded and are recovered by the next RequeueStranded.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	quit := e.quit
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}

	e.accepting.Store(false)
	close(quit)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		cancel()
		<-done
	}
	cancel()

	e.mu.Lock()
	e.cancel = nil
	e.mu.Unlock()

	e.logger.Info("pipeline engine stopped")
	return err
}

// Schedule enqueues id for processing. It is idempotent: a live job or
// a terminal status suppresses the enqueue and is reported in the
// result. A full queue is an error; the video stays uploaded and can
// be re-scheduled later.
func (e *Engine) Schedule(ctx context.Context, id models.ULID) (ScheduleResult, error) {
	if !e.accepting.Load() {
		return "", ErrStopped
	}
	if e.isActive(id) {
		return ScheduleAlreadyRunning, nil
	}

	video, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("loading video: %w", err)
	}
	if video == nil {
		return "", ErrNotFound
	}
	if video.Status.IsTerminal() {
		return ScheduleTerminal, nil
	}
	if video.Status == models.VideoStatusProcessing {
		return ScheduleAlreadyRunning, nil
	}

	if !e.acquire(id) {
		return ScheduleAlreadyRunning, nil
	}
	select {
	case e.queue <- id:
		e.logger.Debug("video scheduled", "video_id", id)
		return ScheduleAccepted, nil
	default:
		e.release(id)
		return "", ErrQueueFull
	}
}

// Status reads the current processing state of a video.
func (e *Engine) Status(ctx context.Context, id models.ULID) (*JobStatus, error) {
	video, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading video: %w", err)
	}
	if video == nil {
		return nil, ErrNotFound
	}
	return StatusFromVideo(video), nil
}

// RequeueStranded recovers work lost across a restart: videos stuck in
// processing with no live job are marked failed with step
// "interrupted", and videos still uploaded are re-scheduled.
func (e *Engine) RequeueStranded(ctx context.Context) (requeued, interrupted int, err error) {
	stuck, err := e.repo.ListByStatus(ctx, models.VideoStatusProcessing)
	if err != nil {
		return 0, 0, fmt.Errorf("listing processing videos: %w", err)
	}
	for _, video := range stuck {
		if e.isActive(video.ID) {
			continue
		}
		// Re-read: the job may have reached terminal between the list
		// and now. A released job writes its terminal state before it
		// leaves the active set, so a fresh read is authoritative.
		current, err := e.repo.GetByID(ctx, video.ID)
		if err != nil {
			return requeued, interrupted, fmt.Errorf("loading video: %w", err)
		}
		if current == nil || current.Status != models.VideoStatusProcessing || e.isActive(current.ID) {
			continue
		}
		e.fail(current, "interrupted", "processing interrupted by restart")
		interrupted++
	}

	waiting, err := e.repo.ListByStatus(ctx, models.VideoStatusUploaded)
	if err != nil {
		return requeued, interrupted, fmt.Errorf("listing uploaded videos: %w", err)
	}
	for _, video := range waiting {
		result, err := e.Schedule(ctx, video.ID)
		if err != nil {
			if errors.Is(err, ErrQueueFull) {
				e.logger.Warn("queue full during requeue, deferring remainder", "requeued", requeued)
				return requeued, interrupted, nil
			}
			return requeued, interrupted, err
		}
		if result == ScheduleAccepted {
			requeued++
		}
	}

	if requeued > 0 || interrupted > 0 {
		e.logger.Info("stranded videos recovered", "requeued", requeued, "interrupted", interrupted)
	}
	return requeued, interrupted, nil
}

// Stats reports pool occupancy and lifetime counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	active := len(e.active)
	queued := len(e.queue)
	e.mu.Unlock()

	return EngineStats{
		Workers:   e.workers,
		Active:    active,
		Queued:    queued,
		Completed: e.completed.Load(),
		Failed:    e.failures.Load(),
		Accepting: e.accepting.Load(),
	}
}

// worker consumes the job queue until shutdown. On shutdown it stops
// picking up queued jobs immediately; the job it is running is handled
// by run's cancellation checks.
func (e *Engine) worker(ctx context.Context, n int) {
	defer e.wg.Done()

	logger := e.logger.With("worker", n)
	logger.Debug("worker started")
	for {
		select {
		case <-e.quit:
			logger.Debug("worker stopping")
			return
		default:
		}
		select {
		case <-e.quit:
			logger.Debug("worker stopping")
			return
		case id := <-e.queue:
			e.run(ctx, id)
		}
	}
}

// run drives one video from processing to a terminal state. It owns
// every metadata write for the video while it runs.
func (e *Engine) run(ctx context.Context, id models.ULID) {
	defer e.release(id)

	logger := e.logger.With("video_id", id)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline job panicked", "panic", r, "stack", string(debug.Stack()))
			e.failByID(id, "processing", fmt.Sprintf("internal error: %v", r))
		}
	}()

	video, err := e.repo.GetByID(ctx, id)
	if err != nil {
		logger.Error("loading video for processing", "error", err)
		return
	}
	if video == nil {
		logger.Warn("scheduled video no longer exists")
		return
	}
	if video.Status.IsTerminal() {
		return
	}

	now := time.Now().UTC()
	if err := video.MarkProcessing(now); err != nil {
		logger.Error("entering processing state", "status", video.Status, "error", err)
		return
	}
	if err := e.repo.Update(ctx, video); err != nil {
		logger.Error("persisting processing state", "error", err)
		return
	}
	e.bus.Publish(events.ProcessingStart(video))
	logger.Info("processing started", "title", video.Title, "size", video.Size)

	probe, err := e.validate(ctx, video)
	if err != nil {
		e.fail(video, "validation", err.Error())
		return
	}
	video.ProbeResult = probe
	if err := e.repo.Update(ctx, video); err != nil {
		logger.Error("persisting probe result", "error", err)
	}

	var sens *models.Sensitivity
	for _, step := range e.steps {
		if err := e.pause(ctx, step.Delay); err != nil {
			e.fail(video, "shutdown", "processing cancelled by shutdown")
			return
		}
		if err := video.AdvanceProgress(step.Progress); err != nil {
			e.fail(video, step.Label, err.Error())
			return
		}
		if err := e.repo.Update(ctx, video); err != nil {
			logger.Error("persisting progress", "progress", step.Progress, "error", err)
		}
		e.bus.Publish(events.ProgressUpdate(video, step.Progress, step.Label))
		if step.Progress == analyzeAfter {
			sens = e.analyze(video)
		}
	}

	now = time.Now().UTC()
	sens.AnalyzedAt = now
	if err := video.MarkCompleted(sens, now); err != nil {
		e.fail(video, "completion", err.Error())
		return
	}
	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.repo.Update(persistCtx, video); err != nil {
		logger.Error("persisting terminal state", "error", err)
		return
	}
	e.completed.Add(1)
	e.bus.Publish(events.ProcessingComplete(video))
	logger.Info("processing complete",
		"status", video.Status,
		"score", sens.Score,
		"fallback", probe.ValidatedWithFallback)
}

// validate runs the probe under the configured wall-clock timeout. A
// probe that cannot deliver a verdict falls back to extension and size
// checks; only an explicit rejection is fatal.
func (e *Engine) validate(ctx context.Context, video *models.Video) (*models.ProbeResult, error) {
	path, err := e.blobs.Path(video.BlobRef)
	if err != nil {
		e.logger.Warn("blob unavailable for probe, using fallback validation",
			"video_id", video.ID, "error", err)
		return fallbackValidate(video)
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	result, err := e.prober.Probe(probeCtx, path)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, ErrNoVideoStream) {
		return nil, err
	}
	e.logger.Warn("probe failed, using fallback validation", "video_id", video.ID, "error", err)
	return fallbackValidate(video)
}

// analyze never takes the job down: a panicking analyzer yields a
// neutral safe result plus a recorded error entry, and the job still
// reaches a terminal state.
func (e *Engine) analyze(video *models.Video) (sens *models.Sensitivity) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("analyzer panic, recording neutral result", "video_id", video.ID, "panic", r)
			video.AppendError("sensitivity-analysis", fmt.Sprintf("analyzer error: %v", r), time.Now().UTC())
			sens = neutralSensitivity()
		}
	}()

	result := e.analyzer.Analyze(video.Title, video.Description, video.Filename)
	return &result
}

// neutralSensitivity is the safe-by-default result recorded when the
// analyzer cannot produce one.
func neutralSensitivity() *models.Sensitivity {
	return &models.Sensitivity{
		Verdict:           models.VerdictSafe,
		Rules:             []string{"Analysis failed, defaulted to safe"},
		CategoryBreakdown: map[string]models.CategoryDetail{},
		DetectedIssues:    []models.DetectedIssue{},
		Summary:           "Content analysis unavailable",
	}
}

// fail transitions video to failed and publishes the terminal failure
// event. The write uses a fresh context so a shutdown cancellation
// cannot lose the transition.
func (e *Engine) fail(video *models.Video, step, message string) {
	now := time.Now().UTC()
	if err := video.MarkFailed(step, message, now); err != nil {
		e.logger.Error("marking video failed", "video_id", video.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.repo.Update(ctx, video); err != nil {
		e.logger.Error("persisting failed state", "video_id", video.ID, "error", err)
	}
	e.failures.Add(1)
	e.bus.Publish(events.ProcessingFailed(video, message))
	e.logger.Warn("processing failed", "video_id", video.ID, "step", step, "error", message)
}

// failByID reloads the video before failing it, for paths where the
// in-memory copy may be stale or missing.
func (e *Engine) failByID(id models.ULID, step, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	video, err := e.repo.GetByID(ctx, id)
	if err != nil || video == nil {
		e.logger.Error("loading video for failure record", "video_id", id, "error", err)
		return
	}
	if video.Status.IsTerminal() {
		return
	}
	e.fail(video, step, message)
}

// pause waits for d or until cancellation. A zero delay still observes
// cancellation, so step boundaries always notice shutdown.
func (e *Engine) pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// acquire reserves id in the active-job set. False means a job for id
// is already live.
func (e *Engine) acquire(id models.ULID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[id] {
		return false
	}
	e.active[id] = true
	return true
}

func (e *Engine) release(id models.ULID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

func (e *Engine) isActive(id models.ULID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[id]
}

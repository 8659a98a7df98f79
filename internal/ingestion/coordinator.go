package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/models"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// RunObserver receives per-adapter outcomes, typically for metrics.
type RunObserver interface {
	ObserveRun(source string, status models.RunStatus, counts Counts, duration time.Duration)
}

// CoordinatorConfig holds configuration for the run coordinator.
type CoordinatorConfig struct {
	AdapterTimeout time.Duration // Upper bound for a single adapter fetch
	Interval       time.Duration // Period between runs when started as a loop
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		AdapterTimeout: 5 * time.Minute,
		Interval:       6 * time.Hour,
	}
}

// Result is the typed outcome of one adapter invocation.
type Result struct {
	RunID      string
	Source     string
	Status     models.RunStatus
	Found      int
	New        int
	Updated    int
	Skipped    int
	Failed     int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Report aggregates a full run into success, empty and failed buckets.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Success    []Result // Returned at least one draft
	Empty      []Result // Ran cleanly, found nothing
	Failed     []Result // Could not read the source
	TotalNew   int
}

// Add files a result into its bucket.
func (r *Report) Add(result Result) {
	switch {
	case result.Err != nil && result.Found == 0:
		r.Failed = append(r.Failed, result)
	case result.Found == 0:
		r.Empty = append(r.Empty, result)
	default:
		r.Success = append(r.Success, result)
	}
	r.TotalNew += result.New
}

// Results returns every result in the report.
func (r *Report) Results() []Result {
	all := make([]Result, 0, len(r.Success)+len(r.Empty)+len(r.Failed))
	all = append(all, r.Success...)
	all = append(all, r.Empty...)
	all = append(all, r.Failed...)
	return all
}

// Coordinator invokes adapters one after another and merges their drafts.
type Coordinator struct {
	adapters []Adapter
	merger   *Merger
	runs     RunRepository
	clock    clock.Clock
	logger   *slog.Logger
	config   CoordinatorConfig
	observer RunObserver

	runMu    sync.Mutex
	mu       sync.RWMutex
	running  bool
	statuses map[string]*AdapterStatus
}

// NewCoordinator creates a run coordinator. runs may be nil to skip the audit log.
func NewCoordinator(
	adapters []Adapter,
	merger *Merger,
	runs RunRepository,
	c clock.Clock,
	logger *slog.Logger,
	config CoordinatorConfig,
) *Coordinator {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	statuses := make(map[string]*AdapterStatus, len(adapters))
	for _, a := range adapters {
		statuses[a.Name()] = &AdapterStatus{Name: a.Name(), Healthy: true}
	}
	return &Coordinator{
		adapters: adapters,
		merger:   merger,
		runs:     runs,
		clock:    c,
		logger:   logger,
		config:   config,
		statuses: statuses,
	}
}

// SetObserver attaches an observer notified after every adapter run.
func (c *Coordinator) SetObserver(o RunObserver) {
	c.observer = o
}

// Start runs all adapters immediately and then on every interval tick until
// ctx is cancelled. onReport, if set, receives each report.
func (c *Coordinator) Start(ctx context.Context, onReport func(Report)) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	interval := c.config.Interval
	if interval <= 0 {
		interval = DefaultCoordinatorConfig().Interval
	}

	c.logger.Info("starting run coordinator",
		"adapters", len(c.adapters),
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.runAndReport(ctx, onReport)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator shutting down")
			return ctx.Err()
		case <-ticker.C:
			c.runAndReport(ctx, onReport)
		}
	}
}

func (c *Coordinator) runAndReport(ctx context.Context, onReport func(Report)) {
	report, err := c.RunAll(ctx)
	if err != nil {
		c.logger.Warn("scheduled run skipped", "error", err)
		return
	}
	if onReport != nil {
		onReport(report)
	}
}

// RunAll invokes every adapter sequentially. One adapter's failure never
// stops the others.
func (c *Coordinator) RunAll(ctx context.Context) (Report, error) {
	if !c.runMu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer c.runMu.Unlock()

	report := Report{StartedAt: c.clock.Now().UTC()}
	for _, adapter := range c.adapters {
		if ctx.Err() != nil {
			c.logger.Warn("run cancelled, remaining adapters skipped", "error", ctx.Err())
			break
		}
		report.Add(c.runAdapter(ctx, adapter))
	}
	report.FinishedAt = c.clock.Now().UTC()

	c.logger.Info("run complete",
		"success", len(report.Success),
		"empty", len(report.Empty),
		"failed", len(report.Failed),
		"total_new", report.TotalNew,
	)
	return report, nil
}

// RunOne invokes a single adapter by name.
func (c *Coordinator) RunOne(ctx context.Context, name string) (Result, error) {
	for _, adapter := range c.adapters {
		if adapter.Name() == name {
			if !c.runMu.TryLock() {
				return Result{}, ErrRunInProgress
			}
			defer c.runMu.Unlock()
			return c.runAdapter(ctx, adapter), nil
		}
	}
	return Result{}, fmt.Errorf("adapter not found: %s", name)
}

func (c *Coordinator) runAdapter(ctx context.Context, adapter Adapter) Result {
	name := adapter.Name()
	result := Result{
		RunID:     uuid.NewString(),
		Source:    name,
		StartedAt: c.clock.Now().UTC(),
	}
	start := time.Now()

	c.logger.Info("running adapter", "source", name)

	if c.runs != nil {
		run := models.IngestionRun{
			ID:        result.RunID,
			Source:    name,
			StartedAt: result.StartedAt,
			Status:    models.RunStatusRunning,
		}
		if err := c.runs.Start(ctx, run); err != nil {
			c.logger.Warn("failed to record run start", "source", name, "error", err)
		}
	}

	adapterCtx := ctx
	if c.config.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		adapterCtx, cancel = context.WithTimeout(ctx, c.config.AdapterTimeout)
		defer cancel()
	}

	drafts, err := safeRun(adapterCtx, adapter)
	if err != nil {
		result.Err = err
		c.logger.Error("adapter failed",
			"source", name,
			"drafts", len(drafts),
			"error", err,
		)
	}

	counts := c.merger.UpsertAll(ctx, drafts)
	result.Found = counts.Found
	result.New = counts.New
	result.Updated = counts.Updated
	result.Skipped = counts.Skipped
	result.Failed = counts.Failed
	result.Status = runStatus(result)
	result.FinishedAt = c.clock.Now().UTC()
	result.Duration = time.Since(start)

	c.logger.Info("adapter finished",
		"source", name,
		"status", result.Status,
		"found", result.Found,
		"new", result.New,
		"updated", result.Updated,
		"failed", result.Failed,
		"duration", result.Duration,
	)

	c.finishRun(name, result)
	c.recordStatus(name, result)
	if c.observer != nil {
		c.observer.ObserveRun(name, result.Status, counts, result.Duration)
	}
	return result
}

func (c *Coordinator) finishRun(name string, result Result) {
	if c.runs == nil {
		return
	}
	finished := result.FinishedAt
	run := models.IngestionRun{
		ID:            result.RunID,
		Source:        name,
		StartedAt:     result.StartedAt,
		FinishedAt:    &finished,
		Status:        result.Status,
		EventsFound:   result.Found,
		EventsNew:     result.New,
		EventsUpdated: result.Updated,
	}
	if result.Err != nil {
		run.ErrorMessage = result.Err.Error()
	}
	// The adapter context may have expired; the audit record is still written.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.runs.Finish(ctx, run); err != nil {
		c.logger.Warn("failed to finalize run", "source", name, "error", err)
	}
}

func (c *Coordinator) recordStatus(name string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[name]
	if !ok {
		status = &AdapterStatus{Name: name}
		c.statuses[name] = status
	}
	status.update(result)
}

// safeRun contains adapter panics so a single broken source cannot abort a run.
func safeRun(ctx context.Context, adapter Adapter) (drafts []models.Draft, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewUnitError(ErrFetchFailure, adapter.Name(), fmt.Errorf("panic: %v", r))
		}
	}()
	return adapter.Run(ctx)
}

func runStatus(r Result) models.RunStatus {
	switch {
	case r.Err != nil && r.Found == 0:
		return models.RunStatusError
	case r.Err != nil || r.Failed > 0:
		return models.RunStatusPartial
	default:
		return models.RunStatusSuccess
	}
}

// IsRunning returns whether the periodic loop is active.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Statuses returns a snapshot of every adapter's status, in run order.
func (c *Coordinator) Statuses() []AdapterStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]AdapterStatus, 0, len(c.adapters))
	for _, a := range c.adapters {
		if s, ok := c.statuses[a.Name()]; ok {
			out = append(out, *s)
		}
	}
	return out
}

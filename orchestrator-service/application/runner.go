package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var _ Scheduler = (*Runner)(nil)

// Advancer runs one instance until it parks
type Advancer interface {
	Advance(ctx context.Context, correlationID models.ID) error
}

// RunnableFinder lists instances with work to do
type RunnableFinder interface {
	FindRunnable(ctx context.Context, now time.Time, limit int) ([]models.ID, error)
}

// RunnerConfig configures the resumption loop
type RunnerConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Workers: 4, PollInterval: time.Second, BatchSize: 100}
}

// Runner is the resumption loop. A poller feeds runnable instances from the
// repository to a pool of workers; Wake and WakeAt schedule an instance
// without waiting for the next poll. The first poll after start resumes
// every unfinished instance.
type Runner struct {
	advancer Advancer
	finder   RunnableFinder
	config   RunnerConfig
	clock    models.Clock
	logger   *slog.Logger

	queue chan models.ID

	mu      sync.Mutex
	queued  map[models.ID]bool
	running map[models.ID]bool
	rerun   map[models.ID]bool
	timers  map[models.ID]*time.Timer
}

func NewRunner(advancer Advancer, finder RunnableFinder, config RunnerConfig, clock models.Clock, logger *slog.Logger) *Runner {
	defaults := DefaultRunnerConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if clock == nil {
		clock = models.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		advancer: advancer,
		finder:   finder,
		config:   config,
		clock:    clock,
		logger:   logger,
		queue:    make(chan models.ID, config.BatchSize*2),
		queued:   map[models.ID]bool{},
		running:  map[models.ID]bool{},
		rerun:    map[models.ID]bool{},
		timers:   map[models.ID]*time.Timer{},
	}
}

// Wake queues the instance unless it is already queued. An instance held by a
// worker is queued again once that worker is done. A full queue drops the
// wake; the poller picks the instance up later.
func (r *Runner) Wake(correlationID models.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running[correlationID] {
		r.rerun[correlationID] = true
		return
	}
	r.enqueue(correlationID)
}

func (r *Runner) enqueue(correlationID models.ID) {
	if r.queued[correlationID] {
		return
	}

	select {
	case r.queue <- correlationID:
		r.queued[correlationID] = true
	default:
		r.logger.Warn("runner queue full, waiting for next poll", "correlation_id", correlationID)
	}
}

// WakeAt wakes the instance once at has passed, replacing an earlier timer
func (r *Runner) WakeAt(correlationID models.ID, at time.Time) {
	delay := at.Sub(r.clock())
	if delay <= 0 {
		r.Wake(correlationID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[correlationID]; ok {
		timer.Stop()
	}
	r.timers[correlationID] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, correlationID)
		r.mu.Unlock()
		r.Wake(correlationID)
	})
}

// Run blocks until ctx is cancelled or the poller fails permanently
func (r *Runner) Run(ctx context.Context) error {
	defer r.stopTimers()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.poll(ctx)
	})

	for i := 0; i < r.config.Workers; i++ {
		g.Go(func() error {
			r.work(ctx)
			return nil
		})
	}

	r.logger.InfoContext(ctx, "workflow runner started",
		"workers", r.config.Workers, "poll_interval", r.config.PollInterval)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) poll(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		ids, err := r.finder.FindRunnable(ctx, r.clock(), r.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "failed to find runnable workflows", "error", err)
		}

		for _, id := range ids {
			r.Wake(id)
		}
		telemetry.RecordGauge(ctx, "orchestrator_runnable_workflows", "Runnable workflows found by the last poll", float64(len(ids)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.mu.Lock()
			delete(r.queued, id)
			r.running[id] = true
			r.mu.Unlock()

			r.advance(ctx, id)
			r.release(ctx, id)
		}
	}
}

// release frees the instance and queues it again if it was woken meanwhile
func (r *Runner) release(ctx context.Context, id models.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.running, id)
	if r.rerun[id] {
		delete(r.rerun, id)
		if ctx.Err() == nil {
			r.enqueue(id)
		}
	}
}

func (r *Runner) advance(ctx context.Context, id models.ID) {
	err := r.advancer.Advance(ctx, id)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		r.logger.InfoContext(ctx, "workflow interrupted by shutdown", "correlation_id", id)
	case errors.Is(err, domain.ErrConcurrentModification):
		r.logger.InfoContext(ctx, "workflow advanced elsewhere", "correlation_id", id)
	default:
		r.logger.ErrorContext(ctx, "failed to advance workflow", "correlation_id", id, "error", err)
	}
}

func (r *Runner) stopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}

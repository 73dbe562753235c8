package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/retry"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// EngineConfig holds the workflow timings and the retry policy of every remote step
type EngineConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// PaymentTimeout of zero waits for the payment signal forever
	PaymentTimeout time.Duration `mapstructure:"payment_timeout"`
	RetryPolicy    retry.Policy  `mapstructure:"retry_policy"`
}

// DefaultEngineConfig returns the production timings
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		GracePeriod: 5 * time.Second,
		RetryPolicy: retry.DefaultPolicy(),
	}
}

// Scheduler gets told when an instance has work to do
type Scheduler interface {
	// Wake runs the instance as soon as a worker is free
	Wake(correlationID models.ID)
	// WakeAt runs the instance once at has passed
	WakeAt(correlationID models.ID, at time.Time)
}

type noopScheduler struct{}

func (noopScheduler) Wake(models.ID)              {}
func (noopScheduler) WakeAt(models.ID, time.Time) {}

// persistenceError marks a failure to store progress, as opposed to a remote step failure
type persistenceError struct {
	err error
}

func (e *persistenceError) Error() string { return e.err.Error() }
func (e *persistenceError) Unwrap() error { return e.err }

// Engine drives workflow instances through their steps. Every transition is
// persisted before the next step starts, so Advance can resume any instance
// from its last snapshot after a restart.
type Engine struct {
	repository domain.WorkflowRepository
	orders     domain.OrderRecordClient
	catalog    domain.CatalogClient
	payments   domain.PaymentClient
	publisher  events.Publisher
	executor   *retry.Executor
	config     EngineConfig
	scheduler  Scheduler
	clock      models.Clock
	logger     *slog.Logger
	locks      *keyedMutex
}

type EngineOption func(*Engine)

func WithEngineClock(clock models.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithExecutor(executor *retry.Executor) EngineOption {
	return func(e *Engine) {
		e.executor = executor
	}
}

// NewEngine creates a new Engine
func NewEngine(
	repository domain.WorkflowRepository,
	orders domain.OrderRecordClient,
	catalog domain.CatalogClient,
	payments domain.PaymentClient,
	publisher events.Publisher,
	config EngineConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		repository: repository,
		orders:     orders,
		catalog:    catalog,
		payments:   payments,
		publisher:  publisher,
		config:     config,
		scheduler:  noopScheduler{},
		clock:      models.SystemClock,
		logger:     slog.Default(),
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.executor == nil {
		e.executor = retry.NewExecutor(retry.WithLogger(e.logger))
	}
	return e
}

// SetScheduler connects the engine to the runner that executes woken instances
func (e *Engine) SetScheduler(scheduler Scheduler) {
	e.scheduler = scheduler
}

// Start persists a new instance for the request. When the correlation id is
// already taken the existing instance is returned with started false.
func (e *Engine) Start(ctx context.Context, req domain.OrderRequest) (*domain.WorkflowInstance, bool, error) {
	instance, err := domain.NewWorkflowInstance(req, e.clock())
	if err != nil {
		return nil, false, err
	}

	existing, err := e.repository.FindByCorrelationID(ctx, instance.CorrelationID)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to look up workflow")
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := e.repository.Create(ctx, instance); err != nil {
		if errors.Is(err, domain.ErrInstanceExists) {
			existing, findErr := e.repository.FindByCorrelationID(ctx, instance.CorrelationID)
			if findErr != nil {
				return nil, false, errors.Wrap(findErr, "failed to look up workflow")
			}
			return existing, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to create workflow")
	}

	e.publish(ctx, instance)
	e.logger.InfoContext(ctx, "workflow started", "correlation_id", instance.CorrelationID)
	telemetry.RecordCounter(ctx, "orchestrator_workflows_started_total", "Workflows started", 1)

	e.scheduler.Wake(instance.CorrelationID)
	return instance, true, nil
}

// Advance runs the instance until it parks or terminates. Pending signals are
// applied before every step. Calls for the same instance never overlap.
func (e *Engine) Advance(ctx context.Context, correlationID models.ID) error {
	unlock := e.locks.Lock(correlationID)
	defer unlock()

	instance, err := e.repository.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return errors.Wrap(err, "failed to load workflow")
	}
	if instance == nil {
		return errors.Wrapf(domain.ErrInstanceNotFound, "correlation id %s", correlationID)
	}

	for {
		if err := e.applySignals(ctx, instance); err != nil {
			return err
		}

		if !instance.Due(e.clock()) {
			break
		}

		if err := e.runStep(ctx, instance); err != nil {
			return err
		}

		if err := e.save(ctx, instance); err != nil {
			return err
		}
	}

	if instance.WakeAt != nil && !instance.Step.IsTerminal() {
		e.scheduler.WakeAt(instance.CorrelationID, *instance.WakeAt)
	}

	return nil
}

func (e *Engine) applySignals(ctx context.Context, instance *domain.WorkflowInstance) error {
	signals, err := e.repository.PendingSignals(ctx, instance.CorrelationID)
	if err != nil {
		return errors.Wrap(err, "failed to load pending signals")
	}
	if len(signals) == 0 {
		return nil
	}

	now := e.clock()
	for _, signal := range signals {
		if !instance.ApplySignal(signal, now) {
			e.logger.InfoContext(ctx, "signal ignored",
				"correlation_id", instance.CorrelationID,
				"step", instance.Step,
				"signal", signal.Kind,
				"payment_status", instance.PaymentStatus)
		}
		telemetry.RecordCounter(ctx, "orchestrator_signals_applied_total", "Signals consumed by workflows", 1,
			attribute.String("signal", string(signal.Kind)))
	}

	return e.save(ctx, instance)
}

// runStep performs the remote call of the current step and records the
// resulting transition. Only persistence and cancellation errors are returned;
// a failed remote call becomes a transition.
func (e *Engine) runStep(ctx context.Context, instance *domain.WorkflowInstance) (err error) {
	step := instance.Step
	ctx, op := telemetry.StartOperation(ctx, "workflow.step",
		attribute.String("step", step.String()),
		attribute.String("correlation_id", instance.CorrelationID.String()),
	)
	defer func() { op.End(ctx, err) }()

	callErr := e.execute(ctx, instance)
	if callErr == nil {
		e.logger.InfoContext(ctx, "workflow step completed",
			"correlation_id", instance.CorrelationID,
			"order_id", instance.OrderID,
			"step", step,
			"next_step", instance.Step)
		return nil
	}

	var perr *persistenceError
	if errors.As(callErr, &perr) {
		return perr.err
	}
	if ctx.Err() != nil {
		return errors.Wrapf(callErr, "step %s interrupted", step)
	}
	if errors.Is(callErr, domain.ErrInvalidTransition) {
		return callErr
	}

	op.SetStatus("failed")
	instance.StepFailed(callErr, e.clock())
	e.logger.ErrorContext(ctx, "workflow step failed",
		"correlation_id", instance.CorrelationID,
		"order_id", instance.OrderID,
		"step", step,
		"attempt", instance.Attempts[step],
		"next_step", instance.Step,
		"error", callErr)
	return nil
}

func (e *Engine) execute(ctx context.Context, instance *domain.WorkflowInstance) error {
	orderID := instance.OrderID

	switch instance.Step {
	case domain.StepCreated:
		created, err := retry.Do(ctx, e.executor, "create_order", e.config.RetryPolicy,
			func(ctx context.Context) (int, error) {
				return e.orders.CreateOrder(ctx, instance.CreateRequestID, instance.Request)
			}, e.attemptOptions(instance)...)
		if err != nil {
			return err
		}
		now := e.clock()
		return instance.OrderCreated(created, now.Add(e.config.GracePeriod), now)

	case domain.StepGracePeriod:
		return instance.GracePeriodElapsed(e.clock())

	case domain.StepAwaitingValidation:
		if err := e.call(ctx, instance, "set_awaiting_validation", func(ctx context.Context) error {
			return e.orders.SetAwaitingValidation(ctx, orderID)
		}); err != nil {
			return err
		}
		return instance.MarkedAwaitingValidation(e.clock())

	case domain.StepCheckingStock:
		result, err := retry.Do(ctx, e.executor, "check_stock", e.config.RetryPolicy,
			func(ctx context.Context) (*domain.StockCheckResult, error) {
				return e.catalog.CheckStock(ctx, orderID, instance.Request.StockItems())
			}, e.attemptOptions(instance)...)
		if err != nil {
			return err
		}
		return instance.StockChecked(result, e.clock())

	case domain.StepConfirmingStock:
		if err := e.call(ctx, instance, "confirm_stock", func(ctx context.Context) error {
			return e.orders.ConfirmStock(ctx, orderID)
		}); err != nil {
			return err
		}
		return instance.StockConfirmed(e.clock())

	case domain.StepRejectingStock:
		rejected := instance.RejectedItems()
		if err := e.call(ctx, instance, "reject_stock", func(ctx context.Context) error {
			return e.orders.RejectStock(ctx, orderID, rejected)
		}); err != nil {
			return err
		}
		return instance.StockRejected(e.clock())

	case domain.StepInitiatingPayment:
		if err := e.call(ctx, instance, "initiate_payment", func(ctx context.Context) error {
			return e.payments.InitiatePayment(ctx, orderID, instance.CorrelationID)
		}); err != nil {
			return err
		}
		now := e.clock()
		var deadline *time.Time
		if e.config.PaymentTimeout > 0 {
			d := now.Add(e.config.PaymentTimeout)
			deadline = &d
		}
		return instance.PaymentInitiated(deadline, now)

	case domain.StepAwaitingPayment:
		return instance.PaymentTimedOut(e.clock())

	case domain.StepMarkingPaid:
		if err := e.call(ctx, instance, "set_paid", func(ctx context.Context) error {
			return e.orders.SetPaid(ctx, orderID)
		}); err != nil {
			return err
		}
		return instance.MarkedPaid(e.clock())

	case domain.StepCancelling:
		if err := e.call(ctx, instance, "cancel_order", func(ctx context.Context) error {
			return e.orders.Cancel(ctx, orderID)
		}); err != nil {
			return err
		}
		return instance.Cancelled(e.clock())
	}

	return errors.Wrapf(domain.ErrInvalidTransition, "no work for step %s", instance.Step)
}

func (e *Engine) call(ctx context.Context, instance *domain.WorkflowInstance, step string, fn func(ctx context.Context) error) error {
	return e.executor.Execute(ctx, step, e.config.RetryPolicy, fn, e.attemptOptions(instance)...)
}

// attemptOptions resume the attempt counter stored before a restart and
// persist the counter before every new attempt.
func (e *Engine) attemptOptions(instance *domain.WorkflowInstance) []retry.Option {
	return []retry.Option{
		retry.WithStartAttempt(instance.Attempt()),
		retry.WithAttemptHook(func(ctx context.Context, attempt int) error {
			instance.AttemptStarted(attempt, e.clock())
			if err := e.save(ctx, instance); err != nil {
				return &persistenceError{err: err}
			}
			return nil
		}),
	}
}

// save persists the instance and publishes the events it recorded. Publishing
// happens after the commit; a publish failure is logged and the history row
// remains the source of truth.
func (e *Engine) save(ctx context.Context, instance *domain.WorkflowInstance) error {
	if err := e.repository.Save(ctx, instance); err != nil {
		return errors.Wrapf(err, "failed to save workflow %s", instance.CorrelationID)
	}

	e.publish(ctx, instance)
	return nil
}

func (e *Engine) publish(ctx context.Context, instance *domain.WorkflowInstance) {
	evts := instance.Events()
	instance.ClearEvents()
	if len(evts) == 0 || e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, evts...); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish workflow events",
			"correlation_id", instance.CorrelationID,
			"events", len(evts),
			"error", err)
	}
}

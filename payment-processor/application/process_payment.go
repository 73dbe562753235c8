package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/draftea/order-orchestrator/payment-processor/domain"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/retry"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

var ErrPaymentNotFound = errors.New("payment not found")

// ProcessorConfig controls the simulated outcome
type ProcessorConfig struct {
	// Delay is how long a payment stays pending before its result is published
	Delay         time.Duration `mapstructure:"delay"`
	Succeeded     bool          `mapstructure:"payment_succeeded"`
	PublishPolicy retry.Policy  `mapstructure:"publish_retry_policy"`
}

// AfterFunc runs fn once d has elapsed
type AfterFunc func(d time.Duration, fn func())

// PaymentResponse describes a simulated payment
type PaymentResponse struct {
	PaymentID     string    `json:"payment_id"`
	OrderID       int       `json:"order_id"`
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"`
	Duplicate     bool      `json:"duplicate,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ProcessPaymentOption func(*ProcessPayment)

func WithClock(clock models.Clock) ProcessPaymentOption {
	return func(uc *ProcessPayment) {
		uc.clock = clock
	}
}

func WithLogger(logger *slog.Logger) ProcessPaymentOption {
	return func(uc *ProcessPayment) {
		uc.logger = logger
	}
}

func WithAfterFunc(after AfterFunc) ProcessPaymentOption {
	return func(uc *ProcessPayment) {
		uc.after = after
	}
}

func WithExecutor(executor *retry.Executor) ProcessPaymentOption {
	return func(uc *ProcessPayment) {
		uc.executor = executor
	}
}

// ProcessPayment accepts payment requests and publishes their result after
// the configured delay. A repeated request for the same correlation id is
// answered with the existing payment.
type ProcessPayment struct {
	publisher events.Publisher
	config    ProcessorConfig
	executor  *retry.Executor
	clock     models.Clock
	logger    *slog.Logger
	after     AfterFunc

	mu       sync.Mutex
	payments map[models.ID]*domain.Payment
	inflight sync.WaitGroup
}

// NewProcessPayment creates a new ProcessPayment use case
func NewProcessPayment(publisher events.Publisher, config ProcessorConfig, opts ...ProcessPaymentOption) *ProcessPayment {
	uc := &ProcessPayment{
		publisher: publisher,
		config:    config,
		clock:     models.SystemClock,
		logger:    slog.Default(),
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		payments: map[models.ID]*domain.Payment{},
	}
	for _, opt := range opts {
		opt(uc)
	}
	if uc.executor == nil {
		uc.executor = retry.NewExecutor(retry.WithLogger(uc.logger))
	}
	return uc
}

// Execute registers the payment and schedules its result
func (uc *ProcessPayment) Execute(ctx context.Context, req *domain.PaymentRequest) (resp *PaymentResponse, err error) {
	ctx, op := telemetry.StartOperation(ctx, "process_payment", attribute.Int("order_id", req.OrderID))
	defer func() { op.End(ctx, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	uc.mu.Lock()
	if existing, ok := uc.payments[req.CorrelationID]; ok {
		duplicate := toResponse(existing)
		uc.mu.Unlock()

		uc.logger.InfoContext(ctx, "payment already requested",
			"correlation_id", req.CorrelationID, "order_id", req.OrderID, "status", duplicate.Status)
		duplicate.Duplicate = true
		return duplicate, nil
	}

	payment := domain.NewPayment(*req, uc.clock())
	uc.payments[req.CorrelationID] = payment
	resp = toResponse(payment)
	uc.inflight.Add(1)
	uc.mu.Unlock()

	uc.logger.InfoContext(ctx, "payment accepted",
		"correlation_id", payment.CorrelationID,
		"order_id", payment.OrderID,
		"delay", uc.config.Delay,
		"succeeded", uc.config.Succeeded)

	publishCtx := context.WithoutCancel(ctx)
	uc.after(uc.config.Delay, func() {
		defer uc.inflight.Done()
		uc.resolve(publishCtx, payment.CorrelationID)
	})

	return resp, nil
}

// Get returns the payment registered for the correlation id
func (uc *ProcessPayment) Get(correlationID string) (*PaymentResponse, error) {
	id, err := models.NewID(correlationID)
	if err != nil {
		return nil, errors.Wrapf(ErrPaymentNotFound, "correlation id %q", correlationID)
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	payment, ok := uc.payments[id]
	if !ok {
		return nil, errors.Wrapf(ErrPaymentNotFound, "correlation id %s", id)
	}
	return toResponse(payment), nil
}

// Wait blocks until every scheduled result is published or ctx is done
func (uc *ProcessPayment) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		uc.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "payment results still pending")
	}
}

func (uc *ProcessPayment) resolve(ctx context.Context, correlationID models.ID) {
	uc.mu.Lock()
	payment := uc.payments[correlationID]
	err := payment.Resolve(uc.config.Succeeded, uc.clock())
	evts := payment.Events()
	payment.ClearEvents()
	uc.mu.Unlock()

	if err != nil {
		uc.logger.ErrorContext(ctx, "failed to resolve payment", "correlation_id", correlationID, "error", err)
		return
	}

	err = uc.executor.Execute(ctx, "publish_payment_result", uc.config.PublishPolicy, func(ctx context.Context) error {
		return uc.publisher.Publish(ctx, evts...)
	})
	if err != nil {
		uc.logger.ErrorContext(ctx, "failed to publish payment result",
			"correlation_id", correlationID, "order_id", payment.OrderID, "error", err)
		return
	}

	telemetry.RecordCounter(ctx, "payment_processor_results_total", "Published payment results", 1,
		attribute.Bool("succeeded", uc.config.Succeeded))
	uc.logger.InfoContext(ctx, "payment result published",
		"correlation_id", correlationID, "order_id", payment.OrderID, "succeeded", uc.config.Succeeded)
}

func toResponse(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		PaymentID:     p.ID.String(),
		OrderID:       p.OrderID,
		CorrelationID: p.CorrelationID.String(),
		Status:        string(p.Status),
		UpdatedAt:     p.Timestamps.UpdatedAt,
	}
}

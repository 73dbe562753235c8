package application

import (
	"context"
	"log/slog"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/idempotency"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// PaymentOutcome tells the callback sender what happened to its result
type PaymentOutcome string

const (
	// PaymentOutcomeAccepted means the signal was queued for the instance
	PaymentOutcomeAccepted PaymentOutcome = "accepted"
	// PaymentOutcomeDuplicate means the same result was already delivered
	PaymentOutcomeDuplicate PaymentOutcome = "duplicate"
	// PaymentOutcomeRejected means the instance already holds the opposite result
	PaymentOutcomeRejected PaymentOutcome = "rejected"
)

// ConfirmPaymentCommand is a payment callback. RequestID is optional; when
// present a redelivered command is answered from the idempotency store.
type ConfirmPaymentCommand struct {
	RequestID     string `json:"request_id,omitempty"`
	OrderID       int    `json:"orderId"`
	CorrelationID string `json:"correlationId"`
	Succeeded     bool   `json:"succeeded"`
}

// ConfirmPaymentResponse represents the response to a payment callback
type ConfirmPaymentResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Outcome       PaymentOutcome `json:"outcome"`
}

// ConfirmPayment routes payment results to the waiting workflow through its
// durable signal inbox.
type ConfirmPayment struct {
	repository domain.WorkflowRepository
	scheduler  Scheduler
	guard      *idempotency.Guard
	clock      models.Clock
	logger     *slog.Logger
}

// NewConfirmPayment creates a new ConfirmPayment use case
func NewConfirmPayment(
	repository domain.WorkflowRepository,
	scheduler Scheduler,
	guard *idempotency.Guard,
	clock models.Clock,
	logger *slog.Logger,
) *ConfirmPayment {
	if clock == nil {
		clock = models.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmPayment{
		repository: repository,
		scheduler:  scheduler,
		guard:      guard,
		clock:      clock,
		logger:     logger,
	}
}

// Execute delivers the callback. Unknown correlation ids and instances that
// finished without a payment result yield ErrInstanceNotFound.
func (uc *ConfirmPayment) Execute(ctx context.Context, cmd *ConfirmPaymentCommand) (resp *ConfirmPaymentResponse, err error) {
	ctx, op := telemetry.StartOperation(ctx, "confirm_payment",
		attribute.String("correlation_id", cmd.CorrelationID),
		attribute.Bool("succeeded", cmd.Succeeded),
	)
	defer func() {
		if resp != nil {
			op.SetStatus(string(resp.Outcome))
		}
		op.End(ctx, err)
	}()

	correlationID, err := models.NewID(cmd.CorrelationID)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidPaymentCallback, "correlation id %q is not a UUID", cmd.CorrelationID)
	}

	if cmd.RequestID == "" {
		return uc.deliver(ctx, correlationID, cmd)
	}

	return idempotency.Execute(ctx, uc.guard, cmd.RequestID,
		func(ctx context.Context) (*ConfirmPaymentResponse, error) {
			return uc.deliver(ctx, correlationID, cmd)
		},
		idempotency.WithDuplicateResult(&ConfirmPaymentResponse{
			CorrelationID: correlationID.String(),
			Outcome:       PaymentOutcomeAccepted,
		}),
	)
}

func (uc *ConfirmPayment) deliver(ctx context.Context, correlationID models.ID, cmd *ConfirmPaymentCommand) (*ConfirmPaymentResponse, error) {
	instance, err := uc.repository.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load workflow")
	}
	if instance == nil {
		uc.logger.WarnContext(ctx, "payment callback for unknown workflow",
			"correlation_id", correlationID, "order_id", cmd.OrderID)
		return nil, errors.Wrapf(domain.ErrInstanceNotFound, "correlation id %s", correlationID)
	}

	if cmd.OrderID != 0 && instance.OrderID != 0 && cmd.OrderID != instance.OrderID {
		uc.logger.WarnContext(ctx, "payment callback order id mismatch",
			"correlation_id", correlationID, "order_id", instance.OrderID, "callback_order_id", cmd.OrderID)
		return nil, errors.Wrapf(domain.ErrInstanceNotFound, "order %d does not belong to %s", cmd.OrderID, correlationID)
	}

	kind := domain.PaymentSignalKind(cmd.Succeeded)
	respond := func(outcome PaymentOutcome) *ConfirmPaymentResponse {
		if outcome != PaymentOutcomeAccepted {
			uc.logger.InfoContext(ctx, "payment callback not applied",
				"correlation_id", correlationID,
				"order_id", instance.OrderID,
				"step", instance.Step,
				"signal", kind,
				"outcome", outcome)
		}
		return &ConfirmPaymentResponse{CorrelationID: correlationID.String(), Outcome: outcome}
	}

	if instance.PaymentStatus != domain.PaymentStatusUnknown {
		if instance.PaymentStatus == kind.PaymentStatus() {
			return respond(PaymentOutcomeDuplicate), nil
		}
		return respond(PaymentOutcomeRejected), nil
	}

	if instance.Step.IsTerminal() {
		uc.logger.WarnContext(ctx, "payment callback for finished workflow",
			"correlation_id", correlationID, "step", instance.Step, "outcome", instance.Outcome)
		return nil, errors.Wrapf(domain.ErrInstanceNotFound, "workflow %s already finished", correlationID)
	}
	if !instance.AcceptsPayment() {
		return respond(PaymentOutcomeRejected), nil
	}

	pending, err := uc.repository.PendingSignals(ctx, correlationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pending signals")
	}
	for _, signal := range pending {
		if !signal.Kind.IsPayment() {
			continue
		}
		if signal.Kind == kind {
			return respond(PaymentOutcomeDuplicate), nil
		}
		return respond(PaymentOutcomeRejected), nil
	}

	signal := domain.NewSignal(correlationID, kind, uc.clock())
	stored, err := uc.repository.EnqueueSignal(ctx, signal)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enqueue payment signal")
	}
	if !stored {
		return respond(PaymentOutcomeDuplicate), nil
	}
	uc.scheduler.Wake(correlationID)

	// A concurrent callback may have queued the opposite result first; only
	// the earliest payment signal is applied.
	pending, err = uc.repository.PendingSignals(ctx, correlationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pending signals")
	}
	for _, queued := range pending {
		if queued.ID == signal.ID {
			break
		}
		if queued.Kind.IsPayment() && queued.Kind != kind {
			return respond(PaymentOutcomeRejected), nil
		}
	}

	uc.logger.InfoContext(ctx, "payment signal queued",
		"correlation_id", correlationID, "order_id", instance.OrderID, "signal", kind)

	return respond(PaymentOutcomeAccepted), nil
}

package application

import (
	"context"
	"log/slog"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
)

// CancelOrderResponse represents the response to an operator cancellation
type CancelOrderResponse struct {
	CorrelationID string `json:"correlation_id"`
	Step          string `json:"step"`
	Queued        bool   `json:"queued"`
}

// CancelOrder queues an operator cancellation. The engine applies it at the
// next step boundary; a step already running is not interrupted.
type CancelOrder struct {
	repository domain.WorkflowRepository
	scheduler  Scheduler
	clock      models.Clock
	logger     *slog.Logger
}

func NewCancelOrder(repository domain.WorkflowRepository, scheduler Scheduler, clock models.Clock, logger *slog.Logger) *CancelOrder {
	if clock == nil {
		clock = models.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CancelOrder{repository: repository, scheduler: scheduler, clock: clock, logger: logger}
}

// Execute executes the cancel order use case
func (uc *CancelOrder) Execute(ctx context.Context, correlationID string) (resp *CancelOrderResponse, err error) {
	ctx, op := telemetry.StartOperation(ctx, "cancel_order")
	defer func() { op.End(ctx, err) }()

	id, err := models.NewID(correlationID)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInstanceNotFound, "correlation id %q is not a UUID", correlationID)
	}

	instance, err := uc.repository.FindByCorrelationID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load workflow")
	}
	if instance == nil {
		return nil, errors.Wrapf(domain.ErrInstanceNotFound, "correlation id %s", id)
	}

	switch {
	case instance.Step.IsTerminal():
		return nil, errors.Wrapf(domain.ErrInstanceTerminal, "workflow %s is %s", id, instance.Step)
	case instance.PaymentStatus == domain.PaymentStatusSucceeded, instance.Step == domain.StepMarkingPaid:
		return nil, errors.Wrapf(domain.ErrCancelNotAllowed, "payment of %s already succeeded", id)
	case instance.Step == domain.StepCancelling, instance.Step == domain.StepRejectingStock:
		return nil, errors.Wrapf(domain.ErrCancelNotAllowed, "workflow %s is already being cancelled", id)
	}

	queued, err := uc.repository.EnqueueSignal(ctx, domain.NewSignal(id, domain.SignalCancel, uc.clock()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to enqueue cancellation")
	}

	uc.logger.InfoContext(ctx, "cancellation requested",
		"correlation_id", id, "order_id", instance.OrderID, "step", instance.Step, "queued", queued)
	uc.scheduler.Wake(id)

	return &CancelOrderResponse{
		CorrelationID: id.String(),
		Step:          instance.Step.String(),
		Queued:        queued,
	}, nil
}

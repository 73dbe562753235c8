package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/idempotency"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/pkg/errors"
)

// WorkflowStarter starts workflow instances
type WorkflowStarter interface {
	Start(ctx context.Context, req domain.OrderRequest) (*domain.WorkflowInstance, bool, error)
}

// CreateOrderCommand represents the command to start an order workflow
type CreateOrderCommand struct {
	RequestID string              `json:"request_id"`
	Request   domain.OrderRequest `json:"request"`
}

// CreateOrderResponse represents the response after starting a workflow
type CreateOrderResponse struct {
	CorrelationID string    `json:"correlation_id"`
	Step          string    `json:"step"`
	Started       bool      `json:"started"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateOrder starts one workflow per request id. A retried request returns
// the first response without starting anything.
type CreateOrder struct {
	starter WorkflowStarter
	guard   *idempotency.Guard
	logger  *slog.Logger
}

// NewCreateOrder creates a new CreateOrder use case
func NewCreateOrder(starter WorkflowStarter, guard *idempotency.Guard, logger *slog.Logger) *CreateOrder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateOrder{starter: starter, guard: guard, logger: logger}
}

// Execute executes the create order use case
func (uc *CreateOrder) Execute(ctx context.Context, cmd *CreateOrderCommand) (resp *CreateOrderResponse, err error) {
	ctx, op := telemetry.StartOperation(ctx, "create_order")
	defer func() { op.End(ctx, err) }()

	if err := cmd.Request.Validate(); err != nil {
		return nil, err
	}

	return idempotency.Execute(ctx, uc.guard, cmd.RequestID, func(ctx context.Context) (*CreateOrderResponse, error) {
		instance, started, err := uc.starter.Start(ctx, cmd.Request)
		if err != nil {
			return nil, errors.Wrap(err, "failed to start workflow")
		}

		if !started {
			uc.logger.InfoContext(ctx, "workflow already exists",
				"correlation_id", instance.CorrelationID,
				"step", instance.Step)
		}

		return &CreateOrderResponse{
			CorrelationID: instance.CorrelationID.String(),
			Step:          instance.Step.String(),
			Started:       started,
			CreatedAt:     instance.Timestamps.CreatedAt,
		}, nil
	})
}

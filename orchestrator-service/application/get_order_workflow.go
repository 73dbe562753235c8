package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// OrderWorkflowResponse is the externally visible state of a workflow
type OrderWorkflowResponse struct {
	CorrelationID string                   `json:"correlation_id"`
	OrderID       int                      `json:"order_id,omitempty"`
	Step          string                   `json:"step"`
	Terminal      bool                     `json:"terminal"`
	PaymentStatus string                   `json:"payment_status"`
	Outcome       string                   `json:"outcome,omitempty"`
	FailureReason string                   `json:"failure_reason,omitempty"`
	Attempts      map[string]int           `json:"attempts"`
	WakeAt        *time.Time               `json:"wake_at,omitempty"`
	StockItems    []domain.StockItemResult `json:"stock_items,omitempty"`
	Total         string                   `json:"total"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Version       int                      `json:"version"`
}

// HistoryEntry is one lifecycle event of a workflow
type HistoryEntry struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Step      string          `json:"step,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// GetOrderWorkflow reads workflow state and history
type GetOrderWorkflow struct {
	repository domain.WorkflowRepository
}

func NewGetOrderWorkflow(repository domain.WorkflowRepository) *GetOrderWorkflow {
	return &GetOrderWorkflow{repository: repository}
}

// Execute returns the current snapshot of the workflow
func (uc *GetOrderWorkflow) Execute(ctx context.Context, correlationID string) (*OrderWorkflowResponse, error) {
	instance, err := uc.load(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	attempts := make(map[string]int, len(instance.Attempts))
	for step, n := range instance.Attempts {
		attempts[step.String()] = n
	}

	return &OrderWorkflowResponse{
		CorrelationID: instance.CorrelationID.String(),
		OrderID:       instance.OrderID,
		Step:          instance.Step.String(),
		Terminal:      instance.Step.IsTerminal(),
		PaymentStatus: string(instance.PaymentStatus),
		Outcome:       string(instance.Outcome),
		FailureReason: instance.FailureReason,
		Attempts:      attempts,
		WakeAt:        instance.WakeAt,
		StockItems:    instance.StockItems,
		Total:         instance.Request.Total().StringFixed(2),
		CreatedAt:     instance.Timestamps.CreatedAt,
		UpdatedAt:     instance.Timestamps.UpdatedAt,
		Version:       instance.Version.Value,
	}, nil
}

// History returns the lifecycle events of the workflow in order
func (uc *GetOrderWorkflow) History(ctx context.Context, correlationID string) ([]HistoryEntry, error) {
	instance, err := uc.load(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	evts, err := uc.repository.History(ctx, instance.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load workflow history")
	}

	entries := make([]HistoryEntry, 0, len(evts))
	for _, event := range evts {
		data, err := event.MarshalPayload()
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode history event")
		}
		step, _ := event.Metadata.Get("step")
		entries = append(entries, HistoryEntry{
			ID:        event.ID.String(),
			Topic:     event.Topic.String(),
			Step:      step,
			Timestamp: event.Timestamp,
			Data:      data,
		})
	}

	return entries, nil
}

func (uc *GetOrderWorkflow) load(ctx context.Context, correlationID string) (*domain.WorkflowInstance, error) {
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
	return instance, nil
}

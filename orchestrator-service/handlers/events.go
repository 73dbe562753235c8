package handlers

import (
	"context"
	"log/slog"

	"github.com/draftea/order-orchestrator/orchestrator-service/application"
	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/idempotency"
	"github.com/pkg/errors"
)

// PaymentEventHandlers consumes payment results delivered over SQS
type PaymentEventHandlers struct {
	confirmPayment *application.ConfirmPayment
	logger         *slog.Logger
}

// NewPaymentEventHandlers creates new payment event handlers
func NewPaymentEventHandlers(confirmPayment *application.ConfirmPayment, logger *slog.Logger) *PaymentEventHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentEventHandlers{confirmPayment: confirmPayment, logger: logger}
}

// Register binds the handlers to their topics
func (h *PaymentEventHandlers) Register(router *events.Router) {
	router.RegisterHandler(events.PaymentResultReceivedTopic, h.HandlePaymentResult)
}

// HandlePaymentResult routes a payment result to its workflow. The event id
// is the idempotency key, so a redelivered message is answered from the
// store. Results nobody is waiting for are acknowledged.
func (h *PaymentEventHandlers) HandlePaymentResult(ctx context.Context, event *events.Event) error {
	var result events.PaymentResult
	if err := event.UnmarshalPayload(&result); err != nil {
		h.logger.WarnContext(ctx, "dropping malformed payment result", "event_id", event.ID, "error", err)
		return nil
	}

	cmd := &application.ConfirmPaymentCommand{
		RequestID:     event.ID.String(),
		OrderID:       result.OrderID,
		CorrelationID: result.CorrelationID,
		Succeeded:     result.Succeeded,
	}

	response, err := h.confirmPayment.Execute(ctx, cmd)
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "payment result delivered",
			"event_id", event.ID,
			"correlation_id", response.CorrelationID,
			"outcome", response.Outcome)
		return nil
	case errors.Is(err, domain.ErrInstanceNotFound),
		errors.Is(err, domain.ErrInvalidPaymentCallback),
		errors.Is(err, idempotency.ErrInvalidCommandID):
		h.logger.WarnContext(ctx, "payment result has no waiting workflow",
			"event_id", event.ID,
			"correlation_id", result.CorrelationID,
			"order_id", result.OrderID,
			"error", err)
		return nil
	default:
		return err
	}
}

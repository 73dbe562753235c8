package handlers

import (
	"context"
	"testing"

	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentEventHandlers_HandlePaymentResult(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t)

	router := events.NewRouter("orchestrator-service", nil)
	NewPaymentEventHandlers(s.confirm, nil).Register(router)

	event := events.NewEvent(id, events.PaymentResultReceivedTopic, events.PaymentResult{
		CorrelationID: id.String(),
		Succeeded:     true,
	})

	require.NoError(t, router.Handle(context.Background(), event))
	require.NoError(t, router.Handle(context.Background(), event))

	pending, err := s.repo.PendingSignals(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPaymentEventHandlers_AcknowledgesUndeliverableResults(t *testing.T) {
	s := newTestServer(t)
	handler := NewPaymentEventHandlers(s.confirm, nil)

	tests := []struct {
		name  string
		event *events.Event
	}{
		{
			name: "unknown workflow",
			event: events.NewEvent("x", events.PaymentResultReceivedTopic,
				events.PaymentResult{CorrelationID: models.GenerateUUID().String(), Succeeded: true}),
		},
		{
			name: "malformed correlation id",
			event: events.NewEvent("x", events.PaymentResultReceivedTopic,
				events.PaymentResult{CorrelationID: "nope"}),
		},
		{
			name:  "malformed payload",
			event: events.NewEvent("x", events.PaymentResultReceivedTopic, []byte(`"not an object"`)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, handler.HandlePaymentResult(context.Background(), tt.event))
		})
	}
}

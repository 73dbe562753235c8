package domain

import (
	"testing"
	"time"

	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentRequest_Validate(t *testing.T) {
	id := models.GenerateUUID()

	tests := []struct {
		name    string
		request PaymentRequest
		wantErr bool
	}{
		{name: "valid", request: PaymentRequest{OrderID: 7, CorrelationID: id}},
		{name: "missing order id", request: PaymentRequest{CorrelationID: id}, wantErr: true},
		{name: "correlation id not a uuid", request: PaymentRequest{OrderID: 7, CorrelationID: "order-7"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPaymentRequest)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPayment_Resolve(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	req := PaymentRequest{OrderID: 7, CorrelationID: models.GenerateUUID()}

	payment := NewPayment(req, now)
	require.Equal(t, PaymentStatusPending, payment.Status)

	require.NoError(t, payment.Resolve(false, now.Add(time.Second)))
	assert.Equal(t, PaymentStatusFailed, payment.Status)

	evts := payment.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.PaymentResultReceivedTopic, evts[0].Topic)
	assert.Equal(t, req.CorrelationID, evts[0].CorrelationID)

	var result events.PaymentResult
	require.NoError(t, evts[0].UnmarshalPayload(&result))
	assert.Equal(t, events.PaymentResult{OrderID: 7, CorrelationID: req.CorrelationID.String(), Succeeded: false}, result)

	assert.ErrorIs(t, payment.Resolve(true, now), ErrPaymentNotPending)
}

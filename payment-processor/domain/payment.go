package domain

import (
	"time"

	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
)

var (
	ErrInvalidPaymentRequest = errors.New("invalid payment request")
	ErrPaymentNotPending     = errors.New("payment is not pending")
)

// PaymentStatus represents the status of a simulated payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRequest is what the orchestrator sends to start a payment. The
// correlation id travels as "orderyGuid" on the wire.
type PaymentRequest struct {
	OrderID       int       `json:"orderId"`
	CorrelationID models.ID `json:"orderyGuid"`
}

// Validate normalises the correlation id and checks the order id
func (r *PaymentRequest) Validate() error {
	if r.OrderID <= 0 {
		return errors.Wrapf(ErrInvalidPaymentRequest, "order id must be positive, got %d", r.OrderID)
	}

	id, err := models.NewID(r.CorrelationID.String())
	if err != nil {
		return errors.Wrapf(ErrInvalidPaymentRequest, "correlation id %q is not a UUID", r.CorrelationID)
	}
	r.CorrelationID = id

	return nil
}

// Payment is one simulated payment. It resolves exactly once.
type Payment struct {
	ID            models.ID
	OrderID       int
	CorrelationID models.ID
	Status        PaymentStatus
	Timestamps    models.Timestamps

	events []*events.Event
}

// NewPayment creates a pending payment for the request
func NewPayment(req PaymentRequest, now time.Time) *Payment {
	return &Payment{
		ID:            models.GenerateUUID(),
		OrderID:       req.OrderID,
		CorrelationID: req.CorrelationID,
		Status:        PaymentStatusPending,
		Timestamps:    models.NewTimestamps(now),
	}
}

// Resolve settles the payment and records the result event the orchestrator
// consumes.
func (p *Payment) Resolve(succeeded bool, now time.Time) error {
	if p.Status != PaymentStatusPending {
		return errors.Wrapf(ErrPaymentNotPending, "payment %s is %s", p.ID, p.Status)
	}

	p.Status = PaymentStatusFailed
	if succeeded {
		p.Status = PaymentStatusSucceeded
	}
	p.Timestamps = p.Timestamps.Update(now)

	event := events.NewEvent(p.ID, events.PaymentResultReceivedTopic, events.PaymentResult{
		OrderID:       p.OrderID,
		CorrelationID: p.CorrelationID.String(),
		Succeeded:     succeeded,
	}).
		WithCorrelationID(p.CorrelationID).
		WithTimestamp(now)

	p.events = append(p.events, event)
	return nil
}

// Events returns the recorded events
func (p *Payment) Events() []*events.Event {
	return p.events
}

// ClearEvents clears the recorded events
func (p *Payment) ClearEvents() {
	p.events = nil
}

package events

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRouter_Handle(t *testing.T) {
	router := NewRouter("test-router", nil)

	var handled []string
	router.RegisterHandler(PaymentResultReceivedTopic, func(_ context.Context, e *Event) error {
		handled = append(handled, "first:"+e.Topic.String())
		return nil
	})
	router.RegisterHandler(PaymentResultReceivedTopic, func(_ context.Context, e *Event) error {
		handled = append(handled, "second:"+e.Topic.String())
		return nil
	})

	event := NewEvent("agg", PaymentResultReceivedTopic, PaymentResult{OrderID: 1})
	assert.NoError(t, router.Handle(context.Background(), event))
	assert.Equal(t, []string{"first:payment.result.received", "second:payment.result.received"}, handled)

	assert.NoError(t, router.Handle(context.Background(), NewEvent("agg", OrderPaidTopic, nil)))
	assert.Len(t, handled, 2)
	assert.Equal(t, "test-router", router.HandlerID())
}

func TestRouter_HandlerFailureIsReturned(t *testing.T) {
	router := NewRouter("test-router", nil)
	boom := errors.New("boom")

	calls := 0
	router.RegisterHandler(OrderPaidTopic, func(context.Context, *Event) error { return boom })
	router.RegisterHandler(OrderPaidTopic, func(context.Context, *Event) error {
		calls++
		return nil
	})

	err := router.Handle(context.Background(), NewEvent("agg", OrderPaidTopic, nil))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, calls)
}

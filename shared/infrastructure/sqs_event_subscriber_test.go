package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSQS struct {
	mu         sync.Mutex
	pending    []types.Message
	deleted    []string
	visibility map[string]int32
}

func newStubSQS(messages ...types.Message) *stubSQS {
	return &stubSQS{pending: messages, visibility: map[string]int32{}}
}

func (s *stubSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &sqs.ReceiveMessageOutput{Messages: s.pending}
	s.pending = nil
	return out, ctx.Err()
}

func (s *stubSQS) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleted = append(s.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (s *stubSQS) ChangeMessageVisibility(_ context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visibility[aws.ToString(params.ReceiptHandle)] = params.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (s *stubSQS) settled() (deleted []string, visibility map[string]int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visibility = make(map[string]int32, len(s.visibility))
	for k, v := range s.visibility {
		visibility[k] = v
	}
	return append([]string(nil), s.deleted...), visibility
}

func sqsMessageFor(t *testing.T, event *events.Event, handle string, viaSNS bool) types.Message {
	t.Helper()

	body, err := event.ToJSON()
	require.NoError(t, err)

	if viaSNS {
		body, err = json.Marshal(snsEnvelope{Type: "Notification", Message: string(body)})
		require.NoError(t, err)
	}

	return types.Message{
		MessageId:     aws.String("msg-" + handle),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String(string(body)),
		Attributes: map[string]string{
			string(types.MessageSystemAttributeNameApproximateReceiveCount): "4",
		},
		MessageAttributes: map[string]types.MessageAttributeValue{
			"source": {DataType: aws.String("String"), StringValue: aws.String("payment-processor")},
		},
	}
}

func startSubscriber(t *testing.T, client *stubSQS, handler events.EventHandler, opts ...SQSSubscriberOption) {
	t.Helper()

	opts = append([]SQSSubscriberOption{
		WithWorkers(2),
		WithSleepTimes(5*time.Millisecond, 5*time.Millisecond),
	}, opts...)

	subscriber := NewSQSEventSubscriber(client, "http://localhost:4566/queue/payments", opts...)
	require.NoError(t, subscriber.Subscribe(context.Background(), handler))
	assert.ErrorIs(t, subscriber.Subscribe(context.Background(), handler), ErrSubscriberRunning)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, subscriber.Stop(ctx))
		assert.False(t, subscriber.Running())
	})
}

func TestSQSEventSubscriber_DeliversAndAcks(t *testing.T) {
	correlationID := models.GenerateUUID()
	raw := events.NewEvent(correlationID, events.PaymentResultReceivedTopic, map[string]bool{"succeeded": true})
	enveloped := events.NewEvent(correlationID, events.PaymentResultReceivedTopic, map[string]bool{"succeeded": false})

	client := newStubSQS(
		sqsMessageFor(t, raw, "h1", false),
		sqsMessageFor(t, enveloped, "h2", true),
		types.Message{MessageId: aws.String("bad"), ReceiptHandle: aws.String("h3"), Body: aws.String("not json")},
	)

	received := make(chan *events.Event, 2)
	startSubscriber(t, client, NewEventHandlerFunc("test", func(_ context.Context, event *events.Event) error {
		received <- event
		return nil
	}))

	got := map[models.ID]*events.Event{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-received:
			got[event.ID] = event
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	require.Contains(t, got, raw.ID)
	require.Contains(t, got, enveloped.ID)
	assert.Equal(t, "payment-processor", got[raw.ID].Metadata["source"])
	assert.Equal(t, "4", got[raw.ID].Metadata[SQSReceiveCountKey])
	assert.Equal(t, "h2", got[enveloped.ID].Metadata[SQSReceiptHandleKey])

	assert.Eventually(t, func() bool {
		deleted, _ := client.settled()
		return len(deleted) == 2
	}, time.Second, 5*time.Millisecond)

	deleted, _ := client.settled()
	assert.ElementsMatch(t, []string{"h1", "h2"}, deleted)
}

func TestSQSEventSubscriber_ExtendsVisibilityOnError(t *testing.T) {
	event := events.NewEvent(models.GenerateUUID(), events.PaymentResultReceivedTopic, nil)
	client := newStubSQS(sqsMessageFor(t, event, "h1", false))

	startSubscriber(t, client, NewEventHandlerFunc("failing", func(context.Context, *events.Event) error {
		return errors.New("boom")
	}))

	assert.Eventually(t, func() bool {
		_, visibility := client.settled()
		return visibility["h1"] == 60
	}, time.Second, 5*time.Millisecond)

	deleted, _ := client.settled()
	assert.Empty(t, deleted)
}

func TestSQSEventSubscriber_TopicFilter(t *testing.T) {
	event := events.NewEvent(models.GenerateUUID(), events.OrderPaidTopic, nil)
	client := newStubSQS(sqsMessageFor(t, event, "h1", false))

	calls := make(chan struct{}, 1)
	startSubscriber(t, client, NewEventHandlerFunc("payments", func(context.Context, *events.Event) error {
		calls <- struct{}{}
		return nil
	}), WithTopicFilter("payment.#"))

	assert.Eventually(t, func() bool {
		deleted, _ := client.settled()
		return len(deleted) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, calls)
}

func TestSQSEventSubscriber_BackoffVisibility(t *testing.T) {
	subscriber := NewSQSEventSubscriber(newStubSQS(), "queue")

	tests := []struct {
		count string
		want  int32
	}{
		{count: "", want: 30},
		{count: "2", want: 30},
		{count: "3", want: 60},
		{count: "9", want: 120},
		{count: "1000", want: 900},
	}

	for _, tt := range tests {
		t.Run("count="+tt.count, func(t *testing.T) {
			msg := types.Message{Attributes: map[string]string{
				string(types.MessageSystemAttributeNameApproximateReceiveCount): tt.count,
			}}
			assert.Equal(t, tt.want, subscriber.backoffVisibility(msg))
		})
	}
}

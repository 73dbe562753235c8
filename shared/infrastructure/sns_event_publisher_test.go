package infrastructure

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSNS struct {
	mu      sync.Mutex
	inputs  []*sns.PublishBatchInput
	failIDs map[string]bool
	err     error
}

func (s *stubSNS) PublishBatch(_ context.Context, params *sns.PublishBatchInput, _ ...func(*sns.Options)) (*sns.PublishBatchOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputs = append(s.inputs, params)
	if s.err != nil {
		return nil, s.err
	}

	out := &sns.PublishBatchOutput{}
	for _, entry := range params.PublishBatchRequestEntries {
		if s.failIDs[aws.ToString(entry.Id)] {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{Id: entry.Id})
		}
	}
	return out, nil
}

func makeEvents(n int) []*events.Event {
	evts := make([]*events.Event, n)
	for i := range evts {
		evts[i] = events.NewEvent(models.GenerateUUID(), events.OrderPaidTopic, map[string]int{"order_id": i}).
			WithMetadata("step", "paid").
			WithMetadata(SQSReceiptHandleKey, "handle")
	}
	return evts
}

func TestSNSEventPublisher_Publish(t *testing.T) {
	client := &stubSNS{}
	publisher := NewSNSEventPublisher(client, "arn:aws:sns:us-east-1:000000000000:order-events")

	require.NoError(t, publisher.Publish(context.Background(), makeEvents(23)...))

	require.Len(t, client.inputs, 3)
	total := 0
	for _, in := range client.inputs {
		assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:order-events", aws.ToString(in.TopicArn))
		assert.LessOrEqual(t, len(in.PublishBatchRequestEntries), maxBatchSize)
		total += len(in.PublishBatchRequestEntries)

		entry := in.PublishBatchRequestEntries[0]
		assert.Equal(t, "order.workflow.paid", aws.ToString(entry.MessageAttributes["topic"].StringValue))
		assert.Equal(t, "paid", aws.ToString(entry.MessageAttributes["step"].StringValue))
		assert.NotContains(t, entry.MessageAttributes, SQSReceiptHandleKey)

		decoded, err := events.FromJSON([]byte(aws.ToString(entry.Message)))
		require.NoError(t, err)
		assert.Equal(t, events.OrderPaidTopic, decoded.Topic)
	}
	assert.Equal(t, 23, total)
}

func TestSNSEventPublisher_Errors(t *testing.T) {
	t.Run("client error", func(t *testing.T) {
		publisher := NewSNSEventPublisher(&stubSNS{err: errors.New("throttled")}, "arn")
		err := publisher.Publish(context.Background(), makeEvents(1)...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish batch to SNS")
	})

	t.Run("partial failure", func(t *testing.T) {
		evts := makeEvents(2)
		client := &stubSNS{failIDs: map[string]bool{evts[1].ID.String(): true}}
		publisher := NewSNSEventPublisher(client, "arn")

		err := publisher.Publish(context.Background(), evts...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), evts[1].ID.String())
	})

	t.Run("nothing to publish", func(t *testing.T) {
		client := &stubSNS{}
		publisher := NewSNSEventPublisher(client, "arn")
		require.NoError(t, publisher.Publish(context.Background()))
		assert.Empty(t, client.inputs)
	})
}

func TestSplitToChunks(t *testing.T) {
	chunks := splitToChunks([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)
	assert.Nil(t, splitToChunks([]int{}, 2))
}

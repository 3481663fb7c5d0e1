package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ring0.store/fulfillment/models"
)

type fakeProducer struct {
	messages   []*kafka.Message
	produceErr error
	deliverErr error
	hold       bool
	flushed    bool
	closed     bool
}

func (p *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if p.produceErr != nil {
		return p.produceErr
	}
	p.messages = append(p.messages, msg)
	if !p.hold {
		delivered := *msg
		delivered.TopicPartition.Error = p.deliverErr
		deliveryChan <- &delivered
	}
	return nil
}

func (p *fakeProducer) Flush(timeoutMs int) int {
	p.flushed = true
	return 0
}

func (p *fakeProducer) Close() {
	p.closed = true
}

func TestKafkaNotify(t *testing.T) {
	producer := &fakeProducer{}
	k := NewKafka(producer, "successful_payments")
	k.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	err := k.Notify(context.Background(), models.NotifyOrderCompleted, map[string]string{
		"order_number": "KZ-1",
		"total":        "$19.99",
	})
	require.NoError(t, err)
	require.Len(t, producer.messages, 1)

	msg := producer.messages[0]
	assert.Equal(t, "successful_payments", *msg.TopicPartition.Topic)
	assert.Equal(t, []byte("KZ-1"), msg.Key)

	var envelope kafkaEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, models.NotifyOrderCompleted, envelope.Event)
	assert.Equal(t, "$19.99", envelope.Payload["total"])
	assert.True(t, envelope.OccurredAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestKafkaNotify_Errors(t *testing.T) {
	tests := []struct {
		name     string
		producer *fakeProducer
		timeout  time.Duration
	}{
		{"produce fails", &fakeProducer{produceErr: errors.New("queue full")}, time.Second},
		{"delivery fails", &fakeProducer{deliverErr: errors.New("broker down")}, time.Second},
		{"delivery times out", &fakeProducer{hold: true}, 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			k := NewKafka(tt.producer, "successful_payments")
			assert.Error(t, k.Notify(ctx, models.NotifyOrderRefunded, map[string]string{"order_number": "X"}))
		})
	}
}

func TestKafkaClose(t *testing.T) {
	producer := &fakeProducer{}
	NewKafka(producer, "t").Close(time.Second)
	assert.True(t, producer.flushed)
	assert.True(t, producer.closed)
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(ctx context.Context, event string, payload map[string]string) error {
	s.calls++
	return s.err
}

func TestMulti(t *testing.T) {
	ok := &stubNotifier{}
	failing := &stubNotifier{err: errors.New("down")}

	err := Multi{failing, ok}.Notify(context.Background(), "e", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, ok.calls, "a failing notifier does not stop the others")
	assert.Equal(t, 1, failing.calls)
}

func TestCombine(t *testing.T) {
	a := &stubNotifier{}
	b := &stubNotifier{}

	assert.Nil(t, Combine())
	assert.Nil(t, Combine(nil))
	assert.Same(t, a, Combine(nil, a))
	assert.Len(t, Combine(a, b), 2)
}

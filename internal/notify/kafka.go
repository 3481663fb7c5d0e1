package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"ring0.store/fulfillment/internal/logger"
)

// Producer is the part of *kafka.Producer the notifier uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

type kafkaEnvelope struct {
	Event      string            `json:"event"`
	Payload    map[string]string `json:"payload"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Kafka publishes events to a topic, keyed by order number so that events
// for one order stay on one partition.
type Kafka struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewKafka(producer Producer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic, now: time.Now}
}

// NewKafkaProducer connects a producer that waits for all in-sync replicas.
func NewKafkaProducer(bootstrapServers string) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"acks":               "all",
		"enable.idempotence": true,
		"client.id":          "ring0-fulfillment",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	logger.Info("Kafka producer created", map[string]interface{}{
		"bootstrap_servers": bootstrapServers,
	})
	return p, nil
}

func (k *Kafka) Notify(ctx context.Context, event string, payload map[string]string) error {
	value, err := json.Marshal(kafkaEnvelope{
		Event:      event,
		Payload:    payload,
		OccurredAt: k.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode kafka message: %w", err)
	}

	topic := k.topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          value,
		Headers:        []kafka.Header{{Key: "event", Value: []byte(event)}},
	}
	if key := payload["order_number"]; key != "" {
		msg.Key = []byte(key)
	}

	delivery := make(chan kafka.Event, 1)
	if err := k.producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", k.topic, err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected kafka delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery to %s failed: %w", k.topic, m.TopicPartition.Error)
		}
		logger.Debug("Kafka event delivered", map[string]interface{}{
			"event":     event,
			"topic":     k.topic,
			"partition": m.TopicPartition.Partition,
			"offset":    m.TopicPartition.Offset.String(),
		})
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for kafka delivery: %w", ctx.Err())
	}
}

// Close flushes outstanding messages for up to timeout.
func (k *Kafka) Close(timeout time.Duration) {
	if remaining := k.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		logger.Warn("Kafka messages not delivered before shutdown", map[string]interface{}{
			"remaining": remaining,
		})
	}
	k.producer.Close()
}

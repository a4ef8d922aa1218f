package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stockpush/pkg/models"
)

var _ TickSink = (*KafkaPublisher)(nil)

// KafkaPublisher writes every tick to a topic, keyed by symbol so one symbol stays on one partition.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// NewKafkaWriter builds the production writer: batched and async. WriteMessages never sees delivery
// errors in async mode, so they are counted from the completion callback instead.
func NewKafkaWriter(logger *zap.Logger, brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   DeliveryReporter(logger),
	}
}

// DeliveryReporter logs and counts failed async batches under sink="kafka".
func DeliveryReporter(logger *zap.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		metrics.SinkErrorsTotal.WithLabelValues("kafka").Inc()
		logger.Warn("Kafka delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
	}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) Publish(ctx context.Context, updates []models.StockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(updates))
	for _, u := range updates {
		payload, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode %s: %w", u.Symbol, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(u.Symbol), Value: payload})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

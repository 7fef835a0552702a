package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes events as JSON to a Kafka topic, keyed by user ID so
// one user's events stay ordered within a partition. Record returns publish
// failures; Emit only logs them.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaProducer builds a SyncProducer suited to audit delivery.
func NewKafkaProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaSink wraps an existing producer. A nil logger is replaced by a no-op logger.
func NewKafkaSink(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	if err := s.Record(ctx, event); err != nil {
		s.logger.Warn("audit event publish failed",
			zap.String("topic", s.topic),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// Record publishes the event and waits for the broker acknowledgement.
func (s *KafkaSink) Record(ctx context.Context, event Event) error {
	if s == nil || s.producer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     s.topic,
		Value:     sarama.ByteEncoder(payload),
		Timestamp: event.Timestamp,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	}
	if event.UserID != "" {
		msg.Key = sarama.StringEncoder(event.UserID)
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close closes the underlying producer.
func (s *KafkaSink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

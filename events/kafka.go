package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const kafkaBatchTimeout = 10 * time.Millisecond

// KafkaSink streams events keyed by appointment id. The hash balancer maps
// a key to a fixed partition, so one appointment's history stays ordered.
// Writes are asynchronous; delivery failures are logged from the writer's
// completion callback.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{logger: logger}
	s.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: kafkaBatchTimeout,
		Async:        true,
		Completion:   s.completed,
	}
	return s
}

func (s *KafkaSink) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		s.logger.Error("failed to deliver appointment event",
			zap.Error(err),
			zap.String("topic", s.writer.Topic),
			zap.ByteString("appointment_id", m.Key))
	}
}

// Message encodes e the way it is written to the topic.
func Message(e Event) (kafka.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "failed to encode event")
	}
	return kafka.Message{
		Key:   []byte(e.AppointmentID),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

// Publish queues e and returns without waiting for the broker.
func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to queue event for kafka")
	}
	return nil
}

// Close flushes queued events.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

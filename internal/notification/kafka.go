package notification

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier forwards notifications to a Kafka topic.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier wraps a writer already bound to its topic.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Send writes the message keyed by message.Key so events of one wallet stay ordered.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Key),
		Value: message.Body,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(message.Kind)},
			{Key: "destination", Value: []byte(message.Destination)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", message.Kind, err)
	}
	return nil
}

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds event stream configuration
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink streams session lifecycle events for fleet monitoring.
type KafkaSink struct {
	writer *kafka.Writer
}

// event is the wire form of one session event.
type event struct {
	Worker    string         `json:"worker"`
	Kind      string         `json:"kind"`
	Timestamp string         `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewKafkaSink creates the event writer. The connection is lazy; broker
// problems surface on the first publish.
func NewKafkaSink(cfg *KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink needs brokers and a topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: time.Second,
		Async:        true,
	}
	return &KafkaSink{writer: writer}, nil
}

// PublishEvent sends one event keyed by worker so per-miner ordering holds.
func (s *KafkaSink) PublishEvent(ctx context.Context, worker, kind string, fields map[string]any) error {
	value, err := sonic.Marshal(event{
		Worker:    worker,
		Kind:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields:    fields,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(worker),
		Value: value,
	})
}

// Close flushes and shuts the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

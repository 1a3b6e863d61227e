package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

// Producer wraps a kafka writer. The consumer process uses it as the
// dead-letter publisher; the topic is the source topic plus the configured
// suffix.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg ProducerConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w}
}

// Publish forwards the original record to the dead-letter topic, carrying
// the source topic and the final error as headers for manual inspection.
func (p *Producer) Publish(ctx context.Context, msg kafka.Message, reason string) error {
	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "x-dead-letter-source-topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "x-dead-letter-reason", Value: []byte(reason)},
		),
	}

	if err := p.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *Producer) GetTopic() string {
	return p.writer.Topic
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

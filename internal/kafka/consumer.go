package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"semaforo/internal/logger"
	"semaforo/internal/models"
)

// Consumer reads audit events back from the audit topic
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins groupID on topic. An empty groupID reads partition 0
// from the newest offset without committing.
func NewConsumer(brokers []string, topic, groupID string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if groupID == "" {
		cfg.StartOffset = kafka.LastOffset
	}

	return &Consumer{reader: kafka.NewReader(cfg)}, nil
}

// Run hands each decoded event to handle until ctx is done. Undecodable
// messages are logged and skipped; a handler error stops the loop.
func (c *Consumer) Run(ctx context.Context, handle func(*models.AuditEvent) error) error {
	log := logger.WithComponent("kafka_consumer")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read audit topic: %w", err)
		}

		event, err := DecodeAuditEvent(msg)
		if err != nil {
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("skipping undecodable audit message")
			continue
		}

		if err := handle(event); err != nil {
			return err
		}
	}
}

// Close leaves the group and closes the connection
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeAuditEvent parses a message written by Producer
func DecodeAuditEvent(msg kafka.Message) (*models.AuditEvent, error) {
	var event models.AuditEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, fmt.Errorf("decode audit event: %w", err)
	}
	if event.AircraftID == "" {
		event.AircraftID = string(msg.Key)
	}
	return &event, nil
}

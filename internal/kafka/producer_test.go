package kafka

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaforo/internal/config"
	"semaforo/internal/models"
)

// skipIfNoKafka skips the test if Kafka is not available
func skipIfNoKafka(t *testing.T) {
	if os.Getenv("KAFKA_TEST") != "1" {
		t.Skip("Skipping Kafka integration test. Set KAFKA_TEST=1 to run.")
	}
}

func testEvent(aircraftID string) *models.AuditEvent {
	e := models.NewAuditEvent(aircraftID, 1000, 1050).WithNode("test-node")
	e.Propagated = true
	e.Reason = "flight log"
	e.ComponentsUpdated = 3
	e.ComponentsFailed = []string{"c-2"}
	return e
}

func TestToMessage(t *testing.T) {
	event := testEvent("ac-1")

	msg, err := toMessage(event)
	require.NoError(t, err)

	assert.Equal(t, "ac-1", string(msg.Key))
	assert.Equal(t, event.Timestamp, msg.Time)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "ac-1", headers["aircraft_id"])
	assert.Equal(t, event.ID, headers["event_id"])
	assert.Equal(t, "test-node", headers["node"])

	decoded, err := DecodeAuditEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, 50.0, decoded.Delta)
	assert.Equal(t, []string{"c-2"}, decoded.ComponentsFailed)
}

func TestDecodeAuditEvent_Invalid(t *testing.T) {
	_, err := DecodeAuditEvent(kafkaMessage("not json"))
	assert.Error(t, err)
}

func TestNewProducer_Validation(t *testing.T) {
	_, err := NewProducer(nil, "audit", config.ProducerConfig{})
	assert.Error(t, err)

	_, err = NewProducer([]string{"localhost:9092"}, "", config.ProducerConfig{})
	assert.Error(t, err)
}

func TestProducer_PublishAfterClose(t *testing.T) {
	cfg := config.Default()
	producer, err := NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer)
	require.NoError(t, err)
	require.NoError(t, producer.Close())

	err = producer.Publish(context.Background(), testEvent("ac-1"))
	assert.ErrorIs(t, err, ErrProducerClosed)

	err = producer.PublishBatch(context.Background(), []*models.AuditEvent{testEvent("ac-1")})
	assert.ErrorIs(t, err, ErrProducerClosed)
}

func TestProducerPublish(t *testing.T) {
	skipIfNoKafka(t)

	cfg := config.Default()
	producer, err := NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, producer.HealthCheck(ctx))
	require.NoError(t, producer.Publish(ctx, testEvent("ac-1")))
	assert.Equal(t, uint64(1), producer.Stats().MessagesSent)
}

func TestProducerPublishBatch(t *testing.T) {
	skipIfNoKafka(t)

	cfg := config.Default()
	producer, err := NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer)
	require.NoError(t, err)
	defer producer.Close()

	events := make([]*models.AuditEvent, 10)
	for i := range events {
		events[i] = testEvent(fmt.Sprintf("ac-%d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, producer.PublishBatch(ctx, events))
	assert.Equal(t, uint64(10), producer.Stats().MessagesSent)
}

func kafkaMessage(value string) kafkago.Message {
	return kafkago.Message{Value: []byte(value)}
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"semaforo/internal/config"
	"semaforo/internal/logger"
	"semaforo/internal/metrics"
	"semaforo/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Producer publishes audit events to one topic. Writers are pooled so that
// concurrent flushes from the worker pool do not serialize on one
// connection; messages are keyed by aircraft to keep each aircraft's
// history ordered within a partition.
type Producer struct {
	cfg     config.ProducerConfig
	brokers []string
	topic   string
	writers []*kafka.Writer
	pool    chan *kafka.Writer
	closed  atomic.Bool

	sent   atomic.Uint64
	failed atomic.Uint64
	bytes  atomic.Uint64
}

// NewProducer creates the writer pool. No connection is made until the
// first publish.
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	p := &Producer{
		cfg:     cfg,
		brokers: brokers,
		topic:   topic,
		writers: make([]*kafka.Writer, cfg.PoolSize),
		pool:    make(chan *kafka.Writer, cfg.PoolSize),
	}

	codec := compression(cfg.Compression)
	for i := range p.writers {
		w := &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  codec,
			MaxAttempts:  cfg.MaxRetries + 1,
		}
		p.writers[i] = w
		p.pool <- w
	}

	return p, nil
}

func compression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// toMessage encodes an audit event keyed by its aircraft
func toMessage(event *models.AuditEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	return kafka.Message{
		Key:   []byte(event.PartitionKey()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "aircraft_id", Value: []byte(event.AircraftID)},
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "node", Value: []byte(event.Node)},
		},
		Time: event.Timestamp,
	}, nil
}

// Publish sends one audit event. Encoding failures are returned.
func (p *Producer) Publish(ctx context.Context, event *models.AuditEvent) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	msg, err := toMessage(event)
	if err != nil {
		p.recordFailure(1)
		return err
	}
	return p.send(ctx, []kafka.Message{msg})
}

// PublishBatch sends several audit events in one write. Events that cannot
// be encoded are logged and left out of the write.
func (p *Producer) PublishBatch(ctx context.Context, events []*models.AuditEvent) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	log := logger.WithComponent("kafka_producer")
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := toMessage(event)
		if err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("aircraft_id", event.AircraftID).
				Msg("failed to serialize audit event")
			p.recordFailure(1)
			continue
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		return nil
	}
	return p.send(ctx, messages)
}

// send borrows a writer, writes with retries and records the outcome
func (p *Producer) send(ctx context.Context, messages []kafka.Message) error {
	start := time.Now()

	writer, err := p.acquire(ctx)
	if err != nil {
		p.recordFailure(len(messages))
		return err
	}
	defer p.release(writer)

	err = p.writeWithRetry(ctx, writer, messages)
	duration := time.Since(start)
	metrics.KafkaPublishDuration.Observe(duration.Seconds())

	if err != nil {
		p.recordFailure(len(messages))
		return err
	}

	var size uint64
	for _, msg := range messages {
		size += uint64(len(msg.Value))
	}
	p.sent.Add(uint64(len(messages)))
	p.bytes.Add(size)
	metrics.KafkaPublishTotal.WithLabelValues("success").Add(float64(len(messages)))
	metrics.KafkaBytesWritten.Add(float64(size))

	log := logger.WithComponent("kafka_producer")
	log.Debug().
		Int("messages", len(messages)).
		Dur("duration", duration).
		Msg("audit events published")
	return nil
}

func (p *Producer) acquire(ctx context.Context) (*kafka.Writer, error) {
	select {
	case w := <-p.pool:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Producer) release(w *kafka.Writer) {
	p.pool <- w
}

func (p *Producer) recordFailure(n int) {
	p.failed.Add(uint64(n))
	metrics.KafkaPublishTotal.WithLabelValues("failed").Add(float64(n))
}

// writeWithRetry retries with doubling backoff. Context errors end the
// loop at once.
func (p *Producer) writeWithRetry(ctx context.Context, writer *kafka.Writer, messages []kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	backoff := p.cfg.RetryBackoff
	attempts := p.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.KafkaPublishRetries.Inc()
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("messages", len(messages)).
			Dur("next_backoff", backoff).
			Msg("kafka write failed")
	}

	log.Error().
		Err(lastErr).
		Int("attempts", attempts).
		Int("messages", len(messages)).
		Msg("giving up on kafka write")
	return fmt.Errorf("write failed after %d attempts: %w", attempts, lastErr)
}

// Close closes every writer. Later publishes fail with ErrProducerClosed.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProducerStats are the producer's lifetime counters, served at /stats
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}

// Stats returns the lifetime counters
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.sent.Load(),
		MessagesFailed: p.failed.Load(),
		BytesWritten:   p.bytes.Load(),
	}
}

// HealthCheck dials the first broker and reads the topic's partitions
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.brokers[0], err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(p.topic); err != nil {
		return fmt.Errorf("read partitions of %s: %w", p.topic, err)
	}
	return nil
}

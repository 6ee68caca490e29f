package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"semaforo/internal/logger"
	"semaforo/internal/metrics"
	"semaforo/internal/models"
)

// ChannelSink queues audit events for the pool without ever blocking the
// caller. Events that do not fit are dropped and counted.
type ChannelSink struct {
	mu      sync.RWMutex
	ch      chan *models.AuditEvent
	closed  bool
	dropped atomic.Uint64
}

// NewChannelSink creates a sink backed by a queue of the given capacity
func NewChannelSink(capacity int) *ChannelSink {
	if capacity <= 0 {
		capacity = 1000
	}
	metrics.AuditQueueCapacity.Set(float64(capacity))
	return &ChannelSink{ch: make(chan *models.AuditEvent, capacity)}
}

// Events is the queue the pool consumes
func (s *ChannelSink) Events() <-chan *models.AuditEvent {
	return s.ch
}

// Submit enqueues event, dropping it when the queue is full or closed
func (s *ChannelSink) Submit(event *models.AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(event, "closed")
		return
	}

	select {
	case s.ch <- event:
		metrics.AuditQueueSize.Set(float64(len(s.ch)))
	default:
		s.drop(event, "full")
	}
}

func (s *ChannelSink) drop(event *models.AuditEvent, why string) {
	s.dropped.Add(1)
	metrics.AuditDroppedTotal.Inc()

	log := logger.WithComponent("audit_sink")
	log.Warn().
		Str("event_id", event.ID).
		Str("aircraft_id", event.AircraftID).
		Str("queue", why).
		Msg("audit event dropped")
}

// Close stops accepting events and closes the queue so the pool can drain
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Len is the number of queued events
func (s *ChannelSink) Len() int {
	return len(s.ch)
}

// Cap is the queue capacity
func (s *ChannelSink) Cap() int {
	return cap(s.ch)
}

// Dropped is the number of events discarded so far
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// LogPublisher writes audit events to the structured log. It is used when no
// broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event *models.AuditEvent) error {
	log := logger.WithComponent("audit")
	log.Info().
		Str("event_id", event.ID).
		Str("aircraft_id", event.AircraftID).
		Float64("delta", event.Delta).
		Float64("previous_hours", event.PreviousHours).
		Float64("new_hours", event.NewHours).
		Bool("propagated", event.Propagated).
		Bool("retry", event.Retry).
		Str("reason", event.Reason).
		Str("notes", event.Notes).
		Int("components_updated", event.ComponentsUpdated).
		Int("components_skipped", event.ComponentsSkipped).
		Strs("components_failed", event.ComponentsFailed).
		Int("components_crossed", event.ComponentsCrossed).
		Time("timestamp", event.Timestamp).
		Msg("usage update audited")
	return nil
}

func (p LogPublisher) PublishBatch(ctx context.Context, events []*models.AuditEvent) error {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

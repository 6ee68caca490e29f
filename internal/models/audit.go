package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is the structured fact emitted after every usage update so
// that an external audit log can record it.
type AuditEvent struct {
	ID         string  `json:"id"`
	AircraftID string  `json:"aircraft_id"`
	Delta      float64 `json:"delta"`

	PreviousHours float64 `json:"previous_hours"`
	NewHours      float64 `json:"new_hours"`
	Propagated    bool    `json:"propagated"`

	// Retry marks a re-application of Delta to components an earlier
	// update failed to persist; the aircraft total did not move.
	Retry bool `json:"retry,omitempty"`

	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	ComponentsUpdated int      `json:"components_updated"`
	ComponentsSkipped int      `json:"components_skipped"`
	ComponentsFailed  []string `json:"components_failed,omitempty"`
	ComponentsCrossed int      `json:"components_crossed"`

	// Node that handled the update
	Node       string `json:"node,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// NewAuditEvent creates an event for one aircraft usage update
func NewAuditEvent(aircraftID string, previous, next float64) *AuditEvent {
	return &AuditEvent{
		ID:            uuid.New().String(),
		AircraftID:    aircraftID,
		Delta:         next - previous,
		PreviousHours: previous,
		NewHours:      next,
		Timestamp:     time.Now().UTC(),
	}
}

// WithNode records the node that produced the event
func (e *AuditEvent) WithNode(node string) *AuditEvent {
	e.Node = node
	return e
}

// PartitionKey keeps every event for one aircraft on the same partition
func (e *AuditEvent) PartitionKey() string {
	return e.AircraftID
}

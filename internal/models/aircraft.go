package models

import (
	"math"
	"strings"
	"time"
)

// ComponentKind classifies a tracked part
type ComponentKind string

const (
	KindEngine   ComponentKind = "ENGINE"
	KindRotor    ComponentKind = "ROTOR"
	KindDynamic  ComponentKind = "DYNAMIC"
	KindAirframe ComponentKind = "AIRFRAME"
	KindOther    ComponentKind = "OTHER"
)

// Aircraft owns its components; deleting it cascades to them
type Aircraft struct {
	ID           string `json:"id"`
	Registration string `json:"registration"`
	Model        string `json:"model,omitempty"`

	// TotalHours is the cumulative flight-hour counter that seeds propagation
	TotalHours float64 `json:"total_hours"`

	// Version is bumped on every save and checked to reject stale writers
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Component is a tracked part belonging to exactly one aircraft
type Component struct {
	ID           string        `json:"id"`
	AircraftID   string        `json:"aircraft_id"`
	Name         string        `json:"name"`
	Kind         ComponentKind `json:"kind"`
	SerialNumber string        `json:"serial_number,omitempty"`

	// Usage is the cumulative counter since the last reset, in Thresholds.Unit
	Usage float64 `json:"usage"`

	Thresholds ThresholdConfig `json:"thresholds"`

	// LastAlert is a display cache, never a source of truth
	LastAlert *AlertResult `json:"last_alert,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining is the margin left before the limit; negative when overdue
func (c *Component) Remaining() float64 {
	return c.Thresholds.Limit - c.Usage
}

// Normalize trims identifiers and upper-cases the registration
func (a *Aircraft) Normalize() {
	a.ID = strings.TrimSpace(a.ID)
	a.Registration = strings.ToUpper(strings.TrimSpace(a.Registration))
	a.Model = strings.TrimSpace(a.Model)
}

// Validate checks the aircraft has required fields and a sane counter
func (a *Aircraft) Validate() error {
	if a.ID == "" {
		return ErrEmptyID
	}
	if a.Registration == "" {
		return ErrEmptyRegistration
	}
	return ValidateUsage(a.TotalHours)
}

// Normalize trims identifiers, upper-cases the kind and normalizes thresholds
func (c *Component) Normalize() {
	c.ID = strings.TrimSpace(c.ID)
	c.AircraftID = strings.TrimSpace(c.AircraftID)
	c.Name = strings.TrimSpace(c.Name)
	c.SerialNumber = strings.TrimSpace(c.SerialNumber)
	c.Kind = ComponentKind(strings.ToUpper(strings.TrimSpace(string(c.Kind))))
	if c.Kind == "" {
		c.Kind = KindOther
	}
	c.Thresholds.Normalize()
}

// Validate checks required fields and the threshold config
func (c *Component) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if c.AircraftID == "" {
		return ErrEmptyAircraftID
	}
	if c.Name == "" {
		return ErrEmptyName
	}
	if err := ValidateUsage(c.Usage); err != nil {
		return err
	}
	return c.Thresholds.Validate()
}

// ValidateUsage rejects negative and non-finite counters
func ValidateUsage(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrNonFiniteUsage
	}
	if v < 0 {
		return ErrNegativeUsage
	}
	return nil
}

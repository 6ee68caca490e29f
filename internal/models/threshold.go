package models

import (
	"fmt"
	"math"
	"strings"
)

// Unit is the quantity a threshold is tracked in
type Unit string

const (
	UnitHours        Unit = "HOURS"
	UnitCycles       Unit = "CYCLES"
	UnitCalendarDays Unit = "CALENDAR_DAYS"
)

// IsValid checks if the unit is known
func (u Unit) IsValid() bool {
	switch u {
	case UnitHours, UnitCycles, UnitCalendarDays:
		return true
	default:
		return false
	}
}

// Boundaries are remaining-quantity cutoffs, one per band. A remaining
// value at or below a cutoff triggers that band.
type Boundaries struct {
	Purple int `json:"purple"`
	Red    int `json:"red"`
	Orange int `json:"orange"`
	Yellow int `json:"yellow"`
	Green  int `json:"green"`
}

// For returns the cutoff configured for a band
func (b Boundaries) For(l Level) int {
	switch l {
	case LevelPurple:
		return b.Purple
	case LevelRed:
		return b.Red
	case LevelOrange:
		return b.Orange
	case LevelYellow:
		return b.Yellow
	default:
		return b.Green
	}
}

// Validate enforces purple >= red >= orange >= yellow >= green >= 0
func (b Boundaries) Validate() error {
	ordered := []struct {
		level Level
		value int
	}{
		{LevelPurple, b.Purple},
		{LevelRed, b.Red},
		{LevelOrange, b.Orange},
		{LevelYellow, b.Yellow},
		{LevelGreen, b.Green},
	}

	for i, cur := range ordered {
		if cur.value < 0 {
			return fmt.Errorf("%w: %s boundary %d is negative", ErrConfig, cur.level, cur.value)
		}
		if i == 0 {
			continue
		}
		prev := ordered[i-1]
		if cur.value > prev.value {
			return fmt.Errorf("%w: %s boundary %d exceeds %s boundary %d",
				ErrConfig, cur.level, cur.value, prev.level, prev.value)
		}
	}
	return nil
}

// ThresholdConfig describes how one tracked quantity on a component is
// graded. Limit is the full interval (e.g. hours between overhauls).
type ThresholdConfig struct {
	Enabled      bool             `json:"enabled"`
	Unit         Unit             `json:"unit"`
	Limit        float64          `json:"limit"`
	Boundaries   Boundaries       `json:"boundaries"`
	Descriptions map[Level]string `json:"descriptions,omitempty"`
}

// NewThresholdConfig builds an enabled config and rejects malformed ones
func NewThresholdConfig(unit Unit, limit float64, b Boundaries, descriptions map[Level]string) (ThresholdConfig, error) {
	cfg := ThresholdConfig{
		Enabled:      true,
		Unit:         unit,
		Limit:        limit,
		Boundaries:   b,
		Descriptions: descriptions,
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return ThresholdConfig{}, err
	}
	return cfg, nil
}

// Normalize upper-cases the unit and drops blank descriptions
func (c *ThresholdConfig) Normalize() {
	c.Unit = Unit(strings.ToUpper(strings.TrimSpace(string(c.Unit))))
	if c.Unit == "" {
		c.Unit = UnitHours
	}

	if c.Descriptions != nil {
		normalized := make(map[Level]string, len(c.Descriptions))
		for l, d := range c.Descriptions {
			if d = strings.TrimSpace(d); d != "" {
				normalized[l] = d
			}
		}
		c.Descriptions = normalized
	}
}

// Validate checks the config at write time. Disabled configs are still
// validated so that enabling them later cannot expose a bad ordering.
func (c ThresholdConfig) Validate() error {
	if !c.Unit.IsValid() {
		return fmt.Errorf("%w: unknown unit %q", ErrConfig, c.Unit)
	}
	if math.IsNaN(c.Limit) || math.IsInf(c.Limit, 0) || c.Limit < 0 {
		return fmt.Errorf("%w: limit must be a finite non-negative number", ErrConfig)
	}
	for l := range c.Descriptions {
		if !l.IsValid() {
			return fmt.Errorf("%w: description for unknown level %d", ErrConfig, int(l))
		}
	}
	return c.Boundaries.Validate()
}

// Description returns the configured text for a band, or the default
func (c ThresholdConfig) Description(l Level) string {
	if d, ok := c.Descriptions[l]; ok {
		return d
	}
	return DefaultDescription(l)
}

// DefaultDescription is used when a config has no text for a band
func DefaultDescription(l Level) string {
	switch l {
	case LevelPurple:
		return "Limit exceeded, ground the item"
	case LevelRed:
		return "Limit imminent, schedule maintenance now"
	case LevelOrange:
		return "Limit approaching, plan maintenance"
	case LevelYellow:
		return "Monitor usage"
	default:
		return "Within limits"
	}
}

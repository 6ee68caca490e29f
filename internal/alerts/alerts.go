// Package alerts grades a component's remaining margin into a semaforo band.
package alerts

import (
	"iter"
	"sort"

	"semaforo/internal/models"
)

// Evaluate grades remaining against cfg. Bands are tested from the most
// severe to the least and the first inclusive match wins, so a value that
// satisfies both the red and yellow cutoffs resolves to RED.
//
// A disabled config yields a non-applicable GREEN result without comparing
// any boundary. Evaluate has no side effects and never fails: configs are
// validated when they are written.
func Evaluate(remaining float64, cfg models.ThresholdConfig) models.AlertResult {
	if !cfg.Enabled {
		return models.AlertResult{
			Level:       models.LevelGreen,
			Description: "Threshold tracking disabled",
			Remaining:   remaining,
			Unit:        cfg.Unit,
			Applicable:  false,
		}
	}

	level := classify(remaining, cfg.Boundaries)

	return models.AlertResult{
		Level:             level,
		Description:       cfg.Description(level),
		Remaining:         remaining,
		PercentComplete:   percentComplete(remaining, cfg.Limit),
		RequiresAttention: level.RequiresAttention(),
		Priority:          level.Priority(),
		Unit:              cfg.Unit,
		Applicable:        true,
	}
}

// EvaluateComponent grades a component against its own thresholds
func EvaluateComponent(c *models.Component) models.AlertResult {
	return Evaluate(c.Remaining(), c.Thresholds)
}

// EvaluateAll yields the alert of every component, keyed by its index in
// components. Each range over the sequence evaluates afresh.
func EvaluateAll(components []models.Component) iter.Seq2[int, models.AlertResult] {
	return func(yield func(int, models.AlertResult) bool) {
		for i := range components {
			if !yield(i, EvaluateComponent(&components[i])) {
				return
			}
		}
	}
}

// ComponentAlert pairs a component with its freshly computed alert
type ComponentAlert struct {
	ComponentID string             `json:"component_id"`
	AircraftID  string             `json:"aircraft_id"`
	Name        string             `json:"name"`
	Alert       models.AlertResult `json:"alert"`
}

// Collect drains EvaluateAll into a slice ordered by priority
func Collect(components []models.Component) []ComponentAlert {
	out := make([]ComponentAlert, 0, len(components))
	for i, alert := range EvaluateAll(components) {
		out = append(out, ComponentAlert{
			ComponentID: components[i].ID,
			AircraftID:  components[i].AircraftID,
			Name:        components[i].Name,
			Alert:       alert,
		})
	}
	SortByPriority(out)
	return out
}

// SortByPriority orders alerts most urgent first: higher priority, then
// smaller remaining margin, then component id for a stable display.
func SortByPriority(alerts []ComponentAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i].Alert, alerts[j].Alert
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Remaining != b.Remaining {
			return a.Remaining < b.Remaining
		}
		return alerts[i].ComponentID < alerts[j].ComponentID
	})
}

// classify walks the bands most severe first. PURPLE only has a band of its
// own when its cutoff sits strictly above RED's; an equal cutoff folds
// purple into red.
func classify(remaining float64, b models.Boundaries) models.Level {
	for _, l := range models.Levels {
		switch l {
		case models.LevelGreen:
			return models.LevelGreen
		case models.LevelPurple:
			if b.Purple <= b.Red {
				continue
			}
		}
		if remaining <= float64(b.For(l)) {
			return l
		}
	}
	return models.LevelGreen
}

func percentComplete(remaining, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	pct := (limit - remaining) / limit * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

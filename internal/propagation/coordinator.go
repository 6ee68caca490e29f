// Package propagation applies aircraft usage updates and fans the delta out
// to every component the aircraft owns.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"semaforo/internal/alerts"
	"semaforo/internal/logger"
	"semaforo/internal/metrics"
	"semaforo/internal/models"
	"semaforo/internal/state"
	"semaforo/internal/storage"
)

// AuditSink receives one event per usage update. Submit must not block.
type AuditSink interface {
	Submit(event *models.AuditEvent)
}

// UsageUpdate is a request to move an aircraft's usage counter
type UsageUpdate struct {
	AircraftID    string
	NewTotalHours float64
	Propagate     bool
	Reason        string
	Notes         string
}

// Failure records a component that could not be persisted and the delta it
// is still missing
type Failure struct {
	ComponentID string  `json:"component_id"`
	Reason      string  `json:"reason"`
	Delta       float64 `json:"delta"`
}

// CrossedAlert is a component whose band became more severe
type CrossedAlert struct {
	ComponentID string             `json:"component_id"`
	Name        string             `json:"name"`
	Previous    models.AlertResult `json:"previous"`
	Current     models.AlertResult `json:"current"`
}

// Result summarizes one ApplyUsageUpdate call
type Result struct {
	Aircraft *models.Aircraft `json:"aircraft"`
	Delta    float64          `json:"delta"`

	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Skipped   int       `json:"skipped"`
	Failed    []Failure `json:"failed"`

	Crossed []CrossedAlert          `json:"crossed"`
	Alerts  []alerts.ComponentAlert `json:"alerts"`
}

// Options tunes a Coordinator
type Options struct {
	// Workers bounds how many components are persisted concurrently
	Workers int

	// AllowDecrease permits downward corrections of the usage counter
	AllowDecrease bool

	// NodeID is stamped on audit events
	NodeID string
}

// Coordinator serializes updates per aircraft and propagates usage deltas
type Coordinator struct {
	store  storage.Store
	locker state.Locker
	sink   AuditSink
	opts   Options
}

// New creates a Coordinator. A nil locker falls back to an in-process one and
// a nil sink discards audit events.
func New(store storage.Store, locker state.Locker, sink AuditSink, opts Options) *Coordinator {
	if locker == nil {
		locker = state.NewLocalLocker()
	}
	if sink == nil {
		sink = discardSink{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Coordinator{store: store, locker: locker, sink: sink, opts: opts}
}

type discardSink struct{}

func (discardSink) Submit(*models.AuditEvent) {}

// ApplyUsageUpdate moves the aircraft to u.NewTotalHours and, when
// u.Propagate is set, applies the same delta to each of its components.
//
// Nothing is written unless the aircraft and its components can be read and
// every flight-hour counter stays non-negative. Failing to persist the
// aircraft aborts the whole update before any component is touched. Failing
// to persist a component is recorded in Result.Failed together with the
// delta it missed, and does not stop the others; RetryComponents re-applies
// it.
func (c *Coordinator) ApplyUsageUpdate(ctx context.Context, u UsageUpdate) (*Result, error) {
	start := time.Now()
	log := logger.WithAircraft("propagation", u.AircraftID)

	if u.AircraftID == "" {
		metrics.UsageUpdatesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, models.ErrEmptyAircraftID)
	}
	if err := models.ValidateUsage(u.NewTotalHours); err != nil {
		metrics.UsageUpdatesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: total hours: %w", models.ErrValidation, err)
	}

	unlock, err := c.lock(ctx, u.AircraftID)
	if err != nil {
		metrics.UsageUpdatesTotal.WithLabelValues("conflict").Inc()
		return nil, err
	}
	defer unlock()

	aircraft, err := c.store.GetAircraft(ctx, u.AircraftID)
	if err != nil {
		metrics.UsageUpdatesTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}

	previous := aircraft.TotalHours
	delta := u.NewTotalHours - previous
	if delta < 0 && !c.opts.AllowDecrease {
		metrics.UsageUpdatesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: total hours %.2f below current %.2f",
			models.ErrValidation, u.NewTotalHours, previous)
	}

	var components []models.Component
	if u.Propagate {
		components, err = c.store.ListComponents(ctx, aircraft.ID)
		if err != nil {
			metrics.UsageUpdatesTotal.WithLabelValues(outcomeOf(err)).Inc()
			log.Error().Err(err).Msg("failed to list components")
			return nil, fmt.Errorf("list components of %q: %w", u.AircraftID, err)
		}
		if err := checkDelta(components, delta); err != nil {
			metrics.UsageUpdatesTotal.WithLabelValues("invalid").Inc()
			return nil, err
		}
	}

	if delta != 0 {
		aircraft.TotalHours = u.NewTotalHours
		if err := c.store.SaveAircraft(ctx, aircraft); err != nil {
			metrics.UsageUpdatesTotal.WithLabelValues(outcomeOf(err)).Inc()
			log.Error().Err(err).Float64("new_total_hours", u.NewTotalHours).Msg("failed to save aircraft")
			return nil, fmt.Errorf("save aircraft %q: %w", u.AircraftID, err)
		}
	}

	res := newResult(aircraft, delta)
	if u.Propagate {
		c.propagate(ctx, components, delta, res)
	}

	duration := time.Since(start)
	metrics.UsageUpdatesTotal.WithLabelValues("ok").Inc()
	metrics.PropagationDuration.Observe(duration.Seconds())

	event := models.NewAuditEvent(u.AircraftID, previous, u.NewTotalHours)
	event.Propagated = u.Propagate
	event.Reason = u.Reason
	event.Notes = u.Notes
	c.audit(event, res)

	log.Info().
		Float64("previous_hours", previous).
		Float64("new_hours", u.NewTotalHours).
		Float64("delta", delta).
		Bool("propagate", u.Propagate).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Failed)).
		Int("crossed", len(res.Crossed)).
		Dur("duration", duration).
		Msg("usage update applied")

	return res, nil
}

// RetryRequest re-applies a delta a previous update failed to persist on
// some of the aircraft's components.
type RetryRequest struct {
	AircraftID   string
	Delta        float64
	ComponentIDs []string
	Reason       string
}

// RetryComponents applies r.Delta to the listed components only. The
// aircraft total is left as is: it already carries the delta. Every id must
// belong to the aircraft and no counter may go negative, otherwise nothing
// is written.
func (c *Coordinator) RetryComponents(ctx context.Context, r RetryRequest) (*Result, error) {
	log := logger.WithAircraft("propagation", r.AircraftID)

	if r.AircraftID == "" {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, models.ErrEmptyAircraftID)
	}
	if math.IsNaN(r.Delta) || math.IsInf(r.Delta, 0) || r.Delta == 0 {
		return nil, fmt.Errorf("%w: retry delta must be a finite non-zero number", models.ErrValidation)
	}
	if len(r.ComponentIDs) == 0 {
		return nil, fmt.Errorf("%w: no components to retry", models.ErrValidation)
	}

	unlock, err := c.lock(ctx, r.AircraftID)
	if err != nil {
		metrics.UsageUpdatesTotal.WithLabelValues("conflict").Inc()
		return nil, err
	}
	defer unlock()

	aircraft, err := c.store.GetAircraft(ctx, r.AircraftID)
	if err != nil {
		return nil, err
	}
	all, err := c.store.ListComponents(ctx, r.AircraftID)
	if err != nil {
		return nil, fmt.Errorf("list components of %q: %w", r.AircraftID, err)
	}

	byID := make(map[string]models.Component, len(all))
	for _, comp := range all {
		byID[comp.ID] = comp
	}
	selected := make([]models.Component, 0, len(r.ComponentIDs))
	seen := make(map[string]bool, len(r.ComponentIDs))
	for _, id := range r.ComponentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		comp, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("component %q of aircraft %q: %w", id, r.AircraftID, models.ErrNotFound)
		}
		selected = append(selected, comp)
	}

	if err := checkDelta(selected, r.Delta); err != nil {
		return nil, err
	}

	res := newResult(aircraft, r.Delta)
	c.propagate(ctx, selected, r.Delta, res)
	metrics.UsageUpdatesTotal.WithLabelValues("retry").Inc()

	event := models.NewAuditEvent(r.AircraftID, aircraft.TotalHours, aircraft.TotalHours)
	event.Delta = r.Delta
	event.Propagated = true
	event.Retry = true
	event.Reason = r.Reason
	c.audit(event, res)

	log.Info().
		Float64("delta", r.Delta).
		Strs("components", r.ComponentIDs).
		Int("updated", res.Updated).
		Int("failed", len(res.Failed)).
		Msg("component retry applied")

	return res, nil
}

// ResetComponent zeroes a component's usage after maintenance and caches its
// recomputed alert. Identity and thresholds are kept.
func (c *Coordinator) ResetComponent(ctx context.Context, componentID, reason string) (*models.Component, error) {
	if componentID == "" {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, models.ErrEmptyID)
	}

	comp, err := c.store.GetComponent(ctx, componentID)
	if err != nil {
		return nil, err
	}

	unlock, err := c.lock(ctx, comp.AircraftID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock so a concurrent propagation is not overwritten.
	comp, err = c.store.GetComponent(ctx, componentID)
	if err != nil {
		return nil, err
	}

	previousUsage := comp.Usage
	comp.Usage = 0
	alert := alerts.EvaluateComponent(comp)
	comp.LastAlert = &alert

	if err := c.store.SaveComponent(ctx, comp); err != nil {
		return nil, fmt.Errorf("save component %q: %w", componentID, err)
	}

	log := logger.WithAircraft("propagation", comp.AircraftID)
	log.Info().
		Str("component_id", componentID).
		Float64("previous_usage", previousUsage).
		Str("reason", reason).
		Str("level", alert.Level.String()).
		Msg("component usage reset")

	return comp, nil
}

func (c *Coordinator) lock(ctx context.Context, aircraftID string) (func(), error) {
	start := time.Now()
	unlock, err := c.locker.Lock(ctx, aircraftID)
	metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: aircraft %q is busy: %w", models.ErrConflict, aircraftID, err)
	}
	return unlock, nil
}

type outcomeKind int

const (
	outcomeUpdated outcomeKind = iota
	outcomeUnchanged
	outcomeSkipped
	outcomeFailed
)

var outcomeLabels = [...]string{"updated", "unchanged", "skipped", "failed"}

// componentOutcome is written by exactly one goroutine, at its own index
type componentOutcome struct {
	kind     outcomeKind
	previous models.AlertResult
	current  models.AlertResult
	err      error
}

func newResult(aircraft *models.Aircraft, delta float64) *Result {
	return &Result{
		Aircraft: aircraft,
		Delta:    delta,
		Failed:   []Failure{},
		Crossed:  []CrossedAlert{},
		Alerts:   []alerts.ComponentAlert{},
	}
}

// checkDelta rejects a delta that would take a flight-hour counter below
// zero. It runs before anything is written.
func checkDelta(components []models.Component, delta float64) error {
	if delta >= 0 {
		return nil
	}
	for i := range components {
		comp := &components[i]
		if comp.Thresholds.Unit != models.UnitHours {
			continue
		}
		if comp.Usage+delta < 0 {
			return fmt.Errorf("%w: component %q usage %.2f cannot absorb delta %.2f",
				models.ErrValidation, comp.ID, comp.Usage, delta)
		}
	}
	return nil
}

func (c *Coordinator) propagate(ctx context.Context, components []models.Component, delta float64, res *Result) {
	outcomes := make([]componentOutcome, len(components))

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i := range components {
		g.Go(func() error {
			outcomes[i] = c.applyDelta(ctx, &components[i], delta)
			return nil
		})
	}
	_ = g.Wait()

	metrics.PropagationComponents.Observe(float64(len(components)))

	for i, o := range outcomes {
		comp := &components[i]
		metrics.ComponentUpdatesTotal.WithLabelValues(outcomeLabels[o.kind]).Inc()

		switch o.kind {
		case outcomeFailed:
			res.Failed = append(res.Failed, Failure{ComponentID: comp.ID, Reason: o.err.Error(), Delta: delta})
			continue
		case outcomeSkipped:
			res.Skipped++
		case outcomeUnchanged:
			res.Unchanged++
		case outcomeUpdated:
			res.Updated++
		}

		res.Alerts = append(res.Alerts, alerts.ComponentAlert{
			ComponentID: comp.ID,
			AircraftID:  comp.AircraftID,
			Name:        comp.Name,
			Alert:       o.current,
		})

		if o.current.Applicable && o.current.Level.MoreSevereThan(o.previous.Level) {
			res.Crossed = append(res.Crossed, CrossedAlert{
				ComponentID: comp.ID,
				Name:        comp.Name,
				Previous:    o.previous,
				Current:     o.current,
			})
			metrics.BandCrossingsTotal.WithLabelValues(o.current.Level.String()).Inc()
		}
	}

	alerts.SortByPriority(res.Alerts)
}

// applyDelta advances one component and persists it. Only flight-hour
// counters move with the aircraft; other units are left alone.
func (c *Coordinator) applyDelta(ctx context.Context, comp *models.Component, delta float64) componentOutcome {
	previous := alerts.EvaluateComponent(comp)

	if comp.Thresholds.Unit != models.UnitHours {
		return componentOutcome{kind: outcomeSkipped, previous: previous, current: previous}
	}

	comp.Usage += delta
	current := alerts.EvaluateComponent(comp)

	kind := outcomeUpdated
	if !comp.Thresholds.Enabled {
		kind = outcomeSkipped
	}

	if delta == 0 {
		if comp.LastAlert != nil && comp.LastAlert.Equal(current) {
			if kind == outcomeUpdated {
				kind = outcomeUnchanged
			}
			return componentOutcome{kind: kind, previous: previous, current: current}
		}
	}

	comp.LastAlert = &current
	if err := c.store.SaveComponent(ctx, comp); err != nil {
		log := logger.WithAircraft("propagation", comp.AircraftID)
		log.Warn().Err(err).Str("component_id", comp.ID).Msg("failed to save component")
		return componentOutcome{kind: outcomeFailed, previous: previous, current: current, err: err}
	}

	if delta == 0 && kind == outcomeUpdated {
		kind = outcomeUnchanged
	}
	return componentOutcome{kind: kind, previous: previous, current: current}
}

func (c *Coordinator) audit(event *models.AuditEvent, res *Result) {
	event.WithNode(c.opts.NodeID)
	event.ComponentsUpdated = res.Updated
	event.ComponentsSkipped = res.Skipped
	event.ComponentsCrossed = len(res.Crossed)
	for _, f := range res.Failed {
		event.ComponentsFailed = append(event.ComponentsFailed, f.ComponentID)
	}
	c.sink.Submit(event)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	default:
		return "storage_error"
	}
}

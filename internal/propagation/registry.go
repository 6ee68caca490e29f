package propagation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"semaforo/internal/alerts"
	"semaforo/internal/logger"
	"semaforo/internal/models"
)

// RegisterAircraft validates and stores a new aircraft. An empty ID is
// replaced by a generated one.
func (c *Coordinator) RegisterAircraft(ctx context.Context, a *models.Aircraft) error {
	a.Normalize()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	if err := c.store.CreateAircraft(ctx, a); err != nil {
		return err
	}

	log := logger.WithAircraft("propagation", a.ID)
	log.Info().Str("registration", a.Registration).Float64("total_hours", a.TotalHours).Msg("aircraft registered")
	return nil
}

// AddComponent validates a component and stores it with its initial alert
// cached. Threshold problems surface as models.ErrConfig.
func (c *Coordinator) AddComponent(ctx context.Context, comp *models.Component) error {
	comp.Normalize()
	if comp.ID == "" {
		comp.ID = uuid.New().String()
	}
	if err := comp.Thresholds.Validate(); err != nil {
		return err
	}
	if err := comp.Validate(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	unlock, err := c.lock(ctx, comp.AircraftID)
	if err != nil {
		return err
	}
	defer unlock()

	alert := alerts.EvaluateComponent(comp)
	comp.LastAlert = &alert

	if err := c.store.CreateComponent(ctx, comp); err != nil {
		return err
	}

	log := logger.WithAircraft("propagation", comp.AircraftID)
	log.Info().
		Str("component_id", comp.ID).
		Str("kind", string(comp.Kind)).
		Str("level", alert.Level.String()).
		Msg("component added")
	return nil
}

// Aircraft returns one aircraft
func (c *Coordinator) Aircraft(ctx context.Context, id string) (*models.Aircraft, error) {
	return c.store.GetAircraft(ctx, id)
}

// Components returns every component an aircraft owns
func (c *Coordinator) Components(ctx context.Context, aircraftID string) ([]models.Component, error) {
	return c.store.ListComponents(ctx, aircraftID)
}

// AircraftAlerts evaluates every component of an aircraft afresh and orders
// the results most urgent first.
func (c *Coordinator) AircraftAlerts(ctx context.Context, aircraftID string) ([]alerts.ComponentAlert, error) {
	components, err := c.store.ListComponents(ctx, aircraftID)
	if err != nil {
		return nil, err
	}
	return alerts.Collect(components), nil
}

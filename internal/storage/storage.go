package storage

import (
	"context"
	"fmt"
	"time"

	"semaforo/internal/config"
	"semaforo/internal/metrics"
	"semaforo/internal/models"
)

// Store is the keyed record store for aircraft and their components.
//
// Lookups of absent records fail with an error wrapping models.ErrNotFound.
// Write failures wrap models.ErrStorage. SaveAircraft is an optimistic
// update: the stored version must equal a.Version, otherwise it fails with
// models.ErrConflict; on success a.Version is incremented.
type Store interface {
	GetAircraft(ctx context.Context, id string) (*models.Aircraft, error)
	ListAircraft(ctx context.Context) ([]models.Aircraft, error)
	CreateAircraft(ctx context.Context, a *models.Aircraft) error
	SaveAircraft(ctx context.Context, a *models.Aircraft) error
	DeleteAircraft(ctx context.Context, id string) error

	GetComponent(ctx context.Context, id string) (*models.Component, error)
	ListComponents(ctx context.Context, aircraftID string) ([]models.Component, error)
	CreateComponent(ctx context.Context, c *models.Component) error
	SaveComponent(ctx context.Context, c *models.Component) error

	Close() error
}

// New opens the backend selected by cfg
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return Instrument(NewMemory(), "memory"), nil
	case "sqlite":
		s, err := NewSQLite(cfg.DSN, cfg.Debug)
		if err != nil {
			return nil, err
		}
		return Instrument(s, "sqlite"), nil
	case "mysql":
		s, err := NewMySQL(cfg.DSN, cfg.Debug)
		if err != nil {
			return nil, err
		}
		return Instrument(s, "mysql"), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, models.ErrNotFound)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrStorage, op, err)
}

// instrumented records the latency of every call per backend
type instrumented struct {
	next    Store
	backend string
}

// Instrument wraps s so that every operation is timed in
// metrics.StorageOperationDuration.
func Instrument(s Store, backend string) Store {
	return &instrumented{next: s, backend: backend}
}

func (s *instrumented) observe(op string, start time.Time) {
	metrics.StorageOperationDuration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
}

func (s *instrumented) GetAircraft(ctx context.Context, id string) (*models.Aircraft, error) {
	defer s.observe("get_aircraft", time.Now())
	return s.next.GetAircraft(ctx, id)
}

func (s *instrumented) ListAircraft(ctx context.Context) ([]models.Aircraft, error) {
	defer s.observe("list_aircraft", time.Now())
	return s.next.ListAircraft(ctx)
}

func (s *instrumented) CreateAircraft(ctx context.Context, a *models.Aircraft) error {
	defer s.observe("create_aircraft", time.Now())
	return s.next.CreateAircraft(ctx, a)
}

func (s *instrumented) SaveAircraft(ctx context.Context, a *models.Aircraft) error {
	defer s.observe("save_aircraft", time.Now())
	return s.next.SaveAircraft(ctx, a)
}

func (s *instrumented) DeleteAircraft(ctx context.Context, id string) error {
	defer s.observe("delete_aircraft", time.Now())
	return s.next.DeleteAircraft(ctx, id)
}

func (s *instrumented) GetComponent(ctx context.Context, id string) (*models.Component, error) {
	defer s.observe("get_component", time.Now())
	return s.next.GetComponent(ctx, id)
}

func (s *instrumented) ListComponents(ctx context.Context, aircraftID string) ([]models.Component, error) {
	defer s.observe("list_components", time.Now())
	return s.next.ListComponents(ctx, aircraftID)
}

func (s *instrumented) CreateComponent(ctx context.Context, c *models.Component) error {
	defer s.observe("create_component", time.Now())
	return s.next.CreateComponent(ctx, c)
}

func (s *instrumented) SaveComponent(ctx context.Context, c *models.Component) error {
	defer s.observe("save_component", time.Now())
	return s.next.SaveComponent(ctx, c)
}

func (s *instrumented) Close() error {
	return s.next.Close()
}

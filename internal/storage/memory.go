package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"semaforo/internal/models"
)

// ErrStoreClosed is returned by every call after Close
var ErrStoreClosed = errors.New("store is closed")

// FaultFunc lets tests fail a given operation on a given record id.
// A nil return lets the operation proceed.
type FaultFunc func(op, id string) error

// MemoryStore keeps records in maps. Records are copied on the way in and
// out so callers never share memory with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	aircraft   map[string]models.Aircraft
	components map[string]models.Component
	closed     bool
	fault      FaultFunc
}

// NewMemory creates an empty in-memory store
func NewMemory() *MemoryStore {
	return &MemoryStore{
		aircraft:   make(map[string]models.Aircraft),
		components: make(map[string]models.Component),
	}
}

// SetFault installs a fault hook; pass nil to clear it
func (s *MemoryStore) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *MemoryStore) check(op, id string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.fault != nil {
		if err := s.fault(op, id); err != nil {
			return storageErr(op, err)
		}
	}
	return nil
}

func (s *MemoryStore) GetAircraft(ctx context.Context, id string) (*models.Aircraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("get_aircraft", id); err != nil {
		return nil, err
	}
	a, ok := s.aircraft[id]
	if !ok {
		return nil, notFound("aircraft", id)
	}
	return &a, nil
}

func (s *MemoryStore) ListAircraft(ctx context.Context) ([]models.Aircraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("list_aircraft", ""); err != nil {
		return nil, err
	}
	out := make([]models.Aircraft, 0, len(s.aircraft))
	for _, id := range slices.Sorted(maps.Keys(s.aircraft)) {
		out = append(out, s.aircraft[id])
	}
	return out, nil
}

func (s *MemoryStore) CreateAircraft(ctx context.Context, a *models.Aircraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("create_aircraft", a.ID); err != nil {
		return err
	}
	if _, exists := s.aircraft[a.ID]; exists {
		return fmt.Errorf("%w: aircraft %q already exists", models.ErrValidation, a.ID)
	}
	for _, other := range s.aircraft {
		if other.Registration == a.Registration {
			return fmt.Errorf("%w: registration %q already used by aircraft %q",
				models.ErrValidation, a.Registration, other.ID)
		}
	}

	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.Version = 1
	s.aircraft[a.ID] = *a
	return nil
}

func (s *MemoryStore) SaveAircraft(ctx context.Context, a *models.Aircraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("save_aircraft", a.ID); err != nil {
		return err
	}
	stored, ok := s.aircraft[a.ID]
	if !ok {
		return notFound("aircraft", a.ID)
	}
	if stored.Version != a.Version {
		return fmt.Errorf("%w: aircraft %q at version %d, write based on %d",
			models.ErrConflict, a.ID, stored.Version, a.Version)
	}

	a.Version++
	a.CreatedAt = stored.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	s.aircraft[a.ID] = *a
	return nil
}

func (s *MemoryStore) DeleteAircraft(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("delete_aircraft", id); err != nil {
		return err
	}
	if _, ok := s.aircraft[id]; !ok {
		return notFound("aircraft", id)
	}
	delete(s.aircraft, id)
	for cid, c := range s.components {
		if c.AircraftID == id {
			delete(s.components, cid)
		}
	}
	return nil
}

func (s *MemoryStore) GetComponent(ctx context.Context, id string) (*models.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("get_component", id); err != nil {
		return nil, err
	}
	c, ok := s.components[id]
	if !ok {
		return nil, notFound("component", id)
	}
	c = cloneComponent(c)
	return &c, nil
}

func (s *MemoryStore) ListComponents(ctx context.Context, aircraftID string) ([]models.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("list_components", aircraftID); err != nil {
		return nil, err
	}
	if _, ok := s.aircraft[aircraftID]; !ok {
		return nil, notFound("aircraft", aircraftID)
	}

	out := make([]models.Component, 0)
	for _, id := range slices.Sorted(maps.Keys(s.components)) {
		if c := s.components[id]; c.AircraftID == aircraftID {
			out = append(out, cloneComponent(c))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateComponent(ctx context.Context, c *models.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("create_component", c.ID); err != nil {
		return err
	}
	if _, ok := s.aircraft[c.AircraftID]; !ok {
		return notFound("aircraft", c.AircraftID)
	}
	if _, exists := s.components[c.ID]; exists {
		return fmt.Errorf("%w: component %q already exists", models.ErrValidation, c.ID)
	}

	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.components[c.ID] = cloneComponent(*c)
	return nil
}

func (s *MemoryStore) SaveComponent(ctx context.Context, c *models.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("save_component", c.ID); err != nil {
		return err
	}
	stored, ok := s.components[c.ID]
	if !ok {
		return notFound("component", c.ID)
	}

	c.CreatedAt = stored.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.components[c.ID] = cloneComponent(*c)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneComponent(c models.Component) models.Component {
	if c.LastAlert != nil {
		alert := *c.LastAlert
		c.LastAlert = &alert
	}
	if c.Thresholds.Descriptions != nil {
		c.Thresholds.Descriptions = maps.Clone(c.Thresholds.Descriptions)
	}
	return c
}

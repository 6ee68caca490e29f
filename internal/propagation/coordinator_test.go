package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaforo/internal/models"
	"semaforo/internal/state"
	"semaforo/internal/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (s *recordingSink) Submit(e *models.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Events() []*models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditEvent(nil), s.events...)
}

// regressionBoundaries has red and purple at the same cutoff
var regressionBoundaries = models.Boundaries{Purple: 50, Red: 50, Orange: 30, Yellow: 20}

type fixture struct {
	store *storage.MemoryStore
	sink  *recordingSink
	coord *Coordinator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := storage.NewMemory()
	sink := &recordingSink{}
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	return &fixture{
		store: store,
		sink:  sink,
		coord: New(store, state.NewLocalLocker(), sink, opts),
	}
}

func (f *fixture) aircraft(t *testing.T, id string, hours float64) {
	t.Helper()
	require.NoError(t, f.coord.RegisterAircraft(context.Background(), &models.Aircraft{
		ID: id, Registration: "reg-" + id, TotalHours: hours,
	}))
}

func (f *fixture) component(t *testing.T, id, aircraftID string, usage, limit float64, b models.Boundaries) {
	t.Helper()
	cfg, err := models.NewThresholdConfig(models.UnitHours, limit, b, nil)
	require.NoError(t, err)
	require.NoError(t, f.coord.AddComponent(context.Background(), &models.Component{
		ID: id, AircraftID: aircraftID, Name: "part " + id, Usage: usage, Thresholds: cfg,
	}))
}

func TestApplyUsageUpdate_RegressionExample(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	// limit 1000, usage 930: 70 remaining before the update
	f.component(t, "c-1", "ac-1", 930, 1000, regressionBoundaries)

	res, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{
		AircraftID: "ac-1", NewTotalHours: 1050, Propagate: true, Reason: "flight log",
	})
	require.NoError(t, err)

	assert.Equal(t, 50.0, res.Delta)
	assert.Equal(t, 1050.0, res.Aircraft.TotalHours)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Failed)

	require.Len(t, res.Crossed, 1)
	assert.Equal(t, "c-1", res.Crossed[0].ComponentID)
	assert.Equal(t, models.LevelGreen, res.Crossed[0].Previous.Level)
	assert.Equal(t, models.LevelRed, res.Crossed[0].Current.Level)
	assert.Equal(t, 20.0, res.Crossed[0].Current.Remaining)

	stored, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 980.0, stored.Usage)
	require.NotNil(t, stored.LastAlert)
	assert.Equal(t, models.LevelRed, stored.LastAlert.Level)

	aircraft, err := f.store.GetAircraft(ctx, "ac-1")
	require.NoError(t, err)
	assert.Equal(t, 1050.0, aircraft.TotalHours)
	assert.Equal(t, int64(2), aircraft.Version)
}

func TestApplyUsageUpdate_Idempotent(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 930, 1000, regressionBoundaries)
	f.component(t, "c-2", "ac-1", 100, 1000, regressionBoundaries)

	update := UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1050, Propagate: true}

	first, err := f.coord.ApplyUsageUpdate(ctx, update)
	require.NoError(t, err)
	assert.Len(t, first.Crossed, 1)

	before, err := f.store.ListComponents(ctx, "ac-1")
	require.NoError(t, err)
	aircraftBefore, err := f.store.GetAircraft(ctx, "ac-1")
	require.NoError(t, err)

	second, err := f.coord.ApplyUsageUpdate(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, 0.0, second.Delta)
	assert.Empty(t, second.Crossed)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)

	after, err := f.store.ListComponents(ctx, "ac-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	aircraftAfter, err := f.store.GetAircraft(ctx, "ac-1")
	require.NoError(t, err)
	assert.Equal(t, aircraftBefore.Version, aircraftAfter.Version)
}

func TestApplyUsageUpdate_PartialFailure(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	for _, id := range []string{"c-1", "c-2", "c-3"} {
		f.component(t, id, "ac-1", 100, 1000, regressionBoundaries)
	}

	f.store.SetFault(func(op, id string) error {
		if op == "save_component" && id == "c-2" {
			return errors.New("disk full")
		}
		return nil
	})

	res, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1010, Propagate: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Updated)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "c-2", res.Failed[0].ComponentID)
	assert.Contains(t, res.Failed[0].Reason, "disk full")
	assert.Len(t, res.Alerts, 2)

	f.store.SetFault(nil)
	for id, want := range map[string]float64{"c-1": 110, "c-2": 100, "c-3": 110} {
		c, err := f.store.GetComponent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, c.Usage, id)
	}

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"c-2"}, events[0].ComponentsFailed)
	assert.Equal(t, 2, events[0].ComponentsUpdated)
}

func TestApplyUsageUpdate_AircraftSaveFailureIsFatal(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 100, 1000, regressionBoundaries)

	f.store.SetFault(func(op, id string) error {
		if op == "save_aircraft" {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1100, Propagate: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStorage)

	f.store.SetFault(nil)
	c, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.Usage)
	assert.Empty(t, f.sink.Events())
}

func TestApplyUsageUpdate_DisabledNeverCrosses(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 0)
	require.NoError(t, f.coord.AddComponent(ctx, &models.Component{
		ID: "c-1", AircraftID: "ac-1", Name: "untracked",
		Thresholds: models.ThresholdConfig{
			Enabled: false, Unit: models.UnitHours, Limit: 10, Boundaries: regressionBoundaries,
		},
	}))

	res, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 5000, Propagate: true})
	require.NoError(t, err)

	assert.Empty(t, res.Crossed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Updated)
	require.Len(t, res.Alerts, 1)
	assert.False(t, res.Alerts[0].Alert.Applicable)

	c, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, c.Usage)
}

func TestApplyUsageUpdate_OtherUnitsNotAdvanced(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 0)
	cfg, err := models.NewThresholdConfig(models.UnitCycles, 2000, regressionBoundaries, nil)
	require.NoError(t, err)
	require.NoError(t, f.coord.AddComponent(ctx, &models.Component{
		ID: "c-1", AircraftID: "ac-1", Name: "landing gear", Usage: 300, Thresholds: cfg,
	}))

	res, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 100, Propagate: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	c, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 300.0, c.Usage)
}

func TestApplyUsageUpdate_NoPropagate(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 100, 1000, regressionBoundaries)

	res, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1200})
	require.NoError(t, err)
	assert.Equal(t, 1200.0, res.Aircraft.TotalHours)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, res.Crossed)

	c, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.Usage)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Propagated)
	assert.Equal(t, 200.0, events[0].Delta)
}

func TestApplyUsageUpdate_Validation(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: false})
	f.aircraft(t, "ac-1", 1000)

	tests := []struct {
		name    string
		update  UsageUpdate
		wantErr error
	}{
		{"empty aircraft", UsageUpdate{NewTotalHours: 10}, models.ErrValidation},
		{"negative total", UsageUpdate{AircraftID: "ac-1", NewTotalHours: -1}, models.ErrValidation},
		{"decrease disallowed", UsageUpdate{AircraftID: "ac-1", NewTotalHours: 900}, models.ErrValidation},
		{"unknown aircraft", UsageUpdate{AircraftID: "ghost", NewTotalHours: 10}, models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.ApplyUsageUpdate(context.Background(), tt.update)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	a, err := f.store.GetAircraft(context.Background(), "ac-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, a.TotalHours)
	assert.Equal(t, int64(1), a.Version)
}

func TestApplyUsageUpdate_Correction(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 980, 1000, regressionBoundaries)

	res, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 900, Propagate: true})
	require.NoError(t, err)
	assert.Equal(t, -100.0, res.Delta)
	assert.Empty(t, res.Crossed)

	c, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 880.0, c.Usage)
	assert.Equal(t, models.LevelGreen, c.LastAlert.Level)
}

func TestApplyUsageUpdate_ConcurrentSerialized(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true, Workers: 2})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 0)
	f.component(t, "c-1", "ac-1", 0, 10000, regressionBoundaries)
	f.component(t, "c-2", "ac-1", 0, 10000, regressionBoundaries)

	// Writers race with arbitrary totals. Any lost update leaves a component
	// usage that disagrees with the aircraft total.
	var wg sync.WaitGroup
	for i := 1; i <= 25; i++ {
		wg.Add(1)
		go func(hours float64) {
			defer wg.Done()
			_, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: hours, Propagate: true})
			assert.NoError(t, err)
		}(float64(i))
	}
	wg.Wait()

	a, err := f.store.GetAircraft(ctx, "ac-1")
	require.NoError(t, err)

	components, err := f.store.ListComponents(ctx, "ac-1")
	require.NoError(t, err)
	for _, c := range components {
		assert.Equal(t, a.TotalHours, c.Usage, c.ID)
	}
}

func TestApplyUsageUpdate_AlertsSorted(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 0)
	f.component(t, "green", "ac-1", 0, 1000, regressionBoundaries)
	f.component(t, "red", "ac-1", 960, 1000, regressionBoundaries)

	res, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1, Propagate: true})
	require.NoError(t, err)

	require.Len(t, res.Alerts, 2)
	assert.Equal(t, "red", res.Alerts[0].ComponentID)
	assert.Equal(t, "green", res.Alerts[1].ComponentID)
}

func TestResetComponent(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 990, 1000, regressionBoundaries)

	c, err := f.coord.ResetComponent(ctx, "c-1", "overhaul")
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Usage)
	assert.Equal(t, models.LevelGreen, c.LastAlert.Level)
	assert.Equal(t, 1000.0, c.Thresholds.Limit)

	stored, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.Usage)

	_, err = f.coord.ResetComponent(ctx, "ghost", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAddComponent_RejectsBadThresholds(t *testing.T) {
	f := newFixture(t, Options{})
	f.aircraft(t, "ac-1", 0)

	err := f.coord.AddComponent(context.Background(), &models.Component{
		ID: "c-1", AircraftID: "ac-1", Name: "blade",
		Thresholds: models.ThresholdConfig{
			Enabled: true, Unit: models.UnitHours, Limit: 100,
			Boundaries: models.Boundaries{Purple: 10, Red: 20},
		},
	})
	assert.ErrorIs(t, err, models.ErrConfig)

	err = f.coord.AddComponent(context.Background(), &models.Component{
		ID: "c-2", AircraftID: "ghost", Name: "blade",
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAircraftAlerts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 0)
	f.component(t, "c-1", "ac-1", 0, 1000, regressionBoundaries)
	f.component(t, "c-2", "ac-1", 1010, 1000, regressionBoundaries)

	got, err := f.coord.AircraftAlerts(ctx, "ac-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-2", got[0].ComponentID)
	assert.Equal(t, models.LevelRed, got[0].Alert.Level)

	_, err = f.coord.AircraftAlerts(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApplyUsageUpdate_ListFailureWritesNothing(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 100, 1000, regressionBoundaries)

	f.store.SetFault(func(op, id string) error {
		if op == "list_components" {
			return errors.New("connection reset")
		}
		return nil
	})

	update := UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1050, Propagate: true}
	_, err := f.coord.ApplyUsageUpdate(ctx, update)
	assert.ErrorIs(t, err, models.ErrStorage)

	f.store.SetFault(nil)
	a, err := f.store.GetAircraft(ctx, "ac-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, a.TotalHours)
	assert.Equal(t, int64(1), a.Version)
	assert.Empty(t, f.sink.Events())

	// The same update goes through once the store recovers.
	res, err := f.coord.ApplyUsageUpdate(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Delta)
	assert.Equal(t, 1, res.Updated)

	c, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 150.0, c.Usage)
}

func TestApplyUsageUpdate_NegativeUsageRejected(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 5, 1000, regressionBoundaries)
	f.component(t, "c-2", "ac-1", 500, 1000, regressionBoundaries)

	_, err := f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 990, Propagate: true})
	assert.ErrorIs(t, err, models.ErrValidation)

	a, err := f.store.GetAircraft(ctx, "ac-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, a.TotalHours)
	assert.Equal(t, int64(1), a.Version)
	assert.Empty(t, f.sink.Events())

	usage := func(id string) float64 {
		t.Helper()
		c, err := f.store.GetComponent(ctx, id)
		require.NoError(t, err)
		return c.Usage
	}
	assert.Equal(t, 5.0, usage("c-1"))
	assert.Equal(t, 500.0, usage("c-2"))

	// A correction down to exactly zero and back restores every counter.
	_, err = f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 995, Propagate: true})
	require.NoError(t, err)
	assert.Equal(t, 0.0, usage("c-1"))

	_, err = f.coord.ApplyUsageUpdate(ctx, UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1000, Propagate: true})
	require.NoError(t, err)
	assert.Equal(t, 5.0, usage("c-1"))
	assert.Equal(t, 500.0, usage("c-2"))
}

func TestRetryComponents_CatchesUpFailed(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.component(t, "c-1", "ac-1", 100, 1000, regressionBoundaries)
	f.component(t, "c-2", "ac-1", 100, 1000, regressionBoundaries)

	f.store.SetFault(func(op, id string) error {
		if op == "save_component" && id == "c-2" {
			return errors.New("disk full")
		}
		return nil
	})
	update := UsageUpdate{AircraftID: "ac-1", NewTotalHours: 1010, Propagate: true}
	first, err := f.coord.ApplyUsageUpdate(ctx, update)
	require.NoError(t, err)
	require.Len(t, first.Failed, 1)
	assert.Equal(t, 10.0, first.Failed[0].Delta)
	f.store.SetFault(nil)

	// Replaying the total does not help: the aircraft already carries it.
	again, err := f.coord.ApplyUsageUpdate(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, 0.0, again.Delta)

	ids := make([]string, 0, len(first.Failed))
	for _, failure := range first.Failed {
		ids = append(ids, failure.ComponentID)
	}
	res, err := f.coord.RetryComponents(ctx, RetryRequest{
		AircraftID:   "ac-1",
		Delta:        first.Failed[0].Delta,
		ComponentIDs: ids,
		Reason:       "retry failed components",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "c-2", res.Alerts[0].ComponentID)

	for _, id := range []string{"c-1", "c-2"} {
		c, err := f.store.GetComponent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 110.0, c.Usage, id)
	}

	a, err := f.store.GetAircraft(ctx, "ac-1")
	require.NoError(t, err)
	assert.Equal(t, 1010.0, a.TotalHours)
	assert.Equal(t, int64(2), a.Version)

	events := f.sink.Events()
	require.Len(t, events, 3)
	last := events[2]
	assert.True(t, last.Retry)
	assert.Equal(t, 10.0, last.Delta)
	assert.Equal(t, 1010.0, last.NewHours)
	assert.Equal(t, 1, last.ComponentsUpdated)
}

func TestRetryComponents_Validation(t *testing.T) {
	f := newFixture(t, Options{AllowDecrease: true})
	ctx := context.Background()

	f.aircraft(t, "ac-1", 1000)
	f.aircraft(t, "ac-2", 1000)
	f.component(t, "c-1", "ac-1", 5, 1000, regressionBoundaries)
	f.component(t, "c-9", "ac-2", 5, 1000, regressionBoundaries)

	tests := []struct {
		name    string
		req     RetryRequest
		wantErr error
	}{
		{"empty aircraft", RetryRequest{Delta: 1, ComponentIDs: []string{"c-1"}}, models.ErrValidation},
		{"zero delta", RetryRequest{AircraftID: "ac-1", ComponentIDs: []string{"c-1"}}, models.ErrValidation},
		{"no components", RetryRequest{AircraftID: "ac-1", Delta: 1}, models.ErrValidation},
		{"unknown aircraft", RetryRequest{AircraftID: "ghost", Delta: 1, ComponentIDs: []string{"c-1"}}, models.ErrNotFound},
		{"unknown component", RetryRequest{AircraftID: "ac-1", Delta: 1, ComponentIDs: []string{"c-1", "nope"}}, models.ErrNotFound},
		{"other aircraft's component", RetryRequest{AircraftID: "ac-1", Delta: 1, ComponentIDs: []string{"c-9"}}, models.ErrNotFound},
		{"below zero", RetryRequest{AircraftID: "ac-1", Delta: -10, ComponentIDs: []string{"c-1"}}, models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.RetryComponents(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	c, err := f.store.GetComponent(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, c.Usage)
	assert.Empty(t, f.sink.Events())
}

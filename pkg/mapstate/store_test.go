package mapstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airmap/pkg/loader"
	"airmap/pkg/mapapi"
	"airmap/pkg/model"
)

const waitFor = 2 * time.Second
const tickEvery = 5 * time.Millisecond

// fakeFetcher serves canned responses; handlers can be swapped between phases.
type fakeFetcher struct {
	mu       sync.Mutex
	layers   func() ([]model.Layer, error)
	aircraft func(ctx context.Context) (*model.AircraftPage, error)
	airspace func() (*geojson.FeatureCollection, error)
}

func (f *fakeFetcher) MapLayers(ctx context.Context) ([]model.Layer, error) {
	f.mu.Lock()
	fn := f.layers
	f.mu.Unlock()
	return fn()
}

func (f *fakeFetcher) Aircraft(ctx context.Context, q mapapi.AircraftQuery) (*model.AircraftPage, error) {
	f.mu.Lock()
	fn := f.aircraft
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeFetcher) Airspace(ctx context.Context, limit int) (*geojson.FeatureCollection, error) {
	f.mu.Lock()
	fn := f.airspace
	f.mu.Unlock()
	return fn()
}

func (f *fakeFetcher) setAircraft(fn func(ctx context.Context) (*model.AircraftPage, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aircraft = fn
}

func page(ids ...string) *model.AircraftPage {
	p := &model.AircraftPage{Aircraft: []model.AircraftRecord{}}
	for _, id := range ids {
		p.Aircraft = append(p.Aircraft, model.AircraftRecord{ID: id, Hex: id})
	}
	p.Total = len(ids)
	return p
}

func oneAirspace() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}))
	return fc
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{
		layers: func() ([]model.Layer, error) {
			return []model.Layer{
				{ID: "airspace", Name: "Airspace", LayerType: model.LayerAirspace, IsVisible: true, ZIndex: 5},
				{ID: "weather", Name: "Weather", LayerType: model.LayerWeather, ZIndex: 1},
			}, nil
		},
		aircraft: func(ctx context.Context) (*model.AircraftPage, error) { return page("a1", "a2"), nil },
		airspace: func() (*geojson.FeatureCollection, error) { return oneAirspace(), nil },
	}
}

type recordingSink struct {
	mu        sync.Mutex
	revisions []uint64
}

func (r *recordingSink) UpdateState(st model.MapState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions = append(r.revisions, st.Revision)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.revisions)
}

func newStore(t *testing.T, f loader.Fetcher) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s := New(loader.New(f, nil, mock), DefaultOptions(), mock)
	t.Cleanup(s.Stop)
	return s, mock
}

func mustState(t *testing.T, s *Store) model.MapState {
	t.Helper()
	st, err := s.State()
	require.NoError(t, err)
	return st
}

func waitSettled(t *testing.T, s *Store) model.MapState {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := s.State()
		return err == nil && !st.Loading && st.Status != model.StatusLoading
	}, waitFor, tickEvery)
	return mustState(t, s)
}

func TestState_BeforeStart(t *testing.T) {
	s, _ := newStore(t, newFetcher())

	_, err := s.State()
	var missing *MissingStoreError
	require.ErrorAs(t, err, &missing)

	assert.ErrorAs(t, s.ToggleLayerVisibility("x"), &missing)
	assert.ErrorAs(t, s.RefreshData(context.Background()), &missing)
}

func TestStart_InitialLoad(t *testing.T) {
	s, _ := newStore(t, newFetcher())
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	st := waitSettled(t, s)
	assert.Equal(t, model.StatusReady, st.Status)
	assert.Empty(t, st.Error)
	require.Len(t, st.Layers, 3)
	assert.Equal(t, loader.DefaultAircraftLayerID, st.Layers[0].Layer.ID)
	assert.Len(t, st.ActiveAircraft, 2)
	assert.Equal(t, 1, st.AirspaceFeatureCount())
	assert.NotNil(t, st.LastUpdate.Layers)
	assert.NotNil(t, st.LastUpdate.Aircraft)
	assert.NotNil(t, st.LastUpdate.Airspace)
}

func TestStart_LayersFailFallBack(t *testing.T) {
	f := newFetcher()
	f.layers = func() ([]model.Layer, error) { return nil, errors.New("connection refused") }

	s, _ := newStore(t, f)
	require.NoError(t, s.Start(context.Background()))

	st := waitSettled(t, s)
	assert.Equal(t, model.StatusReady, st.Status)
	assert.Empty(t, st.Error, "layer failure is not user-facing")
	require.Len(t, st.Layers, 1)
	assert.Equal(t, model.LayerAircraft, st.Layers[0].Layer.LayerType)
	assert.True(t, st.Layers[0].Layer.IsVisible)
	assert.Len(t, st.ActiveAircraft, 2)
}

func TestStart_AircraftFailureSurfaces(t *testing.T) {
	f := newFetcher()
	f.aircraft = func(ctx context.Context) (*model.AircraftPage, error) {
		return nil, &mapapi.APIError{Status: 404, Detail: "Default tenant not found"}
	}

	s, _ := newStore(t, f)
	require.NoError(t, s.Start(context.Background()))

	st := waitSettled(t, s)
	assert.Equal(t, model.StatusError, st.Status)
	assert.Equal(t, "Default tenant not found", st.Error)
	assert.Empty(t, st.ActiveAircraft)
	assert.Equal(t, 1, st.AirspaceFeatureCount(), "airspace still committed")
}

func TestStart_AirspaceFailureSwallowed(t *testing.T) {
	f := newFetcher()
	f.airspace = func() (*geojson.FeatureCollection, error) { return nil, errors.New("timeout") }

	s, _ := newStore(t, f)
	require.NoError(t, s.Start(context.Background()))

	st := waitSettled(t, s)
	assert.Equal(t, model.StatusReady, st.Status)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.AirspaceData)
	assert.Empty(t, st.AirspaceData.Features)
}

func TestToggleLayerVisibility(t *testing.T) {
	s, _ := newStore(t, newFetcher())
	require.NoError(t, s.Start(context.Background()))
	before := waitSettled(t, s)

	require.NoError(t, s.ToggleLayerVisibility("weather"))
	mid := mustState(t, s)
	i := model.FindLayer(mid.Layers, "weather")
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, mid.Layers[i].Layer.IsVisible)
	assert.Equal(t, before.Layers[i].Layer.ZIndex, mid.Layers[i].Layer.ZIndex)
	assert.False(t, before.Layers[i].Layer.IsVisible, "earlier copies are not mutated")

	require.NoError(t, s.ToggleLayerVisibility("weather"))
	after := mustState(t, s)
	assert.Equal(t, before.Layers, after.Layers)
	assert.Equal(t, before.Revision+2, after.Revision)
}

func TestToggleLayerVisibility_UnknownID(t *testing.T) {
	s, _ := newStore(t, newFetcher())
	require.NoError(t, s.Start(context.Background()))
	before := waitSettled(t, s)

	require.NoError(t, s.ToggleLayerVisibility("does-not-exist"))
	after := mustState(t, s)
	assert.Equal(t, before, after)
}

func TestBackgroundRefresh(t *testing.T) {
	f := newFetcher()
	f.aircraft = func(ctx context.Context) (*model.AircraftPage, error) {
		return nil, errors.New("upstream down")
	}

	s, mock := newStore(t, f)
	require.NoError(t, s.Start(context.Background()))
	st := waitSettled(t, s)
	require.Equal(t, "upstream down", st.Error)

	f.setAircraft(func(ctx context.Context) (*model.AircraftPage, error) { return page("bg1"), nil })
	mock.Add(30 * time.Second)

	require.Eventually(t, func() bool {
		st, _ := s.State()
		return len(st.ActiveAircraft) == 1 && st.ActiveAircraft[0].ID == "bg1"
	}, waitFor, tickEvery)

	st = mustState(t, s)
	assert.False(t, st.Loading)
	assert.Equal(t, "upstream down", st.Error, "background refresh never touches error")
	assert.Equal(t, model.StatusError, st.Status)
}

func TestBackgroundRefresh_FailureIgnored(t *testing.T) {
	f := newFetcher()
	s, mock := newStore(t, f)
	require.NoError(t, s.Start(context.Background()))
	before := waitSettled(t, s)

	called := make(chan struct{}, 4)
	f.setAircraft(func(ctx context.Context) (*model.AircraftPage, error) {
		called <- struct{}{}
		return nil, errors.New("upstream down")
	})

	for i := 0; i < 2; i++ {
		mock.Add(30 * time.Second)
		select {
		case <-called:
		case <-time.After(waitFor):
			t.Fatal("background refresh did not run")
		}
	}

	after := mustState(t, s)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Empty(t, after.Error)
	assert.Len(t, after.ActiveAircraft, 2)
}

func TestRefreshData_LastFetchWins(t *testing.T) {
	f := newFetcher()
	s, _ := newStore(t, f)
	require.NoError(t, s.Start(context.Background()))
	waitSettled(t, s)

	started := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	f.setAircraft(func(ctx context.Context) (*model.AircraftPage, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-ctx.Done()
			return page("first"), ctx.Err()
		}
		return page("second"), nil
	})

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.RefreshData(context.Background()) }()
	<-started

	require.NoError(t, s.RefreshData(context.Background()))
	require.NoError(t, <-firstDone)

	st := mustState(t, s)
	require.Len(t, st.ActiveAircraft, 1)
	assert.Equal(t, "second", st.ActiveAircraft[0].ID)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	assert.Equal(t, model.StatusReady, st.Status)
}

func TestRefreshData_ClearsErrorWhileLoading(t *testing.T) {
	f := newFetcher()
	f.aircraft = func(ctx context.Context) (*model.AircraftPage, error) { return nil, errors.New("boom") }
	s, _ := newStore(t, f)
	sink := &stateSink{}
	s.AddSink(sink)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, "boom", waitSettled(t, s).Error)

	f.setAircraft(func(ctx context.Context) (*model.AircraftPage, error) { return page("ok"), nil })
	require.NoError(t, s.RefreshData(context.Background()))

	for _, st := range sink.all() {
		if st.Loading {
			assert.Empty(t, st.Error, "revision %d", st.Revision)
		}
	}
	assert.Empty(t, mustState(t, s).Error)
}

// panicLoader panics on layer load once armed.
type panicLoader struct {
	mu    sync.Mutex
	armed bool
	where string
}

func (p *panicLoader) arm(where string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed, p.where = true, where
}

func (p *panicLoader) check(where string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed && p.where == where {
		panic("loader exploded")
	}
}

func (p *panicLoader) LoadLayers(ctx context.Context) []model.LayerEntry {
	p.check("layers")
	return loader.EnsureRequiredLayers(nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (p *panicLoader) LoadAircraft(ctx context.Context, limit int) loader.AircraftResult {
	p.check("aircraft")
	return loader.AircraftResult{Aircraft: page("keep").Aircraft}
}

func (p *panicLoader) LoadAirspace(ctx context.Context, limit int) model.AirspaceData {
	return oneAirspace()
}

func (p *panicLoader) CancelAircraft() {}

func TestReload_PanicKeepsData(t *testing.T) {
	for _, where := range []string{"layers", "aircraft"} {
		t.Run(where, func(t *testing.T) {
			pl := &panicLoader{}
			s := New(pl, DefaultOptions(), clock.NewMock())
			t.Cleanup(s.Stop)

			require.NoError(t, s.Start(context.Background()))
			before := waitSettled(t, s)
			require.Len(t, before.ActiveAircraft, 1)

			pl.arm(where)
			err := s.RefreshData(context.Background())
			require.Error(t, err)

			st := mustState(t, s)
			assert.False(t, st.Loading)
			assert.Equal(t, LoadFailedMessage, st.Error)
			assert.Equal(t, model.StatusError, st.Status)
			assert.Equal(t, before.Layers, st.Layers)
			assert.Equal(t, before.ActiveAircraft, st.ActiveAircraft)
			assert.Equal(t, 1, st.AirspaceFeatureCount())
		})
	}
}

func TestStop(t *testing.T) {
	f := newFetcher()
	s, mock := newStore(t, f)
	sink := &recordingSink{}
	s.AddSink(sink)
	require.NoError(t, s.Start(context.Background()))
	waitSettled(t, s)

	started := make(chan struct{}, 1)
	f.setAircraft(func(ctx context.Context) (*model.AircraftPage, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mock.Add(30 * time.Second)
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("background refresh did not start")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not abort the in-flight fetch")
	}

	n := sink.count()
	mock.Add(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sink.count(), "no commits after Stop")

	var missing *MissingStoreError
	_, err := s.State()
	assert.ErrorAs(t, err, &missing)
	assert.ErrorIs(t, s.RefreshData(context.Background()), ErrStopped)
	s.Stop()
}

func TestSink_RevisionsIncrease(t *testing.T) {
	s, _ := newStore(t, newFetcher())
	sink := &recordingSink{}
	s.AddSink(sink)
	require.NoError(t, s.Start(context.Background()))
	waitSettled(t, s)
	require.NoError(t, s.ToggleLayerVisibility(loader.DefaultAircraftLayerID))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.revisions)
	for i := 1; i < len(sink.revisions); i++ {
		assert.Greater(t, sink.revisions[i], sink.revisions[i-1])
	}
}

type stateSink struct {
	mu     sync.Mutex
	states []model.MapState
}

func (s *stateSink) UpdateState(st model.MapState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateSink) all() []model.MapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.MapState(nil), s.states...)
}

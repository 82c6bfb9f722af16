// Package mapstate owns the canonical map state: layers, live aircraft and
// airspace. All mutation goes through Store methods, each applied as one
// atomic read-modify-write.
package mapstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"airmap/pkg/loader"
	"airmap/pkg/model"
	"airmap/pkg/refresh"
)

// LoadFailedMessage is shown when a full reload fails unexpectedly.
const LoadFailedMessage = "Failed to load map layers"

// TaskAircraft is the scheduler task name of the background aircraft refresh.
const TaskAircraft = "aircraft"

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("map store already started")
	// ErrStopped is returned for work requested after Stop.
	ErrStopped = errors.New("map store stopped")
)

// MissingStoreError reports access to a store that is not running.
type MissingStoreError struct {
	Op string
}

func (e *MissingStoreError) Error() string {
	return fmt.Sprintf("%s: map store is not running (call Start first)", e.Op)
}

// Loader is the data source the store drives. *loader.Loader satisfies it.
type Loader interface {
	LoadLayers(ctx context.Context) []model.LayerEntry
	LoadAircraft(ctx context.Context, limit int) loader.AircraftResult
	LoadAirspace(ctx context.Context, limit int) model.AirspaceData
	CancelAircraft()
}

// Sink receives every committed state, in revision order. UpdateState is
// called with the store lock held: it must not block or call back into the store.
type Sink interface {
	UpdateState(state model.MapState)
}

// Options configures limits and the background refresh cadence.
type Options struct {
	AircraftLimit    int
	AirspaceLimit    int
	AircraftInterval time.Duration
}

// DefaultOptions returns the stock limits and refresh interval.
func DefaultOptions() Options {
	return Options{
		AircraftLimit:    1000,
		AirspaceLimit:    100,
		AircraftInterval: 30 * time.Second,
	}
}

// Store is the single writer of the map state.
type Store struct {
	loader    Loader
	opts      Options
	clock     clock.Clock
	scheduler *refresh.Scheduler
	logger    *slog.Logger

	mu        sync.Mutex
	state     model.MapState
	started   bool
	stopped   bool
	reloadSeq uint64
	sinks     []Sink
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a store in the INIT state.
func New(l Loader, opts Options, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		loader:    l,
		opts:      opts,
		clock:     clk,
		scheduler: refresh.New(clk),
		logger:    slog.With("component", "mapstate"),
		state: model.MapState{
			Layers:         []model.LayerEntry{},
			ActiveAircraft: []model.AircraftRecord{},
			Status:         model.StatusInit,
		},
	}
}

// AddSink registers s to receive committed states.
func (s *Store) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Start moves the store to LOADING, begins the initial load in the background
// and installs the periodic aircraft refresh.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("Map store starting",
		"aircraft_limit", s.opts.AircraftLimit,
		"airspace_limit", s.opts.AirspaceLimit,
		"aircraft_interval", s.opts.AircraftInterval)
	s.mu.Unlock()

	if _, err := s.spawnReload(); err != nil {
		return err
	}

	s.scheduler.Configure(s.ctx, []refresh.Task{{
		Name:     TaskAircraft,
		Callback: s.refreshAircraft,
		Interval: s.opts.AircraftInterval,
		Enabled:  s.opts.AircraftInterval > 0,
	}})
	return nil
}

// Stop cancels timers and in-flight fetches and waits for background loads.
// No state mutation happens after Stop returns.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("Map store stopping")
	s.cancel()
	s.scheduler.Stop()
	s.loader.CancelAircraft()
	s.wg.Wait()
}

// State returns a copy of the current state.
func (s *Store) State() (model.MapState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return model.MapState{}, &MissingStoreError{Op: "state"}
	}
	return s.state.Clone(), nil
}

// RefreshData re-runs the full load and waits for it or for ctx. The load
// itself is bound to the store lifetime, not to ctx.
func (s *Store) RefreshData(ctx context.Context) error {
	s.logger.Info("Manual refresh triggered")
	done, err := s.spawnReload()
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToggleLayerVisibility flips the visibility of one layer. An unknown id is
// logged and ignored.
func (s *Store) ToggleLayerVisibility(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return &MissingStoreError{Op: "toggle layer"}
	}

	i := model.FindLayer(s.state.Layers, id)
	if i < 0 {
		s.logger.Warn("Layer not found", "layer_id", id)
		return nil
	}

	layers := slices.Clone(s.state.Layers)
	entry := layers[i]
	entry.Layer.IsVisible = !entry.Layer.IsVisible
	layers[i] = entry
	s.state.Layers = layers

	s.logger.Debug("Toggled layer visibility", "layer_id", id, "visible", entry.Layer.IsVisible)
	s.commitLocked("toggle")
	return nil
}

// spawnReload starts a full reload on the store lifetime and returns a
// channel that yields its result.
func (s *Store) spawnReload() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, &MissingStoreError{Op: "refresh"}
	}
	if s.stopped {
		return nil, ErrStopped
	}

	s.reloadSeq++
	seq := s.reloadSeq
	s.state.Loading = true
	s.state.Error = ""
	s.state.Status = model.StatusLoading
	s.commitLocked("reload start")

	ctx := s.ctx
	done := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		done <- s.reload(ctx, seq)
	}()
	return done, nil
}

// reload runs layers, then aircraft and airspace concurrently, committing
// layers first and the other two together. Commits from a reload superseded
// by a newer one are dropped.
func (s *Store) reload(ctx context.Context, seq uint64) (err error) {
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(seq, r)
		}
	}()

	layers := s.loader.LoadLayers(ctx)
	now := s.clock.Now()
	if !s.apply(seq, "layers", func(st *model.MapState) {
		st.Layers = layers
		st.LastUpdate.Layers = &now
	}) {
		return nil
	}

	var (
		g        errgroup.Group
		aircraft loader.AircraftResult
		airspace model.AirspaceData
	)
	goSafe(&g, func() { aircraft = s.loader.LoadAircraft(ctx, s.opts.AircraftLimit) })
	goSafe(&g, func() { airspace = s.loader.LoadAirspace(ctx, s.opts.AirspaceLimit) })
	if werr := g.Wait(); werr != nil {
		return s.fail(seq, werr)
	}

	now = s.clock.Now()
	s.apply(seq, "aircraft+airspace", func(st *model.MapState) {
		switch {
		case aircraft.Cancelled || aircraft.Stale():
			// A newer fetch owns the aircraft list.
		case aircraft.Err != nil:
			st.ActiveAircraft = []model.AircraftRecord{}
			st.LastUpdate.Aircraft = &now
			st.Error = aircraft.Err.Error()
		default:
			st.ActiveAircraft = aircraft.Aircraft
			st.LastUpdate.Aircraft = &now
		}
		if airspace == nil {
			airspace = model.EmptyAirspace()
		}
		st.AirspaceData = airspace
		st.LastUpdate.Airspace = &now
		st.Loading = false
		st.Status = model.StatusReady
		if st.Error != "" {
			st.Status = model.StatusError
		}
	})

	s.logger.Info("Map data loaded", "elapsed", s.clock.Since(start), "revision", s.revision())
	return nil
}

// fail handles an unexpected failure during a reload: loading ends with the
// generic message and all previously loaded data stays in place.
func (s *Store) fail(seq uint64, cause any) error {
	s.logger.Error("Failed to load data", "error", cause)
	s.apply(seq, "failure", func(st *model.MapState) {
		st.Loading = false
		st.Error = LoadFailedMessage
		st.Status = model.StatusError
	})
	return fmt.Errorf("map reload: %v", cause)
}

// refreshAircraft is the background task: it replaces the aircraft list only
// and never touches loading or error.
func (s *Store) refreshAircraft(ctx context.Context) error {
	res := s.loader.LoadAircraft(ctx, s.opts.AircraftLimit)
	if res.Cancelled {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("refresh aircraft: %w", res.Err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || res.Stale() {
		return nil
	}
	s.state.ActiveAircraft = res.Aircraft
	s.state.LastUpdate.Aircraft = &now
	s.commitLocked("aircraft refresh")
	return nil
}

// apply runs fn on the state if reload seq is still the latest and the store
// is running. It reports whether the commit happened.
func (s *Store) apply(seq uint64, what string, fn func(st *model.MapState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if seq != s.reloadSeq {
		s.logger.Debug("Dropping superseded reload commit", "what", what, "reload", seq, "latest", s.reloadSeq)
		return false
	}
	fn(&s.state)
	s.commitLocked(what)
	return true
}

// commitLocked bumps the revision and publishes the state. Callers hold s.mu.
func (s *Store) commitLocked(what string) {
	s.state.Revision++
	s.logger.Debug("State updated", "cause", what, "snapshot", s.state.Snapshot(s.clock.Now()))
	if len(s.sinks) == 0 {
		return
	}
	snap := s.state.Clone()
	for _, sink := range s.sinks {
		sink.UpdateState(snap)
	}
}

func (s *Store) revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Revision
}

// goSafe runs fn in g, turning a panic into an error.
func goSafe(g *errgroup.Group, fn func()) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		fn()
		return nil
	})
}

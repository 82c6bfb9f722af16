package loader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/paulmach/orb/geojson"

	"airmap/pkg/logging"
	"airmap/pkg/mapapi"
	"airmap/pkg/model"
	"airmap/pkg/tracker"
)

// Resource names used for stats and logs.
const (
	ResourceLayers   = "layers"
	ResourceAircraft = "aircraft"
	ResourceAirspace = "airspace"
)

// Fetcher is the remote data source. *mapapi.Client satisfies it.
type Fetcher interface {
	MapLayers(ctx context.Context) ([]model.Layer, error)
	Aircraft(ctx context.Context, q mapapi.AircraftQuery) (*model.AircraftPage, error)
	Airspace(ctx context.Context, limit int) (*geojson.FeatureCollection, error)
}

// LoadError is a genuine load failure with a user-facing message.
type LoadError struct {
	Op      string
	Message string
	Err     error
}

func (e *LoadError) Error() string { return e.Message }
func (e *LoadError) Unwrap() error { return e.Err }

// ErrorMessage picks the message shown for a failed operation: the backend's
// detail if it sent one, else the error text, else "<op> failed".
func ErrorMessage(op string, err error) string {
	var apiErr *mapapi.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return op + " failed"
}

// cancelToken scopes one aircraft fetch. Issuing a new token cancels the old one.
type cancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// AircraftResult is the outcome of LoadAircraft. Exactly one of these holds:
// Err is set (genuine failure), Cancelled is true, or Aircraft is the fetched list.
type AircraftResult struct {
	Aircraft  []model.AircraftRecord
	Err       error
	Cancelled bool

	token *cancelToken
}

// Stale reports whether the fetch that produced r has since been superseded
// or aborted. Stale results must not be committed. A result built without a
// token is never stale.
func (r *AircraftResult) Stale() bool {
	return r.token != nil && r.token.ctx.Err() != nil
}

// Loader fetches map data with a fallback policy per resource: layers fall
// back to the default aircraft layer, airspace to an empty collection, and
// aircraft report errors without failing.
type Loader struct {
	api     Fetcher
	tracker *tracker.Tracker
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	current *cancelToken
}

// New creates a Loader.
func New(api Fetcher, tr *tracker.Tracker, clk clock.Clock) *Loader {
	if tr == nil {
		tr = tracker.New()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loader{
		api:     api,
		tracker: tr,
		clock:   clk,
		logger:  slog.With("component", "loader"),
	}
}

// LoadLayers returns the layer entries. It never fails: on any error the
// result is the default aircraft layer alone.
func (l *Loader) LoadLayers(ctx context.Context) []model.LayerEntry {
	start := l.clock.Now()
	l.logger.Debug("Loading map layers")

	layers, err := l.api.MapLayers(ctx)
	l.record("Load layers", ResourceLayers, start, len(layers), err)
	if err != nil {
		l.logger.Warn("Failed to load layers, using fallback", "error", err)
		return []model.LayerEntry{DefaultAircraftLayer(l.clock.Now())}
	}

	entries := EnsureRequiredLayers(layers, l.clock.Now())
	l.logger.Debug("Processed layers", "count", len(entries))
	return entries
}

// LoadAircraft fetches up to limit aircraft. Any in-flight aircraft fetch is
// cancelled first; a cancelled fetch yields Cancelled with no error.
func (l *Loader) LoadAircraft(ctx context.Context, limit int) AircraftResult {
	tok := l.issueToken(ctx)
	start := l.clock.Now()
	l.logger.Debug("Loading aircraft data", "limit", limit)

	page, err := l.api.Aircraft(tok.ctx, mapapi.AircraftQuery{Limit: limit})
	if err != nil && tok.ctx.Err() != nil {
		l.tracker.TrackCancelled(ResourceAircraft)
		l.logger.Debug("Aircraft request aborted")
		return AircraftResult{Aircraft: []model.AircraftRecord{}, Cancelled: true, token: tok}
	}

	var aircraft []model.AircraftRecord
	if page != nil {
		aircraft = page.Aircraft
	}
	if aircraft == nil {
		aircraft = []model.AircraftRecord{}
	}
	l.record("Load aircraft", ResourceAircraft, start, len(aircraft), err)

	if err != nil {
		msg := ErrorMessage("Load aircraft", err)
		l.logger.Error("Load aircraft error", "error", err)
		return AircraftResult{
			Aircraft: []model.AircraftRecord{},
			Err:      &LoadError{Op: "Load aircraft", Message: msg, Err: err},
			token:    tok,
		}
	}

	l.logger.Debug("Received aircraft", "count", len(aircraft))
	for i := range aircraft {
		a := &aircraft[i]
		logging.Trace(l.logger, "Aircraft", "hex", a.Hex, "flight", a.Flight, "has_position", a.Latitude != nil && a.Longitude != nil)
	}
	return AircraftResult{Aircraft: aircraft, token: tok}
}

// CancelAircraft aborts any in-flight aircraft fetch.
func (l *Loader) CancelAircraft() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		l.current.cancel()
	}
}

// LoadAirspace returns up to limit airspace features. Failures are logged and
// yield an empty collection.
func (l *Loader) LoadAirspace(ctx context.Context, limit int) model.AirspaceData {
	start := l.clock.Now()
	l.logger.Debug("Loading airspace data", "limit", limit)

	fc, err := l.api.Airspace(ctx, limit)
	items := 0
	if fc != nil {
		items = len(fc.Features)
	}
	l.record("Load airspace", ResourceAirspace, start, items, err)

	if err != nil || fc == nil {
		l.logger.Warn("Airspace load failed (non-critical)", "error", err)
		return model.EmptyAirspace()
	}
	l.logger.Debug("Received airspace features", "count", items)
	return fc
}

func (l *Loader) issueToken(parent context.Context) *cancelToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		l.current.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	l.current = &cancelToken{ctx: ctx, cancel: cancel}
	return l.current
}

func (l *Loader) record(op, resource string, start time.Time, items int, err error) {
	d := l.clock.Since(start)
	l.tracker.TrackCall(resource, d, items, err)
	ms := float64(d.Microseconds()) / 1000
	if err != nil {
		l.logger.Warn(op+" failed", "duration_ms", ms, "error", err)
		return
	}
	l.logger.Info(op+" completed", "duration_ms", ms, "items", items)
}

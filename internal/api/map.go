package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"airmap/pkg/feature"
	"airmap/pkg/mapstate"
	"airmap/pkg/model"
)

// refreshTimeout bounds how long POST /api/refresh waits for the reload.
const refreshTimeout = 45 * time.Second

// MapStore is the part of the map store the API drives. *mapstate.Store satisfies it.
type MapStore interface {
	State() (model.MapState, error)
	ToggleLayerVisibility(id string) error
	RefreshData(ctx context.Context) error
}

// Counts summarizes collection sizes in a state response.
type Counts struct {
	Layers           int `json:"layers"`
	Aircraft         int `json:"aircraft"`
	AirspaceFeatures int `json:"airspace_features"`
}

// StateResponse is the API view of the map state without bulk data.
type StateResponse struct {
	Layers     []model.LayerEntry `json:"layers"`
	Status     model.Status       `json:"status"`
	Loading    bool               `json:"loading"`
	Error      string             `json:"error,omitempty"`
	LastUpdate model.LastUpdate   `json:"last_update"`
	Revision   uint64             `json:"revision"`
	Counts     Counts             `json:"counts"`
}

// NewStateResponse builds the summary view of s.
func NewStateResponse(s *model.MapState) StateResponse {
	return StateResponse{
		Layers:     s.Layers,
		Status:     s.Status,
		Loading:    s.Loading,
		Error:      s.Error,
		LastUpdate: s.LastUpdate,
		Revision:   s.Revision,
		Counts: Counts{
			Layers:           len(s.Layers),
			Aircraft:         len(s.ActiveAircraft),
			AirspaceFeatures: s.AirspaceFeatureCount(),
		},
	}
}

// MapHandler serves map state and actions.
type MapHandler struct {
	store MapStore
}

func NewMapHandler(s MapStore) *MapHandler {
	return &MapHandler{store: s}
}

func (h *MapHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewStateResponse(&st))
}

// HandleAircraft returns the raw records, optionally filtered by ?hex= or ?flight=.
func (h *MapHandler) HandleAircraft(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, filterAircraft(st.ActiveAircraft, r))
}

// HandleFeatures returns valid aircraft as a GeoJSON point collection.
// Accepts the same filters as HandleAircraft.
func (h *MapHandler) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w)
	if !ok {
		return
	}
	features, skipped := feature.ToFeatures(filterAircraft(st.ActiveAircraft, r))
	if skipped > 0 {
		slog.Debug("Skipped aircraft without position", "count", skipped)
	}
	writeJSON(w, http.StatusOK, feature.Collection(features))
}

func filterAircraft(records []model.AircraftRecord, r *http.Request) []model.AircraftRecord {
	hex := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("hex")))
	flight := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("flight")))

	out := make([]model.AircraftRecord, 0, len(records))
	for i := range records {
		a := &records[i]
		if hex != "" && strings.ToLower(a.Hex) != hex {
			continue
		}
		if flight != "" && strings.ToUpper(strings.TrimSpace(a.Flight)) != flight {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// HandleDensity returns per-cell aircraft counts at ?res= (default 4).
func (h *MapHandler) HandleDensity(w http.ResponseWriter, r *http.Request) {
	res := feature.DefaultDensityResolution
	if v := r.URL.Query().Get("res"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "res must be an integer")
			return
		}
		res = n
	}

	st, ok := h.state(w)
	if !ok {
		return
	}
	cells, err := feature.Density(st.ActiveAircraft, res)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolution": res,
		"cells":      cells,
	})
}

func (h *MapHandler) HandleAirspace(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w)
	if !ok {
		return
	}
	airspace := st.AirspaceData
	if airspace == nil {
		airspace = model.EmptyAirspace()
	}
	writeJSON(w, http.StatusOK, airspace)
}

// HandleToggle flips one layer's visibility and returns the updated entry.
func (h *MapHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := h.state(w)
	if !ok {
		return
	}
	if model.FindLayer(st.Layers, id) < 0 {
		writeError(w, http.StatusNotFound, "layer not found: "+id)
		return
	}

	if err := h.store.ToggleLayerVisibility(id); err != nil {
		h.storeError(w, err)
		return
	}

	st, ok = h.state(w)
	if !ok {
		return
	}
	i := model.FindLayer(st.Layers, id)
	if i < 0 {
		writeError(w, http.StatusNotFound, "layer not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, st.Layers[i])
}

// HandleRefresh runs a full reload and returns the resulting state.
func (h *MapHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := h.store.RefreshData(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusAccepted, "refresh still running")
			return
		}
		// A failed reload still leaves a state to report.
		var missing *mapstate.MissingStoreError
		if errors.As(err, &missing) || errors.Is(err, mapstate.ErrStopped) {
			h.storeError(w, err)
			return
		}
		slog.Warn("Manual refresh failed", "error", err)
	}
	h.HandleState(w, r)
}

func (h *MapHandler) state(w http.ResponseWriter) (model.MapState, bool) {
	st, err := h.store.State()
	if err != nil {
		h.storeError(w, err)
		return model.MapState{}, false
	}
	return st, true
}

func (h *MapHandler) storeError(w http.ResponseWriter, err error) {
	var missing *mapstate.MissingStoreError
	if errors.As(err, &missing) || errors.Is(err, mapstate.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

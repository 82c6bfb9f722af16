package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb/geojson"

	"airmap/pkg/mapstate"
	"airmap/pkg/model"
)

type fakeStore struct {
	mu         sync.Mutex
	state      model.MapState
	stateErr   error
	refreshErr error
	refreshed  int
}

func (f *fakeStore) State() (model.MapState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return model.MapState{}, f.stateErr
	}
	return f.state.Clone(), nil
}

func (f *fakeStore) ToggleLayerVisibility(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := model.FindLayer(f.state.Layers, id); i >= 0 {
		f.state.Layers[i].Layer.IsVisible = !f.state.Layers[i].Layer.IsVisible
		f.state.Revision++
	}
	return nil
}

func (f *fakeStore) RefreshData(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	f.state.Revision++
	return f.refreshErr
}

func ptr(v float64) *float64 { return &v }

func sampleState() model.MapState {
	return model.MapState{
		Layers: []model.LayerEntry{
			{Layer: model.Layer{ID: "default-aircraft", Name: "Aircraft", LayerType: model.LayerAircraft, IsVisible: true, ZIndex: 10}},
			{Layer: model.Layer{ID: "as", Name: "Airspace", LayerType: model.LayerAirspace, IsVisible: false, ZIndex: 5}},
		},
		ActiveAircraft: []model.AircraftRecord{
			{ID: "1", Hex: "4CA87D", Flight: "RYR12AB ", Latitude: ptr(53.35), Longitude: ptr(-6.26), AltitudeBaro: ptr(35000)},
			{ID: "2", Hex: "a1b2c3", Flight: "DAL44", Latitude: ptr(40.64), Longitude: ptr(-73.78)},
			{ID: "3", Hex: "ffffff"},
		},
		AirspaceData: model.EmptyAirspace(),
		Status:       model.StatusReady,
		Revision:     4,
	}
}

func serve(h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestMapHandler_HandleState(t *testing.T) {
	tests := []struct {
		name           string
		store          *fakeStore
		expectedStatus int
		validate       func(*testing.T, StateResponse)
	}{
		{
			name:           "Success",
			store:          &fakeStore{state: sampleState()},
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, resp StateResponse) {
				if resp.Status != model.StatusReady {
					t.Errorf("got status %s, want READY", resp.Status)
				}
				if resp.Counts.Aircraft != 3 || resp.Counts.Layers != 2 || resp.Counts.AirspaceFeatures != 0 {
					t.Errorf("unexpected counts: %+v", resp.Counts)
				}
				if resp.Revision != 4 {
					t.Errorf("got revision %d, want 4", resp.Revision)
				}
			},
		},
		{
			name:           "NotRunning",
			store:          &fakeStore{stateErr: &mapstate.MissingStoreError{Op: "state"}},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "Unexpected",
			store:          &fakeStore{stateErr: errors.New("boom")},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMapHandler(tt.store)
			w := serve(h.HandleState, http.MethodGet, "/api/state")

			if w.Code != tt.expectedStatus {
				t.Fatalf("StatusCode: got %v, want %v", w.Code, tt.expectedStatus)
			}
			if tt.validate != nil {
				var resp StateResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode JSON: %v", err)
				}
				tt.validate(t, resp)
			}
		})
	}
}

func TestMapHandler_HandleAircraft(t *testing.T) {
	h := NewMapHandler(&fakeStore{state: sampleState()})

	tests := []struct {
		target  string
		wantIDs []string
	}{
		{"/api/aircraft", []string{"1", "2", "3"}},
		{"/api/aircraft?hex=4ca87d", []string{"1"}},
		{"/api/aircraft?flight=ryr12ab", []string{"1"}},
		{"/api/aircraft?hex=000000", []string{}},
	}

	for _, tt := range tests {
		w := serve(h.HandleAircraft, http.MethodGet, tt.target)
		var got []model.AircraftRecord
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("%s: failed to decode JSON: %v", tt.target, err)
		}
		if len(got) != len(tt.wantIDs) {
			t.Errorf("%s: got %d records, want %d", tt.target, len(got), len(tt.wantIDs))
			continue
		}
		for i, id := range tt.wantIDs {
			if got[i].ID != id {
				t.Errorf("%s: record %d is %s, want %s", tt.target, i, got[i].ID, id)
			}
		}
	}
}

func TestMapHandler_HandleFeatures(t *testing.T) {
	h := NewMapHandler(&fakeStore{state: sampleState()})
	w := serve(h.HandleFeatures, http.MethodGet, "/api/aircraft/features")

	if w.Code != http.StatusOK {
		t.Fatalf("StatusCode: got %v, want 200", w.Code)
	}
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatalf("failed to decode GeoJSON: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 positioned aircraft, got %d", len(fc.Features))
	}
	if got := fc.Features[0].Properties.MustString("hex"); got != "4CA87D" {
		t.Errorf("first feature hex = %s", got)
	}
}

func TestMapHandler_HandleFeatures_Filtered(t *testing.T) {
	h := NewMapHandler(&fakeStore{state: sampleState()})
	w := serve(h.HandleFeatures, http.MethodGet, "/api/aircraft/features?flight=dal44")

	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatalf("failed to decode GeoJSON: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	if got := fc.Features[0].Properties.MustString("hex"); got != "a1b2c3" {
		t.Errorf("feature hex = %s, want a1b2c3", got)
	}
}

func TestMapHandler_HandleDensity(t *testing.T) {
	h := NewMapHandler(&fakeStore{state: sampleState()})

	w := serve(h.HandleDensity, http.MethodGet, "/api/aircraft/density?res=3")
	if w.Code != http.StatusOK {
		t.Fatalf("StatusCode: got %v, want 200", w.Code)
	}
	var body struct {
		Resolution int `json:"resolution"`
		Cells      []struct {
			Cell  string `json:"cell"`
			Count int    `json:"count"`
		} `json:"cells"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if body.Resolution != 3 || len(body.Cells) != 2 {
		t.Errorf("unexpected density: %+v", body)
	}

	for _, target := range []string{"/api/aircraft/density?res=abc", "/api/aircraft/density?res=15"} {
		if w := serve(h.HandleDensity, http.MethodGet, target); w.Code != http.StatusBadRequest {
			t.Errorf("%s: StatusCode: got %v, want 400", target, w.Code)
		}
	}
}

func TestMapHandler_HandleAirspace(t *testing.T) {
	st := sampleState()
	st.AirspaceData = nil
	h := NewMapHandler(&fakeStore{state: st})

	w := serve(h.HandleAirspace, http.MethodGet, "/api/airspace")
	if w.Code != http.StatusOK {
		t.Fatalf("StatusCode: got %v, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"FeatureCollection"`) {
		t.Errorf("expected an empty feature collection, got %s", w.Body.String())
	}
}

func TestMapHandler_HandleToggle(t *testing.T) {
	store := &fakeStore{state: sampleState()}
	srv := httptest.NewServer(NewServer("", NewMapHandler(store), NewStatsHandler(nil, nil), nil, nil, func() {}).Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/layers/as/toggle", "application/json", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode: got %v, want 200", resp.StatusCode)
	}
	var entry model.LayerEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if entry.Layer.ID != "as" || !entry.Layer.IsVisible || entry.Layer.ZIndex != 5 {
		t.Errorf("unexpected toggled layer: %+v", entry.Layer)
	}

	missing, err := http.Post(srv.URL+"/api/layers/nope/toggle", "application/json", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode: got %v, want 404", missing.StatusCode)
	}
}

func TestMapHandler_HandleRefresh(t *testing.T) {
	tests := []struct {
		name           string
		refreshErr     error
		expectedStatus int
	}{
		{"Success", nil, http.StatusOK},
		{"ReloadFailedStillReportsState", errors.New("map reload: panic"), http.StatusOK},
		{"Stopped", mapstate.ErrStopped, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{state: sampleState(), refreshErr: tt.refreshErr}
			h := NewMapHandler(store)
			w := serve(h.HandleRefresh, http.MethodPost, "/api/refresh")

			if w.Code != tt.expectedStatus {
				t.Fatalf("StatusCode: got %v, want %v", w.Code, tt.expectedStatus)
			}
			if store.refreshed != 1 {
				t.Errorf("expected one refresh, got %d", store.refreshed)
			}
		})
	}
}

func TestServer_HealthAndVersion(t *testing.T) {
	srv := httptest.NewServer(NewServer("", NewMapHandler(&fakeStore{}), NewStatsHandler(nil, nil), nil, nil, func() {}).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: got %v, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var v map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if !strings.HasPrefix(v["version"], "v") {
		t.Errorf("unexpected version: %v", v)
	}

	// Snapshots are not mounted without a store.
	resp, err = http.Get(srv.URL + "/api/snapshots")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("snapshots: got %v, want 404", resp.StatusCode)
	}
}

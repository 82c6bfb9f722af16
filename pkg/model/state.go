package model

import (
	"slices"
	"time"

	"github.com/paulmach/orb/geojson"
)

// AirspaceData is the airspace geometry, loaded wholesale and never partially merged.
type AirspaceData = *geojson.FeatureCollection

// EmptyAirspace returns a valid, empty feature collection.
func EmptyAirspace() AirspaceData {
	return geojson.NewFeatureCollection()
}

// Status is the lifecycle state of the map store.
type Status string

const (
	StatusInit    Status = "INIT"
	StatusLoading Status = "LOADING"
	StatusReady   Status = "READY"
	StatusError   Status = "ERROR"
)

// LastUpdate records when each resource was last committed. Nil means never.
type LastUpdate struct {
	Layers   *time.Time `json:"layers,omitempty"`
	Aircraft *time.Time `json:"aircraft,omitempty"`
	Airspace *time.Time `json:"airspace,omitempty"`
}

// MapState is the canonical state owned by the map store.
type MapState struct {
	Layers         []LayerEntry     `json:"layers"`
	ActiveAircraft []AircraftRecord `json:"active_aircraft"`
	AirspaceData   AirspaceData     `json:"airspace_data"`
	Loading        bool             `json:"loading"`
	Error          string           `json:"error,omitempty"`
	Status         Status           `json:"status"`
	LastUpdate     LastUpdate       `json:"last_update"`
	Revision       uint64           `json:"revision"`
}

// Clone returns a copy whose slices can be handed to readers.
// Airspace geometry is shared; it is replaced, never mutated.
func (s *MapState) Clone() MapState {
	c := *s
	c.Layers = slices.Clone(s.Layers)
	c.ActiveAircraft = slices.Clone(s.ActiveAircraft)
	return c
}

// AirspaceFeatureCount returns the number of airspace features, 0 when none are loaded.
func (s *MapState) AirspaceFeatureCount() int {
	if s.AirspaceData == nil {
		return 0
	}
	return len(s.AirspaceData.Features)
}

// VisibleLayer identifies a visible layer in a StateSnapshot.
type VisibleLayer struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Type LayerType `json:"type"`
}

// StateSnapshot is a compact summary of a MapState for debugging and history.
type StateSnapshot struct {
	Timestamp            time.Time      `json:"timestamp"`
	Revision             uint64         `json:"revision"`
	Status               Status         `json:"status"`
	LayerCount           int            `json:"layer_count"`
	AircraftCount        int            `json:"aircraft_count"`
	HasAirspaceData      bool           `json:"has_airspace_data"`
	AirspaceFeatureCount int            `json:"airspace_feature_count"`
	Loading              bool           `json:"loading"`
	HasError             bool           `json:"has_error"`
	Error                string         `json:"error,omitempty"`
	VisibleLayers        []VisibleLayer `json:"visible_layers"`
}

// Snapshot summarizes the state at time now.
func (s *MapState) Snapshot(now time.Time) StateSnapshot {
	snap := StateSnapshot{
		Timestamp:            now,
		Revision:             s.Revision,
		Status:               s.Status,
		LayerCount:           len(s.Layers),
		AircraftCount:        len(s.ActiveAircraft),
		HasAirspaceData:      s.AirspaceData != nil,
		AirspaceFeatureCount: s.AirspaceFeatureCount(),
		Loading:              s.Loading,
		HasError:             s.Error != "",
		Error:                s.Error,
		VisibleLayers:        []VisibleLayer{},
	}
	for _, e := range s.Layers {
		if e.Layer.IsVisible {
			snap.VisibleLayers = append(snap.VisibleLayers, VisibleLayer{
				ID:   e.Layer.ID,
				Name: e.Layer.Name,
				Type: e.Layer.LayerType,
			})
		}
	}
	return snap
}

package model

import (
	"encoding/json"
)

// LayerType identifies what a map layer renders.
// Values outside the known set are kept as-is and rendered with generic styling.
type LayerType string

const (
	LayerAircraft LayerType = "aircraft"
	LayerAirspace LayerType = "airspace"
	LayerWeather  LayerType = "weather"
	LayerTerrain  LayerType = "terrain"
)

// Known reports whether t is one of the supported layer types.
func (t LayerType) Known() bool {
	switch t {
	case LayerAircraft, LayerAirspace, LayerWeather, LayerTerrain:
		return true
	}
	return false
}

// RenderClass returns the styling class the renderer should use for t.
func (t LayerType) RenderClass() string {
	if t.Known() {
		return string(t)
	}
	return "generic"
}

// Layer is a named, toggleable visual category as served by the map-layers endpoint.
type Layer struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id,omitempty"`
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	LayerType    LayerType       `json:"layer_type"`
	DataSourceID *string         `json:"data_source_id,omitempty"`
	StyleConfig  json.RawMessage `json:"style_config,omitempty"`
	IsVisible    bool            `json:"is_visible"`
	IsActive     bool            `json:"is_active"`
	ZIndex       int             `json:"z_index"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// LayerEntry wraps a Layer with its per-entry fetch status.
type LayerEntry struct {
	Layer   Layer           `json:"layer"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"` // reserved for layer-specific payload
}

// FindLayer returns the index of the entry with the given layer id, or -1.
func FindLayer(entries []LayerEntry, id string) int {
	for i := range entries {
		if entries[i].Layer.ID == id {
			return i
		}
	}
	return -1
}

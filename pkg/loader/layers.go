package loader

import (
	"log/slog"
	"time"

	"airmap/pkg/model"
)

// DefaultAircraftLayerID is the id of the synthetic aircraft layer.
const DefaultAircraftLayerID = "default-aircraft"

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// DefaultAircraftLayer returns the synthetic aircraft layer used when the
// backend does not configure one, stamped with now.
func DefaultAircraftLayer(now time.Time) model.LayerEntry {
	desc := "Live aircraft tracking data"
	ts := now.UTC().Format(isoMillis)
	return model.LayerEntry{
		Layer: model.Layer{
			ID:          DefaultAircraftLayerID,
			TenantID:    "default",
			Name:        "Aircraft",
			Description: &desc,
			LayerType:   model.LayerAircraft,
			IsVisible:   true,
			IsActive:    true,
			ZIndex:      10,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		},
	}
}

// EnsureRequiredLayers wraps layers as idle entries and guarantees exactly one
// aircraft layer. A missing one is synthesized at the head; extra aircraft
// layers after the first are dropped.
func EnsureRequiredLayers(layers []model.Layer, now time.Time) []model.LayerEntry {
	entries := make([]model.LayerEntry, 0, len(layers)+1)
	hasAircraft := false
	for _, l := range layers {
		if l.LayerType == model.LayerAircraft {
			if hasAircraft {
				slog.Warn("Duplicate aircraft layer dropped", "component", "loader", "layer_id", l.ID)
				continue
			}
			hasAircraft = true
		}
		entries = append(entries, model.LayerEntry{Layer: l})
	}

	if !hasAircraft {
		slog.Debug("No aircraft layer found, adding default", "component", "loader")
		entries = append([]model.LayerEntry{DefaultAircraftLayer(now)}, entries...)
	}
	return entries
}

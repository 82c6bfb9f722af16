package feature

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"airmap/pkg/model"
)

// UnknownFlight is shown for aircraft that did not report a callsign.
const UnknownFlight = "Unknown"

// Validate reports whether a record has a usable position.
func Validate(r *model.AircraftRecord) bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return math.Abs(*r.Latitude) <= 90 && math.Abs(*r.Longitude) <= 180
}

// Altitude returns the best available altitude in feet, or nil.
// Barometric wins over geometric; raw receiver payloads are the last resort.
func Altitude(r *model.AircraftRecord) *float64 {
	if r.AltitudeBaro != nil {
		return r.AltitudeBaro
	}
	if r.AltitudeGeom != nil {
		return r.AltitudeGeom
	}
	if v, ok := numberProp(r.RawData, "altitude_baro"); ok {
		return &v
	}
	if nested, ok := r.RawData["raw_data"].(map[string]any); ok {
		if v, ok := numberProp(nested, "alt_baro"); ok {
			return &v
		}
	}
	return nil
}

// ToFeature derives the renderable feature for r. It returns false when r fails Validate.
func ToFeature(r *model.AircraftRecord) (model.AircraftFeature, bool) {
	if !Validate(r) {
		return model.AircraftFeature{}, false
	}

	alt := Altitude(r)
	flight := r.Flight
	if flight == "" {
		flight = UnknownFlight
	}
	emergency := r.Emergency
	if emergency == "" {
		emergency = EmergencyNone
	}

	return model.AircraftFeature{
		ID:            r.ID,
		Hex:           r.Hex,
		Flight:        flight,
		Registration:  r.Registration,
		AircraftType:  r.AircraftTypeCode,
		Position:      orb.Point{*r.Longitude, *r.Latitude},
		Altitude:      alt,
		Speed:         r.GroundSpeed,
		Track:         r.Track,
		TrueHeading:   r.TrueHeading,
		Squawk:        r.Squawk,
		Emergency:     emergency,
		Category:      r.Category,
		EmergencyFlag: IsEmergency(r.Emergency),
		IconType:      Classify(r.AircraftTypeCode, r.Category),
		IconColor:     ColorFor(r.Emergency, alt),
		IconSize:      SizeFor(r.Emergency, alt),
		IconRotation:  RotationFor(r.Track, r.TrueHeading),
	}, true
}

// ToFeatures derives features for every valid record, preserving order.
// The second return value counts the records that were skipped.
func ToFeatures(records []model.AircraftRecord) ([]model.AircraftFeature, int) {
	out := make([]model.AircraftFeature, 0, len(records))
	skipped := 0
	for i := range records {
		f, ok := ToFeature(&records[i])
		if !ok {
			skipped++
			continue
		}
		out = append(out, f)
	}
	return out, skipped
}

// Collection converts features into a GeoJSON point collection for the map renderer.
func Collection(features []model.AircraftFeature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range features {
		f := &features[i]
		gf := geojson.NewFeature(f.Position)
		gf.ID = f.ID
		gf.Properties = geojson.Properties{
			"id":            f.ID,
			"hex":           f.Hex,
			"flight":        f.Flight,
			"registration":  f.Registration,
			"aircraft_type": f.AircraftType,
			"squawk":        f.Squawk,
			"emergency":     f.Emergency,
			"category":      f.Category,
			"icon_type":     string(f.IconType),
			"icon_color":    f.IconColor,
			"icon_size":     f.IconSize,
			"icon_rotation": f.IconRotation,
			"is_emergency":  f.EmergencyFlag,
		}
		setOptional(gf.Properties, "altitude", f.Altitude)
		setOptional(gf.Properties, "speed", f.Speed)
		setOptional(gf.Properties, "track", f.Track)
		setOptional(gf.Properties, "true_heading", f.TrueHeading)
		fc.Append(gf)
	}
	return fc
}

func setOptional(props geojson.Properties, key string, v *float64) {
	if v != nil {
		props[key] = *v
	}
}

func numberProp(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

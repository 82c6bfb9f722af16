package model

import (
	"github.com/paulmach/orb"
)

// AircraftRecord is a raw telemetry snapshot for one tracked aircraft.
// Optional numeric fields are nil when the receiver did not report them.
type AircraftRecord struct {
	ID               string `json:"id"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
	TenantID         string `json:"tenant_id,omitempty"`
	Hex              string `json:"hex"`
	Type             string `json:"type,omitempty"` // adsb_icao, mode_s, tisb, mlat
	Flight           string `json:"flight,omitempty"`
	Registration     string `json:"registration,omitempty"`
	AircraftTypeCode string `json:"aircraft_type_code,omitempty"`
	DBFlags          *int   `json:"db_flags,omitempty"`
	Squawk           string `json:"squawk,omitempty"`
	Emergency        string `json:"emergency,omitempty"`
	Category         string `json:"category,omitempty"`

	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	AltitudeBaro *float64 `json:"altitude_baro,omitempty"`
	AltitudeGeom *float64 `json:"altitude_geom,omitempty"`
	GroundSpeed  *float64 `json:"ground_speed,omitempty"`
	Track        *float64 `json:"track,omitempty"`
	TrueHeading  *float64 `json:"true_heading,omitempty"`
	VerticalRate *float64 `json:"vertical_rate,omitempty"`

	NIC     *int     `json:"nic,omitempty"`
	NACp    *int     `json:"nac_p,omitempty"`
	NACv    *int     `json:"nac_v,omitempty"`
	SIL     *int     `json:"sil,omitempty"`
	SILType string   `json:"sil_type,omitempty"`
	SDA     *int     `json:"sda,omitempty"`
	Seen    *float64 `json:"seen,omitempty"`
	SeenPos *float64 `json:"seen_pos,omitempty"`
	RSSI    *float64 `json:"rssi,omitempty"`

	Messages *int `json:"messages,omitempty"`

	RawData map[string]any `json:"raw_data,omitempty"`
}

// AircraftPage is the paginated aircraft listing returned by the remote service.
type AircraftPage struct {
	Aircraft []AircraftRecord `json:"aircraft"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Size     int              `json:"size"`
}

// IconType is the visual classification of an aircraft.
type IconType string

const (
	IconFixedWing  IconType = "fixed-wing"
	IconHelicopter IconType = "helicopter"
	IconMilitary   IconType = "military"
	IconFighter    IconType = "fighter"
	IconCargo      IconType = "cargo"
	IconDefault    IconType = "default"
)

// AircraftFeature is the renderable projection of an AircraftRecord.
// It is recomputed from the record on every state update and never stored.
type AircraftFeature struct {
	ID            string    `json:"id"`
	Hex           string    `json:"hex"`
	Flight        string    `json:"flight"`
	Registration  string    `json:"registration,omitempty"`
	AircraftType  string    `json:"aircraft_type,omitempty"`
	Position      orb.Point `json:"position"` // lon, lat
	Altitude      *float64  `json:"altitude,omitempty"`
	Speed         *float64  `json:"speed,omitempty"`
	Track         *float64  `json:"track,omitempty"`
	TrueHeading   *float64  `json:"true_heading,omitempty"`
	Squawk        string    `json:"squawk,omitempty"`
	Emergency     string    `json:"emergency"`
	Category      string    `json:"category,omitempty"`
	EmergencyFlag bool      `json:"is_emergency"`
	IconType      IconType  `json:"icon_type"`
	IconColor     string    `json:"icon_color"`
	IconSize      float64   `json:"icon_size"`
	IconRotation  float64   `json:"icon_rotation"`
}

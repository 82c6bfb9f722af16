package feature

// Icon colors.
const (
	ColorEmergency = "#FF0000"
	ColorUnknown   = "#888888"
	ColorLow       = "#00FF00" // < 1,000 ft
	ColorMedium    = "#FFFF00" // < 10,000 ft
	ColorHigh      = "#FF8800" // < 30,000 ft
	ColorVeryHigh  = "#0088FF"
)

// Icon scales. Higher aircraft draw smaller.
const (
	SizeEmergency = 1.5
	SizeUnknown   = 1.0
	SizeLow       = 1.2
	SizeMedium    = 1.1
	SizeHigh      = 1.0
	SizeVeryHigh  = 0.9
)

// Altitude band upper bounds in feet.
const (
	bandLow    = 1000
	bandMedium = 10000
	bandHigh   = 30000
)

// EmergencyNone is the emergency value reported for aircraft without an emergency.
const EmergencyNone = "none"

// IsEmergency reports whether an emergency value denotes an active emergency.
func IsEmergency(emergency string) bool {
	return emergency != "" && emergency != EmergencyNone
}

// ColorFor returns the icon color for an aircraft.
func ColorFor(emergency string, altitude *float64) string {
	if IsEmergency(emergency) {
		return ColorEmergency
	}
	if altitude == nil {
		return ColorUnknown
	}
	switch alt := *altitude; {
	case alt < bandLow:
		return ColorLow
	case alt < bandMedium:
		return ColorMedium
	case alt < bandHigh:
		return ColorHigh
	}
	return ColorVeryHigh
}

// SizeFor returns the icon scale for an aircraft.
func SizeFor(emergency string, altitude *float64) float64 {
	if IsEmergency(emergency) {
		return SizeEmergency
	}
	if altitude == nil {
		return SizeUnknown
	}
	switch alt := *altitude; {
	case alt < bandLow:
		return SizeLow
	case alt < bandMedium:
		return SizeMedium
	case alt < bandHigh:
		return SizeHigh
	}
	return SizeVeryHigh
}

// RotationFor returns the icon rotation in degrees: track, then true heading, then 0.
func RotationFor(track, trueHeading *float64) float64 {
	if track != nil {
		return *track
	}
	if trueHeading != nil {
		return *trueHeading
	}
	return 0
}

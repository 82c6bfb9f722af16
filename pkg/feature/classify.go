package feature

import (
	"strings"

	"airmap/pkg/model"
)

// Designator fragments, matched as lower-case substrings of the type code.
var (
	militaryMarkers   = []string{"f-", "f16", "f18", "f22", "f35", "a10", "b2", "b52", "c130", "kc", "e-", "p-"}
	helicopterMarkers = []string{"h60", "ec", "bell", "heli"}
	cargoMarkers      = []string{"c5", "c17", "c130", "cargo", "freight"}
)

// Classify maps an ICAO type code and ADS-B emitter category to an icon type.
// Rules are evaluated in order and the first match wins.
func Classify(typeCode, category string) model.IconType {
	if typeCode == "" && category == "" {
		return model.IconDefault
	}

	code := strings.ToLower(typeCode)
	cat := strings.ToLower(category)

	switch {
	case containsAny(code, militaryMarkers):
		return model.IconMilitary
	case strings.Contains(code, "fighter") || (strings.Contains(code, "jet") && strings.Contains(code, "mil")):
		return model.IconFighter
	case containsAny(code, helicopterMarkers) || cat == "h":
		return model.IconHelicopter
	case containsAny(code, cargoMarkers):
		return model.IconCargo
	}
	return model.IconFixedWing
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

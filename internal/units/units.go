// Package units provides shared constants and validation for length units
// used in refinement reports.
package units

import "strings"

// Unit constants
const (
	Metres = "m"
	Feet   = "ft"
	Km     = "km"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Metres, Feet, Km}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertLength converts a length in metres to the target units.
// Ground errors are always computed in metres.
func ConvertLength(metres float64, targetUnits string) float64 {
	switch targetUnits {
	case Feet:
		return metres / 0.3048
	case Km:
		return metres / 1000
	default:
		return metres
	}
}

// Label returns the long name of unit for report headings, "metres" for
// unknown units.
func Label(unit string) string {
	switch unit {
	case Feet:
		return "feet"
	case Km:
		return "kilometres"
	default:
		return "metres"
	}
}

// Package units provides shared constants and validation for magnetic field units
package units

// Unit constants
const (
	Microtesla = "ut"
	Milligauss = "mg"
	Gauss      = "gauss"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Microtesla, Milligauss, Gauss}

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
	return "ut, mg, gauss"
}

// ConvertField converts a field strength from microtesla to the target units.
// The sense board reports readings in microtesla (1 uT = 10 mG = 1e-4 G).
func ConvertField(fieldUT float64, targetUnits string) float64 {
	switch targetUnits {
	case Milligauss:
		return fieldUT * 10
	case Gauss:
		return fieldUT * 1e-4
	case Microtesla:
		return fieldUT // no conversion needed
	default:
		return fieldUT // default to microtesla if unknown unit
	}
}

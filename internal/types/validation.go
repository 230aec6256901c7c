package types

import "fmt"

// Validation constraint constants.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0

	// MinCityQueryLength is the shortest accepted city search query.
	MinCityQueryLength = 2
)

// ValidateCoordinates checks that lat/lon fall inside the WGS84 ranges.
func ValidateCoordinates(lat, lon float64) error {
	if lat < MinLat || lat > MaxLat {
		return NewAppError(ErrCodeValidationInvalidLat,
			fmt.Sprintf("lat must be between %.0f and %.0f", MinLat, MaxLat), nil)
	}
	if lon < MinLon || lon > MaxLon {
		return NewAppError(ErrCodeValidationInvalidLon,
			fmt.Sprintf("lon must be between %.0f and %.0f", MinLon, MaxLon), nil)
	}
	return nil
}

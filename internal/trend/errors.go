package trend

import "errors"

var (
	// ErrUnknownCity is returned when a city is not in the registry.
	ErrUnknownCity = errors.New("unknown city")

	// ErrUnknownDisease marks a disease label outside KnownDiseases. It is informational:
	// lookups proceed with any label.
	ErrUnknownDisease = errors.New("unknown disease")

	// ErrEmptySeries is returned when a forecast is requested for a series without points.
	ErrEmptySeries = errors.New("historical series has no points")
)

// KnownDiseases lists the labels the dashboard offers out of the box.
var KnownDiseases = []string{"dengue", "malaria", "flu", "covid-19", "cholera", "typhoid", "chikungunya", DefaultDisease}

// CheckDisease returns ErrUnknownDisease when disease (after normalization) is not in KnownDiseases.
func CheckDisease(disease string) error {
	d := NormalizeDisease(disease)
	for _, known := range KnownDiseases {
		if d == known {
			return nil
		}
	}
	return ErrUnknownDisease
}

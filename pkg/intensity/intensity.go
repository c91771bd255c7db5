// Package intensity estimates JMA-style seismic intensity (0-7) from
// magnitude and epicentral distance using an empirical attenuation model:
//
//	I = a*M - b*log10(D + c) + d
//
// with coefficients chosen per magnitude bracket.
package intensity

import "math"

// Estimate returns the integer intensity in [0,7] felt at distanceKm from
// an event of the given magnitude.
func Estimate(magnitude, distanceKm float64) int {
	if magnitude <= 0 || distanceKm < 0 {
		return 0
	}

	// Inside ~1 km the log model blows up; use a direct magnitude scaling.
	if distanceKm < 1 {
		return clampRound(magnitude*1.5 - 2.5)
	}

	var a, b, c, d float64
	switch {
	case magnitude >= 7.0:
		a, b, c, d = 2.0, 3.8, 10.0, -0.8
	case magnitude >= 6.0:
		a, b, c, d = 2.3, 3.7, 10.0, -1.0
	case magnitude >= 5.0:
		a, b, c, d = 2.5, 3.6, 10.0, -1.3
	default:
		a, b, c, d = 2.5, 3.8, 12.0, -1.2
	}

	return clampRound(a*magnitude - b*math.Log10(distanceKm+c) + d)
}

// Validate reports whether a threshold is a legal intensity value.
func Validate(intensity int) bool {
	return intensity >= 0 && intensity <= 7
}

func clampRound(v float64) int {
	v = math.Max(0, math.Min(7, v))
	return int(math.Round(v))
}

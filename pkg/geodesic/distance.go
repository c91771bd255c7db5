// Package geodesic computes surface distance on the WGS84 ellipsoid using
// the Vincenty inverse solution.
package geodesic

import "math"

// WGS84 ellipsoid parameters.
const (
	semiMajorAxis = 6378137.0          // equatorial radius (m)
	semiMinorAxis = 6356752.314245     // polar radius (m)
	flattening    = 1.0 / 298.257223563
)

const (
	convergenceTol = 1e-12 // lambda iteration tolerance (radians)
	coincidentEps  = 1e-24 // sin^2(sigma) threshold for degenerate separation
	maxIterations  = 100
)

// Distance returns the geodesic distance between two coordinates in
// kilometers. It reports false for out-of-range input and for antipodal
// pairs where the iteration does not converge.
//
// The formula is symmetric in its two endpoints.
func Distance(lat1, lon1, lat2, lon2 float64) (float64, bool) {
	if !ValidCoordinates(lat1, lon1) || !ValidCoordinates(lat2, lon2) {
		return 0, false
	}

	// Fast path for identical points, with antimeridian wrap on the
	// longitude delta.
	latDiff := math.Abs(lat1 - lat2)
	lonDiff := math.Abs(lon1 - lon2)
	if lonDiff > 180 {
		lonDiff = 360 - lonDiff
	}
	if latDiff < 1e-9 && lonDiff < 1e-9 {
		return 0, true
	}

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	l := (lon2 - lon1) * math.Pi / 180

	// Reduced latitudes.
	u1 := math.Atan((1 - flattening) * math.Tan(lat1Rad))
	u2 := math.Atan((1 - flattening) * math.Tan(lat2Rad))

	sinU1, cosU1 := math.Sincos(u1)
	sinU2, cosU2 := math.Sincos(u2)

	lambda := l
	var sinSigma, cosSigma, sigma, cosSqAlpha, cos2SigmaM float64

	converged := false
	for i := 0; i < maxIterations; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)

		term1 := cosU2 * sinLambda
		term2 := cosU1*sinU2 - sinU1*cosU2*cosLambda
		sinSqSigma := term1*term1 + term2*term2

		if sinSqSigma < coincidentEps {
			if lonDiff < 1e-6 {
				// Genuinely the same point.
				return 0, true
			}
			// Antipodal: angular separation degenerates without the
			// points being coincident.
			return 0, false
		}

		sinSigma = math.Sqrt(sinSqSigma)
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)

		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha = 1 - sinAlpha*sinAlpha

		if cosSqAlpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		} else {
			// Equatorial line.
			cos2SigmaM = 0
		}

		c := flattening / 16 * cosSqAlpha * (4 + flattening*(4-3*cosSqAlpha))
		cos2SigmaMSq := cos2SigmaM * cos2SigmaM

		lambdaNew := l + (1-c)*flattening*sinAlpha*
			(sigma+c*sinSigma*(cos2SigmaM+c*cosSigma*(-1+2*cos2SigmaMSq)))

		if math.Abs(lambdaNew-lambda) < convergenceTol {
			converged = true
			break
		}
		lambda = lambdaNew
	}
	if !converged {
		return 0, false
	}

	aSq := semiMajorAxis * semiMajorAxis
	bSq := semiMinorAxis * semiMinorAxis
	uSq := cosSqAlpha * (aSq - bSq) / bSq

	k1 := uSq * (-768 + uSq*(320-175*uSq))
	bigA := 1 + uSq/16384*(4096+k1)

	k2 := uSq * (-128 + uSq*(74-47*uSq))
	bigB := uSq / 1024 * (256 + k2)

	cos2SigmaMSq := cos2SigmaM * cos2SigmaM
	sinSigmaSq := sinSigma * sinSigma

	deltaSigma := bigB * sinSigma *
		(cos2SigmaM + 0.25*bigB*
			(cosSigma*(-1+2*cos2SigmaMSq)-
				bigB/6*cos2SigmaM*(-3+4*sinSigmaSq)*(-3+4*cos2SigmaMSq)))

	s := semiMinorAxis * bigA * (sigma - deltaSigma)

	return s / 1000, true
}

// ValidCoordinates reports whether lat/lon fall in [-90,90] x [-180,180].
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

package control

import "math"

// NormalizeDegrees maps d into (-180, 180].
func NormalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// HeadingError is the signed shortest turn from current to target, in
// [-180, 180).
func HeadingError(target, current float64) float64 {
	return floorMod(target-current+180, 360) - 180
}

func floorMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m < 0 {
		m += b
		// A tiny negative m rounds up to exactly b.
		if m >= b {
			m = 0
		}
	}
	return m
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

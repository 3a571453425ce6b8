package scripting

import "math"

// DefaultPunctureAperture is the cone opening recorded on a surviving
// slice when no script overrides it: 15 degrees.
const DefaultPunctureAperture = 15 * math.Pi / 180

// referenceFalloffLoss is the per-slice attenuation of the built-in area
// damage curve.
const referenceFalloffLoss = 0.3

// ReferenceFalloff is the built-in area attenuation curve,
// max(0, 1 - distance*0.3), with distance measured in slices.
func ReferenceFalloff(distance float64) float64 {
	f := 1 - distance*referenceFalloffLoss
	if f < 0 {
		return 0
	}
	return f
}

package stormpot

import "math/rand"

// jitterFraction returns a value in [0, 1) used to spread default TTLs
// across the 8–10 minute band (spec.md §6) so many pools started at the
// same instant don't re-allocate in lockstep.
func jitterFraction() float64 {
	return rand.Float64()
}

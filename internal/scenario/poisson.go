package scenario

import (
	"math"
	"math/rand"
)

// poisson draws a Poisson-distributed count. Knuth's product method
// covers the small-rate regime; larger rates use the normal
// approximation, which is within sampling noise for the bin sizes the
// generator works at.
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda < 30 {
		l := math.Exp(-lambda)
		k := 0
		p := 1.0
		for {
			k++
			p *= rng.Float64()
			if p <= l {
				return k - 1
			}
		}
	}
	n := int(math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64()))
	if n < 0 {
		return 0
	}
	return n
}

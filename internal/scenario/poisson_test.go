package scenario

import (
	"math"
	"math/rand"
	"testing"
)

func TestPoisson_NonPositiveRate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if got := poisson(rng, 0); got != 0 {
		t.Errorf("poisson(0) = %d", got)
	}
	if got := poisson(rng, -2); got != 0 {
		t.Errorf("poisson(-2) = %d", got)
	}
}

func TestPoisson_SmallRateMean(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const lambda = 2.5
	const n = 20000

	sum := 0
	for i := 0; i < n; i++ {
		sum += poisson(rng, lambda)
	}
	mean := float64(sum) / n
	// Sample mean of 20k draws sits well within 3 sigma of the rate.
	if math.Abs(mean-lambda) > 3*math.Sqrt(lambda/n) {
		t.Errorf("mean = %.4f, want about %.2f", mean, lambda)
	}
}

func TestPoisson_LargeRateMean(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const lambda = 80.0
	const n = 20000

	sum := 0
	for i := 0; i < n; i++ {
		v := poisson(rng, lambda)
		if v < 0 {
			t.Fatalf("negative draw %d", v)
		}
		sum += v
	}
	mean := float64(sum) / n
	if math.Abs(mean-lambda) > 3*math.Sqrt(lambda/n) {
		t.Errorf("mean = %.4f, want about %.2f", mean, lambda)
	}
}

func TestPoisson_TinyRateMostlyZero(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	zeros := 0
	for i := 0; i < 10000; i++ {
		if poisson(rng, 0.01) == 0 {
			zeros++
		}
	}
	// P(0) = e^-0.01 is about 99%.
	if zeros < 9800 {
		t.Errorf("only %d of 10000 draws were zero at rate 0.01", zeros)
	}
}

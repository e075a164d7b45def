package dist

import (
	"math"
	"math/rand"
)

// Normal is the Gaussian distribution with mean Mu and standard deviation Sigma.
type Normal struct {
	Mu, Sigma float64
}

// PDF implements Distribution.
func (n Normal) PDF(x float64) float64 {
	if n.Sigma <= 0 {
		return 0
	}

	z := (x - n.Mu) / n.Sigma

	return math.Exp(-0.5*z*z) / (n.Sigma * math.Sqrt(2*math.Pi))
}

// CDF implements Distribution.
func (n Normal) CDF(x float64) float64 {
	if n.Sigma <= 0 {
		if x < n.Mu {
			return 0
		}

		return 1
	}

	z := (x - n.Mu) / (n.Sigma * math.Sqrt2)

	return 0.5 * (1 + erf(z))
}

// PPF implements Distribution.
func (n Normal) PPF(q float64) float64 {
	if q <= 0 {
		return math.Inf(-1)
	}

	if q >= 1 {
		return math.Inf(1)
	}

	return n.Mu + n.Sigma*math.Sqrt2*erfInv(2*q-1)
}

// Stats implements Distribution.
func (n Normal) Stats() (mean, variance float64) {
	return n.Mu, n.Sigma * n.Sigma
}

// Expect implements Distribution.
func (n Normal) Expect(f func(float64) float64, lb, ub float64) float64 {
	return expectNumeric(n.PDF, f, lb, ub)
}

// RVS implements Distribution.
func (n Normal) RVS(count int, rng *rand.Rand) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = n.Mu + n.Sigma*rng.NormFloat64()
	}

	return out
}

// fitNormalMLE fits mean/variance by the sample mean and (biased) sample variance,
// which is exactly the MLE for a Gaussian.
func fitNormalMLE(data []float64) Normal {
	mean := sampleMean(data)
	variance := sampleMomentVariance(data, mean)

	sigma := math.Sqrt(variance)
	if sigma <= 0 {
		sigma = 1e-9
	}

	return Normal{Mu: mean, Sigma: sigma}
}

func sampleMean(data []float64) float64 {
	var sum float64
	for _, d := range data {
		sum += d
	}

	return sum / float64(len(data))
}

// sampleMomentVariance returns the MLE (population, divide-by-n) variance estimate.
func sampleMomentVariance(data []float64, mean float64) float64 {
	var sum float64
	for _, d := range data {
		diff := d - mean
		sum += diff * diff
	}

	return sum / float64(len(data))
}

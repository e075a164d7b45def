package dist

import "math/rand"

// Uniform is the continuous uniform distribution on [A, B].
type Uniform struct {
	A, B float64
}

// PDF implements Distribution.
func (u Uniform) PDF(x float64) float64 {
	if x < u.A || x > u.B || u.B <= u.A {
		return 0
	}

	return 1 / (u.B - u.A)
}

// CDF implements Distribution.
func (u Uniform) CDF(x float64) float64 {
	switch {
	case x < u.A:
		return 0
	case x > u.B:
		return 1
	case u.B <= u.A:
		return 1
	default:
		return (x - u.A) / (u.B - u.A)
	}
}

// PPF implements Distribution.
func (u Uniform) PPF(q float64) float64 {
	if q < 0 {
		q = 0
	}

	if q > 1 {
		q = 1
	}

	return u.A + q*(u.B-u.A)
}

// Stats implements Distribution.
func (u Uniform) Stats() (mean, variance float64) {
	mean = (u.A + u.B) / 2
	width := u.B - u.A
	variance = width * width / 12

	return mean, variance
}

// Expect implements Distribution.
func (u Uniform) Expect(f func(float64) float64, lb, ub float64) float64 {
	lo := max(u.A, lb)
	hi := min(u.B, ub)

	return expectNumeric(u.PDF, f, lo, hi)
}

// RVS implements Distribution.
func (u Uniform) RVS(n int, rng *rand.Rand) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = u.A + rng.Float64()*(u.B-u.A)
	}

	return out
}

// FitUniform covers the degenerate single-unique-value case: the distribution
// Uniform(0, v) is returned directly, without any MLE or KS scoring.
func FitUniform(v float64) Uniform {
	return Uniform{A: 0, B: v}
}

// fitUniformMLE fits Uniform(min(data), max(data)) by maximum likelihood, used as one
// of the four candidate families scored during normal (non-degenerate) estimation.
func fitUniformMLE(data []float64) Uniform {
	lo, hi := data[0], data[0]
	for _, d := range data[1:] {
		if d < lo {
			lo = d
		}

		if d > hi {
			hi = d
		}
	}

	if hi == lo {
		hi = lo + 1e-9
	}

	return Uniform{A: lo, B: hi}
}

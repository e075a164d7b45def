package dist

import (
	"errors"
	"math"
	"sort"
)

// ErrEstimationFailed is returned when every candidate family fails to fit with
// finite parameters.
var ErrEstimationFailed = errors.New("dist: estimation failed for all candidate families")

// candidate enumerates the fixed family order used for deterministic tie-breaking:
// uniform, normal, gamma, generalized-logistic.
type candidate struct {
	name string
	fit  func(data []float64) Distribution
}

var candidates = []candidate{
	{name: "uniform", fit: func(data []float64) Distribution { return fitUniformMLE(data) }},
	{name: "normal", fit: func(data []float64) Distribution { return fitNormalMLE(data) }},
	{name: "gamma", fit: func(data []float64) Distribution { return fitGammaMoM(data) }},
	{name: "genlogistic", fit: func(data []float64) Distribution { return fitGenLogistic(data) }},
}

// Fit selects the best-fitting distribution for data by fitting each family (uniform
// and normal by maximum likelihood, gamma by moments refined with Newton's method on
// the shape's likelihood equation, generalized logistic by the method of moments only)
// and scoring each with a one-sample Kolmogorov-Smirnov test, keeping the family with
// the largest p-value. Ties are broken by the fixed enumeration order above. The
// degenerate single-unique-value case returns Uniform(0, v) directly.
func Fit(data []float64) (Distribution, error) {
	if len(data) == 0 {
		return nil, ErrEstimationFailed
	}

	if uniqueCount(data) == 1 {
		return FitUniform(data[0]), nil
	}

	var (
		best      Distribution
		bestP     = -1.0
		anyFitted bool
	)

	for _, c := range candidates {
		fitted, ok := tryFit(c, data)
		if !ok {
			continue
		}

		anyFitted = true

		p := ksPValue(data, fitted)
		if p > bestP {
			bestP = p
			best = fitted
		}
	}

	if !anyFitted {
		return nil, ErrEstimationFailed
	}

	return best, nil
}

// tryFit guards a candidate family's fit against panics or non-finite parameters,
// since several families invert special functions that can diverge on pathological
// samples; a family that fails this way is simply excluded from scoring.
func tryFit(c candidate, data []float64) (dist Distribution, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	fitted := c.fit(data)
	if !finiteDistribution(fitted) {
		return nil, false
	}

	return fitted, true
}

func finiteDistribution(d Distribution) bool {
	switch v := d.(type) {
	case Uniform:
		return isFinite(v.A) && isFinite(v.B) && v.B > v.A
	case Normal:
		return isFinite(v.Mu) && isFinite(v.Sigma) && v.Sigma > 0
	case Gamma:
		return isFinite(v.K) && isFinite(v.Theta) && v.K > 0 && v.Theta > 0
	case GenLogistic:
		return isFinite(v.C) && isFinite(v.Loc) && isFinite(v.Scale) && v.C > 0 && v.Scale > 0
	default:
		return false
	}
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func uniqueCount(data []float64) int {
	seen := make(map[float64]struct{}, len(data))
	for _, d := range data {
		seen[d] = struct{}{}
	}

	return len(seen)
}

// PValue exposes the same Kolmogorov-Smirnov goodness-of-fit score Fit uses
// internally to pick a winning family, so callers (the metrics exporter in
// particular) can report how well the currently published distribution still
// explains the observed samples.
func PValue(data []float64, d Distribution) float64 {
	return ksPValue(data, d)
}

// ksPValue computes the one-sample Kolmogorov-Smirnov statistic of data against the
// fitted distribution's CDF, then converts it to a p-value via the asymptotic
// Kolmogorov distribution (the same approximation scipy.stats.kstest uses).
func ksPValue(data []float64, d Distribution) float64 {
	n := len(data)
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	var maxDiff float64

	for i, x := range sorted {
		cdf := d.CDF(x)
		upper := math.Abs(float64(i+1)/float64(n) - cdf)
		lower := math.Abs(float64(i)/float64(n) - cdf)

		if upper > maxDiff {
			maxDiff = upper
		}

		if lower > maxDiff {
			maxDiff = lower
		}
	}

	return kolmogorovSurvival(maxDiff, n)
}

// kolmogorovSurvival evaluates the asymptotic Kolmogorov distribution survival
// function Q_KS at the scaled statistic, using the standard Numerical-Recipes
// effective-sample-size correction (sqrt(n) + 0.12 + 0.11/sqrt(n)).
func kolmogorovSurvival(d float64, n int) float64 {
	if d <= 0 {
		return 1
	}

	sqrtN := math.Sqrt(float64(n))
	t := d * (sqrtN + 0.12 + 0.11/sqrtN)

	if t < 0.2 {
		return 1
	}

	const maxTerms = 100

	sum := 0.0
	sign := 1.0

	for k := 1; k <= maxTerms; k++ {
		term := sign * math.Exp(-2*float64(k)*float64(k)*t*t)
		sum += term

		if math.Abs(term) < 1e-12 {
			break
		}

		sign = -sign
	}

	p := 2 * sum
	if p < 0 {
		p = 0
	}

	if p > 1 {
		p = 1
	}

	return p
}

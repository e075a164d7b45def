package schedule

import (
	"rasc/pkg/dist"
)

// derivativeStep is the central-difference step used to approximate the fitted PDF's
// first derivative for the convexity check.
const derivativeStep = 1e-4

// ValidateSLO checks that the detection-delay SLO holds for schedule l under
// distribution d with dead-time window qw: the probability mass detected within qw
// of each poll must sum to at least slo - F(0).
func ValidateSLO(d dist.Distribution, l []float64, qw, slo float64) bool {
	if len(l) == 0 {
		return false
	}

	var (
		sum  float64
		prev float64
	)

	for _, li := range l {
		lower := prev
		if li-qw > lower {
			lower = li - qw
		}

		sum += d.CDF(li) - d.CDF(lower)
		prev = li
	}

	return sum >= slo-d.CDF(0)
}

// ExamineConvexity reports whether 2*f(l[i]) - (l[i+1]-l[i])*f'(l[i]) stays positive
// for every consecutive pair of poll times, where f is the fitted PDF and f' its
// numerical derivative. It only reports the result; it does not reject a schedule.
func ExamineConvexity(d dist.Distribution, l []float64) bool {
	for i := 0; i+1 < len(l); i++ {
		pdf := d.PDF(l[i])
		pdfPrime := pdfDerivative(d, l[i])
		gap := l[i+1] - l[i]

		if 2*pdf-gap*pdfPrime <= 0 {
			return false
		}
	}

	return true
}

func pdfDerivative(d dist.Distribution, x float64) float64 {
	hi := d.PDF(x + derivativeStep)
	lo := d.PDF(x - derivativeStep)

	return (hi - lo) / (2 * derivativeStep)
}

// ExpectedDelay computes the expected detection delay of schedule l under d: the
// probability-weighted poll time minus the distribution's true expected value over
// [0, L_n].
func ExpectedDelay(d dist.Distribution, l []float64) float64 {
	if len(l) == 0 {
		return 0
	}

	var (
		weighted float64
		prev     float64
	)

	for _, li := range l {
		weighted += li * (d.CDF(li) - d.CDF(prev))
		prev = li
	}

	upperBound := l[len(l)-1]
	trueExpectation := d.Expect(func(x float64) float64 { return x }, 0, upperBound)

	return weighted - trueExpectation
}

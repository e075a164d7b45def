package schedule

import (
	"errors"
	"math"

	"rasc/pkg/dist"
)

// ErrNoFeasibleL1 is returned when the binary search over L1 collapses without
// converging.
var ErrNoFeasibleL1 = errors.New("schedule: no feasible L1 found")

// ErrSLOInfeasible is returned when even N = ceil(U/Qw) cannot satisfy the SLO under
// the fitted distribution.
var ErrSLOInfeasible = errors.New("schedule: SLO infeasible for fitted distribution")

// recurrenceForN computes L for a fixed poll count n by binary-searching L1 in
// [0, upperBound] and propagating the recurrence forward from it.
func recurrenceForN(d dist.Distribution, n int, upperBound float64) ([]float64, error) {
	return recurrenceSearch(d, n, upperBound, 0, upperBound, 0)
}

const maxRecurrenceSearchDepth = 200

func recurrenceSearch(d dist.Distribution, n int, upperBound, left, right float64, depth int) ([]float64, error) {
	if depth > maxRecurrenceSearchDepth {
		return nil, ErrNoFeasibleL1
	}

	if left == right {
		return nil, ErrNoFeasibleL1
	}

	l := make([]float64, n+1)
	l[1] = (left + right) / 2

	tooLarge := -1

	for i := 2; i <= n; i++ {
		prev := l[i-1]

		pdf := d.PDF(prev)
		cdf := d.CDF(prev)

		if pdf == 0 && cdf == 0 {
			break
		}

		if pdf == 0 {
			tooLarge = i

			break
		}

		l[i] = prev + (d.CDF(prev)-d.CDF(l[i-2]))/pdf

		if l[i] > upperBound {
			tooLarge = i

			break
		}
	}

	if tooLarge == -1 && closeEnough(l[n], upperBound) {
		l[n] = upperBound

		return l[1:], nil
	}

	if tooLarge != -1 {
		return recurrenceSearch(d, n, upperBound, left, l[1], depth+1)
	}

	return recurrenceSearch(d, n, upperBound, l[1], right, depth+1)
}

// searchN performs the outer binary search over the number of polls N, using
// ValidateSLO as the feasibility oracle: on a valid N it narrows the right bound to
// N+1 hoping to shrink further; on an invalid N it raises the left bound to N+1,
// doubling the right bound once the window would otherwise collapse.
func searchN(
	d dist.Distribution,
	qw, slo, upperBound float64,
	build func(n int) ([]float64, error),
) ([]float64, error) {
	rightN := int(math.Ceil(upperBound / qw))
	if rightN < 1 {
		rightN = 1
	}

	return searchNStep(d, qw, slo, upperBound, build, 0, rightN, -1, 0)
}

const maxSearchNDepth = 200

func searchNStep(
	d dist.Distribution,
	qw, slo, upperBound float64,
	build func(n int) ([]float64, error),
	leftN, rightN, lastN, depth int,
) ([]float64, error) {
	if depth > maxSearchNDepth {
		return nil, ErrSLOInfeasible
	}

	n := leftN + (rightN-leftN)/2
	if n < 1 {
		n = 1
	}

	l, err := build(n)
	if err != nil {
		return searchNStep(d, qw, slo, upperBound, build, leftN, n+1, n, depth+1)
	}

	valid := ValidateSLO(d, l, qw, slo)

	if leftN == rightN || lastN == n {
		if !valid {
			return nil, ErrSLOInfeasible
		}

		return l, nil
	}

	if valid {
		return searchNStep(d, qw, slo, upperBound, build, leftN, n+1, n, depth+1)
	}

	if n+1 >= rightN {
		return searchNStep(d, qw, slo, upperBound, build, n+1, rightN*2, n, depth+1)
	}

	return searchNStep(d, qw, slo, upperBound, build, n+1, rightN, n, depth+1)
}

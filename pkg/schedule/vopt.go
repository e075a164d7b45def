package schedule

import (
	"errors"
	"math"

	"rasc/pkg/dist"
)

// ErrVOptFailed is returned when the V-optimal DP cannot reach the final grid point
// with exactly n segments.
var ErrVOptFailed = errors.New("schedule: v-optimal DP failed to segment the grid")

// gridPointsPerUnit is the V-optimal discretization density (M = 100*U).
const gridPointsPerUnit = 100

// vOptimalForN computes L for a fixed poll count n via a dynamic-programming
// segmentation of the fitted density's cumulative mass and moment curves.
func vOptimalForN(d dist.Distribution, n int, upperBound float64) ([]float64, error) {
	gridSize := int(gridPointsPerUnit * upperBound)
	if gridSize < n+1 {
		gridSize = n + 1
	}

	x := linspace(0, upperBound, gridSize)
	f := make([]float64, gridSize)

	var mass float64

	for i, xi := range x {
		f[i] = d.PDF(xi)
	}

	mass = trapz(f, x)
	if mass <= 0 {
		return nil, ErrVOptFailed
	}

	for i := range f {
		f[i] /= mass
	}

	cumF := cumtrapz(f, x)
	lastF := cumF[len(cumF)-1]

	if lastF <= 0 {
		return nil, ErrVOptFailed
	}

	for i := range cumF {
		cumF[i] /= lastF
	}

	tf := make([]float64, gridSize)
	for i := range tf {
		tf[i] = x[i] * f[i]
	}

	cumM := cumtrapz(tf, x)

	return vOptDP(x, cumF, cumM, n)
}

func linspace(start, stop float64, n int) []float64 {
	if n <= 1 {
		return []float64{stop}
	}

	out := make([]float64, n)
	step := (stop - start) / float64(n-1)

	for i := range out {
		out[i] = start + float64(i)*step
	}

	out[n-1] = stop

	return out
}

func trapz(y, x []float64) float64 {
	var sum float64
	for i := 1; i < len(y); i++ {
		sum += 0.5 * (y[i] + y[i-1]) * (x[i] - x[i-1])
	}

	return sum
}

func cumtrapz(y, x []float64) []float64 {
	out := make([]float64, len(y))
	for i := 1; i < len(y); i++ {
		out[i] = out[i-1] + 0.5*(y[i]+y[i-1])*(x[i]-x[i-1])
	}

	return out
}

const infCost = 1e300

// vOptDP runs the O(N*M^2) dynamic program and backtracks the cut points.
func vOptDP(x, cumF, cumM []float64, n int) ([]float64, error) {
	gridSize := len(x)

	dp := make([][]float64, n+1)
	prev := make([][]int, n+1)

	for m := range dp {
		dp[m] = make([]float64, gridSize)
		prev[m] = make([]int, gridSize)

		for j := range dp[m] {
			dp[m][j] = infCost
			prev[m][j] = -1
		}
	}

	dp[0][0] = 0

	for m := 1; m <= n; m++ {
		for j := m; j < gridSize; j++ {
			bestCost := infCost
			bestI := -1

			fj, mj, xj := cumF[j], cumM[j], x[j]

			for i := m - 1; i < j; i++ {
				if dp[m-1][i] >= infCost {
					continue
				}

				segProb := fj - cumF[i]
				segMoment := mj - cumM[i]
				cost := xj*segProb - segMoment
				cand := dp[m-1][i] + cost

				if cand < bestCost {
					bestCost = cand
					bestI = i
				}
			}

			dp[m][j] = bestCost
			prev[m][j] = bestI
		}
	}

	last := gridSize - 1
	if !isFiniteCost(dp[n][last]) {
		return nil, ErrVOptFailed
	}

	cuts := make([]int, 0, n+1)

	m, j := n, last
	for m > 0 {
		i := prev[m][j]
		if i < 0 {
			return nil, ErrVOptFailed
		}

		cuts = append(cuts, j)
		j = i
		m--
	}

	cuts = append(cuts, 0)

	// cuts were collected from the end backward; reverse in place.
	for i, k := 0, len(cuts)-1; i < k; i, k = i+1, k-1 {
		cuts[i], cuts[k] = cuts[k], cuts[i]
	}

	polls := make([]float64, 0, n)
	for _, idx := range cuts[1:] {
		polls = append(polls, x[idx])
	}

	return polls, nil
}

func isFiniteCost(v float64) bool {
	return v < infCost && !math.IsInf(v, 0) && !math.IsNaN(v)
}

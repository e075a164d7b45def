package schedule

import (
	"context"
	"math"
	"sort"
	"testing"

	"go.uber.org/zap"

	"rasc/pkg/dist"
	"rasc/pkg/workerpool"
)

func newPool(t *testing.T) (*workerpool.Pool, context.Context) {
	t.Helper()

	pool, err := workerpool.New(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pool.Start(ctx)

	return pool, ctx
}

func isMonotonic(l []float64) bool {
	return sort.SliceIsSorted(l, func(i, j int) bool { return l[i] < l[j] })
}

func TestUniformScheduleIsMonotonicAndBounded(t *testing.T) {
	t.Parallel()

	l := UniformSchedule(2, 10)

	if !isMonotonic(l) {
		t.Fatalf("expected monotonic schedule, got %v", l)
	}

	if !closeEnough(l[len(l)-1], 10) {
		t.Fatalf("expected last poll near upper bound, got %v", l[len(l)-1])
	}

	for _, v := range l {
		if v > 10+1e-6 {
			t.Fatalf("poll %v exceeds upper bound", v)
		}
	}
}

func TestUniformScheduleDegenerateBelowStep(t *testing.T) {
	t.Parallel()

	l := UniformSchedule(5, 2)
	if len(l) != 1 || l[0] != 2 {
		t.Fatalf("expected single poll at upper bound, got %v", l)
	}
}

func TestApplyRateLimitEnforcesMinimumGap(t *testing.T) {
	t.Parallel()

	l := []float64{1, 1.2, 1.3, 5, 5.05}
	limited := applyRateLimit(l, 1)

	for i := 1; i < len(limited); i++ {
		if limited[i]-limited[i-1] < 1-1e-9 {
			t.Fatalf("gap at %d below rate limit: %v", i, limited)
		}
	}

	if !isMonotonic(limited) {
		t.Fatalf("expected monotonic schedule after rate limiting, got %v", limited)
	}
}

func TestValidateSLOAcceptsFullCoverageSchedule(t *testing.T) {
	t.Parallel()

	d := dist.Normal{Mu: 10, Sigma: 2}
	l := UniformSchedule(0.01, 30)

	if !ValidateSLO(d, l, 0.5, 0.99) {
		t.Fatal("expected dense uniform schedule to satisfy a loose SLO")
	}
}

func TestValidateSLORejectsSparseSchedule(t *testing.T) {
	t.Parallel()

	d := dist.Normal{Mu: 10, Sigma: 2}
	l := []float64{30}

	if ValidateSLO(d, l, 0.1, 0.99) {
		t.Fatal("expected a single distant poll to fail a tight SLO")
	}
}

func TestExpectedDelayNonNegativeForIncreasingSchedule(t *testing.T) {
	t.Parallel()

	d := dist.Gamma{K: 4, Theta: 2}
	l := UniformSchedule(0.5, 20)

	if ExpectedDelay(d, l) < -1e-6 {
		t.Fatalf("expected non-negative delay for dense schedule, got %v", ExpectedDelay(d, l))
	}
}

func TestSynthesizeProducesMonotonicScheduleWithinBounds(t *testing.T) {
	t.Parallel()

	pool, ctx := newPool(t)
	d := dist.Gamma{K: 4, Theta: 2}

	sched, err := Synthesize(ctx, pool, zap.NewNop(), d, 1, 0.9, Options{Mode: Recurrence})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !isMonotonic(sched.L) {
		t.Fatalf("expected monotonic schedule, got %v", sched.L)
	}

	for _, v := range sched.L {
		if v > sched.UpperBound+1e-6 {
			t.Fatalf("poll %v exceeds upper bound %v", v, sched.UpperBound)
		}
	}
}

func TestSynthesizeFallsBackWhenSLOInfeasible(t *testing.T) {
	t.Parallel()

	pool, ctx := newPool(t)
	d := dist.Uniform{A: 0, B: 1}

	sched, err := Synthesize(ctx, pool, zap.NewNop(), d, 0.5, 0.999999, Options{
		Mode:       Recurrence,
		UpperBound: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !sched.Fallback {
		t.Fatal("expected fallback schedule for an infeasible SLO")
	}

	if len(sched.L) == 0 {
		t.Fatal("expected fallback to still produce a non-empty schedule")
	}
}

func TestSynthesizeIsIdempotentForFixedN(t *testing.T) {
	t.Parallel()

	pool, ctx := newPool(t)
	d := dist.Gamma{K: 4, Theta: 2}

	opts := Options{Mode: Recurrence, N: 5, UpperBound: 20}

	first, err := Synthesize(ctx, pool, zap.NewNop(), d, 1, 0.9, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := Synthesize(ctx, pool, zap.NewNop(), d, 1, 0.9, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first.L) != len(second.L) {
		t.Fatalf("expected identical schedule lengths, got %d and %d", len(first.L), len(second.L))
	}

	for i := range first.L {
		if !closeEnough(first.L[i], second.L[i]) {
			t.Fatalf("expected idempotent synthesis, got %v and %v", first.L, second.L)
		}
	}
}

func TestVOptimalModeProducesBoundedSchedule(t *testing.T) {
	t.Parallel()

	pool, ctx := newPool(t)
	d := dist.Gamma{K: 4, Theta: 2}

	sched, err := Synthesize(ctx, pool, zap.NewNop(), d, 1, 0.9, Options{Mode: VOptimal, N: 6, UpperBound: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sched.L) != 6 {
		t.Fatalf("expected 6 polls, got %d", len(sched.L))
	}

	if !isMonotonic(sched.L) {
		t.Fatalf("expected monotonic schedule, got %v", sched.L)
	}
}

func TestSynthesizeReturnsZeroScheduleForNaNUpperBound(t *testing.T) {
	t.Parallel()

	pool, ctx := newPool(t)
	d := dist.Normal{Mu: 0, Sigma: math.NaN()}

	sched, err := Synthesize(ctx, pool, zap.NewNop(), d, 1, 0.9, Options{Mode: Recurrence})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sched.L) != 1 || sched.L[0] != 0 {
		t.Fatalf("expected [0.0] for a pathological fit, got %v", sched.L)
	}

	if !sched.Fallback {
		t.Fatal("expected the NaN-upper-bound schedule to be marked as a fallback")
	}
}

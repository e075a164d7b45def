package schedule

import (
	"context"
	"math"

	"go.uber.org/zap"

	"rasc/pkg/dist"
	"rasc/pkg/workerpool"
)

// Synthesize builds a poll Schedule for d under dead-time window qw and detection SLO
// slo, searching for the smallest feasible poll count unless opts.N pins one.
//
// Synthesis runs on pool so a slow search never blocks the caller's event loop; if it
// does not return within MaxScheduleTime, Synthesize abandons it and returns a uniform
// fallback schedule instead. The same fallback covers ErrNoFeasibleL1 and
// ErrSLOInfeasible: an SLO that cannot be met exactly still needs *a* schedule, just not
// a silent one, so Fallback is set and callers are expected to log/alert on it.
func Synthesize(ctx context.Context, pool *workerpool.Pool, log *zap.Logger, d dist.Distribution, qw, slo float64, opts Options) (Schedule, error) {
	upperBound := effectiveUpperBound(d, opts.UpperBound)

	if math.IsNaN(upperBound) {
		return Schedule{L: []float64{0}, Qw: qw, SLO: slo, RateLimit: opts.RateLimit, UpperBound: upperBound, Mode: opts.Mode, Fallback: true}, nil
	}

	deadline, cancel := context.WithTimeout(ctx, MaxScheduleTime)
	defer cancel()

	resultCh := pool.Submit(deadline, func(ctx context.Context) (any, error) {
		return synthesizeSync(d, qw, slo, upperBound, opts)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return fallback(d, qw, upperBound, opts, log, res.Err), nil
		}

		l := res.Value.([]float64)

		return finish(l, qw, slo, upperBound, opts, false), nil
	case <-deadline.Done():
		return fallback(d, qw, upperBound, opts, log, deadline.Err()), nil
	}
}

func synthesizeSync(d dist.Distribution, qw, slo, upperBound float64, opts Options) ([]float64, error) {
	build := func(n int) ([]float64, error) {
		if opts.Mode == VOptimal {
			return vOptimalForN(d, n, upperBound)
		}

		return recurrenceForN(d, n, upperBound)
	}

	if opts.N > 0 {
		return build(opts.N)
	}

	return searchN(d, qw, slo, upperBound, build)
}

func finish(l []float64, qw, slo, upperBound float64, opts Options, isFallback bool) Schedule {
	if opts.RateLimit > 0 {
		l = applyRateLimit(l, opts.RateLimit)
	}

	return Schedule{
		L:          l,
		Qw:         qw,
		SLO:        slo,
		RateLimit:  opts.RateLimit,
		UpperBound: upperBound,
		Mode:       opts.Mode,
		Fallback:   isFallback,
	}
}

func fallback(d dist.Distribution, qw, upperBound float64, opts Options, log *zap.Logger, cause error) Schedule {
	if log != nil {
		log.Warn("schedule synthesis fell back to uniform polling",
			zap.Error(cause),
			zap.Float64("qw", qw),
			zap.Float64("upper_bound", upperBound),
		)
	}

	l := UniformSchedule(qw, upperBound)

	sched := finish(l, qw, schedSLOOrDefault(d, l, qw), upperBound, opts, true)
	sched.Fallback = true

	return sched
}

// schedSLOOrDefault reports the SLO the uniform fallback actually achieves, so callers
// can see how far short of the requested target it falls without recomputing ValidateSLO
// themselves.
func schedSLOOrDefault(d dist.Distribution, l []float64, qw float64) float64 {
	if len(l) == 0 {
		return 0
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

	return sum + d.CDF(0)
}


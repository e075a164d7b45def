// Package drift fits a running distribution over observed action durations and
// detects when that distribution has moved far enough to invalidate the current poll
// schedule.
package drift

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rasc/pkg/dist"
)

// Status classifies a Monitor's most recent observation.
type Status int

const (
	// Training is returned while the window has not yet filled once, and afterwards
	// whenever the latest estimate is neither Stable nor Shifted.
	Training Status = iota
	// Stable means the latest estimate tracks the window average closely.
	Stable
	// Shifted means the latest estimate has moved far enough to warrant
	// re-synthesizing the poll schedule.
	Shifted
)

func (s Status) String() string {
	switch s {
	case Stable:
		return "STABLE"
	case Shifted:
		return "SHIFTED"
	default:
		return "TRAINING"
	}
}

// DefaultStableThreshold and DefaultShiftedThreshold are the relative-difference
// thresholds used to classify drift: a 5% figure for the stable predicate, and a
// shifted threshold set (see DESIGN.md) to 3x the stable threshold.
const (
	DefaultStableThreshold  = 0.05
	DefaultShiftedThreshold = 0.15
)

// ErrMonitorAlreadyWatching is returned by Watch if called more than once on the same
// Monitor.
var ErrMonitorAlreadyWatching = errors.New("drift: monitor already watching")

// Event is published on the channel returned by Watch for every fed duration.
type Event struct {
	Timestamp time.Time
	Duration  float64
	Status    Status
	Mean      float64
	Variance  float64
	Err       error
}

// Monitor maintains a growing history of observed durations, refits a distribution on
// every observation, and classifies drift against a sliding window of recent fits.
type Monitor struct {
	mu               sync.Mutex
	samples          []float64
	window           *Window
	stableThreshold  float64
	shiftedThreshold float64
	started          atomic.Bool
	feed             chan float64
	now              func() time.Time
	log              *zap.Logger
	lastStatus       Status
}

// NewMonitor constructs a Monitor with the given window capacity (DefaultWindowCapacity
// if non-positive) and default thresholds.
func NewMonitor(windowCapacity int, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}

	return &Monitor{
		window:           NewWindow(windowCapacity),
		stableThreshold:  DefaultStableThreshold,
		shiftedThreshold: DefaultShiftedThreshold,
		now:              time.Now,
		log:              log,
	}
}

// WithThresholds overrides the stable/shifted relative-difference thresholds.
func (m *Monitor) WithThresholds(stable, shifted float64) *Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stableThreshold = stable
	m.shiftedThreshold = shifted

	return m
}

// Observe appends d to the live history, refits a distribution via pkg/dist, pushes
// the resulting (mean, variance) onto the window, and classifies drift once the
// window has filled.
func (m *Monitor) Observe(d float64) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, d)

	fitted, err := dist.Fit(m.samples)
	if err != nil {
		return Training, err
	}

	mean, variance := fitted.Stats()

	wasFull := m.window.Full()
	meanAvg, varAvg := m.window.Average()

	m.window.Push(stat{Mean: mean, Variance: variance})

	if !wasFull {
		return Training, nil
	}

	status := classify(mean, variance, meanAvg, varAvg, m.stableThreshold, m.shiftedThreshold)
	m.lastStatus = status

	m.log.Debug("drift observation classified",
		zap.String("status", status.String()),
		zap.Float64("mean", mean),
		zap.Float64("variance", variance),
	)

	return status, nil
}

// LastStatus reports the most recent classification Observe produced, or Training if
// the window has not yet filled once.
func (m *Monitor) LastStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastStatus
}

func classify(mean, variance, meanAvg, varAvg, stableThreshold, shiftedThreshold float64) Status {
	meanDiff := relDiff(mean, meanAvg)
	varDiff := relDiff(variance, varAvg)

	cv := 0.0
	if mean != 0 {
		cv = math.Sqrt(variance) / math.Abs(mean)
	}

	if meanDiff < stableThreshold && (varDiff < stableThreshold || cv < stableThreshold) {
		return Stable
	}

	if meanDiff > shiftedThreshold || varDiff > shiftedThreshold {
		return Shifted
	}

	return Training
}

func relDiff(current, average float64) float64 {
	if average == 0 {
		if current == 0 {
			return 0
		}

		return math.Inf(1)
	}

	return math.Abs(current-average) / math.Abs(average)
}

// Watch starts an input-driven observation loop and returns a channel of
// classification events, one per duration accepted via Feed. It mirrors the
// est.Sampler.Run single-writer-then-publish discipline, but is driven by Feed calls
// rather than a ticker, since drift observations arrive at action-completion time.
func (m *Monitor) Watch(ctx context.Context) <-chan Event {
	events := make(chan Event, 1)

	if !m.started.CompareAndSwap(false, true) {
		m.publish(ctx, events, Event{Timestamp: m.now(), Err: ErrMonitorAlreadyWatching})
		close(events)

		return events
	}

	m.feed = make(chan float64, 1)

	go m.runWatch(ctx, events)

	return events
}

// Feed submits a duration to a running Watch loop, blocking until accepted or ctx is
// cancelled. It returns false if ctx was cancelled first.
func (m *Monitor) Feed(ctx context.Context, d float64) bool {
	select {
	case m.feed <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Monitor) runWatch(ctx context.Context, events chan<- Event) {
	defer close(events)

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.feed:
			status, err := m.Observe(d)

			ev := Event{Timestamp: m.now(), Duration: d, Status: status, Err: err}
			if ev.Err == nil {
				ev.Mean, ev.Variance = m.windowAverage()
			}

			if !m.publish(ctx, events, ev) {
				return
			}
		}
	}
}

func (m *Monitor) windowAverage() (mean, variance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meanAvg, varAvg := m.window.Average()

	return meanAvg, varAvg
}

func (m *Monitor) publish(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

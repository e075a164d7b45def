// Package orchestrate wires the distribution estimator, drift monitor, schedule
// synthesizer, and probe runtime into the single "core" boundary pkg/api drives:
// register a device, issue an action against a synthesized schedule, and feed the
// action's outcome back into the history store and drift monitor.
package orchestrate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"rasc/pkg/dispatch"
	"rasc/pkg/dist"
	"rasc/pkg/drift"
	"rasc/pkg/history"
	"rasc/pkg/probe"
	"rasc/pkg/schedule"
	"rasc/pkg/workerpool"
)

// Config holds the adaptive-polling tunables applied per device.
type Config struct {
	Enabled     bool
	UseVOpt     bool
	UseUniform  bool
	WorstQ      float64
	SLO         float64
	RateLimit   float64
	FixedSource *history.FixedHistory // non-nil when `fixed_history` is set
}

// minSamplesToFit is the smallest history length the estimator will attempt to fit;
// below it Synthesize would have nothing meaningful to work from, so the action
// falls back to uniform polling the same way C3 does on any other failure.
const minSamplesToFit = 5

type actionMeta struct {
	entity    string
	actionKey string
}

// Orchestrator is the core runtime: it owns no transport of its own, only the
// decision of what schedule to synthesize and where a completed action's sample
// should be recorded.
type Orchestrator struct {
	pool       *probe.Pool
	runtime    *probe.Runtime
	dispatcher *dispatch.Dispatcher
	history    *history.Store
	workers    *workerpool.Pool
	cfg        Config
	log        *zap.Logger

	mu         sync.Mutex
	driftByKey map[string]*drift.Monitor
	actionByID map[string]actionMeta
}

// New constructs an Orchestrator over an already-wired probe runtime and history
// store.
func New(pool *probe.Pool, runtime *probe.Runtime, dispatcher *dispatch.Dispatcher, store *history.Store, workers *workerpool.Pool, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		pool:       pool,
		runtime:    runtime,
		dispatcher: dispatcher,
		history:    store,
		workers:    workers,
		cfg:        cfg,
		log:        log,
		driftByKey: make(map[string]*drift.Monitor),
		actionByID: make(map[string]actionMeta),
	}
}

// Start launches the background watcher that feeds completed actions' elapsed times
// back into the drift monitor for their (entity, action) shard.
func (o *Orchestrator) Start(ctx context.Context) {
	events := o.dispatcher.Subscribe(64)
	go o.watch(ctx, events)
}

func (o *Orchestrator) watch(ctx context.Context, events <-chan dispatch.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			if ev.Kind != dispatch.KindComplete {
				continue
			}

			elapsed, ok := ev.Extra["elapsed_seconds"].(float64)
			if !ok {
				continue
			}

			o.mu.Lock()
			meta, known := o.actionByID[ev.ActionID]
			delete(o.actionByID, ev.ActionID)
			o.mu.Unlock()

			if !known {
				continue
			}

			_, _ = o.driftMonitorFor(meta.entity, meta.actionKey).Observe(elapsed)
		}
	}
}

func (o *Orchestrator) driftMonitorFor(entity, actionKey string) *drift.Monitor {
	key := entity + "," + actionKey

	o.mu.Lock()
	defer o.mu.Unlock()

	monitor, ok := o.driftByKey[key]
	if !ok {
		monitor = drift.NewMonitor(drift.DefaultWindowCapacity, o.log)
		o.driftByKey[key] = monitor
	}

	return monitor
}

// RegisterDevice passes through to the probe pool's port-probing handshake.
func (o *Orchestrator) RegisterDevice(ctx context.Context, host string, portLow, portHigh int) (probe.DeviceHandle, error) {
	return o.pool.RegisterDevice(ctx, host, portLow, portHigh)
}

// IssueAction fits a distribution over the (entity, actionKey) shard's history,
// synthesizes a schedule against it, and begins a probe session.
func (o *Orchestrator) IssueAction(ctx context.Context, handle probe.DeviceHandle, actionKey string, command map[string]any) (string, error) {
	sched := o.scheduleFor(ctx, handle.EntityID, actionKey)

	req := probe.IssueRequest{
		Handle:    handle,
		ActionKey: actionKey,
		Command:   command,
		Schedule:  sched,
	}

	actionID, err := o.runtime.Issue(ctx, req)
	if err != nil {
		return actionID, fmt.Errorf("orchestrate: issue action: %w", err)
	}

	o.mu.Lock()
	o.actionByID[actionID] = actionMeta{entity: handle.EntityID, actionKey: actionKey}
	o.mu.Unlock()

	return actionID, nil
}

// CancelAction passes through to the probe runtime's best-effort cancellation.
func (o *Orchestrator) CancelAction(actionID string) {
	o.runtime.Cancel(actionID)
}

// Subscribe exposes the dispatcher's event stream for the admin API's SSE endpoint.
func (o *Orchestrator) Subscribe(buffer int) <-chan dispatch.Event {
	return o.dispatcher.Subscribe(buffer)
}

// ActionCounts tallies every tracked action by its current dispatcher state, for the
// status handler.
func (o *Orchestrator) ActionCounts() map[dispatch.State]int {
	return o.dispatcher.Counts()
}

// DriftState reports the worst drift classification across every (entity, action)
// shard currently being monitored: SHIFTED beats TRAINING beats STABLE, since a single
// shifted shard means the published schedules can no longer be trusted. "unknown" is
// returned if no shard has observed a sample yet.
func (o *Orchestrator) DriftState() string {
	o.mu.Lock()
	monitors := make([]*drift.Monitor, 0, len(o.driftByKey))
	for _, m := range o.driftByKey {
		monitors = append(monitors, m)
	}
	o.mu.Unlock()

	if len(monitors) == 0 {
		return "unknown"
	}

	worst := drift.Stable
	worstRank := driftRank(worst)

	for _, m := range monitors {
		status := m.LastStatus()
		if rank := driftRank(status); rank > worstRank {
			worst = status
			worstRank = rank
		}
	}

	return worst.String()
}

// driftRank orders drift.Status by urgency for DriftState's worst-of reduction:
// SHIFTED demands attention, TRAINING is merely inconclusive, STABLE is healthy.
func driftRank(s drift.Status) int {
	switch s {
	case drift.Shifted:
		return 2
	case drift.Training:
		return 1
	default:
		return 0
	}
}

func (o *Orchestrator) scheduleFor(ctx context.Context, entity, actionKey string) schedule.Schedule {
	qw := o.cfg.WorstQ
	slo := o.cfg.SLO

	if !o.cfg.Enabled || o.cfg.UseUniform {
		return uniformFallback(qw, slo)
	}

	samples := o.sampleHistory(entity, actionKey)
	if len(samples) < minSamplesToFit {
		return uniformFallback(qw, slo)
	}

	fitted, err := dist.Fit(samples)
	if err != nil {
		o.log.Warn("distribution fit failed, falling back to uniform polling",
			zap.String("entity", entity), zap.String("action_key", actionKey), zap.Error(err))

		return uniformFallback(qw, slo)
	}

	mode := schedule.Recurrence
	if o.cfg.UseVOpt {
		mode = schedule.VOptimal
	}

	sched, err := schedule.Synthesize(ctx, o.workers, o.log, fitted, qw, slo, schedule.Options{
		Mode:      mode,
		RateLimit: o.cfg.RateLimit,
	})
	if err != nil {
		o.log.Warn("schedule synthesis failed, falling back to uniform polling",
			zap.String("entity", entity), zap.String("action_key", actionKey), zap.Error(err))

		return uniformFallback(qw, slo)
	}

	return sched
}

func (o *Orchestrator) sampleHistory(entity, actionKey string) []float64 {
	if o.cfg.FixedSource != nil {
		return o.cfg.FixedSource.Snapshot(entity, actionKey)
	}

	return o.history.Snapshot(entity, actionKey)
}

func uniformFallback(qw, slo float64) schedule.Schedule {
	upperBound := qw * 20
	polls := schedule.UniformSchedule(qw, upperBound)

	return schedule.Schedule{
		L:          polls,
		Qw:         qw,
		SLO:        slo,
		UpperBound: upperBound,
		Fallback:   true,
	}
}

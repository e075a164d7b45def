package probe

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rasc/pkg/device"
	"rasc/pkg/dispatch"
	"rasc/pkg/history"
	"rasc/pkg/schedule"
)

// DefaultFailureTimeout bounds the total lifetime of an action before its session
// gives up and emits FAIL.
const DefaultFailureTimeout = 1000 * time.Second

// MaxPollBackoff caps the exponential backoff applied between retried polls after a
// transport error.
const MaxPollBackoff = time.Second

// HardCapExtra bounds how many polls past the synthesized schedule's length a
// session will issue during tail extension.
const HardCapExtra = 100

// IssueRequest carries everything a probe session needs to drive one action to
// completion.
type IssueRequest struct {
	Handle    DeviceHandle
	ActionKey string
	Command   map[string]any
	Schedule  schedule.Schedule
}

type session struct {
	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newSession() *session {
	return &session{cancelCh: make(chan struct{})}
}

func (s *session) cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// Runtime wires the connection pool, the event dispatcher, and the history store
// into the probe session lifecycle.
type Runtime struct {
	pool       *Pool
	dispatcher *dispatch.Dispatcher
	history    *history.Store
	tailMode   schedule.TailMode
	now        func() time.Time
	log        *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRuntime constructs a probe Runtime. A nil logger uses zap.NewNop.
func NewRuntime(pool *Pool, dispatcher *dispatch.Dispatcher, store *history.Store, tailMode schedule.TailMode, log *zap.Logger) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}

	return &Runtime{
		pool:       pool,
		dispatcher: dispatcher,
		history:    store,
		tailMode:   tailMode,
		now:        time.Now,
		log:        log,
		sessions:   make(map[string]*session),
	}
}

// Issue sends req.Command to req.Handle and begins a probe session for it, returning
// the action id the caller tracks via the dispatcher's event stream.
func (r *Runtime) Issue(ctx context.Context, req IssueRequest) (string, error) {
	actionID := uuid.NewString()
	r.dispatcher.Register(actionID)
	r.ack(actionID)

	tag := device.ServiceTag(req.Handle.Kind)
	method := "transition_" + string(req.Handle.Kind) + "_state"

	if _, err := r.pool.Call(ctx, req.Handle.Addr, tag, method, req.Command); err != nil {
		r.start(actionID)
		r.fail(actionID, fmt.Errorf("probe: issue command: %w", err))

		return actionID, err
	}

	sess := newSession()

	r.mu.Lock()
	r.sessions[actionID] = sess
	r.mu.Unlock()

	go r.runSession(ctx, actionID, req, sess)

	return actionID, nil
}

// Cancel best-effort stops future polling for actionID. It never sends a
// cancellation message on the wire: the devices are fire-and-forget.
func (r *Runtime) Cancel(actionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[actionID]
	r.mu.Unlock()

	if ok {
		sess.cancel()
	}
}

func (r *Runtime) runSession(ctx context.Context, actionID string, req IssueRequest, sess *session) {
	defer func() {
		r.mu.Lock()
		delete(r.sessions, actionID)
		r.mu.Unlock()
	}()

	r.start(actionID)
	r.scheduled(actionID)

	start := r.now()
	terminalFn, _ := device.Lookup(req.Handle.Kind)
	tag := device.ServiceTag(req.Handle.Kind)
	method := "get_" + string(req.Handle.Kind) + "_state"

	offsets := req.Schedule.L
	hardCap := len(offsets) + HardCapExtra

	for poll := 0; poll < hardCap; poll++ {
		offset := r.offsetFor(req.Schedule, poll)

		if !r.waitUntil(ctx, sess, start, offset) {
			return
		}

		if r.now().Sub(start) > DefaultFailureTimeout {
			r.fail(actionID, fmt.Errorf("probe: action %s exceeded failure timeout", actionID))
			return
		}

		state, err := r.pollWithRetry(ctx, sess, start, req.Handle.Addr, tag, method)
		if err != nil {
			r.fail(actionID, err)
			return
		}

		if state == nil {
			// Cancelled or context done mid-retry.
			return
		}

		if terminalFn(req.Command, state) {
			elapsed := r.now().Sub(start).Seconds()

			if err := r.history.Append(req.Handle.EntityID, req.ActionKey, elapsed); err != nil {
				r.log.Warn("history append failed", zap.String("action_id", actionID), zap.Error(err))
			}

			r.complete(actionID, elapsed)

			return
		}
	}

	r.fail(actionID, fmt.Errorf("probe: action %s exhausted hard poll cap", actionID))
}

// offsetFor returns the scheduled offset for poll index i, extending past the
// synthesized schedule per r.tailMode once it is exhausted.
func (r *Runtime) offsetFor(sched schedule.Schedule, i int) float64 {
	if i < len(sched.L) {
		return sched.L[i]
	}

	last := sched.L[len(sched.L)-1]
	tailIndex := i - len(sched.L) + 1

	switch r.tailMode {
	case schedule.TailExponential:
		sum := 0.0
		for j := 1; j <= tailIndex; j++ {
			sum += math.Min(math.Pow(2, float64(j)), sched.Qw)
		}

		return last + sum
	case schedule.TailUniform:
		fallthrough
	default:
		return last + sched.Qw*float64(tailIndex)
	}
}

// waitUntil blocks until offset seconds have elapsed since start, or cancellation,
// or ctx is done. It reports false if the session should stop polling.
func (r *Runtime) waitUntil(ctx context.Context, sess *session, start time.Time, offset float64) bool {
	deadline := start.Add(time.Duration(offset * float64(time.Second)))

	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-sess.cancelCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// pollWithRetry issues one get_<device>_state call, retrying transport errors with
// backoff capped at MaxPollBackoff until the action's failure timeout elapses. A nil,
// nil return means the caller should stop without emitting FAIL (cancelled).
func (r *Runtime) pollWithRetry(ctx context.Context, sess *session, start time.Time, addr, tag, method string) (map[string]any, error) {
	backoff := 10 * time.Millisecond

	for {
		state, err := r.pool.Call(ctx, addr, tag, method, nil)
		if err == nil {
			return state, nil
		}

		if r.now().Sub(start) > DefaultFailureTimeout {
			return nil, fmt.Errorf("probe: poll %s: %w", addr, err)
		}

		timer := time.NewTimer(backoff)

		select {
		case <-timer.C:
		case <-sess.cancelCh:
			timer.Stop()
			return nil, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		}

		backoff *= 2
		if backoff > MaxPollBackoff {
			backoff = MaxPollBackoff
		}
	}
}

func (r *Runtime) ack(actionID string) {
	r.publish(actionID, dispatch.KindAck, nil)
}

func (r *Runtime) start(actionID string) {
	r.publish(actionID, dispatch.KindStart, nil)
}

// scheduled announces the poll schedule now driving actionID. It is safe to call
// more than once for the same action: the FSM treats SCHEDULED as a repeatable,
// idempotent self-transition within RUNNING, so a future mid-flight recompute can
// call this again without a new transition error.
func (r *Runtime) scheduled(actionID string) {
	r.publish(actionID, dispatch.KindScheduled, nil)
}

func (r *Runtime) complete(actionID string, elapsedSeconds float64) {
	r.publish(actionID, dispatch.KindComplete, map[string]any{"elapsed_seconds": elapsedSeconds})
}

func (r *Runtime) fail(actionID string, cause error) {
	extra := map[string]any{}
	if cause != nil {
		extra["error"] = cause.Error()
	}

	r.publish(actionID, dispatch.KindFail, extra)
}

func (r *Runtime) publish(actionID string, kind dispatch.Kind, extra map[string]any) {
	err := r.dispatcher.Dispatch(dispatch.Event{
		ActionID:    actionID,
		Kind:        kind,
		TimestampMs: r.now().UnixMilli(),
		Extra:       extra,
	})
	if err != nil {
		r.log.Warn("dispatch event rejected", zap.String("action_id", actionID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

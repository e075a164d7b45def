// Package dispatch tracks the per-action finite-state machine and fans its events
// out to subscribers on the `rasc_response` topic over a buffered channel.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
)

// Topic names the event bus this dispatcher publishes to.
const Topic = "rasc_response"

// Kind is one of the five wire-compatible action-event names.
type Kind string

const (
	KindAck       Kind = "ack"
	KindStart     Kind = "start"
	KindScheduled Kind = "scheduled"
	KindComplete  Kind = "complete"
	KindFail      Kind = "fail"
)

// State is a node of the per-action FSM.
type State string

const (
	StatePending  State = "PENDING"
	StateRunning  State = "RUNNING"
	StateComplete State = "COMPLETE"
	StateFailed   State = "FAILED"
)

var (
	// ErrUnknownAction is returned when an event targets an action Register never saw.
	ErrUnknownAction = errors.New("dispatch: unknown action")
	// ErrInvalidTransition is returned when an event cannot fire from the action's
	// current state (e.g. a second ack, or complete before any start).
	ErrInvalidTransition = errors.New("dispatch: invalid transition")
	// ErrNonMonotoneTimestamp is returned when an event's timestamp regresses against
	// the same action's prior event.
	ErrNonMonotoneTimestamp = errors.New("dispatch: timestamp must be monotone per action")
)

// Event is published on Topic for every FSM transition.
type Event struct {
	ActionID    string
	Kind        Kind
	TimestampMs int64
	Extra       map[string]any
}

type actionState struct {
	state         State
	startSeen     bool
	lastTimestamp int64
}

// Dispatcher owns one FSM per action and broadcasts every transition to its
// subscribers. The zero value is not usable; construct with New.
type Dispatcher struct {
	mu          sync.Mutex
	actions     map[string]*actionState
	subscribers []chan Event
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{actions: make(map[string]*actionState)}
}

// Subscribe returns a channel that receives every event published from this point
// forward. The channel is buffered; a slow subscriber drops events rather than
// blocking the dispatcher.
func (d *Dispatcher) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}

	ch := make(chan Event, buffer)

	d.mu.Lock()
	d.subscribers = append(d.subscribers, ch)
	d.mu.Unlock()

	return ch
}

// Register creates a new action in PENDING, ready to receive its first ack.
func (d *Dispatcher) Register(actionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions[actionID] = &actionState{state: StatePending}
}

// State reports the current FSM state for actionID.
func (d *Dispatcher) State(actionID string) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	action, ok := d.actions[actionID]
	if !ok {
		return "", false
	}

	return action.state, true
}

// Counts tallies every tracked action by its current FSM state, for the admin status
// surface.
func (d *Dispatcher) Counts() map[State]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := make(map[State]int, 4)
	for _, action := range d.actions {
		counts[action.state]++
	}

	return counts
}

// Dispatch applies ev's transition to its action's FSM and, if valid, publishes it
// to every subscriber.
func (d *Dispatcher) Dispatch(ev Event) error {
	d.mu.Lock()

	action, ok := d.actions[ev.ActionID]
	if !ok {
		d.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrUnknownAction, ev.ActionID)
	}

	if ev.TimestampMs < action.lastTimestamp {
		d.mu.Unlock()

		return fmt.Errorf("%w: action %s", ErrNonMonotoneTimestamp, ev.ActionID)
	}

	if err := transition(action, ev.Kind); err != nil {
		d.mu.Unlock()

		return err
	}

	action.lastTimestamp = ev.TimestampMs
	subscribers := append([]chan Event(nil), d.subscribers...)
	d.mu.Unlock()

	publish(subscribers, ev)

	return nil
}

// transition mutates action in place according to the action lifecycle:
//
//	PENDING --ack--> RUNNING --scheduled--> RUNNING --complete--> COMPLETE
//	                    |                                ^
//	                    +---------------fail-------------+------> FAILED
//
// start and scheduled are self-transitions within RUNNING; start additionally
// records that FAIL's "preceded by >= 1 START" invariant is now satisfiable.
func transition(action *actionState, kind Kind) error {
	switch {
	case action.state == StatePending && kind == KindAck:
		action.state = StateRunning
		return nil
	case action.state == StateRunning && kind == KindStart:
		action.startSeen = true
		return nil
	case action.state == StateRunning && kind == KindScheduled:
		return nil
	case action.state == StateRunning && kind == KindComplete:
		action.state = StateComplete
		return nil
	case action.state == StateRunning && kind == KindFail:
		if !action.startSeen {
			return fmt.Errorf("%w: fail without a preceding start", ErrInvalidTransition)
		}

		action.state = StateFailed

		return nil
	default:
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, kind, action.state)
	}
}

func publish(subscribers []chan Event, ev Event) {
	for _, ch := range subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

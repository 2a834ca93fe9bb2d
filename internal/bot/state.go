package bot

import (
	"sync/atomic"
)

// State is the lifecycle state of the orchestrator
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateCompleted // Normal completion, left for Idle during cleanup
	StateError     // Fatal session error, left for Idle during cleanup
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Busy reports whether a session owns the worker
func (s State) Busy() bool {
	return s == StateStarting || s == StateRunning
}

// allowed lists the legal transitions. Stop (any state -> Idle) is always allowed.
var allowed = map[State][]State{
	StateIdle:      {StateStarting},
	StateStarting:  {StateRunning, StateError},
	StateRunning:   {StateCompleted, StateError},
	StateCompleted: {StateStarting},
	StateError:     {StateStarting},
}

func canTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateBox holds the state and progress that both the control side and the worker read.
// Writes happen from one side at a time, so plain atomics are enough.
type stateBox struct {
	state   atomic.Int32
	current atomic.Int32
	total   atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.state.Load())
}

// swap moves from one state to another, failing when the current state is not from
func (b *stateBox) swap(from, to State) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

func (b *stateBox) store(s State) State {
	return State(b.state.Swap(int32(s)))
}

func (b *stateBox) progress() (int, int) {
	return int(b.current.Load()), int(b.total.Load())
}

func (b *stateBox) setProgress(current, total int) {
	b.total.Store(int32(total))
	b.current.Store(int32(current))
}

package pipeline

import "sync/atomic"

// InitState tracks startup progress. Transitions only move forward; StateError
// is terminal and wins over any later attempt to advance.
type InitState int32

const (
	StateNotStarted InitState = iota
	StateInProgress
	StateLoggersReady
	StateReady
	StateError
)

func (s InitState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateLoggersReady:
		return "loggers_ready"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() InitState { return InitState(s.v.Load()) }

// advance moves the state forward. Moving backwards is ignored, and once the
// state reaches StateError it never changes again.
func (s *stateVar) advance(to InitState) {
	for {
		cur := InitState(s.v.Load())
		if cur == StateError || (to != StateError && to <= cur) {
			return
		}
		if s.v.CompareAndSwap(int32(cur), int32(to)) {
			return
		}
	}
}

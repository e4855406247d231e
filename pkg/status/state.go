// Package status tracks and reports the progress of a long-running
// migration job.
package status

import "sync/atomic"

//nolint:recvcheck // String() uses value receiver (called on State values), Get/Set use pointer receivers (atomic ops)
type State int32

// Per-plan lifecycle. Plans run strictly one after another; only the
// chunks within the current plan run concurrently.
const (
	Initial State = iota
	DiscoverBounds
	MoveChunks // fan-out and barrier
	Sweep
	PlanDone
	Skipped // empty source, nothing to migrate
	Done
)

func (s State) String() string {
	switch s {
	case Initial:
		return "initial"
	case DiscoverBounds:
		return "discoverBounds"
	case MoveChunks:
		return "moveChunks"
	case Sweep:
		return "sweep"
	case PlanDone:
		return "planDone"
	case Skipped:
		return "skipped"
	case Done:
		return "done"
	}
	return "unknown"
}

func (s *State) Get() State {
	return State(atomic.LoadInt32((*int32)(s)))
}

func (s *State) Set(newState State) {
	atomic.StoreInt32((*int32)(s), int32(newState))
}

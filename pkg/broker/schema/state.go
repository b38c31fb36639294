package schema

import "slices"

////////////////////////////////////////////////////////////////////////////////
// TYPES

// State is the lifecycle state of a row in the queue table
type State string

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	StateQueued   State = "queued"
	StateConsumed State = "consumed"
	StateRejected State = "rejected"
	StateDone     State = "done"
)

var (
	States = []State{StateQueued, StateConsumed, StateRejected, StateDone}
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Valid returns true for one of the four states
func (s State) Valid() bool {
	return slices.Contains(States, s)
}

// Settled returns true for states which garbage collection removes
func (s State) Settled() bool {
	return s == StateDone || s == StateRejected
}

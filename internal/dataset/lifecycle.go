package dataset

import (
	"errors"
	"fmt"
)

// Sentinel errors for run state transitions. Usable with errors.Is().
var (
	// ErrInvalidTransition indicates a transition the run lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState indicates a transition attempted from Done or Failed.
	ErrTerminalState = errors.New("terminal state is immutable")
)

// State is a dataset migration run state.
type State string

// Dataset run states. A run moves Pending → Loading → Normalizing →
// Resolving → Inserting and finishes in Done; batched datasets cycle
// Inserting → Normalizing for each subsequent batch. Failed is reachable
// from any non-terminal state.
const (
	StatePending     State = "pending"
	StateLoading     State = "loading"
	StateNormalizing State = "normalizing"
	StateResolving   State = "resolving"
	StateInserting   State = "inserting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// validTransitions maps each non-terminal state to its allowed successors.
var validTransitions = map[State][]State{
	StatePending:     {StateLoading, StateFailed},
	StateLoading:     {StateNormalizing, StateDone, StateFailed}, // Done when the file is empty
	StateNormalizing: {StateResolving, StateDone, StateFailed},   // Done when no batch yields usable rows
	StateResolving:   {StateInserting, StateNormalizing, StateDone, StateFailed}, // skips Inserting when every row was unresolvable
	StateInserting:   {StateNormalizing, StateDone, StateFailed}, // back to Normalizing for the next batch
}

// ValidateTransition reports whether from → to is an allowed lifecycle move.
// Non-terminal states may re-enter themselves (batch loops).
func ValidateTransition(from, to State) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalState, from, to)
	}

	if from == to {
		return nil
	}

	for _, allowed := range validTransitions[from] {
		if to == allowed {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// Run tracks the lifecycle of one dataset through a migration.
type Run struct {
	kind  Kind
	state State
}

// NewRun creates a Pending run for the given dataset.
func NewRun(kind Kind) *Run {
	return &Run{kind: kind, state: StatePending}
}

// Kind returns the dataset this run migrates.
func (r *Run) Kind() Kind {
	return r.kind
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	return r.state
}

// Transition moves the run to the given state, rejecting moves the lifecycle
// does not allow.
func (r *Run) Transition(to State) error {
	if err := ValidateTransition(r.state, to); err != nil {
		return err
	}

	r.state = to

	return nil
}

// Fail marks the run Failed from any non-terminal state.
func (r *Run) Fail() error {
	return r.Transition(StateFailed)
}

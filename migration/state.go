package migration

import "fmt"

// State is a migration's lifecycle state.
//
// Drafted is produced by the planner. Only validated migrations may be
// applied. Once applied, a migration can only be flagged rolled back (the
// rollback itself happens outside this engine) or superseded by a later
// migration whose diff renders its effects moot.
type State string

const (
	StateDrafted    State = "drafted"
	StateValidated  State = "validated"
	StateApplied    State = "applied"
	StateRolledBack State = "rolled_back"
	StateSuperseded State = "superseded"
)

var stateTransitions = map[State][]State{
	StateDrafted:    {StateValidated},
	StateValidated:  {StateApplied},
	StateApplied:    {StateRolledBack, StateSuperseded},
	StateRolledBack: {},
	StateSuperseded: {},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the plan to the next lifecycle state.
func (p *Plan) Transition(next State) error {
	if !p.State.CanTransition(next) {
		return fmt.Errorf("invalid state transition %s -> %s for migration %s", p.State, next, p.ID)
	}
	p.State = next
	return nil
}

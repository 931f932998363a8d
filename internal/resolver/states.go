package resolver

// AccountState tracks one subject account through a resolution pass.
type AccountState string

const (
	// StateNew is the initial state before any scoring.
	StateNew AccountState = "new"
	// StateScored means candidates have been evaluated.
	StateScored AccountState = "scored"
	// StateAutoLinked means exactly one matching candidate won.
	StateAutoLinked AccountState = "auto-linked"
	// StatePendingReview means a human verdict is required.
	StatePendingReview AccountState = "pending-review"
	// StateNewIdentity means no viable candidate exists.
	StateNewIdentity AccountState = "new-identity"
	// StateFinalized is terminal: the outcome has been externalized.
	StateFinalized AccountState = "finalized"
)

var stateTransitions = map[AccountState][]AccountState{
	StateNew:           {StateScored},
	StateScored:        {StateAutoLinked, StatePendingReview, StateNewIdentity},
	StateAutoLinked:    {StateFinalized},
	StatePendingReview: {StateFinalized},
	StateNewIdentity:   {StateFinalized},
	StateFinalized:     {},
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s AccountState) CanTransitionTo(next AccountState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s AccountState) IsTerminal() bool {
	return len(stateTransitions[s]) == 0
}

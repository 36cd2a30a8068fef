package domain

// State is an invoice lifecycle state.
type State string

const (
	StateCreated          State = "CREATED"
	StateExtracted        State = "EXTRACTED"
	StateValidated        State = "VALIDATED"
	StateBudgetChecked    State = "BUDGET_CHECKED"
	StateApproved         State = "APPROVED"
	StatePaymentScheduled State = "PAYMENT_SCHEDULED"
	StatePaid             State = "PAID"
	StateManualReview     State = "MANUAL_REVIEW"
	StateFailed           State = "FAILED"
)

var validStates = map[State]bool{
	StateCreated:          true,
	StateExtracted:        true,
	StateValidated:        true,
	StateBudgetChecked:    true,
	StateApproved:         true,
	StatePaymentScheduled: true,
	StatePaid:             true,
	StateManualReview:     true,
	StateFailed:           true,
}

// validTransitions is the allowed edge set of the invoice state machine.
// MANUAL_REVIEW exits are administrative actions, not worker transitions;
// the review service checks this map before re-injecting an invoice.
var validTransitions = map[State][]State{
	StateCreated:          {StateExtracted, StateFailed},
	StateExtracted:        {StateValidated, StateManualReview, StateFailed},
	StateValidated:        {StateBudgetChecked, StateManualReview, StateFailed},
	StateBudgetChecked:    {StateApproved, StateManualReview, StateFailed},
	StateApproved:         {StatePaymentScheduled, StateFailed},
	StatePaymentScheduled: {StatePaid, StateFailed},
	StateManualReview:     {StateCreated, StateExtracted, StateValidated, StateBudgetChecked, StateApproved, StateFailed},
	StatePaid:             {},
	StateFailed:           {},
}

// pathRank orders the states of the happy path. States not on the path
// (MANUAL_REVIEW, FAILED) have no rank; duplicate detection handles them
// separately because they are parking or terminal states.
var pathRank = map[State]int{
	StateCreated:          0,
	StateExtracted:        1,
	StateValidated:        2,
	StateBudgetChecked:    3,
	StateApproved:         4,
	StatePaymentScheduled: 5,
	StatePaid:             6,
}

func (s State) String() string { return string(s) }

// IsValid reports whether s is a defined lifecycle state.
func (s State) IsValid() bool { return validStates[s] }

// IsTerminal reports whether s has no outgoing edges.
func (s State) IsTerminal() bool { return s == StatePaid || s == StateFailed }

// CanTransitionTo reports whether the edge s -> next exists.
func (s State) CanTransitionTo(next State) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Rank returns the position of s on the happy path and whether s is on it.
func (s State) Rank() (int, bool) {
	r, ok := pathRank[s]
	return r, ok
}

// AtOrPast reports whether s is on the happy path at or past target.
// Used by the worker idempotency check: a redelivered event whose target
// state has already been reached must be acknowledged without effect.
func (s State) AtOrPast(target State) bool {
	sr, ok := pathRank[s]
	if !ok {
		return false
	}
	tr, ok := pathRank[target]
	if !ok {
		return false
	}
	return sr >= tr
}

package ticket

import (
	"fmt"
	"sort"
	"strings"
)

// transitions is the fixed table of legal status transitions. Done has
// no outgoing transitions; reopening completed work requires a new
// ticket or an administrative override outside this contract.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusBlocked, StatusPending},
	StatusPending:    {StatusOpen, StatusInProgress, StatusBlocked},
	StatusInProgress: {StatusDone, StatusBlocked, StatusPending},
	StatusBlocked:    {StatusOpen, StatusInProgress, StatusPending},
	StatusDone:       {},
}

// InvalidStateError reports an illegal transition. The message names
// the resource, its current state, and the allowed next states so a
// caller can self-correct without re-deriving the state machine.
type InvalidStateError struct {
	ID      string
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidStateError) Error() string {
	if !e.From.IsValid() {
		return fmt.Sprintf("ticket %s: unrecognized state %q", e.ID, e.From)
	}
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("ticket %s: %s is terminal, no transitions allowed (requested %s)",
			e.ID, e.From, e.To)
	}
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("ticket %s: cannot transition %s -> %s (allowed: %s)",
		e.ID, e.From, e.To, strings.Join(allowed, ", "))
}

// ValidateTransition checks a proposed status change against the
// transition table. An unrecognized from state is rejected the same
// way as an illegal transition.
func ValidateTransition(id string, from, to Status) error {
	allowed, ok := transitions[from]
	if !ok {
		return &InvalidStateError{ID: id, From: from, To: to}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &InvalidStateError{ID: id, From: from, To: to, Allowed: allowed}
}

// AllowedTransitions returns the legal next states for a status, in
// stable order. Unrecognized states return nil.
func AllowedTransitions(from Status) []Status {
	allowed, ok := transitions[from]
	if !ok {
		return nil
	}
	out := make([]Status, len(allowed))
	copy(out, allowed)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Package ticket defines the longer-lived ticket model tracked in
// external storage and the fixed state machine governing it. Tickets
// are related to queue tasks by reference id but move through a
// coarser transition table of their own.
package ticket

import "time"

// Status represents the state of a ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusBlocked    Status = "blocked"

	// StatusDone is terminal. Completed work is not silently reopened;
	// follow-up work gets a new ticket.
	StatusDone Status = "done"
)

func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// Priority mirrors queue priority for tickets. Lower is more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// StatusChange records one transition in a ticket's audit trail.
type StatusChange struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Ticket is a unit of work tracked in external storage.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`

	// TaskID links the ticket to a queue task, when one exists.
	TaskID string `json:"task_id,omitempty"`

	// Blocker marks tickets that must be resolved before dependent
	// work can proceed (set on test-failure investigation tickets).
	Blocker bool `json:"blocker,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// StatusChanges is the transition audit trail.
	StatusChanges []StatusChange `json:"status_changes,omitempty"`
}

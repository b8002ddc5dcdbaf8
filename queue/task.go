// Package queue owns the execution-plan data model and the engine
// that schedules tasks through it. Plans are materialized from a flat
// task list plus typed dependency links, and every task moves through
// a strict status machine driven by agent progress reports.
package queue

import "time"

// TaskStatus represents the execution state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has unmet dependencies.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusReady indicates every dependency is completed and the
	// task is eligible for dispatch.
	TaskStatusReady TaskStatus = "ready"

	// TaskStatusInProgress indicates the task has been handed to an agent.
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusBlocked indicates the agent reported it cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"

	// TaskStatusCancelled indicates the plan was cancelled before the
	// task completed.
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) String() string {
	return string(s)
}

// IsValid returns true if the task status is a recognized value.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// CanTransitionTo returns true if this status can transition to the
// target status. Cancelled is reachable from any non-terminal state
// because plan cancellation sweeps every live task.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	if target == TaskStatusCancelled {
		return !s.IsTerminal()
	}
	switch s {
	case TaskStatusPending:
		return target == TaskStatusReady
	case TaskStatusReady:
		return target == TaskStatusInProgress
	case TaskStatusInProgress:
		return target == TaskStatusCompleted || target == TaskStatusFailed || target == TaskStatusBlocked
	case TaskStatusBlocked:
		return target == TaskStatusReady || target == TaskStatusInProgress || target == TaskStatusFailed
	case TaskStatusFailed:
		return target == TaskStatusReady || target == TaskStatusInProgress
	default:
		return false
	}
}

// Priority orders tasks by urgency. Lower values are more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Task is a single unit of work inside an execution plan.
type Task struct {
	// ID uniquely identifies this task within its plan.
	ID string `json:"id"`

	// Title is the short human-readable name.
	Title string `json:"title"`

	// Description is the full task description handed to agents.
	Description string `json:"description,omitempty"`

	// Priority orders competing ready tasks. Lower is more urgent.
	Priority Priority `json:"priority"`

	// DependsOn lists task IDs that must complete before this task is
	// eligible. Acyclic by contract; cycles are tolerated at execution
	// time but rejected from the ordering computation.
	DependsOn []string `json:"depends_on,omitempty"`

	// Status is the current execution state.
	Status TaskStatus `json:"status"`

	// Assignee identifies the agent working the task, if any.
	Assignee string `json:"assignee,omitempty"`

	// EstimatedMinutes and ActualMinutes track effort.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`
	ActualMinutes    int `json:"actual_minutes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error records the failure reason when Status is failed.
	Error string `json:"error,omitempty"`

	// Metadata carries opaque caller data through the queue.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config bounds admission and seeds defaults for newly submitted plans.
type Config struct {
	// MaxConcurrent caps how many tasks may sit in_progress at once.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// DefaultPriority is applied to tasks submitted without one.
	DefaultPriority Priority `json:"default_priority" yaml:"default_priority"`

	// AutoStart moves dependency-free tasks straight to ready on
	// submission instead of waiting for an explicit pull.
	AutoStart bool `json:"auto_start" yaml:"auto_start"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   4,
		DefaultPriority: PriorityNormal,
		AutoStart:       true,
	}
}

package queue

import "time"

// PlanStatus represents the lifecycle state of an execution plan.
type PlanStatus string

const (
	// PlanStatusDraft indicates the plan is built but not yet executing.
	PlanStatusDraft PlanStatus = "draft"

	// PlanStatusActive indicates the plan is admitting work.
	PlanStatusActive PlanStatus = "active"

	// PlanStatusPaused indicates admission is suspended; individual
	// task statuses are untouched.
	PlanStatusPaused PlanStatus = "paused"

	// PlanStatusCompleted indicates every task completed.
	PlanStatusCompleted PlanStatus = "completed"

	// PlanStatusCancelled indicates the plan was cancelled.
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsValid returns true if the plan status is a recognized value.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanStatusDraft, PlanStatusActive, PlanStatusPaused,
		PlanStatusCompleted, PlanStatusCancelled:
		return true
	}
	return false
}

// ExecutionPlan is the materialized, schedulable form of a submitted
// plan. It is owned exclusively by the Engine and mutated only through
// its operations.
type ExecutionPlan struct {
	// Tasks holds every task in declaration order.
	Tasks []*Task `json:"tasks"`

	// DependencyMap maps a task ID to the IDs of tasks that depend on
	// it (the inverse of DependsOn). Built once at submission so a
	// completion cascade is O(out-degree), not a full re-scan.
	DependencyMap map[string][]string `json:"dependency_map"`

	// ExecutionOrder is the topologically sorted task IDs. Tasks caught
	// in an unexpected cycle are appended after the acyclic prefix so
	// they remain visible, though they can never become ready.
	ExecutionOrder []string `json:"execution_order"`

	Status      PlanStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// byID indexes Tasks for O(1) lookup. Rebuilt on load.
	byID map[string]*Task
}

// Task returns the task with the given ID, or nil.
func (p *ExecutionPlan) Task(id string) *Task {
	return p.byID[id]
}

// reindex rebuilds the byID lookup from Tasks. Called after
// construction and after restoring a plan from a snapshot.
func (p *ExecutionPlan) reindex() {
	p.byID = make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		p.byID[t.ID] = t
	}
}

// BlockedTask pairs a task with the dependency IDs holding it back.
type BlockedTask struct {
	Task      *Task    `json:"task"`
	BlockedBy []string `json:"blocked_by"`
}

// ProgressUpdate is an agent's report against a single task.
type ProgressUpdate struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`

	// Error carries the failure reason for failed reports.
	Error string `json:"error,omitempty"`

	// ActualMinutes records effort when the agent supplies it.
	ActualMinutes int `json:"actual_minutes,omitempty"`
}

package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/taskflow/graph"
)

// Sentinel errors for engine operations.
var (
	ErrNoPlan            = errors.New("no plan submitted")
	ErrPlanNotDraft      = errors.New("plan is not in draft status")
	ErrPlanNotActive     = errors.New("plan is not active")
	ErrPlanNotPaused     = errors.New("plan is not paused")
	ErrPlanTerminal      = errors.New("plan is already completed or cancelled")
	ErrTaskExists        = errors.New("task already exists")
	ErrUnknownDependency = errors.New("task depends on unknown task")
)

// Engine owns one ExecutionPlan and drives every task through the
// status machine. All mutations run under a single mutex, so the
// cascading-unblock logic is never interleaved with another update.
type Engine struct {
	mu     sync.Mutex
	plan   *ExecutionPlan
	config Config
	logger *slog.Logger
}

// NewEngine creates an engine with no plan submitted.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config: DefaultConfig(),
		logger: logger.With("component", "queue-engine"),
	}
}

// Submit materializes an execution plan from a flat task list plus
// typed dependency links. Links of type requires/blocks are folded
// into each task's DependsOn set; informational link types are
// ignored. Dependency-free tasks become ready immediately when
// AutoStart is set, pending otherwise. A dependency cycle does not
// reject the plan: the acyclic prefix is ordered and the cyclic
// remainder stays pending forever, visible via GetBlockedTasks.
func (e *Engine) Submit(tasks []Task, links []graph.Edge, config Config) (*ExecutionPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	e.config = config

	plan := &ExecutionPlan{
		Tasks:         make([]*Task, 0, len(tasks)),
		DependencyMap: make(map[string][]string, len(tasks)),
		Status:        PlanStatusDraft,
	}

	now := time.Now()
	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		t := tasks[i]
		if t.ID == "" {
			return nil, fmt.Errorf("task %d: id is required", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: %s", ErrTaskExists, t.ID)
		}
		seen[t.ID] = true
		if t.Status == "" {
			t.Status = TaskStatusPending
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		plan.Tasks = append(plan.Tasks, &t)
	}
	plan.reindex()

	// Fold scheduling links into DependsOn so the plan carries one
	// canonical edge representation.
	for _, l := range links {
		switch l.Type {
		case graph.EdgeRequires:
			if t := plan.byID[l.From]; t != nil && !contains(t.DependsOn, l.To) {
				t.DependsOn = append(t.DependsOn, l.To)
			}
		case graph.EdgeBlocks:
			if t := plan.byID[l.To]; t != nil && !contains(t.DependsOn, l.From) {
				t.DependsOn = append(t.DependsOn, l.From)
			}
		}
	}

	// Validate edges and build the inverse map for cascades.
	nodes := make([]string, 0, len(plan.Tasks))
	var edges []graph.Edge
	for _, t := range plan.Tasks {
		nodes = append(nodes, t.ID)
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return nil, fmt.Errorf("task %s depends on itself", t.ID)
			}
			if plan.byID[dep] == nil {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, t.ID, dep)
			}
			plan.DependencyMap[dep] = append(plan.DependencyMap[dep], t.ID)
			edges = append(edges, graph.Edge{From: t.ID, To: dep, Type: graph.EdgeRequires})
		}
	}

	result, err := graph.Build(nodes, edges)
	if err != nil {
		return nil, fmt.Errorf("build execution order: %w", err)
	}
	plan.ExecutionOrder = append(result.Order, result.Cycle...)
	if result.HasCycle() {
		e.logger.Warn("Plan contains a dependency cycle; cyclic tasks will never become ready",
			"cyclic_tasks", result.Cycle)
	}

	// Seed initial statuses.
	for _, t := range plan.Tasks {
		if len(t.DependsOn) == 0 && config.AutoStart {
			t.Status = TaskStatusReady
		}
	}

	e.plan = plan
	e.logger.Info("Plan submitted",
		"task_count", len(plan.Tasks),
		"max_concurrent", config.MaxConcurrent,
		"auto_start", config.AutoStart,
		"has_cycle", result.HasCycle())

	return plan, nil
}

// StartExecution transitions the plan from draft to active.
func (e *Engine) StartExecution() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return ErrNoPlan
	}
	if e.plan.Status != PlanStatusDraft {
		return fmt.Errorf("%w: %s", ErrPlanNotDraft, e.plan.Status)
	}

	now := time.Now()
	e.plan.Status = PlanStatusActive
	e.plan.StartedAt = &now
	e.logger.Info("Plan execution started")
	return nil
}

// PauseExecution suspends admission of new work. Individual task
// statuses are untouched; in-flight tasks run to completion.
func (e *Engine) PauseExecution() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return ErrNoPlan
	}
	if e.plan.Status != PlanStatusActive {
		return fmt.Errorf("%w: %s", ErrPlanNotActive, e.plan.Status)
	}
	e.plan.Status = PlanStatusPaused
	e.logger.Info("Plan execution paused")
	return nil
}

// ResumeExecution reopens admission after a pause.
func (e *Engine) ResumeExecution() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return ErrNoPlan
	}
	if e.plan.Status != PlanStatusPaused {
		return fmt.Errorf("%w: %s", ErrPlanNotPaused, e.plan.Status)
	}
	e.plan.Status = PlanStatusActive
	e.logger.Info("Plan execution resumed")
	return nil
}

// CancelExecution moves the plan to cancelled and flips every task
// that is not already completed to cancelled, synchronously. Callers
// never observe a cancelled plan with live-looking tasks.
func (e *Engine) CancelExecution() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return ErrNoPlan
	}
	if e.plan.Status == PlanStatusCompleted || e.plan.Status == PlanStatusCancelled {
		return fmt.Errorf("%w: %s", ErrPlanTerminal, e.plan.Status)
	}

	now := time.Now()
	cancelled := 0
	for _, t := range e.plan.Tasks {
		if t.Status != TaskStatusCompleted && t.Status != TaskStatusCancelled {
			t.Status = TaskStatusCancelled
			t.CompletedAt = &now
			cancelled++
		}
	}
	e.plan.Status = PlanStatusCancelled
	e.plan.CompletedAt = &now
	e.logger.Info("Plan execution cancelled", "tasks_cancelled", cancelled)
	return nil
}

// UpdateOutcome describes the effect of one progress report.
type UpdateOutcome struct {
	// Applied is false when the task does not exist or the transition
	// was rejected. Stale task IDs are routine in a multi-agent system,
	// so this is a result, not an error.
	Applied bool

	// NewlyReady lists tasks unblocked by this update.
	NewlyReady []string

	// PlanCompleted is true when this update completed the final task.
	PlanCompleted bool
}

// UpdateTaskProgress applies a progress report and returns whether it
// was applied. See ApplyProgress for the full outcome.
func (e *Engine) UpdateTaskProgress(u ProgressUpdate) bool {
	return e.ApplyProgress(u).Applied
}

// ApplyProgress validates and applies one progress report. A report
// that transitions a task into completed cascades through the
// dependency map: each dependent whose dependencies are now all
// completed moves pending → ready. The cascade touches only the
// completed task's dependents, never the whole task set.
func (e *Engine) ApplyProgress(u ProgressUpdate) UpdateOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return UpdateOutcome{}
	}

	t := e.plan.Task(u.TaskID)
	if t == nil {
		e.logger.Debug("Progress report for unknown task", "task_id", u.TaskID)
		return UpdateOutcome{}
	}

	// Repeated identical reports are idempotent successes.
	if t.Status == u.Status {
		return UpdateOutcome{Applied: true}
	}

	if !u.Status.IsValid() || !t.Status.CanTransitionTo(u.Status) {
		e.logger.Warn("Rejected task transition",
			"task_id", u.TaskID,
			"from", t.Status,
			"to", u.Status)
		return UpdateOutcome{}
	}

	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	t.Status = u.Status
	switch u.Status {
	case TaskStatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &ts
		}
	case TaskStatusCompleted, TaskStatusFailed:
		t.CompletedAt = &ts
		if u.ActualMinutes > 0 {
			t.ActualMinutes = u.ActualMinutes
		}
	}
	if u.Error != "" {
		t.Error = u.Error
	}

	outcome := UpdateOutcome{Applied: true}
	if u.Status == TaskStatusCompleted {
		outcome.NewlyReady = e.cascadeLocked(t.ID)
		outcome.PlanCompleted = e.maybeCompleteLocked(ts)
	}

	e.logger.Debug("Task progress applied",
		"task_id", t.ID,
		"status", t.Status,
		"newly_ready", len(outcome.NewlyReady))

	return outcome
}

// cascadeLocked recomputes readiness for the dependents of a completed
// task. Caller must hold e.mu.
func (e *Engine) cascadeLocked(completedID string) []string {
	var newlyReady []string
	for _, depID := range e.plan.DependencyMap[completedID] {
		dep := e.plan.Task(depID)
		if dep == nil || dep.Status != TaskStatusPending {
			continue
		}
		if e.depsCompletedLocked(dep) {
			dep.Status = TaskStatusReady
			newlyReady = append(newlyReady, dep.ID)
		}
	}
	return newlyReady
}

func (e *Engine) depsCompletedLocked(t *Task) bool {
	for _, dep := range t.DependsOn {
		d := e.plan.Task(dep)
		if d == nil || d.Status != TaskStatusCompleted {
			return false
		}
	}
	return true
}

// maybeCompleteLocked stamps the plan completed when every task is.
func (e *Engine) maybeCompleteLocked(ts time.Time) bool {
	for _, t := range e.plan.Tasks {
		if t.Status != TaskStatusCompleted {
			return false
		}
	}
	e.plan.Status = PlanStatusCompleted
	e.plan.CompletedAt = &ts
	e.logger.Info("Plan completed", "task_count", len(e.plan.Tasks))
	return true
}

// GetNextTasks returns up to limit ready tasks in execution order
// without claiming them. Repeated calls under no state change return
// the same tasks.
func (e *Engine) GetNextTasks(limit int) []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyTasksLocked(limit, false, "")
}

// ClaimNextTasks pulls up to limit ready tasks and moves each one to
// in_progress as part of the pull, so no two callers are ever handed
// the same task. Admission is a counting bound: the number of claimed
// tasks never pushes the in-progress count above MaxConcurrent.
func (e *Engine) ClaimNextTasks(limit int, assignee string) []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyTasksLocked(limit, true, assignee)
}

func (e *Engine) readyTasksLocked(limit int, claim bool, assignee string) []*Task {
	if e.plan == nil || e.plan.Status != PlanStatusActive || limit <= 0 {
		return nil
	}

	inProgress := 0
	for _, t := range e.plan.Tasks {
		if t.Status == TaskStatusInProgress {
			inProgress++
		}
	}
	if slots := e.config.MaxConcurrent - inProgress; slots < limit {
		limit = slots
	}
	if limit <= 0 {
		return nil
	}

	var out []*Task
	now := time.Now()
	for _, id := range e.plan.ExecutionOrder {
		if len(out) >= limit {
			break
		}
		t := e.plan.Task(id)
		if t == nil || t.Status != TaskStatusReady {
			continue
		}
		if claim {
			t.Status = TaskStatusInProgress
			if t.StartedAt == nil {
				t.StartedAt = &now
			}
			if assignee != "" {
				t.Assignee = assignee
			}
		}
		copied := *t
		out = append(out, &copied)
	}
	return out
}

// GetBlockedTasks lists every task that is neither ready, completed,
// nor cancelled, together with the dependency IDs not yet completed.
func (e *Engine) GetBlockedTasks() []BlockedTask {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return nil
	}

	var out []BlockedTask
	for _, t := range e.plan.Tasks {
		switch t.Status {
		case TaskStatusReady, TaskStatusCompleted, TaskStatusCancelled:
			continue
		}
		var blockedBy []string
		for _, dep := range t.DependsOn {
			d := e.plan.Task(dep)
			if d == nil || d.Status != TaskStatusCompleted {
				blockedBy = append(blockedBy, dep)
			}
		}
		copied := *t
		out = append(out, BlockedTask{Task: &copied, BlockedBy: blockedBy})
	}
	return out
}

// AddTask inserts a follow-up task into the live plan. The task joins
// the end of the execution order; its dependencies must already exist.
func (e *Engine) AddTask(t Task) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return nil, ErrNoPlan
	}
	if t.ID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if e.plan.Task(t.ID) != nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, t.ID)
	}
	for _, dep := range t.DependsOn {
		if e.plan.Task(dep) == nil {
			return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, t.ID, dep)
		}
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Status = TaskStatusPending
	if e.depsCompletedLocked(&t) {
		if e.config.AutoStart || e.plan.Status == PlanStatusActive {
			t.Status = TaskStatusReady
		}
	}

	e.plan.Tasks = append(e.plan.Tasks, &t)
	e.plan.byID[t.ID] = &t
	e.plan.ExecutionOrder = append(e.plan.ExecutionOrder, t.ID)
	for _, dep := range t.DependsOn {
		e.plan.DependencyMap[dep] = append(e.plan.DependencyMap[dep], t.ID)
	}

	e.logger.Info("Task added to live plan", "task_id", t.ID, "status", t.Status)
	copied := t
	return &copied, nil
}

// Plan returns the current plan. The pointer is shared with the
// engine; callers must treat it as read-only and tolerate staleness.
func (e *Engine) Plan() *ExecutionPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// TasksSnapshot returns a deep copy of every task for persistence,
// plus the IDs currently in progress. Running tasks are saved
// separately because in-flight state is transient and a crash must
// not silently drop it.
func (e *Engine) TasksSnapshot() ([]Task, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.plan == nil {
		return nil, nil
	}
	tasks := make([]Task, 0, len(e.plan.Tasks))
	var running []string
	for _, t := range e.plan.Tasks {
		tasks = append(tasks, *t)
		if t.Status == TaskStatusInProgress {
			running = append(running, t.ID)
		}
	}
	return tasks, running
}

// Restore rebuilds the plan from a persisted snapshot. Tasks listed
// in runningIDs are re-marked in_progress when the saved status lost
// that transient state.
func (e *Engine) Restore(tasks []Task, runningIDs []string, config Config) error {
	running := make(map[string]bool, len(runningIDs))
	for _, id := range runningIDs {
		running[id] = true
	}
	for i := range tasks {
		if running[tasks[i].ID] && !tasks[i].Status.IsTerminal() {
			tasks[i].Status = TaskStatusInProgress
		}
	}

	if _, err := e.Submit(tasks, nil, config); err != nil {
		return fmt.Errorf("restore plan: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Submit seeds fresh initial statuses; reapply the persisted ones
	// so recovery resumes exactly where the crash left off.
	for i := range tasks {
		if t := e.plan.Task(tasks[i].ID); t != nil {
			*t = tasks[i]
		}
	}
	e.plan.Status = PlanStatusActive
	now := time.Now()
	e.plan.StartedAt = &now
	return nil
}

// Config returns the engine's current admission config.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

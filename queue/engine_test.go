package queue

import (
	"testing"
	"time"
)

func submitPlan(t *testing.T, tasks []Task, config Config) *Engine {
	t.Helper()
	e := NewEngine(nil)
	if _, err := e.Submit(tasks, nil, config); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return e
}

func threeTaskChain() []Task {
	return []Task{
		{ID: "a", Title: "First"},
		{ID: "b", Title: "Second", DependsOn: []string{"a"}},
		{ID: "c", Title: "Third", DependsOn: []string{"b"}},
	}
}

func TestSubmit_AutoStartReadiness(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})

	plan := e.Plan()
	if got := plan.Task("a").Status; got != TaskStatusReady {
		t.Errorf("expected a ready, got %s", got)
	}
	if got := plan.Task("b").Status; got != TaskStatusPending {
		t.Errorf("expected b pending, got %s", got)
	}
	if got := plan.Task("c").Status; got != TaskStatusPending {
		t.Errorf("expected c pending, got %s", got)
	}
}

func TestSubmit_NoAutoStartLeavesPending(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: false})

	for _, task := range e.Plan().Tasks {
		if task.Status != TaskStatusPending {
			t.Errorf("expected %s pending, got %s", task.ID, task.Status)
		}
	}
}

func TestSubmit_UnknownDependencyRejected(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.Submit([]Task{{ID: "a", DependsOn: []string{"ghost"}}}, nil, DefaultConfig())
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestSubmit_CycleToleratedNotScheduled(t *testing.T) {
	tasks := []Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"c"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	e := submitPlan(t, tasks, Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Only the acyclic task is ever handed out.
	claimed := e.ClaimNextTasks(10, "")
	if len(claimed) != 1 || claimed[0].ID != "a" {
		t.Fatalf("expected only a claimable, got %v", claimed)
	}
	e.ApplyProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted})
	if got := e.ClaimNextTasks(10, ""); len(got) != 0 {
		t.Errorf("cyclic tasks must never become ready, got %v", got)
	}
}

func TestCascade_ThreeTaskScenario(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}

	claimed := e.ClaimNextTasks(10, "agent-1")
	if len(claimed) != 1 || claimed[0].ID != "a" {
		t.Fatalf("expected to claim a, got %v", claimed)
	}

	outcome := e.ApplyProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted})
	if !outcome.Applied {
		t.Fatal("expected completion applied")
	}
	if len(outcome.NewlyReady) != 1 || outcome.NewlyReady[0] != "b" {
		t.Fatalf("expected only b newly ready, got %v", outcome.NewlyReady)
	}
	if got := e.Plan().Task("c").Status; got != TaskStatusPending {
		t.Errorf("c must stay pending, got %s", got)
	}

	e.ClaimNextTasks(10, "agent-1")
	outcome = e.ApplyProgress(ProgressUpdate{TaskID: "b", Status: TaskStatusCompleted})
	if len(outcome.NewlyReady) != 1 || outcome.NewlyReady[0] != "c" {
		t.Fatalf("expected only c newly ready, got %v", outcome.NewlyReady)
	}

	e.ClaimNextTasks(10, "agent-1")
	outcome = e.ApplyProgress(ProgressUpdate{TaskID: "c", Status: TaskStatusCompleted})
	if !outcome.PlanCompleted {
		t.Fatal("expected plan completed after final task")
	}
	if got := e.Plan().Status; got != PlanStatusCompleted {
		t.Errorf("expected plan completed, got %s", got)
	}
	if e.Plan().CompletedAt == nil {
		t.Error("expected CompletedAt stamped")
	}
}

func TestCascade_MultipleDependencies(t *testing.T) {
	tasks := []Task{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}
	e := submitPlan(t, tasks, Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.ClaimNextTasks(10, "")

	outcome := e.ApplyProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted})
	if len(outcome.NewlyReady) != 0 {
		t.Fatalf("c must not be ready with b incomplete, got %v", outcome.NewlyReady)
	}

	outcome = e.ApplyProgress(ProgressUpdate{TaskID: "b", Status: TaskStatusCompleted})
	if len(outcome.NewlyReady) != 1 || outcome.NewlyReady[0] != "c" {
		t.Fatalf("expected c newly ready, got %v", outcome.NewlyReady)
	}
}

func TestUpdateTaskProgress_UnknownTaskReturnsFalse(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), DefaultConfig())
	if e.UpdateTaskProgress(ProgressUpdate{TaskID: "stale", Status: TaskStatusCompleted}) {
		t.Error("expected false for unknown task id")
	}
}

func TestUpdateTaskProgress_IdempotentRepeat(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.ClaimNextTasks(1, "")

	if !e.UpdateTaskProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted}) {
		t.Fatal("first report should apply")
	}
	if !e.UpdateTaskProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted}) {
		t.Error("repeated identical report must stay a success")
	}
}

func TestUpdateTaskProgress_RejectsIllegalTransition(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})
	// pending → completed skips ready/in_progress.
	if e.UpdateTaskProgress(ProgressUpdate{TaskID: "b", Status: TaskStatusCompleted}) {
		t.Error("expected illegal transition rejected")
	}
}

func TestClaimNextTasks_RespectsLimitAndStatus(t *testing.T) {
	tasks := []Task{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	e := submitPlan(t, tasks, Config{MaxConcurrent: 10, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}

	claimed := e.ClaimNextTasks(2, "")
	if len(claimed) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(claimed))
	}
	for _, task := range claimed {
		if task.Status != TaskStatusInProgress {
			t.Errorf("claimed task %s not in_progress: %s", task.ID, task.Status)
		}
	}
}

func TestClaimNextTasks_NoDoubleDispatch(t *testing.T) {
	e := submitPlan(t, []Task{{ID: "a"}}, Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}

	first := e.ClaimNextTasks(1, "agent-1")
	if len(first) != 1 {
		t.Fatalf("expected one task, got %d", len(first))
	}
	second := e.ClaimNextTasks(1, "agent-2")
	if len(second) != 0 {
		t.Fatalf("same task handed out twice: %v", second)
	}
}

func TestClaimNextTasks_AdmissionBound(t *testing.T) {
	tasks := []Task{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	e := submitPlan(t, tasks, Config{MaxConcurrent: 2, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if got := e.ClaimNextTasks(10, ""); len(got) != 2 {
		t.Fatalf("expected admission bound of 2, got %d", len(got))
	}
	if got := e.ClaimNextTasks(10, ""); len(got) != 0 {
		t.Fatalf("expected no slots left, got %d", len(got))
	}

	// Completing one task frees one slot.
	e.ApplyProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted})
	if got := e.ClaimNextTasks(10, ""); len(got) != 1 {
		t.Fatalf("expected one freed slot, got %d", len(got))
	}
}

func TestGetNextTasks_ReadOnlyAndStable(t *testing.T) {
	tasks := []Task{{ID: "a"}, {ID: "b"}}
	e := submitPlan(t, tasks, Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}

	first := e.GetNextTasks(10)
	second := e.GetNextTasks(10)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("peek must not consume tasks: %d then %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID || first[1].ID != second[1].ID {
		t.Error("peek order must be stable across calls")
	}
}

func TestPauseBlocksAdmission(t *testing.T) {
	e := submitPlan(t, []Task{{ID: "a"}}, Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.PauseExecution(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if got := e.ClaimNextTasks(10, ""); len(got) != 0 {
		t.Fatalf("paused plan must not admit work, got %v", got)
	}
	if got := e.Plan().Task("a").Status; got != TaskStatusReady {
		t.Errorf("pause must not alter task status, got %s", got)
	}

	if err := e.ResumeExecution(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := e.ClaimNextTasks(10, ""); len(got) != 1 {
		t.Fatalf("resume must reopen admission, got %d", len(got))
	}
}

func TestCancelExecution_NoLiveTasksRemain(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.ClaimNextTasks(1, "")
	e.ApplyProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted})

	if err := e.CancelExecution(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	plan := e.Plan()
	if plan.Status != PlanStatusCancelled {
		t.Fatalf("expected cancelled plan, got %s", plan.Status)
	}
	for _, task := range plan.Tasks {
		switch task.Status {
		case TaskStatusCompleted, TaskStatusCancelled:
		default:
			t.Errorf("task %s left live after cancel: %s", task.ID, task.Status)
		}
	}
	if got := plan.Task("a").Status; got != TaskStatusCompleted {
		t.Errorf("completed work must not be cancelled, got %s", got)
	}
}

func TestStartExecution_RequiresDraft(t *testing.T) {
	e := submitPlan(t, []Task{{ID: "a"}}, DefaultConfig())
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.StartExecution(); err == nil {
		t.Fatal("expected error starting an active plan")
	}
}

func TestGetBlockedTasks(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})

	blocked := e.GetBlockedTasks()
	byID := make(map[string][]string)
	for _, b := range blocked {
		byID[b.Task.ID] = b.BlockedBy
	}
	if _, ok := byID["a"]; ok {
		t.Error("ready task a must not be listed as blocked")
	}
	if got := byID["b"]; len(got) != 1 || got[0] != "a" {
		t.Errorf("expected b blocked by a, got %v", got)
	}
	if got := byID["c"]; len(got) != 1 || got[0] != "b" {
		t.Errorf("expected c blocked by b, got %v", got)
	}
}

func TestAddTask_JoinsLivePlan(t *testing.T) {
	e := submitPlan(t, []Task{{ID: "a"}}, Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}

	added, err := e.AddTask(Task{ID: "fix-1", Title: "Investigate failure", Priority: PriorityCritical})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if added.Status != TaskStatusReady {
		t.Errorf("dependency-free follow-up on active plan should be ready, got %s", added.Status)
	}

	dependent, err := e.AddTask(Task{ID: "fix-2", DependsOn: []string{"fix-1"}})
	if err != nil {
		t.Fatalf("add dependent task: %v", err)
	}
	if dependent.Status != TaskStatusPending {
		t.Errorf("dependent follow-up should be pending, got %s", dependent.Status)
	}
}

func TestRestore_ResumesRunningTasks(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.ClaimNextTasks(1, "agent-1")

	tasks, running := e.TasksSnapshot()
	if len(running) != 1 || running[0] != "a" {
		t.Fatalf("expected a running, got %v", running)
	}

	restored := NewEngine(nil)
	if err := restored.Restore(tasks, running, Config{MaxConcurrent: 4, AutoStart: true}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	plan := restored.Plan()
	if got := plan.Task("a").Status; got != TaskStatusInProgress {
		t.Errorf("running task must survive restart, got %s", got)
	}
	if got := plan.Task("b").Status; got != TaskStatusPending {
		t.Errorf("expected b pending after restore, got %s", got)
	}
	if plan.Status != PlanStatusActive {
		t.Errorf("restored plan should resume active, got %s", plan.Status)
	}

	// The restored engine keeps cascading.
	outcome := restored.ApplyProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted, Timestamp: time.Now()})
	if len(outcome.NewlyReady) != 1 || outcome.NewlyReady[0] != "b" {
		t.Errorf("expected cascade after restore, got %v", outcome.NewlyReady)
	}
}

func TestProgressSummary(t *testing.T) {
	e := submitPlan(t, threeTaskChain(), Config{MaxConcurrent: 4, AutoStart: true})
	if err := e.StartExecution(); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.ClaimNextTasks(1, "")
	e.ApplyProgress(ProgressUpdate{TaskID: "a", Status: TaskStatusCompleted})

	p := e.Progress()
	if p.Total != 3 || p.Completed != 1 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p.Percentage < 33 || p.Percentage > 34 {
		t.Errorf("unexpected percentage: %f", p.Percentage)
	}
	if p.Summary() == "" {
		t.Error("expected non-empty summary")
	}
}

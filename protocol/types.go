package protocol

import (
	"encoding/json"

	"github.com/c360studio/taskflow/orchestrator"
	"github.com/c360studio/taskflow/queue"
)

// JSON-RPC 2.0 wire framing. One request or response per line.

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the JSON-RPC transport-level error, used only for
// malformed frames and unknown methods. Domain failures travel in the
// result envelope instead.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
)

// Envelope is the uniform result shape: success plus the method
// payload, or success=false plus a taxonomy error.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func ok(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

func fail(err *Error) Envelope {
	return Envelope{Success: false, Error: err}
}

// Per-method request and result payloads. Each method gets its own
// typed pair rather than one bag of optional fields.

// GetNextTaskParams selects which view of the queue to pull.
type GetNextTaskParams struct {
	// Filter is "ready" (default), "blocked", or "all". Only the ready
	// view claims a task; blocked and all are read-only except that
	// "all" also claims from the ready pool.
	Filter string `json:"filter,omitempty"`

	// IncludeContext requests the task's description and metadata in
	// the result; without it the payload carries scheduling fields only.
	IncludeContext bool `json:"include_context,omitempty"`

	// AgentID identifies the pulling agent for task assignment.
	AgentID string `json:"agent_id,omitempty"`
}

// GetNextTaskResult carries the claimed task, or null when the queue
// has nothing ready. An empty queue is a success, not an error.
// QueueLength is the ready count remaining after this pull.
type GetNextTaskResult struct {
	Task        *queue.Task         `json:"task"`
	QueueLength int                 `json:"queue_length"`
	Blocked     []queue.BlockedTask `json:"blocked,omitempty"`
}

// ReportTaskDoneParams reports an outcome for a pulled task. Status
// uses the wire vocabulary done|failed|blocked|partial: done marks the
// task completed, blocked parks it until an agent resumes it, and
// partial is a progress checkpoint that leaves it in flight.
type ReportTaskDoneParams struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	Summary       string `json:"summary,omitempty"`
	Error         string `json:"error,omitempty"`
	ActualMinutes int    `json:"actual_minutes,omitempty"`
}

// ReportTaskDoneResult reports the scheduling effect of the outcome:
// a human-readable message, the suggested next task, and the cascade.
type ReportTaskDoneResult struct {
	TaskID        string   `json:"task_id"`
	Message       string   `json:"message"`
	NextTaskID    string   `json:"next_task_id,omitempty"`
	NewlyReady    []string `json:"newly_ready,omitempty"`
	PlanCompleted bool     `json:"plan_completed"`
}

// AskQuestionParams carries an agent's question.
type AskQuestionParams struct {
	Topic    string `json:"topic"`
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
	Urgency  string `json:"urgency,omitempty"`
}

// AskQuestionResult is the routed answer.
type AskQuestionResult struct {
	QuestionID  string   `json:"question_id"`
	Answer      string   `json:"answer"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
	Uncertainty string   `json:"uncertainty,omitempty"`
}

// ReportObservationParams records something an agent noticed while
// working. Observations may request a follow-up task.
type ReportObservationParams struct {
	TaskID      string `json:"task_id"`
	Observation string `json:"observation"`

	// Type classifies the observation (e.g. "risk", "dependency",
	// "improvement"). Free-form.
	Type string `json:"type,omitempty"`

	// Severity is "info" (default), "warning", or "critical".
	Severity string `json:"severity,omitempty"`

	FollowUpTitle string `json:"follow_up_title,omitempty"`
}

// ReportObservationResult acknowledges the observation and names the
// follow-up task when one was created.
type ReportObservationResult struct {
	ObservationID  string `json:"observation_id"`
	NewTaskCreated bool   `json:"new_task_created"`
	FollowUpTaskID string `json:"follow_up_task_id,omitempty"`
}

// ReportTestFailureParams reports a failing test encountered mid-task.
type ReportTestFailureParams struct {
	TaskID        string `json:"task_id"`
	TestName      string `json:"test_name"`
	FailureOutput string `json:"failure_output,omitempty"`
}

// ReportTestFailureResult names the blocker ticket and the critical
// investigation task spawned for the failure.
type ReportTestFailureResult struct {
	TicketID            string `json:"ticket_id"`
	InvestigationTaskID string `json:"investigation_task_id"`
}

// VerificationIssue is one checklist finding.
type VerificationIssue struct {
	Severity    string `json:"severity"` // "critical", "major", "minor"
	Description string `json:"description"`
}

// ReportVerificationResultParams reports the outcome of verifying a
// completed task.
type ReportVerificationResultParams struct {
	TaskID string              `json:"task_id"`
	Passed bool                `json:"passed"`
	Issues []VerificationIssue `json:"issues,omitempty"`
}

// ReportVerificationResultResult reports what the verification did to
// the plan: the status the original task was marked with and any
// follow-up tasks created from issues.
type ReportVerificationResultResult struct {
	TaskID          string   `json:"task_id"`
	TaskMarked      string   `json:"task_marked"`
	FollowUpTaskIDs []string `json:"follow_up_task_ids,omitempty"`
}

// QueueStatusResult exposes the orchestrator queue summary.
type QueueStatusResult struct {
	orchestrator.QueueStatus
}

package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360studio/taskflow/orchestrator"
	"github.com/c360studio/taskflow/queue"
)

// maxFrameSize bounds a single request line. Agents sending more than
// this are misbehaving; the stream errors out rather than buffering
// unboundedly.
const maxFrameSize = 1 << 20

// questionRetryAfterSeconds is the retry delay suggested when a
// question times out.
const questionRetryAfterSeconds = 30

// Server speaks newline-delimited JSON-RPC 2.0 over a byte stream.
// One server instance handles one stream; the orchestrator behind it
// is shared and safe for concurrent servers.
type Server struct {
	svc    *orchestrator.Service
	logger *slog.Logger
}

// NewServer creates a protocol server over the given orchestrator.
func NewServer(svc *orchestrator.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		logger: logger.With("component", "protocol-server"),
	}
}

// Serve reads requests line by line until EOF, the context is
// cancelled, or the stream fails. Every request gets exactly one
// response line.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	encoder := json.NewEncoder(rw)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.handle(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

// handle parses and dispatches one request line.
func (s *Server) handle(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return response{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: rpcParseError, Message: "parse error"},
		}
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: rpcInvalidRequest, Message: "invalid request"},
		}
	}

	var env Envelope
	switch req.Method {
	case "getNextTask":
		env = s.handleGetNextTask(req.Params)
	case "reportTaskDone":
		env = s.handleReportTaskDone(req.Params)
	case "askQuestion":
		env = s.handleAskQuestion(ctx, req.Params)
	case "reportObservation":
		env = s.handleReportObservation(req.Params)
	case "reportTestFailure":
		env = s.handleReportTestFailure(ctx, req.Params)
	case "reportVerificationResult":
		env = s.handleReportVerificationResult(req.Params)
	case "getQueueStatus":
		env = ok(QueueStatusResult{s.svc.GetQueueStatus()})
	default:
		return response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: rpcMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)},
		}
	}

	if !env.Success {
		s.logger.Debug("Request failed",
			"method", req.Method,
			"code", env.Error.Code,
			"message", env.Error.Message)
	}
	return response{JSONRPC: "2.0", ID: req.ID, Result: env}
}

func (s *Server) handleGetNextTask(params json.RawMessage) Envelope {
	var p GetNextTaskParams
	if err := decode(params, &p); err != nil {
		return fail(err)
	}

	filter := p.Filter
	if filter == "" {
		filter = "ready"
	}
	switch filter {
	case "ready", "blocked", "all":
	default:
		return fail(NewInvalidParam("filter must be ready, blocked, or all, got %q", p.Filter))
	}

	var result GetNextTaskResult
	if filter == "ready" || filter == "all" {
		// A task-less result is still a success; the agent polls again
		// later.
		result.Task = s.svc.PullNextTask(p.AgentID)
	}
	if filter == "blocked" || filter == "all" {
		result.Blocked = s.svc.Engine().GetBlockedTasks()
	}
	result.QueueLength = s.svc.Engine().Progress().Ready

	if !p.IncludeContext {
		if result.Task != nil {
			stripContext(result.Task)
		}
		for i := range result.Blocked {
			stripContext(result.Blocked[i].Task)
		}
	}
	return ok(result)
}

// stripContext drops the heavyweight fields from a task copy when the
// caller did not ask for context.
func stripContext(t *queue.Task) {
	t.Description = ""
	t.Metadata = nil
}

func (s *Server) handleReportTaskDone(params json.RawMessage) Envelope {
	var p ReportTaskDoneParams
	if err := decode(params, &p); err != nil {
		return fail(err)
	}
	if p.TaskID == "" {
		return fail(NewInvalidParam("task_id is required"))
	}

	var status queue.TaskStatus
	switch p.Status {
	case "done", "completed":
		status = queue.TaskStatusCompleted
	case "failed":
		status = queue.TaskStatusFailed
	case "blocked":
		status = queue.TaskStatusBlocked
	case "partial":
		// A progress checkpoint: the task stays in flight.
		status = queue.TaskStatusInProgress
	default:
		return fail(NewInvalidParam("status must be done, failed, blocked, or partial, got %q", p.Status))
	}

	current, exists := s.taskStatus(p.TaskID)
	if !exists {
		return fail(NewResourceNotFound("task", p.TaskID))
	}

	outcome := s.svc.ReportProgress(queue.ProgressUpdate{
		TaskID:        p.TaskID,
		Status:        status,
		Error:         p.Error,
		ActualMinutes: p.ActualMinutes,
	})
	if !outcome.Applied {
		return fail(NewInvalidState(
			fmt.Sprintf("task %s", p.TaskID),
			string(current),
			allowedTaskTransitions(current)))
	}

	result := ReportTaskDoneResult{
		TaskID:        p.TaskID,
		Message:       fmt.Sprintf("task %s marked %s", p.TaskID, status),
		NewlyReady:    outcome.NewlyReady,
		PlanCompleted: outcome.PlanCompleted,
	}
	if len(outcome.NewlyReady) > 0 {
		result.Message = fmt.Sprintf("task %s marked %s, %d tasks newly ready", p.TaskID, status, len(outcome.NewlyReady))
	}
	if outcome.PlanCompleted {
		result.Message = fmt.Sprintf("task %s marked %s, plan completed", p.TaskID, status)
	}

	// Suggest what to work on next: prefer a task this report just
	// unblocked, otherwise peek at the head of the ready pool.
	if len(outcome.NewlyReady) > 0 {
		result.NextTaskID = outcome.NewlyReady[0]
	} else if next := s.svc.Engine().GetNextTasks(1); len(next) > 0 {
		result.NextTaskID = next[0].ID
	}

	return ok(result)
}

func (s *Server) handleAskQuestion(ctx context.Context, params json.RawMessage) Envelope {
	var p AskQuestionParams
	if err := decode(params, &p); err != nil {
		return fail(err)
	}
	if p.Topic == "" {
		return fail(NewInvalidParam("topic is required"))
	}
	if p.Question == "" {
		return fail(NewInvalidParam("question is required"))
	}
	urgency := orchestrator.Urgency(p.Urgency)
	if p.Urgency != "" && !urgency.IsValid() {
		return fail(NewInvalidParam("urgency must be low, normal, high, or blocking, got %q", p.Urgency))
	}

	q := &orchestrator.Question{
		Topic:    p.Topic,
		Question: p.Question,
		Context:  p.Context,
		TaskID:   p.TaskID,
		Urgency:  urgency,
	}
	ans, err := s.svc.Ask(ctx, q)
	if err != nil {
		if errors.Is(err, orchestrator.ErrQuestionTimeout) {
			return fail(NewTimeout(
				fmt.Sprintf("question %s was not answered in time", q.ID),
				questionRetryAfterSeconds,
				"create a ticket for this question and continue with other work"))
		}
		return fail(NewStateConflict("question could not be answered: %v", err))
	}

	return ok(AskQuestionResult{
		QuestionID:  ans.QuestionID,
		Answer:      ans.Answer,
		Confidence:  ans.Confidence,
		Evidence:    ans.Evidence,
		Uncertainty: ans.Uncertainty,
	})
}

func (s *Server) handleReportObservation(params json.RawMessage) Envelope {
	var p ReportObservationParams
	if err := decode(params, &p); err != nil {
		return fail(err)
	}
	if p.TaskID == "" {
		return fail(NewInvalidParam("task_id is required"))
	}
	if p.Observation == "" {
		return fail(NewInvalidParam("observation is required"))
	}
	severity := p.Severity
	if severity == "" {
		severity = "info"
	}
	switch severity {
	case "info", "warning", "critical":
	default:
		return fail(NewInvalidParam("severity must be info, warning, or critical, got %q", p.Severity))
	}
	if _, exists := s.taskStatus(p.TaskID); !exists {
		return fail(NewResourceNotFound("task", p.TaskID))
	}

	result := ReportObservationResult{
		ObservationID: fmt.Sprintf("obs-%s", uuid.New().String()[:8]),
	}
	s.logger.Info("Observation recorded",
		"observation_id", result.ObservationID,
		"task_id", p.TaskID,
		"type", p.Type,
		"severity", severity,
		"observation", p.Observation)

	if p.FollowUpTitle != "" {
		priority := queue.PriorityNormal
		if severity == "critical" {
			priority = queue.PriorityHigh
		}
		follow, err := s.svc.AddFollowUpTask(queue.Task{
			ID:          newTaskID(),
			Title:       p.FollowUpTitle,
			Description: p.Observation,
			Priority:    priority,
			Metadata: map[string]string{
				"source":      "observation",
				"origin_task": p.TaskID,
				"type":        p.Type,
				"severity":    severity,
			},
		})
		if err != nil {
			return fail(NewStateConflict("could not add follow-up task: %v", err))
		}
		result.NewTaskCreated = true
		result.FollowUpTaskID = follow.ID
	}
	return ok(result)
}

func (s *Server) handleReportTestFailure(ctx context.Context, params json.RawMessage) Envelope {
	var p ReportTestFailureParams
	if err := decode(params, &p); err != nil {
		return fail(err)
	}
	if p.TaskID == "" {
		return fail(NewInvalidParam("task_id is required"))
	}
	if p.TestName == "" {
		return fail(NewInvalidParam("test_name is required"))
	}
	if _, exists := s.taskStatus(p.TaskID); !exists {
		return fail(NewResourceNotFound("task", p.TaskID))
	}

	// A failing test blocks the plan: file a blocker ticket and put a
	// critical investigation task into the queue.
	fix, err := s.svc.CreateFixTicket(ctx,
		fmt.Sprintf("Failing test: %s", p.TestName),
		p.FailureOutput,
		true)
	if err != nil {
		return fail(NewStateConflict("could not create fix ticket: %v", err))
	}

	investigation, err := s.svc.AddFollowUpTask(queue.Task{
		ID:          newTaskID(),
		Title:       fmt.Sprintf("Investigate test failure: %s", p.TestName),
		Description: p.FailureOutput,
		Priority:    queue.PriorityCritical,
		Metadata: map[string]string{
			"source":      "test_failure",
			"origin_task": p.TaskID,
			"ticket_id":   fix.ID,
		},
	})
	if err != nil {
		return fail(NewStateConflict("could not add investigation task: %v", err))
	}

	return ok(ReportTestFailureResult{
		TicketID:            fix.ID,
		InvestigationTaskID: investigation.ID,
	})
}

func (s *Server) handleReportVerificationResult(params json.RawMessage) Envelope {
	var p ReportVerificationResultParams
	if err := decode(params, &p); err != nil {
		return fail(err)
	}
	if p.TaskID == "" {
		return fail(NewInvalidParam("task_id is required"))
	}
	for i, issue := range p.Issues {
		switch issue.Severity {
		case "critical", "major", "minor":
		default:
			return fail(NewInvalidParam("issues[%d].severity must be critical, major, or minor, got %q", i, issue.Severity))
		}
		if issue.Description == "" {
			return fail(NewInvalidParam("issues[%d].description is required", i))
		}
	}

	current, exists := s.taskStatus(p.TaskID)
	if !exists {
		return fail(NewResourceNotFound("task", p.TaskID))
	}

	status := queue.TaskStatusCompleted
	errText := ""
	if !p.Passed {
		status = queue.TaskStatusFailed
		errText = fmt.Sprintf("verification failed with %d issues", len(p.Issues))
	}

	outcome := s.svc.ReportProgress(queue.ProgressUpdate{
		TaskID: p.TaskID,
		Status: status,
		Error:  errText,
	})
	if !outcome.Applied {
		return fail(NewInvalidState(
			fmt.Sprintf("task %s", p.TaskID),
			string(current),
			allowedTaskTransitions(current)))
	}

	result := ReportVerificationResultResult{
		TaskID:     p.TaskID,
		TaskMarked: string(status),
	}

	// Critical and major findings become follow-up work; minor ones
	// are recorded in the log only.
	for _, issue := range p.Issues {
		if issue.Severity == "minor" {
			s.logger.Info("Minor verification issue",
				"task_id", p.TaskID,
				"description", issue.Description)
			continue
		}
		priority := queue.PriorityHigh
		if issue.Severity == "critical" {
			priority = queue.PriorityCritical
		}
		follow, err := s.svc.AddFollowUpTask(queue.Task{
			ID:       newTaskID(),
			Title:    fmt.Sprintf("Fix verification issue: %s", issue.Description),
			Priority: priority,
			Metadata: map[string]string{
				"source":      "verification",
				"origin_task": p.TaskID,
				"severity":    issue.Severity,
			},
		})
		if err != nil {
			return fail(NewStateConflict("could not add follow-up task: %v", err))
		}
		result.FollowUpTaskIDs = append(result.FollowUpTaskIDs, follow.ID)
	}

	return ok(result)
}

// taskStatus looks up the current status of a task in the live plan.
func (s *Server) taskStatus(id string) (queue.TaskStatus, bool) {
	plan := s.svc.Engine().Plan()
	if plan == nil {
		return "", false
	}
	t := plan.Task(id)
	if t == nil {
		return "", false
	}
	return t.Status, true
}

// decode unmarshals params strictly; unknown or malformed input is an
// InvalidParam before any state is touched.
func decode(params json.RawMessage, into any) *Error {
	if len(params) == 0 {
		return NewInvalidParam("params are required")
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return NewInvalidParam("malformed params: %v", err)
	}
	return nil
}

func newTaskID() string {
	return fmt.Sprintf("task-%s", uuid.New().String()[:8])
}

func allowedTaskTransitions(from queue.TaskStatus) []string {
	all := []queue.TaskStatus{
		queue.TaskStatusPending,
		queue.TaskStatusReady,
		queue.TaskStatusInProgress,
		queue.TaskStatusCompleted,
		queue.TaskStatusFailed,
		queue.TaskStatusBlocked,
		queue.TaskStatusCancelled,
	}
	var out []string
	for _, to := range all {
		if from.CanTransitionTo(to) {
			out = append(out, string(to))
		}
	}
	return out
}

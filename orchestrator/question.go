package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrQuestionTimeout is returned when no answerer produces an answer
// within the configured question timeout.
var ErrQuestionTimeout = errors.New("question not answered within timeout")

// Urgency indicates how urgently an agent needs an answer.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyBlocking Urgency = "blocking"
)

// IsValid returns true if the urgency is a recognized value.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyBlocking:
		return true
	}
	return false
}

// Question is a knowledge gap an agent needs resolved before it can
// proceed.
type Question struct {
	// ID uniquely identifies this question (format: q-{uuid}).
	ID string `json:"id"`

	// FromAgent identifies who asked.
	FromAgent string `json:"from_agent,omitempty"`

	// Topic is hierarchical (e.g. "task.status", "plan.progress") and
	// routes the question to an answerer.
	Topic string `json:"topic"`

	// Question is the question text.
	Question string `json:"question"`

	// Context provides background for the answerer.
	Context string `json:"context,omitempty"`

	// TaskID is the task the asker is working on, if any.
	TaskID string `json:"task_id,omitempty"`

	Urgency Urgency   `json:"urgency"`
	AskedAt time.Time `json:"asked_at"`
}

// Answer is an answerer's response to a question.
type Answer struct {
	QuestionID string  `json:"question_id"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`

	// Evidence lists the facts the answer was derived from.
	Evidence []string `json:"evidence,omitempty"`

	// Uncertainty explains what the answerer is unsure about. Populated
	// whenever confidence falls below the reporting threshold.
	Uncertainty string `json:"uncertainty,omitempty"`

	AnsweredAt time.Time `json:"answered_at"`
}

// uncertaintyThreshold is the confidence below which an answer must
// carry an uncertainty explanation.
const uncertaintyThreshold = 0.7

// Answerer resolves questions on the topics it knows about. CanAnswer
// is a cheap routing check; Answer may block up to the ctx deadline.
type Answerer interface {
	CanAnswer(topic string) bool
	Answer(ctx context.Context, q *Question) (*Answer, error)
}

// NewQuestionID generates a unique question id.
func NewQuestionID() string {
	return fmt.Sprintf("q-%s", uuid.New().String())
}

// PlanAnswerer answers plan and task questions from the live engine
// state. It covers the "task.*" and "plan.*" topic trees.
type PlanAnswerer struct {
	service *Service
}

// NewPlanAnswerer creates an answerer over the given service.
func NewPlanAnswerer(s *Service) *PlanAnswerer {
	return &PlanAnswerer{service: s}
}

// CanAnswer implements Answerer.
func (a *PlanAnswerer) CanAnswer(topic string) bool {
	return strings.HasPrefix(topic, "task.") || strings.HasPrefix(topic, "plan.")
}

// Answer implements Answerer. Answers are derived from engine state
// only, so confidence is high when the referenced task exists and low
// otherwise.
func (a *PlanAnswerer) Answer(_ context.Context, q *Question) (*Answer, error) {
	ans := &Answer{
		QuestionID: q.ID,
		AnsweredAt: time.Now(),
	}

	switch {
	case strings.HasPrefix(q.Topic, "plan."):
		progress := a.service.engine.Progress()
		ans.Answer = progress.Summary()
		ans.Confidence = 0.95
		ans.Evidence = []string{fmt.Sprintf("live plan state at %s", ans.AnsweredAt.Format(time.RFC3339))}

	case q.TaskID != "":
		plan := a.service.engine.Plan()
		if plan == nil {
			ans.Answer = "no execution plan has been submitted"
			ans.Confidence = 0.5
			break
		}
		t := plan.Task(q.TaskID)
		if t == nil {
			ans.Answer = fmt.Sprintf("task %s is not part of the current plan", q.TaskID)
			ans.Confidence = 0.6
			break
		}
		ans.Answer = fmt.Sprintf("task %s (%s) is %s", t.ID, t.Title, t.Status)
		if len(t.DependsOn) > 0 {
			ans.Answer += fmt.Sprintf(", depending on %s", strings.Join(t.DependsOn, ", "))
		}
		ans.Confidence = 0.9
		ans.Evidence = []string{fmt.Sprintf("task record %s", t.ID)}

	default:
		ans.Answer = "the question does not reference a known task or plan"
		ans.Confidence = 0.3
	}

	if ans.Confidence < uncertaintyThreshold {
		ans.Uncertainty = "answer derived from partial engine state; the referenced entity could not be fully resolved"
	}
	return ans, nil
}

// Ask routes a question to the first answerer that claims its topic and
// waits for the answer, bounded by the configured question timeout.
// An unanswerable or timed-out question returns ErrQuestionTimeout so
// the protocol layer can suggest falling back to a ticket.
func (s *Service) Ask(ctx context.Context, q *Question) (*Answer, error) {
	if q.ID == "" {
		q.ID = NewQuestionID()
	}
	if q.Urgency == "" {
		q.Urgency = UrgencyNormal
	}
	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now()
	}
	s.metrics.QuestionsAsked.Inc()

	ctx, cancel := context.WithTimeout(ctx, s.config.Orchestrator.QuestionTimeout)
	defer cancel()

	for _, a := range s.answerers {
		if !a.CanAnswer(q.Topic) {
			continue
		}
		type result struct {
			ans *Answer
			err error
		}
		done := make(chan result, 1)
		go func() {
			ans, err := a.Answer(ctx, q)
			done <- result{ans, err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			s.logger.Debug("Question answered",
				"question_id", q.ID,
				"topic", q.Topic,
				"confidence", r.ans.Confidence)
			return r.ans, nil
		case <-ctx.Done():
			s.logger.Warn("Question timed out",
				"question_id", q.ID,
				"topic", q.Topic,
				"urgency", q.Urgency)
			return nil, fmt.Errorf("%w: %s", ErrQuestionTimeout, q.ID)
		}
	}

	s.logger.Warn("No answerer for question topic",
		"question_id", q.ID,
		"topic", q.Topic)
	return nil, fmt.Errorf("%w: no answerer for topic %s", ErrQuestionTimeout, q.Topic)
}

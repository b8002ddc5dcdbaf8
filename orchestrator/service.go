// Package orchestrator wires the execution plan engine, snapshot
// persistence, and ticket storage into one service behind the agent
// protocol. The service is explicitly constructed; a process-wide
// singleton accessor exists for the cmd layer but tests build their
// own instances.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"

	"github.com/c360studio/taskflow/config"
	"github.com/c360studio/taskflow/persist"
	"github.com/c360studio/taskflow/queue"
	"github.com/c360studio/taskflow/storage"
	"github.com/c360studio/taskflow/ticket"
)

// Service coordinates the queue engine, persistence, and ticket
// storage. All engine mutations are serialized by the engine's own
// mutex; the service mutex guards only lifecycle state.
type Service struct {
	mu          sync.Mutex
	initialized bool
	degraded    bool

	engine  *queue.Engine
	store   *persist.Store
	tickets storage.TicketStore
	config  *config.Config
	logger  *slog.Logger
	metrics *Metrics
	subs    *subscribers
	idgen   *ticket.IDGenerator

	answerers []Answerer

	lastDispatched string
}

// NewService assembles a service from its collaborators. Pass a nil
// ticket store to run without external ticket storage.
func NewService(cfg *config.Config, tickets storage.TicketStore, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	s := &Service{
		engine:  queue.NewEngine(logger),
		store:   persist.NewStore(cfg.Persistence.Path, persist.WithMaxBackups(cfg.Persistence.MaxBackups), persist.WithLogger(logger)),
		tickets: tickets,
		config:  cfg,
		logger:  logger,
		metrics: NewMetrics(),
		subs:    newSubscribers(),
		idgen:   ticket.NewIDGenerator(""),
	}
	s.answerers = []Answerer{NewPlanAnswerer(s)}
	return s
}

// Initialize brings the service up: recover from a snapshot when one
// exists, otherwise seed the plan from ticket storage. Ticket storage
// failure is not fatal; the service degrades to an empty queue and
// records that it did. Calling Initialize twice is a warn and no-op.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.logger.Warn("Initialize called on an initialized service; ignoring")
		return nil
	}

	snap, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	switch {
	case snap != nil && len(snap.Tasks) > 0:
		if err := s.engine.Restore(snap.Tasks, snap.RunningTasks, snap.Config); err != nil {
			return fmt.Errorf("restore from snapshot: %w", err)
		}
		s.logger.Info("Recovered from snapshot",
			"task_count", len(snap.Tasks),
			"running_tasks", len(snap.RunningTasks),
			"saved_at", snap.Timestamp)

	default:
		tasks := s.loadTasksFromTickets(ctx)
		queueCfg := queue.Config{
			MaxConcurrent:   s.config.Queue.MaxConcurrent,
			DefaultPriority: queue.PriorityNormal,
			AutoStart:       s.config.Queue.AutoStart,
		}
		if _, err := s.engine.Submit(tasks, nil, queueCfg); err != nil {
			return fmt.Errorf("submit initial plan: %w", err)
		}
		if err := s.engine.StartExecution(); err != nil {
			return fmt.Errorf("start execution: %w", err)
		}
		s.logger.Info("Plan seeded from ticket storage",
			"task_count", len(tasks),
			"degraded", s.degraded)
	}

	s.store.StartAutoSave(s.config.Persistence.AutoSaveInterval, s.saveSnapshot)
	s.initialized = true
	s.refreshGauges()
	return nil
}

// loadTasksFromTickets pulls open work from ticket storage and maps it
// to queue tasks. Transient failures are retried; persistent failure
// degrades to an empty task list rather than failing startup.
func (s *Service) loadTasksFromTickets(ctx context.Context) []queue.Task {
	if s.tickets == nil {
		return nil
	}

	var listed []*ticket.Ticket
	retryConfig := retry.DefaultConfig()
	err := retry.Do(ctx, retryConfig, func() error {
		var lerr error
		listed, lerr = s.tickets.ListTickets(ctx)
		return lerr
	})
	if err != nil {
		s.logger.Warn("Ticket storage unavailable; starting with an empty queue",
			"error", err,
			"retryable", !retry.IsNonRetryable(err))
		s.degraded = true
		return nil
	}

	var tasks []queue.Task
	for _, t := range listed {
		if t.Status == ticket.StatusDone {
			continue
		}
		tasks = append(tasks, ticketToTask(t))
	}
	return tasks
}

// ticketToTask maps a stored ticket onto a fresh queue task. Priority
// enums share ordinals across the two models.
func ticketToTask(t *ticket.Ticket) queue.Task {
	return queue.Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    queue.Priority(t.Priority),
		CreatedAt:   t.CreatedAt,
		Metadata:    map[string]string{"source": "ticket"},
	}
}

// Degraded reports whether startup fell back to an empty queue because
// ticket storage was unreachable. The public queue surface does not
// distinguish the two; this is for operators and logs.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// PullNextTask claims the next ready task for an agent, moving it to
// in_progress. Returns nil when nothing is ready; an empty queue is a
// normal outcome, not an error.
func (s *Service) PullNextTask(assignee string) *queue.Task {
	claimed := s.engine.ClaimNextTasks(1, assignee)
	if len(claimed) == 0 {
		return nil
	}

	t := claimed[0]
	s.mu.Lock()
	s.lastDispatched = t.Title
	s.mu.Unlock()

	s.metrics.TasksDispatched.Inc()
	s.refreshGauges()
	s.subs.notify(QueueChange{Kind: ChangeTaskDispatched, TaskID: t.ID})
	return t
}

// ReportProgress applies an agent's progress report. Completion
// cascades readiness, bumps the processed counter, persists a
// snapshot, and notifies subscribers. A report for an unknown task id
// is a no-op with Applied=false.
func (s *Service) ReportProgress(u queue.ProgressUpdate) queue.UpdateOutcome {
	outcome := s.engine.ApplyProgress(u)
	if !outcome.Applied {
		return outcome
	}

	switch u.Status {
	case queue.TaskStatusCompleted:
		s.metrics.TasksCompleted.Inc()
		s.store.IncrementTasksProcessed()
		s.subs.notify(QueueChange{Kind: ChangeTaskCompleted, TaskID: u.TaskID})
	case queue.TaskStatusFailed:
		s.metrics.TasksFailed.Inc()
		s.subs.notify(QueueChange{Kind: ChangeTaskFailed, TaskID: u.TaskID})
	}
	if outcome.PlanCompleted {
		s.subs.notify(QueueChange{Kind: ChangePlanCompleted})
	}

	if err := s.saveSnapshot(); err != nil {
		s.logger.Warn("Snapshot save after progress report failed", "error", err)
	}
	s.refreshGauges()
	return outcome
}

// AddFollowUpTask inserts a task discovered mid-run (observation
// follow-up, test-failure investigation) into the live plan.
func (s *Service) AddFollowUpTask(t queue.Task) (*queue.Task, error) {
	added, err := s.engine.AddTask(t)
	if err != nil {
		return nil, err
	}
	s.subs.notify(QueueChange{Kind: ChangeTaskAdded, TaskID: added.ID})
	if err := s.saveSnapshot(); err != nil {
		s.logger.Warn("Snapshot save after task add failed", "error", err)
	}
	s.refreshGauges()
	return added, nil
}

// CreateFixTicket files a sequentially numbered fix ticket in ticket
// storage. Used for test-failure investigations and question
// fallbacks. Without a ticket store the ticket exists only in the
// returned value.
func (s *Service) CreateFixTicket(ctx context.Context, title, description string, blocker bool) (*ticket.Ticket, error) {
	t := &ticket.Ticket{
		ID:          s.idgen.Next(),
		Title:       title,
		Description: description,
		Status:      ticket.StatusOpen,
		Priority:    ticket.PriorityCritical,
		Blocker:     blocker,
	}
	if s.tickets == nil {
		now := time.Now()
		t.CreatedAt = now
		t.UpdatedAt = now
		s.logger.Warn("No ticket store configured; fix ticket not persisted", "ticket_id", t.ID)
		return t, nil
	}
	return s.tickets.CreateTicket(ctx, t)
}

// QueueStatus is the operator-facing view of the queue.
type QueueStatus struct {
	QueueLength    int            `json:"queue_length"`
	BlockedCount   int            `json:"blocked_count"`
	CriticalCount  int            `json:"critical_count"`
	LastDispatched string         `json:"last_dispatched,omitempty"`
	Progress       queue.Progress `json:"progress"`
}

// GetQueueStatus summarizes the queue: ready depth, blocked count,
// critical-priority count, and the last dispatched task title.
func (s *Service) GetQueueStatus() QueueStatus {
	status := QueueStatus{Progress: s.engine.Progress()}
	status.QueueLength = status.Progress.Ready
	status.BlockedCount = len(s.engine.GetBlockedTasks())

	if plan := s.engine.Plan(); plan != nil {
		for _, t := range plan.Tasks {
			if t.Priority == queue.PriorityCritical && !t.Status.IsTerminal() {
				status.CriticalCount++
			}
		}
	}

	s.mu.Lock()
	status.LastDispatched = s.lastDispatched
	s.mu.Unlock()
	return status
}

// Subscribe registers a queue-change listener. Delivery is
// at-least-once per subscriber; a listener that stops draining loses
// notifications rather than blocking the engine. The returned func
// unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan QueueChange, func()) {
	return s.subs.subscribe()
}

// Engine exposes the underlying queue engine for lifecycle operations
// (pause, resume, cancel) not mediated by the protocol.
func (s *Service) Engine() *queue.Engine {
	return s.engine
}

// Metrics exposes the service's Prometheus collectors.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// saveSnapshot persists the current queue state.
func (s *Service) saveSnapshot() error {
	tasks, running := s.engine.TasksSnapshot()
	if err := s.store.Save(tasks, running, s.engine.Config()); err != nil {
		return err
	}
	s.metrics.SnapshotSaves.Inc()
	return nil
}

// refreshGauges recomputes the depth gauges from engine state.
func (s *Service) refreshGauges() {
	p := s.engine.Progress()
	s.metrics.QueueDepth.Set(float64(p.Ready))
	s.metrics.BlockedTasks.Set(float64(len(s.engine.GetBlockedTasks())))
}

// Shutdown stops the auto-save timer, flushes a final snapshot, and
// drops subscribers. Safe to call on an uninitialized service.
func (s *Service) Shutdown(_ context.Context) error {
	s.mu.Lock()
	initialized := s.initialized
	s.initialized = false
	s.mu.Unlock()

	s.store.StopAutoSave()
	s.subs.closeAll()

	if !initialized {
		return nil
	}
	if err := s.saveSnapshot(); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	s.logger.Info("Orchestrator shut down", "tasks_processed", s.store.TasksProcessed())
	return nil
}

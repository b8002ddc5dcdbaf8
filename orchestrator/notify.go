package orchestrator

import (
	"sync"
	"time"
)

// ChangeKind classifies a queue change notification.
type ChangeKind string

const (
	ChangeTaskDispatched ChangeKind = "task_dispatched"
	ChangeTaskCompleted  ChangeKind = "task_completed"
	ChangeTaskFailed     ChangeKind = "task_failed"
	ChangeTaskAdded      ChangeKind = "task_added"
	ChangePlanCompleted  ChangeKind = "plan_completed"
)

// QueueChange is one observable change to the execution queue.
// Delivery is at-least-once per subscriber with no ordering guarantee
// across subscribers.
type QueueChange struct {
	Kind      ChangeKind `json:"kind"`
	TaskID    string     `json:"task_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that
// falls this far behind starts losing notifications rather than
// stalling the engine.
const subscriberBuffer = 16

type subscribers struct {
	mu   sync.Mutex
	subs map[int]chan QueueChange
	next int
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[int]chan QueueChange)}
}

// subscribe registers a new listener and returns its channel plus an
// unsubscribe func. Unsubscribe closes the channel.
func (s *subscribers) subscribe() (<-chan QueueChange, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan QueueChange, subscriberBuffer)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// notify fans a change out to every subscriber. Sends never block;
// a full subscriber buffer drops the notification for that subscriber.
func (s *subscribers) notify(c QueueChange) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// closeAll drops every subscriber, used at shutdown.
func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Package storage provides ticket storage for taskflow. The
// orchestration engine needs only create/get/list/transition against
// the backing store; callers degrade to an empty queue when the
// backend is unavailable rather than propagating the failure.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/taskflow/ticket"
)

// TicketStore is the collaborator interface the orchestrator consumes.
type TicketStore interface {
	// CreateTicket stores a new ticket and returns it with its id and
	// timestamps populated.
	CreateTicket(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error)

	// GetTicket retrieves a ticket by id.
	GetTicket(ctx context.Context, id string) (*ticket.Ticket, error)

	// ListTickets returns all tickets, ordered by creation time.
	ListTickets(ctx context.Context) ([]*ticket.Ticket, error)

	// TransitionTicket moves a ticket to a new status after validating
	// the transition, recording the change in the audit trail.
	TransitionTicket(ctx context.Context, id string, to ticket.Status) (*ticket.Ticket, error)
}

// NewTicketID generates a unique ticket id.
func NewTicketID() string {
	return fmt.Sprintf("ticket-%s", uuid.New().String()[:8])
}

// MemoryStore is an in-memory TicketStore for tests and degraded
// operation when no backend is reachable.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]*ticket.Ticket
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]*ticket.Ticket)}
}

// CreateTicket implements TicketStore.
func (s *MemoryStore) CreateTicket(_ context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *t
	if copied.ID == "" {
		copied.ID = NewTicketID()
	}
	if _, exists := s.tickets[copied.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, copied.ID)
	}
	if copied.Status == "" {
		copied.Status = ticket.StatusOpen
	}
	now := time.Now()
	copied.CreatedAt = now
	copied.UpdatedAt = now

	s.tickets[copied.ID] = &copied
	out := copied
	return &out, nil
}

// GetTicket implements TicketStore.
func (s *MemoryStore) GetTicket(_ context.Context, id string) (*ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *t
	return &copied, nil
}

// ListTickets implements TicketStore.
func (s *MemoryStore) ListTickets(_ context.Context) ([]*ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ticket.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// TransitionTicket implements TicketStore.
func (s *MemoryStore) TransitionTicket(_ context.Context, id string, to ticket.Status) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ticket.ValidateTransition(id, t.Status, to); err != nil {
		return nil, err
	}

	now := time.Now()
	t.StatusChanges = append(t.StatusChanges, ticket.StatusChange{
		From:      t.Status,
		To:        to,
		Timestamp: now,
	})
	t.Status = to
	t.UpdatedAt = now

	copied := *t
	return &copied, nil
}

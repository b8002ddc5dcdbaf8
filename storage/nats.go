package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/taskflow/ticket"
)

// BucketTickets is the KV bucket name for ticket storage.
const BucketTickets = "TASKFLOW_TICKETS"

// NATSStore is a TicketStore backed by NATS JetStream KV. Each ticket
// is one KV entry keyed by its id; the bucket keeps a short revision
// history for debugging.
type NATSStore struct {
	tickets jetstream.KeyValue
}

// NewNATSStore creates a NATSStore, creating the tickets bucket if it
// does not exist.
func NewNATSStore(ctx context.Context, js jetstream.JetStream) (*NATSStore, error) {
	kv, err := js.KeyValue(ctx, BucketTickets)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketTickets,
			Description: "Taskflow ticket storage",
			History:     5,
		})
		if err != nil {
			return nil, fmt.Errorf("create tickets bucket: %w", err)
		}
	}
	return &NATSStore{tickets: kv}, nil
}

// CreateTicket implements TicketStore.
func (s *NATSStore) CreateTicket(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	copied := *t
	if copied.ID == "" {
		copied.ID = NewTicketID()
	}
	if copied.Status == "" {
		copied.Status = ticket.StatusOpen
	}
	now := time.Now()
	copied.CreatedAt = now
	copied.UpdatedAt = now

	data, err := marshalTicket(&copied)
	if err != nil {
		return nil, err
	}

	// Create fails if the key exists, which gives us the uniqueness
	// check without a read-modify-write race.
	if _, err := s.tickets.Create(ctx, copied.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, fmt.Errorf("%w: %s", ErrExists, copied.ID)
		}
		return nil, fmt.Errorf("store ticket: %w", err)
	}
	return &copied, nil
}

// GetTicket implements TicketStore.
func (s *NATSStore) GetTicket(ctx context.Context, id string) (*ticket.Ticket, error) {
	entry, err := s.tickets.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return unmarshalTicket(entry.Value())
}

// ListTickets implements TicketStore. Entries that fail to load or
// parse are skipped so one bad record cannot poison startup.
func (s *NATSStore) ListTickets(ctx context.Context) ([]*ticket.Ticket, error) {
	keys, err := s.tickets.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list ticket keys: %w", err)
	}

	tickets := make([]*ticket.Ticket, 0, len(keys))
	for _, key := range keys {
		entry, err := s.tickets.Get(ctx, key)
		if err != nil {
			continue
		}
		t, err := unmarshalTicket(entry.Value())
		if err != nil {
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// TransitionTicket implements TicketStore.
func (s *NATSStore) TransitionTicket(ctx context.Context, id string, to ticket.Status) (*ticket.Ticket, error) {
	entry, err := s.tickets.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	t, err := unmarshalTicket(entry.Value())
	if err != nil {
		return nil, err
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

	data, err := marshalTicket(t)
	if err != nil {
		return nil, err
	}

	// Update with the read revision so a concurrent writer surfaces as
	// a conflict instead of a silent lost update.
	if _, err := s.tickets.Update(ctx, id, data, entry.Revision()); err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	return t, nil
}

func marshalTicket(t *ticket.Ticket) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket: %w", err)
	}
	return data, nil
}

func unmarshalTicket(data []byte) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal ticket: %w", err)
	}
	return &t, nil
}

func isNotFound(err error) bool {
	return err == jetstream.ErrKeyNotFound ||
		(err != nil && strings.Contains(err.Error(), "key not found"))
}

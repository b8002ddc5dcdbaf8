package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/taskflow/ticket"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateTicket(ctx, &ticket.Ticket{Title: "Fix the flaky test"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, ticket.StatusOpen, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.GetTicket(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetTicket(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DuplicateID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateTicket(ctx, &ticket.Ticket{ID: "T-1", Title: "one"})
	require.NoError(t, err)
	_, err = store.CreateTicket(ctx, &ticket.Ticket{ID: "T-1", Title: "two"})
	assert.ErrorIs(t, err, ErrExists)
}

func TestMemoryStore_ListOrderedByCreation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		_, err := store.CreateTicket(ctx, &ticket.Ticket{Title: title})
		require.NoError(t, err)
	}

	tickets, err := store.ListTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 3)
}

func TestMemoryStore_TransitionRecordsAudit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateTicket(ctx, &ticket.Ticket{Title: "work"})
	require.NoError(t, err)

	updated, err := store.TransitionTicket(ctx, created.ID, ticket.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusInProgress, updated.Status)
	require.Len(t, updated.StatusChanges, 1)
	assert.Equal(t, ticket.StatusOpen, updated.StatusChanges[0].From)
	assert.Equal(t, ticket.StatusInProgress, updated.StatusChanges[0].To)

	updated, err = store.TransitionTicket(ctx, created.ID, ticket.StatusDone)
	require.NoError(t, err)
	assert.Len(t, updated.StatusChanges, 2)
}

func TestMemoryStore_TransitionValidated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateTicket(ctx, &ticket.Ticket{Title: "work"})
	require.NoError(t, err)

	// open → done skips in-progress.
	_, err = store.TransitionTicket(ctx, created.ID, ticket.StatusDone)
	require.Error(t, err)

	var ise *ticket.InvalidStateError
	assert.ErrorAs(t, err, &ise)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateTicket(ctx, &ticket.Ticket{Title: "original"})
	require.NoError(t, err)

	created.Title = "mutated by caller"

	got, err := store.GetTicket(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Title)
}

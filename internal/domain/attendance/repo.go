package attendance

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	SequenceStore

	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error)
	// GetForUpdate reads the ticket holding an exclusive row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error)
	// Update writes every mutable column of t.
	Update(ctx context.Context, t *Ticket) error
	List(ctx context.Context, f ListFilter) ([]*Ticket, error)

	AddHistory(ctx context.Context, h *HistoryEntry) error
	History(ctx context.Context, ticketID uuid.UUID) ([]*HistoryEntry, error)
}

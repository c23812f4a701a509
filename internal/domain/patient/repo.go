package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert inserts p, or updates name and phone of the patient holding the
	// same national id. p is refreshed from the stored row.
	Upsert(ctx context.Context, p *Patient) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByNationalID(ctx context.Context, nationalID string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

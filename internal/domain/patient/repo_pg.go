package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patientflow/patientflow/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const patientCols = `id, national_id, full_name, birth_date, phone, mother_name, created_at, updated_at`

func scanPatient(row pgx.Row, extra ...interface{}) (*Patient, error) {
	var p Patient
	dest := []interface{}{&p.ID, &p.NationalID, &p.FullName, &p.BirthDate, &p.Phone, &p.MotherName,
		&p.CreatedAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Upsert relies on xmax being zero only for freshly inserted tuples.
func (r *repoPG) Upsert(ctx context.Context, p *Patient) (bool, error) {
	var inserted bool
	stored, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, national_id, full_name, birth_date, phone, mother_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (national_id) DO UPDATE
			SET full_name = EXCLUDED.full_name, phone = EXCLUDED.phone, updated_at = NOW()
		RETURNING `+patientCols+`, (xmax = 0)`,
		uuid.New(), p.NationalID, p.FullName, p.BirthDate, p.Phone, p.MotherName), &inserted)
	if err != nil {
		return false, err
	}
	*p = *stored
	return inserted, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByNationalID(ctx context.Context, nationalID string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE national_id = $1`, nationalID))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY full_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

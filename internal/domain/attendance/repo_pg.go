package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

const ticketCols = `t.id, t.code, t.prefix, t.seq_number, t.service_date, t.patient_id, p.full_name,
	t.status, t.priority, t.clinician_id, COALESCE(o.full_name, ''), t.location,
	t.systolic, t.diastolic, t.temperature, t.heart_rate, t.triage_notes,
	t.triaged_by, t.triaged_at, t.routed_by, t.cancel_reason,
	t.created_at, t.updated_at, t.called_at, t.finalized_at, t.canceled_at`

const ticketFrom = ` FROM ticket t
	JOIN patient p ON p.id = t.patient_id
	LEFT JOIN operator o ON o.id = t.clinician_id`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	var priority *int16
	err := row.Scan(&t.ID, &t.Code, &t.Prefix, &t.SeqNumber, &t.ServiceDate, &t.PatientID, &t.PatientName,
		&t.Status, &priority, &t.ClinicianID, &t.ClinicianName, &t.Location,
		&t.Vitals.Systolic, &t.Vitals.Diastolic, &t.Vitals.Temperature, &t.Vitals.HeartRate, &t.Vitals.Notes,
		&t.TriagedBy, &t.TriagedAt, &t.RoutedBy, &t.CancelReason,
		&t.CreatedAt, &t.UpdatedAt, &t.CalledAt, &t.FinalizedAt, &t.CanceledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	if priority != nil {
		p := Priority(*priority)
		t.Priority = &p
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Ticket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ticket (id, code, prefix, seq_number, service_date, patient_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		t.ID, t.Code, t.Prefix, t.SeqNumber, t.ServiceDate, t.PatientID, t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return scanTicket(r.conn(ctx).QueryRow(ctx, `SELECT `+ticketCols+ticketFrom+` WHERE t.id = $1`, id))
}

// GetForUpdate locks only the ticket row; the joined rows are read as usual.
func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return scanTicket(r.conn(ctx).QueryRow(ctx,
		`SELECT `+ticketCols+ticketFrom+` WHERE t.id = $1 FOR UPDATE OF t`, id))
}

func (r *repoPG) Update(ctx context.Context, t *Ticket) error {
	var priority *int16
	if t.Priority != nil {
		p := int16(*t.Priority)
		priority = &p
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ticket SET status = $2, priority = $3, clinician_id = $4, location = $5,
			systolic = $6, diastolic = $7, temperature = $8, heart_rate = $9, triage_notes = $10,
			triaged_by = $11, triaged_at = $12, routed_by = $13, cancel_reason = $14,
			updated_at = $15, called_at = $16, finalized_at = $17, canceled_at = $18
		WHERE id = $1`,
		t.ID, t.Status, priority, t.ClinicianID, t.Location,
		t.Vitals.Systolic, t.Vitals.Diastolic, t.Vitals.Temperature, t.Vitals.HeartRate, t.Vitals.Notes,
		t.TriagedBy, t.TriagedAt, t.RoutedBy, t.CancelReason,
		t.UpdatedAt, t.CalledAt, t.FinalizedAt, t.CanceledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// List applies the filter in SQL. Ordering is left to the queue
// projections.
func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Ticket, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("t.status = ANY($%d)", len(args)))
	}
	if f.ClinicianID != nil {
		args = append(args, *f.ClinicianID)
		where = append(where, fmt.Sprintf("t.clinician_id = $%d", len(args)))
	}
	if f.ServiceDate != nil {
		args = append(args, *f.ServiceDate)
		where = append(where, fmt.Sprintf("t.service_date = $%d", len(args)))
	}

	query := `SELECT ` + ticketCols + ticketFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY t.service_date, t.seq_number`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *repoPG) AddHistory(ctx context.Context, h *HistoryEntry) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO ticket_status_history (id, ticket_id, from_status, to_status, action, operator_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.TicketID, h.FromStatus, h.ToStatus, h.Action, h.OperatorID, h.ChangedAt)
	return err
}

func (r *repoPG) History(ctx context.Context, ticketID uuid.UUID) ([]*HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, ticket_id, from_status, to_status, action, operator_id, changed_at
		FROM ticket_status_history WHERE ticket_id = $1 ORDER BY changed_at, id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.TicketID, &h.FromStatus, &h.ToStatus, &h.Action, &h.OperatorID, &h.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

// -- Sequence store --

func (r *repoPG) LockSequence(ctx context.Context, prefix string, day time.Time) (int, error) {
	if _, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO ticket_sequence (prefix, service_date, last_number)
		VALUES ($1, $2, 0)
		ON CONFLICT (prefix, service_date) DO NOTHING`, prefix, day); err != nil {
		return 0, err
	}
	var last int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT last_number FROM ticket_sequence
		WHERE prefix = $1 AND service_date = $2
		FOR UPDATE`, prefix, day).Scan(&last)
	return last, err
}

func (r *repoPG) LatestIssued(ctx context.Context, prefix string, day *time.Time) (*IssuedTicket, error) {
	var row pgx.Row
	if day != nil {
		row = r.conn(ctx).QueryRow(ctx, `
			SELECT seq_number, service_date, created_at FROM ticket
			WHERE prefix = $1 AND service_date = $2
			ORDER BY seq_number DESC LIMIT 1`, prefix, *day)
	} else {
		row = r.conn(ctx).QueryRow(ctx, `
			SELECT seq_number, service_date, created_at FROM ticket
			WHERE prefix = $1
			ORDER BY created_at DESC, seq_number DESC LIMIT 1`, prefix)
	}
	var it IssuedTicket
	if err := row.Scan(&it.SeqNumber, &it.ServiceDate, &it.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

func (r *repoPG) SaveSequence(ctx context.Context, prefix string, day time.Time, last int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE ticket_sequence SET last_number = $3, updated_at = NOW()
		WHERE prefix = $1 AND service_date = $2`, prefix, day, last)
	return err
}

package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patientflow/patientflow/internal/domain/attendance"
	"github.com/patientflow/patientflow/internal/platform/db"
)

// MeasureDefinition defines a reporting measure with its SQL query. Every
// measure takes the service date as $1.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	ServiceDate string                   `json:"service_date"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "tickets-by-status",
		Name:        "Tickets by Status",
		Description: "Tickets issued on the service date grouped by current status",
		SQL: `SELECT status, COUNT(*) AS total FROM ticket
		       WHERE service_date = $1::date GROUP BY status ORDER BY total DESC`,
		Parameters: []string{"date"},
	},
	{
		ID:          "tickets-by-priority",
		Name:        "Tickets by Priority",
		Description: "Triaged tickets on the service date grouped by Manchester priority",
		SQL: `SELECT priority, COUNT(*) AS total FROM ticket
		       WHERE service_date = $1::date AND priority IS NOT NULL
		       GROUP BY priority ORDER BY priority`,
		Parameters: []string{"date"},
	},
	{
		ID:          "average-waits",
		Name:        "Average Waits",
		Description: "Mean minutes from arrival to the first triage call and from routing to the clinician call",
		SQL: fmt.Sprintf(`SELECT
		         ROUND(AVG(EXTRACT(EPOCH FROM (tc.first_call - t.created_at)) / 60)::numeric, 1) AS arrival_to_triage_min,
		         ROUND(AVG(EXTRACT(EPOCH FROM (cc.first_call - rt.routed_at)) / 60)::numeric, 1) AS routing_to_clinician_min
		       FROM ticket t
		       LEFT JOIN LATERAL (SELECT MIN(changed_at) AS first_call FROM ticket_status_history h
		                          WHERE h.ticket_id = t.id AND h.action = '%s') tc ON TRUE
		       LEFT JOIN LATERAL (SELECT MIN(changed_at) AS routed_at FROM ticket_status_history h
		                          WHERE h.ticket_id = t.id AND h.action = '%s') rt ON TRUE
		       LEFT JOIN LATERAL (SELECT MIN(changed_at) AS first_call FROM ticket_status_history h
		                          WHERE h.ticket_id = t.id AND h.action = '%s') cc ON TRUE
		       WHERE t.service_date = $1::date`,
			attendance.ActionCallTriage, attendance.ActionRoute, attendance.ActionCallClinician),
		Parameters: []string{"date"},
	},
	{
		ID:          "finalized-per-clinician",
		Name:        "Finalized per Clinician",
		Description: "Consultations finalized on the service date per physician",
		SQL: fmt.Sprintf(`SELECT o.id AS clinician_id, o.full_name AS clinician, COUNT(*) AS total
		       FROM ticket t JOIN operator o ON o.id = t.clinician_id
		       WHERE t.service_date = $1::date AND t.status = '%s'
		       GROUP BY o.id, o.full_name ORDER BY total DESC`, attendance.StatusFinalized),
		Parameters: []string{"date"},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// MeasureRunner executes measure SQL.
type MeasureRunner interface {
	Run(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// PoolRunner runs measures on the unit-scoped connection of the request.
type PoolRunner struct {
	pool *pgxpool.Pool
}

func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

// Run executes sql and returns each row as a column-name map.
func (r *PoolRunner) Run(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := db.Resolve(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Evaluate runs measure m for the given service date.
func Evaluate(ctx context.Context, runner MeasureRunner, m *MeasureDefinition, day time.Time) (*MeasureReport, error) {
	date := day.Format(dateLayout)
	results, err := runner.Run(ctx, m.SQL, date)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", m.ID, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		ServiceDate: date,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}, nil
}

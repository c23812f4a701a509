package attendance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a ticket's position in the patient flow.
type Status string

const (
	StatusArrived           Status = "arrived"
	StatusCalledTriage      Status = "called_triage"
	StatusInTriage          Status = "in_triage"
	StatusTriaged           Status = "triaged"
	StatusAwaitingClinician Status = "awaiting_clinician"
	StatusCalledClinician   Status = "called_clinician"
	StatusInConsultation    Status = "in_consultation"
	StatusFinalized         Status = "finalized"
	StatusCanceled          Status = "canceled"
)

// Terminal reports whether s ends the flow.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCanceled
}

// PreTriage reports whether no priority has been assigned yet in s.
func (s Status) PreTriage() bool {
	return s == StatusArrived || s == StatusCalledTriage || s == StatusInTriage
}

// PreRouting reports whether no clinician or location has been assigned yet
// in s.
func (s Status) PreRouting() bool {
	return s.PreTriage() || s == StatusTriaged
}

// Priority is the Manchester triage level. Lower values are more severe.
type Priority int

const (
	PriorityCritical Priority = iota + 1
	PriorityVeryUrgent
	PriorityUrgent
	PriorityLessUrgent
	PriorityNonUrgent
)

var priorityNames = [...]string{"", "critical", "very_urgent", "urgent", "less_urgent", "non_urgent"}

var priorityColours = [...]string{"", "red", "orange", "yellow", "green", "blue"}

func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityNonUrgent
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Colour is the Manchester wristband colour shown on the panels.
func (p Priority) Colour() string {
	if !p.Valid() {
		return ""
	}
	return priorityColours[p]
}

// ParsePriority accepts a level name, its colour or its rank 1-5.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i := PriorityCritical; i <= PriorityNonUrgent; i++ {
		if s == priorityNames[i] || s == priorityColours[i] {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePriority(fmt.Sprint(raw))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Vitals are recorded once, when triage completes.
type Vitals struct {
	Systolic    *int     `json:"systolic,omitempty"`
	Diastolic   *int     `json:"diastolic,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	HeartRate   *int     `json:"heart_rate,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
}

// Ticket maps to the ticket table. PatientName and ClinicianName are joined
// on read and never written.
type Ticket struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Code          string     `db:"code" json:"code"`
	Prefix        string     `db:"prefix" json:"-"`
	SeqNumber     int        `db:"seq_number" json:"seq_number"`
	ServiceDate   time.Time  `db:"service_date" json:"service_date"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName   string     `json:"patient_name,omitempty"`
	Status        Status     `db:"status" json:"status"`
	Priority      *Priority  `db:"priority" json:"priority,omitempty"`
	ClinicianID   *uuid.UUID `db:"clinician_id" json:"clinician_id,omitempty"`
	ClinicianName string     `json:"clinician_name,omitempty"`
	Location      *string    `db:"location" json:"location,omitempty"`
	Vitals        Vitals     `json:"vitals"`
	TriagedBy     *uuid.UUID `db:"triaged_by" json:"triaged_by,omitempty"`
	TriagedAt     *time.Time `db:"triaged_at" json:"triaged_at,omitempty"`
	RoutedBy      *uuid.UUID `db:"routed_by" json:"routed_by,omitempty"`
	CancelReason  *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	CalledAt      *time.Time `db:"called_at" json:"called_at,omitempty"`
	FinalizedAt   *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`
	CanceledAt    *time.Time `db:"canceled_at" json:"canceled_at,omitempty"`
}

// Rank is the ticket's priority for sorting; untriaged tickets sort last.
func (t *Ticket) Rank() int {
	if t.Priority == nil || !t.Priority.Valid() {
		return int(PriorityNonUrgent) + 1
	}
	return int(*t.Priority)
}

// checkFields verifies that priority is set exactly from triage on and that
// clinician and location are set exactly from routing on. A canceled ticket
// keeps whatever it had.
func (t *Ticket) checkFields() error {
	if t.Status == StatusCanceled {
		return nil
	}
	if t.Status.PreTriage() != (t.Priority == nil) {
		return fmt.Errorf("ticket %s: priority does not match status %s", t.Code, t.Status)
	}
	pre := t.Status.PreRouting()
	if pre != (t.ClinicianID == nil) || pre != (t.Location == nil) {
		return fmt.Errorf("ticket %s: assignment does not match status %s", t.Code, t.Status)
	}
	return nil
}

// HistoryEntry maps to the ticket_status_history table.
type HistoryEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TicketID   uuid.UUID `db:"ticket_id" json:"ticket_id"`
	FromStatus *Status   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	Action     Action    `db:"action" json:"action"`
	OperatorID uuid.UUID `db:"operator_id" json:"operator_id"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// ListFilter narrows a ticket listing. Zero fields do not filter.
type ListFilter struct {
	Statuses    []Status
	ClinicianID *uuid.UUID
	ServiceDate *time.Time
}

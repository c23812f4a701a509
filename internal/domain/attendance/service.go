package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patientflow/patientflow/internal/domain/patient"
	"github.com/patientflow/patientflow/internal/domain/staff"
	"github.com/patientflow/patientflow/internal/platform/db"
)

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrOperatorRequired  = errors.New("an identified operator is required")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrLocationRequired  = errors.New("location is required")
	ErrClinicianRequired = errors.New("clinician_id is required")
	ErrInvalidVitals     = errors.New("vital signs out of range")
)

// PatientDirectory is the registry the front desk registers into.
type PatientDirectory interface {
	RegisterPatient(ctx context.Context, in patient.RegisterInput) (*patient.Patient, bool, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// ClinicianDirectory resolves routing targets.
type ClinicianDirectory interface {
	GetClinician(ctx context.Context, id uuid.UUID) (*staff.Operator, error)
}

// CallEvent is published after a call commits.
type CallEvent struct {
	UnitID      string    `json:"unit"`
	TicketID    uuid.UUID `json:"ticket_id"`
	Code        string    `json:"code"`
	PatientName string    `json:"patient_name"`
	Stage       string    `json:"stage"`
	Location    string    `json:"location,omitempty"`
	CalledAt    time.Time `json:"called_at"`
}

// Announcer pushes call events to the displays.
type Announcer interface {
	Announce(ctx context.Context, ev CallEvent) error
}

// Options holds the display tuning knobs.
type Options struct {
	TicketPrefix           string
	Location               *time.Location
	ReceptionCallWindow    time.Duration
	ReceptionInProgress    time.Duration
	DisplayUpcomingLimit   int
	DisplayCorridorLimit   int
	DisplayRecentCallLimit int
}

func DefaultOptions() Options {
	return Options{
		TicketPrefix:           "A",
		Location:               time.UTC,
		ReceptionCallWindow:    2 * time.Minute,
		ReceptionInProgress:    30 * time.Second,
		DisplayUpcomingLimit:   6,
		DisplayCorridorLimit:   8,
		DisplayRecentCallLimit: 5,
	}
}

type Service struct {
	repo       Repository
	tx         db.TxRunner
	seq        *Sequencer
	patients   PatientDirectory
	clinicians ClinicianDirectory
	announcer  Announcer
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, patients PatientDirectory, clinicians ClinicianDirectory,
	opts Options, logger zerolog.Logger) *Service {
	s := &Service{
		repo:       repo,
		tx:         tx,
		patients:   patients,
		clinicians: clinicians,
		opts:       opts,
		logger:     logger.With().Str("component", "attendance").Logger(),
		now:        time.Now,
	}
	s.seq = NewSequencer(repo, opts.TicketPrefix, opts.Location)
	s.seq.now = func() time.Time { return s.now() }
	return s
}

// SetAnnouncer attaches an optional call announcer.
func (s *Service) SetAnnouncer(a Announcer) {
	s.announcer = a
}

// -- Registration --

// CreateTicket issues a ticket for an existing patient.
func (s *Service) CreateTicket(ctx context.Context, patientID, operatorID uuid.UUID) (*Ticket, error) {
	if operatorID == uuid.Nil {
		return nil, ErrOperatorRequired
	}
	var t *Ticket
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetPatient(ctx, patientID)
		if err != nil {
			return err
		}
		t, err = s.issue(ctx, p, operatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(t, ActionRegister, "", operatorID)
	return t, nil
}

// RegisterAndIssue registers or refreshes the patient and issues a ticket in
// one transaction.
func (s *Service) RegisterAndIssue(ctx context.Context, in patient.RegisterInput, operatorID uuid.UUID) (*Ticket, bool, error) {
	if operatorID == uuid.Nil {
		return nil, false, ErrOperatorRequired
	}
	var (
		t       *Ticket
		created bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, c, err := s.patients.RegisterPatient(ctx, in)
		if err != nil {
			return err
		}
		created = c
		t, err = s.issue(ctx, p, operatorID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	s.logTransition(t, ActionRegister, "", operatorID)
	return t, created, nil
}

func (s *Service) issue(ctx context.Context, p *patient.Patient, operatorID uuid.UUID) (*Ticket, error) {
	code, err := s.seq.Next(ctx)
	if err != nil {
		return nil, err
	}
	t := &Ticket{
		Code:        code.Value,
		Prefix:      code.Prefix,
		SeqNumber:   code.Number,
		ServiceDate: code.ServiceDate,
		PatientID:   p.ID,
		PatientName: p.FullName,
		Status:      StatusArrived,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	if err := s.repo.AddHistory(ctx, &HistoryEntry{
		TicketID:   t.ID,
		ToStatus:   StatusArrived,
		Action:     ActionRegister,
		OperatorID: operatorID,
		ChangedAt:  t.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	return t, nil
}

// -- Transitions --

// TriageInput is what the triage nurse records.
type TriageInput struct {
	Priority Priority `json:"priority"`
	Vitals   Vitals   `json:"vitals"`
}

func (in TriageInput) validate() error {
	if !in.Priority.Valid() {
		return ErrInvalidPriority
	}
	v := in.Vitals
	if outOfRange(v.Systolic, 30, 300) || outOfRange(v.Diastolic, 10, 200) || outOfRange(v.HeartRate, 10, 300) {
		return ErrInvalidVitals
	}
	if v.Temperature != nil && (*v.Temperature < 25 || *v.Temperature > 45) {
		return ErrInvalidVitals
	}
	return nil
}

func outOfRange(v *int, lo, hi int) bool {
	return v != nil && (*v < lo || *v > hi)
}

func (s *Service) CallToTriage(ctx context.Context, ticketID, operatorID uuid.UUID) (*Ticket, error) {
	t, err := s.transition(ctx, ticketID, operatorID, ActionCallTriage, func(_ context.Context, t *Ticket, now time.Time) error {
		t.CalledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, t, StageTriage)
	return t, nil
}

func (s *Service) BeginTriage(ctx context.Context, ticketID, operatorID uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, ticketID, operatorID, ActionBeginTriage, nil)
}

func (s *Service) CompleteTriage(ctx context.Context, ticketID, operatorID uuid.UUID, in TriageInput) (*Ticket, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, ticketID, operatorID, ActionCompleteTriage, func(_ context.Context, t *Ticket, now time.Time) error {
		p := in.Priority
		t.Priority = &p
		t.Vitals = in.Vitals
		t.TriagedBy = &operatorID
		t.TriagedAt = &now
		return nil
	})
}

// RouteToClinician sends a triaged ticket to a physician and room. The call
// timestamp is cleared; the patient is called again by the physician.
func (s *Service) RouteToClinician(ctx context.Context, ticketID, operatorID, clinicianID uuid.UUID, location string) (*Ticket, error) {
	location = strings.TrimSpace(location)
	if clinicianID == uuid.Nil {
		return nil, ErrClinicianRequired
	}
	if location == "" {
		return nil, ErrLocationRequired
	}
	return s.transition(ctx, ticketID, operatorID, ActionRoute, func(ctx context.Context, t *Ticket, _ time.Time) error {
		clinician, err := s.clinicians.GetClinician(ctx, clinicianID)
		if err != nil {
			return err
		}
		t.ClinicianID = &clinician.ID
		t.ClinicianName = clinician.FullName
		t.Location = &location
		t.RoutedBy = &operatorID
		t.CalledAt = nil
		return nil
	})
}

func (s *Service) CallToClinician(ctx context.Context, ticketID, operatorID uuid.UUID) (*Ticket, error) {
	t, err := s.transition(ctx, ticketID, operatorID, ActionCallClinician, func(_ context.Context, t *Ticket, now time.Time) error {
		t.CalledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, t, StageClinician)
	return t, nil
}

func (s *Service) BeginConsultation(ctx context.Context, ticketID, operatorID uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, ticketID, operatorID, ActionBeginConsultation, nil)
}

func (s *Service) Finalize(ctx context.Context, ticketID, operatorID uuid.UUID) (*Ticket, error) {
	return s.transition(ctx, ticketID, operatorID, ActionFinalize, func(_ context.Context, t *Ticket, now time.Time) error {
		t.FinalizedAt = &now
		return nil
	})
}

// Recall refreshes the call time of a ticket that is being called, putting
// it back on the panels.
func (s *Service) Recall(ctx context.Context, ticketID, operatorID uuid.UUID) (*Ticket, error) {
	t, err := s.transition(ctx, ticketID, operatorID, ActionRecall, func(_ context.Context, t *Ticket, now time.Time) error {
		t.CalledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	stage := StageTriage
	if t.Status == StatusCalledClinician {
		stage = StageClinician
	}
	s.announce(ctx, t, stage)
	return t, nil
}

func (s *Service) Cancel(ctx context.Context, ticketID, operatorID uuid.UUID, reason string) (*Ticket, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, ticketID, operatorID, ActionCancel, func(_ context.Context, t *Ticket, now time.Time) error {
		t.CanceledAt = &now
		if reason != "" {
			t.CancelReason = &reason
		}
		return nil
	})
}

// effectFunc mutates a locked ticket. ctx carries the transaction, so reads
// made inside an effect see the same snapshot.
type effectFunc func(ctx context.Context, t *Ticket, now time.Time) error

// transition locks the ticket, checks the action against its current status,
// applies effect and records the change, all in one transaction. Nothing is
// written when the precondition fails.
func (s *Service) transition(ctx context.Context, ticketID, operatorID uuid.UUID, action Action,
	effect effectFunc) (*Ticket, error) {
	if operatorID == uuid.Nil {
		return nil, ErrOperatorRequired
	}

	var (
		out  *Ticket
		from Status
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !CanApply(action, t.Status) {
			return &TransitionError{Action: action, From: t.Status}
		}
		from = t.Status
		now := s.now()
		if effect != nil {
			if err := effect(ctx, t, now); err != nil {
				return err
			}
		}
		t.Status = Target(action, from)
		t.UpdatedAt = now
		if err := t.checkFields(); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, t); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if err := s.repo.AddHistory(ctx, &HistoryEntry{
			TicketID:   t.ID,
			FromStatus: &from,
			ToStatus:   t.Status,
			Action:     action,
			OperatorID: operatorID,
			ChangedAt:  now,
		}); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(out, action, from, operatorID)
	return out, nil
}

func (s *Service) logTransition(t *Ticket, action Action, from Status, operatorID uuid.UUID) {
	s.logger.Info().
		Str("ticket_id", t.ID.String()).
		Str("code", t.Code).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(t.Status)).
		Str("operator_id", operatorID.String()).
		Msg("ticket transition")
}

// announce runs after commit. Failures are logged; displays still poll.
func (s *Service) announce(ctx context.Context, t *Ticket, stage string) {
	if s.announcer == nil || t.CalledAt == nil {
		return
	}
	ev := CallEvent{
		UnitID:      db.UnitFromContext(ctx),
		TicketID:    t.ID,
		Code:        t.Code,
		PatientName: t.PatientName,
		Stage:       stage,
		CalledAt:    *t.CalledAt,
	}
	if t.Location != nil {
		ev.Location = *t.Location
	}
	if err := s.announcer.Announce(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("ticket_id", t.ID.String()).Msg("call announcement failed")
	}
}

// -- Reads --

func (s *Service) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) TicketHistory(ctx context.Context, id uuid.UUID) ([]*HistoryEntry, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// ArrivalQueue is the triage station's waiting list, first come first served.
func (s *Service) ArrivalQueue(ctx context.Context) ([]*Ticket, error) {
	tickets, err := s.repo.List(ctx, ListFilter{Statuses: []Status{StatusArrived}})
	if err != nil {
		return nil, err
	}
	SortFIFO(tickets)
	return tickets, nil
}

func (s *Service) TriageActiveQueue(ctx context.Context) ([]*Ticket, error) {
	tickets, err := s.repo.List(ctx, ListFilter{Statuses: []Status{StatusCalledTriage, StatusInTriage}})
	if err != nil {
		return nil, err
	}
	SortRecentlyCalled(tickets)
	return tickets, nil
}

// RoutingQueue is the routing desk's list in Manchester order.
func (s *Service) RoutingQueue(ctx context.Context) ([]*Ticket, error) {
	tickets, err := s.repo.List(ctx, ListFilter{Statuses: []Status{StatusTriaged}})
	if err != nil {
		return nil, err
	}
	SortManchester(tickets)
	return tickets, nil
}

func (s *Service) ClinicianQueue(ctx context.Context, clinicianID uuid.UUID) ([]*Ticket, error) {
	tickets, err := s.repo.List(ctx, ListFilter{
		Statuses:    []Status{StatusAwaitingClinician},
		ClinicianID: &clinicianID,
	})
	if err != nil {
		return nil, err
	}
	SortManchester(tickets)
	return tickets, nil
}

// ClinicianCurrent returns the patient the clinician has called or is
// seeing, or nil.
func (s *Service) ClinicianCurrent(ctx context.Context, clinicianID uuid.UUID) (*Ticket, error) {
	tickets, err := s.repo.List(ctx, ListFilter{
		Statuses:    []Status{StatusCalledClinician, StatusInConsultation},
		ClinicianID: &clinicianID,
	})
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, nil
	}
	SortRecentlyCalled(tickets)
	return tickets[0], nil
}

func (s *Service) ReceptionDisplay(ctx context.Context) (*ReceptionBoard, error) {
	active, err := s.repo.List(ctx, ListFilter{Statuses: []Status{StatusCalledTriage, StatusInTriage}})
	if err != nil {
		return nil, err
	}
	upcoming, err := s.ArrivalQueue(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	board := &ReceptionBoard{
		Upcoming: toDisplayList(upcoming, s.opts.DisplayUpcomingLimit),
		At:       now,
	}
	if t, phase := ReceptionNowCalling(active, now, s.opts.ReceptionCallWindow, s.opts.ReceptionInProgress); t != nil {
		d := toDisplay(t)
		board.Current = &d
		board.Phase = phase
	}
	return board, nil
}

func (s *Service) ClinicianDisplay(ctx context.Context) (*ClinicianBoard, error) {
	called, err := s.repo.List(ctx, ListFilter{Statuses: []Status{StatusCalledClinician}})
	if err != nil {
		return nil, err
	}
	corridor, err := s.RoutingQueue(ctx)
	if err != nil {
		return nil, err
	}
	board := &ClinicianBoard{
		Corridor: toDisplayList(corridor, s.opts.DisplayCorridorLimit),
		At:       s.now(),
	}
	if t := ClinicianNowCalling(called); t != nil {
		d := toDisplay(t)
		board.Current = &d
	}
	return board, nil
}

func (s *Service) RecentCalls(ctx context.Context) (*CallBoard, error) {
	triage, err := s.repo.List(ctx, ListFilter{Statuses: []Status{StatusCalledTriage}})
	if err != nil {
		return nil, err
	}
	clinician, err := s.repo.List(ctx, ListFilter{Statuses: []Status{StatusCalledClinician}})
	if err != nil {
		return nil, err
	}
	SortRecentlyCalled(triage)
	SortRecentlyCalled(clinician)
	return &CallBoard{
		Triage:    toDisplayList(triage, s.opts.DisplayRecentCallLimit),
		Clinician: toDisplayList(clinician, s.opts.DisplayRecentCallLimit),
		At:        s.now(),
	}, nil
}

// DailyTickets lists every ticket issued on day, in code order.
func (s *Service) DailyTickets(ctx context.Context, day time.Time) ([]*Ticket, error) {
	d := ServiceDate(day, time.UTC)
	tickets, err := s.repo.List(ctx, ListFilter{ServiceDate: &d})
	if err != nil {
		return nil, err
	}
	SortByCode(tickets)
	return tickets, nil
}

// Today is the current service date in the clinic's time zone.
func (s *Service) Today() time.Time {
	return ServiceDate(s.now(), s.opts.Location)
}

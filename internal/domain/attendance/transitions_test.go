package attendance

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestCanApply(t *testing.T) {
	tests := []struct {
		action Action
		from   Status
		want   bool
	}{
		{ActionCallTriage, StatusArrived, true},
		{ActionCallTriage, StatusCalledTriage, false},
		{ActionBeginTriage, StatusCalledTriage, true},
		{ActionBeginTriage, StatusArrived, false},
		{ActionCompleteTriage, StatusCalledTriage, true},
		{ActionCompleteTriage, StatusInTriage, true},
		{ActionCompleteTriage, StatusArrived, false},
		{ActionRoute, StatusTriaged, true},
		{ActionRoute, StatusInTriage, false},
		{ActionCallClinician, StatusAwaitingClinician, true},
		{ActionCallClinician, StatusTriaged, false},
		{ActionBeginConsultation, StatusCalledClinician, true},
		{ActionFinalize, StatusCalledClinician, true},
		{ActionFinalize, StatusInConsultation, true},
		{ActionFinalize, StatusArrived, false},
		{ActionFinalize, StatusFinalized, false},
		{ActionRecall, StatusCalledTriage, true},
		{ActionRecall, StatusCalledClinician, true},
		{ActionRecall, StatusInTriage, false},
		{ActionCancel, StatusArrived, true},
		{ActionCancel, StatusInConsultation, true},
		{ActionCancel, StatusFinalized, false},
		{ActionCancel, StatusCanceled, false},
		{ActionRegister, StatusArrived, false},
	}
	for _, tt := range tests {
		if got := CanApply(tt.action, tt.from); got != tt.want {
			t.Errorf("CanApply(%s, %s) = %v, want %v", tt.action, tt.from, got, tt.want)
		}
	}
}

// The happy path visits every status of the chain in order.
func TestTarget_FollowsChain(t *testing.T) {
	chain := []struct {
		action Action
		to     Status
	}{
		{ActionCallTriage, StatusCalledTriage},
		{ActionBeginTriage, StatusInTriage},
		{ActionCompleteTriage, StatusTriaged},
		{ActionRoute, StatusAwaitingClinician},
		{ActionCallClinician, StatusCalledClinician},
		{ActionBeginConsultation, StatusInConsultation},
		{ActionFinalize, StatusFinalized},
	}
	status := StatusArrived
	for _, step := range chain {
		if !CanApply(step.action, status) {
			t.Fatalf("%s not allowed from %s", step.action, status)
		}
		status = Target(step.action, status)
		if status != step.to {
			t.Fatalf("%s: got %s, want %s", step.action, status, step.to)
		}
	}
	if Target(ActionRecall, StatusCalledClinician) != StatusCalledClinician {
		t.Error("recall must keep the status")
	}
}

func TestTerminalStatusesAcceptNothing(t *testing.T) {
	all := append([]Status{StatusFinalized, StatusCanceled}, nonTerminal...)
	var terminal []Status
	for _, s := range all {
		if s.Terminal() {
			terminal = append(terminal, s)
		}
	}
	if len(terminal) != 2 {
		t.Fatalf("expected finalized and canceled to be terminal, got %v", terminal)
	}
	for action := range transitionMap {
		for _, s := range terminal {
			if CanApply(action, s) {
				t.Errorf("%s allowed from terminal %s", action, s)
			}
		}
	}
}

func TestCheckFields(t *testing.T) {
	p := PriorityUrgent
	room := "Sala 1"
	doc := uuid.New()

	tests := []struct {
		name    string
		ticket  Ticket
		wantErr bool
	}{
		{"arrived bare", Ticket{Status: StatusArrived}, false},
		{"arrived with priority", Ticket{Status: StatusArrived, Priority: &p}, true},
		{"triaged without priority", Ticket{Status: StatusTriaged}, true},
		{"triaged", Ticket{Status: StatusTriaged, Priority: &p}, false},
		{"triaged with clinician", Ticket{Status: StatusTriaged, Priority: &p, ClinicianID: &doc, Location: &room}, true},
		{"awaiting without location", Ticket{Status: StatusAwaitingClinician, Priority: &p, ClinicianID: &doc}, true},
		{"awaiting", Ticket{Status: StatusAwaitingClinician, Priority: &p, ClinicianID: &doc, Location: &room}, false},
		{"finalized", Ticket{Status: StatusFinalized, Priority: &p, ClinicianID: &doc, Location: &room}, false},
		{"canceled early", Ticket{Status: StatusCanceled}, false},
		{"canceled late", Ticket{Status: StatusCanceled, Priority: &p, ClinicianID: &doc, Location: &room}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ticket.checkFields()
			if (err != nil) != tt.wantErr {
				t.Errorf("checkFields() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransitionError(t *testing.T) {
	var err error = &TransitionError{Action: ActionFinalize, From: StatusArrived}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("expected errors.Is(ErrInvalidTransition)")
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != StatusArrived {
		t.Errorf("expected errors.As to expose the from status, got %v", te)
	}
	if err.Error() != "cannot finalize a ticket in status arrived" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"critical", PriorityCritical},
		{"RED", PriorityCritical},
		{"orange", PriorityVeryUrgent},
		{"urgent", PriorityUrgent},
		{"3", PriorityUrgent},
		{"green", PriorityLessUrgent},
		{" non_urgent ", PriorityNonUrgent},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"", "purple", "0", "6"} {
		if _, err := ParsePriority(bad); !errors.Is(err, ErrInvalidPriority) {
			t.Errorf("ParsePriority(%q): expected ErrInvalidPriority, got %v", bad, err)
		}
	}
}

func TestPriorityOrdinalOrder(t *testing.T) {
	order := []Priority{PriorityCritical, PriorityVeryUrgent, PriorityUrgent, PriorityLessUrgent, PriorityNonUrgent}
	for i := 1; i < len(order); i++ {
		if !(order[i-1] < order[i]) {
			t.Errorf("%s should rank before %s", order[i-1], order[i])
		}
	}
}

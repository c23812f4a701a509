package attendance

import (
	"errors"
	"fmt"
)

// Action names a state-machine operation. Values are stored in the history.
type Action string

const (
	ActionRegister          Action = "register"
	ActionCallTriage        Action = "call_triage"
	ActionBeginTriage       Action = "begin_triage"
	ActionCompleteTriage    Action = "complete_triage"
	ActionRoute             Action = "route_to_clinician"
	ActionCallClinician     Action = "call_clinician"
	ActionBeginConsultation Action = "begin_consultation"
	ActionFinalize          Action = "finalize"
	ActionRecall            Action = "recall"
	ActionCancel            Action = "cancel"
)

var ErrInvalidTransition = errors.New("invalid transition")

var nonTerminal = []Status{
	StatusArrived, StatusCalledTriage, StatusInTriage, StatusTriaged,
	StatusAwaitingClinician, StatusCalledClinician, StatusInConsultation,
}

// transitionMap lists the statuses each action may start from.
var transitionMap = map[Action][]Status{
	ActionCallTriage:        {StatusArrived},
	ActionBeginTriage:       {StatusCalledTriage},
	ActionCompleteTriage:    {StatusCalledTriage, StatusInTriage},
	ActionRoute:             {StatusTriaged},
	ActionCallClinician:     {StatusAwaitingClinician},
	ActionBeginConsultation: {StatusCalledClinician},
	ActionFinalize:          {StatusCalledClinician, StatusInConsultation},
	ActionRecall:            {StatusCalledTriage, StatusCalledClinician},
	ActionCancel:            nonTerminal,
}

// targetStatus is where an action leaves the ticket. Recall keeps the
// current status and is absent here.
var targetStatus = map[Action]Status{
	ActionRegister:          StatusArrived,
	ActionCallTriage:        StatusCalledTriage,
	ActionBeginTriage:       StatusInTriage,
	ActionCompleteTriage:    StatusTriaged,
	ActionRoute:             StatusAwaitingClinician,
	ActionCallClinician:     StatusCalledClinician,
	ActionBeginConsultation: StatusInConsultation,
	ActionFinalize:          StatusFinalized,
	ActionCancel:            StatusCanceled,
}

// CanApply reports whether action is legal for a ticket in status from.
func CanApply(action Action, from Status) bool {
	if from.Terminal() {
		return false
	}
	for _, s := range transitionMap[action] {
		if s == from {
			return true
		}
	}
	return false
}

// Target returns the status action moves a ticket in from to.
func Target(action Action, from Status) Status {
	if to, ok := targetStatus[action]; ok {
		return to
	}
	return from
}

// TransitionError reports an action attempted from the wrong status,
// including the loser of a race between two stations.
type TransitionError struct {
	Action Action
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a ticket in status %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

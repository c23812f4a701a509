package attendance

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Display phases for the reception panel.
const (
	PhaseCalling    = "calling"
	PhaseInProgress = "in_progress"
)

// Call stages carried by display entries and announcements.
const (
	StageTriage    = "triage"
	StageClinician = "clinician"
)

// SortFIFO orders tickets by arrival.
func SortFIFO(tickets []*Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return earlier(tickets[i], tickets[j])
	})
}

// SortByCode orders tickets by their daily sequence number.
func SortByCode(tickets []*Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].SeqNumber < tickets[j].SeqNumber
	})
}

// SortManchester orders by severity, most severe first, then by arrival.
func SortManchester(tickets []*Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		ri, rj := tickets[i].Rank(), tickets[j].Rank()
		if ri != rj {
			return ri < rj
		}
		return earlier(tickets[i], tickets[j])
	})
}

// SortRecentlyCalled puts the freshest call first. Tickets never called go
// last, in arrival order.
func SortRecentlyCalled(tickets []*Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].CalledAt, tickets[j].CalledAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return earlier(tickets[i], tickets[j])
	})
}

func earlier(a, b *Ticket) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.SeqNumber < b.SeqNumber
}

// ReceptionNowCalling picks the ticket the reception panel highlights at
// now: the latest triage call younger than callWindow, else the latest
// ticket that entered triage less than inProgressWindow ago. A nil result
// means the panel is clear.
func ReceptionNowCalling(tickets []*Ticket, now time.Time, callWindow, inProgressWindow time.Duration) (*Ticket, string) {
	var called, inTriage *Ticket
	for _, t := range tickets {
		switch t.Status {
		case StatusCalledTriage:
			if t.CalledAt == nil || now.Sub(*t.CalledAt) > callWindow {
				continue
			}
			if called == nil || t.CalledAt.After(*called.CalledAt) {
				called = t
			}
		case StatusInTriage:
			if now.Sub(t.UpdatedAt) > inProgressWindow {
				continue
			}
			if inTriage == nil || t.UpdatedAt.After(inTriage.UpdatedAt) {
				inTriage = t
			}
		}
	}
	if called != nil {
		return called, PhaseCalling
	}
	if inTriage != nil {
		return inTriage, PhaseInProgress
	}
	return nil, ""
}

// ClinicianNowCalling returns the most recent clinician call. It has no
// time window: the call stays up until the next one.
func ClinicianNowCalling(tickets []*Ticket) *Ticket {
	var current *Ticket
	for _, t := range tickets {
		if t.Status != StatusCalledClinician || t.CalledAt == nil {
			continue
		}
		if current == nil || t.CalledAt.After(*current.CalledAt) {
			current = t
		}
	}
	return current
}

// DisplayTicket is what a waiting-room panel shows for one ticket.
type DisplayTicket struct {
	TicketID    uuid.UUID  `json:"ticket_id"`
	Code        string     `json:"code"`
	PatientName string     `json:"patient_name"`
	Status      Status     `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	Colour      string     `json:"colour,omitempty"`
	Location    string     `json:"location,omitempty"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
}

func toDisplay(t *Ticket) DisplayTicket {
	d := DisplayTicket{
		TicketID:    t.ID,
		Code:        t.Code,
		PatientName: t.PatientName,
		Status:      t.Status,
		CalledAt:    t.CalledAt,
	}
	if t.Priority != nil {
		d.Priority = t.Priority.String()
		d.Colour = t.Priority.Colour()
	}
	if t.Location != nil {
		d.Location = *t.Location
	}
	return d
}

func toDisplayList(tickets []*Ticket, limit int) []DisplayTicket {
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	out := make([]DisplayTicket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toDisplay(t))
	}
	return out
}

// ReceptionBoard feeds the reception/triage panel.
type ReceptionBoard struct {
	Current  *DisplayTicket  `json:"current"`
	Phase    string          `json:"phase,omitempty"`
	Upcoming []DisplayTicket `json:"upcoming"`
	At       time.Time       `json:"at"`
}

// ClinicianBoard feeds the consulting-room corridor panel.
type ClinicianBoard struct {
	Current  *DisplayTicket  `json:"current"`
	Corridor []DisplayTicket `json:"corridor"`
	At       time.Time       `json:"at"`
}

// CallBoard lists the latest calls per stage, freshest first.
type CallBoard struct {
	Triage    []DisplayTicket `json:"triage"`
	Clinician []DisplayTicket `json:"clinician"`
	At        time.Time       `json:"at"`
}

package attendance

import (
	"context"
	"fmt"
	"time"
)

// IssuedTicket is the part of an existing ticket the sequencer reconciles
// against.
type IssuedTicket struct {
	SeqNumber   int
	ServiceDate time.Time
	CreatedAt   time.Time
}

// SequenceStore is the storage the sequencer needs. Every method must run
// inside the registration transaction.
type SequenceStore interface {
	// LockSequence creates the day's counter row if missing, locks it and
	// returns the last number handed out.
	LockSequence(ctx context.Context, prefix string, day time.Time) (int, error)
	// LatestIssued returns the highest-numbered ticket with prefix on day,
	// or the most recently created one overall when day is nil. It returns
	// nil when there is none.
	LatestIssued(ctx context.Context, prefix string, day *time.Time) (*IssuedTicket, error)
	SaveSequence(ctx context.Context, prefix string, day time.Time, last int) error
}

// Code is an allocated ticket code.
type Code struct {
	Value       string
	Prefix      string
	Number      int
	ServiceDate time.Time
}

type Sequencer struct {
	store  SequenceStore
	prefix string
	loc    *time.Location
	now    func() time.Time
}

func NewSequencer(store SequenceStore, prefix string, loc *time.Location) *Sequencer {
	if loc == nil {
		loc = time.UTC
	}
	return &Sequencer{store: store, prefix: prefix, loc: loc, now: time.Now}
}

// Next allocates the next code for today. The counter row stays locked
// until the caller's transaction ends, so concurrent registrations queue
// behind each other.
func (s *Sequencer) Next(ctx context.Context) (Code, error) {
	now := s.now()
	day := ServiceDate(now, s.loc)

	counter, err := s.store.LockSequence(ctx, s.prefix, day)
	if err != nil {
		return Code{}, fmt.Errorf("lock sequence: %w", err)
	}
	latestToday, err := s.store.LatestIssued(ctx, s.prefix, &day)
	if err != nil {
		return Code{}, fmt.Errorf("latest ticket today: %w", err)
	}
	var latestOverall *IssuedTicket
	if latestToday == nil {
		if latestOverall, err = s.store.LatestIssued(ctx, s.prefix, nil); err != nil {
			return Code{}, fmt.Errorf("latest ticket: %w", err)
		}
	}

	n := nextNumber(counter, day, s.loc, latestToday, latestOverall)
	if err := s.store.SaveSequence(ctx, s.prefix, day, n); err != nil {
		return Code{}, fmt.Errorf("save sequence: %w", err)
	}
	return Code{Value: FormatCode(s.prefix, n), Prefix: s.prefix, Number: n, ServiceDate: day}, nil
}

// nextNumber picks the number after the highest one known for day. The
// global latest ticket only counts when it provably belongs to day, either
// by its stored service date or by its creation instant in loc.
func nextNumber(counter int, day time.Time, loc *time.Location, latestToday, latestOverall *IssuedTicket) int {
	n := counter
	switch {
	case latestToday != nil:
		n = max(n, latestToday.SeqNumber)
	case latestOverall != nil && issuedOn(latestOverall, day, loc):
		n = max(n, latestOverall.SeqNumber)
	}
	return n + 1
}

func issuedOn(t *IssuedTicket, day time.Time, loc *time.Location) bool {
	return sameDate(t.ServiceDate, day) || sameDate(ServiceDate(t.CreatedAt, loc), day)
}

// ServiceDate is the calendar day of instant t in loc, as a UTC midnight.
func ServiceDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FormatCode renders prefix plus an at-least-three-digit number. Past 999
// the field widens instead of wrapping.
func FormatCode(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/patientflow/patientflow/internal/domain/patient"
	"github.com/patientflow/patientflow/internal/domain/staff"
	"github.com/patientflow/patientflow/internal/platform/auth"
)

// lockingTx serializes transactions, standing in for the row locks taken by
// GetForUpdate and LockSequence.
type lockingTx struct {
	mu sync.Mutex
}

type inTxKey struct{}

func (l *lockingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

var errOutsideTx = errors.New("lookup made outside the transaction")

type seqKey struct {
	prefix string
	day    time.Time
}

type memRepo struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*Ticket
	history []*HistoryEntry
	seq     map[seqKey]int
	clock   *fakeClock
}

func newMemRepo(clock *fakeClock) *memRepo {
	return &memRepo{
		tickets: make(map[uuid.UUID]*Ticket),
		seq:     make(map[seqKey]int),
		clock:   clock,
	}
}

func copyTicket(t *Ticket) *Ticket {
	cp := *t
	return &cp
}

func (m *memRepo) Create(_ context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tickets {
		if existing.ServiceDate.Equal(t.ServiceDate) && existing.Code == t.Code {
			return errors.New("duplicate ticket code")
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = m.clock.Now()
	t.UpdatedAt = t.CreatedAt
	m.tickets[t.ID] = copyTicket(t)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return copyTicket(t), nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	return m.GetByID(ctx, id)
}

func (m *memRepo) Update(_ context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[t.ID]; !ok {
		return ErrTicketNotFound
	}
	m.tickets[t.ID] = copyTicket(t)
	return nil
}

func (m *memRepo) List(_ context.Context, f ListFilter) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ticket
	for _, t := range m.tickets {
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
			continue
		}
		if f.ClinicianID != nil && (t.ClinicianID == nil || *t.ClinicianID != *f.ClinicianID) {
			continue
		}
		if f.ServiceDate != nil && !t.ServiceDate.Equal(*f.ServiceDate) {
			continue
		}
		out = append(out, copyTicket(t))
	}
	// Map iteration order is random; the service must impose its own order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (m *memRepo) AddHistory(_ context.Context, h *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = uuid.New()
	cp := *h
	m.history = append(m.history, &cp)
	return nil
}

func (m *memRepo) History(_ context.Context, ticketID uuid.UUID) ([]*HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HistoryEntry
	for _, h := range m.history {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memRepo) LockSequence(_ context.Context, prefix string, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq[seqKey{prefix, day}], nil
}

func (m *memRepo) LatestIssued(_ context.Context, prefix string, day *time.Time) (*IssuedTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Ticket
	for _, t := range m.tickets {
		if t.Prefix != prefix {
			continue
		}
		if day != nil {
			if !t.ServiceDate.Equal(*day) {
				continue
			}
			if best == nil || t.SeqNumber > best.SeqNumber {
				best = t
			}
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	return &IssuedTicket{SeqNumber: best.SeqNumber, ServiceDate: best.ServiceDate, CreatedAt: best.CreatedAt}, nil
}

func (m *memRepo) SaveSequence(_ context.Context, prefix string, day time.Time, last int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[seqKey{prefix, day}] = last
	return nil
}

// fakeClock hands out increasing instants so creation order is unambiguous,
// unless a test moves it back with Advance.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePatients struct {
	mu    sync.Mutex
	byNID map[string]*patient.Patient
	byID  map[uuid.UUID]*patient.Patient
}

func newFakePatients() *fakePatients {
	return &fakePatients{byNID: make(map[string]*patient.Patient), byID: make(map[uuid.UUID]*patient.Patient)}
}

func (f *fakePatients) RegisterPatient(_ context.Context, in patient.RegisterInput) (*patient.Patient, bool, error) {
	nid, err := patient.NormalizeNationalID(in.NationalID)
	if err != nil {
		return nil, false, err
	}
	if in.FullName == "" {
		return nil, false, patient.ErrNameRequired
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byNID[nid]; ok {
		p.FullName = in.FullName
		return p, false, nil
	}
	p := &patient.Patient{ID: uuid.New(), NationalID: nid, FullName: in.FullName}
	f.byNID[nid] = p
	f.byID[p.ID] = p
	return p, true, nil
}

func (f *fakePatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return p, nil
}

type fakeClinicians map[uuid.UUID]*staff.Operator

// GetClinician fails unless ctx carries the transaction, so routing must
// validate the clinician inside its unit of work.
func (f fakeClinicians) GetClinician(ctx context.Context, id uuid.UUID) (*staff.Operator, error) {
	if ctx.Value(inTxKey{}) == nil {
		return nil, errOutsideTx
	}
	o, ok := f[id]
	if !ok {
		return nil, staff.ErrOperatorNotFound
	}
	if !o.IsClinician() {
		return nil, staff.ErrNotAClinician
	}
	return o, nil
}

type recordingAnnouncer struct {
	mu     sync.Mutex
	events []CallEvent
	err    error
}

func (r *recordingAnnouncer) Announce(_ context.Context, ev CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

type testEnv struct {
	svc        *Service
	repo       *memRepo
	clock      *fakeClock
	patients   *fakePatients
	clinicians fakeClinicians
	announcer  *recordingAnnouncer
	operator   uuid.UUID
	doctor     *staff.Operator
}

// clinicStart is 09:00 in São Paulo, well inside one service date.
var clinicStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	clock := newFakeClock(clinicStart)
	repo := newMemRepo(clock)
	doctor := &staff.Operator{ID: uuid.New(), FullName: "Dra. Ana", Role: auth.RolePhysician, Active: true}
	nurse := &staff.Operator{ID: uuid.New(), FullName: "Enf. Bia", Role: auth.RoleNurse, Active: true}
	clinicians := fakeClinicians{doctor.ID: doctor, nurse.ID: nurse}
	patients := newFakePatients()

	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		loc = time.FixedZone("BRT", -3*60*60)
	}
	opts := DefaultOptions()
	opts.Location = loc

	svc := NewService(repo, &lockingTx{}, patients, clinicians, opts, zerolog.Nop())
	svc.now = clock.Now
	announcer := &recordingAnnouncer{}
	svc.SetAnnouncer(announcer)

	return &testEnv{
		svc:        svc,
		repo:       repo,
		clock:      clock,
		patients:   patients,
		clinicians: clinicians,
		announcer:  announcer,
		operator:   uuid.New(),
		doctor:     doctor,
	}
}

func (e *testEnv) register(name, nid string) *Ticket {
	t, _, err := e.svc.RegisterAndIssue(context.Background(),
		patient.RegisterInput{FullName: name, NationalID: nid}, e.operator)
	if err != nil {
		panic(err)
	}
	return t
}

func (e *testEnv) triaged(name, nid string, p Priority) *Ticket {
	ctx := context.Background()
	t := e.register(name, nid)
	if _, err := e.svc.CallToTriage(ctx, t.ID, e.operator); err != nil {
		panic(err)
	}
	t, err := e.svc.CompleteTriage(ctx, t.ID, e.operator, TriageInput{Priority: p})
	if err != nil {
		panic(err)
	}
	return t
}

package announce

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientflow/patientflow/internal/domain/attendance"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(2, nil)
}

func sampleEvent() attendance.CallEvent {
	return attendance.CallEvent{
		UnitID:      "centro",
		TicketID:    uuid.New(),
		Code:        "A007",
		PatientName: "Maria Silva",
		Stage:       attendance.StageClinician,
		Location:    "Consultório 3",
		CalledAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "patientflow:centro:calls", Channel("centro"))
	assert.Equal(t, "centro", unitFromChannel(Channel("centro")))
}

func TestRedisAnnouncer_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	a := NewRedisAnnouncer(pub, "default", zerolog.Nop())
	ev := sampleEvent()

	require.NoError(t, a.Announce(context.Background(), ev))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "patientflow:centro:calls", pub.sent[0].channel)

	var body map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &body))
	assert.Equal(t, "centro", body["unit"])
	assert.Equal(t, "A007", body["code"])
	assert.Equal(t, "Consultório 3", body["location"])
	assert.Equal(t, attendance.StageClinician, body["stage"])

	decoded, err := Decode(string(pub.sent[0].payload))
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestRedisAnnouncer_DefaultUnit(t *testing.T) {
	pub := &fakePublisher{}
	a := NewRedisAnnouncer(pub, "default", zerolog.Nop())
	ev := sampleEvent()
	ev.UnitID = ""

	require.NoError(t, a.Announce(context.Background(), ev))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "patientflow:default:calls", pub.sent[0].channel)
}

func TestRedisAnnouncer_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	a := NewRedisAnnouncer(pub, "default", zerolog.Nop())

	err := a.Announce(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "patientflow:centro:calls")
}

func TestNop(t *testing.T) {
	var a attendance.Announcer = Nop{}
	assert.NoError(t, a.Announce(context.Background(), sampleEvent()))
}

type countingAnnouncer struct {
	calls int
	err   error
}

func (c *countingAnnouncer) Announce(context.Context, attendance.CallEvent) error {
	c.calls++
	return c.err
}

func TestMulti(t *testing.T) {
	failing := &countingAnnouncer{err: errors.New("redis down")}
	ok := &countingAnnouncer{}
	m := Multi{failing, ok}

	err := m.Announce(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls, "a failing announcer must not stop the others")

	assert.NoError(t, Multi{}.Announce(context.Background(), sampleEvent()))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode("not json")
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("redis://localhost:6379/2")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 2, c.Options().DB)

	_, err = NewClient("http://nope")
	assert.Error(t, err)
}

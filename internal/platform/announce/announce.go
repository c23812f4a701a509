// Package announce publishes ticket calls so display panels can react
// without waiting for their next poll.
package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/patientflow/patientflow/internal/domain/attendance"
)

const channelPrefix = "patientflow:"

// Channel is the pub/sub channel for a unit's calls.
func Channel(unitID string) string {
	return channelPrefix + unitID + ":calls"
}

// AllUnitsPattern matches the call channel of every unit.
const AllUnitsPattern = channelPrefix + "*:calls"

// Publisher is the slice of the redis client the announcer needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisAnnouncer publishes call events as JSON on the unit's channel.
type RedisAnnouncer struct {
	pub         Publisher
	defaultUnit string
	logger      zerolog.Logger
}

func NewRedisAnnouncer(pub Publisher, defaultUnit string, logger zerolog.Logger) *RedisAnnouncer {
	return &RedisAnnouncer{
		pub:         pub,
		defaultUnit: defaultUnit,
		logger:      logger.With().Str("component", "announce").Logger(),
	}
}

func (a *RedisAnnouncer) Announce(ctx context.Context, ev attendance.CallEvent) error {
	if ev.UnitID == "" {
		ev.UnitID = a.defaultUnit
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode call event: %w", err)
	}
	channel := Channel(ev.UnitID)
	receivers, err := a.pub.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	a.logger.Debug().
		Str("channel", channel).
		Str("code", ev.Code).
		Int64("receivers", receivers).
		Msg("call announced")
	return nil
}

// Nop discards events. Used when no Redis is configured.
type Nop struct{}

func (Nop) Announce(context.Context, attendance.CallEvent) error { return nil }

// Multi fans a call out to several announcers. Every announcer is tried and
// the failures are joined.
type Multi []attendance.Announcer

func (m Multi) Announce(ctx context.Context, ev attendance.CallEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Announce(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewClient builds a redis client from a redis:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Ping checks the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Tail subscribes to the call channels matching pattern and invokes fn for
// every decoded event until ctx is done. Undecodable messages are logged and
// skipped.
func Tail(ctx context.Context, client *redis.Client, pattern string, logger zerolog.Logger, fn func(attendance.CallEvent)) error {
	sub := client.PSubscribe(ctx, pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := Decode(msg.Payload)
			if err != nil {
				logger.Warn().Err(err).Str("channel", msg.Channel).Msg("skipping malformed call event")
				continue
			}
			if ev.UnitID == "" {
				ev.UnitID = unitFromChannel(msg.Channel)
			}
			fn(ev)
		}
	}
}

// Decode parses a published payload.
func Decode(payload string) (attendance.CallEvent, error) {
	var ev attendance.CallEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode call event: %w", err)
	}
	return ev, nil
}

func unitFromChannel(channel string) string {
	s := strings.TrimPrefix(channel, channelPrefix)
	return strings.TrimSuffix(s, ":calls")
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package relay forwards informational events to NATS so bridges running
// in other processes can follow them.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/chat"
	"github.com/holomush/playerdb/internal/directory"
	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/pkg/errutil"
)

// DefaultSubjectPrefix is prepended to every event subject.
const DefaultSubjectPrefix = "playerdb"

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON document published for every event. Fields that do
// not apply to an event are omitted.
type Message struct {
	Event    string        `json:"event"`
	Time     time.Time     `json:"time"`
	Player   string        `json:"player,omitempty"`
	PlayerID int           `json:"player_id,omitempty"`
	Actor    string        `json:"actor,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Announce bool          `json:"announce,omitempty"`
	OldRank  string        `json:"old_rank,omitempty"`
	NewRank  string        `json:"new_rank,omitempty"`
	Change   string        `json:"change,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Until    time.Time     `json:"until,omitzero"`
	Hidden   *bool         `json:"hidden,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Text     string        `json:"text,omitempty"`
	Rank     string        `json:"rank,omitempty"`
	Count    int           `json:"count,omitempty"`
}

// Relay publishes events as they happen.
type Relay struct {
	pub    Publisher
	prefix string
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	unsubs []func()
}

// Option configures a Relay.
type Option func(*Relay)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(r *Relay) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a relay publishing through pub.
func New(pub Publisher, opts ...Option) *Relay {
	r := &Relay{
		pub:    pub,
		prefix: DefaultSubjectPrefix,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect dials a NATS server for use as a Publisher.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("playerdb"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				errutil.LogWarn(logger, "relay disconnected", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("relay reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, oops.In("relay").With("url", url).Wrapf(err, "connect to nats")
	}
	return conn, nil
}

// Subject returns the subject an event is published on.
func (r *Relay) Subject(eventName string) string {
	return r.prefix + "." + eventName
}

// publish encodes m and sends it. Failures are logged; relaying never
// affects the action that raised the event.
func (r *Relay) publish(m Message) {
	m.Time = r.now()
	data, err := json.Marshal(m)
	if err != nil {
		errutil.LogError(r.logger, "encode relay message", err, "event", m.Event)
		return
	}
	if err := r.pub.Publish(r.Subject(m.Event), data); err != nil {
		relayFailures.WithLabelValues(m.Event).Inc()
		errutil.LogWarn(r.logger, "relay publish failed", err, "event", m.Event)
		return
	}
	relayed.WithLabelValues(m.Event).Inc()
}

func (r *Relay) track(unsub func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubs = append(r.unsubs, unsub)
}

// Close detaches the relay from every bus.
func (r *Relay) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func name(rec *record.Record) string {
	if rec == nil {
		return ""
	}
	return rec.Name()
}

func playerID(rec *record.Record) int {
	if rec == nil {
		return 0
	}
	return rec.ID()
}

func action(eventName string, a record.Action) Message {
	return Message{
		Event:    eventName,
		Player:   name(a.Target),
		PlayerID: playerID(a.Target),
		Actor:    name(a.Actor),
		Reason:   a.Reason,
		Announce: a.Announce,
	}
}

// AttachRecords relays the completed administrative actions.
func (r *Relay) AttachRecords(events *record.Events) {
	for _, bus := range []*event.Bus[*record.Action]{
		events.Banned,
		events.Unbanned,
		events.Frozen,
		events.Unfrozen,
		events.Kicked,
		events.Unmuted,
	} {
		eventName := bus.Name()
		r.track(bus.Subscribe(event.Highest, func(a *record.Action) {
			r.publish(action(eventName, *a))
		}))
	}

	r.track(events.RankChanged.Subscribe(event.Highest, func(ev *record.RankChanged) {
		m := Message{
			Event:    events.RankChanged.Name(),
			Player:   name(ev.Target),
			PlayerID: playerID(ev.Target),
			Actor:    name(ev.Actor),
			Reason:   ev.Reason,
			Announce: ev.Announce,
			NewRank:  ev.NewRank.Name(),
			Change:   ev.Type.String(),
		}
		if ev.OldRank != nil {
			m.OldRank = ev.OldRank.Name()
		}
		r.publish(m)
	}))

	r.track(events.Muted.Subscribe(event.Highest, func(ev *record.MuteChanged) {
		m := action(events.Muted.Name(), ev.Action)
		m.Duration = ev.Duration
		m.Until = ev.Until
		r.publish(m)
	}))

	r.track(events.VisibilityChanged.Subscribe(event.Highest, func(ev *record.VisibilityChanged) {
		m := action(events.VisibilityChanged.Name(), ev.Action)
		hidden := ev.Hidden
		m.Hidden = &hidden
		r.publish(m)
	}))
}

// AttachDirectory relays record creation.
func (r *Relay) AttachDirectory(events *directory.Events) {
	r.track(events.Created.Subscribe(event.Highest, func(ev *directory.Created) {
		r.publish(Message{
			Event:    events.Created.Name(),
			Player:   ev.Record.Name(),
			PlayerID: ev.Record.ID(),
			NewRank:  ev.Record.Rank().Name(),
		})
	}))
}

// AttachChat relays delivered chat messages. Private messages are not
// relayed.
func (r *Relay) AttachChat(events *chat.Events) {
	r.track(events.Sent.Subscribe(event.Highest, func(ev *chat.Sent) {
		if ev.Kind == chat.KindPrivate {
			return
		}
		m := Message{
			Event: events.Sent.Name(),
			Kind:  ev.Kind.String(),
			Text:  ev.Text,
			Count: ev.Count,
		}
		if ev.Sender != nil {
			m.Player = ev.Sender.Record().Name()
			m.PlayerID = ev.Sender.Record().ID()
		}
		if ev.Rank != nil {
			m.Rank = ev.Rank.Name()
		}
		r.publish(m)
	}))
}

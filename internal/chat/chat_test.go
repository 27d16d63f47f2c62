// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package chat_test

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/playerdb/internal/chat"
	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/record/recordtest"
	"github.com/holomush/playerdb/pkg/errutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePlayer struct {
	rec        *record.Record
	world      string
	ignoring   map[*record.Record]bool
	spectating *record.Record
	deliverErr error

	mu  sync.Mutex
	got []string
}

func (p *fakePlayer) Record() *record.Record           { return p.rec }
func (p *fakePlayer) World() string                    { return p.world }
func (p *fakePlayer) IsIgnoring(o *record.Record) bool { return p.ignoring[o] }
func (p *fakePlayer) Spectating() *record.Record       { return p.spectating }

func (p *fakePlayer) Deliver(text string) error {
	if p.deliverErr != nil {
		return p.deliverErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, text)
	return nil
}

func (p *fakePlayer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.got)
}

func (p *fakePlayer) ignore(other *fakePlayer) {
	if p.ignoring == nil {
		p.ignoring = make(map[*record.Record]bool)
	}
	p.ignoring[other.rec] = true
}

type roster []chat.Player

func (r roster) Online() []chat.Player { return slices.Clone(r) }

type world struct {
	ranks *rank.Model
	clock *recordtest.Clock
	alice *fakePlayer // guest in the lobby
	bob   *fakePlayer // guest in the lobby
	carol *fakePlayer // op in the arena
	dave  *fakePlayer // builder in the arena, spectating alice
	chat  *chat.Dispatcher
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ranks, err := rank.DefaultDefinitions().Build()
	require.NoError(t, err)
	clock := recordtest.NewClock(epoch)
	player := func(id int, name, rankName, worldName string) *fakePlayer {
		r := ranks.FindRank(rankName)
		require.NotNil(t, r)
		rec := record.New(record.Data{ID: id, Name: name, Rank: r}, record.WithClock(clock))
		return &fakePlayer{rec: rec, world: worldName}
	}
	w := &world{
		ranks: ranks,
		clock: clock,
		alice: player(256, "Alice", "guest", "lobby"),
		bob:   player(257, "Bob", "guest", "lobby"),
		carol: player(258, "Carol", "op", "arena"),
		dave:  player(259, "Dave", "builder", "arena"),
	}
	w.dave.spectating = w.alice.rec
	w.chat = chat.NewDispatcher(roster{w.alice, w.bob, w.carol, w.dave}, chat.WithNameStyle(record.NameStyle{}))
	return w
}

func (w *world) all() []*fakePlayer { return []*fakePlayer{w.alice, w.bob, w.carol, w.dave} }

func messagesWritten(p *fakePlayer) int { return p.rec.Snapshot().MessagesWritten }

func TestDispatcher_FormatsAndRecipients(t *testing.T) {
	tests := []struct {
		name      string
		send      func(w *world) (int, error)
		formatted string
		want      func(w *world) []*fakePlayer
	}{
		{
			name:      "global",
			send:      func(w *world) (int, error) { return w.chat.SendGlobal(w.alice, "hi") },
			formatted: "Alice: hi",
			want:      func(w *world) []*fakePlayer { return w.all() },
		},
		{
			name:      "world",
			send:      func(w *world) (int, error) { return w.chat.SendWorld(w.alice, "hi") },
			formatted: "(lobby) Alice: hi",
			want:      func(w *world) []*fakePlayer { return []*fakePlayer{w.alice, w.bob} },
		},
		{
			name:      "action",
			send:      func(w *world) (int, error) { return w.chat.SendAction(w.alice, "waves") },
			formatted: "* Alice waves",
			want:      func(w *world) []*fakePlayer { return w.all() },
		},
		{
			name:      "private reaches target and spectators",
			send:      func(w *world) (int, error) { return w.chat.SendPrivate(w.alice, w.bob, "hi") },
			formatted: "from Alice: hi",
			want:      func(w *world) []*fakePlayer { return []*fakePlayer{w.bob, w.dave} },
		},
		{
			name: "rank reaches holders, sender and sender's spectators",
			send: func(w *world) (int, error) {
				return w.chat.SendRank(w.alice, w.ranks.FindRank("op"), "hi")
			},
			formatted: "(op) Alice: hi",
			want:      func(w *world) []*fakePlayer { return []*fakePlayer{w.carol, w.alice, w.dave} },
		},
		{
			name:      "announcement",
			send:      func(w *world) (int, error) { return w.chat.SendAnnouncement(w.carol, "restart soon") },
			formatted: chat.AnnouncementColor + "restart soon",
			want:      func(w *world) []*fakePlayer { return w.all() },
		},
		{
			name:      "staff reaches readers and sender",
			send:      func(w *world) (int, error) { return w.chat.SendStaff(w.alice, "help") },
			formatted: "(staff) Alice: help",
			want:      func(w *world) []*fakePlayer { return []*fakePlayer{w.carol, w.alice} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			var sent *chat.Sent
			w.chat.Events().Sent.Subscribe(event.Normal, func(ev *chat.Sent) { sent = ev })

			n, err := tt.send(w)
			require.NoError(t, err)

			want := tt.want(w)
			assert.Equal(t, len(want), n)
			for _, p := range w.all() {
				if slices.Contains(want, p) {
					assert.Equal(t, []string{tt.formatted}, p.received(), p.rec.Name())
				} else {
					assert.Empty(t, p.received(), p.rec.Name())
				}
			}
			require.NotNil(t, sent)
			assert.Equal(t, n, sent.Count)
			assert.Equal(t, tt.formatted, sent.Formatted)
		})
	}
}

func TestDispatcher_IgnoredSendersAreFiltered(t *testing.T) {
	w := newWorld(t)
	w.bob.ignore(w.alice)
	w.carol.ignore(w.alice)

	n, err := w.chat.SendGlobal(w.alice, "anyone?")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, w.bob.received())
	assert.Empty(t, w.carol.received())

	_, err = w.chat.SendPrivate(w.alice, w.bob, "psst")
	errutil.AssertErrorCode(t, err, chat.CodeIgnored)
	assert.Equal(t, "Bob is ignoring you.", chat.PlayerMessage(err))
}

func TestDispatcher_MessageCounter(t *testing.T) {
	t.Run("private message to an online player counts", func(t *testing.T) {
		w := newWorld(t)
		_, err := w.chat.SendPrivate(w.alice, w.bob, "hello")
		require.NoError(t, err)
		assert.Equal(t, 1, messagesWritten(w.alice))
		assert.Zero(t, messagesWritten(w.bob))
	})

	t.Run("global message with nobody else eligible does not count", func(t *testing.T) {
		w := newWorld(t)
		for _, p := range []*fakePlayer{w.bob, w.carol, w.dave} {
			p.ignore(w.alice)
		}
		n, err := w.chat.SendGlobal(w.alice, "hello?")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "only the author receives it")
		assert.Zero(t, messagesWritten(w.alice))
	})

	t.Run("global message with no recipients does not count", func(t *testing.T) {
		w := newWorld(t)
		d := chat.NewDispatcher(roster{})
		n, err := d.SendGlobal(w.alice, "hello?")
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, messagesWritten(w.alice))
	})

	t.Run("message reaching only the author does not count", func(t *testing.T) {
		w := newWorld(t)
		d := chat.NewDispatcher(roster{w.alice})
		n, err := d.SendStaff(w.alice, "note to self")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Zero(t, messagesWritten(w.alice))
	})

	t.Run("message reaching the author and one other counts", func(t *testing.T) {
		w := newWorld(t)
		d := chat.NewDispatcher(roster{w.alice, w.bob})
		n, err := d.SendWorld(w.alice, "hi bob")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, messagesWritten(w.alice))
	})

	t.Run("console announcement counts nobody", func(t *testing.T) {
		w := newWorld(t)
		n, err := w.chat.SendAnnouncement(nil, "server restarting")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		for _, p := range w.all() {
			assert.Zero(t, messagesWritten(p))
		}
	})
}

func TestDispatcher_SendingCancelAborts(t *testing.T) {
	w := newWorld(t)
	sentFired := false
	w.chat.Events().Sending.Subscribe(event.High, func(ev *chat.Sending) {
		if ev.Kind == chat.KindGlobal {
			ev.Cancel()
		}
	})
	w.chat.Events().Sent.Subscribe(event.Normal, func(*chat.Sent) { sentFired = true })

	n, err := w.chat.SendGlobal(w.alice, "spam")
	assert.Zero(t, n)
	errutil.AssertErrorCode(t, err, chat.CodeCancelled)
	errutil.AssertErrorContext(t, err, "kind", "global")
	assert.Equal(t, "Your message was not sent.", chat.PlayerMessage(err))
	assert.False(t, sentFired)
	for _, p := range w.all() {
		assert.Empty(t, p.received())
	}
	assert.Zero(t, messagesWritten(w.alice))
}

func TestDispatcher_SendingRewritesMessage(t *testing.T) {
	w := newWorld(t)
	w.chat.Events().Sending.Subscribe(event.Normal, func(ev *chat.Sending) {
		ev.Formatted = "[filtered] " + ev.Formatted
		ev.Recipients = slices.DeleteFunc(ev.Recipients, func(p chat.Player) bool {
			return p.Record().Name() == "Carol"
		})
	})

	n, err := w.chat.SendGlobal(w.alice, "hi")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"[filtered] Alice: hi"}, w.bob.received())
	assert.Empty(t, w.carol.received())
}

func TestDispatcher_DeliveryFailureDoesNotBlockOthers(t *testing.T) {
	w := newWorld(t)
	w.bob.deliverErr = errors.New("connection closed")
	var sent *chat.Sent
	w.chat.Events().Sent.Subscribe(event.Normal, func(ev *chat.Sent) { sent = ev })

	n, err := w.chat.SendGlobal(w.alice, "hi")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"Alice: hi"}, w.carol.received())
	assert.Equal(t, []string{"Alice: hi"}, w.dave.received())
	require.NotNil(t, sent)
	assert.Len(t, sent.Recipients, 3)
}

func TestDispatcher_RejectsBeforeDelivery(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, w *world)
		send     func(w *world) (int, error)
		wantCode string
		wantMsg  string
	}{
		{
			name:     "invalid characters",
			send:     func(w *world) (int, error) { return w.chat.SendGlobal(w.alice, "&4red") },
			wantCode: chat.CodeInvalidMessage,
			wantMsg:  "Not allowed: message contains the colour escape character.",
		},
		{
			name: "muted sender",
			setup: func(t *testing.T, w *world) {
				require.NoError(t, w.alice.rec.ProcessMute("Carol", 90*time.Second))
			},
			send:     func(w *world) (int, error) { return w.chat.SendGlobal(w.alice, "hello") },
			wantCode: chat.CodeMuted,
			wantMsg:  "You are muted for 1m30s longer.",
		},
		{
			name:     "guest may not announce",
			send:     func(w *world) (int, error) { return w.chat.SendAnnouncement(w.alice, "hello") },
			wantCode: chat.CodePermissionDenied,
			wantMsg:  "Not allowed: you may not send announcement messages.",
		},
		{
			name:     "missing sender",
			send:     func(w *world) (int, error) { return w.chat.SendGlobal(nil, "hello") },
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name:     "missing private target",
			send:     func(w *world) (int, error) { return w.chat.SendPrivate(w.alice, nil, "hello") },
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name:     "missing rank",
			send:     func(w *world) (int, error) { return w.chat.SendRank(w.alice, nil, "hello") },
			wantCode: chat.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			if tt.setup != nil {
				tt.setup(t, w)
			}
			sending := false
			w.chat.Events().Sending.Subscribe(event.Normal, func(*chat.Sending) { sending = true })

			n, err := tt.send(w)
			assert.Zero(t, n)
			errutil.AssertErrorCode(t, err, tt.wantCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, chat.PlayerMessage(err))
			}
			assert.False(t, sending)
			for _, p := range w.all() {
				assert.Empty(t, p.received())
			}
		})
	}
}

func TestDispatcher_MuteExpires(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.alice.rec.ProcessMute("Carol", time.Minute))

	_, err := w.chat.SendGlobal(w.alice, "hello")
	errutil.AssertErrorCode(t, err, chat.CodeMuted)

	w.clock.Advance(time.Minute)
	_, err = w.chat.SendGlobal(w.alice, "hello")
	assert.NoError(t, err)
}

func TestDispatcher_ClassyNames(t *testing.T) {
	w := newWorld(t)
	d := chat.NewDispatcher(roster{w.bob}, chat.WithNameStyle(record.NameStyle{RankColors: true, RankPrefixes: true}))

	_, err := d.SendGlobal(w.carol, "hi")
	require.NoError(t, err)
	op := w.ranks.FindRank("op")
	assert.Equal(t, []string{op.Color + op.Prefix + "Carol: hi"}, w.bob.received())
}

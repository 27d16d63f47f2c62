// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package chat formats player messages, picks their recipients and
// delivers them, with a cancellable event before delivery and an
// informational one after.
package chat

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/playerdb/internal/event"
	"github.com/holomush/playerdb/internal/rank"
	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/pkg/errutil"
)

// Kind is a message class.
type Kind uint8

// Message classes.
const (
	KindGlobal Kind = iota
	KindWorld
	KindAction
	KindPrivate
	KindRank
	KindAnnouncement
	KindStaff
)

func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindWorld:
		return "world"
	case KindAction:
		return "action"
	case KindPrivate:
		return "private"
	case KindRank:
		return "rank"
	case KindAnnouncement:
		return "announcement"
	case KindStaff:
		return "staff"
	default:
		return "unknown"
	}
}

// AnnouncementColor is the colour code announcements are shown in.
const AnnouncementColor = "&e"

// Player is an online player as seen by the session layer.
type Player interface {
	Record() *record.Record
	// World is the name of the world the player is in.
	World() string
	IsIgnoring(other *record.Record) bool
	// Spectating returns the record of the player being spectated, or nil.
	Spectating() *record.Record
	// Deliver shows formatted text to the player.
	Deliver(text string) error
}

// Roster lists the players currently online.
type Roster interface {
	Online() []Player
}

// Dispatcher routes chat messages.
type Dispatcher struct {
	roster Roster
	events *Events
	style  record.NameStyle
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEvents sets the event buses.
func WithEvents(e *Events) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.events = e
		}
	}
}

// WithNameStyle sets how sender names are decorated.
func WithNameStyle(s record.NameStyle) Option {
	return func(d *Dispatcher) { d.style = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher over roster.
func NewDispatcher(roster Roster, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		roster: roster,
		events: NewEvents(),
		style:  record.DefaultNameStyle,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Events returns the chat buses.
func (d *Dispatcher) Events() *Events { return d.events }

// SendGlobal sends text to everyone not ignoring sender.
func (d *Dispatcher) SendGlobal(sender Player, text string) (int, error) {
	return d.send(&Sending{Kind: KindGlobal, Sender: sender, Text: text}, rank.PermChat,
		func() string { return d.name(sender) + ": " + text },
		func() []Player { return d.notIgnoring(sender, nil) })
}

// SendWorld sends text to the players in sender's world.
func (d *Dispatcher) SendWorld(sender Player, text string) (int, error) {
	return d.send(&Sending{Kind: KindWorld, Sender: sender, Text: text}, rank.PermChat,
		func() string { return "(" + sender.World() + ") " + d.name(sender) + ": " + text },
		func() []Player {
			world := sender.World()
			return d.notIgnoring(sender, func(p Player) bool { return p.World() == world })
		})
}

// SendAction sends an emote ("/me") to everyone not ignoring sender.
func (d *Dispatcher) SendAction(sender Player, text string) (int, error) {
	return d.send(&Sending{Kind: KindAction, Sender: sender, Text: text}, rank.PermChat,
		func() string { return "* " + d.name(sender) + " " + text },
		func() []Player { return d.notIgnoring(sender, nil) })
}

// SendPrivate sends text to target and to anyone spectating either player.
func (d *Dispatcher) SendPrivate(sender, target Player, text string) (int, error) {
	if sender == nil || target == nil {
		return 0, oops.In("chat").Code(CodeInvalidArgument).Errorf("a private message needs a sender and a target")
	}
	if target.IsIgnoring(sender.Record()) {
		MessagesTotal.WithLabelValues(KindPrivate.String(), StatusRejected).Inc()
		return 0, errIgnored(sender.Record(), target.Record())
	}
	return d.send(&Sending{Kind: KindPrivate, Sender: sender, Target: target, Text: text}, rank.PermChat,
		func() string { return "from " + d.name(sender) + ": " + text },
		func() []Player {
			out := []Player{target}
			for _, p := range d.roster.Online() {
				if s := p.Spectating(); s != nil && (s == sender.Record() || s == target.Record()) {
					out = append(out, p)
				}
			}
			return dedupe(out)
		})
}

// SendRank sends text to every player holding r, plus sender and anyone
// spectating sender.
func (d *Dispatcher) SendRank(sender Player, r *rank.Rank, text string) (int, error) {
	if r == nil {
		return 0, oops.In("chat").Code(CodeInvalidArgument).Errorf("rank chat needs a rank")
	}
	return d.send(&Sending{Kind: KindRank, Sender: sender, Rank: r, Text: text}, rank.PermChat,
		func() string { return "(" + r.Name() + ") " + d.name(sender) + ": " + text },
		func() []Player {
			out := d.notIgnoring(sender, func(p Player) bool { return p.Record().Rank() == r })
			out = append(out, sender)
			return dedupe(append(out, d.spectatorsOf(sender)...))
		})
}

// SendAnnouncement shows text to everyone not ignoring sender, in the
// announcement colour and without a name. A nil sender is the console.
func (d *Dispatcher) SendAnnouncement(sender Player, text string) (int, error) {
	return d.send(&Sending{Kind: KindAnnouncement, Sender: sender, Text: text}, rank.PermSay,
		func() string { return AnnouncementColor + text },
		func() []Player { return d.notIgnoring(sender, nil) })
}

// SendStaff sends text to every player who may read staff chat, plus
// sender.
func (d *Dispatcher) SendStaff(sender Player, text string) (int, error) {
	return d.send(&Sending{Kind: KindStaff, Sender: sender, Text: text}, rank.PermChat,
		func() string { return "(staff) " + d.name(sender) + ": " + text },
		func() []Player {
			out := d.notIgnoring(sender, func(p Player) bool {
				return p.Record().Rank().Can(rank.PermReadStaffChat)
			})
			return dedupe(append(out, sender))
		})
}

// send runs the pipeline shared by every class: check the sender, pick
// recipients, format, publish Sending, deliver, count and publish Sent.
func (d *Dispatcher) send(ev *Sending, perm rank.Permission, format func() string, recipients func() []Player) (int, error) {
	kind := ev.Kind.String()
	if err := d.check(ev.Sender, ev.Kind, perm, ev.Text); err != nil {
		MessagesTotal.WithLabelValues(kind, StatusRejected).Inc()
		return 0, err
	}

	ev.Recipients = recipients()
	ev.Formatted = format()
	if event.PublishCancellable(d.events.Sending, ev) {
		MessagesTotal.WithLabelValues(kind, StatusCancelled).Inc()
		return 0, errCancelled(ev.Kind)
	}

	reached := make([]Player, 0, len(ev.Recipients))
	for _, p := range ev.Recipients {
		if err := p.Deliver(ev.Formatted); err != nil {
			DeliveryFailures.WithLabelValues(kind).Inc()
			errutil.LogWarn(d.logger, "chat delivery failed", err,
				"kind", kind,
				"recipient", p.Record().Name())
			continue
		}
		reached = append(reached, p)
	}

	if ev.Sender != nil && reachedOthers(ev.Sender, reached) {
		ev.Sender.Record().ProcessMessageWritten()
	}
	MessagesTotal.WithLabelValues(kind, StatusSent).Inc()

	d.events.Sent.Publish(&Sent{
		Kind:       ev.Kind,
		Sender:     ev.Sender,
		Target:     ev.Target,
		Rank:       ev.Rank,
		Text:       ev.Text,
		Formatted:  ev.Formatted,
		Recipients: reached,
		Count:      len(reached),
	})
	return len(reached), nil
}

func (d *Dispatcher) check(sender Player, kind Kind, perm rank.Permission, text string) error {
	if err := ValidateMessage(text); err != nil {
		return err
	}
	if sender == nil {
		if kind == KindAnnouncement {
			return nil
		}
		return oops.In("chat").Code(CodeInvalidArgument).With("kind", kind.String()).Errorf("a sender is required")
	}
	rec := sender.Record()
	if !rec.Rank().Can(perm) {
		return errPermissionDenied(rec, kind)
	}
	if rec.IsMuted() && kind != KindAnnouncement {
		return errMuted(rec)
	}
	return nil
}

// reachedOthers reports whether a message reached anyone besides its author.
func reachedOthers(sender Player, reached []Player) bool {
	switch len(reached) {
	case 0:
		return false
	case 1:
		return reached[0].Record() != sender.Record()
	default:
		return true
	}
}

func (d *Dispatcher) name(p Player) string {
	return p.Record().ClassyName(d.style)
}

// notIgnoring returns the online players that accept keep and are not
// ignoring sender. A nil keep accepts everyone.
func (d *Dispatcher) notIgnoring(sender Player, keep func(Player) bool) []Player {
	var from *record.Record
	if sender != nil {
		from = sender.Record()
	}
	online := d.roster.Online()
	out := make([]Player, 0, len(online))
	for _, p := range online {
		if keep != nil && !keep(p) {
			continue
		}
		if from != nil && p.IsIgnoring(from) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (d *Dispatcher) spectatorsOf(target Player) []Player {
	var out []Player
	for _, p := range d.roster.Online() {
		if p.Spectating() == target.Record() {
			out = append(out, p)
		}
	}
	return out
}

// dedupe drops repeated players, keeping the first occurrence.
func dedupe(players []Player) []Player {
	seen := make(map[*record.Record]struct{}, len(players))
	out := players[:0]
	for _, p := range players {
		if _, dup := seen[p.Record()]; dup {
			continue
		}
		seen[p.Record()] = struct{}{}
		out = append(out, p)
	}
	return out
}

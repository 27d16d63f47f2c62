// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package chat

import "strings"

// RawMessageType is what a line of raw player input asks for.
type RawMessageType uint8

// Raw input types.
const (
	RawInvalid RawMessageType = iota
	RawChat
	RawCommand
	RawRepeatCommand
	RawPrivateChat
	RawRankChat
	RawConfirmation
	RawPartial
)

func (t RawMessageType) String() string {
	switch t {
	case RawChat:
		return "chat"
	case RawCommand:
		return "command"
	case RawRepeatCommand:
		return "repeat_command"
	case RawPrivateChat:
		return "private_chat"
	case RawRankChat:
		return "rank_chat"
	case RawConfirmation:
		return "confirmation"
	case RawPartial:
		return "partial"
	default:
		return "invalid"
	}
}

// LastTarget is the private-chat target that means "whoever I messaged last".
const LastTarget = "-"

// ClassifyRawMessage decides what trimmed raw input asks for from its
// leading and trailing characters:
//
//	/              repeat the last command
//	/ok            confirm a pending command
//	text /         first part of a longer message
//	//text         chat starting with a slash
//	/cmd args      command
//	@@rank text    rank chat
//	@name text     private chat, also "@ name text" and "@- text"
//	anything else  chat
func ClassifyRawMessage(raw string) RawMessageType {
	msg := strings.TrimSpace(raw)
	switch {
	case msg == "":
		return RawInvalid
	case msg == "/":
		return RawRepeatCommand
	case strings.EqualFold(msg, "/ok"):
		return RawConfirmation
	case strings.HasSuffix(msg, " /"):
		return RawPartial
	}

	switch msg[0] {
	case '/':
		switch msg[1] {
		case '/':
			return RawChat
		case ' ':
			return RawInvalid
		default:
			return RawCommand
		}
	case '@':
		if len(msg) < 4 || !strings.Contains(msg, " ") {
			return RawInvalid
		}
		switch {
		case msg[1] == '@':
			return RawRankChat
		case msg[1] == '-' && msg[2] == ' ':
			return RawPrivateChat
		case msg[1] == ' ' && strings.Contains(msg[2:], " "):
			return RawPrivateChat
		case msg[1] != ' ':
			return RawPrivateChat
		default:
			return RawInvalid
		}
	default:
		return RawChat
	}
}

// Input is classified raw input with its parts separated.
type Input struct {
	Type RawMessageType
	// Target is the private-chat recipient (LastTarget for "@-") or the
	// rank name for rank chat.
	Target string
	// Text is the message body, the command line without its slash, or the
	// partial fragment without its trailing slash.
	Text string
}

// ParseRawMessage classifies raw and splits it into target and text.
func ParseRawMessage(raw string) Input {
	msg := strings.TrimSpace(raw)
	in := Input{Type: ClassifyRawMessage(msg)}

	switch in.Type {
	case RawChat:
		// "//text" is an escaped slash and a trailing " //" an escaped
		// continuation marker. Both lose one slash.
		msg = strings.TrimPrefix(msg, "/")
		if strings.HasSuffix(msg, " //") {
			msg = msg[:len(msg)-1]
		}
		in.Text = msg
	case RawCommand:
		in.Text = msg[1:]
	case RawPartial:
		in.Text = strings.TrimSuffix(msg, "/")
	case RawRankChat:
		in.Target, in.Text = splitTarget(strings.TrimLeft(msg[2:], " "))
	case RawPrivateChat:
		in.Target, in.Text = splitTarget(strings.TrimLeft(msg[1:], " "))
	}
	if (in.Type == RawRankChat || in.Type == RawPrivateChat) && (in.Target == "" || in.Text == "") {
		return Input{Type: RawInvalid}
	}
	return in
}

func splitTarget(s string) (target, text string) {
	target, text, _ = strings.Cut(s, " ")
	return target, strings.TrimSpace(text)
}

// PartialBuffer joins a message typed across several lines, each ending
// with " /", up to a maximum combined length.
type PartialBuffer struct {
	Max int
	sb  strings.Builder
}

// Add appends one line of input. It returns the full message and true when
// in ends the message. A line that would exceed Max discards the buffer and
// is reported as complete with only the text gathered so far.
func (b *PartialBuffer) Add(in Input) (string, bool) {
	if in.Type != RawPartial {
		if b.sb.Len() == 0 {
			return in.Text, true
		}
		b.sb.WriteString(in.Text)
		out := b.sb.String()
		b.sb.Reset()
		return out, true
	}
	if b.Max > 0 && b.sb.Len()+len(in.Text) > b.Max {
		out := b.sb.String()
		b.sb.Reset()
		return out, true
	}
	b.sb.WriteString(in.Text)
	return "", false
}

// Pending reports whether a partial message is buffered.
func (b *PartialBuffer) Pending() bool { return b.sb.Len() > 0 }

// ValidateMessage rejects text that contains control characters, the "&"
// colour escape, or anything outside printable ASCII.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return errInvalidMessage(text, -1, "message is empty")
	}
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c < ' ' || c == 0x7f:
			return errInvalidMessage(text, i, "message contains a control character")
		case c > '~':
			return errInvalidMessage(text, i, "message contains a character outside printable ASCII")
		case c == '&':
			return errInvalidMessage(text, i, "message contains the colour escape character")
		}
	}
	return nil
}

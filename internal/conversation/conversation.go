// Package conversation holds the turn log shared by the tutor and roleplay sessions.
package conversation

import (
	"errors"
	"strings"
)

// ErrEmptyTurn is returned when a turn would carry no text.
var ErrEmptyTurn = errors.New("turn text is empty")

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "ai"
)

// Turn is one message in a conversation. Turns are values; the log hands out copies.
type Turn struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Log is an append-only, ordered sequence of turns.
// It is not safe for concurrent use; the owning session serializes access.
type Log struct {
	turns []Turn
}

// NewLog returns a log seeded with the given turns.
func NewLog(seed ...Turn) *Log {
	l := &Log{}
	for _, t := range seed {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		l.turns = append(l.turns, t)
	}
	return l
}

// Append adds a turn at the end of the log.
func (l *Log) Append(sender Sender, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrEmptyTurn
	}
	t := Turn{Sender: sender, Text: text}
	l.turns = append(l.turns, t)
	return t, nil
}

// Turns returns a copy of the turns in conversation order.
func (l *Log) Turns() []Turn {
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	return len(l.turns)
}

package conversation

import (
	"fmt"
	"strings"
)

// Render serializes turns as "{sender}: {text}" lines joined by newlines.
// This is the user content sent to the language model for roleplay turns.
func Render(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Sender))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

// Parse reverses Render. A line that does not start with a known sender
// prefix continues the text of the previous turn, so multi-line replies
// (such as a tutor reply followed by a speaking tip) survive the round trip.
func Parse(s string) ([]Turn, error) {
	if s == "" {
		return nil, nil
	}
	var turns []Turn
	for i, line := range strings.Split(s, "\n") {
		if sender, text, ok := splitSender(line); ok {
			turns = append(turns, Turn{Sender: sender, Text: text})
			continue
		}
		if len(turns) == 0 {
			return nil, fmt.Errorf("line %d: missing sender prefix", i+1)
		}
		turns[len(turns)-1].Text += "\n" + line
	}
	return turns, nil
}

func splitSender(line string) (Sender, string, bool) {
	for _, sender := range []Sender{SenderUser, SenderAssistant} {
		prefix := string(sender) + ": "
		if strings.HasPrefix(line, prefix) {
			return sender, strings.TrimPrefix(line, prefix), true
		}
	}
	return "", "", false
}

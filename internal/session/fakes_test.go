package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/speakgenie/speakgenie/internal/llm"
	"github.com/speakgenie/speakgenie/internal/tts"
)

var testLogger = log.New(io.Discard, "", 0)

type completeCall struct {
	userText string
	persona  string
}

type translateCall struct {
	text     string
	language string
}

// fakeModel answers with fixed replies. When release is set, Complete
// blocks until a value arrives on it.
type fakeModel struct {
	mu         sync.Mutex
	reply      llm.Reply
	err        error
	translated llm.Reply
	transErr   error
	release    chan struct{}
	completes  []completeCall
	translates []translateCall
}

func (m *fakeModel) Complete(ctx context.Context, userText, persona string) (llm.Reply, error) {
	m.mu.Lock()
	m.completes = append(m.completes, completeCall{userText, persona})
	release := m.release
	reply, err := m.reply, m.err
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return llm.Reply{}, ctx.Err()
		}
	}
	return reply, err
}

func (m *fakeModel) Translate(ctx context.Context, text, targetLanguage string) (llm.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.translates = append(m.translates, translateCall{text, targetLanguage})
	return m.translated, m.transErr
}

func (m *fakeModel) completeCalls() []completeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]completeCall, len(m.completes))
	copy(out, m.completes)
	return out
}

func (m *fakeModel) translateCalls() []translateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]translateCall, len(m.translates))
	copy(out, m.translates)
	return out
}

// fakeSpeaker records every utterance it is asked to speak.
type fakeSpeaker struct {
	spoken chan tts.Utterance
	err    error
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{spoken: make(chan tts.Utterance, 16)}
}

func (s *fakeSpeaker) Speak(ctx context.Context, u tts.Utterance) error {
	s.spoken <- u
	return s.err
}

func (s *fakeSpeaker) next(t *testing.T) tts.Utterance {
	t.Helper()
	select {
	case u := <-s.spoken:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for speech")
		return tts.Utterance{}
	}
}

func (s *fakeSpeaker) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case u := <-s.spoken:
		t.Fatalf("unexpected speech: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

// snapshotRecorder keeps every published snapshot.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) SessionUpdated(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errModelDown = errors.New("upstream returned 500")

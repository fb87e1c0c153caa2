package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/speakgenie/speakgenie/internal/conversation"
	"github.com/speakgenie/speakgenie/internal/eventlog"
	"github.com/speakgenie/speakgenie/internal/scenario"
	"github.com/speakgenie/speakgenie/internal/tts"
)

// Roleplay drives a scenario-scoped conversation. With no active scenario
// the session is in scenario selection and its log is empty.
type Roleplay struct {
	*base
	catalog *scenario.Catalog

	// Guarded by base.mu.
	active *scenario.Scenario
	// epoch changes on every select and exit so replies for a discarded
	// conversation can be recognized.
	epoch uint64
}

// NewRoleplay creates a roleplay session in scenario selection.
func NewRoleplay(catalog *scenario.Catalog, deps Deps) *Roleplay {
	r := &Roleplay{base: newBase(ModeRoleplay, deps), catalog: catalog}
	r.snapshotFn = r.Snapshot
	return r
}

// Snapshot returns the current observable state.
func (r *Roleplay) Snapshot() Snapshot {
	return r.snapshot(func(s *Snapshot) {
		if r.active != nil {
			sc := *r.active
			s.Scenario = &sc
		}
	})
}

// ActiveScenario returns the scenario in progress.
func (r *Roleplay) ActiveScenario() (scenario.Scenario, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return scenario.Scenario{}, false
	}
	return *r.active, true
}

// SelectScenarioByID looks id up in the catalog and selects it.
func (r *Roleplay) SelectScenarioByID(id string) error {
	if r.catalog == nil {
		return scenario.ErrUnknownScenario
	}
	s, err := r.catalog.Get(id)
	if err != nil {
		return err
	}
	return r.SelectScenario(s)
}

// SelectScenario starts a new conversation whose log holds only the
// scenario's starter, and speaks the starter. Any previous conversation is
// discarded along with its pending reply and capture.
func (r *Roleplay) SelectScenario(s scenario.Scenario) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if strings.TrimSpace(s.Starter) == "" {
		r.mu.Unlock()
		return fmt.Errorf("scenario %q: %w", s.ID, conversation.ErrEmptyTurn)
	}
	r.epoch++
	r.active = &s
	r.awaiting = false
	r.log = conversation.NewLog()
	if err := r.appendLocked(conversation.SenderAssistant, s.Starter); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.gate.Stop()
	r.speech.Flush()
	r.speech.Enqueue(tts.NewUtterance(s.Starter, ""))

	r.events.LogAsync(r.id, eventlog.EventScenarioSelected, map[string]any{
		"scenario_id": s.ID,
	})
	r.publish()
	return nil
}

// ExitScenario returns to scenario selection and discards the log.
// It is a no-op when no scenario is active.
func (r *Roleplay) ExitScenario() {
	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return
	}
	id := r.active.ID
	r.epoch++
	r.active = nil
	r.awaiting = false
	r.log = conversation.NewLog()
	r.mu.Unlock()

	r.gate.Stop()
	r.speech.Flush()

	r.events.LogAsync(r.id, eventlog.EventScenarioExited, map[string]any{
		"scenario_id": id,
	})
	r.publish()
}

// Listen starts a capture cycle whose transcript is submitted automatically.
func (r *Roleplay) Listen(ctx context.Context) error {
	return r.listen(ctx, func() error {
		if r.active == nil {
			return ErrNoActiveScenario
		}
		return nil
	}, r.SubmitUserUtterance)
}

// SubmitUserUtterance appends the user's turn and sends the whole
// conversation, rendered as a transcript, under the scenario's prompt.
// The reply is appended and spoken unless the conversation was exited or
// replaced meanwhile, in which case ErrStaleResponse is returned.
func (r *Roleplay) SubmitUserUtterance(ctx context.Context, transcript string) (string, error) {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return "", nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	if r.active == nil {
		r.mu.Unlock()
		return "", ErrNoActiveScenario
	}
	if r.awaiting {
		r.mu.Unlock()
		return "", ErrAwaitingResponse
	}
	if err := r.appendLocked(conversation.SenderUser, text); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.awaiting = true
	epoch := r.epoch
	prompt := r.active.Prompt
	history := conversation.Render(r.log.Turns())
	r.mu.Unlock()
	r.publish()

	reply := r.complete(ctx, history, prompt)

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		r.logger.Printf("roleplay: dropping reply for a discarded conversation")
		r.events.LogAsync(r.id, eventlog.EventLateResponseDropped, nil)
		return "", ErrStaleResponse
	}
	r.awaiting = false
	if err := r.appendLocked(conversation.SenderAssistant, reply); err != nil {
		r.mu.Unlock()
		r.publish()
		return "", err
	}
	r.mu.Unlock()

	r.speech.Enqueue(tts.NewUtterance(reply, ""))
	r.publish()
	return reply, nil
}

// Close stops capture and playback. In-flight model calls are cancelled.
func (r *Roleplay) Close() {
	r.close()
}

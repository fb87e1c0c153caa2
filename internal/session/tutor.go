package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/speakgenie/speakgenie/internal/conversation"
	"github.com/speakgenie/speakgenie/internal/eventlog"
	"github.com/speakgenie/speakgenie/internal/llm"
	"github.com/speakgenie/speakgenie/internal/tts"
)

// Tutor drives one free-form tutoring conversation. Its log lives as long
// as the session; there is no reset.
type Tutor struct {
	*base
}

// NewTutor creates a tutoring session with an empty log.
func NewTutor(deps Deps) *Tutor {
	t := &Tutor{base: newBase(ModeTutor, deps)}
	t.snapshotFn = t.Snapshot
	return t
}

// Snapshot returns the current observable state.
func (t *Tutor) Snapshot() Snapshot {
	return t.snapshot(nil)
}

// Listen starts a capture cycle whose transcript is submitted automatically.
func (t *Tutor) Listen(ctx context.Context) error {
	return t.listen(ctx, nil, t.SubmitUserUtterance)
}

// SubmitUserUtterance appends the user's turn, asks the model under the
// tutor persona and appends and speaks the reply. Blank transcripts are
// ignored and return an empty reply. Model failures are answered with
// FallbackReply, so the log always gains both turns.
func (t *Tutor) SubmitUserUtterance(ctx context.Context, transcript string) (string, error) {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return "", nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", ErrClosed
	}
	if t.awaiting {
		t.mu.Unlock()
		return "", ErrAwaitingResponse
	}
	if err := t.appendLocked(conversation.SenderUser, text); err != nil {
		t.mu.Unlock()
		return "", err
	}
	t.awaiting = true
	t.mu.Unlock()
	t.publish()

	// Only the latest utterance is sent; the tutor persona carries no history.
	reply := t.complete(ctx, text, llm.TutorPersona)

	t.mu.Lock()
	t.awaiting = false
	if err := t.appendLocked(conversation.SenderAssistant, reply); err != nil {
		t.mu.Unlock()
		t.publish()
		return "", err
	}
	t.mu.Unlock()

	t.speech.Enqueue(tts.NewUtterance(reply, ""))
	t.publish()
	return reply, nil
}

// RequestTranslation translates text and speaks the result tagged with the
// language's locale. The log is never touched. On failure nothing is spoken
// and TranslationFailedText is returned with an ErrTranslationFailed error.
func (t *Tutor) RequestTranslation(ctx context.Context, text string, lang Language) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNothingToTranslate
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	reply, err := t.model.Translate(ctx, text, lang.Name)
	if err != nil {
		t.logger.Printf("tutor: translation to %s failed: %v", lang.Name, err)
		sentry.CaptureException(err)
		t.events.LogAsync(t.id, eventlog.EventTranslationError, map[string]any{
			"language": lang.Name,
			"error":    err.Error(),
		})
		return TranslationFailedText, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}

	t.mu.Lock()
	t.metrics.LLMInputTokens += reply.InputTokens
	t.metrics.LLMOutputTokens += reply.OutputTokens
	t.mu.Unlock()

	t.events.LogAsync(t.id, eventlog.EventTranslationCompleted, map[string]any{
		"language":    lang.Name,
		"text_length": len(reply.Text),
	})

	t.speech.Enqueue(tts.NewUtterance(reply.Text, lang.Locale))
	return reply.Text, nil
}

// Close stops capture and playback. In-flight model calls are cancelled.
func (t *Tutor) Close() {
	t.close()
}

// Package session implements the tutor and roleplay conversation orchestrators.
//
// A session owns its conversation log, its capture gate and its speech
// playback worker. All state changes are published to an Observer as
// Snapshots; the transport layer never reads session internals directly.
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/speakgenie/speakgenie/internal/conversation"
	"github.com/speakgenie/speakgenie/internal/costs"
	"github.com/speakgenie/speakgenie/internal/eventlog"
	"github.com/speakgenie/speakgenie/internal/llm"
	"github.com/speakgenie/speakgenie/internal/scenario"
	"github.com/speakgenie/speakgenie/internal/stt"
	"github.com/speakgenie/speakgenie/internal/tts"
)

// FallbackReply is said by the assistant when the language model fails.
const FallbackReply = "Sorry, I'm having a little trouble thinking right now. Please try again!"

// TranslationFailedText is shown to the user when a translation fails.
const TranslationFailedText = "Translation failed."

var (
	ErrAwaitingResponse   = errors.New("waiting for the assistant to respond")
	ErrNoActiveScenario   = errors.New("no scenario selected")
	ErrTranslationFailed  = errors.New("translation failed")
	ErrStaleResponse      = errors.New("response belongs to a conversation that has ended")
	ErrNothingToTranslate = errors.New("nothing to translate")
	ErrClosed             = errors.New("session closed")
)

// Mode names the kind of conversation a session drives.
type Mode string

const (
	ModeTutor    Mode = "tutor"
	ModeRoleplay Mode = "roleplay"
)

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID               string              `json:"id"`
	Mode             Mode                `json:"mode"`
	Listening        bool                `json:"listening"`
	AwaitingResponse bool                `json:"awaiting_response"`
	Scenario         *scenario.Scenario  `json:"scenario,omitempty"`
	Turns            []conversation.Turn `json:"turns"`
}

// Observer is notified after every state change. Calls are serialized and
// snapshots arrive in the order the changes happened. Implementations must
// not call back into the session synchronously.
type Observer interface {
	SessionUpdated(Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) SessionUpdated(s Snapshot) { f(s) }

// Deps are the collaborators a session needs. Transcriber, Speaker, Events
// and Observer are optional.
type Deps struct {
	Model       llm.Client
	Transcriber stt.Transcriber
	Speaker     tts.Speaker
	Events      *eventlog.Logger
	Logger      *log.Logger
	Observer    Observer
}

// Language is a translation target and the locale its speech is tagged with.
type Language struct {
	Name   string
	Locale string
}

// Hindi is the default translation target.
var Hindi = Language{Name: "Hindi", Locale: "hi-IN"}

// LanguageByName resolves a language name. An empty name means Hindi;
// unknown languages are spoken with the default voice.
func LanguageByName(name string) Language {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, Hindi.Name) {
		return Hindi
	}
	return Language{Name: name}
}

// base carries everything the two orchestrators share.
type base struct {
	id       string
	mode     Mode
	model    llm.Client
	events   *eventlog.Logger
	logger   *log.Logger
	observer Observer
	gate     *stt.Gate
	speech   *playback

	// snapshotFn is set by the owning orchestrator so snapshots include its fields.
	snapshotFn func() Snapshot

	ctx    context.Context
	cancel context.CancelFunc

	pubMu sync.Mutex

	mu          sync.Mutex
	log         *conversation.Log
	awaiting    bool
	closed      bool
	listenStart time.Time
	metrics     costs.SessionMetrics
	closeOnce   sync.Once
}

func newBase(mode Mode, deps Deps) *base {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &base{
		id:       uuid.New().String(),
		mode:     mode,
		model:    deps.Model,
		events:   deps.Events,
		logger:   logger,
		observer: deps.Observer,
		ctx:      ctx,
		cancel:   cancel,
		log:      conversation.NewLog(),
	}
	b.gate = stt.NewGate(deps.Transcriber, logger, b.listeningChanged)
	b.speech = newPlayback(deps.Speaker, logger, b.countSpeech, b.speechFailed)
	b.events.LogAsync(b.id, eventlog.EventSessionStarted, map[string]any{
		"mode": string(mode),
	})
	return b
}

// ID returns the session's unique identifier.
func (b *base) ID() string {
	return b.id
}

// Metrics returns the usage accumulated so far.
func (b *base) Metrics() costs.SessionMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// StopListening ends the running capture cycle, if any.
func (b *base) StopListening() {
	b.gate.Stop()
}

// listen starts a capture cycle unless a response is pending. check runs
// under the session lock and may veto the start.
func (b *base) listen(ctx context.Context, check func() error, submit func(context.Context, string) (string, error)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.awaiting {
		b.mu.Unlock()
		return ErrAwaitingResponse
	}
	if check != nil {
		if err := check(); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	b.mu.Unlock()

	// The gate reports the flag change synchronously, so no session lock may be held here.
	err := b.gate.Start(ctx, func(transcript string, err error) {
		if err != nil {
			b.logger.Printf("%s: %v", b.mode, err)
			b.events.LogAsync(b.id, eventlog.EventRecognitionError, map[string]any{
				"error": err.Error(),
			})
			return
		}
		if _, err := submit(b.ctx, transcript); err != nil && !errors.Is(err, ErrStaleResponse) {
			b.logger.Printf("%s: failed to submit transcript: %v", b.mode, err)
		}
	})
	if errors.Is(err, stt.ErrGateClosed) {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	b.events.LogAsync(b.id, eventlog.EventListeningStarted, nil)
	return nil
}

func (b *base) listeningChanged(listening bool) {
	b.mu.Lock()
	if listening {
		b.listenStart = time.Now()
	} else if !b.listenStart.IsZero() {
		b.metrics.STTSeconds += int(time.Since(b.listenStart).Round(time.Second) / time.Second)
		b.listenStart = time.Time{}
	}
	b.mu.Unlock()
	b.publish()
}

// complete asks the model for a reply and substitutes the fallback on failure.
func (b *base) complete(ctx context.Context, userText, persona string) string {
	start := time.Now()
	reply, err := b.model.Complete(ctx, userText, persona)
	latency := time.Since(start).Milliseconds()
	if err == nil && strings.TrimSpace(reply.Text) == "" {
		err = llm.ErrEmptyReply
	}
	if err != nil {
		b.logger.Printf("%s: language model error: %v", b.mode, err)
		sentry.CaptureException(err)
		b.events.LogAsync(b.id, eventlog.EventLLMError, map[string]any{
			"error":      err.Error(),
			"latency_ms": latency,
		})
		return FallbackReply
	}

	b.mu.Lock()
	b.metrics.LLMInputTokens += reply.InputTokens
	b.metrics.LLMOutputTokens += reply.OutputTokens
	b.mu.Unlock()

	b.events.LogAsync(b.id, eventlog.EventLLMCompleted, map[string]any{
		"latency_ms":    latency,
		"input_tokens":  reply.InputTokens,
		"output_tokens": reply.OutputTokens,
		"reply_length":  len(reply.Text),
	})
	return strings.TrimSpace(reply.Text)
}

// appendLocked adds a turn; callers hold b.mu.
func (b *base) appendLocked(sender conversation.Sender, text string) error {
	turn, err := b.log.Append(sender, text)
	if err != nil {
		return err
	}
	b.events.LogAsync(b.id, eventlog.EventTurnAppended, map[string]any{
		"sender":      string(turn.Sender),
		"text_length": len(turn.Text),
		"index":       b.log.Len() - 1,
	})
	return nil
}

func (b *base) speechFailed(u tts.Utterance, err error) {
	b.logger.Printf("%s: speech failed: %v", b.mode, err)
	b.events.LogAsync(b.id, eventlog.EventSpeechError, map[string]any{
		"error": err.Error(),
		"lang":  u.Lang,
	})
}

func (b *base) countSpeech(u tts.Utterance) {
	b.mu.Lock()
	b.metrics.TTSCharacters += len([]rune(u.Text))
	b.mu.Unlock()
}

// snapshot builds a Snapshot; extra fills in mode-specific fields under b.mu.
func (b *base) snapshot(extra func(*Snapshot)) Snapshot {
	listening := b.gate.Listening()

	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		ID:               b.id,
		Mode:             b.mode,
		Listening:        listening,
		AwaitingResponse: b.awaiting,
		Turns:            b.log.Turns(),
	}
	if extra != nil {
		extra(&s)
	}
	return s
}

func (b *base) publish() {
	if b.observer == nil || b.snapshotFn == nil {
		return
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.observer.SessionUpdated(b.snapshotFn())
}

// close stops capture and playback. It is safe to call more than once.
func (b *base) close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.cancel()
		b.gate.Close()
		b.speech.Close()
	})
}

package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventListeningStarted     EventType = "listening_started"
	EventRecognitionError     EventType = "recognition_error"
	EventTurnAppended         EventType = "turn_appended"
	EventLLMCompleted         EventType = "llm_completed"
	EventLLMError             EventType = "llm_error"
	EventTranslationCompleted EventType = "translation_completed"
	EventTranslationError     EventType = "translation_error"
	EventScenarioSelected     EventType = "scenario_selected"
	EventScenarioExited       EventType = "scenario_exited"
	EventLateResponseDropped  EventType = "late_response_dropped"
	EventSpeechError          EventType = "speech_error"
	EventSessionEnded         EventType = "session_ended"
)

// Logger provides async event logging to the database.
// Event data carries ids, sizes and timings, never conversation text.
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger. A nil db turns every call into a no-op.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || sessionID == "" {
		return nil // Silently skip if no DB or session ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

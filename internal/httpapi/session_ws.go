package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/speakgenie/speakgenie/internal/costs"
	"github.com/speakgenie/speakgenie/internal/eventlog"
	"github.com/speakgenie/speakgenie/internal/session"
	"github.com/speakgenie/speakgenie/internal/stt"
	"github.com/speakgenie/speakgenie/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 1 << 20

	// audioBufferChunks bounds the audio queued for server-side STT.
	audioBufferChunks = 64
)

// clientMessage is a command sent by the browser.
type clientMessage struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	Language   string `json:"language,omitempty"`
	ScenarioID string `json:"scenario_id,omitempty"`
}

// serverMessage is everything the server pushes to the browser.
type serverMessage struct {
	Type     string            `json:"type"`
	Session  *session.Snapshot `json:"session,omitempty"`
	Text     string            `json:"text,omitempty"`
	Lang     string            `json:"lang,omitempty"`
	Pitch    float64           `json:"pitch,omitempty"`
	Rate     float64           `json:"rate,omitempty"`
	Format   string            `json:"format,omitempty"`
	Language string            `json:"language,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// liveSession is what both session kinds offer the websocket layer.
type liveSession interface {
	ID() string
	Listen(ctx context.Context) error
	StopListening()
	Snapshot() session.Snapshot
	Metrics() costs.SessionMetrics
	Close()
}

// wsConn serializes writes to one browser connection. It is the session's
// Observer, its client-side Speaker and the AudioSink for server-side TTS.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	logger    *log.Logger
	listening atomic.Bool
	closeOnce sync.Once
}

func (c *wsConn) writeJSON(msg serverMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) sendError(err error) {
	if werr := c.writeJSON(serverMessage{Type: "error", Error: err.Error()}); werr != nil {
		c.logger.Printf("ws: failed to send error: %v", werr)
	}
}

// SessionUpdated pushes a snapshot to the browser.
func (c *wsConn) SessionUpdated(s session.Snapshot) {
	c.listening.Store(s.Listening)
	if err := c.writeJSON(serverMessage{Type: "session", Session: &s}); err != nil {
		c.logger.Printf("ws: failed to send snapshot: %v", err)
	}
}

// Speak asks the browser's speech synthesis to say u.
func (c *wsConn) Speak(_ context.Context, u tts.Utterance) error {
	return c.writeJSON(serverMessage{
		Type:  "speak",
		Text:  u.Text,
		Lang:  u.Lang,
		Pitch: u.Pitch,
		Rate:  u.Rate,
	})
}

// WriteAudio sends an audio header followed by one binary frame.
func (c *wsConn) WriteAudio(_ context.Context, u tts.Utterance, format string, audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(serverMessage{Type: "audio", Text: u.Text, Lang: u.Lang, Format: format}); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// speechOptions selects where recognition and synthesis happen.
type speechOptions struct {
	serverSTT bool
	serverTTS bool
}

func (r *Router) speechOptions(req *http.Request) (speechOptions, error) {
	q := req.URL.Query()
	opts := speechOptions{
		serverSTT: q.Get("stt") == "server",
		serverTTS: q.Get("tts") == "server",
	}
	if opts.serverSTT && r.cfg.DeepgramAPIKey == "" {
		return opts, errors.New("server-side speech recognition is not configured")
	}
	if opts.serverTTS && r.cfg.ElevenLabsAPIKey == "" {
		return opts, errors.New("server-side speech synthesis is not configured")
	}
	return opts, nil
}

func (r *Router) handleTutorWS(w http.ResponseWriter, req *http.Request) {
	r.serveSession(w, req, session.ModeTutor)
}

func (r *Router) handleRoleplayWS(w http.ResponseWriter, req *http.Request) {
	r.serveSession(w, req, session.ModeRoleplay)
}

func (r *Router) serveSession(w http.ResponseWriter, req *http.Request, mode session.Mode) {
	if r.sessions.IsDraining() {
		http.Error(w, `{"error": "server is shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	opts, err := r.speechOptions(req)
	if err != nil {
		r.logger.Printf("ws: %v", err)
		http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("ws: upgrade failed: %v", err)
		captureError(req, err, "ws: upgrade failed")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	c := &wsConn{conn: conn, logger: r.logger}

	deps := session.Deps{
		Model:    r.model,
		Speaker:  c,
		Events:   r.eventLog,
		Logger:   r.logger,
		Observer: c,
	}

	var clientSTT *stt.ClientTranscriber
	var audio chan []byte
	if opts.serverSTT {
		audio = make(chan []byte, audioBufferChunks)
		deps.Transcriber = stt.NewDeepgramTranscriber(stt.DeepgramConfig{
			APIKey:         r.cfg.DeepgramAPIKey,
			URL:            r.cfg.DeepgramURL,
			Language:       r.cfg.STTLanguage,
			SampleRate:     r.cfg.STTSampleRate,
			Encoding:       r.cfg.STTEncoding,
			Punctuate:      true,
			Endpointing:    r.cfg.STTEndpointingMs,
			UtteranceEndMs: r.cfg.STTUtteranceEndMs,
		}, audio, r.logger)
	} else {
		clientSTT = stt.NewClientTranscriber()
		deps.Transcriber = clientSTT
	}

	if opts.serverTTS {
		deps.Speaker = tts.NewElevenLabsSpeaker(tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:     r.cfg.ElevenLabsAPIKey,
			VoiceID:    r.cfg.TTSVoiceID,
			BaseURL:    r.cfg.ElevenLabsBaseURL,
			Stability:  r.cfg.TTSStability,
			Similarity: r.cfg.TTSSimilarity,
		}), c)
	}

	h := &sessionHandler{
		conn:      c,
		logger:    r.logger,
		clientSTT: clientSTT,
		audio:     audio,
	}
	switch mode {
	case session.ModeTutor:
		h.tutor = session.NewTutor(deps)
		h.sess = h.tutor
	default:
		h.roleplay = session.NewRoleplay(r.catalog, deps)
		h.sess = h.roleplay
	}

	id := h.sess.ID()
	if !r.sessions.Add(id, c.close) {
		c.sendError(errors.New("server is shutting down"))
		h.sess.Close()
		c.close()
		return
	}

	if learner := getLearner(req.Context()); learner != nil {
		r.logger.Printf("ws: %s session %s started for learner %s", mode, id, learner.ID)
	} else {
		r.logger.Printf("ws: %s session %s started", mode, id)
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer func() {
		cancel()
		h.wg.Wait()
		h.sess.Close()
		r.sessions.Remove(id)
		c.close()
		r.recordCosts(id, mode, h.sess.Metrics(), opts)
	}()

	c.SessionUpdated(h.sess.Snapshot())
	h.run(ctx, func() { r.sessions.Touch(id) })
}

// recordCosts logs the session's usage. Client-side speech is free.
func (r *Router) recordCosts(id string, mode session.Mode, m costs.SessionMetrics, opts speechOptions) {
	if !opts.serverSTT {
		m.STTSeconds = 0
	}
	if !opts.serverTTS {
		m.TTSCharacters = 0
	}
	sc := costs.CalculateSessionCosts(m)
	r.logger.Printf("ws: %s session %s ended (llm_tokens=%d/%d, cost=%d cents)",
		mode, id, m.LLMInputTokens, m.LLMOutputTokens, sc.TotalCostCents)
	r.eventLog.LogAsync(id, eventlog.EventSessionEnded, map[string]any{
		"mode":              string(mode),
		"stt_seconds":       m.STTSeconds,
		"llm_input_tokens":  m.LLMInputTokens,
		"llm_output_tokens": m.LLMOutputTokens,
		"tts_characters":    m.TTSCharacters,
		"cost_cents":        sc.TotalCostCents,
	})
}

// sessionHandler turns browser commands into session operations.
type sessionHandler struct {
	conn      *wsConn
	logger    *log.Logger
	sess      liveSession
	tutor     *session.Tutor
	roleplay  *session.Roleplay
	clientSTT *stt.ClientTranscriber
	audio     chan []byte
	wg        sync.WaitGroup
}

func (h *sessionHandler) run(ctx context.Context, touch func()) {
	for {
		msgType, msg, err := h.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("ws: connection closed for session %s", h.sess.ID())
			} else if ctx.Err() == nil {
				h.logger.Printf("ws: read error for session %s: %v", h.sess.ID(), err)
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			h.handleAudio(msg)
			continue
		}

		var cm clientMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			h.logger.Printf("ws: failed to parse message: %v", err)
			h.conn.sendError(errors.New("malformed message"))
			continue
		}

		touch()
		if err := h.dispatch(ctx, cm); err != nil {
			h.conn.sendError(err)
		}
	}
}

// handleAudio forwards microphone audio to server-side STT while a
// capture cycle is running. Audio outside a cycle is dropped.
func (h *sessionHandler) handleAudio(chunk []byte) {
	if h.audio == nil || !h.conn.listening.Load() {
		return
	}
	select {
	case h.audio <- chunk:
	default:
		h.logger.Printf("ws: audio buffer full, dropping chunk")
	}
}

func (h *sessionHandler) dispatch(ctx context.Context, cm clientMessage) error {
	switch cm.Type {
	case "listen":
		return h.sess.Listen(ctx)

	case "stop":
		h.sess.StopListening()
		return nil

	case "transcript":
		if h.clientSTT == nil {
			return errors.New("speech recognition runs on the server")
		}
		if !h.clientSTT.Deliver(cm.Text) {
			return errors.New("not listening")
		}
		return nil

	case "recognition_error":
		if h.clientSTT == nil {
			return errors.New("speech recognition runs on the server")
		}
		if !h.clientSTT.Fail(errors.New(cm.Error)) {
			return errors.New("not listening")
		}
		return nil

	case "translate":
		if h.tutor == nil {
			return fmt.Errorf("unsupported message type %q", cm.Type)
		}
		lang := session.LanguageByName(cm.Language)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.translate(ctx, cm.Text, lang)
		}()
		return nil

	case "select_scenario":
		if h.roleplay == nil {
			return fmt.Errorf("unsupported message type %q", cm.Type)
		}
		return h.roleplay.SelectScenarioByID(cm.ScenarioID)

	case "exit_scenario":
		if h.roleplay == nil {
			return fmt.Errorf("unsupported message type %q", cm.Type)
		}
		h.roleplay.ExitScenario()
		return nil

	default:
		return fmt.Errorf("unsupported message type %q", cm.Type)
	}
}

func (h *sessionHandler) translate(ctx context.Context, text string, lang session.Language) {
	msg := serverMessage{Type: "translation", Language: lang.Name}
	translated, err := h.tutor.RequestTranslation(ctx, text, lang)
	msg.Text = translated
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		msg.Error = err.Error()
	}
	if err := h.conn.writeJSON(msg); err != nil {
		h.logger.Printf("ws: failed to send translation: %v", err)
	}
}

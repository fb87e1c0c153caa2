package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramTranscriber implements Transcriber with Deepgram's streaming API.
// Each Listen opens a connection, streams audio from the shared audio channel
// and returns once Deepgram marks the utterance as finished.
type DeepgramTranscriber struct {
	cfg    DeepgramConfig
	audio  <-chan []byte
	dialer *websocket.Dialer
	logger *log.Logger
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey         string
	URL            string // Optional override of the listen endpoint
	Language       string // e.g., "en-US"
	Model          string // e.g., "nova-3"
	SampleRate     int    // e.g., 16000 for browser PCM
	Encoding       string // e.g., "linear16"
	Channels       int    // e.g., 1 for mono
	Punctuate      bool
	Endpointing    int // milliseconds of silence for endpointing, 0 for default
	UtteranceEndMs int // hard timeout after last speech, regardless of noise (0 for default)
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

// NewDeepgramTranscriber creates a transcriber reading audio chunks from audio.
func NewDeepgramTranscriber(cfg DeepgramConfig, audio <-chan []byte, logger *log.Logger) *DeepgramTranscriber {
	if cfg.URL == "" {
		cfg.URL = deepgramWSURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &DeepgramTranscriber{
		cfg:    cfg,
		audio:  audio,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

func (d *DeepgramTranscriber) listenURL() string {
	url := fmt.Sprintf("%s?model=%s&language=%s&encoding=%s&sample_rate=%d&channels=%d&punctuate=%t&interim_results=false",
		d.cfg.URL,
		d.cfg.Model,
		d.cfg.Language,
		d.cfg.Encoding,
		d.cfg.SampleRate,
		d.cfg.Channels,
		d.cfg.Punctuate,
	)

	if d.cfg.Endpointing > 0 {
		url += fmt.Sprintf("&endpointing=%d", d.cfg.Endpointing)
	}

	if d.cfg.UtteranceEndMs > 0 {
		url += fmt.Sprintf("&utterance_end_ms=%d", d.cfg.UtteranceEndMs)
	}
	return url
}

// Listen captures one utterance. If ctx is cancelled after some speech was
// finalized, the partial transcript is returned without error.
func (d *DeepgramTranscriber) Listen(ctx context.Context) (string, error) {
	if n := d.discardStaleAudio(); n > 0 {
		d.logger.Printf("deepgram: discarded %d stale audio chunks", n)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, _, err := d.dialer.DialContext(ctx, d.listenURL(), headers)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var writeMu sync.Mutex
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
	}()

	// Unblock ReadMessage when the cycle is stopped.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		writeMu.Unlock()
		conn.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.pumpAudio(ctx, conn, &writeMu)
	}()

	var finals []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				if len(finals) > 0 {
					return strings.Join(finals, " "), nil
				}
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read error: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			d.logger.Printf("deepgram: failed to parse response: %v", err)
			continue
		}

		switch resp.Type {
		case "Results":
			if len(resp.Channel.Alternatives) > 0 && resp.IsFinal {
				if text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript); text != "" {
					finals = append(finals, text)
				}
			}
			if resp.SpeechFinal && len(finals) > 0 {
				return strings.Join(finals, " "), nil
			}
		case "UtteranceEnd":
			if len(finals) > 0 {
				return strings.Join(finals, " "), nil
			}
		}
	}
}

// discardStaleAudio empties chunks left over from a previous cycle.
func (d *DeepgramTranscriber) discardStaleAudio() int {
	n := 0
	for {
		select {
		case _, ok := <-d.audio:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (d *DeepgramTranscriber) pumpAudio(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-d.audio:
			if !ok {
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
				writeMu.Unlock()
				return
			}
			writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, chunk)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

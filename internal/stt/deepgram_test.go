package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newDeepgramServer answers every binary audio frame with the next scripted response.
func newDeepgramServer(t *testing.T, responses []string) (*httptest.Server, chan *http.Request) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	reqs := make(chan *http.Request, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		next := 0
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage || next >= len(responses) {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(responses[next])); err != nil {
				return
			}
			next++
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramListenJoinsFinalSegments(t *testing.T) {
	srv, reqs := newDeepgramServer(t, []string{
		`{"type":"Metadata"}`,
		`{"type":"Results","is_final":true,"speech_final":false,"channel":{"alternatives":[{"transcript":"What is","confidence":0.9}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"apples?","confidence":0.9}]}}`,
	})

	audio := make(chan []byte, 3)
	seen := make(chan *http.Request, 1)
	go func() {
		req := <-reqs
		for i := 0; i < 3; i++ {
			audio <- []byte{0x01, 0x02}
		}
		seen <- req
	}()

	d := NewDeepgramTranscriber(DeepgramConfig{APIKey: "dg-key", URL: wsURL(srv)}, audio, testLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	text, err := d.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if text != "What is apples?" {
		t.Errorf("transcript = %q, want %q", text, "What is apples?")
	}

	req := <-seen
	if got := req.Header.Get("Authorization"); got != "Token dg-key" {
		t.Errorf("Authorization = %q", got)
	}
	q := req.URL.Query()
	if q.Get("language") != "en-US" || q.Get("encoding") != "linear16" || q.Get("sample_rate") != "16000" {
		t.Errorf("query = %v", q)
	}
}

func TestDeepgramListenDiscardsStaleAudio(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{}, 1)
	// Each audio frame is answered with a final result carrying the frame's bytes as text.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connected <- struct{}{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			resp := `{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"` + string(data) + `"}]}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	audio := make(chan []byte, 4)
	audio <- []byte("stale")
	audio <- []byte("stale")
	go func() {
		<-connected
		audio <- []byte("fresh")
	}()

	d := NewDeepgramTranscriber(DeepgramConfig{APIKey: "dg-key", URL: wsURL(srv)}, audio, testLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	text, err := d.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if text != "fresh" {
		t.Errorf("transcript = %q, want %q", text, "fresh")
	}
}

func TestDeepgramListenCancelled(t *testing.T) {
	srv, _ := newDeepgramServer(t, nil)
	d := NewDeepgramTranscriber(DeepgramConfig{APIKey: "dg-key", URL: wsURL(srv)}, make(chan []byte), testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	text, err := d.Listen(ctx)
	if err == nil {
		t.Fatalf("expected cancellation error, got transcript %q", text)
	}
}

func TestDeepgramDialFailure(t *testing.T) {
	d := NewDeepgramTranscriber(DeepgramConfig{URL: "ws://127.0.0.1:1"}, nil, testLogger)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.Listen(ctx); err == nil {
		t.Error("expected dial error")
	}
}

func TestDeepgramTranscriberInterface(t *testing.T) {
	var _ Transcriber = (*DeepgramTranscriber)(nil)
	var _ Transcriber = (*ClientTranscriber)(nil)
}

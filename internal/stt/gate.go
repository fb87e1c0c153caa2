package stt

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Gate bridges one capture cycle of a Transcriber into a single transcript.
// It owns the observable listening flag: true from Start until the cycle ends.
type Gate struct {
	transcriber Transcriber
	logger      *log.Logger
	onChange    func(listening bool)

	mu        sync.Mutex
	listening bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewGate creates a gate over t. A nil t makes every Start fail with ErrUnavailable.
// onChange, if set, is called outside the gate's lock whenever the listening flag flips.
func NewGate(t Transcriber, logger *log.Logger, onChange func(listening bool)) *Gate {
	return &Gate{
		transcriber: t,
		logger:      logger,
		onChange:    onChange,
	}
}

// Start begins a capture cycle and returns immediately.
//
// onResult is invoked exactly once from the capture goroutine, after the
// listening flag has been cleared, with either the final transcript or a
// *RecognitionError. It is not invoked when the cycle is ended by Stop
// without a transcript.
func (g *Gate) Start(ctx context.Context, onResult func(transcript string, err error)) error {
	if g.transcriber == nil {
		return ErrUnavailable
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGateClosed
	}
	if g.listening {
		g.mu.Unlock()
		return ErrBusy
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.listening = true
	g.cancel = cancel
	g.done = done
	g.mu.Unlock()

	g.notify(true)

	go func() {
		defer close(done)

		text, err := g.transcriber.Listen(cycleCtx)
		stopped := cycleCtx.Err() != nil
		cancel()

		g.mu.Lock()
		g.listening = false
		g.cancel = nil
		g.mu.Unlock()
		g.notify(false)

		switch {
		case err == nil:
			onResult(text, nil)
		case stopped && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			g.logger.Printf("gate: capture stopped")
		default:
			onResult("", &RecognitionError{Cause: err})
		}
	}()

	return nil
}

// Stop requests early termination of the running capture cycle, if any.
func (g *Gate) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close stops the running cycle and waits for its goroutine to finish.
// Later calls to Start fail with ErrGateClosed.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	cancel := g.cancel
	done := g.done
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Listening reports whether a capture cycle is running.
func (g *Gate) Listening() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listening
}

func (g *Gate) notify(listening bool) {
	if g.onChange != nil {
		g.onChange(listening)
	}
}

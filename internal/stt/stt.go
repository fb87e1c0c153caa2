package stt

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when no transcriber is present.
	ErrUnavailable = errors.New("speech recognition unavailable")

	// ErrBusy is returned when a capture cycle is already running.
	ErrBusy = errors.New("capture already in progress")

	// ErrGateClosed is returned by Start once the gate has been closed.
	ErrGateClosed = errors.New("capture gate closed")
)

// RecognitionError wraps a failure of one capture cycle.
type RecognitionError struct {
	Cause error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("speech recognition error: %v", e.Cause)
}

func (e *RecognitionError) Unwrap() error {
	return e.Cause
}

// Transcriber captures exactly one utterance per call.
type Transcriber interface {
	// Listen blocks until the utterance is finalized, the capture fails,
	// or ctx is cancelled. It returns the final transcript.
	Listen(ctx context.Context) (string, error)
}

package stt

import (
	"context"
	"sync"
)

// ClientTranscriber relays recognition done on the client (the browser's
// speech recognition) into the Transcriber interface. The transport delivers
// each result with Deliver or Fail.
type ClientTranscriber struct {
	mu      sync.Mutex
	pending chan clientResult
}

type clientResult struct {
	text string
	err  error
}

// NewClientTranscriber creates an idle client transcriber.
func NewClientTranscriber() *ClientTranscriber {
	return &ClientTranscriber{}
}

// Listen waits for the next result delivered by the client.
func (c *ClientTranscriber) Listen(ctx context.Context) (string, error) {
	ch := make(chan clientResult, 1)

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.pending = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending == ch {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.text, r.err
	}
}

// Deliver hands a final transcript to the waiting Listen call.
// It reports false when nobody is listening.
func (c *ClientTranscriber) Deliver(text string) bool {
	return c.resolve(clientResult{text: text})
}

// Fail ends the waiting Listen call with err.
// It reports false when nobody is listening.
func (c *ClientTranscriber) Fail(err error) bool {
	return c.resolve(clientResult{err: err})
}

func (c *ClientTranscriber) resolve(r clientResult) bool {
	c.mu.Lock()
	ch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if ch == nil {
		return false
	}
	ch <- r
	return true
}

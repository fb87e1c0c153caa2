package session

import (
	"context"
	"log"
	"sync"

	"github.com/speakgenie/speakgenie/internal/tts"
)

const playbackQueueSize = 16

type queuedUtterance struct {
	u   tts.Utterance
	gen uint64
}

// playback speaks utterances one at a time on its own goroutine.
// Flush drops everything queued and cuts off the utterance being spoken.
type playback struct {
	speaker  tts.Speaker
	logger   *log.Logger
	onSpoken func(tts.Utterance)
	onError  func(tts.Utterance, error)

	queue  chan queuedUtterance
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	gen           uint64
	cancelCurrent context.CancelFunc
}

// newPlayback starts the worker. A nil speaker yields a playback that
// silently discards every utterance.
func newPlayback(speaker tts.Speaker, logger *log.Logger, onSpoken func(tts.Utterance), onError func(tts.Utterance, error)) *playback {
	ctx, cancel := context.WithCancel(context.Background())
	p := &playback{
		speaker:  speaker,
		logger:   logger,
		onSpoken: onSpoken,
		onError:  onError,
		queue:    make(chan queuedUtterance, playbackQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if speaker == nil {
		close(p.done)
		return p
	}
	go p.run()
	return p
}

// Enqueue schedules u after anything already queued. It reports false when
// the utterance was dropped.
func (p *playback) Enqueue(u tts.Utterance) bool {
	if p.speaker == nil || p.ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	select {
	case p.queue <- queuedUtterance{u: u, gen: gen}:
		return true
	default:
		p.logger.Printf("playback: queue full, dropping utterance")
		return false
	}
}

// Flush discards queued utterances and interrupts the current one.
func (p *playback) Flush() {
	p.mu.Lock()
	p.gen++
	cancel := p.cancelCurrent
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close stops the worker and waits for it to exit.
func (p *playback) Close() {
	p.cancel()
	<-p.done
}

func (p *playback) run() {
	defer close(p.done)

	for {
		select {
		case <-p.ctx.Done():
			return
		case item := <-p.queue:
			p.speak(item)
		}
	}
}

func (p *playback) speak(item queuedUtterance) {
	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	p.mu.Lock()
	if item.gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.cancelCurrent = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.cancelCurrent = nil
		p.mu.Unlock()
	}()

	err := p.speaker.Speak(ctx, item.u)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.onError != nil {
			p.onError(item.u, err)
		}
		return
	}
	if p.onSpoken != nil {
		p.onSpoken(item.u)
	}
}

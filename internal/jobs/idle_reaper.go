package jobs

import (
	"log"
	"sync"
	"time"
)

// IdleCloser closes sessions that have been idle longer than maxIdle and
// returns how many it closed.
type IdleCloser interface {
	CloseIdle(maxIdle time.Duration) int
}

// IdleReaper periodically closes idle sessions so abandoned browser tabs
// do not keep capture and playback workers alive.
type IdleReaper struct {
	sessions IdleCloser
	logger   *log.Logger
	interval time.Duration
	maxIdle  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewIdleReaper creates a new reaper. Zero durations fall back to one
// minute between sweeps and 15 minutes of allowed idleness.
func NewIdleReaper(sessions IdleCloser, logger *log.Logger, interval, maxIdle time.Duration) *IdleReaper {
	if interval == 0 {
		interval = time.Minute
	}
	if maxIdle == 0 {
		maxIdle = 15 * time.Minute
	}
	return &IdleReaper{
		sessions: sessions,
		logger:   logger,
		interval: interval,
		maxIdle:  maxIdle,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *IdleReaper) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("IdleReaper: started (interval=%v, max_idle=%v)", j.interval, j.maxIdle)
}

// Stop gracefully stops the background job. It is safe to call more than once.
func (j *IdleReaper) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()
		j.logger.Println("IdleReaper: stopped")
	})
}

func (j *IdleReaper) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		}
	}
}

func (j *IdleReaper) sweep() {
	if n := j.sessions.CloseIdle(j.maxIdle); n > 0 {
		j.logger.Printf("IdleReaper: closed %d idle session(s)", n)
	}
}

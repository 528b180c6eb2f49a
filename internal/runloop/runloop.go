package runloop

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

// Loop serializes coordination work onto a single goroutine. The
// orchestrator, session manager, and cast controller share one Loop so
// that callbacks from the remote protocol, the local audio backend, and
// the HTTP surface never interleave mutation of shared playback state.
type Loop struct {
	logger *log.Logger
	funcs  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Loop. Start must be called before posting work.
func New(logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		logger: logger,
		funcs:  make(chan func(), defaultQueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.logger.Printf("[INFO] Coordination loop started")
		l.wg.Add(1)
		go l.run()
	})
}

// Stop terminates the loop after the currently executing function
// returns. Queued work that has not run yet is discarded. Stop is
// idempotent and safe to call from any goroutine except the loop itself.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
	l.logger.Printf("[INFO] Coordination loop stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		case f := <-l.funcs:
			f()
		}
	}
}

// Post enqueues f for execution on the loop. It returns false when the
// loop has stopped, in which case f will never run.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.stopCh:
		return false
	case l.funcs <- f:
		return true
	}
}

// Call runs f on the loop and waits for it to finish. It returns false
// without running f when the loop has stopped. Call must not be used
// from loop context; loop code invokes functions directly.
func (l *Loop) Call(f func()) bool {
	done := make(chan struct{})
	ok := l.Post(func() {
		defer close(done)
		f()
	})
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	case <-l.stopCh:
		// The loop is stopping. f either already started (it will finish
		// and close done) or is still queued and will never run; waiting
		// for the loop goroutine to exit settles which.
		l.wg.Wait()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Token is a handle to a scheduled timer. Cancelling prevents the timer
// function from running even when the underlying timer has already
// fired, so stale timers never act on state they no longer own.
type Token struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Cancel stops the timer. Safe on a nil token and safe to call more
// than once.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.timer.Stop()
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	if t == nil {
		return true
	}
	return t.cancelled.Load()
}

// AfterFunc schedules f to run on the loop after d. The returned token
// cancels it.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Token {
	t := &Token{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.cancelled.Load() {
				return
			}
			f()
		})
	})
	return t
}

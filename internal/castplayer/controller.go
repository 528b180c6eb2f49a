package castplayer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/strefethen/alarmcast-go/internal/apperrors"
	"github.com/strefethen/alarmcast-go/internal/castproto"
	"github.com/strefethen/alarmcast-go/internal/castsession"
	"github.com/strefethen/alarmcast-go/internal/config"
	"github.com/strefethen/alarmcast-go/internal/runloop"
	"github.com/strefethen/alarmcast-go/internal/sequence"
)

const loadTimeout = 10 * time.Second

// Callbacks route cast outcomes back into the orchestrator. All three
// are invoked on the coordination loop; OnStarted fires at most once per
// attempt, and exactly one of OnFailed or OnCompletion settles it.
type Callbacks struct {
	OnStarted    func()
	OnFailed     func(err error)
	OnCompletion func()
}

// Controller loads media onto an established remote session and watches
// remote player status until the clip (or clip sequence) finishes. It
// never retries: every failure is reported once through OnFailed and the
// caller decides what happens next.
type Controller struct {
	cfg     config.Config
	logger  *log.Logger
	loop    *runloop.Loop
	conn    castproto.Conn
	session *castsession.Manager

	// Loop-confined. One attempt per alarm at most; presence in the map
	// is the casting-in-flight flag.
	attempts  map[string]*castAttempt
	unsubLost func()
}

type castAttempt struct {
	alarmID      string
	primaryURL   string
	secondaryURL string
	title        string
	gap          time.Duration
	volume       float64

	seq          sequence.State
	currentURL   string
	verified     bool
	startedFired bool
	settled      bool

	unsubStatus func()
	verifyToken *runloop.Token
	gapToken    *runloop.Token
	cb          Callbacks
}

// NewController creates a cast controller on the shared coordination
// loop. Start must be called before use.
func NewController(cfg config.Config, loop *runloop.Loop, conn castproto.Conn, session *castsession.Manager, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		cfg:      cfg,
		logger:   logger,
		loop:     loop,
		conn:     conn,
		session:  session,
		attempts: make(map[string]*castAttempt),
	}
}

// Start hooks session-loss cleanup: when the remote session ends under
// an in-flight attempt, the attempt fails instead of hanging until the
// safety timeout.
func (c *Controller) Start() {
	c.unsubLost = c.session.OnSessionLost(func(device castproto.Device) {
		for alarmID, attempt := range c.attempts {
			c.logger.Printf("[WARN] Cast alarm=%s: session with %s lost mid-cast", alarmID, device.Name)
			c.failAttempt(attempt, apperrors.NewSessionStartFailedError(0))
		}
	})
}

// Stop detaches the session-loss hook and discards all attempts without
// invoking callbacks.
func (c *Controller) Stop() {
	if c.unsubLost != nil {
		c.unsubLost()
		c.unsubLost = nil
	}
	c.loop.Call(func() {
		for alarmID := range c.attempts {
			c.cancelAttempt(alarmID, false)
		}
	})
}

// CastSingle casts one clip. A nil return means the attempt was accepted
// and will settle through the callbacks; a non-nil return means it was
// rejected before anything was loaded. Loop context only.
func (c *Controller) CastSingle(alarmID, url, title string, volume float64, cb Callbacks) error {
	return c.beginAttempt(&castAttempt{
		alarmID:    alarmID,
		primaryURL: url,
		title:      title,
		volume:     volume,
		cb:         cb,
	})
}

// CastSequence casts a primary clip followed, after the gap, by a
// secondary clip. Same acceptance contract as CastSingle. An empty
// secondary URL degrades to single-clip behavior. Loop context only.
func (c *Controller) CastSequence(alarmID, primaryURL, secondaryURL, title string, gap time.Duration, volume float64, cb Callbacks) error {
	return c.beginAttempt(&castAttempt{
		alarmID:      alarmID,
		primaryURL:   primaryURL,
		secondaryURL: secondaryURL,
		title:        title,
		gap:          gap,
		volume:       volume,
		cb:           cb,
	})
}

// Casting reports whether a cast attempt is in flight for the alarm.
// Loop context only.
func (c *Controller) Casting(alarmID string) bool {
	_, ok := c.attempts[alarmID]
	return ok
}

// Cancel discards the alarm's in-flight attempt without invoking its
// callbacks and stops remote playback best-effort. Safe to call when no
// attempt exists. Loop context only.
func (c *Controller) Cancel(alarmID string) {
	c.cancelAttempt(alarmID, true)
}

func (c *Controller) beginAttempt(attempt *castAttempt) error {
	if _, ok := c.attempts[attempt.alarmID]; ok {
		return apperrors.NewAlreadyCastingError(attempt.alarmID)
	}
	if !c.session.StateNow().Established() {
		return &castproto.NotConnectedError{}
	}

	attempt.seq = sequence.Reset()
	attempt.currentURL = attempt.primaryURL
	c.attempts[attempt.alarmID] = attempt

	attempt.unsubStatus = c.conn.OnStatus(func(st castproto.Status) {
		c.loop.Post(func() { c.observeStatus(attempt, st) })
	})

	c.logger.Printf("[INFO] Cast alarm=%s: loading %s (volume %.2f)", attempt.alarmID, attempt.primaryURL, attempt.volume)
	c.session.MarkLoading(attempt.primaryURL)
	c.loadClip(attempt, attempt.primaryURL)

	verify := time.Duration(c.cfg.VerificationDelayMs) * time.Millisecond
	attempt.verifyToken = c.loop.AfterFunc(verify, func() {
		if attempt.settled || attempt.verified {
			return
		}
		c.logger.Printf("[WARN] Cast alarm=%s: remote never reported playback, failing attempt", attempt.alarmID)
		c.failAttempt(attempt, apperrors.NewVerificationFailedError(attempt.alarmID))
	})

	return nil
}

// loadClip sets the volume and loads the clip off-loop, reporting the
// acknowledgement back onto the loop.
func (c *Controller) loadClip(attempt *castAttempt, url string) {
	volume := attempt.volume
	title := attempt.title
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		if err := c.conn.SetVolume(ctx, volume); err != nil {
			c.logger.Printf("[WARN] Cast: failed to set remote volume: %v", err)
		}
		err := c.conn.LoadMedia(ctx, url, castproto.Metadata{Title: title}, true)
		c.loop.Post(func() {
			if attempt.settled || err == nil {
				return
			}
			var loadErr *castproto.LoadError
			if errors.As(err, &loadErr) {
				c.failAttempt(attempt, apperrors.NewLoadFailedError(loadErr.Status))
				return
			}
			c.failAttempt(attempt, apperrors.NewLoadFailedError(0))
		})
	}()
}

// observeStatus maps remote player status onto the attempt's sequence
// state. A panic in the mapping must never propagate back into the
// protocol dispatch path; it is recovered and treated as a cast failure.
func (c *Controller) observeStatus(attempt *castAttempt, st castproto.Status) {
	if attempt.settled {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Printf("[ERROR] Cast alarm=%s: panic in status observer: %v", attempt.alarmID, recovered)
			c.failAttempt(attempt, apperrors.NewInternalError("cast status observer panicked"))
		}
	}()

	switch st.State {
	case castproto.PlayerStatePlaying:
		attempt.verified = true
		attempt.seq = sequence.Begin(attempt.seq)
		c.session.MarkCasting(attempt.currentURL)
		if !attempt.startedFired {
			attempt.startedFired = true
			c.logger.Printf("[INFO] Cast alarm=%s: remote playback started", attempt.alarmID)
			if attempt.cb.OnStarted != nil {
				attempt.cb.OnStarted()
			}
		}
	case castproto.PlayerStateBuffering:
		attempt.verified = true
		c.session.MarkBuffering(attempt.currentURL)
	case castproto.PlayerStatePaused:
		c.session.MarkPaused()
	case castproto.PlayerStateIdle:
		c.observeIdle(attempt, st)
	}
}

func (c *Controller) observeIdle(attempt *castAttempt, st castproto.Status) {
	switch st.IdleReason {
	case castproto.IdleReasonFinished:
		c.clipFinished(attempt)
	case castproto.IdleReasonError, castproto.IdleReasonInterrupted:
		c.failAttempt(attempt, apperrors.NewLoadFailedError(0))
	}
}

// clipFinished advances the shared sequence machine and acts on its
// effect: schedule the secondary clip, or complete the attempt.
func (c *Controller) clipFinished(attempt *castAttempt) {
	event := sequence.EventSecondaryFinished
	if attempt.seq == sequence.StatePlayingPrimary {
		event = sequence.EventNoSecondaryConfigured
		if attempt.secondaryURL != "" {
			event = sequence.EventPrimaryFinished
		}
	}

	next, effect := sequence.Advance(attempt.seq, event)
	attempt.seq = next

	switch effect {
	case sequence.EffectScheduleSecondaryAfterGap:
		c.logger.Printf("[INFO] Cast alarm=%s: primary finished, secondary in %v", attempt.alarmID, attempt.gap)
		attempt.gapToken = c.loop.AfterFunc(attempt.gap, func() {
			if attempt.settled {
				return
			}
			attempt.seq = sequence.BeginSecondary(attempt.seq)
			attempt.currentURL = attempt.secondaryURL
			c.session.MarkLoading(attempt.secondaryURL)
			c.loadClip(attempt, attempt.secondaryURL)
		})
	case sequence.EffectCompleteAlarm:
		c.completeAttempt(attempt)
	}
}

func (c *Controller) completeAttempt(attempt *castAttempt) {
	if attempt.settled {
		return
	}
	c.logger.Printf("[INFO] Cast alarm=%s: sequence complete", attempt.alarmID)
	c.teardown(attempt)
	c.session.MarkIdle()
	if attempt.cb.OnCompletion != nil {
		attempt.cb.OnCompletion()
	}
}

func (c *Controller) failAttempt(attempt *castAttempt, err error) {
	if attempt.settled {
		return
	}
	c.teardown(attempt)
	if attempt.cb.OnFailed != nil {
		attempt.cb.OnFailed(err)
	}
}

func (c *Controller) cancelAttempt(alarmID string, stopRemote bool) {
	attempt, ok := c.attempts[alarmID]
	if !ok {
		return
	}
	c.teardown(attempt)
	if stopRemote {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.conn.Stop(ctx); err != nil {
				c.logger.Printf("[WARN] Cast alarm=%s: remote stop failed: %v", alarmID, err)
			}
		}()
	}
}

// teardown settles the attempt: observer removed, timers cancelled,
// in-flight flag cleared. Terminal outcomes all come through here, so
// the flag can never leak.
func (c *Controller) teardown(attempt *castAttempt) {
	attempt.settled = true
	if attempt.unsubStatus != nil {
		attempt.unsubStatus()
		attempt.unsubStatus = nil
	}
	attempt.verifyToken.Cancel()
	attempt.gapToken.Cancel()
	delete(c.attempts, attempt.alarmID)
}

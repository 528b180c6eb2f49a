package castsession

import (
	"context"
	"log"
	"time"

	"github.com/strefethen/alarmcast-go/internal/apperrors"
	"github.com/strefethen/alarmcast-go/internal/castproto"
	"github.com/strefethen/alarmcast-go/internal/config"
	"github.com/strefethen/alarmcast-go/internal/runloop"
)

// Manager owns the remote session lifecycle: discovery, connect, session
// state tracking, and the tiered reconnection algorithm. All mutable
// state is confined to the coordination loop; protocol callbacks are
// marshaled onto it before touching anything.
type Manager struct {
	cfg    config.Config
	logger *log.Logger
	loop   *runloop.Loop
	conn   castproto.Conn

	// Loop-confined.
	state        State
	attempts     map[string]*reconnectAttempt
	subs         map[int]func(State)
	nextSubID    int
	lostHooks    map[int]func(castproto.Device)
	unsubSession func()
}

// attemptPhase tracks where a tier-2 reconnection attempt currently is.
type attemptPhase int

const (
	attemptDiscovering attemptPhase = iota
	attemptSettling
	attemptConnecting
)

// reconnectAttempt is the ephemeral per-alarm reconnection state. At most
// one exists per alarm; starting a new attempt cancels and discards the
// prior one, including its pending timers.
type reconnectAttempt struct {
	alarmID   string
	device    castproto.Device
	phase     attemptPhase
	polls     int
	token     *runloop.Token
	stopScan  context.CancelFunc
	found     map[string]bool
	cancelled bool
	onOutcome func(error)
}

// NewManager creates a session manager on the given coordination loop.
// Start must be called before use.
func NewManager(cfg config.Config, loop *runloop.Loop, conn castproto.Conn, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		loop:      loop,
		conn:      conn,
		state:     State{Phase: PhaseIdle},
		attempts:  make(map[string]*reconnectAttempt),
		subs:      make(map[int]func(State)),
		lostHooks: make(map[int]func(castproto.Device)),
	}
}

// Start subscribes to protocol session events. Events are marshaled onto
// the loop before they touch state.
func (m *Manager) Start() {
	m.unsubSession = m.conn.OnSessionEvent(func(ev castproto.SessionEvent) {
		m.loop.Post(func() { m.handleSessionEvent(ev) })
	})
}

// Stop detaches from the protocol and cancels all in-flight attempts.
func (m *Manager) Stop() {
	if m.unsubSession != nil {
		m.unsubSession()
		m.unsubSession = nil
	}
	m.loop.Call(func() {
		for alarmID := range m.attempts {
			m.cancelAttempt(alarmID)
		}
	})
}

// StateNow returns the current session state. Loop context only.
func (m *Manager) StateNow() State {
	return m.state
}

// Subscribe registers a state listener and returns an unsubscribe handle.
// Loop context only; listeners are invoked on the loop.
func (m *Manager) Subscribe(fn func(State)) func() {
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	return func() { delete(m.subs, id) }
}

// OnSessionLost registers a hook invoked on the loop when an established
// session ends, is suspended, or fails to resume. The cast controller
// uses it to tear down in-flight casting attempts.
func (m *Manager) OnSessionLost(fn func(castproto.Device)) func() {
	id := m.nextSubID
	m.nextSubID++
	m.lostHooks[id] = fn
	return func() { delete(m.lostHooks, id) }
}

// Reconnect resolves a usable session with the device using the tiered
// strategy: resume an existing session, rediscover the device, or give
// up. The outcome callback runs on the loop exactly once, unless a newer
// Reconnect for the same alarm supersedes this one first. The manager
// never falls back to local playback itself; a failure outcome hands
// that decision to the caller. Loop context only.
func (m *Manager) Reconnect(device castproto.Device, alarmID string) {
	m.ReconnectWithOutcome(device, alarmID, func(error) {})
}

// ReconnectWithOutcome is Reconnect with an explicit outcome callback.
// Loop context only.
func (m *Manager) ReconnectWithOutcome(device castproto.Device, alarmID string, onOutcome func(error)) {
	m.cancelAttempt(alarmID)

	// Tier 1: an established session with the same device resumes for
	// free.
	if m.state.Established() && m.state.Device.ID == device.ID {
		m.logger.Printf("[INFO] Reconnect alarm=%s: session with %s already established", alarmID, device.Name)
		m.setState(State{Phase: PhaseConnected, Device: m.state.Device})
		onOutcome(nil)
		return
	}

	// Tier 2: rediscover the device, then wait for session
	// establishment, both under bounded polling.
	scanCtx, stopScan := context.WithCancel(context.Background())
	attempt := &reconnectAttempt{
		alarmID:   alarmID,
		device:    device,
		phase:     attemptDiscovering,
		stopScan:  stopScan,
		found:     make(map[string]bool),
		onOutcome: onOutcome,
	}
	m.attempts[alarmID] = attempt

	stream, err := m.conn.Discover(scanCtx)
	if err != nil {
		m.finishAttempt(attempt, apperrors.NewDiscoveryTimeoutError(device.ID, 0))
		return
	}
	go func() {
		for d := range stream {
			found := d
			m.loop.Post(func() {
				if !attempt.cancelled {
					attempt.found[found.ID] = true
				}
			})
		}
	}()

	m.logger.Printf("[INFO] Reconnect alarm=%s: rediscovering device %s (%s)", alarmID, device.Name, device.ID)
	m.setState(State{Phase: PhaseDiscovering, Device: device})
	m.scheduleDiscoveryPoll(attempt)
}

// CancelReconnect discards any in-flight reconnection attempt for the
// alarm without invoking its outcome. Loop context only.
func (m *Manager) CancelReconnect(alarmID string) {
	m.cancelAttempt(alarmID)
}

func (m *Manager) scheduleDiscoveryPoll(attempt *reconnectAttempt) {
	interval := time.Duration(m.cfg.DiscoveryPollIntervalMs) * time.Millisecond
	attempt.token = m.loop.AfterFunc(interval, func() {
		if attempt.cancelled {
			return
		}
		attempt.polls++
		if attempt.found[attempt.device.ID] {
			m.deviceDiscovered(attempt)
			return
		}
		if attempt.polls >= m.cfg.DiscoveryMaxPolls {
			m.logger.Printf("[WARN] Reconnect alarm=%s: device %s not discovered after %d polls",
				attempt.alarmID, attempt.device.ID, attempt.polls)
			m.finishAttempt(attempt, apperrors.NewDiscoveryTimeoutError(attempt.device.ID, attempt.polls))
			return
		}
		m.scheduleDiscoveryPoll(attempt)
	})
}

// deviceDiscovered stops discovery, lets the route settle, then selects
// the device. The settle delay is an explicit wait state with its own
// timer; the loop is never blocked.
func (m *Manager) deviceDiscovered(attempt *reconnectAttempt) {
	m.logger.Printf("[INFO] Reconnect alarm=%s: device %s discovered after %d polls",
		attempt.alarmID, attempt.device.Name, attempt.polls)
	attempt.stopScan()
	attempt.phase = attemptSettling

	settle := time.Duration(m.cfg.RouteSettleDelayMs) * time.Millisecond
	attempt.token = m.loop.AfterFunc(settle, func() {
		if attempt.cancelled {
			return
		}
		m.selectDevice(attempt)
	})
}

// selectDevice submits the session request off-loop; a protocol stack
// that blocks the full 5s must not stall other alarms' timers. The
// result is posted back before the attempt advances.
func (m *Manager) selectDevice(attempt *reconnectAttempt) {
	attempt.phase = attemptConnecting
	attempt.polls = 0
	m.setState(State{Phase: PhaseConnecting, Device: attempt.device})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.conn.SelectDevice(ctx, attempt.device)
		cancel()
		m.loop.Post(func() {
			if attempt.cancelled {
				return
			}
			if err != nil {
				m.logger.Printf("[WARN] Reconnect alarm=%s: device selection failed: %v", attempt.alarmID, err)
				m.finishAttempt(attempt, apperrors.NewConnectionTimeoutError(attempt.device.ID, 0))
				return
			}
			m.scheduleConnectPoll(attempt)
		})
	}()
}

func (m *Manager) scheduleConnectPoll(attempt *reconnectAttempt) {
	interval := time.Duration(m.cfg.ConnectPollIntervalMs) * time.Millisecond
	attempt.token = m.loop.AfterFunc(interval, func() {
		if attempt.cancelled {
			return
		}
		attempt.polls++
		if m.state.Established() && m.state.Device.ID == attempt.device.ID {
			m.finishAttempt(attempt, nil)
			return
		}
		if attempt.polls >= m.cfg.ConnectMaxPolls {
			m.logger.Printf("[WARN] Reconnect alarm=%s: session not established after %d polls",
				attempt.alarmID, attempt.polls)
			m.finishAttempt(attempt, apperrors.NewConnectionTimeoutError(attempt.device.ID, attempt.polls))
			return
		}
		m.scheduleConnectPoll(attempt)
	})
}

// finishAttempt settles the attempt exactly once and reports the outcome.
func (m *Manager) finishAttempt(attempt *reconnectAttempt, err error) {
	if attempt.cancelled {
		return
	}
	attempt.cancelled = true
	attempt.token.Cancel()
	attempt.stopScan()
	delete(m.attempts, attempt.alarmID)
	if err != nil && (m.state.Phase == PhaseDiscovering || m.state.Phase == PhaseConnecting) {
		m.setState(State{Phase: PhaseIdle})
	}
	attempt.onOutcome(err)
}

func (m *Manager) cancelAttempt(alarmID string) {
	attempt, ok := m.attempts[alarmID]
	if !ok {
		return
	}
	attempt.cancelled = true
	attempt.token.Cancel()
	attempt.stopScan()
	delete(m.attempts, alarmID)
}

func (m *Manager) handleSessionEvent(ev castproto.SessionEvent) {
	switch ev.Kind {
	case castproto.SessionStarted, castproto.SessionResumed:
		m.logger.Printf("[INFO] Remote session established with %s", ev.Device.Name)
		m.setState(State{Phase: PhaseConnected, Device: ev.Device})
		// Settle any attempt already waiting on this device without
		// waiting for its next poll.
		for _, attempt := range m.attempts {
			if attempt.phase == attemptConnecting && attempt.device.ID == ev.Device.ID {
				m.finishAttempt(attempt, nil)
			}
		}
	case castproto.SessionEnded, castproto.SessionSuspended:
		m.logger.Printf("[INFO] Remote session with %s ended (%s)", ev.Device.Name, ev.Kind)
		m.setState(State{Phase: PhaseEnded, Device: ev.Device, MediaRef: m.state.MediaRef})
		m.notifySessionLost(ev.Device)
	case castproto.SessionStartFailed:
		m.logger.Printf("[WARN] Remote session start failed (code %d)", ev.ErrorCode)
		m.setState(State{Phase: PhaseError, Device: ev.Device, Message: apperrors.NewSessionStartFailedError(ev.ErrorCode).Message})
		for _, attempt := range m.attempts {
			if attempt.phase == attemptConnecting && attempt.device.ID == ev.Device.ID {
				m.finishAttempt(attempt, apperrors.NewSessionStartFailedError(ev.ErrorCode))
			}
		}
	case castproto.SessionResumeFailed:
		m.logger.Printf("[WARN] Remote session resume failed (code %d)", ev.ErrorCode)
		m.setState(State{Phase: PhaseError, Device: ev.Device, Message: apperrors.NewSessionStartFailedError(ev.ErrorCode).Message})
		m.notifySessionLost(ev.Device)
	}
}

func (m *Manager) notifySessionLost(device castproto.Device) {
	for _, fn := range m.lostHooks {
		fn(device)
	}
}

// Playback phase reporting. The cast controller asks the manager to
// reflect what the remote player is doing so that there is still exactly
// one writer of the session state. Loop context only; ignored when no
// session is established.

func (m *Manager) MarkLoading(mediaRef string) {
	if !m.state.Established() {
		return
	}
	m.setState(State{Phase: PhaseLoading, Device: m.state.Device, MediaRef: mediaRef})
}

func (m *Manager) MarkCasting(mediaRef string) {
	if !m.state.Established() {
		return
	}
	m.setState(State{Phase: PhaseCasting, Device: m.state.Device, MediaRef: mediaRef})
}

func (m *Manager) MarkBuffering(mediaRef string) {
	if !m.state.Established() {
		return
	}
	m.setState(State{Phase: PhaseBuffering, Device: m.state.Device, MediaRef: mediaRef})
}

func (m *Manager) MarkPaused() {
	if !m.state.Established() {
		return
	}
	m.setState(State{Phase: PhasePaused, Device: m.state.Device, MediaRef: m.state.MediaRef})
}

// MarkIdle returns an established session to Connected once casting is
// over, keeping the session usable for the next alarm.
func (m *Manager) MarkIdle() {
	if !m.state.Established() {
		return
	}
	m.setState(State{Phase: PhaseConnected, Device: m.state.Device})
}

func (m *Manager) setState(next State) {
	m.state = next
	// Snapshot first so a listener unsubscribing mid-broadcast cannot
	// mutate the map under the loop.
	listeners := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	for _, fn := range listeners {
		fn(next)
	}
}

package castproto

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Simulator is an in-memory Conn implementation used when the service
// runs in simulated-cast mode and by tests. Devices are registered with
// AddDevice; session establishment and playback either advance on their
// own (auto-play, the default) or under explicit control via EmitStatus.
type Simulator struct {
	logger *log.Logger

	mu          sync.Mutex
	devices     map[string]Device
	changed     chan struct{}
	sessionSubs map[int]func(SessionEvent)
	statusSubs  map[int]func(Status)
	nextSubID   int
	connected   *Device
	status      Status
	loads       []string
	loadErrs    []error
	loadGen     int

	autoPlay       bool
	silentLoad     bool
	connectDelay   time.Duration
	playDelay      time.Duration
	clipLength     time.Duration
	failConnectNum int
}

// NewSimulator returns a Simulator with auto-play enabled and no devices
// registered.
func NewSimulator(logger *log.Logger) *Simulator {
	if logger == nil {
		logger = log.Default()
	}
	return &Simulator{
		logger:      logger,
		devices:     make(map[string]Device),
		changed:     make(chan struct{}),
		sessionSubs: make(map[int]func(SessionEvent)),
		statusSubs:  make(map[int]func(Status)),
		status:      Status{State: PlayerStateIdle, Volume: 1.0},
		autoPlay:    true,
		playDelay:   10 * time.Millisecond,
	}
}

// AddDevice makes a device discoverable. Active discovery streams pick it
// up immediately.
func (s *Simulator) AddDevice(device Device) {
	s.mu.Lock()
	s.devices[device.ID] = device
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// SetAutoPlay toggles automatic playback advancement after a load. Tests
// that drive status by hand disable it.
func (s *Simulator) SetAutoPlay(on bool) {
	s.mu.Lock()
	s.autoPlay = on
	s.mu.Unlock()
}

// SetConnectDelay delays session establishment after SelectDevice.
func (s *Simulator) SetConnectDelay(d time.Duration) {
	s.mu.Lock()
	s.connectDelay = d
	s.mu.Unlock()
}

// SetPlayDelay adjusts the gap between an accepted load and the first
// PLAYING status in auto-play mode.
func (s *Simulator) SetPlayDelay(d time.Duration) {
	s.mu.Lock()
	s.playDelay = d
	s.mu.Unlock()
}

// SetClipLength makes auto-played media finish after d. Zero means media
// plays until stopped.
func (s *Simulator) SetClipLength(d time.Duration) {
	s.mu.Lock()
	s.clipLength = d
	s.mu.Unlock()
}

// SetSilentLoad makes subsequent loads acknowledge but never report any
// player state, as a receiver that silently fails to start would.
func (s *Simulator) SetSilentLoad(on bool) {
	s.mu.Lock()
	s.silentLoad = on
	s.mu.Unlock()
}

// FailNextLoad queues a load rejection with the given status code.
func (s *Simulator) FailNextLoad(status int) {
	s.mu.Lock()
	s.loadErrs = append(s.loadErrs, &LoadError{Status: status})
	s.mu.Unlock()
}

// FailNextConnect makes the next SelectDevice emit SessionStartFailed
// with the given error code instead of establishing a session.
func (s *Simulator) FailNextConnect(errorCode int) {
	s.mu.Lock()
	s.failConnectNum = errorCode
	s.mu.Unlock()
}

// ConnectedDevice reports the device with an established session.
func (s *Simulator) ConnectedDevice() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == nil {
		return Device{}, false
	}
	return *s.connected, true
}

// Loads returns the URLs of all accepted media loads, in order.
func (s *Simulator) Loads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.loads))
	copy(out, s.loads)
	return out
}

// Discover implements Conn. Each stream runs its own goroutine emitting
// registered devices as they appear, and closes the channel when ctx is
// cancelled.
func (s *Simulator) Discover(ctx context.Context) (<-chan Device, error) {
	out := make(chan Device, 16)
	go func() {
		defer close(out)
		seen := make(map[string]bool)
		for {
			s.mu.Lock()
			pending := make([]Device, 0, len(s.devices))
			for _, d := range s.devices {
				if !seen[d.ID] {
					pending = append(pending, d)
				}
			}
			changed := s.changed
			s.mu.Unlock()

			for _, d := range pending {
				seen[d.ID] = true
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}()
	return out, nil
}

// SelectDevice implements Conn. Session establishment is reported
// asynchronously, after the configured connect delay.
func (s *Simulator) SelectDevice(ctx context.Context, device Device) error {
	s.mu.Lock()
	if _, ok := s.devices[device.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("device %q not discoverable", device.ID)
	}
	delay := s.connectDelay
	failCode := s.failConnectNum
	s.failConnectNum = 0
	s.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if failCode != 0 {
			s.logger.Printf("[WARN] Simulator: session start failed for %s (code %d)", device.Name, failCode)
			s.emitSession(SessionEvent{Kind: SessionStartFailed, Device: device, ErrorCode: failCode})
			return
		}
		s.mu.Lock()
		d := device
		s.connected = &d
		s.mu.Unlock()
		s.logger.Printf("[INFO] Simulator: session established with %s", device.Name)
		s.emitSession(SessionEvent{Kind: SessionStarted, Device: device})
	}()
	return nil
}

// OnSessionEvent implements Conn.
func (s *Simulator) OnSessionEvent(fn func(SessionEvent)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.sessionSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.sessionSubs, id)
		s.mu.Unlock()
	}
}

// LoadMedia implements Conn. In auto-play mode an accepted load reports
// BUFFERING, then PLAYING after the play delay, then IDLE/FINISHED after
// the clip length when one is set.
func (s *Simulator) LoadMedia(ctx context.Context, url string, meta Metadata, autoplay bool) error {
	s.mu.Lock()
	if s.connected == nil {
		s.mu.Unlock()
		return &NotConnectedError{}
	}
	if len(s.loadErrs) > 0 {
		err := s.loadErrs[0]
		s.loadErrs = s.loadErrs[1:]
		s.mu.Unlock()
		return err
	}
	s.loads = append(s.loads, url)
	s.loadGen++
	gen := s.loadGen
	s.logger.Printf("[INFO] Simulator: media load accepted: %s", url)
	auto := s.autoPlay && autoplay && !s.silentLoad
	playDelay := s.playDelay
	clipLength := s.clipLength
	volume := s.status.Volume
	s.mu.Unlock()

	if !auto {
		return nil
	}

	s.emitStatusIfCurrent(gen, Status{
		State:    PlayerStateBuffering,
		MediaURL: url,
		Duration: clipLength,
		Volume:   volume,
	})
	go func() {
		time.Sleep(playDelay)
		s.emitStatusIfCurrent(gen, Status{
			State:    PlayerStatePlaying,
			MediaURL: url,
			Duration: clipLength,
			Volume:   volume,
		})
		if clipLength <= 0 {
			return
		}
		time.Sleep(clipLength)
		s.emitStatusIfCurrent(gen, Status{
			State:      PlayerStateIdle,
			IdleReason: IdleReasonFinished,
			MediaURL:   url,
			Position:   clipLength,
			Duration:   clipLength,
			Volume:     volume,
		})
	}()
	return nil
}

// OnStatus implements Conn.
func (s *Simulator) OnStatus(fn func(Status)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.statusSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.statusSubs, id)
		s.mu.Unlock()
	}
}

// SetVolume implements Conn.
func (s *Simulator) SetVolume(ctx context.Context, level float64) error {
	s.mu.Lock()
	if s.connected == nil {
		s.mu.Unlock()
		return &NotConnectedError{}
	}
	s.status.Volume = level
	s.mu.Unlock()
	return nil
}

// Stop implements Conn. Stopping is idempotent.
func (s *Simulator) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.connected == nil || s.status.State == PlayerStateIdle {
		s.mu.Unlock()
		return nil
	}
	s.loadGen++
	gen := s.loadGen
	st := Status{
		State:      PlayerStateIdle,
		IdleReason: IdleReasonCancelled,
		Volume:     s.status.Volume,
	}
	s.status = st
	s.mu.Unlock()
	s.emitStatusIfCurrent(gen, st)
	return nil
}

// EmitStatus publishes a status update to all listeners. Tests use it to
// script remote player behavior.
func (s *Simulator) EmitStatus(st Status) {
	s.mu.Lock()
	s.loadGen++
	gen := s.loadGen
	s.status = st
	s.mu.Unlock()
	s.emitStatusIfCurrent(gen, st)
}

// EndSession tears down the established session and notifies session
// listeners with the given kind (SessionEnded or SessionSuspended).
func (s *Simulator) EndSession(kind SessionEventKind, errorCode int) {
	s.mu.Lock()
	var device Device
	if s.connected != nil {
		device = *s.connected
	}
	s.connected = nil
	s.loadGen++
	s.status = Status{State: PlayerStateIdle, IdleReason: IdleReasonInterrupted, Volume: s.status.Volume}
	s.mu.Unlock()
	s.emitSession(SessionEvent{Kind: kind, Device: device, ErrorCode: errorCode})
}

func (s *Simulator) emitSession(ev SessionEvent) {
	s.mu.Lock()
	subs := make([]func(SessionEvent), 0, len(s.sessionSubs))
	for _, fn := range s.sessionSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// emitStatusIfCurrent drops updates from auto-play goroutines that a
// newer load or stop has superseded.
func (s *Simulator) emitStatusIfCurrent(gen int, st Status) {
	s.mu.Lock()
	if gen != s.loadGen {
		s.mu.Unlock()
		return
	}
	s.status = st
	subs := make([]func(Status), 0, len(s.statusSubs))
	for _, fn := range s.statusSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

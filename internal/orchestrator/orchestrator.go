package orchestrator

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/strefethen/alarmcast-go/internal/apperrors"
	"github.com/strefethen/alarmcast-go/internal/audio"
	"github.com/strefethen/alarmcast-go/internal/castplayer"
	"github.com/strefethen/alarmcast-go/internal/castproto"
	"github.com/strefethen/alarmcast-go/internal/castsession"
	"github.com/strefethen/alarmcast-go/internal/config"
	"github.com/strefethen/alarmcast-go/internal/media"
	"github.com/strefethen/alarmcast-go/internal/runloop"
	"github.com/strefethen/alarmcast-go/internal/sequence"
)

// safetyMargin is how close the remote position must be to the clip
// duration for the safety timeout to treat playback as finished.
const safetyMargin = 2 * time.Second

// Playback history event types.
const (
	eventCastStarted   = "CAST_STARTED"
	eventCastFailed    = "CAST_FAILED"
	eventLocalFallback = "LOCAL_FALLBACK"
	eventLocalStarted  = "LOCAL_STARTED"
	eventMediaError    = "MEDIA_ERROR"
	eventSafetyForced  = "SAFETY_TIMEOUT_FORCED"
)

// Orchestrator is the single authority over alarm playback: it decides
// cast versus local per alarm, owns the safety timeout, and is the only
// component allowed to terminate an alarm. All state is confined to the
// coordination loop.
type Orchestrator struct {
	cfg      config.Config
	logger   *log.Logger
	loop     *runloop.Loop
	conn     castproto.Conn
	session  *castsession.Manager
	caster   *castplayer.Controller
	local    audio.Player
	resolver *media.Resolver
	settings SettingsStore
	notifier Notifier
	recorder Recorder

	// Loop-confined.
	active    map[string]*activeAlarm
	ringSubs  map[int]func(ringing bool, alarmIDs []string)
	nextSubID int

	unsubLocalDone func()
	unsubStatus    func()
}

// activeAlarm is the per-alarm lifecycle state. Created on Start,
// discarded on termination.
type activeAlarm struct {
	req      Request
	volume   float64
	device   castproto.Device
	backend  Backend
	fellBack bool
	stopped  bool
	seq      sequence.State
	snapshot Snapshot

	safetyToken *runloop.Token
	gapToken    *runloop.Token
}

// New constructs an orchestrator. Start must be called before use.
func New(cfg config.Config, loop *runloop.Loop, conn castproto.Conn, session *castsession.Manager, caster *castplayer.Controller, local audio.Player, resolver *media.Resolver, settings SettingsStore, notifier Notifier, recorder Recorder, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		loop:     loop,
		conn:     conn,
		session:  session,
		caster:   caster,
		local:    local,
		resolver: resolver,
		settings: settings,
		notifier: notifier,
		recorder: recorder,
		active:   make(map[string]*activeAlarm),
		ringSubs: make(map[int]func(bool, []string)),
	}
}

// Start subscribes the orchestrator to local completion callbacks and
// remote status updates, both marshaled onto the loop.
func (o *Orchestrator) Start() {
	o.unsubLocalDone = o.local.OnCompletion(func(id string) {
		o.loop.Post(func() { o.handleLocalCompletion(id) })
	})
	o.unsubStatus = o.conn.OnStatus(func(st castproto.Status) {
		o.loop.Post(func() { o.handleRemoteStatus(st) })
	})
}

// Stop terminates every active alarm and detaches subscriptions.
func (o *Orchestrator) Stop() {
	o.loop.Call(func() {
		for id := range o.active {
			o.terminate(o.active[id], "orchestrator shutdown")
		}
	})
	if o.unsubLocalDone != nil {
		o.unsubLocalDone()
		o.unsubLocalDone = nil
	}
	if o.unsubStatus != nil {
		o.unsubStatus()
		o.unsubStatus = nil
	}
}

// StartAlarm begins playback for the request. A second start for an
// alarm id that is still active is rejected with AlarmAlreadyActive; it
// is never queued. Safe to call from any goroutine.
func (o *Orchestrator) StartAlarm(req Request) error {
	var result error
	ok := o.loop.Call(func() { result = o.startOnLoop(req) })
	if !ok {
		return apperrors.NewInternalError("playback coordinator is not running")
	}
	return result
}

func (o *Orchestrator) startOnLoop(req Request) error {
	if _, exists := o.active[req.AlarmID]; exists {
		return apperrors.NewAlreadyActiveError(req.AlarmID)
	}
	if req.SequenceGapMs <= 0 {
		req.SequenceGapMs = o.cfg.SequenceGapMsDefault
	}

	alarm := &activeAlarm{
		req:    req,
		volume: o.resolveVolume(req),
		seq:    sequence.Reset(),
		snapshot: Snapshot{
			AlarmID:   req.AlarmID,
			StartedAt: time.Now().UTC(),
		},
	}
	alarm.snapshot.Volume = alarm.volume
	o.active[req.AlarmID] = alarm
	o.broadcastRinging()
	o.notifyStarted(req.AlarmID)

	device, castURL, declined := o.castPreconditions(req)
	if declined != nil {
		o.logger.Printf("[INFO] Alarm %s: local playback (%v)", req.AlarmID, declined)
		o.playLocal(alarm)
		return nil
	}

	o.logger.Printf("[INFO] Alarm %s: casting to %s requested", req.AlarmID, device.Name)
	alarm.device = device
	alarm.backend = BackendRemote
	o.session.ReconnectWithOutcome(device, req.AlarmID, func(err error) {
		if alarm.stopped {
			return
		}
		if err != nil {
			o.record(eventCastFailed, "WARN", req.AlarmID, device.ID,
				"Reconnection failed: "+err.Error(), nil)
			o.fallbackLocal(alarm, err)
			return
		}
		o.beginCast(alarm, castURL)
	})
	return nil
}

// errCastingDisabled declines the cast path without calling it a fault.
var errCastingDisabled = errors.New("casting disabled")

// castPreconditions evaluates whether the cast path applies: casting
// requested, a usable device (preferred or saved), and a primary media
// reference resolvable to a castable URL. A non-nil decline means the
// local path is taken instead.
func (o *Orchestrator) castPreconditions(req Request) (castproto.Device, string, error) {
	if !req.CastingEnabled {
		return castproto.Device{}, "", errCastingDisabled
	}

	var device castproto.Device
	if req.PreferredDevice != nil && req.PreferredDevice.ID != "" {
		device = *req.PreferredDevice
	} else {
		saved, ok, err := o.settings.LastDevice()
		if err != nil {
			o.logger.Printf("[WARN] Alarm %s: failed to read saved device: %v", req.AlarmID, err)
		}
		if !ok {
			return castproto.Device{}, "", apperrors.NewNoUsableDeviceError()
		}
		device = saved
	}

	castURL, err := o.resolver.ResolveCastable(req.PrimaryMediaRef)
	if err != nil {
		return castproto.Device{}, "", fmt.Errorf("primary media not castable: %w", err)
	}

	return device, castURL, nil
}

// resolveVolume honors the request volume, then the persisted volume,
// then the configured default.
func (o *Orchestrator) resolveVolume(req Request) float64 {
	if req.Volume > 0 {
		return req.Volume
	}
	if persisted, ok, err := o.settings.Volume(); err == nil && ok {
		return persisted
	}
	return o.cfg.DefaultVolume
}

func (o *Orchestrator) beginCast(alarm *activeAlarm, castURL string) {
	req := alarm.req

	secondaryURL := ""
	if req.HasSecondary() {
		resolved, err := o.resolver.ResolveCastable(req.SecondaryMediaRef)
		if err != nil {
			o.logger.Printf("[WARN] Alarm %s: secondary media not castable, casting primary only: %v", req.AlarmID, err)
		} else {
			secondaryURL = resolved
		}
	}

	cb := castplayer.Callbacks{
		OnStarted: func() {
			if alarm.stopped {
				return
			}
			o.castStarted(alarm)
		},
		OnFailed: func(err error) {
			if alarm.stopped {
				return
			}
			o.record(eventCastFailed, "WARN", req.AlarmID, alarm.device.ID,
				"Cast failed: "+err.Error(), nil)
			o.fallbackLocal(alarm, err)
		},
		OnCompletion: func() {
			if alarm.stopped {
				return
			}
			o.castCompleted(alarm, castURL)
		},
	}

	var err error
	if secondaryURL != "" {
		err = o.caster.CastSequence(req.AlarmID, castURL, secondaryURL, req.Title, req.Gap(), alarm.volume, cb)
	} else {
		err = o.caster.CastSingle(req.AlarmID, castURL, req.Title, alarm.volume, cb)
	}
	if err != nil {
		o.record(eventCastFailed, "WARN", req.AlarmID, alarm.device.ID,
			"Cast rejected: "+err.Error(), nil)
		o.fallbackLocal(alarm, err)
	}
}

// castStarted runs once per cast attempt: the device is saved as last
// used and the safety timeout is armed.
func (o *Orchestrator) castStarted(alarm *activeAlarm) {
	alarm.snapshot.Backend = BackendRemote
	alarm.snapshot.Playing = true
	if err := o.settings.SetLastDevice(alarm.device); err != nil {
		o.logger.Printf("[WARN] Alarm %s: failed to persist last device: %v", alarm.req.AlarmID, err)
	}
	o.record(eventCastStarted, "INFO", alarm.req.AlarmID, alarm.device.ID,
		"Casting to "+alarm.device.Name, map[string]any{"media_ref": alarm.req.PrimaryMediaRef})
	o.armSafetyTimeout(alarm)
}

// castCompleted applies the completion policy once the remote sequence
// has run to its end.
func (o *Orchestrator) castCompleted(alarm *activeAlarm, castURL string) {
	alarm.safetyToken.Cancel()

	req := alarm.req
	if !req.HasSecondary() && req.Loop {
		// Loop only applies to a single, non-sequenced clip; recast it.
		o.logger.Printf("[INFO] Alarm %s: looping cast clip", req.AlarmID)
		o.beginCast(alarm, castURL)
		return
	}
	if o.shouldTerminateOnCompletion(req) {
		o.terminate(alarm, "cast sequence completed")
		return
	}
	alarm.snapshot.Playing = false
	alarm.snapshot.SignalOnly = true
	o.logger.Printf("[INFO] Alarm %s: cast sequence completed, alarm stays ringing until stopped", req.AlarmID)
}

// shouldTerminateOnCompletion: a non-looping single clip always
// terminates; a sequence terminates when stop-after-secondary is set.
func (o *Orchestrator) shouldTerminateOnCompletion(req Request) bool {
	if !req.HasSecondary() {
		return !req.Loop
	}
	return req.StopAfterSecondary
}

// fallbackLocal switches the alarm to the local path. Fallback is
// one-directional and happens at most once per alarm; later cast
// failures for an alarm that already fell back are ignored.
func (o *Orchestrator) fallbackLocal(alarm *activeAlarm, cause error) {
	if alarm.stopped || alarm.fellBack {
		return
	}
	alarm.fellBack = true
	alarm.snapshot.FellBack = true
	alarm.safetyToken.Cancel()
	o.session.CancelReconnect(alarm.req.AlarmID)
	o.caster.Cancel(alarm.req.AlarmID)

	o.logger.Printf("[WARN] Alarm %s: falling back to local playback: %v", alarm.req.AlarmID, cause)
	o.record(eventLocalFallback, "WARN", alarm.req.AlarmID, alarm.device.ID,
		"Falling back to local playback", map[string]any{"cause": cause.Error()})
	o.playLocal(alarm)
}

// playLocal drives the sequence machine against the local audio
// backend. A primary media reference that cannot be resolved is fatal
// for the alarm's audio but not for the process: the alarm stays
// active, signal-only, until stopped.
func (o *Orchestrator) playLocal(alarm *activeAlarm) {
	req := alarm.req
	alarm.backend = BackendLocal
	alarm.snapshot.Backend = BackendLocal

	url, err := o.resolver.ResolveLocal(req.PrimaryMediaRef)
	if err != nil {
		o.logger.Printf("[ERROR] Alarm %s: primary media unresolvable, ringing signal-only: %v", req.AlarmID, err)
		o.record(eventMediaError, "ERROR", req.AlarmID, "",
			"Primary media unresolvable, alarm is signal-only", map[string]any{"ref": req.PrimaryMediaRef})
		alarm.snapshot.SignalOnly = true
		return
	}

	loop := req.Loop && !req.HasSecondary()
	alarm.seq = sequence.Begin(alarm.seq)
	if err := o.local.Play(req.AlarmID, url, audio.PlayOptions{
		Loop:        loop,
		Volume:      alarm.volume,
		FadeInMs:    o.cfg.FadeInMs,
		FadeInSteps: o.cfg.FadeInSteps,
	}); err != nil {
		o.logger.Printf("[ERROR] Alarm %s: local playback failed to start, ringing signal-only: %v", req.AlarmID, err)
		o.record(eventMediaError, "ERROR", req.AlarmID, "",
			"Local playback failed to start", map[string]any{"error": err.Error()})
		alarm.snapshot.SignalOnly = true
		return
	}

	alarm.snapshot.Playing = true
	alarm.snapshot.MediaRef = req.PrimaryMediaRef
	o.record(eventLocalStarted, "INFO", req.AlarmID, "",
		"Playing locally", map[string]any{"media_ref": req.PrimaryMediaRef, "loop": loop})
}

// handleLocalCompletion advances the local sequence when a clip runs to
// its natural end. Duplicate or stale completions are absorbed by the
// sequence machine's monotonicity.
func (o *Orchestrator) handleLocalCompletion(alarmID string) {
	alarm, ok := o.active[alarmID]
	if !ok || alarm.stopped || alarm.backend != BackendLocal {
		return
	}

	event := sequence.EventSecondaryFinished
	if alarm.seq == sequence.StatePlayingPrimary {
		event = sequence.EventNoSecondaryConfigured
		if alarm.req.HasSecondary() {
			event = sequence.EventPrimaryFinished
		}
	}

	next, effect := sequence.Advance(alarm.seq, event)
	alarm.seq = next

	switch effect {
	case sequence.EffectScheduleSecondaryAfterGap:
		o.logger.Printf("[INFO] Alarm %s: primary finished, secondary in %v", alarmID, alarm.req.Gap())
		alarm.gapToken = o.loop.AfterFunc(alarm.req.Gap(), func() {
			if alarm.stopped {
				return
			}
			alarm.seq = sequence.BeginSecondary(alarm.seq)
			o.playLocalSecondary(alarm)
		})
	case sequence.EffectCompleteAlarm:
		if o.shouldTerminateOnCompletion(alarm.req) {
			o.terminate(alarm, "local sequence completed")
			return
		}
		alarm.snapshot.Playing = false
		alarm.snapshot.SignalOnly = true
		o.logger.Printf("[INFO] Alarm %s: local sequence completed, alarm stays ringing until stopped", alarmID)
	}
}

func (o *Orchestrator) playLocalSecondary(alarm *activeAlarm) {
	url, err := o.resolver.ResolveLocal(alarm.req.SecondaryMediaRef)
	if err != nil {
		o.logger.Printf("[ERROR] Alarm %s: secondary media unresolvable: %v", alarm.req.AlarmID, err)
		alarm.seq = sequence.StateCompleted
		if o.shouldTerminateOnCompletion(alarm.req) {
			o.terminate(alarm, "secondary media unresolvable")
		}
		return
	}
	if err := o.local.Play(alarm.req.AlarmID, url, audio.PlayOptions{
		Volume:      alarm.volume,
		FadeInMs:    o.cfg.FadeInMs,
		FadeInSteps: o.cfg.FadeInSteps,
	}); err != nil {
		o.logger.Printf("[ERROR] Alarm %s: secondary playback failed: %v", alarm.req.AlarmID, err)
		return
	}
	alarm.snapshot.MediaRef = alarm.req.SecondaryMediaRef
	alarm.snapshot.Playing = true
}

// armSafetyTimeout (re)arms the last-resort termination timer for an
// actively casting alarm. Any previously armed timer is disarmed first.
func (o *Orchestrator) armSafetyTimeout(alarm *activeAlarm) {
	alarm.safetyToken.Cancel()
	timeout := time.Duration(o.cfg.SafetyTimeoutSec) * time.Second
	alarm.safetyToken = o.loop.AfterFunc(timeout, func() {
		if alarm.stopped {
			return
		}
		o.safetyTimeoutFired(alarm)
	})
}

// safetyTimeoutFired samples the mirrored remote position against the
// clip duration: finished-or-stopped playback is forced to terminate, a
// still-playing alarm gets the timeout rescheduled instead.
func (o *Orchestrator) safetyTimeoutFired(alarm *activeAlarm) {
	snap := alarm.snapshot
	nearEnd := snap.Duration > 0 && snap.Duration-snap.Position <= safetyMargin
	if nearEnd || !snap.Playing {
		forced := apperrors.NewSafetyTimeoutError(alarm.req.AlarmID)
		o.logger.Printf("[WARN] Alarm %s: safety timeout forcing termination (position %v of %v, playing=%t)",
			alarm.req.AlarmID, snap.Position, snap.Duration, snap.Playing)
		o.record(eventSafetyForced, "WARN", alarm.req.AlarmID, alarm.device.ID,
			forced.Message, map[string]any{
				"code":        string(forced.Code),
				"position_ms": snap.Position.Milliseconds(),
				"duration_ms": snap.Duration.Milliseconds(),
			})
		o.terminate(alarm, "safety timeout")
		return
	}
	o.logger.Printf("[INFO] Alarm %s: safety timeout fired but playback continues, rescheduling", alarm.req.AlarmID)
	o.armSafetyTimeout(alarm)
}

// handleRemoteStatus mirrors remote player status into the snapshot of
// whichever alarm is casting.
func (o *Orchestrator) handleRemoteStatus(st castproto.Status) {
	for _, alarm := range o.active {
		if alarm.backend != BackendRemote || alarm.stopped {
			continue
		}
		alarm.snapshot.Position = st.Position
		alarm.snapshot.Duration = st.Duration
		alarm.snapshot.Playing = st.Playing()
		alarm.snapshot.Paused = st.State == castproto.PlayerStatePaused
		alarm.snapshot.Buffering = st.State == castproto.PlayerStateBuffering
		alarm.snapshot.Volume = st.Volume
		alarm.snapshot.Muted = st.Muted
		if st.MediaURL != "" {
			alarm.snapshot.MediaRef = st.MediaURL
		}
	}
}

// StopAlarm is the single authoritative termination path. It is
// idempotent: stopping an unknown or already-stopped alarm is a no-op.
// Safe to call from any goroutine; it never returns an error.
func (o *Orchestrator) StopAlarm(alarmID string) {
	o.loop.Call(func() {
		alarm, ok := o.active[alarmID]
		if !ok {
			return
		}
		o.terminate(alarm, "stop requested")
	})
}

// terminate tears the alarm down exactly once: timers disarmed, remote
// subscription and attempts cancelled, active backend stopped, sequence
// reset. Host bookkeeping is notified regardless of teardown details.
func (o *Orchestrator) terminate(alarm *activeAlarm, reason string) {
	if alarm.stopped {
		return
	}
	alarm.stopped = true
	o.logger.Printf("[INFO] Alarm %s: terminating (%s)", alarm.req.AlarmID, reason)

	alarm.safetyToken.Cancel()
	alarm.gapToken.Cancel()
	o.session.CancelReconnect(alarm.req.AlarmID)
	o.caster.Cancel(alarm.req.AlarmID)
	if alarm.backend == BackendLocal {
		o.local.Stop(alarm.req.AlarmID)
	}
	alarm.seq = sequence.Reset()

	delete(o.active, alarm.req.AlarmID)
	o.broadcastRinging()
	o.notifyStopped(alarm.req.AlarmID)
}

// Active reports whether the alarm is currently ringing.
func (o *Orchestrator) Active(alarmID string) bool {
	var active bool
	o.loop.Call(func() {
		_, active = o.active[alarmID]
	})
	return active
}

// SnapshotFor returns the alarm's playback snapshot.
func (o *Orchestrator) SnapshotFor(alarmID string) (Snapshot, bool) {
	var snap Snapshot
	var ok bool
	o.loop.Call(func() {
		alarm, exists := o.active[alarmID]
		if exists {
			snap = alarm.snapshot
			ok = true
		}
	})
	return snap, ok
}

// RingingIDs lists the alarms currently ringing, sorted by start time.
func (o *Orchestrator) RingingIDs() []string {
	var ids []string
	o.loop.Call(func() { ids = o.ringingIDsOnLoop() })
	return ids
}

// SubscribeRinging registers a listener for the ringing-presence signal
// and returns an unsubscribe handle. Listeners run on the loop and
// receive the ringing flag plus the active alarm ids on every change.
func (o *Orchestrator) SubscribeRinging(fn func(ringing bool, alarmIDs []string)) func() {
	var id int
	o.loop.Call(func() {
		id = o.nextSubID
		o.nextSubID++
		o.ringSubs[id] = fn
	})
	return func() {
		o.loop.Call(func() { delete(o.ringSubs, id) })
	}
}

func (o *Orchestrator) ringingIDsOnLoop() []string {
	type entry struct {
		id      string
		started time.Time
	}
	entries := make([]entry, 0, len(o.active))
	for id, alarm := range o.active {
		entries = append(entries, entry{id: id, started: alarm.snapshot.StartedAt})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].started.Before(entries[j-1].started); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	return ids
}

func (o *Orchestrator) broadcastRinging() {
	ids := o.ringingIDsOnLoop()
	ringing := len(ids) > 0
	listeners := make([]func(bool, []string), 0, len(o.ringSubs))
	for _, fn := range o.ringSubs {
		listeners = append(listeners, fn)
	}
	for _, fn := range listeners {
		fn(ringing, ids)
	}
}

// notifyStarted and notifyStopped deliver bookkeeping notifications off
// the loop; the result is logged and never acted on.

func (o *Orchestrator) notifyStarted(alarmID string) {
	if o.notifier == nil {
		return
	}
	go func() {
		if err := o.notifier.AlarmStarted(alarmID); err != nil {
			o.logger.Printf("[WARN] Alarm %s: started notification failed: %v", alarmID, err)
		}
	}()
}

func (o *Orchestrator) notifyStopped(alarmID string) {
	if o.notifier == nil {
		return
	}
	go func() {
		if err := o.notifier.AlarmStopped(alarmID); err != nil {
			o.logger.Printf("[WARN] Alarm %s: stopped notification failed: %v", alarmID, err)
		}
	}()
}

func (o *Orchestrator) record(eventType, level, alarmID, deviceID, message string, payload map[string]any) {
	if o.recorder == nil {
		return
	}
	o.recorder.PlaybackEvent(eventType, level, alarmID, deviceID, message, payload)
}

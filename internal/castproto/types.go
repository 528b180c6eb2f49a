package castproto

import (
	"fmt"
	"time"
)

// Device identifies a remote playback device on the network.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlayerState is the remote player's transport state as reported by the
// device.
type PlayerState string

const (
	PlayerStateIdle      PlayerState = "IDLE"
	PlayerStateBuffering PlayerState = "BUFFERING"
	PlayerStatePlaying   PlayerState = "PLAYING"
	PlayerStatePaused    PlayerState = "PAUSED"
)

// IdleReason qualifies an IDLE player state.
type IdleReason string

const (
	IdleReasonNone        IdleReason = ""
	IdleReasonFinished    IdleReason = "FINISHED"
	IdleReasonCancelled   IdleReason = "CANCELLED"
	IdleReasonInterrupted IdleReason = "INTERRUPTED"
	IdleReasonError       IdleReason = "ERROR"
)

// Status is one remote player status update.
type Status struct {
	State      PlayerState   `json:"state"`
	IdleReason IdleReason    `json:"idleReason,omitempty"`
	MediaURL   string        `json:"mediaUrl,omitempty"`
	Position   time.Duration `json:"position"`
	Duration   time.Duration `json:"duration"`
	Volume     float64       `json:"volume"`
	Muted      bool          `json:"muted"`
}

// Playing reports whether the remote player is actively rendering media.
func (s Status) Playing() bool {
	return s.State == PlayerStatePlaying
}

// Finished reports whether the remote player went idle because the media
// ran to its end.
func (s Status) Finished() bool {
	return s.State == PlayerStateIdle && s.IdleReason == IdleReasonFinished
}

// SessionEventKind classifies session lifecycle callbacks.
type SessionEventKind string

const (
	SessionStarted      SessionEventKind = "STARTED"
	SessionResumed      SessionEventKind = "RESUMED"
	SessionEnded        SessionEventKind = "ENDED"
	SessionSuspended    SessionEventKind = "SUSPENDED"
	SessionStartFailed  SessionEventKind = "START_FAILED"
	SessionResumeFailed SessionEventKind = "RESUME_FAILED"
)

// SessionEvent is one session lifecycle callback from the protocol layer.
// ErrorCode is only meaningful for the failure kinds.
type SessionEvent struct {
	Kind      SessionEventKind
	Device    Device
	ErrorCode int
}

// Metadata describes the media being loaded, for display on the remote
// device.
type Metadata struct {
	Title      string `json:"title"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
}

// LoadError is returned when the remote device rejects a media load.
type LoadError struct {
	Status int
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("remote device rejected media load (status %d)", e.Status)
}

// NotConnectedError is returned by operations that require an established
// session when none exists.
type NotConnectedError struct{}

func (e *NotConnectedError) Error() string {
	return "no remote session established"
}

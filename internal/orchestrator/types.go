package orchestrator

import (
	"time"

	"github.com/strefethen/alarmcast-go/internal/castproto"
)

// Request describes one alarm playback start. It is immutable for the
// alarm's lifetime and owned exclusively by the orchestrator.
type Request struct {
	AlarmID            string            `json:"alarm_id"`
	PrimaryMediaRef    string            `json:"primary_media_ref"`
	SecondaryMediaRef  string            `json:"secondary_media_ref,omitempty"`
	Title              string            `json:"title,omitempty"`
	Loop               bool              `json:"loop"`
	SequenceGapMs      int               `json:"sequence_gap_ms"`
	StopAfterSecondary bool              `json:"stop_after_secondary"`
	Volume             float64           `json:"volume"`
	CastingEnabled     bool              `json:"casting_enabled"`
	PreferredDevice    *castproto.Device `json:"preferred_device,omitempty"`
}

// HasSecondary reports whether the request configures a two-clip
// sequence.
func (r Request) HasSecondary() bool {
	return r.SecondaryMediaRef != ""
}

// Gap returns the configured sequence gap.
func (r Request) Gap() time.Duration {
	return time.Duration(r.SequenceGapMs) * time.Millisecond
}

// Backend identifies which playback path an alarm is using.
type Backend string

const (
	BackendNone   Backend = ""
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

// Snapshot mirrors the currently active backend's playback state. It is
// recomputed on every status update and never persisted.
type Snapshot struct {
	AlarmID    string        `json:"alarm_id"`
	Backend    Backend       `json:"backend"`
	Position   time.Duration `json:"position_ms"`
	Duration   time.Duration `json:"duration_ms"`
	Playing    bool          `json:"playing"`
	Paused     bool          `json:"paused"`
	Buffering  bool          `json:"buffering"`
	MediaRef   string        `json:"media_ref,omitempty"`
	Volume     float64       `json:"volume"`
	Muted      bool          `json:"muted"`
	StartedAt  time.Time     `json:"started_at"`
	FellBack   bool          `json:"fell_back"`
	SignalOnly bool          `json:"signal_only"`
}

// Notifier receives alarm bookkeeping notifications. Results are logged
// by the orchestrator but never acted on; a failing notifier cannot
// block or skip teardown.
type Notifier interface {
	AlarmStarted(alarmID string) error
	AlarmStopped(alarmID string) error
}

// Recorder receives playback lifecycle events for the history log.
// Fire-and-forget; implementations must not call back into the
// orchestrator.
type Recorder interface {
	PlaybackEvent(eventType, level, alarmID, deviceID, message string, payload map[string]any)
}

// SettingsStore is the persisted key-value state the orchestrator reads
// at start and writes on device selection or volume change (matches
// settings.Service).
type SettingsStore interface {
	LastDevice() (castproto.Device, bool, error)
	SetLastDevice(device castproto.Device) error
	Volume() (float64, bool, error)
	SetVolume(volume float64) error
}

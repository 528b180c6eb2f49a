package castsession

import "github.com/strefethen/alarmcast-go/internal/castproto"

// Phase is the session lifecycle phase of the remote playback connection.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhaseDiscovering Phase = "DISCOVERING"
	PhaseConnecting  Phase = "CONNECTING"
	PhaseConnected   Phase = "CONNECTED"
	PhaseCasting     Phase = "CASTING"
	PhaseBuffering   Phase = "BUFFERING"
	PhasePaused      Phase = "PAUSED"
	PhaseLoading     Phase = "LOADING"
	PhaseError       Phase = "ERROR"
	PhaseEnded       Phase = "ENDED"
)

// State is the single remote-session state value. The Manager is its only
// writer; listeners registered with Subscribe observe transitions and
// must never mutate it.
type State struct {
	Phase    Phase            `json:"phase"`
	Device   castproto.Device `json:"device,omitempty"`
	Message  string           `json:"message,omitempty"`
	MediaRef string           `json:"media_ref,omitempty"`
}

// Established reports whether a remote session is live, in any of the
// phases that imply one.
func (s State) Established() bool {
	switch s.Phase {
	case PhaseConnected, PhaseLoading, PhaseCasting, PhaseBuffering, PhasePaused:
		return true
	}
	return false
}

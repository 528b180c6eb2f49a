package castproto

import "context"

// Conn is the protocol surface the session manager and cast controller
// consume. Implementations wrap a casting SDK; this package only models
// the calls the orchestration core needs.
//
// Discovery and the two event streams deliver on arbitrary goroutines;
// callers are responsible for marshaling onto their own coordination
// loop before touching shared state.
type Conn interface {
	// Discover begins device discovery and returns a channel of found
	// devices. The channel is closed when ctx is cancelled; cancelling
	// ctx is the only way to stop discovery.
	Discover(ctx context.Context) (<-chan Device, error)

	// SelectDevice requests a session on the given device. The result is
	// delivered asynchronously as a SessionStarted or SessionStartFailed
	// event; the returned error only covers request submission.
	SelectDevice(ctx context.Context, device Device) error

	// OnSessionEvent registers a session lifecycle listener and returns
	// an unsubscribe handle.
	OnSessionEvent(fn func(SessionEvent)) (unsubscribe func())

	// LoadMedia loads a media URL onto the established session. A nil
	// return is the load acknowledgement; rejection surfaces as a
	// *LoadError.
	LoadMedia(ctx context.Context, url string, meta Metadata, autoplay bool) error

	// OnStatus registers a remote player status listener and returns an
	// unsubscribe handle.
	OnStatus(fn func(Status)) (unsubscribe func())

	// SetVolume sets the remote device volume, 0.0 through 1.0.
	SetVolume(ctx context.Context, level float64) error

	// Stop stops remote playback on the established session. It is a
	// no-op when nothing is playing.
	Stop(ctx context.Context) error
}

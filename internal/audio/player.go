package audio

// PlayOptions carries per-clip playback parameters. Fade parameters are
// advisory; backends that cannot ramp volume ignore them.
type PlayOptions struct {
	Loop        bool
	Volume      float64
	FadeInMs    int
	FadeInSteps int
}

// Player is the local audio backend the orchestrator drives when
// casting is unavailable. Completion handlers fire only when a clip runs
// to its natural end, never on Stop.
type Player interface {
	// Play starts the clip under the given playback id. Starting a new
	// clip under an id already playing replaces it without firing
	// completion.
	Play(id, url string, opts PlayOptions) error

	// Stop halts the clip with the given id. No-op when nothing plays
	// under it.
	Stop(id string)

	// OnCompletion registers a handler for natural clip completion and
	// returns an unsubscribe handle. Handlers may be invoked from any
	// goroutine.
	OnCompletion(fn func(id string)) (unsubscribe func())

	// PlayingIDs lists ids currently playing.
	PlayingIDs() []string
}

package sequence

// State represents the progression of a primary/secondary clip sequence.
// Transitions are monotonic: once a later state is reached there is no
// path back, except an owner-driven Reset when the alarm stops or a new
// alarm start begins.
type State string

const (
	StateNotStarted       State = "NOT_STARTED"
	StatePlayingPrimary   State = "PLAYING_PRIMARY"
	StateWaitingGap       State = "WAITING_GAP"
	StatePlayingSecondary State = "PLAYING_SECONDARY"
	StateCompleted        State = "COMPLETED"
)

// Event is a clip-completion signal reported by whichever backend is
// playing the sequence.
type Event string

const (
	// EventPrimaryFinished means the primary clip finished and a
	// secondary clip is configured.
	EventPrimaryFinished Event = "PRIMARY_FINISHED"
	// EventNoSecondaryConfigured means the primary clip finished and no
	// secondary clip is configured.
	EventNoSecondaryConfigured Event = "NO_SECONDARY_CONFIGURED"
	// EventSecondaryFinished means the secondary clip finished.
	EventSecondaryFinished Event = "SECONDARY_FINISHED"
)

// Effect tells the caller what action the transition requires.
type Effect string

const (
	// EffectScheduleSecondaryAfterGap instructs the caller to schedule the
	// secondary clip after the configured gap.
	EffectScheduleSecondaryAfterGap Effect = "SCHEDULE_SECONDARY_AFTER_GAP"
	// EffectCompleteAlarm instructs the caller to run its completion
	// policy (terminate when stop-after-secondary applies).
	EffectCompleteAlarm Effect = "COMPLETE_ALARM_IF_STOP_AFTER_SECONDARY"
	// EffectResetOnly means no action: the event was stale, duplicated,
	// or arrived after completion.
	EffectResetOnly Effect = "RESET_ONLY"
)

// Advance is the pure transition function shared by the local and cast
// playback paths. Events that do not apply to the current state are
// absorbed: the state is returned unchanged with EffectResetOnly, so a
// duplicated or out-of-order completion callback can never move the
// sequence backwards or complete an alarm twice.
func Advance(s State, e Event) (State, Effect) {
	switch s {
	case StatePlayingPrimary:
		switch e {
		case EventPrimaryFinished:
			return StateWaitingGap, EffectScheduleSecondaryAfterGap
		case EventNoSecondaryConfigured:
			return StateCompleted, EffectCompleteAlarm
		}
	case StatePlayingSecondary:
		if e == EventSecondaryFinished {
			return StateCompleted, EffectCompleteAlarm
		}
	}
	return s, EffectResetOnly
}

// Begin marks playback of the primary clip. It only applies from
// NotStarted; from any later state it is a no-op.
func Begin(s State) State {
	if s == StateNotStarted {
		return StatePlayingPrimary
	}
	return s
}

// BeginSecondary marks playback of the secondary clip once the gap timer
// fires. It only applies from WaitingGap; from any later state it is a
// no-op, so a gap timer that outlives a completed sequence has no effect.
func BeginSecondary(s State) State {
	if s == StateWaitingGap {
		return StatePlayingSecondary
	}
	return s
}

// Reset returns the sequence to NotStarted. Only the alarm owner calls
// this, on stop or on a fresh start.
func Reset() State {
	return StateNotStarted
}

// Done reports whether the sequence has reached its terminal state.
func Done(s State) bool {
	return s == StateCompleted
}

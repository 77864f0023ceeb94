package presence

// AppState is the host environment's foreground/background signal.
type AppState int

const (
	Foreground AppState = iota
	Background
)

func (s AppState) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// Lifecycle is the optional capability of reporting foreground/background
// transitions. It is resolved once when the tracker is built.
type Lifecycle interface {
	// Events returns the transition stream. A nil channel means the host
	// cannot report transitions.
	Events() <-chan AppState
}

// Unsupported is the Lifecycle for hosts without transition events.
type Unsupported struct{}

func (Unsupported) Events() <-chan AppState {
	return nil
}

// ChannelLifecycle adapts a caller-owned channel, e.g. one fed by OS signals.
type ChannelLifecycle chan AppState

func (c ChannelLifecycle) Events() <-chan AppState {
	return c
}

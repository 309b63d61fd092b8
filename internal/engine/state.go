package engine

// State is the lifecycle state of an [Engine].
type State int

const (
	// Idle is the initial state; no session has ever been requested.
	Idle State = iota

	// Acquiring means the capture device is being opened.
	Acquiring

	// Analyzing means a session is live and the sampling loop is running.
	Analyzing

	// Stopped means the last session ended by an explicit stop.
	Stopped

	// Errored means the last session ended because the device failed.
	Errored
)

// String returns the lower-case state name used in logs and the HTTP API.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Analyzing:
		return "analyzing"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Running reports whether the state owns, or is about to own, a session.
func (s State) Running() bool {
	return s == Acquiring || s == Analyzing
}

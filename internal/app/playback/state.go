// Package playback provides the playback session manager: a single-writer
// actor that owns the active audio resource and the session state.
package playback

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No track loaded yet
	StateLoading              // Waiting for the engine to produce a handle
	StatePlaying              // Track is playing
	StatePaused               // Track is paused
	StateStopped              // Stopped explicitly or finished naturally
	StateError                // Last load failed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

package playback

// EventType represents a playback event type.
type EventType int

const (
	EventLoadStarted     EventType = iota // loadAndPlay accepted, engine create in flight
	EventTrackStarted                     // New handle became current and started playing
	EventLoadFailed                       // Resource could not be loaded
	EventStateChanged                     // Play/pause toggled
	EventPositionChanged                  // Status callback moved position or duration
	EventTrackFinished                    // Track reached its end naturally
	EventTrackRepeated                    // Track reached its end and restarted (repeat mode)
	EventStopped                          // Explicit stop
	EventVolumeChanged                    // Volume changed
	EventRepeatChanged                    // Repeat mode toggled
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventLoadStarted:
		return "load_started"
	case EventTrackStarted:
		return "track_started"
	case EventLoadFailed:
		return "load_failed"
	case EventStateChanged:
		return "state_changed"
	case EventPositionChanged:
		return "position_changed"
	case EventTrackFinished:
		return "track_finished"
	case EventTrackRepeated:
		return "track_repeated"
	case EventStopped:
		return "stopped"
	case EventVolumeChanged:
		return "volume_changed"
	case EventRepeatChanged:
		return "repeat_changed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type     EventType
	Snapshot Snapshot // Session state right after the change
	Err      error    // Set for EventLoadFailed
}

package playback

import (
	"time"

	"github.com/samber/lo"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// session is the mutable playback record. Only the manager loop touches it.
type session struct {
	state    State
	current  *track.Track
	pending  *track.Track
	handle   Handle
	position time.Duration
	duration time.Duration
	volume   float64
	repeat   bool

	lastErr       error
	failedTrackID string
}

func (s *session) beginLoad(t *track.Track) {
	s.state = StateLoading
	s.current = nil
	s.pending = t
	s.handle = ""
	s.position = 0
	s.duration = t.Duration
	s.lastErr = nil
	s.failedTrackID = ""
}

func (s *session) activate(h Handle) {
	s.current = s.pending
	s.pending = nil
	s.handle = h
	s.state = StatePlaying
}

func (s *session) fail(t *track.Track, err error) {
	s.state = StateError
	s.current = nil
	s.pending = nil
	s.handle = ""
	s.position = 0
	s.duration = 0
	s.lastErr = err
	if t != nil {
		s.failedTrackID = t.ID
	}
}

func (s *session) stop() {
	s.state = StateStopped
	s.current = nil
	s.pending = nil
	s.handle = ""
	s.position = 0
	s.duration = 0
}

// target returns the track a skip command should be relative to.
func (s *session) target() *track.Track {
	if s.pending != nil {
		return s.pending
	}
	return s.current
}

// clampPosition keeps pos inside [0, duration].
func (s *session) clampPosition(pos time.Duration) time.Duration {
	return lo.Clamp(pos, 0, s.duration)
}

func (s *session) snapshot(version uint64) Snapshot {
	return Snapshot{
		Version:       version,
		State:         s.state,
		Track:         s.current,
		Pending:       s.pending,
		Handle:        s.handle,
		Position:      s.position,
		Duration:      s.duration,
		Volume:        s.volume,
		Repeat:        s.repeat,
		LastError:     s.lastErr,
		FailedTrackID: s.failedTrackID,
	}
}

// Snapshot is an immutable copy of the session taken after a change.
type Snapshot struct {
	Version       uint64        // Increments on every published change
	State         State         // Playback state
	Track         *track.Track  // Current track (nil if none)
	Pending       *track.Track  // Track being loaded (nil if none)
	Handle        Handle        // Current engine handle (empty if none)
	Position      time.Duration // Position, 0 <= Position <= Duration
	Duration      time.Duration // Duration reported by the engine or declared by the catalog
	Volume        float64       // Volume in [0, 1]
	Repeat        bool          // Repeat mode
	LastError     error         // Last load failure
	FailedTrackID string        // Track that failed to load
}

// HasTrack reports whether a track is current.
func (s Snapshot) HasTrack() bool {
	return s.Track != nil
}

// HasHandle reports whether an engine resource is live.
func (s Snapshot) HasHandle() bool {
	return s.Handle != ""
}

// Progress returns Position/Duration in [0, 1].
func (s Snapshot) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return lo.Clamp(float64(s.Position)/float64(s.Duration), 0, 1)
}

// CurrentTime returns the position as "M:SS".
func (s Snapshot) CurrentTime() string {
	return track.FormatDuration(s.Position)
}

// TotalTime returns the duration as "M:SS".
func (s Snapshot) TotalTime() string {
	return track.FormatDuration(s.Duration)
}

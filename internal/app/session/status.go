package session

import (
	"time"

	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// Status represents the current session status with all information.
type Status struct {
	Version           uint64
	State             playback.State
	Track             *track.Track
	Pending           *track.Track
	Position          time.Duration
	Duration          time.Duration
	CurrentTime       string // "M:SS"
	TotalTime         string // "M:SS"
	Progress          float64
	Volume            float64
	Repeat            bool
	OverlayVisible    bool
	FullPlayerVisible bool
	LastError         string
	FailedTrackID     string
}

// Status returns the current session status.
func (m *Manager) Status() *Status {
	return m.statusFrom(m.playback.Snapshot())
}

// statusFrom combines a playback snapshot with the current visibility.
// The overlay is derived from the snapshot so both halves agree.
func (m *Manager) statusFrom(snap playback.Snapshot) *Status {
	vis := m.visibility.State()

	s := &Status{
		Version:           snap.Version,
		State:             snap.State,
		Track:             snap.Track,
		Pending:           snap.Pending,
		Position:          snap.Position,
		Duration:          snap.Duration,
		CurrentTime:       snap.CurrentTime(),
		TotalTime:         snap.TotalTime(),
		Progress:          snap.Progress(),
		Volume:            snap.Volume,
		Repeat:            snap.Repeat,
		FullPlayerVisible: vis.FullPlayerVisible,
		OverlayVisible:    snap.HasTrack() && !vis.FullPlayerVisible,
		FailedTrackID:     snap.FailedTrackID,
	}
	if snap.LastError != nil {
		s.LastError = snap.LastError.Error()
	}
	return s
}

// Map converts the status into plain values for transport.
func (s *Status) Map() map[string]any {
	return map[string]any{
		"version":             int64(s.Version),
		"state":               s.State.String(),
		"track":               TrackMap(s.Track),
		"pending":             TrackMap(s.Pending),
		"position_ms":         s.Position.Milliseconds(),
		"duration_ms":         s.Duration.Milliseconds(),
		"current_time":        s.CurrentTime,
		"total_time":          s.TotalTime,
		"progress":            s.Progress,
		"volume":              s.Volume,
		"repeat":              s.Repeat,
		"overlay_visible":     s.OverlayVisible,
		"full_player_visible": s.FullPlayerVisible,
		"last_error":          s.LastError,
		"failed_track_id":     s.FailedTrackID,
	}
}

// TrackMap converts t into plain values for transport. nil maps to nil.
func TrackMap(t *track.Track) any {
	if t == nil {
		return nil
	}
	return map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"artist":      t.Artist,
		"album":       t.Album,
		"duration_ms": t.Duration.Milliseconds(),
		"duration":    t.DisplayDuration(),
		"audio":       string(t.Audio),
		"cover":       string(t.Cover),
		"genre":       t.Genre,
		"year":        int64(t.Year),
	}
}

func (m *Manager) buildNotification(event string, status *Status, message string) *notification.Notification {
	return &notification.Notification{
		Event:   event,
		Message: message,
		Data:    status.Map(),
		Time:    time.Now(),
	}
}

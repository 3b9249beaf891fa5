// Package playlist provides the Playlist domain entity.
package playlist

import (
	"time"

	"github.com/samber/lo"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// Playlist is an ordered, read-only list of tracks.
// Order is the declaration order; there is no shuffle or repeat logic here.
type Playlist struct {
	Name   string        // Playlist name
	Tracks []track.Track // Tracks in order
}

// New creates a playlist over the given tracks.
func New(name string, tracks []track.Track) *Playlist {
	return &Playlist{
		Name:   name,
		Tracks: tracks,
	}
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	return lo.Map(p.Tracks, func(t track.Track, _ int) string {
		return t.ID
	})
}

// TotalDuration returns the sum of the declared durations.
func (p *Playlist) TotalDuration() time.Duration {
	return lo.SumBy(p.Tracks, func(t track.Track) time.Duration {
		return t.Duration
	})
}

// Next returns the track after current.
// With no current track (or one not in the playlist) the first track is returned.
// Returns false at the end of the playlist.
func (p *Playlist) Next(current *track.Track) (*track.Track, bool) {
	if len(p.Tracks) == 0 {
		return nil, false
	}
	i := p.indexOf(current)
	if i < 0 {
		return &p.Tracks[0], true
	}
	if i+1 >= len(p.Tracks) {
		return nil, false
	}
	return &p.Tracks[i+1], true
}

// Previous returns the track before current.
// Returns false at the start of the playlist or when current is unknown.
func (p *Playlist) Previous(current *track.Track) (*track.Track, bool) {
	i := p.indexOf(current)
	if i <= 0 {
		return nil, false
	}
	return &p.Tracks[i-1], true
}

func (p *Playlist) indexOf(t *track.Track) int {
	if t == nil {
		return -1
	}
	for i := range p.Tracks {
		if p.Tracks[i].ID == t.ID {
			return i
		}
	}
	return -1
}

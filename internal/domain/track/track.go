// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Resource is an opaque reference to an asset (audio file, cover artwork).
// The engine and the catalog agree on its meaning; the session never inspects it.
type Resource string

// Track represents a catalog entry.
// Tracks are created once by the catalog and never mutated afterwards.
type Track struct {
	ID       string        // Unique catalog ID
	Title    string        // Track title
	Artist   string        // Artist name
	Album    string        // Album name (optional)
	Duration time.Duration // Declared duration (zero if unknown)
	Audio    Resource      // Audio resource reference
	Cover    Resource      // Cover artwork reference
	Genre    string        // Genre (optional)
	Year     int           // Release year (optional, zero if unknown)
}

// HasDuration reports whether the catalog declared a duration.
func (t *Track) HasDuration() bool {
	return t.Duration > 0
}

// DisplayDuration returns the declared duration as "M:SS".
func (t *Track) DisplayDuration() string {
	return FormatDuration(t.Duration)
}

// IsGenre checks the genre case-insensitively.
func (t *Track) IsGenre(genre string) bool {
	return t.Genre != "" && strings.EqualFold(t.Genre, genre)
}

// Same reports whether both tracks refer to the same catalog entry.
// A nil track is never the same as anything.
func Same(a, b *Track) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID == b.ID
}

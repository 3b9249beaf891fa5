package playback

import (
	"context"
	"time"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// Handle is an opaque engine reference to a loaded audio resource.
// The empty handle means "no resource".
type Handle string

// Status is a single engine status report.
type Status struct {
	Position time.Duration // Current position
	Duration time.Duration // Total duration (zero if the engine does not know yet)
	Finished bool          // Playback reached the end
}

// StatusFunc receives engine status reports. Engines call it from their own
// goroutines, repeatedly, until the handle is released.
type StatusFunc func(Status)

// Engine is the platform audio primitive the manager drives.
// Release must be idempotent.
type Engine interface {
	Create(ctx context.Context, ref track.Resource) (Handle, error)
	Play(ctx context.Context, h Handle) error
	Pause(ctx context.Context, h Handle) error
	Stop(ctx context.Context, h Handle) error
	SetPosition(ctx context.Context, h Handle, pos time.Duration) error
	SetVolume(ctx context.Context, h Handle, volume float64) error
	Release(ctx context.Context, h Handle) error
	RegisterStatusCallback(h Handle, fn StatusFunc) error
}

// Sequencer supplies the ordering used by skip next/previous.
type Sequencer interface {
	Next(current *track.Track) (*track.Track, bool)
	Previous(current *track.Track) (*track.Track, bool)
}

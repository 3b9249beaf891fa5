// Package visibility decides when the mini-player overlay is shown.
//
// The overlay is visible iff a track is current and the full player screen
// does not have navigation focus. The full player flag follows focus events,
// not screen lifetime: a screen left mounted behind a back gesture still
// reports focus loss.
package visibility

import (
	"context"
	"sync"

	"github.com/osa030/nowplaying/internal/app/navigation"
	"github.com/osa030/nowplaying/internal/app/playback"
	zlog "github.com/rs/zerolog/log"
)

// State is the coordinator's view at one instant.
type State struct {
	HasTrack          bool `json:"has_track"`
	FullPlayerVisible bool `json:"full_player_visible"`
	OverlayVisible    bool `json:"overlay_visible"`
}

// ChangeFunc is called after the overlay visibility changes.
type ChangeFunc func(State)

// Coordinator tracks the full player focus and the current track.
type Coordinator struct {
	mu                sync.RWMutex
	gateway           navigation.Gateway
	fullPlayerScreen  string
	fullPlayerVisible bool
	hasTrack          bool
	version           uint64 // newest snapshot observed
	onChange          ChangeFunc
	unsubscribe       func()
}

// NewCoordinator creates a coordinator bound to gateway's focus events.
func NewCoordinator(gateway navigation.Gateway, fullPlayerScreen string) *Coordinator {
	c := &Coordinator{
		gateway:          gateway,
		fullPlayerScreen: fullPlayerScreen,
	}
	c.unsubscribe = gateway.SubscribeFocus(c.HandleFocus)
	return c
}

// OnChange sets the overlay change listener.
func (c *Coordinator) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// SetFullPlayerVisible records whether the full player has focus.
func (c *Coordinator) SetFullPlayerVisible(visible bool) {
	c.update(func() {
		c.fullPlayerVisible = visible
	})
}

// HandleFocus applies a focus event. Events for other screens are ignored.
func (c *Coordinator) HandleFocus(ev navigation.FocusEvent) {
	if ev.Screen != c.fullPlayerScreen {
		return
	}
	zlog.Debug().Msgf("visibility: full player focused=%v", ev.Focused)
	c.SetFullPlayerVisible(ev.Focused)
}

// Observe updates the coordinator from a playback snapshot. Snapshots older
// than one already observed are ignored.
func (c *Coordinator) Observe(s playback.Snapshot) {
	c.update(func() {
		if s.Version < c.version {
			return
		}
		c.version = s.Version
		c.hasTrack = s.HasTrack()
	})
}

// OverlayVisible reports whether the mini-player should be rendered.
func (c *Coordinator) OverlayVisible() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasTrack && !c.fullPlayerVisible
}

// State returns the current view.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

// OpenFullPlayer navigates to the full player screen. The visibility flag
// changes when the screen reports focus.
func (c *Coordinator) OpenFullPlayer(ctx context.Context, params map[string]any) error {
	c.mu.RLock()
	hasTrack := c.hasTrack
	c.mu.RUnlock()

	if !hasTrack {
		zlog.Info().Msgf("visibility: open full player ignored: %v", playback.ErrNoActiveSession)
		return nil
	}
	return c.gateway.Navigate(ctx, c.fullPlayerScreen, params)
}

// CloseFullPlayer leaves the full player screen.
func (c *Coordinator) CloseFullPlayer(ctx context.Context) error {
	c.mu.RLock()
	visible := c.fullPlayerVisible
	c.mu.RUnlock()

	if !visible {
		zlog.Info().Msg("visibility: close full player ignored: not focused")
		return nil
	}
	return c.gateway.GoBack(ctx)
}

// Close stops listening to focus events.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

func (c *Coordinator) update(fn func()) {
	c.mu.Lock()
	before := c.stateLocked()
	fn()
	after := c.stateLocked()
	onChange := c.onChange
	c.mu.Unlock()

	if before != after && onChange != nil {
		onChange(after)
	}
}

func (c *Coordinator) stateLocked() State {
	return State{
		HasTrack:          c.hasTrack,
		FullPlayerVisible: c.fullPlayerVisible,
		OverlayVisible:    c.hasTrack && !c.fullPlayerVisible,
	}
}

// Package session provides the session manager: the composition root that
// ties the playback manager, the visibility coordinator, navigation and
// notifications together.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/nowplaying/internal/app/navigation"
	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/app/visibility"
	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
	"github.com/osa030/nowplaying/internal/infra/config"
	zlog "github.com/rs/zerolog/log"
)

var (
	ErrTrackNotFound     = errors.New("track not found")
	ErrSessionNotRunning = errors.New("session is not running")
)

// Catalog is the read-only track source.
type Catalog interface {
	Tracks() []track.Track
	ByID(id string) (*track.Track, bool)
	ByGenre(genre string) []track.Track
}

// focusReporter is implemented by gateways that accept focus reports from
// the UI, such as navigation.Router.
type focusReporter interface {
	Report(ev navigation.FocusEvent)
}

// Manager manages the playback session.
type Manager struct {
	mu      sync.RWMutex
	running bool

	// Configuration
	config *config.Config

	// Components
	catalog      Catalog
	gateway      navigation.Gateway
	playback     *playback.Manager
	visibility   *visibility.Coordinator
	notification *notification.Manager

	// Channels
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new session manager.
func NewManager(
	cfg *config.Config,
	catalog Catalog,
	engine playback.Engine,
	gateway navigation.Gateway,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	var sequencer playback.Sequencer
	if cfg.Playback.OrderedSkip {
		sequencer = playlist.New("catalog", catalog.Tracks())
	}

	m := &Manager{
		config:  cfg,
		catalog: catalog,
		gateway: gateway,
		playback: playback.NewManager(engine, sequencer, playback.Config{
			InitialVolume:  cfg.Playback.InitialVolume,
			CommandTimeout: cfg.CommandTimeout(),
			EventBuffer:    cfg.Playback.EventBuffer,
			Repeat:         cfg.Playback.Repeat,
		}),
		visibility:   visibility.NewCoordinator(gateway, cfg.Navigation.FullPlayerScreen),
		notification: notification.NewManager(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.visibility.OnChange(m.onVisibilityChanged)

	return m
}

// Start starts consuming playback events.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("session already started")
	}
	if m.ctx.Err() != nil {
		return ErrSessionNotRunning
	}
	m.running = true

	go m.playbackLoop()
	zlog.Info().Msgf("session started: tracks=%d ordered_skip=%v", len(m.catalog.Tracks()), m.config.Playback.OrderedSkip)
	return nil
}

// Done returns a channel that is closed when the session has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Select plays trackID, or opens the full player if it is already current.
func (m *Manager) Select(ctx context.Context, trackID string) error {
	t, err := m.lookup(trackID)
	if err != nil {
		return err
	}

	snap := m.playback.Snapshot()
	if track.Same(snap.Track, t) {
		zlog.Info().Msgf("select: track already current, opening player: track_id=%s", trackID)
		return m.OpenFullPlayer(ctx)
	}
	return m.playback.LoadAndPlay(ctx, *t)
}

// Play loads and plays trackID, even if it is already current.
func (m *Manager) Play(ctx context.Context, trackID string) error {
	t, err := m.lookup(trackID)
	if err != nil {
		return err
	}
	return m.playback.LoadAndPlay(ctx, *t)
}

// TogglePlayPause flips between playing and paused.
func (m *Manager) TogglePlayPause(ctx context.Context) error {
	return m.playback.TogglePlayPause(ctx)
}

// Pause pauses playback if it is playing.
func (m *Manager) Pause(ctx context.Context) error {
	return m.playback.Pause(ctx)
}

// Resume continues a paused or finished track.
func (m *Manager) Resume(ctx context.Context) error {
	return m.playback.Resume(ctx)
}

// Seek moves to pos.
func (m *Manager) Seek(ctx context.Context, pos time.Duration) error {
	return m.playback.Seek(ctx, pos)
}

// SeekFraction moves to f of the duration.
func (m *Manager) SeekFraction(ctx context.Context, f float64) error {
	return m.playback.SeekFraction(ctx, f)
}

// Stop stops playback and clears the current track.
func (m *Manager) Stop(ctx context.Context) error {
	return m.playback.Stop(ctx)
}

// SetVolume sets the volume.
func (m *Manager) SetVolume(ctx context.Context, v float64) error {
	return m.playback.SetVolume(ctx, v)
}

// SetRepeat sets repeat mode.
func (m *Manager) SetRepeat(ctx context.Context, repeat bool) error {
	return m.playback.SetRepeat(ctx, repeat)
}

// SkipNext skips to the next track.
func (m *Manager) SkipNext(ctx context.Context) error {
	return m.playback.SkipToNext(ctx)
}

// SkipPrevious skips to the previous track.
func (m *Manager) SkipPrevious(ctx context.Context) error {
	return m.playback.SkipToPrevious(ctx)
}

// OpenFullPlayer navigates to the full player screen.
func (m *Manager) OpenFullPlayer(ctx context.Context) error {
	snap := m.playback.Snapshot()
	m.visibility.Observe(snap)

	var params map[string]any
	if snap.Track != nil {
		params = map[string]any{"track_id": snap.Track.ID}
	}
	return m.visibility.OpenFullPlayer(ctx, params)
}

// CloseFullPlayer leaves the full player screen.
func (m *Manager) CloseFullPlayer(ctx context.Context) error {
	return m.visibility.CloseFullPlayer(ctx)
}

// ReportFocus applies a focus change observed by the UI.
func (m *Manager) ReportFocus(ev navigation.FocusEvent) {
	if r, ok := m.gateway.(focusReporter); ok {
		r.Report(ev)
		return
	}
	m.visibility.HandleFocus(ev)
}

// Tracks returns the catalog, optionally filtered by genre.
func (m *Manager) Tracks(genre string) []track.Track {
	if genre == "" {
		return m.catalog.Tracks()
	}
	return m.catalog.ByGenre(genre)
}

// Subscribe registers stream and sends it the current status first.
func (m *Manager) Subscribe(stream notification.Stream) (string, error) {
	id := m.notification.Subscribe(stream)

	n := m.buildNotification("status", m.Status(), "")
	n.SequenceNo = m.notification.CurrentSequenceNo()
	if err := m.notification.Send(id, n); err != nil {
		m.notification.Unsubscribe(id)
		return "", errors.Wrap(err, "failed to send initial status")
	}
	return id, nil
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(id string) {
	m.notification.Unsubscribe(id)
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Close closes the session manager and releases the audio resource.
func (m *Manager) Close() {
	m.mu.Lock()
	running := m.running
	m.running = false
	m.mu.Unlock()

	m.cancel()
	m.playback.Close()
	m.visibility.Close()
	m.notification.Close()

	if running {
		<-m.done
	} else {
		select {
		case <-m.done:
		default:
			close(m.done)
		}
	}
}

func (m *Manager) lookup(trackID string) (*track.Track, error) {
	t, ok := m.catalog.ByID(trackID)
	if !ok {
		return nil, errors.Wrapf(ErrTrackNotFound, "id=%s", trackID)
	}
	return t, nil
}

// playbackLoop handles playback events.
func (m *Manager) playbackLoop() {
	defer close(m.done)

	events := m.playback.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handlePlaybackEvent(event)
		}
	}
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	if event.Type != playback.EventPositionChanged {
		zlog.Info().Msgf("playback event: type=%s state=%s", event.Type, event.Snapshot.State)
	}

	// The latest snapshot is never older than the event's, so the overlay
	// catches up even while events are still queued behind a slow subscriber.
	m.visibility.Observe(m.playback.Snapshot())

	var message string
	switch event.Type {
	case playback.EventLoadFailed:
		message = m.loadFailureMessage(event)
	case playback.EventTrackStarted:
		message = fmt.Sprintf("now playing: %s - %s", event.Snapshot.Track.Title, event.Snapshot.Track.Artist)
	}

	status := m.statusFrom(event.Snapshot)
	m.notification.Broadcast(m.buildNotification(event.Type.String(), status, message))
}

func (m *Manager) loadFailureMessage(event playback.Event) string {
	title := event.Snapshot.FailedTrackID
	if t, ok := m.catalog.ByID(event.Snapshot.FailedTrackID); ok {
		title = t.Title
	}
	zlog.Warn().Msgf("broadcast LOAD_FAILED: track_id=%s err=%v", event.Snapshot.FailedTrackID, event.Err)
	return fmt.Sprintf("could not play %s", title)
}

func (m *Manager) onVisibilityChanged(s visibility.State) {
	zlog.Debug().Msgf("visibility changed: overlay=%v full_player=%v", s.OverlayVisible, s.FullPlayerVisible)
	m.notification.Broadcast(m.buildNotification("visibility_changed", m.Status(), ""))
}

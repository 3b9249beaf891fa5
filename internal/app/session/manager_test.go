package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/navigation"
	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
	"github.com/osa030/nowplaying/internal/infra/catalog"
	"github.com/osa030/nowplaying/internal/infra/config"
	"github.com/osa030/nowplaying/internal/infra/engine"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recordingStream struct {
	mu  sync.Mutex
	got []*notification.Notification
}

func (s *recordingStream) Send(n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *recordingStream) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.got))
	for _, n := range s.got {
		out = append(out, n.Event)
	}
	return out
}

func (s *recordingStream) find(event string) *notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.got {
		if n.Event == event {
			return n
		}
	}
	return nil
}

func testConfig(orderedSkip bool) *config.Config {
	return &config.Config{
		Playback: config.PlaybackConfig{
			InitialVolume:    0.5,
			CommandTimeoutMs: 1000,
			EventBuffer:      256,
			OrderedSkip:      orderedSkip,
		},
		Navigation: config.NavigationConfig{
			FullPlayerScreen: "player",
			DefaultScreen:    "library",
		},
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]track.Track{
		{ID: "a", Title: "Alpha", Artist: "X", Duration: time.Minute, Audio: "a.mp3#1:00", Genre: "Jazz"},
		{ID: "b", Title: "Bravo", Artist: "Y", Duration: 2 * time.Minute, Audio: "b.mp3#2:00", Genre: "Rock"},
		{ID: "broken", Title: "Broken", Artist: "Z", Audio: "broken.mp3#oops"},
	})
	require.NoError(t, err)
	return c
}

func newTestSession(t *testing.T, orderedSkip bool) (*Manager, *navigation.Router) {
	t.Helper()
	eng := engine.NewSimulated(engine.SimulatedSettings{DefaultDurationMs: 60000, Speed: 1}, 10*time.Millisecond)
	router := navigation.NewRouter("library")

	m := NewManager(testConfig(orderedSkip), testCatalog(t), eng, router)
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		m.Close()
		_ = eng.Close()
	})
	return m, router
}

func waitTrack(t *testing.T, m *Manager, id string) *Status {
	t.Helper()
	require.Eventually(t, func() bool {
		s := m.Status()
		return s.State == playback.StatePlaying && s.Track != nil && s.Track.ID == id
	}, waitFor, tick)
	return m.Status()
}

func TestManager_SelectPlaysTrack(t *testing.T) {
	m, _ := newTestSession(t, false)

	require.NoError(t, m.Select(context.Background(), "a"))
	s := waitTrack(t, m, "a")

	assert.True(t, s.OverlayVisible)
	assert.False(t, s.FullPlayerVisible)
	assert.Equal(t, 0.5, s.Volume)
	assert.Equal(t, "1:00", s.TotalTime)
}

func TestManager_SelectCurrentTrackOpensPlayer(t *testing.T) {
	m, router := newTestSession(t, false)
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "a"))
	before := waitTrack(t, m, "a")

	require.NoError(t, m.Select(ctx, "a"))

	assert.Equal(t, "player", router.Current().Screen)
	assert.Equal(t, "a", router.Current().Params["track_id"])

	s := m.Status()
	assert.True(t, s.FullPlayerVisible)
	assert.False(t, s.OverlayVisible)
	assert.Equal(t, "a", s.Track.ID)
	assert.Equal(t, playback.StatePlaying, s.State)
	assert.GreaterOrEqual(t, s.Version, before.Version)

	require.NoError(t, m.CloseFullPlayer(ctx))
	assert.Equal(t, "library", router.Current().Screen)
	assert.True(t, m.Status().OverlayVisible)
}

func TestManager_SelectUnknownTrack(t *testing.T) {
	m, _ := newTestSession(t, false)

	err := m.Select(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrTrackNotFound))

	err = m.Play(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrTrackNotFound))
}

func TestManager_BackGestureShowsOverlay(t *testing.T) {
	m, router := newTestSession(t, false)
	ctx := context.Background()

	require.NoError(t, m.Select(ctx, "b"))
	waitTrack(t, m, "b")
	require.NoError(t, m.OpenFullPlayer(ctx))
	require.False(t, m.Status().OverlayVisible)

	m.ReportFocus(navigation.FocusEvent{Screen: "player", Focused: false})

	assert.Equal(t, "player", router.Current().Screen)
	assert.True(t, m.Status().OverlayVisible)
}

func TestManager_StopHidesOverlay(t *testing.T) {
	m, _ := newTestSession(t, false)
	ctx := context.Background()

	require.NoError(t, m.Play(ctx, "a"))
	waitTrack(t, m, "a")

	require.NoError(t, m.Stop(ctx))

	s := m.Status()
	assert.Equal(t, playback.StateStopped, s.State)
	assert.Nil(t, s.Track)
	assert.Equal(t, time.Duration(0), s.Position)
	assert.False(t, s.OverlayVisible)
}

func TestManager_LoadFailureIsNotified(t *testing.T) {
	m, _ := newTestSession(t, false)
	stream := &recordingStream{}

	id, err := m.Subscribe(stream)
	require.NoError(t, err)
	defer m.Unsubscribe(id)

	require.NoError(t, m.Play(context.Background(), "broken"))

	require.Eventually(t, func() bool {
		return stream.find("load_failed") != nil
	}, waitFor, tick)

	n := stream.find("load_failed")
	assert.Contains(t, n.Message, "Broken")
	assert.Equal(t, "error", n.Data["state"])
	assert.Equal(t, "broken", n.Data["failed_track_id"])
	assert.True(t, strings.Contains(n.Data["last_error"].(string), "invalid duration"))

	s := m.Status()
	assert.Equal(t, playback.StateError, s.State)
	assert.Nil(t, s.Track)
	assert.False(t, s.OverlayVisible)

	// The session recovers with the next track.
	require.NoError(t, m.Play(context.Background(), "a"))
	waitTrack(t, m, "a")
}

func TestManager_SubscribeSendsInitialStatus(t *testing.T) {
	m, _ := newTestSession(t, false)
	stream := &recordingStream{}

	_, err := m.Subscribe(stream)
	require.NoError(t, err)

	events := stream.events()
	require.NotEmpty(t, events)
	assert.Equal(t, "status", events[0])
	assert.Equal(t, "idle", stream.find("status").Data["state"])

	require.NoError(t, m.Play(context.Background(), "a"))
	require.Eventually(t, func() bool {
		return stream.find("track_started") != nil
	}, waitFor, tick)

	started := stream.find("track_started")
	assert.Contains(t, started.Message, "Alpha")
	assert.Greater(t, started.SequenceNo, uint64(0))
}

// slowStream records notifications after a fixed delay per send.
type slowStream struct {
	recordingStream
	delay time.Duration
}

func (s *slowStream) Send(n *notification.Notification) error {
	time.Sleep(s.delay)
	return s.recordingStream.Send(n)
}

func TestManager_SlowSubscriberStillSeesStop(t *testing.T) {
	cfg := testConfig(false)
	cfg.Playback.EventBuffer = 4

	eng := engine.NewSimulated(engine.SimulatedSettings{DefaultDurationMs: 60000, Speed: 1}, 2*time.Millisecond)
	m := NewManager(cfg, testCatalog(t), eng, navigation.NewRouter("library"))
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		m.Close()
		_ = eng.Close()
	})

	stream := &slowStream{delay: 20 * time.Millisecond}
	id, err := m.Subscribe(stream)
	require.NoError(t, err)
	defer m.Unsubscribe(id)

	ctx := context.Background()
	require.NoError(t, m.Play(ctx, "b"))
	waitTrack(t, m, "b")
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, m.Stop(ctx))

	require.Eventually(t, func() bool {
		return stream.find("stopped") != nil
	}, 5*time.Second, tick)
	require.Eventually(t, func() bool {
		return !m.visibility.OverlayVisible()
	}, waitFor, tick)

	assert.False(t, m.visibility.State().HasTrack)
	assert.False(t, m.Status().OverlayVisible)
}

func TestManager_PauseResume(t *testing.T) {
	m, _ := newTestSession(t, false)
	ctx := context.Background()

	require.NoError(t, m.Play(ctx, "a"))
	waitTrack(t, m, "a")

	require.NoError(t, m.Pause(ctx))
	require.NoError(t, m.Pause(ctx))
	assert.Equal(t, playback.StatePaused, m.Status().State)
	assert.True(t, m.Status().OverlayVisible)

	require.NoError(t, m.Resume(ctx))
	require.NoError(t, m.Resume(ctx))
	assert.Equal(t, playback.StatePlaying, m.Status().State)
}

func TestManager_CloseAfterFailedStart(t *testing.T) {
	eng := engine.NewSimulated(engine.SimulatedSettings{DefaultDurationMs: 60000, Speed: 1}, 10*time.Millisecond)
	defer eng.Close()

	m := NewManager(testConfig(false), testCatalog(t), eng, navigation.NewRouter("library"))
	require.NoError(t, m.Start())
	require.Error(t, m.Start())

	m.Close()
	m.Close()

	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}
	assert.True(t, errors.Is(m.Start(), ErrSessionNotRunning))
}

func TestManager_OrderedSkip(t *testing.T) {
	m, _ := newTestSession(t, true)
	ctx := context.Background()

	require.NoError(t, m.Play(ctx, "a"))
	waitTrack(t, m, "a")

	require.NoError(t, m.SkipNext(ctx))
	waitTrack(t, m, "b")

	require.NoError(t, m.SkipPrevious(ctx))
	waitTrack(t, m, "a")
}

func TestManager_Tracks(t *testing.T) {
	m, _ := newTestSession(t, false)

	assert.Len(t, m.Tracks(""), 3)
	jazz := m.Tracks("jazz")
	require.Len(t, jazz, 1)
	assert.Equal(t, "a", jazz[0].ID)
}

func TestManager_CloseReleases(t *testing.T) {
	eng := engine.NewSimulated(engine.SimulatedSettings{DefaultDurationMs: 60000, Speed: 1}, 10*time.Millisecond)
	defer eng.Close()

	m := NewManager(testConfig(false), testCatalog(t), eng, navigation.NewRouter("library"))
	require.NoError(t, m.Start())
	require.NoError(t, m.Play(context.Background(), "a"))
	waitTrack(t, m, "a")
	require.Equal(t, 1, eng.Voices())

	m.Close()

	select {
	case <-m.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}

	assert.Equal(t, 0, eng.Voices())

	err := m.TogglePlayPause(context.Background())
	assert.True(t, errors.Is(err, playback.ErrClosed))
}

func TestStatus_Map(t *testing.T) {
	s := &Status{
		State:       playback.StatePaused,
		Track:       &track.Track{ID: "a", Title: "Alpha", Duration: 245 * time.Second, Year: 2020},
		Position:    61 * time.Second,
		Duration:    245 * time.Second,
		CurrentTime: "1:01",
		TotalTime:   "4:05",
	}

	m := s.Map()
	assert.Equal(t, "paused", m["state"])
	assert.Equal(t, int64(61000), m["position_ms"])
	assert.Equal(t, "4:05", m["total_time"])
	assert.Nil(t, m["pending"])

	tm := m["track"].(map[string]any)
	assert.Equal(t, "Alpha", tm["title"])
	assert.Equal(t, "4:05", tm["duration"])
	assert.Equal(t, int64(2020), tm["year"])
}

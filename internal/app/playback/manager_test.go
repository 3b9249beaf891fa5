package playback

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testTrack(id string, d time.Duration) track.Track {
	return track.Track{
		ID:       id,
		Title:    "Title " + id,
		Artist:   "Artist",
		Duration: d,
		Audio:    track.Resource(id + ".mp3"),
	}
}

func newTestManager(t *testing.T, eng Engine, seq Sequencer) *Manager {
	t.Helper()
	m := NewManager(eng, seq, Config{
		InitialVolume:  0.8,
		CommandTimeout: time.Second,
		EventBuffer:    256,
	})
	t.Cleanup(m.Close)
	return m
}

func waitPlaying(t *testing.T, m *Manager, id string) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.State == StatePlaying && s.Track != nil && s.Track.ID == id
	}, waitFor, tick)
	return m.Snapshot()
}

func loadPlaying(t *testing.T, m *Manager, tr track.Track) Snapshot {
	t.Helper()
	require.NoError(t, m.LoadAndPlay(context.Background(), tr))
	return waitPlaying(t, m, tr.ID)
}

func TestManager_InitialState(t *testing.T) {
	m := newTestManager(t, newFakeEngine(), nil)

	s := m.Snapshot()
	assert.Equal(t, StateIdle, s.State)
	assert.False(t, s.HasTrack())
	assert.False(t, s.HasHandle())
	assert.Equal(t, 0.8, s.Volume)
	assert.Equal(t, time.Duration(0), s.Position)
}

func TestManager_LoadAndPlay(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)

	s := loadPlaying(t, m, testTrack("a", 3*time.Minute))

	assert.True(t, s.HasHandle())
	assert.Nil(t, s.Pending)
	assert.Equal(t, 3*time.Minute, s.Duration)
	assert.Equal(t, "3:00", s.TotalTime())

	h := s.Handle
	assert.Equal(t, []string{
		"create:a.mp3",
		"register:" + string(h),
		"set_volume:" + string(h),
		"play:" + string(h),
	}, eng.callLog())
	assert.Equal(t, 0.8, eng.volume(h))
}

func TestManager_LoadPublishesEvents(t *testing.T) {
	m := newTestManager(t, newFakeEngine(), nil)

	loadPlaying(t, m, testTrack("a", time.Minute))

	var types []EventType
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-m.Events():
				types = append(types, ev.Type)
			default:
				return len(types) >= 2
			}
		}
	}, waitFor, tick)
	assert.Equal(t, []EventType{EventLoadStarted, EventTrackStarted}, types)
}

func TestManager_LoadReleasesPreviousHandleFirst(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)

	first := loadPlaying(t, m, testTrack("a", time.Minute))
	second := loadPlaying(t, m, testTrack("b", time.Minute))

	assert.NotEqual(t, first.Handle, second.Handle)
	assert.True(t, eng.isReleased(first.Handle))
	assert.Equal(t, 1, eng.peakLive())
	assert.Equal(t, 1, eng.liveCount())

	calls := eng.callLog()
	release := indexOf(calls, "release:"+string(first.Handle))
	create := indexOf(calls, "create:b.mp3")
	require.NotEqual(t, -1, release)
	require.NotEqual(t, -1, create)
	assert.Less(t, release, create)
}

func TestManager_LastLoadWins(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)

	openA := eng.gate("a.mp3")
	defer openA()

	require.NoError(t, m.LoadAndPlay(context.Background(), testTrack("a", time.Minute)))
	require.NoError(t, m.LoadAndPlay(context.Background(), testTrack("b", time.Minute)))

	s := waitPlaying(t, m, "b")

	openA()
	require.Eventually(t, func() bool {
		hs := eng.handlesFor("a.mp3")
		return len(hs) == 1 && eng.isReleased(hs[0])
	}, waitFor, tick)

	handleA := eng.handlesFor("a.mp3")[0]
	final := m.Snapshot()
	assert.Equal(t, StatePlaying, final.State)
	assert.Equal(t, "b", final.Track.ID)
	assert.Equal(t, s.Handle, final.Handle)
	assert.Zero(t, eng.count("play:"+string(handleA)))
	assert.Equal(t, 1, eng.liveCount())
}

func TestManager_LoadFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.failCreate["broken.mp3"] = errors.New("file not found")
	m := newTestManager(t, eng, nil)

	loadPlaying(t, m, testTrack("a", time.Minute))
	require.NoError(t, m.LoadAndPlay(context.Background(), testTrack("broken", time.Minute)))

	require.Eventually(t, func() bool {
		return m.Snapshot().State == StateError
	}, waitFor, tick)

	s := m.Snapshot()
	assert.Nil(t, s.Track)
	assert.False(t, s.HasHandle())
	assert.Equal(t, "broken", s.FailedTrackID)
	assert.True(t, errors.Is(s.LastError, ErrResourceLoad))
	assert.Equal(t, 0, eng.liveCount())

	// The manager stays usable.
	s = loadPlaying(t, m, testTrack("c", time.Minute))
	assert.NoError(t, s.LastError)
	assert.Empty(t, s.FailedTrackID)
}

func TestManager_PlayFailureReleasesHandle(t *testing.T) {
	eng := newFakeEngine()
	eng.failOn("play", errors.New("device busy"))
	m := newTestManager(t, eng, nil)

	require.NoError(t, m.LoadAndPlay(context.Background(), testTrack("a", time.Minute)))
	require.Eventually(t, func() bool {
		return m.Snapshot().State == StateError
	}, waitFor, tick)

	assert.True(t, errors.Is(m.Snapshot().LastError, ErrResourceLoad))
	assert.Equal(t, 0, eng.liveCount())
}

func TestManager_TogglePlayPause(t *testing.T) {
	m := newTestManager(t, newFakeEngine(), nil)
	loadPlaying(t, m, testTrack("a", time.Minute))
	ctx := context.Background()

	require.NoError(t, m.TogglePlayPause(ctx))
	assert.Equal(t, StatePaused, m.Snapshot().State)

	require.NoError(t, m.TogglePlayPause(ctx))
	assert.Equal(t, StatePlaying, m.Snapshot().State)
}

func TestManager_PauseResume(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	h := loadPlaying(t, m, testTrack("a", time.Minute)).Handle
	ctx := context.Background()

	steps := []struct {
		name   string
		call   func(context.Context) error
		want   State
		pauses int
		plays  int
	}{
		{name: "pause while playing", call: m.Pause, want: StatePaused, pauses: 1, plays: 1},
		{name: "pause again is a no-op", call: m.Pause, want: StatePaused, pauses: 1, plays: 1},
		{name: "resume while paused", call: m.Resume, want: StatePlaying, pauses: 1, plays: 2},
		{name: "resume again is a no-op", call: m.Resume, want: StatePlaying, pauses: 1, plays: 2},
	}

	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			require.NoError(t, st.call(ctx))
			assert.Equal(t, st.want, m.Snapshot().State)
			assert.Equal(t, st.pauses, eng.count("pause:"+string(h)))
			assert.Equal(t, st.plays, eng.count("play:"+string(h)))
		})
	}
}

func TestManager_PauseResumeWithoutSession(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	ctx := context.Background()

	require.NoError(t, m.Pause(ctx))
	require.NoError(t, m.Resume(ctx))

	s := m.Snapshot()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, uint64(0), s.Version)
	assert.Empty(t, eng.callLog())
}

func TestManager_ResumeAfterNaturalFinishReplays(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	h := loadPlaying(t, m, testTrack("a", time.Minute)).Handle

	eng.emit(h, Status{Position: time.Minute, Duration: time.Minute, Finished: true})
	require.Eventually(t, func() bool {
		return m.Snapshot().State == StateStopped
	}, waitFor, tick)

	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, StatePlaying, m.Snapshot().State)
	assert.Equal(t, 2, eng.count("play:"+string(h)))
}

func TestManager_SlowConsumerKeepsTransitions(t *testing.T) {
	eng := newFakeEngine()
	m := NewManager(eng, nil, Config{InitialVolume: 0.8, CommandTimeout: time.Second, EventBuffer: 1})
	t.Cleanup(m.Close)

	h := loadPlaying(t, m, testTrack("a", time.Minute)).Handle

	// Nobody reads events while the engine keeps reporting progress.
	for i := 1; i <= 200; i++ {
		pos := time.Duration(i) * 100 * time.Millisecond
		eng.emit(h, Status{Position: pos, Duration: time.Minute})
		require.Eventually(t, func() bool {
			return m.Snapshot().Position == pos
		}, waitFor, time.Millisecond)
	}
	require.NoError(t, m.Stop(context.Background()))

	var got []EventType
	deadline := time.After(waitFor)
	for len(got) == 0 || got[len(got)-1] != EventStopped {
		select {
		case ev := <-m.Events():
			got = append(got, ev.Type)
		case <-deadline:
			t.Fatalf("stopped event not delivered, got %v", got)
		}
	}

	assert.Equal(t, []EventType{EventLoadStarted, EventTrackStarted}, got[:2])
	assert.Less(t, len(got), 10)
}

func TestEventQueue_CoalescesPositionOnly(t *testing.T) {
	q := newEventQueue()

	q.push(Event{Type: EventTrackStarted})
	q.push(Event{Type: EventPositionChanged, Snapshot: Snapshot{Version: 2}})
	q.push(Event{Type: EventPositionChanged, Snapshot: Snapshot{Version: 3}})
	q.push(Event{Type: EventStateChanged})
	q.push(Event{Type: EventPositionChanged, Snapshot: Snapshot{Version: 5}})
	q.push(Event{Type: EventStopped})
	q.push(Event{Type: EventStopped})
	require.Equal(t, 6, q.size())

	got := q.take()
	assert.Equal(t, []EventType{
		EventTrackStarted,
		EventPositionChanged,
		EventStateChanged,
		EventPositionChanged,
		EventStopped,
		EventStopped,
	}, lo.Map(got, func(ev Event, _ int) EventType { return ev.Type }))
	assert.Equal(t, uint64(3), got[1].Snapshot.Version)
	assert.Equal(t, 0, q.size())
}

func TestManager_EngineFailureLeavesStateUnchanged(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	loadPlaying(t, m, testTrack("a", time.Minute))

	eng.failOn("pause", errors.New("platform error"))
	require.NoError(t, m.TogglePlayPause(context.Background()))
	assert.Equal(t, StatePlaying, m.Snapshot().State)

	eng.failOn("set_volume", errors.New("platform error"))
	require.NoError(t, m.SetVolume(context.Background(), 0.2))
	assert.Equal(t, 0.8, m.Snapshot().Volume)
}

func TestManager_CommandsWithoutSessionAreNoOps(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	ctx := context.Background()

	require.NoError(t, m.TogglePlayPause(ctx))
	require.NoError(t, m.Seek(ctx, 10*time.Second))
	require.NoError(t, m.SeekFraction(ctx, 0.5))
	require.NoError(t, m.SetVolume(ctx, 0.1))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.SkipToNext(ctx))

	s := m.Snapshot()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 0.8, s.Volume)
	assert.Equal(t, uint64(0), s.Version)
	assert.Empty(t, eng.callLog())
}

func TestManager_SeekClampsTarget(t *testing.T) {
	tests := []struct {
		name   string
		target time.Duration
		want   time.Duration
	}{
		{name: "inside", target: time.Minute, want: time.Minute},
		{name: "negative", target: -5 * time.Second, want: 0},
		{name: "past end", target: 10 * time.Minute, want: 3 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			m := newTestManager(t, eng, nil)
			s := loadPlaying(t, m, testTrack("a", 3*time.Minute))

			require.NoError(t, m.Seek(context.Background(), tt.target))
			assert.Equal(t, tt.want, eng.position(s.Handle))
			// Position only moves when the engine reports it.
			assert.Equal(t, time.Duration(0), m.Snapshot().Position)
		})
	}
}

func TestManager_SeekFraction(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	s := loadPlaying(t, m, testTrack("a", 4*time.Minute))

	require.NoError(t, m.SeekFraction(context.Background(), 0.25))
	assert.Equal(t, time.Minute, eng.position(s.Handle))

	require.NoError(t, m.SeekFraction(context.Background(), 7))
	assert.Equal(t, 4*time.Minute, eng.position(s.Handle))
}

func TestManager_StatusClampsPosition(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   time.Duration
	}{
		{name: "normal", status: Status{Position: 30 * time.Second, Duration: 3 * time.Minute}, want: 30 * time.Second},
		{name: "past duration", status: Status{Position: 5 * time.Minute, Duration: 3 * time.Minute}, want: 3 * time.Minute},
		{name: "negative", status: Status{Position: -time.Second, Duration: 3 * time.Minute}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			m := newTestManager(t, eng, nil)
			s := loadPlaying(t, m, testTrack("a", 0))

			eng.emit(s.Handle, tt.status)
			require.Eventually(t, func() bool {
				return m.Snapshot().Duration == 3*time.Minute
			}, waitFor, tick)

			got := m.Snapshot()
			assert.Equal(t, tt.want, got.Position)
			assert.GreaterOrEqual(t, got.Position, time.Duration(0))
			assert.LessOrEqual(t, got.Position, got.Duration)
		})
	}
}

func TestManager_NaturalFinish(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	s := loadPlaying(t, m, testTrack("a", time.Minute))

	eng.emit(s.Handle, Status{Position: 59 * time.Second, Duration: time.Minute})
	eng.emit(s.Handle, Status{Position: time.Minute, Duration: time.Minute, Finished: true})

	require.Eventually(t, func() bool {
		return m.Snapshot().State == StateStopped
	}, waitFor, tick)

	got := m.Snapshot()
	assert.Equal(t, time.Duration(0), got.Position)
	require.NotNil(t, got.Track)
	assert.Equal(t, "a", got.Track.ID)
	assert.Equal(t, 1, eng.count("stop:"+string(s.Handle)))

	// Toggling a finished track plays it again.
	require.NoError(t, m.TogglePlayPause(context.Background()))
	assert.Equal(t, StatePlaying, m.Snapshot().State)
}

func TestManager_RepeatRestartsTrack(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	s := loadPlaying(t, m, testTrack("a", time.Minute))

	require.NoError(t, m.SetRepeat(context.Background(), true))
	assert.True(t, m.Snapshot().Repeat)

	eng.emit(s.Handle, Status{Position: time.Minute, Duration: time.Minute, Finished: true})

	require.Eventually(t, func() bool {
		return eng.count("play:"+string(s.Handle)) == 2
	}, waitFor, tick)

	got := m.Snapshot()
	assert.Equal(t, StatePlaying, got.State)
	assert.Equal(t, time.Duration(0), got.Position)
	assert.Equal(t, 1, eng.count("set_position:"+string(s.Handle)))
	assert.Zero(t, eng.count("stop:"+string(s.Handle)))
}

func TestManager_Stop(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	s := loadPlaying(t, m, testTrack("a", time.Minute))

	eng.emit(s.Handle, Status{Position: 20 * time.Second, Duration: time.Minute})
	require.Eventually(t, func() bool {
		return m.Snapshot().Position == 20*time.Second
	}, waitFor, tick)

	require.NoError(t, m.Stop(context.Background()))

	got := m.Snapshot()
	assert.Equal(t, StateStopped, got.State)
	assert.Equal(t, time.Duration(0), got.Position)
	assert.False(t, got.HasTrack())
	assert.False(t, got.HasHandle())
	assert.True(t, eng.isReleased(s.Handle))
	assert.Equal(t, 0, eng.liveCount())
}

func TestManager_StopWhileLoading(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)

	open := eng.gate("a.mp3")
	defer open()

	require.NoError(t, m.LoadAndPlay(context.Background(), testTrack("a", time.Minute)))
	assert.Equal(t, StateLoading, m.Snapshot().State)

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, StateStopped, m.Snapshot().State)

	open()
	require.Eventually(t, func() bool {
		hs := eng.handlesFor("a.mp3")
		return len(hs) == 1 && eng.isReleased(hs[0])
	}, waitFor, tick)

	got := m.Snapshot()
	assert.Equal(t, StateStopped, got.State)
	assert.False(t, got.HasTrack())
	assert.False(t, got.HasHandle())
}

func TestManager_SetVolumeClamps(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "above range", in: 1.5, want: 1.0},
		{name: "below range", in: -0.2, want: 0.0},
		{name: "inside", in: 0.4, want: 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			m := newTestManager(t, eng, nil)
			s := loadPlaying(t, m, testTrack("a", time.Minute))

			require.NoError(t, m.SetVolume(context.Background(), tt.in))
			assert.Equal(t, tt.want, m.Snapshot().Volume)
			assert.Equal(t, tt.want, eng.volume(s.Handle))
		})
	}
}

func TestManager_StaleStatusIgnored(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)

	old := loadPlaying(t, m, testTrack("a", time.Minute))
	cur := loadPlaying(t, m, testTrack("b", 2*time.Minute))

	eng.emit(old.Handle, Status{Position: time.Minute, Duration: time.Minute, Finished: true})
	eng.emit(cur.Handle, Status{Position: 10 * time.Second, Duration: 2 * time.Minute})

	require.Eventually(t, func() bool {
		return m.Snapshot().Position == 10*time.Second
	}, waitFor, tick)

	got := m.Snapshot()
	assert.Equal(t, StatePlaying, got.State)
	assert.Equal(t, "b", got.Track.ID)
	assert.Equal(t, 2*time.Minute, got.Duration)
}

func TestManager_Skip(t *testing.T) {
	a := testTrack("a", time.Minute)
	b := testTrack("b", time.Minute)
	c := testTrack("c", time.Minute)
	pl := playlist.New("test", []track.Track{a, b, c})

	m := newTestManager(t, newFakeEngine(), pl)
	ctx := context.Background()

	loadPlaying(t, m, a)

	require.NoError(t, m.SkipToNext(ctx))
	waitPlaying(t, m, "b")

	require.NoError(t, m.SkipToNext(ctx))
	waitPlaying(t, m, "c")

	// End of playlist.
	require.NoError(t, m.SkipToNext(ctx))
	assert.Equal(t, "c", m.Snapshot().Track.ID)

	require.NoError(t, m.SkipToPrevious(ctx))
	waitPlaying(t, m, "b")
}

func TestManager_SkipWithoutSequencer(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng, nil)
	s := loadPlaying(t, m, testTrack("a", time.Minute))

	require.NoError(t, m.SkipToNext(context.Background()))
	require.NoError(t, m.SkipToPrevious(context.Background()))

	got := m.Snapshot()
	assert.Equal(t, s.Handle, got.Handle)
	assert.Equal(t, 1, eng.count("create:a.mp3"))
}

func TestManager_CloseReleasesHandle(t *testing.T) {
	eng := newFakeEngine()
	m := NewManager(eng, nil, Config{EventBuffer: 256})
	loadPlaying(t, m, testTrack("a", time.Minute))

	m.Close()
	m.Close()

	assert.Equal(t, 0, eng.liveCount())

	err := m.LoadAndPlay(context.Background(), testTrack("b", time.Minute))
	assert.True(t, errors.Is(err, ErrClosed))

	for range m.Events() {
	}
}

func TestManager_SubmitHonoursContext(t *testing.T) {
	m := newTestManager(t, newFakeEngine(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Stop(ctx)
	if err != nil {
		assert.True(t, errors.Is(err, context.Canceled))
	}
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/osa030/nowplaying/internal/domain/track"
	zlog "github.com/rs/zerolog/log"
)

const teardownTimeout = 5 * time.Second

// Config holds manager configuration.
type Config struct {
	InitialVolume  float64       // Volume applied to every new handle, clamped to [0, 1]
	CommandTimeout time.Duration // Deadline for each engine call except Create (0 = none)
	EventBuffer    int           // Capacity of the event channel
	Repeat         bool          // Initial repeat mode
}

// command is a unit of work executed on the manager loop.
type command struct {
	name  string
	fn    func()
	reply chan struct{}
}

// loadResult is the outcome of an engine Create, delivered back to the loop.
type loadResult struct {
	seq    uint64
	track  *track.Track
	handle Handle
	err    error
}

// Manager owns the single playback session.
// Commands, load results and engine status reports are all funnelled into one
// goroutine, which is the only writer of the session and of the handle.
type Manager struct {
	engine    Engine
	sequencer Sequencer
	config    Config

	cmdCh  chan command
	loadCh chan loadResult
	status *statusMailbox

	// Events
	events  *eventQueue
	eventCh chan Event

	// Last published snapshot, for readers outside the loop
	snapMu   sync.RWMutex
	snapshot Snapshot

	// Context
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned state
	session session
	loadSeq uint64
	version uint64
}

// NewManager creates a manager and starts its loop.
// sequencer may be nil, in which case skip commands are no-ops.
func NewManager(engine Engine, sequencer Sequencer, config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}

	m := &Manager{
		engine:    engine,
		sequencer: sequencer,
		config:    config,
		cmdCh:     make(chan command),
		loadCh:    make(chan loadResult),
		status:    newStatusMailbox(),
		events:    newEventQueue(),
		eventCh:   make(chan Event, config.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		session: session{
			state:  StateIdle,
			volume: clampVolume(config.InitialVolume),
			repeat: config.Repeat,
		},
	}
	m.snapshot = m.session.snapshot(0)

	go m.run()
	go m.pump()
	return m
}

// Events returns the event channel. It is closed after Close.
// Position events may be coalesced when the reader falls behind; every
// other event is delivered in order.
func (m *Manager) Events() <-chan Event {
	return m.eventCh
}

// Done returns a channel that is closed once the manager has shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns the last published session state.
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot
}

// LoadAndPlay releases the current resource and starts loading t.
// It returns once the load is under way; the outcome is published as
// EventTrackStarted or EventLoadFailed. If another LoadAndPlay arrives before
// this one resolves, the later call wins and this handle is released on arrival.
func (m *Manager) LoadAndPlay(ctx context.Context, t track.Track) error {
	return m.submit(ctx, "load_and_play", func() {
		m.startLoad(&t)
	})
}

// TogglePlayPause flips between playing and paused.
func (m *Manager) TogglePlayPause(ctx context.Context) error {
	return m.submit(ctx, "toggle_play_pause", m.toggle)
}

// Pause pauses playback. It is a no-op unless the session is playing.
func (m *Manager) Pause(ctx context.Context) error {
	return m.submit(ctx, "pause", m.pause)
}

// Resume continues a paused or finished track. It is a no-op while playing
// or when there is no handle.
func (m *Manager) Resume(ctx context.Context) error {
	return m.submit(ctx, "resume", m.resume)
}

// Seek asks the engine to move to pos, clamped to [0, duration].
// The session position changes only when the engine reports it.
func (m *Manager) Seek(ctx context.Context, pos time.Duration) error {
	return m.submit(ctx, "seek", func() {
		m.seek(pos)
	})
}

// SeekFraction seeks to f*duration, f clamped to [0, 1].
func (m *Manager) SeekFraction(ctx context.Context, f float64) error {
	return m.submit(ctx, "seek_fraction", func() {
		if math.IsNaN(f) {
			zlog.Warn().Msg("playback: seek fraction is NaN, ignored")
			return
		}
		f = lo.Clamp(f, 0, 1)
		m.seek(time.Duration(f * float64(m.session.duration)))
	})
}

// Stop releases the handle and clears the current track.
func (m *Manager) Stop(ctx context.Context) error {
	return m.submit(ctx, "stop", m.stop)
}

// SetVolume sets the volume, clamped to [0, 1].
func (m *Manager) SetVolume(ctx context.Context, v float64) error {
	return m.submit(ctx, "set_volume", func() {
		m.setVolume(v)
	})
}

// SetRepeat enables or disables repeat mode.
func (m *Manager) SetRepeat(ctx context.Context, repeat bool) error {
	return m.submit(ctx, "set_repeat", func() {
		if m.session.repeat == repeat {
			return
		}
		m.session.repeat = repeat
		m.publish(EventRepeatChanged, nil)
	})
}

// SkipToNext loads the next track from the sequencer.
func (m *Manager) SkipToNext(ctx context.Context) error {
	return m.submit(ctx, "skip_next", func() {
		m.skip("next", func(s Sequencer, cur *track.Track) (*track.Track, bool) {
			return s.Next(cur)
		})
	})
}

// SkipToPrevious loads the previous track from the sequencer.
func (m *Manager) SkipToPrevious(ctx context.Context) error {
	return m.submit(ctx, "skip_previous", func() {
		m.skip("previous", func(s Sequencer, cur *track.Track) (*track.Track, bool) {
			return s.Previous(cur)
		})
	})
}

// Close stops the loop and releases any live handle.
func (m *Manager) Close() {
	m.closeOnce.Do(m.cancel)
	<-m.done
}

// submit runs fn on the loop and waits for it to finish.
func (m *Manager) submit(ctx context.Context, name string, fn func()) error {
	cmd := command{name: name, fn: fn, reply: make(chan struct{})}

	select {
	case m.cmdCh <- cmd:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.reply:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single writer of the session.
func (m *Manager) run() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return
		case cmd := <-m.cmdCh:
			zlog.Debug().Msgf("playback: command=%s state=%s", cmd.name, m.session.state)
			cmd.fn()
			close(cmd.reply)
		case res := <-m.loadCh:
			m.onLoadResult(res)
		case <-m.status.ready:
			m.applyStatus(m.status.take())
		}
	}
}

func (m *Manager) startLoad(t *track.Track) {
	if m.session.handle != "" {
		zlog.Info().Msgf("playback: releasing current resource before load: handle=%s next=%s", m.session.handle, t.ID)
		m.releaseHandle(m.session.handle, false)
	}

	m.loadSeq++
	seq := m.loadSeq
	m.session.beginLoad(t)
	m.publish(EventLoadStarted, nil)

	zlog.Info().Msgf("playback: loading track: id=%s title=%s seq=%d", t.ID, t.Title, seq)
	go m.create(seq, t)
}

// create runs the engine Create outside the loop. It has no deadline: a load
// that never resolves stays pending until a later load supersedes it.
func (m *Manager) create(seq uint64, t *track.Track) {
	h, err := m.engine.Create(m.ctx, t.Audio)
	res := loadResult{seq: seq, track: t, handle: h, err: err}

	select {
	case m.loadCh <- res:
	case <-m.ctx.Done():
		if err == nil && h != "" {
			zlog.Debug().Msgf("playback: releasing handle created after shutdown: handle=%s", h)
			ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
			defer cancel()
			if err := m.engine.Release(ctx, h); err != nil {
				zlog.Warn().Msgf("playback: release after shutdown failed: handle=%s err=%v", h, err)
			}
		}
	}
}

func (m *Manager) onLoadResult(res loadResult) {
	if res.seq != m.loadSeq || m.session.state != StateLoading || m.ctx.Err() != nil {
		if res.err == nil && res.handle != "" {
			zlog.Info().Msgf("playback: superseded load arrived, releasing: track=%s handle=%s", res.track.ID, res.handle)
			m.releaseHandle(res.handle, false)
		} else if res.err != nil {
			zlog.Debug().Msgf("playback: superseded load failed: track=%s err=%v", res.track.ID, res.err)
		}
		return
	}

	if res.err != nil {
		m.failLoad(res.track, res.err)
		return
	}

	h := res.handle
	if err := m.engine.RegisterStatusCallback(h, m.statusFunc(h)); err != nil {
		m.releaseHandle(h, false)
		m.failLoad(res.track, err)
		return
	}

	ctx, cancel := m.engineContext()
	defer cancel()

	if err := m.engine.SetVolume(ctx, h, m.session.volume); err != nil {
		zlog.Warn().Msgf("playback: initial volume not applied: handle=%s err=%v", h, engineFailure(err, "set volume"))
	}

	if err := m.engine.Play(ctx, h); err != nil {
		m.releaseHandle(h, false)
		m.failLoad(res.track, err)
		return
	}

	m.session.activate(h)
	zlog.Info().Msgf("playback: track started: id=%s handle=%s", res.track.ID, h)
	m.publish(EventTrackStarted, nil)
}

func (m *Manager) failLoad(t *track.Track, cause error) {
	err := loadFailure(cause, string(t.Audio))
	zlog.Error().Msgf("playback: load failed: track=%s err=%v", t.ID, err)
	m.session.fail(t, err)
	m.publish(EventLoadFailed, err)
}

func (m *Manager) toggle() {
	switch m.session.state {
	case StatePlaying:
		m.pause()
	case StatePaused, StateStopped:
		m.resume()
	default:
		if m.session.handle == "" {
			zlog.Info().Msgf("playback: toggle ignored: %v state=%s", ErrNoActiveSession, m.session.state)
			return
		}
		zlog.Warn().Msgf("playback: toggle ignored in state %s", m.session.state)
	}
}

func (m *Manager) pause() {
	h := m.session.handle
	if h == "" {
		zlog.Info().Msgf("playback: pause ignored: %v state=%s", ErrNoActiveSession, m.session.state)
		return
	}
	if m.session.state != StatePlaying {
		zlog.Info().Msgf("playback: pause ignored in state %s", m.session.state)
		return
	}

	ctx, cancel := m.engineContext()
	defer cancel()

	if err := m.engine.Pause(ctx, h); err != nil {
		zlog.Error().Msgf("playback: %v", engineFailure(err, "pause"))
		return
	}
	m.session.state = StatePaused
	m.publish(EventStateChanged, nil)
}

func (m *Manager) resume() {
	h := m.session.handle
	if h == "" {
		zlog.Info().Msgf("playback: resume ignored: %v state=%s", ErrNoActiveSession, m.session.state)
		return
	}
	if m.session.state != StatePaused && m.session.state != StateStopped {
		zlog.Info().Msgf("playback: resume ignored in state %s", m.session.state)
		return
	}

	ctx, cancel := m.engineContext()
	defer cancel()

	if err := m.engine.Play(ctx, h); err != nil {
		zlog.Error().Msgf("playback: %v", engineFailure(err, "play"))
		return
	}
	m.session.state = StatePlaying
	m.publish(EventStateChanged, nil)
}

func (m *Manager) seek(pos time.Duration) {
	h := m.session.handle
	if h == "" {
		zlog.Info().Msgf("playback: seek ignored: %v", ErrNoActiveSession)
		return
	}

	target := m.session.clampPosition(pos)
	ctx, cancel := m.engineContext()
	defer cancel()

	if err := m.engine.SetPosition(ctx, h, target); err != nil {
		zlog.Error().Msgf("playback: %v", engineFailure(err, "set position"))
		return
	}
	zlog.Debug().Msgf("playback: seek requested: target=%v", target)
}

func (m *Manager) stop() {
	switch {
	case m.session.handle != "":
		m.releaseHandle(m.session.handle, true)
	case m.session.state == StateLoading:
		// The in-flight load is superseded; its handle is released on arrival.
		m.loadSeq++
	case m.session.current == nil:
		zlog.Info().Msgf("playback: stop ignored: %v state=%s", ErrNoActiveSession, m.session.state)
		return
	}

	m.session.stop()
	zlog.Info().Msg("playback: stopped")
	m.publish(EventStopped, nil)
}

func (m *Manager) setVolume(v float64) {
	if math.IsNaN(v) {
		zlog.Warn().Msg("playback: volume is NaN, ignored")
		return
	}

	h := m.session.handle
	if h == "" {
		zlog.Info().Msgf("playback: set volume ignored: %v", ErrNoActiveSession)
		return
	}

	v = clampVolume(v)
	ctx, cancel := m.engineContext()
	defer cancel()

	if err := m.engine.SetVolume(ctx, h, v); err != nil {
		zlog.Error().Msgf("playback: %v", engineFailure(err, "set volume"))
		return
	}

	if m.session.volume != v {
		m.session.volume = v
		m.publish(EventVolumeChanged, nil)
	}
}

func (m *Manager) skip(direction string, pick func(Sequencer, *track.Track) (*track.Track, bool)) {
	if m.sequencer == nil {
		zlog.Info().Msgf("playback: skip %s ignored: no sequencer configured", direction)
		return
	}

	next, ok := pick(m.sequencer, m.session.target())
	if !ok {
		zlog.Info().Msgf("playback: skip %s ignored: nothing to play", direction)
		return
	}
	m.startLoad(next)
}

// applyStatus merges engine reports. Only the current handle's report counts.
func (m *Manager) applyStatus(reports map[Handle]Status) {
	h := m.session.handle
	if h == "" {
		return
	}
	st, ok := reports[h]
	if !ok {
		return
	}

	switch m.session.state {
	case StatePlaying, StatePaused:
	default:
		// Stopped sessions keep position 0 until played again.
		return
	}

	if st.Duration > 0 {
		m.session.duration = st.Duration
	}

	if st.Finished {
		m.finish(h)
		return
	}

	pos := m.session.clampPosition(st.Position)
	if pos == m.session.position && st.Duration <= 0 {
		return
	}
	m.session.position = pos
	m.publish(EventPositionChanged, nil)
}

func (m *Manager) finish(h Handle) {
	ctx, cancel := m.engineContext()
	defer cancel()

	m.session.position = 0

	if m.session.repeat {
		if err := m.engine.SetPosition(ctx, h, 0); err != nil {
			zlog.Error().Msgf("playback: %v", engineFailure(err, "rewind for repeat"))
		} else if err := m.engine.Play(ctx, h); err != nil {
			zlog.Error().Msgf("playback: %v", engineFailure(err, "replay"))
		} else {
			m.session.state = StatePlaying
			zlog.Info().Msgf("playback: track repeated: id=%s", m.session.current.ID)
			m.publish(EventTrackRepeated, nil)
			return
		}
	}

	if err := m.engine.Stop(ctx, h); err != nil {
		zlog.Warn().Msgf("playback: %v", engineFailure(err, "stop after finish"))
	}
	m.session.state = StateStopped
	zlog.Info().Msgf("playback: track finished: id=%s", m.session.current.ID)
	m.publish(EventTrackFinished, nil)
}

// releaseHandle gives h back to the engine. stop selects Stop over Pause
// before the release. If h is current it is cleared first so that late
// status reports for it are dropped.
func (m *Manager) releaseHandle(h Handle, stop bool) {
	if m.session.handle == h {
		m.session.handle = ""
	}

	ctx, cancel := m.engineContext()
	defer cancel()

	if stop {
		if err := m.engine.Stop(ctx, h); err != nil {
			zlog.Warn().Msgf("playback: %v", engineFailure(err, "stop"))
		}
	} else if err := m.engine.Pause(ctx, h); err != nil {
		zlog.Debug().Msgf("playback: pause before release: %v", engineFailure(err, "pause"))
	}

	if err := m.engine.Release(ctx, h); err != nil {
		zlog.Warn().Msgf("playback: %v", engineFailure(err, "release"))
	}
}

func (m *Manager) teardown() {
	h := m.session.handle
	if h == "" {
		return
	}
	m.session.handle = ""

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	zlog.Info().Msgf("playback: releasing handle on shutdown: handle=%s", h)
	if err := m.engine.Stop(ctx, h); err != nil {
		zlog.Debug().Msgf("playback: stop on shutdown: %v", err)
	}
	if err := m.engine.Release(ctx, h); err != nil {
		zlog.Warn().Msgf("playback: release on shutdown failed: %v", err)
	}
}

func (m *Manager) statusFunc(h Handle) StatusFunc {
	return func(st Status) {
		m.status.put(h, st)
	}
}

func (m *Manager) engineContext() (context.Context, context.CancelFunc) {
	if m.config.CommandTimeout > 0 {
		return context.WithTimeout(m.ctx, m.config.CommandTimeout)
	}
	return context.WithCancel(m.ctx)
}

// publish stores the new snapshot and queues an event for the pump.
func (m *Manager) publish(t EventType, err error) {
	m.version++
	snap := m.session.snapshot(m.version)

	m.snapMu.Lock()
	m.snapshot = snap
	m.snapMu.Unlock()

	m.events.push(Event{Type: t, Snapshot: snap, Err: err})
}

// pump forwards queued events to eventCh in order. Once the loop has shut
// down, whatever is still queued is offered without blocking and the channel
// is closed.
func (m *Manager) pump() {
	defer close(m.eventCh)

	closing := false
	for {
		if !closing {
			select {
			case <-m.events.ready:
			case <-m.done:
				closing = true
			}
		}

		for _, ev := range m.events.take() {
			if !closing {
				select {
				case m.eventCh <- ev:
					continue
				case <-m.done:
					closing = true
				}
			}
			select {
			case m.eventCh <- ev:
			default:
				zlog.Debug().Msgf("playback: event dropped on shutdown: type=%s", ev.Type)
			}
		}

		if closing {
			return
		}
	}
}

func clampVolume(v float64) float64 {
	return lo.Clamp(v, 0, 1)
}

package engine

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// SimulatedSettings configures the simulated engine.
type SimulatedSettings struct {
	LoadMs            int     `mapstructure:"load_ms" default:"50" validate:"gte=0,lte=60000"`
	DefaultDurationMs int     `mapstructure:"default_duration_ms" default:"180000" validate:"gte=1000"`
	Speed             float64 `mapstructure:"speed" default:"1" validate:"gt=0,lte=100"`
	RequireFiles      bool    `mapstructure:"require_files"`
}

var _ Engine = (*Simulated)(nil)

type simVoice struct {
	ref      track.Resource
	position time.Duration
	duration time.Duration
	volume   float64
	playing  bool
	finished bool // reached the end, not yet reported
	callback playback.StatusFunc
}

// Simulated plays nothing. Position advances on a timer, which makes it
// usable on machines without an audio device. A resource may carry its
// duration as a "#M:SS" suffix.
type Simulated struct {
	mu       sync.Mutex
	settings SimulatedSettings
	voices   map[playback.Handle]*simVoice
	now      func() time.Time
	last     time.Time
	reporter *reporter
}

// NewSimulated creates a simulated engine reporting every interval.
func NewSimulated(settings SimulatedSettings, interval time.Duration) *Simulated {
	return newSimulated(settings, interval, time.Now)
}

func newSimulated(settings SimulatedSettings, interval time.Duration, now func() time.Time) *Simulated {
	e := &Simulated{
		settings: settings,
		voices:   make(map[playback.Handle]*simVoice),
		now:      now,
	}
	e.last = e.now()
	e.reporter = startReporter(interval, e.tick)
	return e
}

// Create "loads" ref after the configured delay.
func (e *Simulated) Create(ctx context.Context, ref track.Resource) (playback.Handle, error) {
	if ref == "" {
		return "", ErrEmptyResource
	}

	path, duration, err := e.parseRef(ref)
	if err != nil {
		return "", err
	}
	if e.settings.RequireFiles {
		if _, err := os.Stat(path); err != nil {
			return "", errors.Wrap(err, "resource not found")
		}
	}

	if d := time.Duration(e.settings.LoadMs) * time.Millisecond; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	h := newHandle()
	e.mu.Lock()
	e.voices[h] = &simVoice{ref: ref, duration: duration, volume: 1}
	e.mu.Unlock()

	zlog.Debug().Msgf("engine: simulated voice created: handle=%s ref=%s duration=%v", h, ref, duration)
	return h, nil
}

func (e *Simulated) parseRef(ref track.Resource) (string, time.Duration, error) {
	path, suffix, ok := strings.Cut(string(ref), "#")
	if !ok {
		return path, time.Duration(e.settings.DefaultDurationMs) * time.Millisecond, nil
	}
	d, err := track.ParseDuration(suffix)
	if err != nil {
		return "", 0, err
	}
	return path, d, nil
}

func (e *Simulated) Play(_ context.Context, h playback.Handle) error {
	return e.with(h, func(v *simVoice) {
		e.advanceLocked()
		v.playing = true
		v.finished = false
	})
}

func (e *Simulated) Pause(_ context.Context, h playback.Handle) error {
	return e.with(h, func(v *simVoice) {
		e.advanceLocked()
		v.playing = false
	})
}

func (e *Simulated) Stop(_ context.Context, h playback.Handle) error {
	return e.with(h, func(v *simVoice) {
		v.playing = false
		v.finished = false
		v.position = 0
	})
}

func (e *Simulated) SetPosition(_ context.Context, h playback.Handle, pos time.Duration) error {
	return e.with(h, func(v *simVoice) {
		e.advanceLocked()
		v.position = min(max(pos, 0), v.duration)
		v.finished = false
	})
}

func (e *Simulated) SetVolume(_ context.Context, h playback.Handle, volume float64) error {
	return e.with(h, func(v *simVoice) {
		v.volume = volume
	})
}

// Release forgets h. Unknown handles are ignored.
func (e *Simulated) Release(_ context.Context, h playback.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.voices, h)
	return nil
}

func (e *Simulated) RegisterStatusCallback(h playback.Handle, fn playback.StatusFunc) error {
	return e.with(h, func(v *simVoice) {
		v.callback = fn
	})
}

// Voices returns the number of live handles.
func (e *Simulated) Voices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// Close stops status reporting and drops all voices.
func (e *Simulated) Close() error {
	e.reporter.stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voices = make(map[playback.Handle]*simVoice)
	return nil
}

func (e *Simulated) with(h playback.Handle, fn func(*simVoice)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.voices[h]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle=%s", h)
	}
	fn(v)
	return nil
}

// advanceLocked moves every playing voice forward by the elapsed time.
func (e *Simulated) advanceLocked() {
	now := e.now()
	elapsed := time.Duration(float64(now.Sub(e.last)) * e.settings.Speed)
	e.last = now

	for _, v := range e.voices {
		if !v.playing {
			continue
		}
		v.position += elapsed
		if v.position >= v.duration {
			v.position = v.duration
			v.playing = false
			v.finished = true
		}
	}
}

// tick collects reports for voices that are playing or just finished.
func (e *Simulated) tick() []report {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.advanceLocked()

	var out []report
	for _, v := range e.voices {
		if v.callback == nil || (!v.playing && !v.finished) {
			continue
		}
		out = append(out, report{
			fn: v.callback,
			status: playback.Status{
				Position: v.position,
				Duration: v.duration,
				Finished: v.finished,
			},
		})
		v.finished = false
	}
	return out
}

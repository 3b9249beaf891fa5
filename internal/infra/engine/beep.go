//go:build (linux && cgo) || windows || darwin

package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// AudioAvailable indicates whether audio playback is supported in this build.
const AudioAvailable = true

var _ Engine = (*Beep)(nil)

// beepVoice bundles all resources for one handle.
type beepVoice struct {
	file     *os.File
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	callback playback.StatusFunc

	// Guarded by the speaker lock: the drain callback runs inside the mixer.
	queued   bool // added to the speaker mixer
	finished bool // drained, not yet reported
	released bool
}

// Close releases the decoder and the file.
func (v *beepVoice) Close() {
	if v.streamer != nil {
		v.streamer.Close()
	}
	if v.file != nil {
		v.file.Close()
	}
}

// Beep decodes local mp3 and wav files and plays them through the speaker.
type Beep struct {
	mu         sync.Mutex
	settings   BeepSettings
	sampleRate beep.SampleRate
	voices     map[playback.Handle]*beepVoice
	reporter   *reporter
}

// NewBeep initializes the speaker and starts status reporting.
func NewBeep(settings BeepSettings, interval time.Duration) (*Beep, error) {
	sr := beep.SampleRate(settings.SampleRate)
	if err := speaker.Init(sr, sr.N(time.Duration(settings.BufferMs)*time.Millisecond)); err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}

	e := &Beep{
		settings:   settings,
		sampleRate: sr,
		voices:     make(map[playback.Handle]*beepVoice),
	}
	e.reporter = startReporter(interval, e.tick)
	zlog.Info().Msgf("engine: speaker initialized: sample_rate=%d buffer_ms=%d", settings.SampleRate, settings.BufferMs)
	return e, nil
}

func newBeepEngine(settings BeepSettings, interval time.Duration) (Engine, error) {
	e, err := NewBeep(settings, interval)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Create opens and decodes ref. Decoding happens before the voice is queued.
func (e *Beep) Create(ctx context.Context, ref track.Resource) (playback.Handle, error) {
	if ref == "" {
		return "", ErrEmptyResource
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := string(ref)
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open audio file")
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return "", errors.Wrapf(ErrUnsupportedFormat, "%s", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		return "", errors.Wrap(err, "failed to decode audio")
	}

	var source beep.Streamer = streamer
	if format.SampleRate != e.sampleRate {
		source = beep.Resample(e.settings.ResampleQuality, format.SampleRate, e.sampleRate, streamer)
	}

	v := &beepVoice{
		file:     f,
		streamer: streamer,
		format:   format,
	}
	v.ctrl = &beep.Ctrl{Streamer: source, Paused: true}
	v.volume = &effects.Volume{Streamer: v.ctrl, Base: 2}

	if err := ctx.Err(); err != nil {
		v.Close()
		return "", err
	}

	h := newHandle()
	e.mu.Lock()
	e.voices[h] = v
	e.mu.Unlock()

	zlog.Debug().Msgf("engine: voice created: handle=%s file=%s rate=%d len=%v", h, path, format.SampleRate, format.SampleRate.D(streamer.Len()))
	return h, nil
}

func (e *Beep) Play(_ context.Context, h playback.Handle) error {
	return e.with(h, func(v *beepVoice) error {
		speaker.Lock()
		queued := v.queued
		v.queued = true
		v.finished = false
		v.ctrl.Paused = false
		speaker.Unlock()

		if !queued {
			speaker.Play(beep.Seq(v.volume, beep.Callback(func() {
				onDrained(v)
			})))
		}
		return nil
	})
}

func (e *Beep) Pause(_ context.Context, h playback.Handle) error {
	return e.with(h, func(v *beepVoice) error {
		speaker.Lock()
		v.ctrl.Paused = true
		speaker.Unlock()
		return nil
	})
}

// Stop pauses and rewinds.
func (e *Beep) Stop(_ context.Context, h playback.Handle) error {
	return e.with(h, func(v *beepVoice) error {
		speaker.Lock()
		defer speaker.Unlock()
		v.ctrl.Paused = true
		v.finished = false
		return v.streamer.Seek(0)
	})
}

func (e *Beep) SetPosition(_ context.Context, h playback.Handle, pos time.Duration) error {
	return e.with(h, func(v *beepVoice) error {
		n := v.format.SampleRate.N(pos)
		n = min(max(n, 0), max(v.streamer.Len()-1, 0))

		speaker.Lock()
		defer speaker.Unlock()
		v.finished = false
		if err := v.streamer.Seek(n); err != nil {
			return errors.Wrap(err, "seek failed")
		}
		return nil
	})
}

// SetVolume maps volume in [0, 1] onto a base-2 gain.
func (e *Beep) SetVolume(_ context.Context, h playback.Handle, volume float64) error {
	return e.with(h, func(v *beepVoice) error {
		speaker.Lock()
		defer speaker.Unlock()
		if volume <= 0 {
			v.volume.Silent = true
			return nil
		}
		v.volume.Silent = false
		v.volume.Volume = math.Log2(volume)
		return nil
	})
}

// Release removes the voice from the mixer and closes it. Unknown handles are ignored.
func (e *Beep) Release(_ context.Context, h playback.Handle) error {
	e.mu.Lock()
	v, ok := e.voices[h]
	delete(e.voices, h)
	e.mu.Unlock()

	if !ok {
		return nil
	}

	speaker.Lock()
	v.released = true
	v.ctrl.Paused = true
	v.ctrl.Streamer = nil
	speaker.Unlock()

	v.Close()
	zlog.Debug().Msgf("engine: voice released: handle=%s", h)
	return nil
}

func (e *Beep) RegisterStatusCallback(h playback.Handle, fn playback.StatusFunc) error {
	return e.with(h, func(v *beepVoice) error {
		v.callback = fn
		return nil
	})
}

// Close stops reporting, releases every voice and clears the speaker.
func (e *Beep) Close() error {
	e.reporter.stop()

	e.mu.Lock()
	voices := e.voices
	e.voices = make(map[playback.Handle]*beepVoice)
	e.mu.Unlock()

	speaker.Lock()
	for _, v := range voices {
		v.released = true
	}
	speaker.Unlock()

	speaker.Clear()
	for _, v := range voices {
		v.Close()
	}
	return nil
}

// onDrained runs on the speaker goroutine, with the speaker lock held, when a
// voice's stream ends.
func onDrained(v *beepVoice) {
	v.queued = false
	if !v.released {
		v.finished = true
	}
}

func (e *Beep) with(h playback.Handle, fn func(*beepVoice) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.voices[h]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle=%s", h)
	}
	return fn(v)
}

func (e *Beep) tick() []report {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []report
	for _, v := range e.voices {
		if v.callback == nil {
			continue
		}

		speaker.Lock()
		playing := v.queued && !v.ctrl.Paused
		finished := v.finished
		v.finished = false
		pos := v.format.SampleRate.D(v.streamer.Position())
		length := v.format.SampleRate.D(v.streamer.Len())
		speaker.Unlock()

		if !playing && !finished {
			continue
		}
		out = append(out, report{
			fn: v.callback,
			status: playback.Status{
				Position: pos,
				Duration: length,
				Finished: finished,
			},
		})
	}
	return out
}

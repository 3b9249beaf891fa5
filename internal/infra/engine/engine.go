// Package engine provides the audio engines behind the playback manager.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/infra/config"
)

// Errors
var (
	ErrUnknownHandle     = errors.New("unknown handle")
	ErrEmptyResource     = errors.New("empty resource reference")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrAudioUnavailable  = errors.New("audio output is not available in this build")
)

// Engine is a playback engine that owns background work.
type Engine interface {
	playback.Engine
	Close() error
}

// New creates the engine selected by cfg.
func New(cfg config.EngineConfig) (Engine, error) {
	interval := time.Duration(cfg.StatusIntervalMs) * time.Millisecond
	zlog.Debug().Msgf("engine: creating: type=%s settings=%+v", cfg.Type, cfg.Settings)

	switch cfg.Type {
	case "simulated":
		var s SimulatedSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return nil, errors.Wrap(err, "simulated engine settings")
		}
		return NewSimulated(s, interval), nil

	case "beep":
		var s BeepSettings
		if err := decodeSettings(cfg.Settings, &s); err != nil {
			return nil, errors.Wrap(err, "beep engine settings")
		}
		return newBeepEngine(s, interval)

	default:
		return nil, errors.Newf("unsupported engine type: %s", cfg.Type)
	}
}

// decodeSettings decodes free-form settings into out, then applies defaults
// and validation.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	return nil
}

func newHandle() playback.Handle {
	return playback.Handle(uuid.New().String())
}

// report is one pending status delivery.
type report struct {
	fn     playback.StatusFunc
	status playback.Status
}

// reporter runs collect on every tick and delivers the reports outside any
// engine lock.
type reporter struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startReporter(interval time.Duration, collect func() []report) *reporter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &reporter{cancel: cancel}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, rp := range collect() {
					rp.fn(rp.status)
				}
			}
		}
	}()
	return r
}

func (r *reporter) stop() {
	r.cancel()
	r.wg.Wait()
}

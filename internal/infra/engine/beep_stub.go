//go:build !((linux && cgo) || windows || darwin)

package engine

import "time"

// AudioAvailable indicates whether audio playback is supported in this build.
// Audio requires cgo on Linux for the native sound libraries.
const AudioAvailable = false

func newBeepEngine(BeepSettings, time.Duration) (Engine, error) {
	return nil, ErrAudioUnavailable
}

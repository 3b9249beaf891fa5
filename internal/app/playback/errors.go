package playback

import "github.com/cockroachdb/errors"

// Errors
var (
	ErrClosed          = errors.New("playback manager is closed")
	ErrResourceLoad    = errors.New("resource load failed")
	ErrNoActiveSession = errors.New("no active session")
	ErrEngineOperation = errors.New("engine operation failed")
)

// loadFailure classifies err as a resource load failure.
func loadFailure(err error, ref string) error {
	return errors.Mark(errors.Wrapf(err, "load %s", ref), ErrResourceLoad)
}

// engineFailure classifies err as a failed engine operation.
func engineFailure(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrEngineOperation)
}

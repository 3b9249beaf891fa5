package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/nowplaying/internal/app/navigation"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/app/session"
)

// toConnectError maps application errors onto connect codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, session.ErrTrackNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, playback.ErrClosed), errors.Is(err, session.ErrSessionNotRunning):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, navigation.ErrNoHistory):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, navigation.ErrEmptyScreen):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

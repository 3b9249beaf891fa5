package connect

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/nowplaying/internal/app/navigation"
	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/session"
	"github.com/osa030/nowplaying/internal/domain/track"
	zlog "github.com/rs/zerolog/log"
)

// PlayerServiceName is the fully-qualified name of the player service.
const PlayerServiceName = "nowplaying.v1.PlayerService"

// Procedure paths.
const (
	GetStatusProcedure       = "/" + PlayerServiceName + "/GetStatus"
	ListTracksProcedure      = "/" + PlayerServiceName + "/ListTracks"
	SelectProcedure          = "/" + PlayerServiceName + "/Select"
	PlayProcedure            = "/" + PlayerServiceName + "/Play"
	TogglePlayPauseProcedure = "/" + PlayerServiceName + "/TogglePlayPause"
	PauseProcedure           = "/" + PlayerServiceName + "/Pause"
	ResumeProcedure          = "/" + PlayerServiceName + "/Resume"
	SeekProcedure            = "/" + PlayerServiceName + "/Seek"
	SeekFractionProcedure    = "/" + PlayerServiceName + "/SeekFraction"
	StopProcedure            = "/" + PlayerServiceName + "/Stop"
	SetVolumeProcedure       = "/" + PlayerServiceName + "/SetVolume"
	SetRepeatProcedure       = "/" + PlayerServiceName + "/SetRepeat"
	SkipNextProcedure        = "/" + PlayerServiceName + "/SkipNext"
	SkipPreviousProcedure    = "/" + PlayerServiceName + "/SkipPrevious"
	OpenFullPlayerProcedure  = "/" + PlayerServiceName + "/OpenFullPlayer"
	CloseFullPlayerProcedure = "/" + PlayerServiceName + "/CloseFullPlayer"
	ReportFocusProcedure     = "/" + PlayerServiceName + "/ReportFocus"
	SubscribeProcedure       = "/" + PlayerServiceName + "/Subscribe"
)

// PlayerService implements the player RPCs on top of well-known message types.
// Every command replies with the status observed after it ran.
type PlayerService struct {
	session *session.Manager
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(session *session.Manager) *PlayerService {
	return &PlayerService{session: session}
}

// NewPlayerServiceHandler builds the HTTP handler serving every procedure
// and returns the path prefix to mount it on.
func NewPlayerServiceHandler(s *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()

	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(ListTracksProcedure, connect.NewUnaryHandler(ListTracksProcedure, s.ListTracks, opts...))
	mux.Handle(SelectProcedure, connect.NewUnaryHandler(SelectProcedure, s.Select, opts...))
	mux.Handle(PlayProcedure, connect.NewUnaryHandler(PlayProcedure, s.Play, opts...))
	mux.Handle(TogglePlayPauseProcedure, connect.NewUnaryHandler(TogglePlayPauseProcedure, s.TogglePlayPause, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, s.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, s.Resume, opts...))
	mux.Handle(SeekProcedure, connect.NewUnaryHandler(SeekProcedure, s.Seek, opts...))
	mux.Handle(SeekFractionProcedure, connect.NewUnaryHandler(SeekFractionProcedure, s.SeekFraction, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, s.Stop, opts...))
	mux.Handle(SetVolumeProcedure, connect.NewUnaryHandler(SetVolumeProcedure, s.SetVolume, opts...))
	mux.Handle(SetRepeatProcedure, connect.NewUnaryHandler(SetRepeatProcedure, s.SetRepeat, opts...))
	mux.Handle(SkipNextProcedure, connect.NewUnaryHandler(SkipNextProcedure, s.SkipNext, opts...))
	mux.Handle(SkipPreviousProcedure, connect.NewUnaryHandler(SkipPreviousProcedure, s.SkipPrevious, opts...))
	mux.Handle(OpenFullPlayerProcedure, connect.NewUnaryHandler(OpenFullPlayerProcedure, s.OpenFullPlayer, opts...))
	mux.Handle(CloseFullPlayerProcedure, connect.NewUnaryHandler(CloseFullPlayerProcedure, s.CloseFullPlayer, opts...))
	mux.Handle(ReportFocusProcedure, connect.NewUnaryHandler(ReportFocusProcedure, s.ReportFocus, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, s.Subscribe, opts...))

	return "/" + PlayerServiceName + "/", mux
}

// GetStatus returns the current session status.
func (s *PlayerService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.statusResponse()
}

// ListTracks returns the catalog. A non-empty genre filters it.
func (s *PlayerService) ListTracks(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	tracks := s.session.Tracks(req.Msg.GetValue())
	items := lo.Map(tracks, func(t track.Track, _ int) any {
		return session.TrackMap(&t)
	})

	msg, err := structpb.NewStruct(map[string]any{"tracks": items})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode tracks"))
	}
	return connect.NewResponse(msg), nil
}

// Select plays a track, or opens the full player if it is already current.
func (s *PlayerService) Select(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	if req.Msg.GetValue() == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("track id is required"))
	}
	return s.run(s.session.Select(ctx, req.Msg.GetValue()))
}

// Play loads and plays a track.
func (s *PlayerService) Play(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	if req.Msg.GetValue() == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("track id is required"))
	}
	return s.run(s.session.Play(ctx, req.Msg.GetValue()))
}

// TogglePlayPause flips between playing and paused.
func (s *PlayerService) TogglePlayPause(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.TogglePlayPause(ctx))
}

// Pause pauses playback. Pausing while not playing is a no-op.
func (s *PlayerService) Pause(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.Pause(ctx))
}

// Resume continues playback. Resuming while playing is a no-op.
func (s *PlayerService) Resume(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.Resume(ctx))
}

// Seek moves to a position in milliseconds.
func (s *PlayerService) Seek(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.Seek(ctx, time.Duration(req.Msg.GetValue())*time.Millisecond))
}

// SeekFraction moves to a fraction of the duration.
func (s *PlayerService) SeekFraction(
	ctx context.Context,
	req *connect.Request[wrapperspb.DoubleValue],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.SeekFraction(ctx, req.Msg.GetValue()))
}

// Stop stops playback.
func (s *PlayerService) Stop(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.Stop(ctx))
}

// SetVolume sets the volume.
func (s *PlayerService) SetVolume(
	ctx context.Context,
	req *connect.Request[wrapperspb.DoubleValue],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.SetVolume(ctx, req.Msg.GetValue()))
}

// SetRepeat sets repeat mode.
func (s *PlayerService) SetRepeat(
	ctx context.Context,
	req *connect.Request[wrapperspb.BoolValue],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.SetRepeat(ctx, req.Msg.GetValue()))
}

// SkipNext skips to the next track.
func (s *PlayerService) SkipNext(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.SkipNext(ctx))
}

// SkipPrevious skips to the previous track.
func (s *PlayerService) SkipPrevious(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.SkipPrevious(ctx))
}

// OpenFullPlayer navigates to the full player screen.
func (s *PlayerService) OpenFullPlayer(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.OpenFullPlayer(ctx))
}

// CloseFullPlayer leaves the full player screen.
func (s *PlayerService) CloseFullPlayer(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.run(s.session.CloseFullPlayer(ctx))
}

// ReportFocus applies a focus change reported by the UI.
// The request carries {"screen": string, "focused": bool}.
func (s *PlayerService) ReportFocus(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()
	screen := fields["screen"].GetStringValue()
	if screen == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("screen is required"))
	}

	s.session.ReportFocus(navigation.FocusEvent{
		Screen:  screen,
		Focused: fields["focused"].GetBoolValue(),
	})
	return s.statusResponse()
}

// Subscribe streams session notifications, starting with the current status.
func (s *PlayerService) Subscribe(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID, err := s.session.Subscribe(adapter)
	if err != nil {
		return toConnectError(err)
	}
	zlog.Info().Msgf("subscriber connected: id=%s", subscriptionID)

	// Wait for context cancellation or session end
	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}

	s.session.Unsubscribe(subscriptionID)
	zlog.Info().Msgf("subscriber disconnected: id=%s", subscriptionID)
	return nil
}

func (s *PlayerService) run(err error) (*connect.Response[structpb.Struct], error) {
	if err != nil {
		return nil, toConnectError(err)
	}
	return s.statusResponse()
}

func (s *PlayerService) statusResponse() (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(s.session.Status().Map())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode status"))
	}
	return connect.NewResponse(msg), nil
}

// NotificationStruct converts a notification into its wire form.
func NotificationStruct(n *notification.Notification) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"sequence_no": int64(n.SequenceNo),
		"event":       n.Event,
		"message":     n.Message,
		"time":        n.Time.Format(time.RFC3339Nano),
		"data":        n.Data,
	})
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	stream *connect.ServerStream[structpb.Struct]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	msg, err := NotificationStruct(n)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}
	return a.stream.Send(msg)
}

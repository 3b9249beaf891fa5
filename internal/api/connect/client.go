package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PlayerClient is a client for the player service.
type PlayerClient struct {
	getStatus       *connect.Client[emptypb.Empty, structpb.Struct]
	listTracks      *connect.Client[wrapperspb.StringValue, structpb.Struct]
	selectTrack     *connect.Client[wrapperspb.StringValue, structpb.Struct]
	play            *connect.Client[wrapperspb.StringValue, structpb.Struct]
	togglePlayPause *connect.Client[emptypb.Empty, structpb.Struct]
	pause           *connect.Client[emptypb.Empty, structpb.Struct]
	resume          *connect.Client[emptypb.Empty, structpb.Struct]
	seek            *connect.Client[wrapperspb.Int64Value, structpb.Struct]
	seekFraction    *connect.Client[wrapperspb.DoubleValue, structpb.Struct]
	stop            *connect.Client[emptypb.Empty, structpb.Struct]
	setVolume       *connect.Client[wrapperspb.DoubleValue, structpb.Struct]
	setRepeat       *connect.Client[wrapperspb.BoolValue, structpb.Struct]
	skipNext        *connect.Client[emptypb.Empty, structpb.Struct]
	skipPrevious    *connect.Client[emptypb.Empty, structpb.Struct]
	openFullPlayer  *connect.Client[emptypb.Empty, structpb.Struct]
	closeFullPlayer *connect.Client[emptypb.Empty, structpb.Struct]
	reportFocus     *connect.Client[structpb.Struct, structpb.Struct]
	subscribe       *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewPlayerClient creates a client for the player service at baseURL.
func NewPlayerClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PlayerClient {
	return &PlayerClient{
		getStatus:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStatusProcedure, opts...),
		listTracks:      connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+ListTracksProcedure, opts...),
		selectTrack:     connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+SelectProcedure, opts...),
		play:            connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+PlayProcedure, opts...),
		togglePlayPause: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+TogglePlayPauseProcedure, opts...),
		pause:           connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+PauseProcedure, opts...),
		resume:          connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ResumeProcedure, opts...),
		seek:            connect.NewClient[wrapperspb.Int64Value, structpb.Struct](httpClient, baseURL+SeekProcedure, opts...),
		seekFraction:    connect.NewClient[wrapperspb.DoubleValue, structpb.Struct](httpClient, baseURL+SeekFractionProcedure, opts...),
		stop:            connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StopProcedure, opts...),
		setVolume:       connect.NewClient[wrapperspb.DoubleValue, structpb.Struct](httpClient, baseURL+SetVolumeProcedure, opts...),
		setRepeat:       connect.NewClient[wrapperspb.BoolValue, structpb.Struct](httpClient, baseURL+SetRepeatProcedure, opts...),
		skipNext:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+SkipNextProcedure, opts...),
		skipPrevious:    connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+SkipPreviousProcedure, opts...),
		openFullPlayer:  connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+OpenFullPlayerProcedure, opts...),
		closeFullPlayer: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+CloseFullPlayerProcedure, opts...),
		reportFocus:     connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ReportFocusProcedure, opts...),
		subscribe:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+SubscribeProcedure, opts...),
	}
}

func unwrap(resp *connect.Response[structpb.Struct], err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// GetStatus returns the session status.
func (c *PlayerClient) GetStatus(ctx context.Context) (map[string]any, error) {
	return unwrap(c.getStatus.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// ListTracks returns the catalog tracks, filtered by genre when not empty.
func (c *PlayerClient) ListTracks(ctx context.Context, genre string) ([]any, error) {
	m, err := unwrap(c.listTracks.CallUnary(ctx, connect.NewRequest(wrapperspb.String(genre))))
	if err != nil {
		return nil, err
	}
	tracks, _ := m["tracks"].([]any)
	return tracks, nil
}

func (c *PlayerClient) Select(ctx context.Context, trackID string) (map[string]any, error) {
	return unwrap(c.selectTrack.CallUnary(ctx, connect.NewRequest(wrapperspb.String(trackID))))
}

func (c *PlayerClient) Play(ctx context.Context, trackID string) (map[string]any, error) {
	return unwrap(c.play.CallUnary(ctx, connect.NewRequest(wrapperspb.String(trackID))))
}

func (c *PlayerClient) TogglePlayPause(ctx context.Context) (map[string]any, error) {
	return unwrap(c.togglePlayPause.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

func (c *PlayerClient) Pause(ctx context.Context) (map[string]any, error) {
	return unwrap(c.pause.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

func (c *PlayerClient) Resume(ctx context.Context) (map[string]any, error) {
	return unwrap(c.resume.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

func (c *PlayerClient) Seek(ctx context.Context, pos time.Duration) (map[string]any, error) {
	return unwrap(c.seek.CallUnary(ctx, connect.NewRequest(wrapperspb.Int64(pos.Milliseconds()))))
}

func (c *PlayerClient) SeekFraction(ctx context.Context, f float64) (map[string]any, error) {
	return unwrap(c.seekFraction.CallUnary(ctx, connect.NewRequest(wrapperspb.Double(f))))
}

func (c *PlayerClient) Stop(ctx context.Context) (map[string]any, error) {
	return unwrap(c.stop.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

func (c *PlayerClient) SetVolume(ctx context.Context, v float64) (map[string]any, error) {
	return unwrap(c.setVolume.CallUnary(ctx, connect.NewRequest(wrapperspb.Double(v))))
}

func (c *PlayerClient) SetRepeat(ctx context.Context, repeat bool) (map[string]any, error) {
	return unwrap(c.setRepeat.CallUnary(ctx, connect.NewRequest(wrapperspb.Bool(repeat))))
}

func (c *PlayerClient) SkipNext(ctx context.Context) (map[string]any, error) {
	return unwrap(c.skipNext.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

func (c *PlayerClient) SkipPrevious(ctx context.Context) (map[string]any, error) {
	return unwrap(c.skipPrevious.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

func (c *PlayerClient) OpenFullPlayer(ctx context.Context) (map[string]any, error) {
	return unwrap(c.openFullPlayer.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

func (c *PlayerClient) CloseFullPlayer(ctx context.Context) (map[string]any, error) {
	return unwrap(c.closeFullPlayer.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})))
}

// ReportFocus reports that screen gained or lost focus.
func (c *PlayerClient) ReportFocus(ctx context.Context, screen string, focused bool) (map[string]any, error) {
	msg, err := structpb.NewStruct(map[string]any{"screen": screen, "focused": focused})
	if err != nil {
		return nil, err
	}
	return unwrap(c.reportFocus.CallUnary(ctx, connect.NewRequest(msg)))
}

// Subscribe calls fn for every notification until the stream ends or fn
// returns false.
func (c *PlayerClient) Subscribe(ctx context.Context, fn func(map[string]any) bool) error {
	stream, err := c.subscribe.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if !fn(stream.Msg().AsMap()) {
			return nil
		}
	}
	return stream.Err()
}

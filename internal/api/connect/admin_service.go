// Package connect provides the Connect RPC admin API.
//
// Messages are google.protobuf.Struct values whose fields follow the types in
// this package, so the API needs no generated code.
package connect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/guildtune/internal/app/command"
	"github.com/osa030/guildtune/internal/app/notification"
	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/session"
	"github.com/osa030/guildtune/internal/app/session/registry"
)

// Sessions is the session manager as seen by the admin API.
type Sessions interface {
	Session(guildID string) (*playback.Controller, error)
	Leave(guildID string)
	Usage() []session.Usage
	Notifications() *notification.Manager
	Done() <-chan struct{}
}

// AdminService implements the admin RPCs.
type AdminService struct {
	sessions  Sessions
	directory command.Directory
}

// NewAdminService creates a new AdminService.
func NewAdminService(sessions Sessions, directory command.Directory) *AdminService {
	return &AdminService{
		sessions:  sessions,
		directory: directory,
	}
}

// NewAdminServiceHandler builds the HTTP handler serving every admin procedure.
// It returns the path prefix to mount the handler on.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ListServersProcedure, connect.NewUnaryHandler(ListServersProcedure, svc.ListServers, opts...))
	mux.Handle(UsageProcedure, connect.NewUnaryHandler(UsageProcedure, svc.Usage, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, svc.Resume, opts...))
	mux.Handle(LeaveProcedure, connect.NewUnaryHandler(LeaveProcedure, svc.Leave, opts...))
	mux.Handle(WatchEventsProcedure, connect.NewServerStreamHandler(WatchEventsProcedure, svc.WatchEvents, opts...))
	return "/" + AdminServiceName + "/", mux
}

// ListServers returns the guilds the bot is a member of.
func (s *AdminService) ListServers(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	servers := lo.Map(s.directory.Servers(), func(srv command.Server, _ int) ServerInfo {
		return ServerInfo{ID: srv.ID, Name: srv.Name, Members: srv.Members}
	})
	msg, err := listStruct("servers", servers)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Usage returns the activity of every guild with a session.
func (s *AdminService) Usage(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	usage := s.sessions.Usage()
	infos := make([]SessionInfo, len(usage))
	for i, u := range usage {
		infos[i] = SessionInfo{
			GuildID:   u.GuildID,
			GuildName: s.directory.GuildName(u.GuildID),
			State:     u.State.String(),
			QueueSize: u.QueueSize,
			Volume:    u.Volume,
		}
		if u.Current != nil {
			infos[i].Track = u.Current.Track.DisplayName()
		}
	}

	msg, err := listStruct("sessions", infos)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Skip skips the current track of a guild.
func (s *AdminService) Skip(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.act(req, "Track skipped", func(c *playback.Controller) error {
		_, err := c.Skip()
		return err
	})
}

// Pause pauses a guild's playback.
func (s *AdminService) Pause(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.act(req, "Playback paused", (*playback.Controller).Pause)
}

// Resume resumes a guild's playback.
func (s *AdminService) Resume(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.act(req, "Playback resumed", (*playback.Controller).Resume)
}

// Leave tears a guild's session down.
func (s *AdminService) Leave(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	return s.act(req, "Session closed", func(c *playback.Controller) error {
		s.sessions.Leave(c.GuildID())
		return nil
	})
}

// act runs fn against the addressed guild's session.
// Session-level failures are reported in the result, not as RPC errors.
func (s *AdminService) act(
	req *connect.Request[structpb.Struct],
	success string,
	fn func(c *playback.Controller) error,
) (*connect.Response[structpb.Struct], error) {
	var target GuildRequest
	if err := fromStruct(req.Msg, &target); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if target.GuildID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("guild_id is required"))
	}

	result := ActionResult{Success: true, Message: success}
	c, err := s.sessions.Session(target.GuildID)
	if err == nil {
		err = fn(c)
	}
	if err != nil {
		result = ActionResult{Success: false, Message: actionMessage(err)}
	}
	zlog.Info().Msgf("admin action: procedure=%s guild=%s success=%t", req.Spec().Procedure, target.GuildID, result.Success)

	msg, err := toStruct(result)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func actionMessage(err error) string {
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		return "No session for this guild"
	case errors.Is(err, playback.ErrNoTrack), errors.Is(err, playback.ErrNotPlaying):
		return "Nothing is playing"
	case errors.Is(err, playback.ErrNotPaused):
		return "Playback is not paused"
	}
	return err.Error()
}

// WatchEvents streams playback notifications until the client goes away or the bot shuts down.
// An empty guild_id watches every guild.
func (s *AdminService) WatchEvents(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	var target GuildRequest
	if err := fromStruct(req.Msg, &target); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}

	hub := s.sessions.Notifications()
	id := hub.Subscribe(target.GuildID, &eventStream{stream: stream})
	defer hub.Unsubscribe(id)
	zlog.Info().Msgf("admin watcher subscribed: id=%s guild=%s", id, target.GuildID)

	select {
	case <-ctx.Done():
	case <-s.sessions.Done():
	}
	zlog.Info().Msgf("admin watcher unsubscribed: id=%s", id)
	return nil
}

// eventStream adapts a server stream to notification.Stream.
// Broadcasts from different guilds may overlap, so sends are serialized.
type eventStream struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
}

func (e *eventStream) Send(n *notification.Notification) error {
	msg, err := toStruct(eventFromNotification(n))
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.Send(msg)
}

func eventFromNotification(n *notification.Notification) Event {
	return Event{
		SequenceNo: n.SequenceNo,
		Timestamp:  n.Timestamp.Format(time.RFC3339),
		GuildID:    n.GuildID,
		Type:       n.Type,
		State:      n.State,
		TrackID:    n.TrackID,
		TrackTitle: n.TrackTitle,
		Requester:  n.Requester,
		QueueSize:  n.QueueSize,
		Volume:     n.Volume,
	}
}

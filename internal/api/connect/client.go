package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminClient calls the admin API.
type AdminClient struct {
	listServers *connect.Client[emptypb.Empty, structpb.Struct]
	usage       *connect.Client[emptypb.Empty, structpb.Struct]
	skip        *connect.Client[structpb.Struct, structpb.Struct]
	pause       *connect.Client[structpb.Struct, structpb.Struct]
	resume      *connect.Client[structpb.Struct, structpb.Struct]
	leave       *connect.Client[structpb.Struct, structpb.Struct]
	watchEvents *connect.Client[structpb.Struct, structpb.Struct]
}

// NewAdminClient creates a client for the admin API at baseURL, authenticated with token.
func NewAdminClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *AdminClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append(opts, connect.WithInterceptors(NewAdminAuthInterceptor(token)))
	return &AdminClient{
		listServers: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ListServersProcedure, opts...),
		usage:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+UsageProcedure, opts...),
		skip:        connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SkipProcedure, opts...),
		pause:       connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+PauseProcedure, opts...),
		resume:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ResumeProcedure, opts...),
		leave:       connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+LeaveProcedure, opts...),
		watchEvents: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+WatchEventsProcedure, opts...),
	}
}

// ListServers returns the guilds the bot is a member of.
func (c *AdminClient) ListServers(ctx context.Context) ([]ServerInfo, error) {
	res, err := c.listServers.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, errors.Wrap(err, "list servers")
	}
	var servers []ServerInfo
	if err := fromListStruct(res.Msg, "servers", &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Usage returns the activity of every guild with a session.
func (c *AdminClient) Usage(ctx context.Context) ([]SessionInfo, error) {
	res, err := c.usage.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, errors.Wrap(err, "usage")
	}
	var sessions []SessionInfo
	if err := fromListStruct(res.Msg, "sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Skip skips the current track of a guild.
func (c *AdminClient) Skip(ctx context.Context, guildID string) (ActionResult, error) {
	return c.act(ctx, c.skip, guildID)
}

// Pause pauses a guild's playback.
func (c *AdminClient) Pause(ctx context.Context, guildID string) (ActionResult, error) {
	return c.act(ctx, c.pause, guildID)
}

// Resume resumes a guild's playback.
func (c *AdminClient) Resume(ctx context.Context, guildID string) (ActionResult, error) {
	return c.act(ctx, c.resume, guildID)
}

// Leave tears a guild's session down.
func (c *AdminClient) Leave(ctx context.Context, guildID string) (ActionResult, error) {
	return c.act(ctx, c.leave, guildID)
}

func (c *AdminClient) act(
	ctx context.Context,
	client *connect.Client[structpb.Struct, structpb.Struct],
	guildID string,
) (ActionResult, error) {
	req, err := toStruct(GuildRequest{GuildID: guildID})
	if err != nil {
		return ActionResult{}, err
	}
	res, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return ActionResult{}, errors.Wrapf(err, "action on guild %s", guildID)
	}
	var result ActionResult
	if err := fromStruct(res.Msg, &result); err != nil {
		return ActionResult{}, err
	}
	return result, nil
}

// WatchEvents streams playback events to fn until ctx is done or the server ends the stream.
// An empty guildID watches every guild.
func (c *AdminClient) WatchEvents(ctx context.Context, guildID string, fn func(Event)) error {
	req, err := toStruct(GuildRequest{GuildID: guildID})
	if err != nil {
		return err
	}
	stream, err := c.watchEvents.CallServerStream(ctx, connect.NewRequest(req))
	if err != nil {
		return errors.Wrap(err, "watch events")
	}
	defer stream.Close()

	for stream.Receive() {
		var event Event
		if err := fromStruct(stream.Msg(), &event); err != nil {
			return err
		}
		fn(event)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "watch events")
	}
	return nil
}

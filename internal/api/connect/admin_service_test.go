package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildtune/internal/app/command"
	"github.com/osa030/guildtune/internal/app/notification"
	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/session"
	"github.com/osa030/guildtune/internal/app/session/registry"
	"github.com/osa030/guildtune/internal/domain/track"
)

const testToken = "secret"

type stubSink struct {
	events chan playback.SinkEvent
}

func (s *stubSink) Start(seq uint64, t track.Track, volume int) error { return nil }
func (s *stubSink) Stop()                                             {}
func (s *stubSink) Pause()                                            {}
func (s *stubSink) Resume()                                           {}
func (s *stubSink) SetVolume(int)                                     {}
func (s *stubSink) Events() <-chan playback.SinkEvent                 { return s.events }

type stubVoice struct {
	channel string
}

func (v *stubVoice) Open(channelID string) error { v.channel = channelID; return nil }
func (v *stubVoice) Close() error                { v.channel = ""; return nil }
func (v *stubVoice) IsOpen() bool                { return v.channel != "" }
func (v *stubVoice) ChannelID() string           { return v.channel }

type fakeSessions struct {
	mu          sync.Mutex
	controllers map[string]*playback.Controller
	hub         *notification.Manager
	done        chan struct{}
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		controllers: make(map[string]*playback.Controller),
		hub:         notification.NewManager(),
		done:        make(chan struct{}),
	}
}

func (f *fakeSessions) start(t *testing.T, guildID, title string) *playback.Controller {
	t.Helper()
	c := playback.NewController(
		playback.Config{GuildID: guildID, DefaultVolume: playback.DefaultVolume},
		&stubSink{events: make(chan playback.SinkEvent)},
		&stubVoice{},
	)
	t.Cleanup(c.Close)
	_, _, err := c.Enqueue("vc-1", track.QueuedTrack{Track: track.Track{ID: title, Title: title, Artist: "Artist"}})
	require.NoError(t, err)

	f.mu.Lock()
	f.controllers[guildID] = c
	f.mu.Unlock()
	return c
}

func (f *fakeSessions) Session(guildID string) (*playback.Controller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.controllers[guildID]
	if !ok {
		return nil, registry.ErrSessionNotFound
	}
	return c, nil
}

func (f *fakeSessions) Leave(guildID string) {
	f.mu.Lock()
	c, ok := f.controllers[guildID]
	delete(f.controllers, guildID)
	f.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (f *fakeSessions) Usage() []session.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var usage []session.Usage
	for _, c := range f.controllers {
		snap := c.Snapshot()
		usage = append(usage, session.Usage{
			GuildID:   snap.GuildID,
			State:     snap.State,
			Current:   snap.Current,
			QueueSize: len(snap.Pending),
			Volume:    snap.Volume,
		})
	}
	return usage
}

func (f *fakeSessions) Notifications() *notification.Manager { return f.hub }
func (f *fakeSessions) Done() <-chan struct{}                { return f.done }

type fakeDirectory struct{}

func (fakeDirectory) UserVoiceChannel(guildID, userID string) (string, bool) { return "", false }

func (fakeDirectory) Servers() []command.Server {
	return []command.Server{
		{ID: "g1", Name: "Guild One", Members: 3},
		{ID: "g2", Name: "Guild Two", Members: 40},
	}
}

func (fakeDirectory) GuildName(guildID string) string {
	if guildID == "g1" {
		return "Guild One"
	}
	return ""
}

func newTestServer(t *testing.T) (*fakeSessions, *httptest.Server) {
	t.Helper()
	sessions := newFakeSessions()
	svc := NewAdminService(sessions, fakeDirectory{})
	path, handler := NewAdminServiceHandler(svc, connect.WithInterceptors(NewAdminAuthInterceptor(testToken)))

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return sessions, srv
}

func TestAdminService_ListServers(t *testing.T) {
	_, srv := newTestServer(t)
	client := NewAdminClient(srv.Client(), srv.URL, testToken)

	servers, err := client.ListServers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ServerInfo{
		{ID: "g1", Name: "Guild One", Members: 3},
		{ID: "g2", Name: "Guild Two", Members: 40},
	}, servers)
}

func TestAdminService_Usage(t *testing.T) {
	sessions, srv := newTestServer(t)
	client := NewAdminClient(srv.Client(), srv.URL, testToken)

	usage, err := client.Usage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, usage)

	sessions.start(t, "g1", "Song")
	usage, err = client.Usage(context.Background())
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, SessionInfo{
		GuildID:   "g1",
		GuildName: "Guild One",
		State:     playback.StatePlaying.String(),
		Track:     "Artist - Song",
		Volume:    playback.DefaultVolume,
	}, usage[0])
}

func TestAdminService_Actions(t *testing.T) {
	sessions, srv := newTestServer(t)
	client := NewAdminClient(srv.Client(), srv.URL, testToken)
	ctx := context.Background()
	c := sessions.start(t, "g1", "Song")

	res, err := client.Pause(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, ActionResult{Success: true, Message: "Playback paused"}, res)
	assert.Equal(t, playback.StatePaused, c.State())

	res, err = client.Resume(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, playback.StatePlaying, c.State())

	res, err = client.Resume(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, ActionResult{Success: false, Message: "Playback is not paused"}, res)

	res, err = client.Skip(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, playback.StateIdle, c.State())

	res, err = client.Skip(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, ActionResult{Success: false, Message: "Nothing is playing"}, res)

	res, err = client.Leave(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	_, err = sessions.Session("g1")
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)
}

func TestAdminService_UnknownGuild(t *testing.T) {
	_, srv := newTestServer(t)
	client := NewAdminClient(srv.Client(), srv.URL, testToken)

	res, err := client.Skip(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, ActionResult{Success: false, Message: "No session for this guild"}, res)
}

func TestAdminService_MissingGuildID(t *testing.T) {
	_, srv := newTestServer(t)
	client := NewAdminClient(srv.Client(), srv.URL, testToken)

	_, err := client.Pause(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestAdminService_RejectsBadToken(t *testing.T) {
	_, srv := newTestServer(t)

	for _, token := range []string{"", "wrong"} {
		client := NewAdminClient(srv.Client(), srv.URL, token)
		_, err := client.ListServers(context.Background())
		require.Error(t, err, token)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err), token)

		err = client.WatchEvents(context.Background(), "", func(Event) {})
		require.Error(t, err, token)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err), token)
	}
}

func TestAdminService_WatchEvents(t *testing.T) {
	sessions, srv := newTestServer(t)
	client := NewAdminClient(srv.Client(), srv.URL, testToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.WatchEvents(ctx, "g1", func(e Event) {
			events <- e
		})
	}()

	require.Eventually(t, func() bool {
		return sessions.hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Other guilds are filtered out.
	sessions.hub.Broadcast(&notification.Notification{GuildID: "g2", Type: "TRACK_STARTED"})
	sessions.hub.Broadcast(&notification.Notification{
		GuildID:    "g1",
		Type:       "TRACK_STARTED",
		State:      "PLAYING",
		TrackID:    "abc",
		TrackTitle: "Artist - Song",
		Volume:     80,
	})

	select {
	case e := <-events:
		assert.Equal(t, "g1", e.GuildID)
		assert.Equal(t, "TRACK_STARTED", e.Type)
		assert.Equal(t, "abc", e.TrackID)
		assert.Equal(t, 80, e.Volume)
		assert.Equal(t, uint64(2), e.SequenceNo)
		assert.NotEmpty(t, e.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	close(sessions.done)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after shutdown")
	}
	assert.Equal(t, 0, sessions.hub.SubscriberCount())
}

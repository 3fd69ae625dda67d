package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildtune/internal/app/notification"
	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/domain/track"
	"github.com/osa030/guildtune/internal/infra/config"
	"github.com/osa030/guildtune/internal/infra/spotify"
	"github.com/osa030/guildtune/internal/infra/youtube"
)

type fakeTracks struct {
	mu      sync.Mutex
	tracks  map[string]track.Track
	queries []string
}

func (f *fakeTracks) Resolve(ctx context.Context, query string) (track.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	t, ok := f.tracks[query]
	if !ok {
		return track.Track{}, errors.Wrapf(youtube.ErrNoMatch, "query=%q", query)
	}
	return t, nil
}

func (f *fakeTracks) SearchQuery(text string) string {
	return "ytmsearch: " + text
}

func (f *fakeTracks) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

type fakeLinks struct {
	info spotify.LinkInfo
	err  error
}

func (f *fakeLinks) Lookup(ctx context.Context, link string) (spotify.LinkInfo, error) {
	return f.info, f.err
}

type fakeNotifier struct {
	// onNotice runs before a notice is recorded. Set before the manager starts.
	onNotice func(text string)

	mu      sync.Mutex
	nextID  int
	posts   []playback.Snapshot
	edits   []string
	deletes []string
	notices []string
}

func (n *fakeNotifier) PostStatus(ctx context.Context, channelID string, snap playback.Snapshot) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.posts = append(n.posts, snap)
	return "msg-" + strconv.Itoa(n.nextID), nil
}

func (n *fakeNotifier) EditStatus(ctx context.Context, channelID, messageID string, snap playback.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edits = append(n.edits, messageID)
	return nil
}

func (n *fakeNotifier) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deletes = append(n.deletes, messageID)
	return nil
}

func (n *fakeNotifier) Notice(ctx context.Context, channelID, text string) {
	if n.onNotice != nil {
		n.onNotice(text)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
}

func (n *fakeNotifier) snapshot() (posts int, edits, deletes, notices []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.posts), append([]string(nil), n.edits...), append([]string(nil), n.deletes...), append([]string(nil), n.notices...)
}

type fakeSink struct {
	mu     sync.Mutex
	seqs   []uint64
	ids    []string
	events chan playback.SinkEvent
}

func (s *fakeSink) Start(seq uint64, t track.Track, volume int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs = append(s.seqs, seq)
	s.ids = append(s.ids, t.ID)
	return nil
}

func (s *fakeSink) Stop()                             {}
func (s *fakeSink) Pause()                            {}
func (s *fakeSink) Resume()                           {}
func (s *fakeSink) SetVolume(int)                     {}
func (s *fakeSink) Events() <-chan playback.SinkEvent { return s.events }

func (s *fakeSink) last() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seqs) == 0 {
		return 0, ""
	}
	return s.seqs[len(s.seqs)-1], s.ids[len(s.ids)-1]
}

type fakeVoice struct {
	mu      sync.Mutex
	channel string
}

func (v *fakeVoice) Open(channelID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channel = channelID
	return nil
}

func (v *fakeVoice) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channel = ""
	return nil
}

func (v *fakeVoice) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channel != ""
}

func (v *fakeVoice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channel
}

type fakeBackend struct {
	mu       sync.Mutex
	sinks    map[string]*fakeSink
	released []string
}

func (b *fakeBackend) NewOutput(guildID string) (playback.Sink, playback.Voice, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSink{events: make(chan playback.SinkEvent, 8)}
	b.sinks[guildID] = s
	return s, &fakeVoice{}, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.released = append(b.released, guildID)
	}
}

func (b *fakeBackend) sink(guildID string) *fakeSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinks[guildID]
}

func (b *fakeBackend) releasedGuilds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.released...)
}

type testEnv struct {
	m        *Manager
	tracks   *fakeTracks
	links    *fakeLinks
	notifier *fakeNotifier
	backend  *fakeBackend
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	env := &testEnv{
		tracks: &fakeTracks{tracks: map[string]track.Track{
			"ytmsearch: never gonna":       {ID: "rick", Title: "Never Gonna Give You Up", Artist: "Rick Astley", Duration: 3 * time.Minute},
			"ytmsearch: Song Band":         {ID: "song", Title: "Song", Artist: "Band", Duration: 2 * time.Minute},
			"ytmsearch: second":            {ID: "two", Title: "Second", Duration: time.Minute},
			"https://youtu.be/abcdefghijk": {ID: "abcdefghijk", Title: "Linked", Duration: time.Minute},
		}},
		links:    &fakeLinks{info: spotify.LinkInfo{Title: "Song", Artist: "Band"}},
		notifier: &fakeNotifier{},
		backend:  &fakeBackend{sinks: make(map[string]*fakeSink)},
	}
	m, err := NewManager(cfg, env.tracks, env.links, env.notifier, env.backend)
	require.NoError(t, err)
	env.m = m
	t.Cleanup(m.Close)
	return env
}

func request(query string) PlayRequest {
	return PlayRequest{
		GuildID:        "guild-1",
		VoiceChannelID: "voice-1",
		TextChannelID:  "text-1",
		Query:          query,
		Requester:      track.Requester{ID: "user-1", Name: "alice"},
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]InputKind{
		"https://open.spotify.com/track/abc?si=x":     InputCatalogLink,
		"spotify:track:abc":                           InputCatalogLink,
		"https://www.youtube.com/watch?v=abcdefghijk": InputVideoLink,
		"youtu.be/abcdefghijk":                        InputVideoLink,
		"never gonna give you up":                     InputSearch,
		"  ":                                          InputSearch,
	}
	for in, want := range tests {
		assert.Equal(t, want, Classify(in), in)
	}
}

func TestManager_PlaySearchStartsPlayback(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.m.Play(context.Background(), request("  never gonna "))
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, "rick", res.Entry.Track.ID)
	assert.Equal(t, "alice", res.Entry.Requester.Name)
	assert.Equal(t, "ytmsearch: never gonna", env.tracks.lastQuery())

	_, id := env.backend.sink("guild-1").last()
	assert.Equal(t, "rick", id)

	c, err := env.m.Session("guild-1")
	require.NoError(t, err)
	assert.Equal(t, "text-1", c.TextChannel())

	assert.Eventually(t, func() bool {
		posts, _, _, _ := env.notifier.snapshot()
		return posts == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManager_PlayQueuesBehindCurrent(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)
	res, err := env.m.Play(context.Background(), request("second"))
	require.NoError(t, err)

	assert.False(t, res.Started)
	assert.Equal(t, 1, res.Position)
}

func TestManager_PlayCatalogLink(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.m.Play(context.Background(), request("https://open.spotify.com/track/abc123"))
	require.NoError(t, err)
	assert.Equal(t, "song", res.Entry.Track.ID)
	assert.Equal(t, "ytmsearch: Song Band", env.tracks.lastQuery())
}

func TestManager_PlayCatalogLinkFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.links.err = errors.Wrap(spotify.ErrLinkParseFailed, "no id")

	_, err := env.m.Play(context.Background(), request("https://open.spotify.com/album/abc"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLinkLookupFailed))
	assert.True(t, errors.Is(err, spotify.ErrLinkParseFailed))
	assert.Empty(t, env.m.Usage())
}

func TestManager_PlayVideoLinkPassesThrough(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.m.Play(context.Background(), request("https://youtu.be/abcdefghijk"))
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijk", res.Entry.Track.ID)
	assert.Equal(t, "https://youtu.be/abcdefghijk", env.tracks.lastQuery())
}

func TestManager_PlayErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.m.Play(context.Background(), request("   "))
	assert.True(t, errors.Is(err, ErrEmptyQuery))

	_, err = env.m.Play(context.Background(), request("nothing matches this"))
	assert.True(t, errors.Is(err, youtube.ErrNoMatch))

	// Failed requests never create a session.
	assert.Empty(t, env.m.Usage())
}

func TestManager_PlayRejectedByFilter(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Filters = map[string]config.FilterConfig{
			"duplicate_track_filter": {Enabled: true},
		}
	})

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)

	_, err = env.m.Play(context.Background(), request("never gonna"))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "duplicate_track", rejected.Code)
	assert.Equal(t, "rick", rejected.Track.ID)
}

func TestManager_NewManagerRejectsUnknownFilter(t *testing.T) {
	cfg := config.Default()
	cfg.Filters = map[string]config.FilterConfig{"no_such_filter": {Enabled: true}}

	_, err := NewManager(cfg, &fakeTracks{}, &fakeLinks{}, &fakeNotifier{}, &fakeBackend{sinks: map[string]*fakeSink{}})
	assert.Error(t, err)
}

func TestManager_TrackEndEditsStatusThenQueueEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)
	_, err = env.m.Play(context.Background(), request("second"))
	require.NoError(t, err)

	sink := env.backend.sink("guild-1")
	assert.Eventually(t, func() bool {
		posts, _, _, _ := env.notifier.snapshot()
		return posts == 1
	}, time.Second, 5*time.Millisecond)

	// First track ends: the second starts and the status message is edited in place.
	seq, _ := sink.last()
	sink.events <- playback.SinkEvent{Seq: seq}
	assert.Eventually(t, func() bool {
		_, id := sink.last()
		_, edits, _, _ := env.notifier.snapshot()
		return id == "two" && len(edits) > 0
	}, time.Second, 5*time.Millisecond)

	// Second track ends: the status message goes away and the queue-empty notice is posted.
	seq, _ = sink.last()
	sink.events <- playback.SinkEvent{Seq: seq}
	assert.Eventually(t, func() bool {
		_, _, deletes, notices := env.notifier.snapshot()
		return len(deletes) == 1 && assert.ObjectsAreEqual([]string{"The queue is empty!"}, notices)
	}, time.Second, 5*time.Millisecond)

	posts, _, deletes, _ := env.notifier.snapshot()
	assert.Equal(t, 1, posts)
	assert.Equal(t, []string{"msg-1"}, deletes)
}

func TestManager_TrackFailureNotice(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)

	sink := env.backend.sink("guild-1")
	seq, _ := sink.last()
	sink.events <- playback.SinkEvent{Seq: seq, Err: errors.New("stream broke")}

	assert.Eventually(t, func() bool {
		_, _, _, notices := env.notifier.snapshot()
		return len(notices) == 2 &&
			notices[0] == "Could not play 'Never Gonna Give You Up', skipping." &&
			notices[1] == "The queue is empty!"
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ParticipantsEmptiedRemovesSession(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)

	env.m.ParticipantsEmptied("guild-1")
	env.m.ParticipantsEmptied("unknown-guild")

	assert.Eventually(t, func() bool {
		return len(env.m.Usage()) == 0 && len(env.backend.releasedGuilds()) == 1
	}, time.Second, 5*time.Millisecond)

	_, _, _, notices := env.notifier.snapshot()
	assert.Contains(t, notices, "The voice channel is empty, leaving the channel.")

	_, err = env.m.Session("guild-1")
	assert.Error(t, err)
}

func TestManager_IdleTimeoutRemovesSession(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Playback.IdleTimeout = 30 * time.Millisecond
	})

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)
	c, err := env.m.Session("guild-1")
	require.NoError(t, err)
	_, err = c.Skip()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(env.m.Usage()) == 0
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, _, _, notices := env.notifier.snapshot()
		return assert.ObjectsAreEqual([]string{"The queue is empty!", "Nothing played for a while, leaving the channel."}, notices)
	}, time.Second, 5*time.Millisecond)
}

func TestManager_PlayDuringIdleTeardownStartsNewSession(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Playback.IdleTimeout = 30 * time.Millisecond
	})

	leaving := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })
	env.notifier.onNotice = func(text string) {
		if text == "Nothing played for a while, leaving the channel." {
			close(leaving)
			<-release
		}
	}

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)
	old, err := env.m.Session("guild-1")
	require.NoError(t, err)
	_, err = old.Skip()
	require.NoError(t, err)

	select {
	case <-leaving:
	case <-time.After(time.Second):
		t.Fatal("idle teardown did not start")
	}

	// The old session is still registered while its leave notice is being posted.
	res, err := env.m.Play(context.Background(), request("second"))
	require.NoError(t, err)
	assert.True(t, res.Started)

	releaseOnce.Do(func() { close(release) })

	cur, err := env.m.Session("guild-1")
	require.NoError(t, err)
	assert.NotSame(t, old, cur)

	assert.Never(t, func() bool {
		_, err := env.m.Session("guild-1")
		return err != nil
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, playback.StatePlaying, cur.State())
	_, id := env.backend.sink("guild-1").last()
	assert.Equal(t, "rick", id)

	_, _, err = old.Enqueue("voice-1", track.QueuedTrack{Track: track.Track{ID: "late"}})
	assert.ErrorIs(t, err, playback.ErrClosed)
}

func TestManager_UsageAndLeave(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)
	req := request("second")
	req.GuildID = "guild-0"
	_, err = env.m.Play(context.Background(), req)
	require.NoError(t, err)
	_, err = env.m.Play(context.Background(), request("second"))
	require.NoError(t, err)

	usage := env.m.Usage()
	require.Len(t, usage, 2)
	assert.Equal(t, "guild-0", usage[0].GuildID)
	assert.Equal(t, "guild-1", usage[1].GuildID)
	assert.Equal(t, playback.StatePlaying, usage[1].State)
	assert.Equal(t, "rick", usage[1].Current.Track.ID)
	assert.Equal(t, 1, usage[1].QueueSize)
	assert.Equal(t, 100, usage[1].Volume)

	env.m.Leave("guild-0")
	env.m.Leave("guild-0")
	assert.Len(t, env.m.Usage(), 1)
}

type recordingStream struct {
	mu    sync.Mutex
	types []string
}

func (s *recordingStream) Send(n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, n.Type)
	return nil
}

func TestManager_BroadcastsToWatchers(t *testing.T) {
	env := newTestEnv(t, nil)
	stream := &recordingStream{}
	env.m.Notifications().Subscribe("guild-1", stream)

	_, err := env.m.Play(context.Background(), request("never gonna"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.types) > 0 && stream.types[0] == playback.EventTrackStarted.String()
	}, time.Second, 5*time.Millisecond)
}

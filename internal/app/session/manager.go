// Package session provides the session manager: it resolves play requests,
// owns the guild registry and turns playback events into chat status output.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/guildtune/internal/app/filter"
	"github.com/osa030/guildtune/internal/app/notification"
	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/session/registry"
	"github.com/osa030/guildtune/internal/domain/track"
	"github.com/osa030/guildtune/internal/infra/config"
	"github.com/osa030/guildtune/internal/infra/spotify"
)

var (
	ErrEmptyQuery       = errors.New("empty query")
	ErrLinkLookupFailed = errors.New("catalog link lookup failed")
)

// RejectedError is returned when a request filter refuses a track.
type RejectedError struct {
	Code  string
	Track track.Track
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Code
}

// TrackResolver turns a query into a playable track.
type TrackResolver interface {
	Resolve(ctx context.Context, query string) (track.Track, error)
	// SearchQuery marks free text as a music search.
	SearchQuery(text string) string
}

// LinkResolver looks up catalog links.
type LinkResolver interface {
	Lookup(ctx context.Context, link string) (spotify.LinkInfo, error)
}

// Notifier renders session status into a guild's chat channel.
type Notifier interface {
	PostStatus(ctx context.Context, channelID string, snap playback.Snapshot) (messageID string, err error)
	EditStatus(ctx context.Context, channelID, messageID string, snap playback.Snapshot) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// Notice posts a short-lived text message.
	Notice(ctx context.Context, channelID, text string)
}

// Backend builds the audio output and voice connection of a guild.
// release is called once the guild's session is torn down.
type Backend interface {
	NewOutput(guildID string) (sink playback.Sink, voice playback.Voice, release func())
}

// PlayRequest represents a "!play" request.
type PlayRequest struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Query          string
	Requester      track.Requester
}

// PlayResult describes what happened to an accepted request.
type PlayResult struct {
	Entry    track.QueuedTrack
	Started  bool // the track went straight to the now-playing slot
	Position int  // 1-based pending position when not started
}

// Usage is one guild's activity as reported to admins.
type Usage struct {
	GuildID   string
	State     playback.State
	Current   *track.QueuedTrack
	QueueSize int
	Volume    int
}

// Manager manages guild sessions.
type Manager struct {
	config       *config.Config
	registry     *registry.GuildRegistry
	tracks       TrackResolver
	links        LinkResolver
	notifier     Notifier
	backend      Backend
	filterChain  *filter.Chain
	notification *notification.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new session manager.
func NewManager(
	cfg *config.Config,
	tracks TrackResolver,
	links LinkResolver,
	notifier Notifier,
	backend Backend,
) (*Manager, error) {
	chain, err := filter.NewChainFromSettings(cfg.EnabledFilterSettings())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request filters")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:       cfg,
		tracks:       tracks,
		links:        links,
		notifier:     notifier,
		backend:      backend,
		filterChain:  chain,
		notification: notification.NewManager(),
		ctx:          ctx,
		cancel:       cancel,
	}
	m.registry = registry.NewGuildRegistry(m.newSession)
	return m, nil
}

// newSession builds a controller and starts its event loop.
// Called by the registry under its write lock.
func (m *Manager) newSession(guildID string) *playback.Controller {
	sink, voice, release := m.backend.NewOutput(guildID)
	c := playback.NewController(playback.Config{
		GuildID:       guildID,
		IdleTimeout:   m.config.Playback.IdleTimeout,
		DefaultVolume: m.config.Playback.DefaultVolume,
		EventBuffer:   m.config.Playback.EventBuffer,
	}, sink, voice)

	zlog.Info().Msgf("session created: guild=%s id=%s", guildID, c.ID())

	m.wg.Add(1)
	go m.eventLoop(c, release)
	return c
}

// Play resolves a request and enqueues the result on the guild's session.
func (m *Manager) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	resolverQuery, err := m.buildQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	t, err := m.tracks.Resolve(ctx, resolverQuery)
	if err != nil {
		zlog.Info().Msgf("play request not resolved: guild=%s query=%q error=%v", req.GuildID, query, err)
		return nil, err
	}

	result := m.filterChain.Execute(ctx, filter.Request{
		GuildID:   req.GuildID,
		Requester: req.Requester,
		Queued:    m.queued(req.GuildID),
	}, t)
	if !result.Accepted {
		zlog.Info().Msgf("play request rejected: guild=%s user=%s track=%s code=%s", req.GuildID, req.Requester.Name, t.Title, result.Code)
		return nil, &RejectedError{Code: result.Code, Track: t}
	}

	qt := track.QueuedTrack{
		Track:     t,
		Requester: req.Requester,
		AddedAt:   time.Now(),
	}

	c, started, position, err := m.enqueue(req, qt)
	if err != nil {
		return nil, err
	}

	zlog.Info().Msgf("track queued: guild=%s user=%s track=%q started=%t position=%d", req.GuildID, req.Requester.Name, t.DisplayName(), started, position)
	if !started {
		// Queue size and next track changed.
		m.renderStatus(c, false)
	}
	return &PlayResult{Entry: qt, Started: started, Position: position}, nil
}

// enqueue adds qt to the guild's session. A session that its idle timer or an
// emptied channel already ended is dropped and replaced once.
func (m *Manager) enqueue(req PlayRequest, qt track.QueuedTrack) (*playback.Controller, bool, int, error) {
	for attempt := 0; ; attempt++ {
		c, _ := m.registry.GetOrCreate(req.GuildID)
		if req.TextChannelID != "" {
			c.SetTextChannel(req.TextChannelID)
		}
		started, position, err := c.Enqueue(req.VoiceChannelID, qt)
		if errors.Is(err, playback.ErrClosed) && attempt == 0 {
			zlog.Debug().Msgf("replacing ended session: guild=%s id=%s", req.GuildID, c.ID())
			m.registry.RemoveSession(c)
			continue
		}
		return c, started, position, err
	}
}

// buildQuery turns user input into a resolver query.
func (m *Manager) buildQuery(ctx context.Context, query string) (string, error) {
	switch Classify(query) {
	case InputCatalogLink:
		info, err := m.links.Lookup(ctx, query)
		if err != nil {
			return "", errors.Mark(errors.Wrapf(err, "link=%s", query), ErrLinkLookupFailed)
		}
		if info.Query() == "" {
			return "", errors.Wrapf(ErrLinkLookupFailed, "link=%s has no title", query)
		}
		return m.tracks.SearchQuery(info.Query()), nil
	case InputVideoLink:
		return query, nil
	default:
		return m.tracks.SearchQuery(query), nil
	}
}

// queued returns the guild's now-playing entry followed by its pending entries.
func (m *Manager) queued(guildID string) []track.QueuedTrack {
	c, err := m.registry.Get(guildID)
	if err != nil {
		return nil
	}
	snap := c.Snapshot()
	if snap.Current == nil {
		return snap.Pending
	}
	return append([]track.QueuedTrack{*snap.Current}, snap.Pending...)
}

// Session returns the guild's playback session.
func (m *Manager) Session(guildID string) (*playback.Controller, error) {
	return m.registry.Get(guildID)
}

// ParticipantsEmptied forwards an empty voice channel to the guild's session.
func (m *Manager) ParticipantsEmptied(guildID string) {
	c, err := m.registry.Get(guildID)
	if err != nil {
		return
	}
	c.ParticipantsEmptied()
}

// Leave tears the guild's session down.
func (m *Manager) Leave(guildID string) {
	m.registry.Remove(guildID)
}

// Usage reports the activity of every guild with a session.
func (m *Manager) Usage() []Usage {
	return lo.Map(m.registry.All(), func(c *playback.Controller, _ int) Usage {
		snap := c.Snapshot()
		return Usage{
			GuildID:   snap.GuildID,
			State:     snap.State,
			Current:   snap.Current,
			QueueSize: len(snap.Pending),
			Volume:    snap.Volume,
		}
	})
}

// Notifications returns the admin notification hub.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Done is closed once the manager is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Close tears every session down and waits for the event loops to finish.
func (m *Manager) Close() {
	m.registry.CloseAll()
	m.cancel()
	m.wg.Wait()
	m.notification.Close()
}

// eventLoop renders one session's events until its controller closes.
func (m *Manager) eventLoop(c *playback.Controller, release func()) {
	defer m.wg.Done()
	defer func() {
		if release != nil {
			release()
		}
		zlog.Info().Msgf("session closed: guild=%s id=%s", c.GuildID(), c.ID())
	}()

	for event := range c.Events() {
		m.broadcast(c, event)
		m.handlePlaybackEvent(c, event)
	}
}

func (m *Manager) handlePlaybackEvent(c *playback.Controller, event playback.Event) {
	zlog.Debug().Msgf("playback event: guild=%s type=%s", event.GuildID, event.Type)

	switch event.Type {
	case playback.EventTrackStarted, playback.EventStateChanged, playback.EventVolumeChanged:
		m.renderStatus(c, event.Type == playback.EventTrackStarted)

	case playback.EventTrackFailed:
		if event.Track != nil {
			m.notice(c, m.config.Messagef("track_failed", event.Track.Track.Title))
		}

	case playback.EventQueueEmpty:
		m.clearStatus(c)
		m.notice(c, m.config.GetMessage("queue_empty"))

	case playback.EventStopped:
		m.clearStatus(c)

	case playback.EventIdleTimeout:
		m.clearStatus(c)
		m.notice(c, m.config.GetMessage("idle_leave"))
		m.registry.RemoveSession(c)

	case playback.EventEmptied:
		m.clearStatus(c)
		m.notice(c, m.config.GetMessage("channel_empty"))
		m.registry.RemoveSession(c)
	}
}

// renderStatus posts the now-playing message, or edits it in place when one exists.
// A track start with no live message posts a fresh one.
func (m *Manager) renderStatus(c *playback.Controller, trackStarted bool) {
	channelID := c.TextChannel()
	if channelID == "" {
		return
	}
	snap := c.Snapshot()
	if snap.Current == nil {
		return
	}

	if msg, ok := c.StatusMessage(); ok {
		err := m.notifier.EditStatus(m.ctx, msg.ChannelID, msg.MessageID, snap)
		if err == nil {
			return
		}
		zlog.Warn().Msgf("failed to edit status message: guild=%s message=%s error=%v", c.GuildID(), msg.MessageID, err)
		if !trackStarted {
			return
		}
	} else if !trackStarted {
		return
	}

	id, err := m.notifier.PostStatus(m.ctx, channelID, snap)
	if err != nil {
		zlog.Warn().Msgf("failed to post status message: guild=%s error=%v", c.GuildID(), err)
		return
	}
	c.SetStatusMessage(&playback.StatusMessage{ChannelID: channelID, MessageID: id})
}

func (m *Manager) clearStatus(c *playback.Controller) {
	msg, ok := c.StatusMessage()
	if !ok {
		return
	}
	c.SetStatusMessage(nil)
	if err := m.notifier.DeleteMessage(m.ctx, msg.ChannelID, msg.MessageID); err != nil {
		zlog.Debug().Msgf("failed to delete status message: guild=%s error=%v", c.GuildID(), err)
	}
}

func (m *Manager) notice(c *playback.Controller, text string) {
	if channelID := c.TextChannel(); channelID != "" {
		m.notifier.Notice(m.ctx, channelID, text)
	}
}

func (m *Manager) broadcast(c *playback.Controller, event playback.Event) {
	if m.notification.SubscriberCount() == 0 {
		return
	}
	n := &notification.Notification{
		GuildID: event.GuildID,
		Type:    event.Type.String(),
		State:   event.State.String(),
		Volume:  event.Volume,
	}
	if event.Track != nil {
		n.TrackID = event.Track.Track.ID
		n.TrackTitle = event.Track.Track.DisplayName()
		n.Requester = event.Track.Requester.Name
	}
	n.QueueSize = len(c.Snapshot().Pending)
	m.notification.Broadcast(n)
}

// Package discord connects the bot to the Discord gateway: chat input and
// output, voice connections and voice membership tracking.
package discord

import (
	"context"
	"runtime/debug"
	"sort"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildtune/internal/app/command"
	"github.com/osa030/guildtune/internal/domain/track"
	"github.com/osa030/guildtune/internal/infra/config"
)

var _ command.Directory = (*Gateway)(nil)

// MessageHandler receives chat messages from guild text channels.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg command.Message)
}

// VoiceHandler receives voice membership changes relevant to a session.
type VoiceHandler interface {
	// ParticipantsEmptied is called when the bot is left alone in its voice channel.
	ParticipantsEmptied(guildID string)
	// Leave is called when the bot was disconnected from voice by someone else.
	Leave(guildID string)
}

// Gateway owns the gateway session and routes its events.
type Gateway struct {
	session *discordgo.Session
	config  *config.Config

	messages MessageHandler
	voice    VoiceHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a gateway session. Handlers must be bound before Open.
func New(cfg *config.Config) (*Gateway, error) {
	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	s.LogLevel = logLevel()

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		session: s,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.AddHandler(g.onReady)
	s.AddHandler(g.onMessageCreate)
	s.AddHandler(g.onVoiceStateUpdate)
	return g, nil
}

// Session returns the underlying gateway session.
func (g *Gateway) Session() *discordgo.Session {
	return g.session
}

// Bind sets the receivers of chat messages and voice membership changes.
func (g *Gateway) Bind(messages MessageHandler, voice VoiceHandler) {
	g.messages = messages
	g.voice = voice
}

// Open connects to the gateway.
func (g *Gateway) Open() error {
	if g.messages == nil || g.voice == nil {
		return errors.New("gateway handlers are not bound")
	}
	if err := g.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord session")
	}
	return nil
}

// Close cancels in-flight handlers and disconnects from the gateway.
func (g *Gateway) Close() error {
	g.cancel()
	if err := g.session.Close(); err != nil {
		return errors.Wrap(err, "failed to close discord session")
	}
	return nil
}

// UserVoiceChannel returns the voice channel the user is in.
func (g *Gateway) UserVoiceChannel(guildID, userID string) (string, bool) {
	vs, err := g.session.State.VoiceState(guildID, userID)
	if err != nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// Servers lists the guilds the bot is a member of, by name.
func (g *Gateway) Servers() []command.Server {
	state := g.session.State
	state.RLock()
	servers := make([]command.Server, 0, len(state.Guilds))
	for _, guild := range state.Guilds {
		servers = append(servers, command.Server{
			ID:      guild.ID,
			Name:    guild.Name,
			Members: guild.MemberCount,
		})
	}
	state.RUnlock()

	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Name < servers[j].Name
	})
	return servers
}

// GuildName returns the guild's name, or "" when unknown.
func (g *Gateway) GuildName(guildID string) string {
	guild, err := g.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	return guild.Name
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("discord: connected: user=%s guilds=%d", r.User.Username, len(r.Guilds))
	if activity := g.config.Discord.Activity; activity != "" {
		if err := s.UpdateListeningStatus(activity); err != nil {
			zlog.Warn().Msgf("discord: failed to update status: error=%v", err)
		}
	}
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("discord: panic while handling message: guild=%s message=%s panic=%v\n%s",
				m.GuildID, m.ID, r, debug.Stack())
		}
	}()

	g.messages.HandleMessage(g.ctx, command.Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author:    requester(m),
		Content:   m.Content,
	})
}

func requester(m *discordgo.MessageCreate) track.Requester {
	name := m.Author.DisplayName()
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	return track.Requester{
		ID:      m.Author.ID,
		Name:    name,
		Mention: m.Author.Mention(),
	}
}

func (g *Gateway) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if s.State.User == nil {
		return
	}
	botID := s.State.User.ID

	if v.UserID == botID {
		if v.ChannelID == "" && v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID != "" {
			zlog.Info().Msgf("discord: disconnected from voice: guild=%s", v.GuildID)
			g.voice.Leave(v.GuildID)
		}
		return
	}

	bot, err := s.State.VoiceState(v.GuildID, botID)
	if err != nil || bot.ChannelID == "" {
		return
	}
	left := v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID == bot.ChannelID && v.ChannelID != bot.ChannelID
	if !left {
		return
	}

	guild, err := s.State.Guild(v.GuildID)
	if err != nil {
		return
	}
	s.State.RLock()
	listeners := countListeners(guild.VoiceStates, bot.ChannelID, func(vs *discordgo.VoiceState) bool {
		return vs.UserID == botID || isBot(guild, vs)
	})
	s.State.RUnlock()

	zlog.Debug().Msgf("discord: listener left: guild=%s channel=%s listeners=%d", v.GuildID, bot.ChannelID, listeners)
	if listeners == 0 {
		g.voice.ParticipantsEmptied(v.GuildID)
	}
}

// countListeners counts the non-bot users connected to channelID.
func countListeners(states []*discordgo.VoiceState, channelID string, bot func(*discordgo.VoiceState) bool) int {
	n := 0
	for _, vs := range states {
		if vs.ChannelID == channelID && !bot(vs) {
			n++
		}
	}
	return n
}

// isBot looks the user up in the member cache. Unknown users count as listeners.
func isBot(guild *discordgo.Guild, vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	for _, m := range guild.Members {
		if m.User != nil && m.User.ID == vs.UserID {
			return m.User.Bot
		}
	}
	return false
}

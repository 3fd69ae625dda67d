package command

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/queue"
	"github.com/osa030/guildtune/internal/app/session"
	sessionregistry "github.com/osa030/guildtune/internal/app/session/registry"
	"github.com/osa030/guildtune/internal/infra/config"
	"github.com/osa030/guildtune/internal/infra/youtube"
)

// invalidPositionCodes maps a command to the message shown for a bad queue position.
var invalidPositionCodes = map[string]string{
	"swap":   "invalid_swap",
	"remove": "invalid_remove",
	"skipto": "invalid_skip_to",
	"jump":   "invalid_jump",
}

// Dispatcher routes chat messages to commands.
type Dispatcher struct {
	config    *config.Config
	sessions  Sessions
	replier   Replier
	directory Directory
	matcher   *matcher

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	// warned holds guilds that were already told to join a voice channel.
	warnMu sync.Mutex
	warned map[string]bool
}

// NewDispatcher creates a dispatcher over every registered command.
func NewDispatcher(cfg *config.Config, sessions Sessions, replier Replier, directory Directory) *Dispatcher {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	commands := make([]Command, 0, len(names))
	for _, name := range names {
		commands = append(commands, registry[name]())
	}

	return &Dispatcher{
		config:    cfg,
		sessions:  sessions,
		replier:   replier,
		directory: directory,
		matcher:   newMatcher(cfg.Discord.Prefix, commands),
		limiters:  make(map[string]*rate.Limiter),
		warned:    make(map[string]bool),
	}
}

// HandleMessage runs the command msg addresses, if any.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg Message) {
	cmd, args, ok := d.matcher.match(msg.Content)
	if !ok {
		return
	}

	requestID := uuid.New().String()
	zlog.Debug().Msgf("command received: id=%s guild=%s user=%s command=%s args=%q", requestID, msg.GuildID, msg.Author.Name, cmd.Name(), args)

	if !d.allow(msg.Author.ID) {
		zlog.Info().Msgf("command rate limited: id=%s guild=%s user=%s", requestID, msg.GuildID, msg.Author.Name)
		d.replier.Reply(ctx, msg.ChannelID, d.config.GetMessage("rate_limited"))
		return
	}

	if cmd.AdminOnly() && !d.config.IsAdmin(msg.Author.ID) {
		zlog.Warn().Msgf("admin command refused: id=%s guild=%s user=%s command=%s", requestID, msg.GuildID, msg.Author.ID, cmd.Name())
		d.replier.Reply(ctx, msg.ChannelID, d.config.GetMessage("admin_only"))
		return
	}

	env := &Env{
		Config:    d.config,
		Sessions:  d.sessions,
		Replier:   d.replier,
		Directory: d.directory,
		Message:   msg,
	}

	if cmd.NeedsVoice() {
		channelID, err := d.voiceChannel(msg)
		if err != nil {
			if d.warnOnce(msg.GuildID) {
				d.replier.Reply(ctx, msg.ChannelID, d.config.GetMessage("not_in_voice_channel"))
			}
			return
		}
		env.VoiceChannelID = channelID
	}

	if err := cmd.Run(ctx, env, args); err != nil {
		d.replyError(ctx, env, cmd, args, err)
		return
	}
	zlog.Debug().Msgf("command done: id=%s command=%s", requestID, cmd.Name())
}

// voiceChannel returns the author's voice channel and clears the guild's warning.
func (d *Dispatcher) voiceChannel(msg Message) (string, error) {
	channelID, ok := d.directory.UserVoiceChannel(msg.GuildID, msg.Author.ID)
	if !ok || channelID == "" {
		return "", errors.Wrapf(ErrNotInVoiceChannel, "guild=%s user=%s", msg.GuildID, msg.Author.ID)
	}
	d.warnMu.Lock()
	delete(d.warned, msg.GuildID)
	d.warnMu.Unlock()
	return channelID, nil
}

// warnOnce reports whether the guild should get the voice-channel warning,
// and records that it got it.
func (d *Dispatcher) warnOnce(guildID string) bool {
	d.warnMu.Lock()
	defer d.warnMu.Unlock()
	if d.warned[guildID] {
		return false
	}
	d.warned[guildID] = true
	return true
}

func (d *Dispatcher) allow(userID string) bool {
	d.limitMu.Lock()
	l, ok := d.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.config.RateLimit.PerSecond), d.config.RateLimit.Burst)
		d.limiters[userID] = l
	}
	d.limitMu.Unlock()
	return l.Allow()
}

// replyError maps a command error to its user-facing message.
func (d *Dispatcher) replyError(ctx context.Context, env *Env, cmd Command, args string, err error) {
	var rejected *session.RejectedError

	switch {
	case errors.Is(err, sessionregistry.ErrSessionNotFound):
		// Nothing to act on; the guild has no session.
		zlog.Debug().Msgf("command without session: guild=%s command=%s", env.Message.GuildID, cmd.Name())
		return
	case errors.As(err, &rejected):
		env.Replyf(ctx, rejected.Code)
	case errors.Is(err, session.ErrEmptyQuery):
		env.Replyf(ctx, "empty_query")
	case errors.Is(err, session.ErrLinkLookupFailed):
		env.Replyf(ctx, "link_lookup_failed", errors.UnwrapAll(err).Error())
	case errors.Is(err, youtube.ErrNoMatch):
		env.Replyf(ctx, "track_not_found", args)
	case errors.Is(err, youtube.ErrResolveFailed):
		env.Replyf(ctx, "resolve_failed", args)
	case errors.Is(err, playback.ErrInvalidVolume):
		env.Replyf(ctx, "invalid_volume", playback.MaxVolume)
	case errors.Is(err, playback.ErrNotPaused):
		env.Replyf(ctx, "not_paused")
	case errors.Is(err, playback.ErrNoTrack), errors.Is(err, playback.ErrNotPlaying), errors.Is(err, playback.ErrClosed):
		env.Replyf(ctx, "nothing_playing")
	case errors.Is(err, errUsage) && cmd.Name() == "swap":
		env.Replyf(ctx, "swap_usage")
	case errors.Is(err, queue.ErrInvalidPosition), errors.Is(err, errUsage):
		code, ok := invalidPositionCodes[cmd.Name()]
		if !ok {
			code = "default_error"
		}
		env.Replyf(ctx, code)
	default:
		zlog.Error().Msgf("command failed: guild=%s command=%s error=%+v", env.Message.GuildID, cmd.Name(), err)
		env.Replyf(ctx, "default_error")
		return
	}
	zlog.Info().Msgf("command refused: guild=%s command=%s error=%v", env.Message.GuildID, cmd.Name(), err)
}

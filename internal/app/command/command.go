// Package command parses prefixed chat messages and runs them against the
// guild's playback session.
package command

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/session"
	"github.com/osa030/guildtune/internal/domain/track"
	"github.com/osa030/guildtune/internal/infra/config"
)

// ErrNotInVoiceChannel is returned when a command needs the author to be in a voice channel.
var ErrNotInVoiceChannel = errors.New("author is not in a voice channel")

// Message is a chat message addressed to the bot.
type Message struct {
	GuildID   string
	ChannelID string
	Author    track.Requester
	Content   string
}

// Server describes a guild the bot is a member of.
type Server struct {
	ID      string
	Name    string
	Members int
}

// Directory answers questions about the chat platform.
type Directory interface {
	// UserVoiceChannel returns the voice channel the user is connected to in the guild.
	UserVoiceChannel(guildID, userID string) (string, bool)
	Servers() []Server
	GuildName(guildID string) string
}

// Replier posts command output. Replies are short-lived.
type Replier interface {
	Reply(ctx context.Context, channelID, text string)
	ReplyTitled(ctx context.Context, channelID, title, text string)
	ReplyQueue(ctx context.Context, channelID string, snap playback.Snapshot)
	ReplyProgress(ctx context.Context, channelID string, current track.QueuedTrack, elapsed time.Duration)
}

// Sessions is the session manager as seen by commands.
type Sessions interface {
	Play(ctx context.Context, req session.PlayRequest) (*session.PlayResult, error)
	Session(guildID string) (*playback.Controller, error)
	Leave(guildID string)
	Usage() []session.Usage
}

// Env is everything a command runs against.
type Env struct {
	Config    *config.Config
	Sessions  Sessions
	Replier   Replier
	Directory Directory
	Message   Message

	// VoiceChannelID is the author's voice channel. Set for commands that need one.
	VoiceChannelID string
}

// Reply answers in the channel the message came from.
func (e *Env) Reply(ctx context.Context, text string) {
	e.Replier.Reply(ctx, e.Message.ChannelID, text)
}

// Replyf answers with the formatted message for code.
func (e *Env) Replyf(ctx context.Context, code string, args ...any) {
	e.Reply(ctx, e.Config.Messagef(code, args...))
}

// Command is the interface for chat commands.
type Command interface {
	// Name returns the command word(s) after the prefix, e.g. "skipto" or "admin usage".
	Name() string
	// Description returns a human-readable description.
	Description() string
	// Usage returns the argument synopsis, empty when the command takes none.
	Usage() string
	// NeedsVoice reports whether the author must be in a voice channel.
	NeedsVoice() bool
	// AdminOnly reports whether the command is restricted to the admin allow-list.
	AdminOnly() bool
	// Run executes the command with the text following its name.
	Run(ctx context.Context, env *Env, args string) error
}

// registry holds registered command factories.
var registry = make(map[string]func() Command)

// Register registers a command factory.
func Register(name string, factory func() Command) {
	registry[name] = factory
}

// GetRegistered returns all registered command factories.
func GetRegistered() map[string]func() Command {
	return registry
}

// info carries the static parts of a command.
type info struct {
	name        string
	description string
	usage       string
	voice       bool
	admin       bool
}

func (i info) Name() string        { return i.name }
func (i info) Description() string { return i.description }
func (i info) Usage() string       { return i.usage }
func (i info) NeedsVoice() bool    { return i.voice }
func (i info) AdminOnly() bool     { return i.admin }

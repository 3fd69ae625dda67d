package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildtune/internal/app/command"
	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/session"
	"github.com/osa030/guildtune/internal/domain/track"
	"github.com/osa030/guildtune/internal/infra/config"
)

var (
	_ session.Notifier = (*Chat)(nil)
	_ command.Replier  = (*Chat)(nil)
)

// messageSender is the subset of *discordgo.Session used for chat output.
type messageSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Chat writes session status and command replies into text channels.
// Replies and notices are deleted after the configured message TTL.
type Chat struct {
	sender messageSender
	config *config.Config

	// afterFunc schedules the deletion of short-lived messages.
	afterFunc func(d time.Duration, f func())
}

// NewChat creates a chat writer on the given gateway session.
func NewChat(s *discordgo.Session, cfg *config.Config) *Chat {
	return newChat(s, cfg)
}

func newChat(sender messageSender, cfg *config.Config) *Chat {
	return &Chat{
		sender:    sender,
		config:    cfg,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// PostStatus sends a new now-playing message and returns its id.
func (c *Chat) PostStatus(ctx context.Context, channelID string, snap playback.Snapshot) (string, error) {
	if snap.Current == nil {
		return "", errors.New("nothing to render")
	}
	msg, err := c.sender.ChannelMessageSendEmbed(channelID, statusEmbed(snap), discordgo.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "failed to send status message")
	}
	return msg.ID, nil
}

// EditStatus rewrites an existing now-playing message.
func (c *Chat) EditStatus(ctx context.Context, channelID, messageID string, snap playback.Snapshot) error {
	if snap.Current == nil {
		return errors.New("nothing to render")
	}
	if _, err := c.sender.ChannelMessageEditEmbed(channelID, messageID, statusEmbed(snap), discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to edit status message: message=%s", messageID)
	}
	return nil
}

// DeleteMessage removes a message.
func (c *Chat) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.sender.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to delete message: message=%s", messageID)
	}
	return nil
}

// Notice posts a short-lived session notice.
func (c *Chat) Notice(ctx context.Context, channelID, text string) {
	c.sendTransient(ctx, channelID, textEmbed("", text))
}

// Reply answers a command with plain text.
func (c *Chat) Reply(ctx context.Context, channelID, text string) {
	c.sendTransient(ctx, channelID, textEmbed("", text))
}

// ReplyTitled answers a command with a titled text block.
func (c *Chat) ReplyTitled(ctx context.Context, channelID, title, text string) {
	c.sendTransient(ctx, channelID, textEmbed(title, text))
}

// ReplyQueue answers "!queue".
func (c *Chat) ReplyQueue(ctx context.Context, channelID string, snap playback.Snapshot) {
	c.sendTransient(ctx, channelID, queueEmbed(snap, c.config.GetMessage("queue_empty")))
}

// ReplyProgress answers "!progress".
func (c *Chat) ReplyProgress(ctx context.Context, channelID string, cur track.QueuedTrack, elapsed time.Duration) {
	c.sendTransient(ctx, channelID, progressEmbed(cur, elapsed))
}

func (c *Chat) sendTransient(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) {
	msg, err := c.sender.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		zlog.Warn().Msgf("discord: failed to send message: channel=%s error=%v", channelID, err)
		return
	}

	ttl := c.config.Playback.MessageTTL
	if ttl <= 0 {
		return
	}
	c.afterFunc(ttl, func() {
		// The request context is gone by now.
		if err := c.sender.ChannelMessageDelete(channelID, msg.ID); err != nil {
			zlog.Debug().Msgf("discord: failed to delete message: channel=%s message=%s error=%v", channelID, msg.ID, err)
		}
	})
}

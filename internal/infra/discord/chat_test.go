package discord

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/infra/config"
)

type sentEmbed struct {
	channelID string
	messageID string
	embed     *discordgo.MessageEmbed
}

type fakeSender struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentEmbed
	edited  []sentEmbed
	deleted []string
	sendErr error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	id := "m" + strconv.Itoa(f.nextID)
	f.sent = append(f.sent, sentEmbed{channelID: channelID, messageID: id, embed: embed})
	return &discordgo.Message{ID: id, ChannelID: channelID}, nil
}

func (f *fakeSender) ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, sentEmbed{channelID: channelID, messageID: messageID, embed: embed})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeSender) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

type scheduled struct {
	after time.Duration
	fn    func()
}

func newTestChat(ttl time.Duration) (*Chat, *fakeSender, *[]scheduled) {
	cfg := config.Default()
	cfg.Playback.MessageTTL = ttl

	sender := &fakeSender{}
	chat := newChat(sender, cfg)
	var timers []scheduled
	chat.afterFunc = func(d time.Duration, f func()) {
		timers = append(timers, scheduled{after: d, fn: f})
	}
	return chat, sender, &timers
}

func TestChat_StatusLifecycle(t *testing.T) {
	chat, sender, timers := newTestChat(30 * time.Second)
	ctx := context.Background()
	cur := queued("abc", "Song", time.Minute)
	snap := playback.Snapshot{Current: &cur, Volume: 100}

	id, err := chat.PostStatus(ctx, "text-1", snap)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, sender.sent[0].messageID, id)
	assert.Equal(t, "Now Playing", sender.sent[0].embed.Title)

	snap.State = playback.StatePaused
	require.NoError(t, chat.EditStatus(ctx, "text-1", id, snap))
	require.Len(t, sender.edited, 1)
	assert.Equal(t, "Paused", sender.edited[0].embed.Title)

	require.NoError(t, chat.DeleteMessage(ctx, "text-1", id))
	assert.Equal(t, []string{id}, sender.deleted)

	// Status messages are not short-lived.
	assert.Empty(t, *timers)
}

func TestChat_StatusRequiresTrack(t *testing.T) {
	chat, sender, _ := newTestChat(0)

	_, err := chat.PostStatus(context.Background(), "text-1", playback.Snapshot{})
	assert.Error(t, err)
	assert.Error(t, chat.EditStatus(context.Background(), "text-1", "m1", playback.Snapshot{}))
	assert.Empty(t, sender.sent)
}

func TestChat_RepliesExpire(t *testing.T) {
	chat, sender, timers := newTestChat(30 * time.Second)
	ctx := context.Background()

	chat.Reply(ctx, "text-1", "hello")
	chat.Notice(ctx, "text-1", "leaving")
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "hello", sender.sent[0].embed.Description)
	require.Len(t, *timers, 2)
	assert.Equal(t, 30*time.Second, (*timers)[0].after)

	(*timers)[0].fn()
	assert.Equal(t, []string{sender.sent[0].messageID}, sender.deleted)
}

func TestChat_ZeroTTLKeepsReplies(t *testing.T) {
	chat, sender, timers := newTestChat(0)

	chat.ReplyTitled(context.Background(), "text-1", "Commands", "`!play`")
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Commands", sender.sent[0].embed.Title)
	assert.Empty(t, *timers)
}

func TestChat_ReplyQueueEmpty(t *testing.T) {
	chat, sender, _ := newTestChat(0)

	chat.ReplyQueue(context.Background(), "text-1", playback.Snapshot{GuildID: "g1"})
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "The queue is empty!", sender.sent[0].embed.Description)
}

func TestChat_SendFailureIsSwallowed(t *testing.T) {
	chat, sender, timers := newTestChat(time.Second)
	sender.sendErr = errors.New("missing permissions")

	chat.Reply(context.Background(), "text-1", "hello")
	assert.Empty(t, sender.sent)
	assert.Empty(t, *timers)
}

package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestCountListeners(t *testing.T) {
	guild := &discordgo.Guild{
		ID: "g1",
		Members: []*discordgo.Member{
			{User: &discordgo.User{ID: "music-bot", Bot: true}},
			{User: &discordgo.User{ID: "alice"}},
		},
	}
	states := []*discordgo.VoiceState{
		{UserID: "self", ChannelID: "vc-1"},
		{UserID: "music-bot", ChannelID: "vc-1"},
		{UserID: "alice", ChannelID: "vc-1"},
		{UserID: "bob", ChannelID: "vc-2"},
		{UserID: "carol", ChannelID: "vc-1", Member: &discordgo.Member{User: &discordgo.User{ID: "carol", Bot: true}}},
	}
	bot := func(vs *discordgo.VoiceState) bool {
		return vs.UserID == "self" || isBot(guild, vs)
	}

	assert.Equal(t, 1, countListeners(states, "vc-1", bot))
	assert.Equal(t, 1, countListeners(states, "vc-2", bot))
	assert.Equal(t, 0, countListeners(states, "vc-3", bot))
	assert.Equal(t, 0, countListeners(states[:2], "vc-1", bot))
}

func TestIsBot_UnknownUserIsListener(t *testing.T) {
	guild := &discordgo.Guild{ID: "g1"}
	assert.False(t, isBot(guild, &discordgo.VoiceState{UserID: "stranger"}))
}

func TestRequester(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "42", Username: "alice"},
	}}
	r := requester(m)
	assert.Equal(t, "42", r.ID)
	assert.Equal(t, "alice", r.Name)
	assert.Equal(t, "<@42>", r.Mention)

	m.Member = &discordgo.Member{Nick: "Ali"}
	assert.Equal(t, "Ali", requester(m).Name)
}

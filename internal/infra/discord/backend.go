package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/session"
	"github.com/osa030/guildtune/internal/infra/audio"
	"github.com/osa030/guildtune/internal/infra/config"
)

var _ session.Backend = (*Backend)(nil)

// Backend builds per-guild audio outputs on a gateway session.
type Backend struct {
	session *discordgo.Session
	config  config.AudioConfig
	streams audio.StreamResolver
}

// NewBackend creates a backend resolving stream URLs with streams.
func NewBackend(s *discordgo.Session, cfg config.AudioConfig, streams audio.StreamResolver) *Backend {
	return &Backend{
		session: s,
		config:  cfg,
		streams: streams,
	}
}

// NewOutput returns the sink and voice connection of a guild.
// The release func stops the sink once the session is gone.
func (b *Backend) NewOutput(guildID string) (playback.Sink, playback.Voice, func()) {
	voice := NewVoice(b.session, guildID, b.config.ConnectTimeout)
	sink := audio.NewSink(AudioConfig(b.config), guildID, b.streams, voice)
	return sink, voice, sink.Close
}

// AudioConfig maps the configured audio section to the sink configuration.
func AudioConfig(cfg config.AudioConfig) audio.Config {
	return audio.Config{
		FFmpegPath:  cfg.FFmpegPath,
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		FrameSize:   cfg.FrameSize,
		Bitrate:     cfg.Bitrate,
		Application: cfg.Application,
	}
}

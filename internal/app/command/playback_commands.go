package command

import (
	"context"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/session"
)

func init() {
	Register("play", func() Command {
		return &playCommand{info{name: "play", description: "Play a track or add it to the queue", usage: "<search terms | YouTube link | Spotify track link>", voice: true}}
	})
	Register("skip", func() Command {
		return &skipCommand{info{name: "skip", description: "Skip the current track", voice: true}}
	})
	Register("skipto", func() Command {
		return &jumpCommand{info{name: "skipto", description: "Skip to a queue position, dropping the tracks before it", usage: "<position>", voice: true}}
	})
	Register("stop", func() Command {
		return &stopCommand{info{name: "stop", description: "Stop playback and leave the voice channel", voice: true}}
	})
	Register("pause", func() Command {
		return &pauseCommand{info{name: "pause", description: "Pause playback, or resume it when paused", voice: true}}
	})
	Register("resume", func() Command {
		return &resumeCommand{info{name: "resume", description: "Resume paused playback", voice: true}}
	})
	Register("volume", func() Command {
		return &volumeCommand{info{name: "volume", description: "Show or set the volume", usage: "[0-200]", voice: true}}
	})
	Register("progress", func() Command {
		return &progressCommand{info{name: "progress", description: "Show how far the current track has played", voice: true}}
	})
}

type playCommand struct{ info }

func (c *playCommand) Run(ctx context.Context, env *Env, args string) error {
	res, err := env.Sessions.Play(ctx, session.PlayRequest{
		GuildID:        env.Message.GuildID,
		VoiceChannelID: env.VoiceChannelID,
		TextChannelID:  env.Message.ChannelID,
		Query:          args,
		Requester:      env.Message.Author,
	})
	if err != nil {
		return err
	}
	if !res.Started {
		env.Replyf(ctx, "added_to_queue", res.Entry.Track.Title)
	}
	return nil
}

type skipCommand struct{ info }

func (c *skipCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	if _, err := s.Skip(); err != nil {
		return err
	}
	env.Replyf(ctx, "track_skipped")
	return nil
}

// jumpCommand serves both "!jump" and "!skipto".
type jumpCommand struct{ info }

func (c *jumpCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	pos, err := parsePosition(args)
	if err != nil {
		return err
	}
	target, err := s.JumpTo(pos)
	if err != nil {
		return err
	}
	env.Replyf(ctx, "now_playing", target.Track.Title)
	return nil
}

type stopCommand struct{ info }

func (c *stopCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		return err
	}
	env.Replyf(ctx, "playback_stopped")
	return nil
}

type pauseCommand struct{ info }

func (c *pauseCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	state, err := s.TogglePause()
	if err != nil {
		return err
	}
	if state == playback.StatePaused {
		env.Replyf(ctx, "playback_paused")
	} else {
		env.Replyf(ctx, "playback_resumed")
	}
	return nil
}

type resumeCommand struct{ info }

func (c *resumeCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	if err := s.Resume(); err != nil {
		return err
	}
	env.Replyf(ctx, "playback_resumed")
	return nil
}

type volumeCommand struct{ info }

func (c *volumeCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	volume, ok, err := parseVolume(args)
	if err != nil {
		return err
	}
	if !ok {
		env.Replyf(ctx, "current_volume", s.Volume())
		return nil
	}
	if err := s.SetVolume(volume); err != nil {
		return err
	}
	env.Replyf(ctx, "volume_set", volume)
	return nil
}

type progressCommand struct{ info }

func (c *progressCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	current, elapsed, ok := s.Progress()
	if !ok {
		env.Replyf(ctx, "nothing_playing")
		return nil
	}
	env.Replier.ReplyProgress(ctx, env.Message.ChannelID, *current, elapsed)
	return nil
}

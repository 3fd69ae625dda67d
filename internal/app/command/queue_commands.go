package command

import (
	"context"

	"github.com/osa030/guildtune/internal/app/playback"
)

func init() {
	Register("queue", func() Command {
		return &queueCommand{info{name: "queue", description: "Show the queue", voice: true}}
	})
	Register("clear", func() Command {
		return &clearCommand{info{name: "clear", description: "Remove every queued track", voice: true}}
	})
	Register("swap", func() Command {
		return &swapCommand{info{name: "swap", description: "Swap two queue positions", usage: "<position> <position>", voice: true}}
	})
	Register("remove", func() Command {
		return &removeCommand{info{name: "remove", description: "Remove a queue position", usage: "<position>", voice: true}}
	})
	Register("shuffle", func() Command {
		return &shuffleCommand{info{name: "shuffle", description: "Shuffle the queue", voice: true}}
	})
	Register("reverse", func() Command {
		return &reverseCommand{info{name: "reverse", description: "Reverse the queue", voice: true}}
	})
	Register("jump", func() Command {
		return &jumpCommand{info{name: "jump", description: "Jump to a queue position, dropping the tracks before it", usage: "<position>", voice: true}}
	})
}

type queueCommand struct{ info }

func (c *queueCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		// No session is shown as an empty queue.
		env.Replier.ReplyQueue(ctx, env.Message.ChannelID, playback.Snapshot{GuildID: env.Message.GuildID})
		return nil
	}
	env.Replier.ReplyQueue(ctx, env.Message.ChannelID, s.Snapshot())
	return nil
}

type clearCommand struct{ info }

func (c *clearCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	s.Clear()
	env.Replyf(ctx, "queue_cleared")
	return nil
}

type swapCommand struct{ info }

func (c *swapCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	a, b, err := parsePositionPair(args)
	if err != nil {
		return err
	}
	if err := s.Swap(a, b); err != nil {
		return err
	}
	env.Replyf(ctx, "swapped", a, b)
	return nil
}

type removeCommand struct{ info }

func (c *removeCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	pos, err := parsePosition(args)
	if err != nil {
		return err
	}
	removed, err := s.RemoveAt(pos)
	if err != nil {
		return err
	}
	env.Replyf(ctx, "removed", removed.Track.Title)
	return nil
}

type shuffleCommand struct{ info }

func (c *shuffleCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	s.Shuffle()
	env.Replyf(ctx, "queue_shuffled")
	return nil
}

type reverseCommand struct{ info }

func (c *reverseCommand) Run(ctx context.Context, env *Env, args string) error {
	s, err := env.Sessions.Session(env.Message.GuildID)
	if err != nil {
		return err
	}
	s.Reverse()
	env.Replyf(ctx, "queue_reversed")
	return nil
}

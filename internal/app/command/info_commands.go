package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/osa030/guildtune/internal/app/session"
)

func init() {
	Register("config", func() Command {
		return &configCommand{info{name: "config", description: "Show the audio configuration"}}
	})
	Register("help", func() Command {
		return &helpCommand{info{name: "help", description: "List the commands"}}
	})
	Register("admin servers", func() Command {
		return &serversCommand{info{name: "admin servers", description: "List the servers the bot is in", admin: true}}
	})
	Register("admin usage", func() Command {
		return &usageCommand{info{name: "admin usage", description: "Show which servers are playing", admin: true}}
	})
}

type configCommand struct{ info }

func (c *configCommand) Run(ctx context.Context, env *Env, args string) error {
	a := env.Config.Audio
	var b strings.Builder
	b.WriteString("Current Audio Configuration:\n")
	fmt.Fprintf(&b, "- Output Format: Opus %d Hz, %d channels, %d ms frames\n", a.SampleRate, a.Channels, a.FrameSize*1000/a.SampleRate)
	fmt.Fprintf(&b, "- Opus Bitrate: %d kbps\n", a.Bitrate/1000)
	fmt.Fprintf(&b, "- Opus Application: %s", a.Application)
	env.Reply(ctx, b.String())
	return nil
}

type helpCommand struct{ info }

func (c *helpCommand) Run(ctx context.Context, env *Env, args string) error {
	names := lo.Keys(registry)
	sort.Strings(names)

	prefix := env.Config.Discord.Prefix
	lines := make([]string, 0, len(names))
	for _, name := range names {
		cmd := registry[name]()
		if cmd.AdminOnly() {
			continue
		}
		line := prefix + cmd.Name()
		if cmd.Usage() != "" {
			line += " " + cmd.Usage()
		}
		lines = append(lines, fmt.Sprintf("`%s` - %s", line, cmd.Description()))
	}
	env.Replier.ReplyTitled(ctx, env.Message.ChannelID, "Commands", strings.Join(lines, "\n"))
	return nil
}

type serversCommand struct{ info }

func (c *serversCommand) Run(ctx context.Context, env *Env, args string) error {
	names := lo.Map(env.Directory.Servers(), func(s Server, _ int) string {
		return s.Name
	})
	env.Replier.ReplyTitled(ctx, env.Message.ChannelID, "Servers", strings.Join(names, "\n"))
	return nil
}

type usageCommand struct{ info }

func (c *usageCommand) Run(ctx context.Context, env *Env, args string) error {
	usage := env.Sessions.Usage()
	if len(usage) == 0 {
		env.Replyf(ctx, "not_used")
		return nil
	}
	lines := lo.Map(usage, func(u session.Usage, _ int) string {
		name := env.Directory.GuildName(u.GuildID)
		if name == "" {
			name = "Unknown"
		}
		status := "Idle"
		if u.Current != nil {
			status = "Playing"
		}
		return name + ": " + status
	})
	env.Reply(ctx, strings.Join(lines, "\n"))
	return nil
}

// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/guildtune/internal/api/connect"
)

var (
	app    = kingpin.New("guildtune-admincli", "guildtune admin client")
	server = app.Flag("server", "Admin API address").Default("http://127.0.0.1:8090").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// servers command
	serversCmd = app.Command("servers", "List the servers the bot is in")

	// usage command
	usageCmd = app.Command("usage", "Show the playback sessions").Alias("status")

	// session actions
	skipCmd     = app.Command("skip", "Skip the current track of a server")
	skipGuild   = skipCmd.Arg("guild-id", "Server ID").Required().String()
	pauseCmd    = app.Command("pause", "Pause playback on a server")
	pauseGuild  = pauseCmd.Arg("guild-id", "Server ID").Required().String()
	resumeCmd   = app.Command("resume", "Resume playback on a server")
	resumeGuild = resumeCmd.Arg("guild-id", "Server ID").Required().String()
	leaveCmd    = app.Command("leave", "Close the session of a server")
	leaveGuild  = leaveCmd.Arg("guild-id", "Server ID").Required().String()

	// watch command
	watchCmd   = app.Command("watch", "Stream playback events")
	watchGuild = watchCmd.Arg("guild-id", "Server ID (default: every server)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewAdminClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case serversCmd.FullCommand():
		err = listServers(ctx, client)
	case usageCmd.FullCommand():
		err = usage(ctx, client)
	case skipCmd.FullCommand():
		err = act(ctx, client.Skip, *skipGuild)
	case pauseCmd.FullCommand():
		err = act(ctx, client.Pause, *pauseGuild)
	case resumeCmd.FullCommand():
		err = act(ctx, client.Resume, *resumeGuild)
	case leaveCmd.FullCommand():
		err = act(ctx, client.Leave, *leaveGuild)
	case watchCmd.FullCommand():
		err = watch(ctx, client, *watchGuild)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func listServers(ctx context.Context, client *apiconnect.AdminClient) error {
	servers, err := client.ListServers(ctx)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("The bot is not in any server")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"ID", "Name", "Members"})
	for _, s := range servers {
		t.AppendRow(table.Row{s.ID, s.Name, s.Members})
	}
	t.AppendFooter(table.Row{"", "Total", len(servers)})
	t.Render()
	return nil
}

func usage(ctx context.Context, client *apiconnect.AdminClient) error {
	sessions, err := client.Usage(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("Bot is not being used")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Server ID", "Name", "State", "Now Playing", "Queued", "Volume"})
	for _, s := range sessions {
		name := s.GuildName
		if name == "" {
			name = "Unknown"
		}
		t.AppendRow(table.Row{s.GuildID, name, s.State, s.Track, s.QueueSize, fmt.Sprintf("%d%%", s.Volume)})
	}
	t.Render()
	return nil
}

func act(ctx context.Context, fn func(context.Context, string) (apiconnect.ActionResult, error), guildID string) error {
	res, err := fn(ctx, guildID)
	if err != nil {
		return err
	}
	if res.Success {
		fmt.Println(res.Message)
	} else {
		fmt.Printf("Failed: %s\n", res.Message)
	}
	return nil
}

func watch(ctx context.Context, client *apiconnect.AdminClient, guildID string) error {
	fmt.Println("Watching playback events (Ctrl+C to stop)...")
	return client.WatchEvents(ctx, guildID, func(e apiconnect.Event) {
		line := fmt.Sprintf("[%s] #%d guild=%s %s state=%s", e.Timestamp, e.SequenceNo, e.GuildID, e.Type, e.State)
		if e.TrackTitle != "" {
			line += fmt.Sprintf(" track=%q", e.TrackTitle)
		}
		if e.Requester != "" {
			line += " by " + e.Requester
		}
		fmt.Println(line)
	})
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/guildtune/internal/api/connect"
	"github.com/osa030/guildtune/internal/app/command"
	"github.com/osa030/guildtune/internal/app/filter"
	"github.com/osa030/guildtune/internal/app/session"
	"github.com/osa030/guildtune/internal/infra/config"
	"github.com/osa030/guildtune/internal/infra/discord"
	"github.com/osa030/guildtune/internal/infra/logger"
	"github.com/osa030/guildtune/internal/infra/spotify"
	"github.com/osa030/guildtune/internal/infra/youtube"
)

var (
	app        = kingpin.New("guildtune", "Discord music bot")
	configPath = app.Flag("config", "Path to config file (empty: defaults and environment only)").Envar("GUILDTUNE_CONFIG").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	logFormat  = app.Flag("log-format", "Log format").Enum("console", "json")

	listFiltersCmd  = app.Command("list-filters", "List available request filters and exit")
	listCommandsCmd = app.Command("list-commands", "List chat commands and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch cmd {
	case listFiltersCmd.FullCommand():
		printFilters()
		return
	case listCommandsCmd.FullCommand():
		printCommands()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		Format: *logFormat,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loading config from %q", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %+v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// run wires the bot together and blocks until shutdown.
func run(cfg *config.Config) error {
	ctx := context.Background()

	links, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		MaxRetries:   cfg.Spotify.MaxRetries,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify client")
	}
	tracks := youtube.New(youtube.Config{
		SearchPrefix: cfg.Resolver.SearchPrefix,
		Timeout:      cfg.Resolver.Timeout,
	})

	gateway, err := discord.New(cfg)
	if err != nil {
		return err
	}
	chat := discord.NewChat(gateway.Session(), cfg)
	backend := discord.NewBackend(gateway.Session(), cfg.Audio, tracks)

	sessions, err := session.NewManager(cfg, tracks, links, chat, backend)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer sessions.Close()

	dispatcher := command.NewDispatcher(cfg, sessions, chat, gateway)
	gateway.Bind(dispatcher, sessions)

	if err := gateway.Open(); err != nil {
		return err
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close gateway: %v", err)
		}
	}()
	zlog.Info().Msgf("Bot started: prefix=%q", cfg.Discord.Prefix)

	serverErrCh := make(chan error, 1)
	var server *http.Server
	if cfg.AdminAPIEnabled() {
		server = newAdminServer(cfg, sessions, gateway)
		go func() {
			zlog.Info().Msgf("Starting admin API: addr=%s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
	} else {
		zlog.Info().Msg("Admin API disabled (no admin token configured)")
	}

	executeHooks(cfg.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "admin API server error")
	}

	// Close sessions first so that watch streams end before the server drains.
	sessions.Close()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown admin API: %v", err)
		}
	}

	zlog.Info().Msg("Bot stopped")
	executeHooks(cfg.Hooks.OnStopped, "on_stopped")
	return runErr
}

// newAdminServer serves the admin API with h2c (HTTP/2 cleartext) support.
func newAdminServer(cfg *config.Config, sessions *session.Manager, directory command.Directory) *http.Server {
	svc := apiconnect.NewAdminService(sessions, directory)
	path, handler := apiconnect.NewAdminServiceHandler(
		svc,
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	return &http.Server{
		Addr:              cfg.Admin.APIAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	for _, name := range sortedKeys(registry) {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// printCommands prints the chat commands with the default prefix.
func printCommands() {
	prefix := config.Default().Discord.Prefix
	fmt.Println("Chat Commands:")
	registry := command.GetRegistered()
	for _, name := range sortedKeys(registry) {
		c := registry[name]()
		usage := strings.TrimSpace(prefix + c.Name() + " " + c.Usage())
		flags := ""
		if c.AdminOnly() {
			flags = " [admin]"
		}
		fmt.Printf("  %-30s - %s%s\n", usage, c.Description(), flags)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}

// Package config provides configuration loading from YAML files and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord   DiscordConfig           `yaml:"discord"`
	Admin     AdminConfig             `yaml:"admin"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
	Playback  PlaybackConfig          `yaml:"playback"`
	Resolver  ResolverConfig          `yaml:"resolver"`
	Audio     AudioConfig             `yaml:"audio"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Filters   map[string]FilterConfig `yaml:"filters"`
	Messages  MessagesConfig          `yaml:"messages"`
	Hooks     HooksConfig             `yaml:"hooks"`
}

// DiscordConfig represents the chat gateway configuration.
type DiscordConfig struct {
	Token    string `yaml:"token" validate:"required"`
	Prefix   string `yaml:"prefix" default:"!" validate:"required"`
	Activity string `yaml:"activity" default:"!help"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	// UserIDs is the allow-list for "!admin" chat commands.
	UserIDs []string `yaml:"user_ids"`

	// Token guards the admin API. The API is disabled when empty.
	Token   string `yaml:"token"`
	APIAddr string `yaml:"api_addr" default:"127.0.0.1:8090"`
}

// SpotifyConfig represents Spotify API credentials used for link lookups.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	MaxRetries   int    `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
}

// PlaybackConfig represents per-guild playback configuration.
type PlaybackConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" default:"5m" validate:"gt=0"`
	DefaultVolume int           `yaml:"default_volume" default:"100" validate:"gte=0,lte=200"`
	MessageTTL    time.Duration `yaml:"message_ttl" default:"30s" validate:"gte=0"`
	EventBuffer   int           `yaml:"event_buffer" default:"64" validate:"gte=1"`
}

// ResolverConfig represents track search configuration.
type ResolverConfig struct {
	// SearchPrefix marks plain-text queries as music searches.
	SearchPrefix string        `yaml:"search_prefix" default:"ytmsearch: "`
	Timeout      time.Duration `yaml:"timeout" default:"15s" validate:"gt=0"`
}

// AudioConfig represents the audio pipeline configuration.
type AudioConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" default:"ffmpeg" validate:"required"`
	SampleRate  int    `yaml:"sample_rate" default:"48000" validate:"oneof=8000 12000 16000 24000 48000"`
	Channels    int    `yaml:"channels" default:"2" validate:"oneof=1 2"`
	FrameSize   int    `yaml:"frame_size" default:"960" validate:"gt=0"`
	Bitrate     int    `yaml:"bitrate" default:"96000" validate:"gte=8000,lte=512000"`
	Application string `yaml:"application" default:"audio" validate:"oneof=audio voip lowdelay"`

	// ConnectTimeout bounds how long output waits for the voice connection to become ready.
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s" validate:"gt=0"`
}

// HooksConfig represents shell commands run around the bot's lifetime.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"` // after the gateway connected
	OnStopped []string `yaml:"on_stopped"` // after shutdown completed
}

// RateLimitConfig represents per-user command rate limiting.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" default:"1" validate:"gt=0"`
	Burst     int     `yaml:"burst" default:"5" validate:"gte=1"`
}

// FilterConfig represents a request filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
// Messages containing verbs are fmt templates.
type MessagesConfig struct {
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
	NotInVoiceChannel     string `yaml:"not_in_voice_channel" default:"You need to join a voice channel first!"`
	EmptyQuery            string `yaml:"empty_query" default:"Please provide a search query!"`
	TrackNotFound         string `yaml:"track_not_found" default:"Could not find a track for '%s'"`
	ResolveFailed         string `yaml:"resolve_failed" default:"Could not load a track for '%s'"`
	LinkLookupFailed      string `yaml:"link_lookup_failed" default:"Error fetching Spotify track: %s"`
	AddedToQueue          string `yaml:"added_to_queue" default:"Added to queue: %s"`
	NowPlaying            string `yaml:"now_playing" default:"Now playing: %s"`
	TrackSkipped          string `yaml:"track_skipped" default:"Track skipped!"`
	NothingPlaying        string `yaml:"nothing_playing" default:"No track is currently playing."`
	PlaybackStopped       string `yaml:"playback_stopped" default:"Playback stopped!"`
	PlaybackPaused        string `yaml:"playback_paused" default:"Playback paused!"`
	PlaybackResumed       string `yaml:"playback_resumed" default:"Playback resumed!"`
	NotPaused             string `yaml:"not_paused" default:"Playback is not paused!"`
	CurrentVolume         string `yaml:"current_volume" default:"The current volume is %d%%"`
	VolumeSet             string `yaml:"volume_set" default:"Volume set to %d%%"`
	InvalidVolume         string `yaml:"invalid_volume" default:"Please provide a valid volume level between 0 and %d."`
	QueueEmpty            string `yaml:"queue_empty" default:"The queue is empty!"`
	QueueCleared          string `yaml:"queue_cleared" default:"The music queue has been cleared."`
	QueueShuffled         string `yaml:"queue_shuffled" default:"The music queue has been shuffled."`
	QueueReversed         string `yaml:"queue_reversed" default:"The music queue has been reversed."`
	Swapped               string `yaml:"swapped" default:"Swapped positions %d and %d in the queue."`
	SwapUsage             string `yaml:"swap_usage" default:"Please provide two valid queue positions to swap."`
	InvalidSwap           string `yaml:"invalid_swap" default:"Please provide valid queue positions to swap."`
	Removed               string `yaml:"removed" default:"Removed track: %s"`
	InvalidRemove         string `yaml:"invalid_remove" default:"Please provide a valid queue position to remove."`
	InvalidSkipTo         string `yaml:"invalid_skip_to" default:"Please provide a valid queue position to skip to."`
	InvalidJump           string `yaml:"invalid_jump" default:"Please provide a valid queue position to jump to."`
	ChannelEmpty          string `yaml:"channel_empty" default:"The voice channel is empty, leaving the channel."`
	IdleLeave             string `yaml:"idle_leave" default:"Nothing played for a while, leaving the channel."`
	NotUsed               string `yaml:"not_used" default:"Bot is not being used"`
	RateLimited           string `yaml:"rate_limited" default:"You're sending commands too fast, slow down."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That track is already in the queue."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That track is too short or too long to be queued."`
	UserQueueLimit        string `yaml:"user_queue_limit" default:"You already have too many tracks waiting in the queue."`
	TrackFailed           string `yaml:"track_failed" default:"Could not play '%s', skipping."`
	AdminOnly             string `yaml:"admin_only" default:"You are not allowed to use this command."`
}

// envOverrides holds the secrets that may come from the environment (or a .env file).
type envOverrides struct {
	DiscordToken        string   `env:"DISCORD_BOT_TOKEN"`
	SpotifyClientID     string   `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string   `env:"SPOTIFY_CLIENT_SECRET_ID"`
	AdminIDs            []string `env:"ADMIN_IDS" envSeparator:","`
	AdminToken          string   `env:"ADMIN_TOKEN"`
	FFmpegPath          string   `env:"FFMPEG_PATH"`
}

// Load loads configuration from a YAML file.
// An empty path skips the file and relies on defaults and the environment.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Default returns a configuration holding only default values. It is not validated.
func Default() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return errors.Wrap(err, "failed to parse environment")
	}

	if o.DiscordToken != "" {
		c.Discord.Token = o.DiscordToken
	}
	if o.SpotifyClientID != "" {
		c.Spotify.ClientID = o.SpotifyClientID
	}
	if o.SpotifyClientSecret != "" {
		c.Spotify.ClientSecret = o.SpotifyClientSecret
	}
	if len(o.AdminIDs) > 0 {
		c.Admin.UserIDs = lo.Compact(lo.Map(o.AdminIDs, func(id string, _ int) string {
			return strings.TrimSpace(id)
		}))
	}
	if o.AdminToken != "" {
		c.Admin.Token = o.AdminToken
	}
	if o.FFmpegPath != "" {
		c.Audio.FFmpegPath = o.FFmpegPath
	}
	return nil
}

// GetMessage returns the message for the given code.
// Unknown codes fall back to the default error message.
func (c *Config) GetMessage(code string) string {
	if msg, ok := c.messageTable()[code]; ok && msg != "" {
		return msg
	}
	return c.Messages.DefaultError
}

func (c *Config) messageTable() map[string]string {
	m := &c.Messages
	return map[string]string{
		"default_error":           m.DefaultError,
		"not_in_voice_channel":    m.NotInVoiceChannel,
		"empty_query":             m.EmptyQuery,
		"track_not_found":         m.TrackNotFound,
		"resolve_failed":          m.ResolveFailed,
		"link_lookup_failed":      m.LinkLookupFailed,
		"added_to_queue":          m.AddedToQueue,
		"now_playing":             m.NowPlaying,
		"track_skipped":           m.TrackSkipped,
		"nothing_playing":         m.NothingPlaying,
		"playback_stopped":        m.PlaybackStopped,
		"playback_paused":         m.PlaybackPaused,
		"playback_resumed":        m.PlaybackResumed,
		"not_paused":              m.NotPaused,
		"current_volume":          m.CurrentVolume,
		"volume_set":              m.VolumeSet,
		"invalid_volume":          m.InvalidVolume,
		"queue_empty":             m.QueueEmpty,
		"queue_cleared":           m.QueueCleared,
		"queue_shuffled":          m.QueueShuffled,
		"queue_reversed":          m.QueueReversed,
		"swapped":                 m.Swapped,
		"swap_usage":              m.SwapUsage,
		"invalid_swap":            m.InvalidSwap,
		"removed":                 m.Removed,
		"invalid_remove":          m.InvalidRemove,
		"invalid_skip_to":         m.InvalidSkipTo,
		"invalid_jump":            m.InvalidJump,
		"channel_empty":           m.ChannelEmpty,
		"idle_leave":              m.IdleLeave,
		"not_used":                m.NotUsed,
		"rate_limited":            m.RateLimited,
		"duplicate_track":         m.DuplicateTrack,
		"duration_limit_exceeded": m.DurationLimitExceeded,
		"user_queue_limit":        m.UserQueueLimit,
		"track_failed":            m.TrackFailed,
		"admin_only":              m.AdminOnly,
	}
}

// Messagef formats the message for the given code with args.
func (c *Config) Messagef(code string, args ...any) string {
	msg := c.GetMessage(code)
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// IsAdmin checks if the given chat user ID is on the admin allow-list.
func (c *Config) IsAdmin(userID string) bool {
	return lo.Contains(c.Admin.UserIDs, userID)
}

// AdminAPIEnabled reports whether the admin API should be served.
func (c *Config) AdminAPIEnabled() bool {
	return c.Admin.Token != ""
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// EnabledFilterSettings returns the settings of every enabled filter, keyed by name.
func (c *Config) EnabledFilterSettings() map[string]map[string]any {
	enabled := lo.PickBy(c.Filters, func(_ string, f FilterConfig) bool {
		return f.Enabled
	})
	return lo.MapValues(enabled, func(f FilterConfig, _ string) map[string]any {
		return f.Settings
	})
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Audio.FrameSize*1000%c.Audio.SampleRate != 0 {
		return errors.Newf("frame_size %d is not a whole number of milliseconds at %d Hz", c.Audio.FrameSize, c.Audio.SampleRate)
	}
	return nil
}

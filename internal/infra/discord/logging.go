package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func init() {
	discordgo.Logger = logLibraryMessage
}

// logLibraryMessage routes discordgo's internal logging into zerolog.
func logLibraryMessage(msgL, caller int, format string, a ...any) {
	var event *zerolog.Event
	switch msgL {
	case discordgo.LogError:
		event = zlog.Error()
	case discordgo.LogWarning:
		event = zlog.Warn()
	case discordgo.LogInformational:
		event = zlog.Info()
	default:
		event = zlog.Debug()
	}
	event.Msg("discordgo: " + fmt.Sprintf(format, a...))
}

// logLevel maps the global log level onto discordgo's.
// The library's debug output is only enabled at trace level.
func logLevel() int {
	switch level := zerolog.GlobalLevel(); {
	case level <= zerolog.TraceLevel:
		return discordgo.LogDebug
	case level <= zerolog.DebugLevel:
		return discordgo.LogInformational
	case level <= zerolog.WarnLevel:
		return discordgo.LogWarning
	default:
		return discordgo.LogError
	}
}

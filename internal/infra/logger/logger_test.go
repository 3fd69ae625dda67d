package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"":        zerolog.InfoLevel,
		"info":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_JSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, zerolog.WarnLevel, "json")

	l.Info().Msg("hidden")
	l.Warn().Msgf("voice disconnected: guild=%s", "g1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "voice disconnected: guild=g1", entry["message"])
	assert.NotContains(t, entry, "caller")
}

func TestNew_ConsoleDebugIncludesCaller(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	zerolog.CallerMarshalFunc = shortCaller
	var buf bytes.Buffer
	l := New(&buf, zerolog.DebugLevel, "console")

	l.Debug().Msg("queue advanced")

	out := buf.String()
	assert.Contains(t, out, "queue advanced")
	assert.Contains(t, out, "logger/logger_test.go:")
}

func TestInit_FileOutput(t *testing.T) {
	prev := zlog.Logger
	t.Cleanup(func() {
		zlog.Logger = prev
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	closer, err := Init(Config{Output: "file", File: path, Level: "info"})
	require.NoError(t, err)

	zlog.Info().Msg("bot ready")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"bot ready"`)
}

func TestShortCaller(t *testing.T) {
	file := filepath.Join("home", "bot", "internal", "app", "playback", "controller.go")
	assert.Equal(t, filepath.Join("playback", "controller.go")+":42", shortCaller(0, file, 42))
	assert.Equal(t, "main.go:7", shortCaller(0, "main.go", 7))
}

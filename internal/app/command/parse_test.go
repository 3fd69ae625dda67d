package command

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/queue"
)

func testMatcher() *matcher {
	commands := make([]Command, 0, len(registry))
	for _, factory := range registry {
		commands = append(commands, factory())
	}
	return newMatcher("!", commands)
}

func TestMatcher_Match(t *testing.T) {
	m := testMatcher()

	tests := []struct {
		content  string
		wantName string
		wantArgs string
	}{
		{content: "!play never gonna give you up", wantName: "play", wantArgs: "never gonna give you up"},
		{content: "  !play   spaced out  ", wantName: "play", wantArgs: "spaced out"},
		{content: "!skip", wantName: "skip"},
		{content: "!skipto 3", wantName: "skipto", wantArgs: "3"},
		{content: "!SKIPTO 3", wantName: "skipto", wantArgs: "3"},
		{content: "!jump 2", wantName: "jump", wantArgs: "2"},
		{content: "!swap 1 2", wantName: "swap", wantArgs: "1 2"},
		{content: "!volume", wantName: "volume"},
		{content: "!admin usage", wantName: "admin usage"},
		{content: "!admin servers", wantName: "admin servers"},
		{content: "!play\tnever gonna", wantName: "play", wantArgs: "never gonna"},
		{content: "!skipto\n3", wantName: "skipto", wantArgs: "3"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			cmd, args, ok := m.match(tt.content)
			require.True(t, ok)
			assert.Equal(t, tt.wantName, cmd.Name())
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	m := testMatcher()

	for _, content := range []string{
		"play something",
		"!skipper",
		"!admin",
		"!",
		"",
		"?play x",
	} {
		_, _, ok := m.match(content)
		assert.False(t, ok, content)
	}
}

func TestMatcher_CustomPrefix(t *testing.T) {
	m := newMatcher("$$", []Command{registry["play"](), registry["skip"]()})

	cmd, args, ok := m.match("$$play x")
	require.True(t, ok)
	assert.Equal(t, "play", cmd.Name())
	assert.Equal(t, "x", args)

	_, _, ok = m.match("!play x")
	assert.False(t, ok)
}

func TestParsePosition(t *testing.T) {
	pos, err := parsePosition(" 4 ")
	require.NoError(t, err)
	assert.Equal(t, 4, pos)

	for _, args := range []string{"", "x", "1 2", "1.5"} {
		_, err := parsePosition(args)
		assert.True(t, errors.Is(err, queue.ErrInvalidPosition), args)
	}
}

func TestParsePositionPair(t *testing.T) {
	a, b, err := parsePositionPair("3 1")
	require.NoError(t, err)
	assert.Equal(t, 3, a)
	assert.Equal(t, 1, b)

	_, _, err = parsePositionPair("3")
	assert.True(t, errors.Is(err, errUsage))

	_, _, err = parsePositionPair("1 2 3")
	assert.True(t, errors.Is(err, errUsage))

	_, _, err = parsePositionPair("a 2")
	assert.True(t, errors.Is(err, queue.ErrInvalidPosition))
}

func TestParseVolume(t *testing.T) {
	_, ok, err := parseVolume("  ")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := parseVolume("150")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 150, v)

	_, ok, err = parseVolume("loud")
	assert.True(t, ok)
	assert.True(t, errors.Is(err, playback.ErrInvalidVolume))
}

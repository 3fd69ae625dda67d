package command

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/app/queue"
)

// errUsage marks arguments that do not have the expected shape.
var errUsage = errors.New("bad command usage")

// matcher finds the command a message addresses.
type matcher struct {
	prefix   string
	commands []Command // longest name first
}

func newMatcher(prefix string, commands []Command) *matcher {
	sorted := append([]Command(nil), commands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].Name()) != len(sorted[j].Name()) {
			return len(sorted[i].Name()) > len(sorted[j].Name())
		}
		return sorted[i].Name() < sorted[j].Name()
	})
	return &matcher{prefix: prefix, commands: sorted}
}

// match returns the addressed command and the trimmed text after its name.
// Names match case-insensitively and must end at whitespace or the end of the message,
// so "!skipto 3" selects skipto and "!skipper" selects nothing.
func (m *matcher) match(content string) (Command, string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, m.prefix) {
		return nil, "", false
	}
	body := content[len(m.prefix):]

	for _, c := range m.commands {
		name := c.Name()
		if len(body) < len(name) || !strings.EqualFold(body[:len(name)], name) {
			continue
		}
		rest := body[len(name):]
		if rest != "" && !unicode.IsSpace(rune(rest[0])) {
			continue
		}
		return c, strings.TrimSpace(rest), true
	}
	return nil, "", false
}

// parsePosition parses one 1-indexed queue position.
func parsePosition(args string) (int, error) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return 0, errors.Wrapf(queue.ErrInvalidPosition, "want one position, got %d arguments", len(fields))
	}
	pos, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, errors.Wrapf(queue.ErrInvalidPosition, "position %q", fields[0])
	}
	return pos, nil
}

// parsePositionPair parses two 1-indexed queue positions.
// A wrong argument count is a usage error; unparsable numbers are invalid positions.
func parsePositionPair(args string) (int, int, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, 0, errors.Wrapf(errUsage, "want two positions, got %d arguments", len(fields))
	}
	a, errA := strconv.Atoi(fields[0])
	b, errB := strconv.Atoi(fields[1])
	if errA != nil || errB != nil {
		return 0, 0, errors.Wrapf(queue.ErrInvalidPosition, "positions %q %q", fields[0], fields[1])
	}
	return a, b, nil
}

// parseVolume parses an optional volume argument. ok is false when none was given.
func parseVolume(args string) (volume int, ok bool, err error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(args)
	if err != nil {
		return 0, true, errors.Wrapf(playback.ErrInvalidVolume, "volume %q", args)
	}
	return v, true, nil
}

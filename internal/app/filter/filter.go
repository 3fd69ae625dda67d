// Package filter provides the request filter chain applied before a resolved
// track is added to a guild's queue.
package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/guildtune/internal/domain/track"
)

// Request is a play request whose query already resolved to a track.
type Request struct {
	GuildID   string
	Requester track.Requester
	// Queued holds the guild's now-playing entry (if any) followed by the pending entries.
	Queued []track.QueuedTrack
}

// Result is a filter verdict. Rejections carry the message code shown to the requester.
type Result struct {
	Accepted bool
	Code     string
}

func Accept() Result {
	return Result{Accepted: true}
}

func Reject(code string) Result {
	return Result{Code: code}
}

// Filter decides whether a resolved track may join a guild's queue.
type Filter interface {
	// Name is the key the filter is configured under.
	Name() string
	Description() string
	// ReturnCodes lists the message codes Check may reject with.
	ReturnCodes() []string
	// ValidateConfig applies the filter's settings. It is called once, before any Check.
	ValidateConfig(settings map[string]any) error
	Check(ctx context.Context, req Request, t track.Track) Result
}

var registry = make(map[string]func() Filter)

// Register makes a filter available to configuration under name.
// It is meant to be called from init.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns the registered filter factories by name.
func GetRegistered() map[string]func() Filter {
	return registry
}

var validate = validator.New()

// decodeSettings fills out from its default tags, then from settings, and validates it.
// Numbers and strings are converted leniently; duration fields accept "90s" style strings.
func decodeSettings(settings map[string]any, out any) error {
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create settings decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := validate.Struct(out); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	return nil
}

package filter

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildtune/internal/domain/track"
)

const codeDurationLimit = "duration_limit_exceeded"

// DurationLimitSettings bounds the length of queued tracks.
// Durations are written as Go duration strings ("90s", "1h"); zero disables a bound.
type DurationLimitSettings struct {
	Min time.Duration `mapstructure:"min" validate:"gte=0"`
	Max time.Duration `mapstructure:"max" default:"1h" validate:"gte=0"`
	// AllowLive accepts tracks with no known length, which is how live streams resolve.
	AllowLive bool `mapstructure:"allow_live" default:"true"`
}

func (s DurationLimitSettings) allows(d time.Duration) bool {
	if d <= 0 {
		return s.AllowLive
	}
	if d < s.Min {
		return false
	}
	return s.Max == 0 || d <= s.Max
}

// DurationLimitFilter rejects tracks outside the configured length window.
type DurationLimitFilter struct {
	settings *DurationLimitSettings
}

func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Rejects tracks shorter or longer than the configured limits"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{codeDurationLimit}
}

func (f *DurationLimitFilter) ValidateConfig(settings map[string]any) error {
	var s DurationLimitSettings
	if err := decodeSettings(settings, &s); err != nil {
		return err
	}
	if s.Max > 0 && s.Min > s.Max {
		return errors.Newf("min %v exceeds max %v", s.Min, s.Max)
	}

	f.settings = &s
	zlog.Info().Msgf("duration limit filter: min=%v max=%v allow_live=%t", s.Min, s.Max, s.AllowLive)
	return nil
}

func (f *DurationLimitFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.settings == nil || f.settings.allows(t.Duration) {
		return Accept()
	}
	return Reject(codeDurationLimit)
}

func init() {
	Register("duration_limit_filter", func() Filter {
		return NewDurationLimitFilter()
	})
}

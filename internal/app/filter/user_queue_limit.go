package filter

import (
	"context"

	"github.com/creasty/defaults"
	"github.com/samber/lo"

	"github.com/osa030/guildtune/internal/domain/track"
)

// UserQueueLimitConfig represents the configuration for UserQueueLimitFilter.
type UserQueueLimitConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"10" validate:"gte=1"`
}

// UserQueueLimitFilter caps how many entries one user may have waiting in a guild's queue.
type UserQueueLimitFilter struct {
	config UserQueueLimitConfig
}

func NewUserQueueLimitFilter() *UserQueueLimitFilter {
	f := &UserQueueLimitFilter{}
	_ = defaults.Set(&f.config)
	return f
}

func (f *UserQueueLimitFilter) Name() string {
	return "user_queue_limit_filter"
}

func (f *UserQueueLimitFilter) Description() string {
	return "Checks how many tracks the requester already has waiting"
}

func (f *UserQueueLimitFilter) ReturnCodes() []string {
	return []string{"user_queue_limit"}
}

func (f *UserQueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config UserQueueLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = config
	return nil
}

func (f *UserQueueLimitFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	owned := lo.CountBy(req.Queued, func(qt track.QueuedTrack) bool {
		return qt.Requester.ID == req.Requester.ID
	})
	if owned >= f.config.MaxPending {
		return Reject("user_queue_limit")
	}
	return Accept()
}

func init() {
	Register("user_queue_limit_filter", func() Filter {
		return NewUserQueueLimitFilter()
	})
}

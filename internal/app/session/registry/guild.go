// Package registry maps guild IDs to their playback sessions.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildtune/internal/app/playback"
)

var ErrSessionNotFound = errors.New("no session for guild")

// Factory builds the playback controller for a guild that has none yet.
type Factory func(guildID string) *playback.Controller

// GuildRegistry manages per-guild playback sessions with thread-safe access.
// At most one controller exists per guild at any time.
type GuildRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*playback.Controller
	factory  Factory
}

// NewGuildRegistry creates a new guild registry.
func NewGuildRegistry(factory Factory) *GuildRegistry {
	return &GuildRegistry{
		sessions: make(map[string]*playback.Controller),
		factory:  factory,
	}
}

// GetOrCreate returns the guild's controller, creating it if absent.
// created reports whether this call built it.
func (r *GuildRegistry) GetOrCreate(guildID string) (c *playback.Controller, created bool) {
	r.mu.RLock()
	c, ok := r.sessions[guildID]
	r.mu.RUnlock()
	if ok {
		return c, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have created it between the locks
	if c, ok := r.sessions[guildID]; ok {
		return c, false
	}

	c = r.factory(guildID)
	r.sessions[guildID] = c
	return c, true
}

// Get retrieves the controller of a guild.
func (r *GuildRegistry) Get(guildID string) (*playback.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.sessions[guildID]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "guild=%s", guildID)
	}
	return c, nil
}

// Remove closes and forgets the guild's controller. Removing an absent guild is a no-op.
func (r *GuildRegistry) Remove(guildID string) {
	r.mu.Lock()
	c, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if ok {
		c.Close()
	}
}

// RemoveSession is Remove restricted to c: it does nothing when the guild has
// since been given another controller.
func (r *GuildRegistry) RemoveSession(c *playback.Controller) bool {
	r.mu.Lock()
	cur, ok := r.sessions[c.GuildID()]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, c.GuildID())
	r.mu.Unlock()

	c.Close()
	return true
}

// All returns every controller, ordered by guild ID.
func (r *GuildRegistry) All() []*playback.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*playback.Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].GuildID() < result[j].GuildID()
	})
	return result
}

// Count returns the number of sessions.
func (r *GuildRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll removes and closes every session.
func (r *GuildRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*playback.Controller)
	r.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
}

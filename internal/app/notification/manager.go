// Package notification fans playback notifications out to admin subscribers.
package notification

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// sendTimeout bounds how long one subscriber may hold up a broadcast.
const sendTimeout = 500 * time.Millisecond

// allGuilds keys the subscribers that watch every guild.
const allGuilds = ""

// Notification is one playback event as seen by admin watchers.
type Notification struct {
	SequenceNo uint64
	Timestamp  time.Time
	GuildID    string
	Type       string
	State      string
	TrackID    string
	TrackTitle string
	Requester  string
	QueueSize  int
	Volume     int
}

// Stream receives notifications for one subscriber.
// Send may be called from several goroutines at once.
type Stream interface {
	Send(*Notification) error
}

// Manager keeps the subscribers of each guild.
type Manager struct {
	sequenceNo atomic.Uint64

	mu      sync.RWMutex
	byGuild map[string]map[string]Stream // guild ID (or allGuilds) -> subscription ID -> stream
	guildOf map[string]string            // subscription ID -> guild key
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		byGuild: make(map[string]map[string]Stream),
		guildOf: make(map[string]string),
	}
}

// Subscribe registers stream for guildID's notifications and returns the subscription ID.
// An empty guildID subscribes to every guild.
func (m *Manager) Subscribe(guildID string, stream Stream) string {
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.byGuild[guildID]
	if !ok {
		subs = make(map[string]Stream)
		m.byGuild[guildID] = subs
	}
	subs[id] = stream
	m.guildOf[id] = guildID
	return id
}

// Unsubscribe drops a subscription. Unknown IDs are ignored.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	guildID, ok := m.guildOf[id]
	if !ok {
		return
	}
	delete(m.guildOf, id)
	delete(m.byGuild[guildID], id)
	if len(m.byGuild[guildID]) == 0 {
		delete(m.byGuild, guildID)
	}
}

// Broadcast numbers n and delivers it to the subscribers of its guild and of every guild.
// It returns once each delivery finished or hit sendTimeout. Subscribers whose
// stream fails are dropped.
func (m *Manager) Broadcast(n *Notification) {
	n.SequenceNo = m.sequenceNo.Add(1)
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	targets := m.targets(n.GuildID)
	var wg sync.WaitGroup
	for id, stream := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := deliver(stream, n); err != nil {
				zlog.Debug().Msgf("notification: dropping subscriber: id=%s error=%v", id, err)
				m.Unsubscribe(id)
			}
		}()
	}
	wg.Wait()
}

func (m *Manager) targets(guildID string) map[string]Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	targets := make(map[string]Stream, len(m.byGuild[guildID])+len(m.byGuild[allGuilds]))
	for id, s := range m.byGuild[allGuilds] {
		targets[id] = s
	}
	if guildID != allGuilds {
		for id, s := range m.byGuild[guildID] {
			targets[id] = s
		}
	}
	return targets
}

// deliver sends n, giving up (without error) after sendTimeout.
// A send that is given up on keeps running in the background.
func deliver(stream Stream, n *Notification) error {
	done := make(chan error, 1)
	go func() {
		done <- stream.Send(n)
	}()

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return nil
	}
}

// SubscriberCount returns the number of subscriptions.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.guildOf)
}

// Close drops every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byGuild = make(map[string]map[string]Stream)
	m.guildOf = make(map[string]string)
}

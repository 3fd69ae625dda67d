package playback

import "github.com/osa030/guildtune/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted  EventType = iota // Track started playing
	EventTrackEnded                     // Track finished playing
	EventTrackSkipped                   // Track was skipped by a user
	EventTrackFailed                    // Output failed to start or broke mid-track
	EventStateChanged                   // Playback state changed (pause/resume)
	EventVolumeChanged                  // Output volume changed
	EventQueueEmpty                     // Queue exhausted, idle timer armed
	EventIdleTimeout                    // Idle timer fired, voice connection closed
	EventStopped                        // Playback stopped by a user
	EventEmptied                        // Voice channel emptied, session cleared
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackFailed:
		return "track_failed"
	case EventStateChanged:
		return "state_changed"
	case EventVolumeChanged:
		return "volume_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventIdleTimeout:
		return "idle_timeout"
	case EventStopped:
		return "stopped"
	case EventEmptied:
		return "emptied"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type    EventType
	GuildID string
	Track   *track.QueuedTrack // Track the event refers to (nil for some events)
	State   State              // Playback state after the event
	Volume  int                // Output volume after the event
	Err     error              // Cause for EventTrackFailed
}

// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"time"
)

// Track represents a resolved, playable audio item.
// Immutable once returned by a resolver.
type Track struct {
	ID       string        // Stable identifier (YouTube video ID)
	Title    string        // Track title
	Artist   string        // Primary artist / uploader
	Duration time.Duration // Track duration (0 if unknown, e.g. live streams)
	URL      string        // Playback link
	Source   string        // Resolver that produced the track ("youtube", "ytmusic")
}

// Requester represents the chat user who requested the track.
type Requester struct {
	ID      string // Chat user ID
	Name    string // Display name
	Mention string // Mention markup for chat output
}

// QueuedTrack represents a track in a guild's playback queue.
type QueuedTrack struct {
	Track     Track     // Resolved track
	Requester Requester // Requester info
	AddedAt   time.Time // Time when added to queue
}

// WatchURL returns the watch link for the track.
func (t *Track) WatchURL() string {
	if t.URL != "" {
		return t.URL
	}
	if t.ID == "" {
		return ""
	}
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", t.ID)
}

// ThumbnailURL returns the thumbnail image link for the track.
func (t *Track) ThumbnailURL() string {
	if t.ID == "" {
		return ""
	}
	return fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", t.ID)
}

// DisplayName returns "Artist - Title", or just the title when the artist is unknown.
func (t *Track) DisplayName() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

// FormatDuration formats a duration as mm:ss, matching the chat output format.
// Durations of an hour or more keep counting minutes (e.g. 75:00).
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

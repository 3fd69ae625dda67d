// Package playlist provides the Playlist domain entity returned by resolvers.
package playlist

import "github.com/osa030/guildtune/internal/domain/track"

// Playlist represents a multi-track resolver result.
type Playlist struct {
	ID       string        // Playlist ID
	Title    string        // Playlist title
	Tracks   []track.Track // Entries in playlist order
	Selected int           // Index of the explicitly selected entry, -1 if none
}

// Pick returns the entry playback should use: the selected entry when one is marked
// and in range, otherwise the first entry. ok is false for an empty playlist.
func (p *Playlist) Pick() (track.Track, bool) {
	if len(p.Tracks) == 0 {
		return track.Track{}, false
	}
	if p.Selected >= 0 && p.Selected < len(p.Tracks) {
		return p.Tracks[p.Selected], true
	}
	return p.Tracks[0], true
}

// IndexOf returns the index of the entry with the given track ID, or -1.
func (p *Playlist) IndexOf(trackID string) int {
	for i, t := range p.Tracks {
		if t.ID == trackID {
			return i
		}
	}
	return -1
}

// Package playback provides the per-guild playback controller: the queue engine
// bound to an audio sink and a voice connection, with idle-timeout handling.
package playback

// State is where a guild's playback stands. A stopped session is Idle.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
)

var stateNames = [...]string{
	StateIdle:    "idle",
	StatePlaying: "playing",
	StatePaused:  "paused",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

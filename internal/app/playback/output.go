package playback

import "github.com/osa030/guildtune/internal/domain/track"

// SinkEvent is emitted by a Sink when the output started with the given
// sequence number ends. Err is set when output broke instead of finishing.
type SinkEvent struct {
	Seq uint64
	Err error
}

// Sink is the audio output for one guild.
// All methods are requests; none of them wait for audio to actually flow.
type Sink interface {
	// Start begins output of t. Any running output is replaced.
	// seq identifies this output in the SinkEvent emitted when it ends.
	Start(seq uint64, t track.Track, volume int) error
	// Stop halts the current output. A SinkEvent may still arrive for it;
	// the controller discards events whose Seq is no longer current.
	Stop()
	Pause()
	Resume()
	SetVolume(volume int)
	Events() <-chan SinkEvent
}

// Voice is the voice-channel connection for one guild.
type Voice interface {
	// Open requests a connection to the channel. Reopening the same channel is a no-op.
	Open(channelID string) error
	Close() error
	IsOpen() bool
	ChannelID() string
}

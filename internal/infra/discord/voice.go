package discord

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/infra/audio"
)

var (
	_ playback.Voice    = (*Voice)(nil)
	_ audio.FrameWriter = (*Voice)(nil)
)

var (
	// ErrVoiceClosed is returned by WriteFrame when no connection is requested.
	ErrVoiceClosed = errors.New("voice connection closed")
	// ErrVoiceTimeout is returned when the connection does not become ready or stops accepting frames.
	ErrVoiceTimeout = errors.New("voice connection timed out")
)

// Voice is the voice connection of one guild.
// Open only requests the join; frames written before the connection is
// ready wait for it up to the connect timeout.
type Voice struct {
	guildID string
	timeout time.Duration

	join  func(channelID string) (*discordgo.VoiceConnection, error)
	leave func(vc *discordgo.VoiceConnection) error

	mu        sync.Mutex
	gen       uint64
	channelID string
	conn      *discordgo.VoiceConnection
	joinErr   error
	ready     chan struct{} // closed once the current join attempt finished
}

// NewVoice creates the voice connection handle of a guild.
func NewVoice(s *discordgo.Session, guildID string, connectTimeout time.Duration) *Voice {
	return newVoice(
		guildID,
		connectTimeout,
		func(channelID string) (*discordgo.VoiceConnection, error) {
			// Self-deafened: the bot never listens.
			return s.ChannelVoiceJoin(guildID, channelID, false, true)
		},
		func(vc *discordgo.VoiceConnection) error {
			return vc.Disconnect()
		},
	)
}

func newVoice(
	guildID string,
	timeout time.Duration,
	join func(channelID string) (*discordgo.VoiceConnection, error),
	leave func(vc *discordgo.VoiceConnection) error,
) *Voice {
	return &Voice{
		guildID: guildID,
		timeout: timeout,
		join:    join,
		leave:   leave,
	}
}

// Open requests a connection to channelID. It returns without waiting for the join.
func (v *Voice) Open(channelID string) error {
	if channelID == "" {
		return errors.New("empty voice channel id")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.channelID == channelID && v.joinErr == nil {
		return nil
	}

	v.gen++
	v.channelID = channelID
	v.joinErr = nil
	ready := make(chan struct{})
	v.ready = ready
	go v.connect(v.gen, channelID, ready)

	zlog.Debug().Msgf("discord: voice join requested: guild=%s channel=%s", v.guildID, channelID)
	return nil
}

func (v *Voice) connect(gen uint64, channelID string, ready chan struct{}) {
	vc, err := v.join(channelID)

	v.mu.Lock()
	defer v.mu.Unlock()
	defer close(ready)

	if gen != v.gen {
		// Superseded. A later Open reuses the guild connection; a Close must not leave it behind.
		if err == nil && v.channelID == "" {
			if leaveErr := v.leave(vc); leaveErr != nil {
				zlog.Debug().Msgf("discord: failed to leave stale voice connection: guild=%s error=%v", v.guildID, leaveErr)
			}
		}
		return
	}
	if err != nil {
		v.joinErr = errors.Wrapf(err, "failed to join voice channel: channel=%s", channelID)
		zlog.Warn().Msgf("discord: voice join failed: guild=%s channel=%s error=%v", v.guildID, channelID, err)
		return
	}
	v.conn = vc
	zlog.Info().Msgf("discord: voice connected: guild=%s channel=%s", v.guildID, channelID)
}

// Close disconnects from the voice channel.
func (v *Voice) Close() error {
	v.mu.Lock()
	v.gen++
	conn := v.conn
	v.conn = nil
	v.channelID = ""
	v.joinErr = nil
	v.ready = nil
	v.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := v.leave(conn); err != nil {
		return errors.Wrap(err, "failed to disconnect voice")
	}
	zlog.Info().Msgf("discord: voice disconnected: guild=%s", v.guildID)
	return nil
}

// IsOpen reports whether a connection is requested or established.
func (v *Voice) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID != ""
}

// ChannelID returns the requested channel, or "" when closed.
func (v *Voice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channelID
}

// WriteFrame sends one Opus frame, waiting for the connection when it is still joining.
func (v *Voice) WriteFrame(ctx context.Context, frame []byte) error {
	vc, err := v.await(ctx)
	if err != nil {
		return err
	}

	stall := time.NewTimer(v.timeout)
	defer stall.Stop()

	select {
	case vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stall.C:
		return ErrVoiceTimeout
	}
}

// SetSpeaking toggles the speaking indicator. Failures are logged only.
func (v *Voice) SetSpeaking(speaking bool) {
	v.mu.Lock()
	vc := v.conn
	v.mu.Unlock()
	if vc == nil {
		return
	}
	if err := vc.Speaking(speaking); err != nil {
		zlog.Debug().Msgf("discord: failed to set speaking: guild=%s error=%v", v.guildID, err)
	}
}

// await returns the established connection.
func (v *Voice) await(ctx context.Context) (*discordgo.VoiceConnection, error) {
	v.mu.Lock()
	vc, ready := v.conn, v.ready
	v.mu.Unlock()
	if vc != nil {
		return vc, nil
	}
	if ready == nil {
		return nil, ErrVoiceClosed
	}

	timer := time.NewTimer(v.timeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrVoiceTimeout
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.conn != nil:
		return v.conn, nil
	case v.joinErr != nil:
		return nil, v.joinErr
	}
	return nil, ErrVoiceClosed
}

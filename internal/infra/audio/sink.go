// Package audio implements the per-guild audio output: stream lookup, ffmpeg
// transcoding, volume scaling and Opus encoding into a voice connection.
package audio

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"layeh.com/gopus"

	"github.com/osa030/guildtune/internal/app/playback"
	"github.com/osa030/guildtune/internal/domain/track"
)

// Config represents audio pipeline configuration.
type Config struct {
	FFmpegPath  string
	SampleRate  int
	Channels    int
	FrameSize   int // samples per channel per frame
	Bitrate     int
	Application string // "voip", "audio" or "lowdelay"
}

// StreamResolver returns a direct media URL for a track ID.
type StreamResolver interface {
	StreamURL(ctx context.Context, videoID string) (string, error)
}

// FrameWriter delivers encoded Opus frames to the voice connection.
type FrameWriter interface {
	// WriteFrame blocks until the frame is accepted, the connection fails or ctx is done.
	WriteFrame(ctx context.Context, frame []byte) error
	SetSpeaking(speaking bool)
}

type encoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

const maxOpusFrameBytes = 4000

// Sink plays one track at a time for a guild. It satisfies playback.Sink.
type Sink struct {
	cfg     Config
	guildID string
	streams StreamResolver
	out     FrameWriter

	openPCM    func(ctx context.Context, url string) (io.ReadCloser, error)
	newEncoder func() (encoder, error)

	volume atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	pauseCh chan struct{} // non-nil while paused; closed on resume
	closed  bool

	events chan playback.SinkEvent
	wg     sync.WaitGroup
}

// NewSink creates an audio sink writing to out.
func NewSink(cfg Config, guildID string, streams StreamResolver, out FrameWriter) *Sink {
	s := &Sink{
		cfg:     cfg,
		guildID: guildID,
		streams: streams,
		out:     out,
		events:  make(chan playback.SinkEvent, 8),
	}
	s.openPCM = func(ctx context.Context, url string) (io.ReadCloser, error) {
		return openFFmpeg(ctx, s.cfg, url)
	}
	s.newEncoder = s.opusEncoder
	s.volume.Store(playback.DefaultVolume)
	return s
}

// Events returns the channel carrying end-of-output notifications.
func (s *Sink) Events() <-chan playback.SinkEvent {
	return s.events
}

// Start replaces any running output with t. It returns immediately; failures
// while opening or streaming arrive as a SinkEvent with Err set.
func (s *Sink) Start(seq uint64, t track.Track, volume int) error {
	if t.ID == "" {
		return errors.New("track has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}

	s.stopLocked()
	s.volume.Store(int32(volume))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx, seq, t)

	zlog.Debug().Msgf("audio: output started: guild=%s seq=%d track=%s", s.guildID, seq, t.ID)
	return nil
}

// Stop halts the current output without emitting an event for it.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Pause holds frame delivery until Resume.
func (s *Sink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseCh == nil {
		s.pauseCh = make(chan struct{})
	}
}

// Resume releases a paused output.
func (s *Sink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeLocked()
}

// SetVolume changes the gain applied to the running output, in percent.
func (s *Sink) SetVolume(volume int) {
	s.volume.Store(int32(volume))
}

// Close stops output and waits for the output goroutine to exit.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sink) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.resumeLocked()
}

func (s *Sink) resumeLocked() {
	if s.pauseCh != nil {
		close(s.pauseCh)
		s.pauseCh = nil
	}
}

func (s *Sink) pauseGate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseCh
}

func (s *Sink) run(ctx context.Context, seq uint64, t track.Track) {
	defer s.wg.Done()

	err := s.play(ctx, t)
	if ctx.Err() != nil {
		// Stopped or replaced.
		return
	}
	if err != nil {
		zlog.Warn().Msgf("audio: output failed: guild=%s seq=%d track=%s error=%v", s.guildID, seq, t.ID, err)
	} else {
		zlog.Debug().Msgf("audio: output finished: guild=%s seq=%d track=%s", s.guildID, seq, t.ID)
	}

	select {
	case s.events <- playback.SinkEvent{Seq: seq, Err: err}:
	case <-ctx.Done():
	}
}

func (s *Sink) play(ctx context.Context, t track.Track) error {
	url, err := s.streams.StreamURL(ctx, t.ID)
	if err != nil {
		return errors.Wrap(err, "stream lookup")
	}

	pcm, err := s.openPCM(ctx, url)
	if err != nil {
		return err
	}
	defer pcm.Close()

	enc, err := s.newEncoder()
	if err != nil {
		return err
	}

	s.out.SetSpeaking(true)
	defer s.out.SetSpeaking(false)

	samples := s.cfg.FrameSize * s.cfg.Channels
	raw := make([]byte, samples*2)
	frame := make([]int16, samples)
	frames := 0

	for {
		if gate := s.pauseGate(); gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		n, err := io.ReadFull(pcm, raw)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if n > 0 {
				// Pad the trailing partial frame with silence.
				clear(raw[n:])
			} else {
				if closeErr := pcm.Close(); frames == 0 && closeErr != nil {
					return errors.Wrap(closeErr, "no audio decoded")
				}
				return nil
			}
		} else if err != nil {
			return errors.Wrap(err, "read pcm")
		}

		decodePCM(raw, frame, int(s.volume.Load()))
		opus, err := enc.Encode(frame, s.cfg.FrameSize, maxOpusFrameBytes)
		if err != nil {
			return errors.Wrap(err, "opus encode")
		}
		if err := s.out.WriteFrame(ctx, opus); err != nil {
			return errors.Wrap(err, "voice write")
		}
		frames++
	}
}

func (s *Sink) opusEncoder() (encoder, error) {
	app := gopus.Audio
	switch s.cfg.Application {
	case "voip":
		app = gopus.Voip
	case "lowdelay":
		app = gopus.RestrictedLowDelay
	}
	enc, err := gopus.NewEncoder(s.cfg.SampleRate, s.cfg.Channels, app)
	if err != nil {
		return nil, errors.Wrap(err, "opus encoder")
	}
	if s.cfg.Bitrate > 0 {
		enc.SetBitrate(s.cfg.Bitrate)
	}
	return enc, nil
}

// decodePCM converts little-endian s16 samples into dst, scaled by volume percent.
func decodePCM(raw []byte, dst []int16, volume int) {
	for i := range dst {
		sample := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		dst[i] = scale(sample, volume)
	}
}

// scale applies a percentage gain with clipping.
func scale(sample int16, volume int) int16 {
	if volume == 100 {
		return sample
	}
	v := int32(sample) * int32(volume) / 100
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

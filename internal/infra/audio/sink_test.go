package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildtune/internal/domain/track"
)

var testConfig = Config{
	FFmpegPath: "ffmpeg",
	SampleRate: 48000,
	Channels:   2,
	FrameSize:  4,
	Bitrate:    64000,
}

type fakeStreams struct {
	err error
}

func (f fakeStreams) StreamURL(ctx context.Context, videoID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://media.example/" + videoID, nil
}

type fakeWriter struct {
	mu       sync.Mutex
	frames   [][]byte
	speaking []bool
	block    chan struct{} // when non-nil, WriteFrame waits on it
}

func (w *fakeWriter) WriteFrame(ctx context.Context, frame []byte) error {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte(nil), frame...))
	return nil
}

func (w *fakeWriter) SetSpeaking(speaking bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.speaking = append(w.speaking, speaking)
}

func (w *fakeWriter) frameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

// passthroughEncoder emits the first sample of each frame as two bytes.
type passthroughEncoder struct{}

func (passthroughEncoder) Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, uint16(pcm[0]))
	return out, nil
}

type pcmReader struct {
	*bytes.Reader
	closeErr error
}

func (r pcmReader) Close() error { return r.closeErr }

func pcmFrames(values ...int16) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		for i := 0; i < testConfig.FrameSize*testConfig.Channels; i++ {
			_ = binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	return buf.Bytes()
}

func newTestSink(streams StreamResolver, out FrameWriter, pcm []byte, closeErr error) *Sink {
	s := NewSink(testConfig, "guild-1", streams, out)
	s.openPCM = func(ctx context.Context, url string) (io.ReadCloser, error) {
		return pcmReader{Reader: bytes.NewReader(pcm), closeErr: closeErr}, nil
	}
	s.newEncoder = func() (encoder, error) { return passthroughEncoder{}, nil }
	return s
}

func TestSink_PlaysToEndAndEmits(t *testing.T) {
	out := &fakeWriter{}
	s := newTestSink(fakeStreams{}, out, pcmFrames(100, 200, 300), nil)
	defer s.Close()

	require.NoError(t, s.Start(7, track.Track{ID: "abc"}, 100))

	select {
	case ev := <-s.Events():
		assert.Equal(t, uint64(7), ev.Seq)
		assert.NoError(t, ev.Err)
	case <-time.After(time.Second):
		t.Fatal("no end event")
	}
	assert.Equal(t, 3, out.frameCount())
	assert.Equal(t, []bool{true, false}, out.speaking)
}

func TestSink_AppliesVolume(t *testing.T) {
	out := &fakeWriter{}
	s := newTestSink(fakeStreams{}, out, pcmFrames(1000, 30000), nil)
	defer s.Close()

	require.NoError(t, s.Start(1, track.Track{ID: "abc"}, 200))
	<-s.Events()

	require.Len(t, out.frames, 2)
	assert.Equal(t, int16(2000), int16(binary.LittleEndian.Uint16(out.frames[0])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(out.frames[1])))
}

func TestSink_StreamLookupFailureEmitsError(t *testing.T) {
	s := newTestSink(fakeStreams{err: errors.New("blocked")}, &fakeWriter{}, nil, nil)
	defer s.Close()

	require.NoError(t, s.Start(3, track.Track{ID: "abc"}, 100))

	ev := <-s.Events()
	assert.Equal(t, uint64(3), ev.Seq)
	assert.ErrorContains(t, ev.Err, "blocked")
}

func TestSink_EmptyOutputWithFailedDecoderIsError(t *testing.T) {
	s := newTestSink(fakeStreams{}, &fakeWriter{}, nil, errors.New("exit status 1"))
	defer s.Close()

	require.NoError(t, s.Start(4, track.Track{ID: "abc"}, 100))

	ev := <-s.Events()
	assert.ErrorContains(t, ev.Err, "no audio decoded")
}

func TestSink_StopSuppressesEvent(t *testing.T) {
	out := &fakeWriter{block: make(chan struct{})}
	s := newTestSink(fakeStreams{}, out, pcmFrames(1, 2, 3), nil)

	require.NoError(t, s.Start(5, track.Track{ID: "abc"}, 100))
	s.Stop()
	s.Close()

	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	default:
	}
}

func TestSink_StartReplacesRunningOutput(t *testing.T) {
	out := &fakeWriter{block: make(chan struct{})}
	s := newTestSink(fakeStreams{}, out, pcmFrames(1), nil)
	defer s.Close()

	require.NoError(t, s.Start(1, track.Track{ID: "first"}, 100))
	require.NoError(t, s.Start(2, track.Track{ID: "second"}, 100))
	close(out.block)

	ev := <-s.Events()
	assert.Equal(t, uint64(2), ev.Seq)
}

func TestSink_PauseHoldsFrames(t *testing.T) {
	out := &fakeWriter{block: make(chan struct{})}
	s := newTestSink(fakeStreams{}, out, pcmFrames(1, 2, 3), nil)
	defer s.Close()

	require.NoError(t, s.Start(1, track.Track{ID: "abc"}, 100))
	s.Pause()
	close(out.block)

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, out.frameCount(), 1)

	s.Resume()
	select {
	case ev := <-s.Events():
		assert.NoError(t, ev.Err)
	case <-time.After(time.Second):
		t.Fatal("no end event after resume")
	}
	assert.Equal(t, 3, out.frameCount())
}

func TestSink_StartRejectsMissingID(t *testing.T) {
	s := newTestSink(fakeStreams{}, &fakeWriter{}, nil, nil)
	defer s.Close()
	assert.Error(t, s.Start(1, track.Track{}, 100))
}

func TestScale(t *testing.T) {
	assert.Equal(t, int16(500), scale(1000, 50))
	assert.Equal(t, int16(0), scale(1000, 0))
	assert.Equal(t, int16(-32768), scale(-20000, 200))
	assert.Equal(t, int16(1234), scale(1234, 100))
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs(testConfig, "https://media.example/abc")
	assert.Contains(t, args, "https://media.example/abc")
	assert.Equal(t, "pipe:1", args[len(args)-1])
	assert.Subset(t, args, []string{"-f", "s16le", "-ar", "48000", "-ac", "2"})
}

package audio

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ffmpegArgs builds the transcode command line: reconnecting input, raw
// little-endian PCM at the configured rate and channel count on stdout.
func ffmpegArgs(cfg Config, inputURL string) []string {
	return []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", inputURL,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.Channels),
		"-loglevel", "error",
		"pipe:1",
	}
}

// ffmpegStream is a running ffmpeg process exposed as a PCM reader.
type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

// openFFmpeg starts ffmpeg on inputURL. The process is killed when ctx is done.
func openFFmpeg(ctx context.Context, cfg Config, inputURL string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, ffmpegArgs(cfg, inputURL)...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", cfg.FFmpegPath)
	}
	return &ffmpegStream{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close stops the process and reports how it exited.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.cmd.Process.Kill()
		err := s.cmd.Wait()
		if err != nil {
			if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
				err = errors.Wrapf(err, "ffmpeg: %s", lastLine(msg))
			}
		}
		s.closeErr = err
	})
	return s.closeErr
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

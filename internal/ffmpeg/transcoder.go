package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/radiarr/internal/observability"
)

const (
	stderrTail = 2048
	waitDelay  = 2 * time.Second
)

// Transcoder re-encodes playlist tracks to constant bitrate MP3.
type Transcoder struct {
	detector *BinaryDetector
	logger   *slog.Logger
}

// NewTranscoder creates a Transcoder that resolves ffmpeg through detector.
func NewTranscoder(detector *BinaryDetector, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{detector: detector, logger: observability.WithComponent(logger, "ffmpeg")}
}

// Command returns the invocation used for one track.
func (t *Transcoder) Command(binary string, bitrate int) *Command {
	return NewCommandBuilder(binary).
		HideBanner().
		NoStdin().
		Input("pipe:0").
		DropVideo().
		AudioCodec("libmp3lame").
		AudioBitrate(bitrate).
		StripMetadata().
		Format("mp3").
		Output("pipe:1").
		Build()
}

// Transcode starts ffmpeg reading in and returns its stdout. Closing the
// reader kills the process; reading to EOF surfaces a non-zero exit.
func (t *Transcoder) Transcode(ctx context.Context, in io.Reader, bitrate int) (io.ReadCloser, error) {
	info, err := t.detector.Detect(ctx)
	if err != nil {
		return nil, err
	}
	cmd := t.Command(info.FFmpegPath, bitrate)

	proc := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	proc.Stdin = in
	stderr := &tailBuffer{limit: stderrTail}
	proc.Stderr = stderr
	proc.WaitDelay = waitDelay
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	t.logger.Debug("ffmpeg started", slog.Int("pid", proc.Process.Pid), slog.String("command", cmd.String()))

	return &processReader{cmd: proc, stdout: stdout, stderr: stderr}, nil
}

type processReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

func (r *processReader) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := r.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (r *processReader) wait() error {
	r.waitOnce.Do(func() {
		if err := r.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(r.stderr.String())
			if msg != "" {
				r.waitErr = fmt.Errorf("ffmpeg: %w: %s", err, msg)
			} else {
				r.waitErr = fmt.Errorf("ffmpeg: %w", err)
			}
		}
	})
	return r.waitErr
}

// Close kills ffmpeg if it is still running and reaps it.
func (r *processReader) Close() error {
	if r.cmd.ProcessState == nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.wait()
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

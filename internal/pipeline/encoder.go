package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// EncodeSession consumes raw RGB24 frames and produces one container file.
type EncodeSession interface {
	WriteFrame(frame []byte) error
	// Close flushes and finalizes the container.
	Close() error
	// Abort discards the session without finalizing. Safe after Close.
	Abort()
}

// Encoder opens encode sessions. The codec itself is an external
// collaborator; the gateway only feeds it frames.
type Encoder interface {
	Begin(ctx context.Context, outPath string, width, height, fps int) (EncodeSession, error)
}

// FFmpegEncoder shells out to ffmpeg, feeding rawvideo on stdin.
type FFmpegEncoder struct {
	// Bin is the ffmpeg binary. Default "ffmpeg".
	Bin string
}

func (e *FFmpegEncoder) Begin(ctx context.Context, outPath string, width, height, fps int) (EncodeSession, error) {
	bin := e.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", strconv.Itoa(width)+"x"+strconv.Itoa(height),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &ffmpegSession{cmd: cmd, in: stdin, stderr: &stderr}, nil
}

type ffmpegSession struct {
	cmd    *exec.Cmd
	in     io.WriteCloser
	stderr *bytes.Buffer
	done   bool
}

func (s *ffmpegSession) WriteFrame(frame []byte) error {
	if _, err := s.in.Write(frame); err != nil {
		return fmt.Errorf("encode frame: %w: %s", err, firstLine(s.stderr.String()))
	}
	return nil
}

func (s *ffmpegSession) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.in.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, firstLine(s.stderr.String()))
	}
	return nil
}

func (s *ffmpegSession) Abort() {
	if s.done {
		return
	}
	s.done = true
	_ = s.in.Close()
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

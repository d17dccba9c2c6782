package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgend/internal/registry"
)

// SubprocessConfig configures the runner-process loader.
type SubprocessConfig struct {
	// Command is the runner argv prefix, e.g. ["python3", "-m", "wan.runner"].
	// The loader appends --task, --checkpoint and --device.
	Command []string
	// StartTimeout bounds the wait for the runner's ready line. Weight
	// loading happens before that line, so this covers the full load.
	StartTimeout time.Duration
	// CancelGrace is how long a cancelled job waits for the runner to
	// acknowledge before the process is killed outright.
	CancelGrace time.Duration
}

// subprocessLoader spawns one long-lived runner process per resident model.
// The process holds the weights; killing it is the unload.
type subprocessLoader struct {
	cfg SubprocessConfig
	log zerolog.Logger
}

// NewSubprocessLoader builds a Loader backed by an external runner command.
func NewSubprocessLoader(cfg SubprocessConfig, log zerolog.Logger) (Loader, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("engine: runner command is empty")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Minute
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 15 * time.Second
	}
	return &subprocessLoader{cfg: cfg, log: log}, nil
}

func (l *subprocessLoader) Load(ctx context.Context, cp registry.Checkpoint, device int) (Engine, error) {
	argv := append(append([]string(nil), l.cfg.Command...),
		"--task", string(cp.Task),
		"--checkpoint", cp.Path,
		"--device", strconv.Itoa(device),
	)
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: start runner: %w", err)
	}
	e := &subprocessEngine{
		cmd:         cmd,
		in:          stdin,
		out:         bufio.NewReaderSize(stdout, 1<<20),
		stderr:      stderr,
		cancelGrace: l.cfg.CancelGrace,
		log:         l.log.With().Str("task", string(cp.Task)).Int("pid", cmd.Process.Pid).Logger(),
	}

	// The runner emits {"ready":true} once weights are on the device.
	loadCtx, cancel := context.WithTimeout(ctx, l.cfg.StartTimeout)
	defer cancel()
	if err := e.awaitReady(loadCtx); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.log.Info().Str("checkpoint", cp.Path).Msg("runner ready")
	return e, nil
}

// control is a runner stdout control line. Frame lines are followed by one
// raw RGB24 frame of the size announced in the job.
type control struct {
	Ready   bool   `json:"ready,omitempty"`
	Frame   bool   `json:"frame,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// jobMsg is the runner stdin job record.
type jobMsg struct {
	Prompt      string  `json:"prompt"`
	ImageB64    string  `json:"image_b64,omitempty"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FrameCount  int     `json:"frame_num"`
	SampleSteps int     `json:"sample_steps"`
	GuideScale  float64 `json:"guide_scale"`
	SampleShift float64 `json:"sample_shift"`
	Seed        int64   `json:"seed"`
}

type cancelMsg struct {
	Cancel bool `json:"cancel"`
}

type subprocessEngine struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	in          io.WriteCloser
	out         *bufio.Reader
	stderr      *tailBuffer
	cancelGrace time.Duration
	log         zerolog.Logger
	closed      bool
}

func (e *subprocessEngine) awaitReady(ctx context.Context) error {
	type result struct {
		c   control
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := e.readControl()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return e.asRuntimeError(r.err)
		}
		if !r.c.Ready {
			return ErrInternalModel("runner spoke before ready: " + r.c.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: waiting for runner: %w", ctx.Err())
	}
}

func (e *subprocessEngine) Infer(ctx context.Context, req InferRequest, onFrame func([]byte) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrInternalModel("runner already closed")
	}
	if err := ctx.Err(); err != nil {
		return ErrCancelled()
	}

	job := jobMsg{
		Prompt:      req.Prompt,
		Width:       req.Width,
		Height:      req.Height,
		FrameCount:  req.FrameCount,
		SampleSteps: req.SampleSteps,
		GuideScale:  req.GuideScale,
		SampleShift: req.SampleShift,
		Seed:        req.Seed,
	}
	if len(req.Image) > 0 {
		job.ImageB64 = base64.StdEncoding.EncodeToString(req.Image)
	}
	if err := e.writeJSON(job); err != nil {
		return e.asRuntimeError(err)
	}

	// Cooperative cancellation: once ctx fires, the watcher asks the runner
	// to stop at the next batch boundary, then kills it after the grace
	// period if it never acknowledges. The kill breaks the pipe, which
	// unblocks the reads below even when the runner is fully wedged.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-watchDone:
			return
		case <-ctx.Done():
		}
		_ = e.writeJSON(cancelMsg{Cancel: true})
		select {
		case <-watchDone:
		case <-time.After(e.cancelGrace):
			select {
			case <-watchDone:
				return
			default:
			}
			e.log.Warn().Dur("grace", e.cancelGrace).Msg("runner ignored cancel, killing")
			_ = e.cmd.Process.Kill()
		}
	}()

	frame := make([]byte, req.FrameSize())
	for {
		c, err := e.readControl()
		if err != nil {
			if ctx.Err() != nil {
				// Stopped by exit or killed after grace; either way the
				// process is gone and the handle is unusable.
				e.reapLocked()
				return ErrCancelled()
			}
			return e.asRuntimeError(err)
		}
		switch {
		case c.Frame:
			if _, err := io.ReadFull(e.out, frame); err != nil {
				if ctx.Err() != nil {
					e.reapLocked()
					return ErrCancelled()
				}
				return e.asRuntimeError(err)
			}
			if ctx.Err() != nil {
				continue // discard frames produced before the checkpoint
			}
			if err := onFrame(frame); err != nil {
				return err
			}
		case c.Done:
			if ctx.Err() != nil {
				return ErrCancelled()
			}
			return nil
		case c.Error != "":
			return mapRunnerError(c.Error, c.Message)
		default:
			return ErrInternalModel("unexpected runner output")
		}
	}
}

// reapLocked marks a dead runner closed and collects its exit status so the
// process is not left as a zombie. Callers hold e.mu; Close becomes a no-op.
func (e *subprocessEngine) reapLocked() {
	e.closed = true
	go func() { _ = e.cmd.Wait() }()
}

func (e *subprocessEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.in.Close()
	done := make(chan struct{})
	go func() {
		_ = e.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = e.cmd.Process.Kill()
		<-done
	}
	e.log.Info().Msg("runner stopped")
	return nil
}

func (e *subprocessEngine) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.in.Write(append(b, '\n'))
	return err
}

func (e *subprocessEngine) readControl() (control, error) {
	line, err := e.out.ReadString('\n')
	if err != nil {
		return control{}, err
	}
	var c control
	if uerr := json.Unmarshal([]byte(strings.TrimSpace(line)), &c); uerr != nil {
		return control{}, fmt.Errorf("bad control line: %w", uerr)
	}
	return c, nil
}

// asRuntimeError classifies a pipe failure using the runner's stderr tail.
func (e *subprocessEngine) asRuntimeError(err error) error {
	tail := e.stderr.String()
	if isOOMText(tail) {
		return ErrResourceExhausted(lastLine(tail))
	}
	if tail != "" {
		return ErrInternalModel(lastLine(tail))
	}
	return ErrInternalModel(err.Error())
}

func mapRunnerError(code, message string) error {
	switch code {
	case "oom":
		return ErrResourceExhausted(message)
	case "cancelled":
		return ErrCancelled()
	default:
		if isOOMText(message) {
			return ErrResourceExhausted(message)
		}
		return ErrInternalModel(message)
	}
}

func isOOMText(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "out of memory") || strings.Contains(l, "oom")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		b := t.buf.Bytes()
		trimmed := append([]byte(nil), b[len(b)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

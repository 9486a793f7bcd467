package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	cameraReadSize       = 32 * 1024
	defaultStartupWindow = 5 * time.Second
	stderrTail           = 512
)

// ErrEmptyCommand is returned when no capture command is configured.
var ErrEmptyCommand = errors.New("empty capture command")

// CommandCamera runs an external capture command (typically ffmpeg) that
// writes a WebM stream with muxed camera video and microphone audio to stdout.
type CommandCamera struct {
	Command string
	// StartupWindow bounds how long Open waits for the first bytes. A command
	// that exits inside the window is treated as denied access.
	StartupWindow time.Duration
}

// Open starts the command and waits until it produces output.
func (c *CommandCamera) Open(ctx context.Context) (Stream, error) {
	args := strings.Fields(c.Command)
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, args[0], args[1:]...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start camera command: %w", err)
	}

	s := &commandStream{
		ctx:    procCtx,
		cmd:    cmd,
		cancel: cancel,
		chunks: make(chan []byte, 64),
		exited: make(chan struct{}),
	}

	ready := make(chan struct{})
	go s.read(stdout, ready, stderr)

	window := c.StartupWindow
	if window <= 0 {
		window = defaultStartupWindow
	}
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-ready:
		return s, nil
	case <-s.exited:
		return nil, fmt.Errorf("camera command exited: %w", s.Err())
	case <-timer.C:
		_ = s.Stop()
		return nil, fmt.Errorf("camera produced no data within %s", window)
	case <-ctx.Done():
		_ = s.Stop()
		return nil, ctx.Err()
	}
}

type commandStream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	cancel context.CancelFunc
	chunks chan []byte
	exited chan struct{}

	mu       sync.Mutex
	err      error
	stopping bool
}

func (s *commandStream) Chunks() <-chan []byte { return s.chunks }

func (s *commandStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *commandStream) Stop() error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.cancel()
	<-s.exited
	return nil
}

func (s *commandStream) read(stdout io.Reader, ready chan<- struct{}, stderr *tailBuffer) {
	started := false
	buf := make([]byte, cameraReadSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.ctx.Done():
			}
			if !started {
				close(ready)
				started = true
			}
		}
		if err != nil {
			break
		}
	}

	waitErr := s.cmd.Wait()
	s.mu.Lock()
	if !s.stopping {
		if waitErr == nil {
			waitErr = io.EOF
		}
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			waitErr = fmt.Errorf("%w: %s", waitErr, tail)
		}
		s.err = waitErr
	}
	s.mu.Unlock()

	close(s.chunks)
	close(s.exited)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

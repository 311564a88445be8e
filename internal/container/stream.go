package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Stream is a live byte stream owned by a supervised subprocess.
// Closing the stream kills the process; Wait reports its exit code.
type Stream interface {
	io.Reader
	io.Writer
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// Close kills the process if it is still running and releases the pipes.
	Close() error
}

// Streamer opens live streams against a container.
type Streamer interface {
	// FollowLogs follows container output, starting with the last tail lines.
	// The stream is read-only.
	FollowLogs(ctx context.Context, containerID string, tail int) (Stream, error)
	// Shell runs an interactive shell in the container behind a pseudo-terminal.
	Shell(ctx context.Context, containerID string) (Stream, error)
}

// CommandFunc builds the subprocess for a stream.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// CLIStreamer implements Streamer by running the docker CLI.
type CLIStreamer struct {
	binary  string
	command CommandFunc
}

// NewCLIStreamer returns a streamer invoking binary (usually "docker").
func NewCLIStreamer(binary string) *CLIStreamer {
	if binary == "" {
		binary = "docker"
	}
	return &CLIStreamer{binary: binary, command: exec.CommandContext}
}

// WithCommand replaces how subprocesses are built.
func (s *CLIStreamer) WithCommand(fn CommandFunc) *CLIStreamer {
	s.command = fn
	return s
}

// FollowLogs implements Streamer.
func (s *CLIStreamer) FollowLogs(ctx context.Context, containerID string, tail int) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := s.command(ctx, s.binary, "logs", "--follow", "--tail", strconv.Itoa(tail), containerID)

	r, w, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		cancel()
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting log follower: %w", err)
	}
	// The child holds the only write end now; reads hit EOF when it exits.
	w.Close()

	return newProcStream(cmd, r, cancel, false), nil
}

// Shell implements Streamer.
func (s *CLIStreamer) Shell(ctx context.Context, containerID string) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := s.command(ctx, s.binary, "exec", "-it", containerID, "/bin/bash")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("starting shell: %w", err)
	}
	return newProcStream(cmd, f, cancel, true), nil
}

// procStream ties a subprocess to the file its output is read from.
type procStream struct {
	cmd      *exec.Cmd
	f        *os.File
	cancel   context.CancelFunc
	writable bool

	waitOnce sync.Once
	code     int
	waitErr  error

	closeOnce sync.Once
}

func newProcStream(cmd *exec.Cmd, f *os.File, cancel context.CancelFunc, writable bool) *procStream {
	return &procStream{cmd: cmd, f: f, cancel: cancel, writable: writable}
}

func (p *procStream) Read(b []byte) (int, error) {
	n, err := p.f.Read(b)
	// A pty master reports EIO once the child side is gone.
	if errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}

func (p *procStream) Write(b []byte) (int, error) {
	if !p.writable {
		return 0, errors.New("stream is read-only")
	}
	return p.f.Write(b)
}

func (p *procStream) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.code = 0
		case errors.As(err, &exitErr):
			p.code = exitErr.ExitCode()
		default:
			p.code = -1
			p.waitErr = err
		}
	})
	return p.code, p.waitErr
}

func (p *procStream) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.f.Close()
	})
	return err
}

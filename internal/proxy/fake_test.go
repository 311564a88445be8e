package proxy

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/majorcontext/agento/internal/container"
)

// fakeStream is a Stream backed by an in-memory pipe. Writes are passed
// through to the read side unless onWrite intercepts them.
type fakeStream struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	code    int
	onWrite func(s *fakeStream, b []byte) bool

	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	pr, pw := io.Pipe()
	return &fakeStream{pr: pr, pw: pw, done: make(chan struct{})}
}

func (s *fakeStream) Read(b []byte) (int, error) { return s.pr.Read(b) }

func (s *fakeStream) Write(b []byte) (int, error) {
	s.mu.Lock()
	fn := s.onWrite
	s.mu.Unlock()
	if fn != nil && fn(s, b) {
		return len(b), nil
	}
	return s.pw.Write(b)
}

// exit ends the output with the given exit code.
func (s *fakeStream) exit(code int) {
	s.mu.Lock()
	s.code = code
	s.mu.Unlock()
	s.pw.Close()
	s.once.Do(func() { close(s.done) })
}

func (s *fakeStream) Wait() (int, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, nil
}

func (s *fakeStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pw.CloseWithError(errors.New("killed"))
		s.once.Do(func() {
			s.mu.Lock()
			s.code = -1
			s.mu.Unlock()
			close(s.done)
		})
	}
	return nil
}

type fakeStreamer struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
	calls  []string
	tails  []int
	onOpen func(s *fakeStream)
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStreamer) open(kind, id string, tail int) (container.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, kind+":"+id)
	f.tails = append(f.tails, tail)
	if f.err != nil {
		return nil, f.err
	}
	if f.onOpen != nil {
		go f.onOpen(f.stream)
	}
	return f.stream, nil
}

func (f *fakeStreamer) FollowLogs(_ context.Context, id string, tail int) (container.Stream, error) {
	return f.open("logs", id, tail)
}

func (f *fakeStreamer) Shell(_ context.Context, id string) (container.Stream, error) {
	return f.open("shell", id, 0)
}

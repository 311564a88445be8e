package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/majorcontext/agento/internal/container"
	"github.com/majorcontext/agento/internal/log"
)

// DefaultTail is the number of past lines sent before following.
const DefaultTail = 100

// Logs relays container output as server-sent events.
type Logs struct {
	streamer container.Streamer
	logger   *slog.Logger
}

// NewLogs creates a log relay.
func NewLogs(streamer container.Streamer) *Logs {
	return &Logs{streamer: streamer, logger: log.Component("proxy.logs")}
}

type logEvent struct {
	Line string `json:"line"`
}

// Serve follows containerID and writes one `data: {"line": ...}` event per
// non-blank line. When the follower exits on its own an `event: close` is
// sent. A client disconnect kills the follower. Errors are returned only
// when nothing has been written to w yet.
func (l *Logs) Serve(w http.ResponseWriter, r *http.Request, containerID string, tail int) error {
	if containerID == "" {
		return ErrNoContainer
	}
	if tail < 0 {
		tail = DefaultTail
	}

	ctx := r.Context()
	stream, err := l.streamer.FollowLogs(ctx, containerID, tail)
	if err != nil {
		return err
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	br := bufio.NewReaderSize(stream, 64<<10)
	for {
		line, rerr := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) != "" {
			buf.Reset()
			buf.WriteString("data: ")
			if err := enc.Encode(logEvent{Line: line}); err != nil {
				break
			}
			// Encode terminates with a newline; SSE needs a blank line after it.
			buf.WriteByte('\n')
			if _, err := w.Write(buf.Bytes()); err != nil {
				break
			}
			_ = rc.Flush()
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && ctx.Err() == nil {
				l.logger.Debug("reading log stream", "container_id", containerID, "error", rerr)
			}
			break
		}
	}

	code, _ := stream.Wait()
	if ctx.Err() != nil {
		return nil
	}
	l.logger.Debug("log follower exited", "container_id", containerID, "code", code)
	_, _ = io.WriteString(w, "event: close\ndata: {}\n\n")
	_ = rc.Flush()
	return nil
}

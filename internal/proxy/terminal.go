package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/majorcontext/agento/internal/container"
	"github.com/majorcontext/agento/internal/log"
)

// Terminal bridges a WebSocket to an interactive shell in a container.
type Terminal struct {
	streamer       container.Streamer
	originPatterns []string
	logger         *slog.Logger
}

// NewTerminal creates a terminal relay. originPatterns lists the browser
// origins allowed to open a terminal besides the API's own host.
func NewTerminal(streamer container.Streamer, originPatterns []string) *Terminal {
	return &Terminal{
		streamer:       streamer,
		originPatterns: originPatterns,
		logger:         log.Component("proxy.terminal"),
	}
}

// Serve upgrades the request and runs a shell in containerID. Shell output
// is sent as binary messages; text and binary messages from the client go
// to the shell's input. The connection closes normally with the shell's
// exit code when the shell ends, and the shell is killed when the
// connection goes away. An empty containerID closes the connection with a
// policy violation.
func (t *Terminal) Serve(w http.ResponseWriter, r *http.Request, containerID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: t.originPatterns,
	})
	if err != nil {
		t.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	if containerID == "" {
		conn.Close(websocket.StatusPolicyViolation, "Agent not found or no container")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := t.streamer.Shell(ctx, containerID)
	if err != nil {
		t.logger.Error("starting shell", "container_id", containerID, "error", err)
		conn.Close(websocket.StatusInternalError, "Failed to start shell")
		return
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	t.logger.Info("terminal opened", "container_id", containerID, "remote", r.RemoteAddr)

	go func() {
		// The client went away or sent garbage; either way the shell dies.
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if _, err := stream.Write(data); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 32<<10)
	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			if err := conn.Write(ctx, websocket.MessageBinary, buf[:n]); err != nil {
				break
			}
		}
		if rerr != nil {
			break
		}
	}

	code, _ := stream.Wait()
	t.logger.Info("terminal closed", "container_id", containerID, "code", code)
	if ctx.Err() == nil {
		conn.Close(websocket.StatusNormalClosure, fmt.Sprintf("Shell exited with code %d", code))
	}
}

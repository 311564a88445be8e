package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/majorcontext/agento/internal/log"
	"github.com/majorcontext/agento/internal/storage"
)

const (
	defaultMaxFailures uint32 = 3
	defaultOpenTimeout        = 30 * time.Second
	maxErrorBody              = 64 << 10
)

// ChatRequest is the client-submitted chat message.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// GatewayError is a non-2xx answer from the agent gateway.
type GatewayError struct {
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// ConnectError means the gateway could not be reached, or its breaker is open.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "connecting to agent gateway: " + e.Err.Error() }

func (e *ConnectError) Unwrap() error { return e.Err }

// ChatOptions configures a Chat relay.
type ChatOptions struct {
	// Client sends upstream requests. It must not set a total timeout,
	// since responses stream for as long as the agent answers.
	Client *http.Client
	// Host is where agent ports are published. Defaults to 127.0.0.1.
	Host string
	// MaxFailures is the number of consecutive failures that opens an
	// agent's breaker.
	MaxFailures uint32
	// OpenTimeout is how long an open breaker rejects requests.
	OpenTimeout time.Duration
}

// Chat relays chat completions to agent gateways. Each container gets its
// own circuit breaker so one unhealthy agent fails fast without affecting
// the others.
type Chat struct {
	client      *http.Client
	host        string
	maxFailures uint32
	openTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	breakers map[string]*containerBreaker
}

type containerBreaker struct {
	containerID string
	cb          *gobreaker.CircuitBreaker[*http.Response]
}

// NewChat creates a Chat relay.
func NewChat(opts ChatOptions) *Chat {
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				ResponseHeaderTimeout: 2 * time.Minute,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = defaultMaxFailures
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	return &Chat{
		client:      opts.Client,
		host:        opts.Host,
		maxFailures: opts.MaxFailures,
		openTimeout: opts.OpenTimeout,
		logger:      log.Component("proxy.chat"),
		breakers:    make(map[string]*containerBreaker),
	}
}

// Serve forwards req to the gateway of agent a and relays the SSE answer
// to w. Errors are returned only when nothing has been written to w yet,
// so the caller can still choose the response status.
func (c *Chat) Serve(w http.ResponseWriter, r *http.Request, a *storage.Agent, req ChatRequest) error {
	if a.Status != storage.StatusRunning || a.Port == nil {
		return ErrNotRunning
	}
	token := a.GatewayToken()
	if token == "" {
		return ErrMissingCredential
	}

	model := req.Model
	if model == "" {
		model = "default"
	}
	body, err := json.Marshal(completionRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: req.Message}},
		Stream:   true,
	})
	if err != nil {
		return err
	}

	url := "http://" + net.JoinHostPort(c.host, strconv.Itoa(*a.Port)) + "/v1/chat/completions"
	breaker := c.breaker(a.ID, containerKey(a))
	resp, err := breaker.Execute(func() (*http.Response, error) {
		return c.send(r.Context(), url, token, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &ConnectError{Err: err}
		}
		return err
	}
	defer resp.Body.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	n, err := relay(w, resp.Body)
	if err != nil && r.Context().Err() == nil {
		c.logger.Warn("chat stream interrupted", "agent_id", a.ID, "bytes", n, "error", err)
	}
	return nil
}

func (c *Chat) send(ctx context.Context, url, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &GatewayError{Status: resp.StatusCode, Body: string(text)}
	}
	return resp, nil
}

// breaker returns the breaker for agentID, replacing it when the agent is
// now served by a different container.
func (c *Chat) breaker(agentID, containerID string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[agentID]; ok && b.containerID == containerID {
		return b.cb
	}
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "agent:" + agentID,
		MaxRequests: 1,
		Timeout:     c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// The caller's own disconnect or a 4xx says nothing about agent health.
			var gw *GatewayError
			switch {
			case err == nil:
				return true
			case errors.Is(err, context.Canceled):
				return true
			case errors.As(err, &gw):
				return gw.Status < 500
			}
			return false
		},
	})
	c.breakers[agentID] = &containerBreaker{containerID: containerID, cb: cb}
	return cb
}

// Forget drops the breaker of a deleted agent.
func (c *Chat) Forget(agentID string) {
	c.mu.Lock()
	delete(c.breakers, agentID)
	c.mu.Unlock()
}

// BreakerState reports the breaker state for agentID, or closed if none exists.
func (c *Chat) BreakerState(agentID string) gobreaker.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[agentID]; ok {
		return b.cb.State()
	}
	return gobreaker.StateClosed
}

func containerKey(a *storage.Agent) string {
	if a.ContainerID == nil {
		return ""
	}
	return *a.ContainerID
}

// relay copies src to w chunk by chunk, flushing after every write.
func relay(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32<<10)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written, werr := w.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return total, ferr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/majorcontext/agento/internal/monitor"
	"github.com/majorcontext/agento/internal/storage"
)

// Client talks to a running server over HTTP.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AgentEntry is one element of the agent listing.
type AgentEntry struct {
	storage.Agent
	ContainerStatus *monitor.Status `json:"containerStatus"`
}

// Health returns the server's health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", false, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// ListAgents returns every agent with its cached container status.
func (c *Client) ListAgents(ctx context.Context) ([]AgentEntry, error) {
	var agents []AgentEntry
	if err := c.do(ctx, http.MethodGet, "/agents", true, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// FindAgent returns the agent whose ID or name is ref.
func (c *Client) FindAgent(ctx context.Context, ref string) (*AgentEntry, error) {
	agents, err := c.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	var match *AgentEntry
	for i := range agents {
		if agents[i].ID == ref {
			return &agents[i], nil
		}
		if agents[i].Name == ref {
			if match != nil {
				return nil, fmt.Errorf("more than one agent is named %q; use its ID", ref)
			}
			match = &agents[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("agent %q not found", ref)
	}
	return match, nil
}

// StopAgent stops the agent's container.
func (c *Client) StopAgent(ctx context.Context, agentID string) error {
	var resp successResponse
	return c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/stop", true, &resp)
}

// Terminal opens the agent's interactive shell.
func (c *Client) Terminal(ctx context.Context, agentID string) (*websocket.Conn, error) {
	u := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/agents/" + url.PathEscape(agentID) +
		"/terminal?token=" + url.QueryEscape(c.secret)
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("opening terminal: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (c *Client) do(ctx context.Context, method, path string, auth bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/agento/internal/storage"
)

func TestClient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	pid := env.createProvider(t, "openai", "sk-openai-0123456789")
	id := env.createAgent(t, "Alpha", pid)
	env.createAgent(t, "Beta", "")
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/agents/"+id+"/start", nil).Code)
	require.NoError(t, env.monitor.Tick(ctx))

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	c := NewClient(srv.URL+"/", testSecret)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, HealthAgents{Total: 2, Running: 1}, health.Agents)

	agents, err := c.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	byName := map[string]AgentEntry{}
	for _, a := range agents {
		byName[a.Name] = a
	}
	alpha := byName["Alpha"]
	assert.Equal(t, storage.StatusRunning, alpha.Status)
	require.NotNil(t, alpha.ContainerStatus)
	assert.True(t, alpha.ContainerStatus.Running)
	assert.NotContains(t, alpha.Config, "gatewayToken")
	assert.Nil(t, byName["Beta"].ContainerStatus)
}

func TestClientUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	_, err := NewClient(srv.URL, "wrong").ListAgents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401: Unauthorized")
}

func TestClientConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, testSecret).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to server")
}

func TestClientAgentOperations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	pid := env.createProvider(t, "anthropic", "sk-ant-0123456789")
	id := env.createAgent(t, "Alpha", pid)
	env.createAgent(t, "Twin", "")
	env.createAgent(t, "Twin", "")

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()
	c := NewClient(srv.URL, testSecret)

	a, err := c.FindAgent(ctx, "Alpha")
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	a, err = c.FindAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", a.Name)
	_, err = c.FindAgent(ctx, "Twin")
	assert.ErrorContains(t, err, "more than one")
	_, err = c.FindAgent(ctx, "Gamma")
	assert.ErrorContains(t, err, "not found")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/agents/"+id+"/start", nil).Code)

	conn, err := c.Terminal(ctx, id)
	require.NoError(t, err)
	defer conn.CloseNow()
	var out strings.Builder
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		out.Write(data)
	}
	assert.Equal(t, "booting\nready\n", out.String())

	require.NoError(t, c.StopAgent(ctx, id))
	got, err := env.store.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusStopped, got.Status)

	assert.ErrorContains(t, c.StopAgent(ctx, "missing"), "404")
}

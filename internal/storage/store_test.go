package storage

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "agento.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agento.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SetSetting(ctx, "k", "v"))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestAgentCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Agent{ID: "a1", Name: "alpha", Image: "openclaw:latest", SoulMD: ptr("be kind")}
	require.NoError(t, s.CreateAgent(ctx, a))
	assert.Equal(t, StatusStopped, a.Status)

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Nil(t, got.ContainerID)
	assert.Nil(t, got.Port)
	assert.Equal(t, "be kind", *got.SoulMD)
	assert.Nil(t, got.IdentityMD)
	assert.Empty(t, got.Config)
	assert.False(t, got.CreatedAt.IsZero())

	started := time.Now().UTC().Truncate(time.Millisecond)
	got.Status = StatusRunning
	got.ContainerID = ptr("c-123")
	got.Port = ptr(18800)
	got.StartedAt = &started
	got.SetGatewayToken("tok-1")
	require.NoError(t, s.UpdateAgent(ctx, got))

	again, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, again.Status)
	assert.Equal(t, "c-123", *again.ContainerID)
	assert.Equal(t, 18800, *again.Port)
	assert.Equal(t, "tok-1", again.GatewayToken())
	require.NotNil(t, again.StartedAt)
	assert.True(t, started.Equal(*again.StartedAt))

	list, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteAgent(ctx, "a1"))
	_, err = s.GetAgent(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteAgent(ctx, "a1"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateAgent(ctx, &Agent{ID: "missing", Status: StatusStopped}), ErrNotFound)
}

func TestAgentPortUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Name: "a", Image: "img", Port: ptr(18800)}))
	err := s.CreateAgent(ctx, &Agent{ID: "a2", Name: "b", Image: "img", Port: ptr(18800)})
	assert.Error(t, err)
}

func TestMarkAgentExited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Agent{ID: "a1", Name: "a", Image: "img", Status: StatusRunning, ContainerID: ptr("c1"), Port: ptr(18800)}
	require.NoError(t, s.CreateAgent(ctx, a))

	// A different container id means the agent was restarted meanwhile.
	changed, err := s.MarkAgentExited(ctx, "a1", "c0", "exited", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.MarkAgentExited(ctx, "a1", "c1", "Container exited unexpectedly (exited)", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "Container exited unexpectedly (exited)", *got.LastError)
	assert.NotNil(t, got.StoppedAt)

	// Already in error: no further change.
	changed, err = s.MarkAgentExited(ctx, "a1", "c1", "again", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestFindAgentByGatewayToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Agent{ID: "a1", Name: "a", Image: "img"}
	a.SetGatewayToken("secret-token")
	require.NoError(t, s.CreateAgent(ctx, a))
	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a2", Name: "b", Image: "img"}))

	got, err := s.FindAgentByGatewayToken(ctx, "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = s.FindAgentByGatewayToken(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindAgentByGatewayToken(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsedPorts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Name: "a", Image: "img", Port: ptr(18801)}))
	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a2", Name: "b", Image: "img"}))
	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a3", Name: "c", Image: "img", Port: ptr(18803)}))

	ports, err := s.UsedPorts(ctx)
	require.NoError(t, err)
	sort.Ints(ports)
	assert.Equal(t, []int{18801, 18803}, ports)
}

func TestProviders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &Provider{ID: "p1", Kind: "anthropic", Label: "work", KeyPreview: "sk-a...WXYZ", EncryptedKey: "aa:bb:cc", AuthType: "api_key"}
	require.NoError(t, s.CreateProvider(ctx, p))

	got, err := s.GetProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got.Kind)
	assert.Equal(t, "aa:bb:cc", got.EncryptedKey)

	list, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Deleting a provider nulls the reference on agents using it.
	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Name: "a", Image: "img", ProviderID: ptr("p1")}))
	require.NoError(t, s.DeleteProvider(ctx, "p1"))

	a, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, a.ProviderID)

	_, err = s.GetProvider(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteProvider(ctx, "p1"), ErrNotFound)
}

func TestAgentProviderForeignKey(t *testing.T) {
	s := openTestStore(t)
	err := s.CreateAgent(context.Background(), &Agent{ID: "a1", Name: "a", Image: "img", ProviderID: ptr("missing")})
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, SettingAPISecret)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.EnsureSetting(ctx, SettingAPISecret, "first"))
	require.NoError(t, s.EnsureSetting(ctx, SettingAPISecret, "second"))
	v, err := s.GetSetting(ctx, SettingAPISecret)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	require.NoError(t, s.SetSetting(ctx, SettingAPISecret, "third"))
	v, _ = s.GetSetting(ctx, SettingAPISecret)
	assert.Equal(t, "third", v)
}

func TestNextPortCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.PortCounter(ctx, 18800)
	require.NoError(t, err)
	assert.Equal(t, 18800, c)

	for want := 18800; want < 18803; want++ {
		got, err := s.NextPortCounter(ctx, 18800)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	c, err = s.PortCounter(ctx, 18800)
	require.NoError(t, err)
	assert.Equal(t, 18803, c)
}

func TestNextPortCounterConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 50
	results := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.NextPortCounter(ctx, 18800)
			assert.NoError(t, err)
			results <- p
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for p := range results {
		assert.False(t, seen[p], "port %d issued twice", p)
		seen[p] = true
	}
	assert.Len(t, seen, n)
}

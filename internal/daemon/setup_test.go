package daemon

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/agento/internal/config"
	"github.com/majorcontext/agento/internal/storage"
)

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default(t.TempDir())

	secret, err := Initialize(ctx, cfg)
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	assert.True(t, config.Exists(cfg.DataDir))
	for _, dir := range []string{cfg.AgentsDir(), cfg.LogDir()} {
		st, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, st.IsDir())
	}
	_, err = os.Stat(cfg.MasterKeyPath())
	require.NoError(t, err)

	store, err := storage.Open(ctx, cfg.DatabasePath())
	require.NoError(t, err)
	counter, err := store.GetSetting(ctx, storage.SettingPortCounter)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(cfg.Ports.Base), counter)
	require.NoError(t, store.Close())

	got, err := APISecret(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	_, err = Initialize(ctx, cfg)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeKeepsExistingSecret(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default(t.TempDir())
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0700))

	store, err := storage.Open(ctx, cfg.DatabasePath())
	require.NoError(t, err)
	require.NoError(t, store.SetSetting(ctx, storage.SettingAPISecret, "left-over"))
	require.NoError(t, store.Close())

	secret, err := Initialize(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "left-over", secret)
}

func TestNotInitialized(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default(t.TempDir())

	_, err := APISecret(ctx, cfg)
	assert.ErrorIs(t, err, ErrNotInitialized)

	assert.ErrorIs(t, Run(ctx, cfg), ErrNotInitialized)
}

func TestRunRequiresMasterKey(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default(t.TempDir())
	_, err := Initialize(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, os.Remove(cfg.MasterKeyPath()))

	assert.ErrorIs(t, Run(ctx, cfg), ErrNotInitialized)
}

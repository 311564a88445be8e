package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/majorcontext/agento/internal/config"
	"github.com/majorcontext/agento/internal/id"
	"github.com/majorcontext/agento/internal/storage"
	"github.com/majorcontext/agento/internal/vault"
	"github.com/majorcontext/agento/internal/vault/keyring"
)

// ErrAlreadyInitialized is returned by Initialize when a config file exists.
var ErrAlreadyInitialized = errors.New("agento is already initialized")

// Initialize bootstraps a fresh data directory: it creates the directory
// tree, the master key, the database and the settings rows the server needs,
// then writes the config file last so a failed run can simply be repeated.
// It returns the generated API secret.
func Initialize(ctx context.Context, cfg *config.Config) (string, error) {
	if config.Exists(cfg.DataDir) {
		return "", ErrAlreadyInitialized
	}
	if err := cfg.EnsureDirs(); err != nil {
		return "", err
	}

	backend := keyring.New(cfg.MasterKeyPath(), cfg.Vault.Keychain)
	if err := vault.New(backend).Init(); err != nil {
		return "", fmt.Errorf("creating master key in %s: %w", backend.Name(), err)
	}

	store, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return "", err
	}
	defer store.Close()

	secret, err := id.Secret(32)
	if err != nil {
		return "", err
	}
	if err := store.EnsureSetting(ctx, storage.SettingAPISecret, secret); err != nil {
		return "", err
	}
	// A leftover database from an interrupted run keeps its secret.
	if secret, err = store.GetSetting(ctx, storage.SettingAPISecret); err != nil {
		return "", err
	}
	if err := store.EnsureSetting(ctx, storage.SettingPortCounter, strconv.Itoa(cfg.Ports.Base)); err != nil {
		return "", err
	}

	if err := config.Save(cfg); err != nil {
		return "", err
	}
	return secret, nil
}

// APISecret reads the API secret from an initialized data directory.
func APISecret(ctx context.Context, cfg *config.Config) (string, error) {
	if !config.Exists(cfg.DataDir) {
		return "", ErrNotInitialized
	}
	store, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return "", err
	}
	defer store.Close()

	secret, err := store.GetSetting(ctx, storage.SettingAPISecret)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotInitialized
	}
	return secret, err
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/majorcontext/agento/internal/api"
	"github.com/majorcontext/agento/internal/config"
	"github.com/majorcontext/agento/internal/daemon"
	"github.com/majorcontext/agento/internal/doctor"
	"github.com/majorcontext/agento/internal/storage"
	"github.com/majorcontext/agento/internal/vault/keyring"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local agento installation",
	Long: `Run diagnostics against the data directory, master key, database,
Docker daemon and the running server.

Exits non-zero if a required check fails.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	results := doctor.Run(context.Background(), doctorChecks())

	out := cmd.OutOrStdout()
	var failed int
	if jsonOut {
		for _, r := range results {
			if r.Failed() {
				failed++
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		failed = doctor.Print(out, results)
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func doctorChecks() []doctor.Check {
	return []doctor.Check{
		{
			Name: "config",
			Run: func(context.Context) (string, error) {
				if !config.Exists(cfg.DataDir) {
					return "", daemon.ErrNotInitialized
				}
				return config.Path(cfg.DataDir), nil
			},
		},
		{
			Name: "master key",
			Run: func(context.Context) (string, error) {
				backend := keyring.New(cfg.MasterKeyPath(), cfg.Vault.Keychain)
				if _, err := backend.Get(); err != nil {
					return "", err
				}
				return backend.Name(), nil
			},
		},
		{
			Name: "database",
			Run: func(ctx context.Context) (string, error) {
				if !config.Exists(cfg.DataDir) {
					return "", daemon.ErrNotInitialized
				}
				store, err := storage.Open(ctx, cfg.DatabasePath())
				if err != nil {
					return "", err
				}
				defer store.Close()
				agents, err := store.ListAgents(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s (%d agents)", cfg.DatabasePath(), len(agents)), nil
			},
		},
		{
			Name: "docker",
			Run: func(ctx context.Context) (string, error) {
				if err := checkDocker(ctx); err != nil {
					return "", err
				}
				return "engine reachable", nil
			},
		},
		{
			Name:     "server",
			Optional: true,
			Run: func(ctx context.Context) (string, error) {
				info, err := daemon.ReadPIDFile(cfg.PIDPath())
				if err != nil {
					return "", err
				}
				if info == nil || !info.IsAlive() {
					return "", errors.New("not running")
				}
				secret, err := daemon.APISecret(ctx, cfg)
				if err != nil {
					return "", err
				}
				health, err := api.NewClient(cfg.BaseURL(), secret).Health(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("pid %d, %d/%d agents running", health.PID, health.Agents.Running, health.Agents.Total), nil
			},
		},
	}
}

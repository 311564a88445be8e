// Package cli implements the agento command-line interface using Cobra.
// It provides commands to initialize a data directory, run the orchestrator
// server and inspect a running one.
package cli

import (
	"os"

	"github.com/majorcontext/agento/internal/config"
	"github.com/majorcontext/agento/internal/log"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	jsonOut bool
	dataDir string

	// cfg is loaded before every command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agento",
	Short: "agento - a control plane for sandboxed AI agents",
	Long: `agento runs AI agents in resource-bounded containers and exposes
an HTTP API to create, start, stop and talk to them.

Get started with:
  agento init
  agento serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dataDir == "" {
			dataDir = config.DataDir()
		}
		var err error
		cfg, err = config.LoadFrom(dataDir)
		if err != nil {
			return err
		}

		// File logging starts once the data directory exists.
		var logDir string
		if config.Exists(dataDir) {
			logDir = cfg.LogDir()
		}
		if err := log.Init(log.Options{
			Level:         cfg.Log.Level,
			Verbose:       verbose || cfg.Log.Verbose,
			JSONFormat:    jsonOut || cfg.Log.JSON,
			Dir:           logDir,
			RetentionDays: cfg.Log.RetentionDays,
		}); err != nil {
			// Non-fatal: the default logger still writes to stderr.
			cmd.PrintErrf("Warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", os.Getenv("AGENTO_DATA_DIR"), "data directory (env: AGENTO_DATA_DIR, default ~/.agento)")
}

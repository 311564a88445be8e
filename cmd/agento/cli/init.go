package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/majorcontext/agento/internal/container"
	"github.com/majorcontext/agento/internal/daemon"
	"github.com/majorcontext/agento/internal/ui"
	"github.com/spf13/cobra"
)

var skipDockerCheck bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the agento data directory",
	Long: `Create the data directory, the vault master key, the database and the
API secret used to authenticate management requests.

Fails if the data directory is already initialized.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&skipDockerCheck, "skip-docker-check", false, "do not require a reachable Docker daemon")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !skipDockerCheck {
		if err := checkDocker(ctx); err != nil {
			return fmt.Errorf("docker is not available (use --skip-docker-check to continue anyway): %w", err)
		}
	}

	secret, err := daemon.Initialize(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Initialized %s\n", ui.Green("✓"), cfg.DataDir)
	fmt.Fprintf(out, "  API secret: %s\n", ui.Bold(secret))
	fmt.Fprintf(out, "  Config:     %s\n", ui.Dim(cfg.DataDir+"/config.yaml"))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Run %s to start the server.\n", ui.Bold("agento serve"))
	return nil
}

func checkDocker(ctx context.Context) error {
	driver, err := container.NewDockerDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return driver.Ping(ctx)
}

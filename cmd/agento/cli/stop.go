package cli

import (
	"fmt"
	"syscall"
	"time"

	"github.com/majorcontext/agento/internal/daemon"
	"github.com/spf13/cobra"
)

const stopWait = 15 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running agento server",
	Long: `Send SIGTERM to the server recorded in the pid file and wait for it to exit.

Running agent containers are left alone.`,
	Args: cobra.NoArgs,
	RunE: stopServer,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func stopServer(cmd *cobra.Command, _ []string) error {
	info, err := daemon.ReadPIDFile(cfg.PIDPath())
	if err != nil {
		return err
	}
	if info == nil || !info.IsAlive() {
		return fmt.Errorf("agento is not running")
	}

	if verbose {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopping agento (pid %d)...\n", info.PID)
	}
	if err := info.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", info.PID, err)
	}

	deadline := time.Now().Add(stopWait)
	for info.IsAlive() {
		if time.Now().After(deadline) {
			return fmt.Errorf("agento (pid %d) did not exit within %s", info.PID, stopWait)
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "agento stopped")
	return nil
}

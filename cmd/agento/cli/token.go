package cli

import (
	"context"
	"fmt"

	"github.com/majorcontext/agento/internal/daemon"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the API secret",
	Long: `Print the bearer token that management requests must carry in their
Authorization header.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret, err := daemon.APISecret(context.Background(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

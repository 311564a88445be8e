package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/majorcontext/agento/internal/api"
	"github.com/majorcontext/agento/internal/daemon"
	"github.com/majorcontext/agento/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and agents",
	Long: `Query a running server for its health and list every agent with its
status, port and live container usage.`,
	Args: cobra.NoArgs,
	RunE: showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Health *api.HealthResponse `json:"health"`
	Agents []api.AgentEntry    `json:"agents"`
}

func showStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret, err := daemon.APISecret(ctx, cfg)
	if err != nil {
		return err
	}
	client := api.NewClient(cfg.BaseURL(), secret)

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("agento does not appear to be running: %w", err)
	}
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return err
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statusOutput{Health: health, Agents: agents})
	}

	fmt.Fprintf(out, "%s agento %s (pid %d, up %s)\n", ui.Green("●"), health.Status, health.PID,
		(time.Duration(health.Uptime) * time.Second).String())
	fmt.Fprintf(out, "  %d running / %d total\n\n", health.Agents.Running, health.Agents.Total)
	if len(agents) == 0 {
		fmt.Fprintln(out, ui.Dim("No agents."))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tSTATUS\tPORT\tCPU\tMEMORY")
	for _, a := range agents {
		port, cpu, mem := "-", "-", "-"
		if a.Port != nil {
			port = fmt.Sprint(*a.Port)
		}
		if a.ContainerStatus != nil && a.ContainerStatus.Running {
			cpu, mem = a.ContainerStatus.CPU, a.ContainerStatus.Memory
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\n", ui.StatusMarker(string(a.Status)), a.Name, a.Status, port, cpu, mem)
		if a.LastError != nil && *a.LastError != "" {
			fmt.Fprintf(w, "    %s\t\t\t\t\n", ui.Red(*a.LastError))
		}
	}
	return w.Flush()
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/majorcontext/agento/internal/api"
	"github.com/majorcontext/agento/internal/daemon"
	"github.com/majorcontext/agento/internal/term"
	"github.com/majorcontext/agento/internal/ui"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell <agent>",
	Short: "Open an interactive shell in an agent's container",
	Long: `Attach to a shell inside a running agent's container through the
server's terminal endpoint. The agent may be given by ID or name.

` + term.HelpText(),
	Args: cobra.ExactArgs(1),
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	secret, err := daemon.APISecret(ctx, cfg)
	if err != nil {
		return err
	}
	client := api.NewClient(cfg.BaseURL(), secret)
	agent, err := client.FindAgent(ctx, args[0])
	if err != nil {
		return err
	}

	conn, err := client.Terminal(ctx, agent.ID)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	if term.IsTerminal(os.Stdin) {
		restore, err := term.MakeRaw(os.Stdin)
		if err != nil {
			return fmt.Errorf("setting raw mode: %w", err)
		}
		defer restore()
	}
	fmt.Fprintf(os.Stderr, "%s\r\n", ui.Dim(fmt.Sprintf("Connected to %s. %s", agent.Name, term.HelpText())))

	res, err := pumpShell(ctx, conn, term.NewEscapeReader(os.Stdin), os.Stdout)
	if err != nil {
		return err
	}
	switch res.action {
	case term.ActionStop:
		if err := client.StopAgent(ctx, agent.ID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\r\nStopped %s\r\n", agent.Name)
	case term.ActionDetach:
		fmt.Fprint(os.Stderr, "\r\nDetached\r\n")
	default:
		if res.reason != "" {
			fmt.Fprintf(os.Stderr, "\r\n%s\r\n", res.reason)
		}
	}
	return nil
}

type shellResult struct {
	action term.Action
	reason string
}

// pumpShell relays in to the terminal socket and socket output to out until
// the server closes the session or the user sends an escape sequence.
func pumpShell(ctx context.Context, conn *websocket.Conn, in io.Reader, out io.Writer) (shellResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	escaped := make(chan term.Action, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if werr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				if action := term.ActionOf(err); action != term.ActionNone {
					escaped <- action
					conn.Close(websocket.StatusNormalClosure, "detached")
				}
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case action := <-escaped:
				return shellResult{action: action}, nil
			default:
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				if ce.Code == websocket.StatusNormalClosure {
					return shellResult{reason: ce.Reason}, nil
				}
				return shellResult{}, fmt.Errorf("terminal closed: %s", ce.Reason)
			}
			return shellResult{}, fmt.Errorf("terminal connection lost: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return shellResult{}, err
		}
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/duet/internal/client"
	"github.com/matheus3301/duet/internal/session"
	"github.com/spf13/cobra"
)

const callTimeout = 10 * time.Second

// globals are the persistent flags shared by every subcommand.
type globals struct {
	session string
	json    bool
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "duetctl",
		Short:         "Control a running duet session daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  duetctl status
  duetctl --session work open 7f3c
  duetctl send 7f3c "on my way"
  duetctl watch chat. link.`,
	}
	cmd.PersistentFlags().StringVar(&g.session, "session", "", "session name (overrides config default)")
	cmd.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")

	cmd.AddCommand(
		newStatusCommand(g),
		newRefreshCommand(g),
		newOpenCommand(g),
		newCloseCommand(g),
		newSendCommand(g),
		newHistoryCommand(g),
		newSearchCommand(g),
		newTypeCommand(g),
		newPeerCommand(g),
		newActCommand(g),
		newActionsCommand(g),
		newWatchCommand(g),
		newSessionsCommand(g),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the session daemon and runs fn with a call timeout.
func (g *globals) dial(ctx context.Context, fn func(context.Context, *client.Client) error) error {
	name, err := session.Resolve(g.session)
	if err != nil {
		return err
	}
	c, err := client.New(session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()
	return fn(ctx, c)
}

func (g *globals) call(fn func(context.Context, *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return g.dial(ctx, fn)
}

// print writes v as JSON when --json is set, otherwise runs text.
func (g *globals) print(v any, text func()) {
	if g.json {
		outputJSON(v)
		return
	}
	text()
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/client"
	"github.com/matheus3301/duet/internal/session"
	"github.com/spf13/cobra"
)

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and realtime link status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Session.GetStatus(ctx)
				if err != nil {
					return err
				}
				g.print(resp, func() {
					state := resp.State
					if resp.Indicator != "" {
						state += " (" + resp.Indicator + ")"
					}
					fmt.Printf("Session:  %s\n", resp.Session)
					fmt.Printf("Status:   %s\n", state)
					if resp.UserID != "" {
						fmt.Printf("User:     %s\n", resp.UserID)
					}
					fmt.Printf("Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
					fmt.Printf("Channels: %d joined, %d not joined, %d retries pending\n", resp.Joined, resp.NotJoined, resp.PendingRetries)
					fmt.Printf("Messages: %d mirrored\n", resp.MessageCount)
					for _, ch := range resp.Channels {
						fmt.Printf("  %-32s %-12s attempt %d\n", ch.Name, ch.Phase, ch.Attempt)
					}
				})
				return nil
			})
		},
	}
}

func newRefreshCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [channel]",
		Short: "Restart one realtime channel, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var channel string
			if len(args) == 1 {
				channel = args[0]
			}
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Session.Refresh(ctx, channel)
				if err != nil {
					return err
				}
				g.print(resp, func() { fmt.Printf("Refreshed %d channel(s).\n", resp.Channels) })
				return nil
			})
		},
	}
}

func newOpenCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "open <conversation>",
		Short: "Open a conversation and print its first page",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Chat.Open(ctx, args[0])
				if err != nil {
					return err
				}
				g.print(resp, func() {
					printMessages(resp.Messages)
					if resp.LoadError != "" {
						fmt.Fprintf(os.Stderr, "warning: initial load failed: %s\n", resp.LoadError)
					}
					if resp.HasMore {
						fmt.Println("(older messages available: duetctl history --more)")
					}
				})
				return nil
			})
		},
	}
}

func newCloseCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "close <conversation>",
		Short: "Close an open conversation and leave its channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Chat.Close(ctx, args[0])
				if err != nil {
					return err
				}
				g.print(resp, func() {
					if resp.Closed {
						fmt.Println("Closed.")
					} else {
						fmt.Println("Conversation was not open.")
					}
				})
				return nil
			})
		},
	}
}

func newSendCommand(g *globals) *cobra.Command {
	var media string
	cmd := &cobra.Command{
		Use:   "send <conversation> <text...>",
		Short: "Send a message to an open conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			req := &api.SendRequest{ConversationID: args[0], Content: strings.Join(args[1:], " "), MediaURL: media}
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Chat.Send(ctx, req)
				if err != nil {
					return err
				}
				g.print(resp, func() {
					if resp.Message != nil {
						fmt.Printf("Sent %s.\n", resp.Message.ID)
					}
				})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&media, "media", "", "attach a media URL")
	return cmd
}

func newHistoryCommand(g *globals) *cobra.Command {
	var (
		more   bool
		before int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history <conversation>",
		Short: "Print cached or mirrored messages",
		Long: `Print the messages of a conversation. An open conversation is read from the
daemon's cache; otherwise the local mirror is paged with --before and --limit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) error {
				if more {
					if _, err := c.Chat.LoadMore(ctx, args[0]); err != nil {
						return err
					}
				}
				resp, err := c.Chat.ListMessages(ctx, &api.ListMessagesRequest{ConversationID: args[0], BeforeUnixMs: before, Limit: limit})
				if err != nil {
					return err
				}
				g.print(resp, func() {
					printMessages(resp.Messages)
					if resp.HasMore {
						fmt.Printf("(more in %s)\n", resp.Source)
					}
				})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&more, "more", false, "load the next older page into an open conversation first")
	cmd.Flags().Int64Var(&before, "before", 0, "mirror only: messages created before this unix ms time")
	cmd.Flags().IntVar(&limit, "limit", 0, "mirror only: page size (default 50)")
	return cmd
}

func newSearchCommand(g *globals) *cobra.Command {
	var (
		conversation string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search mirrored message content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := &api.SearchRequest{Query: strings.Join(args, " "), ConversationID: conversation, Limit: limit}
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Chat.Search(ctx, req)
				if err != nil {
					return err
				}
				g.print(resp, func() {
					if len(resp.Results) == 0 {
						fmt.Println("No matches.")
						return
					}
					for _, r := range resp.Results {
						fmt.Printf("%s  %-12s %s\n", r.Message.Time().Format("2006-01-02 15:04"), r.Message.ConversationID, r.Snippet)
					}
				})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "restrict to one conversation")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}

func newTypeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "type <conversation> [text...]",
		Short: "Report composer input; empty text stops typing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Chat.Input(ctx, args[0], text)
				if err != nil {
					return err
				}
				g.print(resp, func() { fmt.Printf("Typing: %v\n", resp.Typing) })
				return nil
			})
		},
	}
}

func newPeerCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "peer <conversation>",
		Short: "Show whether the other member is online or typing",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Chat.PeerState(ctx, args[0])
				if err != nil {
					return err
				}
				g.print(resp, func() {
					fmt.Printf("Online: %v\n", resp.Online)
					fmt.Printf("Typing: %v\n", resp.Typing)
				})
				return nil
			})
		},
	}
}

func newActCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "act <kind> <target>",
		Short: "Perform an optimistic action (accept-favor, add-reaction, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Action.Perform(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				g.print(resp, func() { fmt.Printf("%s %s (%s)\n", args[0], resp.Status, resp.ActionID) })
				return nil
			})
		},
	}
}

func newActionsCommand(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List recent actions and their outcome",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.call(func(ctx context.Context, c *client.Client) error {
				resp, err := c.Action.RecentActions(ctx, limit)
				if err != nil {
					return err
				}
				g.print(resp, func() {
					if len(resp.Actions) == 0 {
						fmt.Println("No actions recorded.")
						return
					}
					for _, a := range resp.Actions {
						line := fmt.Sprintf("%s  %-22s %-12s %s", time.UnixMilli(a.CreatedAtUnixMs).Format("2006-01-02 15:04:05"), a.Kind, a.TargetID, a.Status)
						if a.Error != "" {
							line += ": " + a.Error
						}
						fmt.Println(line)
					}
				})
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	return cmd
}

func newWatchCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [prefix...]",
		Short: "Stream daemon events until interrupted",
		Long:  "Stream daemon events. Prefixes filter by kind, e.g. chat. realtime. action. link.",
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.dial(ctx, func(ctx context.Context, c *client.Client) error {
				return c.Chat.WatchEvents(ctx, args, func(e *api.EventEnvelope) {
					if g.json {
						outputJSON(e)
						return
					}
					fmt.Printf("%s  %-26s %s\n", time.UnixMilli(e.OccurredAtUnixMs).Format("15:04:05.000"), e.Kind, e.Payload)
				})
			})
		},
	}
}

func newSessionsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			list, err := session.List()
			if err != nil {
				return err
			}
			g.print(list, func() {
				if len(list) == 0 {
					fmt.Println("No sessions found.")
					return
				}
				for _, s := range list {
					running := "stopped"
					if s.Running {
						running = fmt.Sprintf("running, pid %d", s.Owner.PID)
					}
					fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, running)
				}
			})
			return nil
		},
	}
}

// printMessages prints oldest first; the daemon returns newest first.
func printMessages(msgs []api.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		mark := " "
		if m.Pending {
			mark = "…"
		}
		line := fmt.Sprintf("%s %s %-12s %s", m.Time().Format("2006-01-02 15:04"), mark, m.SenderID, m.Content)
		if m.MediaURL != "" {
			line += " [" + m.MediaURL + "]"
		}
		fmt.Println(line)
	}
}

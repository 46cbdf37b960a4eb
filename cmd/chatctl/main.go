// chatctl is a command-line client for the chat gateway.
package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nexo-labs/chat-gateway/pkg/client"
	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Chat with the gateway from the terminal",
	}

	cmd.PersistentFlags().String("server", envOr("CHAT_SERVER", "http://localhost:8080"), "gateway base URL")
	cmd.PersistentFlags().String("token", os.Getenv("CHAT_TOKEN"), "bearer token")

	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newUsageCmd())

	return cmd
}

func newClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return client.New(server, token)
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a message and stream the response",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCmd,
	}
	cmd.Flags().String("agent", "", "agent persona slug")
	cmd.Flags().StringSlice("doc", nil, "restrict retrieval to these document ids")
	cmd.Flags().String("continue", "", "continue an existing conversation id")
	return cmd
}

func runAskCmd(cmd *cobra.Command, args []string) error {
	c := newClient(cmd)
	session := client.NewChatSession(c, logger.NewNop())

	if agent, _ := cmd.Flags().GetString("agent"); agent != "" {
		session.SetAgent(agent)
	}
	if docs, _ := cmd.Flags().GetStringSlice("doc"); len(docs) > 0 {
		session.SetSelectedDocuments(docs)
	}
	session.OnToken(func(token string) {
		fmt.Fprint(cmd.OutOrStdout(), token)
	})
	if conversationID, _ := cmd.Flags().GetString("continue"); conversationID != "" {
		store := client.NewSessionStore(c, session, logger.NewNop())
		if err := store.LoadSession(cmd.Context(), conversationID); err != nil {
			return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
		}
	}

	if err := session.Submit(cmd.Context(), strings.Join(args, " ")); err != nil {
		return err
	}

	if notice := session.LimitNotice(); notice != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), notice)
		if usage := session.Usage(); usage != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "used %d of %d tokens today, resets at %s\n",
				usage.DailyUsed, usage.DailyLimit, usage.ResetAt.Format("15:04 MST"))
		}
		return nil
	}
	if errMsg := session.Err(); errMsg != "" {
		return fmt.Errorf("%s", errMsg)
	}

	fmt.Fprintln(cmd.OutOrStdout())

	messages := session.Messages()
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]

	if len(last.Sources) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nSources:")
		for _, src := range last.Sources {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s)\n", src.Title, src.Slug)
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "\nconversation: %s\n", session.ConversationID())
	return nil
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation history",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsRenameCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List past conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := newClient(cmd).Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tLAST ACTIVITY\tSTATUS")
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.ConversationID, title, s.LastActivity.Format("2006-01-02 15:04"), s.Status)
			}
			return w.Flush()
		},
	}
}

func newSessionsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename [id] [title]",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(cmd).RenameSession(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "renamed")
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Close a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(cmd).DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "closed")
			return nil
		},
	}
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List selectable chat personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents, err := newClient(cmd).Agents(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range agents {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", a.Slug, a.Name)
			}
			return nil
		},
	}
}

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show today's token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := newClient(cmd).Usage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "used:      %d\n", stats.Used)
			fmt.Fprintf(cmd.OutOrStdout(), "limit:     %d\n", stats.Limit)
			fmt.Fprintf(cmd.OutOrStdout(), "remaining: %d\n", stats.Remaining)
			fmt.Fprintf(cmd.OutOrStdout(), "resets at: %s\n", stats.ResetAt.Format("2006-01-02 15:04 MST"))
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

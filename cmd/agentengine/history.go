package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agentengine/pkg/config"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		userID string
		query  string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show stored turns of a conversation",
		Long: `Print the most recent turns of a conversation from the sqlite memory
store, oldest first. With --query only turns mentioning one of its words are
shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, e *engine) error {
				if e.config.Memory.Backend != config.MemoryBackendSQLite {
					return fmt.Errorf("history needs memory.backend %q", config.MemoryBackendSQLite)
				}
				turns, err := e.memory.RetrieveContext(ctx, userID, args[0], query, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(turns) == 0 {
					fmt.Fprintln(out, "No stored turns.")
					return nil
				}
				for _, t := range turns {
					fmt.Fprintf(out, "[%s]\n> %s\n%s\n\n", t.CreatedAt.Format(time.RFC3339), t.UserMessage, t.AgentResponse)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "User the conversation belongs to")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Only turns matching any of these words")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of turns")
	return cmd
}

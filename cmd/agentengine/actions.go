package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newActionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the actions the agent can plan with",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(_ context.Context, e *engine) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tREQUIRED\tDESCRIPTION")
				for _, def := range e.actions.Definitions() {
					required := "-"
					if len(def.InputSchema.Required) > 0 {
						required = fmt.Sprint(def.InputSchema.Required)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, required, def.Description)
				}
				return w.Flush()
			})
		},
	}
}

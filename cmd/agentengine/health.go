package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agentengine/pkg/agent/middleware/resilience/circuit"
	"agentengine/pkg/orchestrator"
)

type healthReport struct {
	CheckedAt time.Time                     `json:"checked_at"`
	Providers []orchestrator.ProviderHealth `json:"providers"`
	Circuits  []circuit.Snapshot            `json:"circuits"`
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every configured provider",
		Long: `Run a health check against each provider in the chain and show the
resulting health and circuit breaker state. Providers are listed in chain
order; health never changes that order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, e *engine) error {
				report := healthReport{
					Providers: e.orchestrator.HealthCheckAll(ctx),
					Circuits:  e.factory.Circuits().Snapshots(),
					CheckedAt: time.Now(),
				}
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				return printHealth(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func printHealth(cmd *cobra.Command, report healthReport) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSTATUS\tERRORS\tLAST ERROR")
	for _, h := range report.Providers {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", h.Name, h.Status, h.ConsecutiveErrors, h.LastError)
	}
	if len(report.Circuits) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "CIRCUIT\tSTATE\tFAILURES\tLAST FAILURE")
		for _, s := range report.Circuits {
			last := "-"
			if !s.LastFailure.IsZero() {
				last = s.LastFailure.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, s.State, s.Failures, last)
		}
	}
	return w.Flush()
}

package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewAggregatesCommand creates the aggregates command.
func NewAggregatesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "aggregates",
		Short:         "List configured aggregate topics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregates(cmd, rootOpts)
		},
	}
	return cmd
}

func runAggregates(cmd *cobra.Command, opts *RootOptions) error {
	h, _, err := openHistorian(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			slog.Error("error closing historian", "error", closeErr)
		}
	}()

	aggs, err := h.AggregateTopics(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "listing aggregate topics failed", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return printJSON(out, aggs)
	}
	if len(aggs) == 0 {
		fmt.Fprintln(out, "no aggregate topics")
		return nil
	}
	for _, agg := range aggs {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", agg.Name, agg.AggType, agg.AggPeriod, agg.TopicsPattern)
	}
	return nil
}

package cli

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridscope/historian/internal/storage"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Start     string
	End       string
	AggType   string
	AggPeriod string
	Skip      int
	Count     int
	Order     string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <topic> [topic...]",
		Short: "Query historian data for one or more topics",
		Long: `Query stored values for the named topics. With a single topic the
result carries the topic's metadata; with several topics values are grouped
per topic and metadata is omitted.

Timestamps are RFC 3339; --start is inclusive and --end exclusive.

Example:
  historian -c config.yml query device/temp --start 2024-06-01T00:00:00Z --count 100
  historian -c config.yml query device/temp --agg-type avg --agg-period 1h`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "start of range, RFC 3339 (inclusive)")
	cmd.Flags().StringVar(&opts.End, "end", "", "end of range, RFC 3339 (exclusive)")
	cmd.Flags().StringVar(&opts.AggType, "agg-type", "", "aggregation type (avg, sum, ...)")
	cmd.Flags().StringVar(&opts.AggPeriod, "agg-period", "", "aggregation period (e.g. 1h)")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "rows to skip per topic")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "row limit per topic (0 = unlimited)")
	cmd.Flags().StringVar(&opts.Order, "order", string(storage.FirstToLast),
		"result order (FIRST_TO_LAST|LAST_TO_FIRST)")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, topics []string) error {
	qopts, err := buildQueryOptions(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query flags", err)
	}

	h, _, err := openHistorian(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			slog.Error("error closing historian", "error", closeErr)
		}
	}()

	result, err := h.Query(cmd.Context(), topics, qopts)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return printJSON(out, result)
	}

	if result.Empty() {
		fmt.Fprintln(out, "no data")
		return nil
	}
	if result.Topics != nil {
		names := make([]string, 0, len(result.Topics))
		for topic := range result.Topics {
			names = append(names, topic)
		}
		sort.Strings(names)
		for _, topic := range names {
			fmt.Fprintf(out, "%s:\n", topic)
			for _, p := range result.Topics[topic] {
				fmt.Fprintf(out, "  %s  %v\n", p.Timestamp.Format(time.RFC3339Nano), p.Value)
			}
		}
		return nil
	}
	for _, p := range result.Values {
		fmt.Fprintf(out, "%s  %v\n", p.Timestamp.Format(time.RFC3339Nano), p.Value)
	}
	if len(result.Metadata) > 0 {
		fmt.Fprintf(out, "metadata: %v\n", result.Metadata)
	}
	return nil
}

func buildQueryOptions(opts *QueryOptions) (storage.QueryOptions, error) {
	qopts := storage.QueryOptions{
		AggType:   opts.AggType,
		AggPeriod: opts.AggPeriod,
		Skip:      opts.Skip,
		Count:     opts.Count,
		Order:     storage.Order(opts.Order),
	}
	if !qopts.Order.Valid() {
		return qopts, fmt.Errorf("invalid order %q", opts.Order)
	}
	if opts.Start != "" {
		t, err := time.Parse(time.RFC3339, opts.Start)
		if err != nil {
			return qopts, fmt.Errorf("invalid --start: %w", err)
		}
		qopts.Start = t
	}
	if opts.End != "" {
		t, err := time.Parse(time.RFC3339, opts.End)
		if err != nil {
			return qopts, fmt.Errorf("invalid --end: %w", err)
		}
		qopts.End = t
	}
	if (opts.AggType == "") != (opts.AggPeriod == "") {
		return qopts, fmt.Errorf("--agg-type and --agg-period must be given together")
	}
	return qopts, nil
}

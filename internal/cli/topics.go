package cli

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"
)

// TopicsOptions holds flags for the topics command.
type TopicsOptions struct {
	*RootOptions
	Pattern  string
	Metadata bool
}

// NewTopicsCommand creates the topics command.
func NewTopicsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TopicsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List topics known to the historian",
		Long: `List topic names from the catalog. With --pattern the store is
searched directly with a SQL LIKE pattern and topic ids are shown.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "SQL LIKE pattern to match topic names")
	cmd.Flags().BoolVar(&opts.Metadata, "metadata", false, "include topic metadata")

	return cmd
}

func runTopics(cmd *cobra.Command, opts *TopicsOptions) error {
	h, _, err := openHistorian(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			slog.Error("error closing historian", "error", closeErr)
		}
	}()

	out := cmd.OutOrStdout()

	if opts.Pattern != "" {
		matches, err := h.TopicsByPattern(cmd.Context(), opts.Pattern)
		if err != nil {
			return WrapExitError(ExitFailure, "topic search failed", err)
		}
		if opts.Format == "json" {
			return printJSON(out, matches)
		}
		names := make([]string, 0, len(matches))
		for name := range matches {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "%s\t%d\n", name, matches[name])
		}
		return nil
	}

	names := h.TopicList()
	if opts.Metadata {
		meta := h.TopicsMetadata(names...)
		if opts.Format == "json" {
			return printJSON(out, meta)
		}
		for _, name := range names {
			fmt.Fprintf(out, "%s\t%v\n", name, meta[name])
		}
		return nil
	}

	if opts.Format == "json" {
		return printJSON(out, names)
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

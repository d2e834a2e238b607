// Package cli implements the historian command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridscope/historian/internal/config"
	"github.com/gridscope/historian/internal/historian"
	"github.com/gridscope/historian/internal/storage"
	_ "github.com/gridscope/historian/internal/storage/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the historian CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "historian",
		Short: "SQL-backed time-series historian",
		Long: `Persist timestamped topic values into a relational store and query
them back with optional aggregation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to YAML configuration (required)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	_ = cmd.MarkPersistentFlagRequired("config")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewTopicsCommand(opts))
	cmd.AddCommand(NewAggregatesCommand(opts))

	return cmd
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// openHistorian loads the configuration and builds a ready Historian.
func openHistorian(cmd *cobra.Command, opts *RootOptions) (*historian.Historian, *config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.Debug("configuration loaded", "connection", cfg.Connection)

	tables := cfg.Tables.TableNames()
	h, err := historian.New(cfg.Connection.Type, cfg.Connection.Params, tables,
		historian.WithReadOnly(cfg.ReadOnly))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open historian", err)
	}
	if err := h.Setup(cmd.Context()); err != nil {
		h.Close()
		if storage.IsConnectionError(err) {
			return nil, nil, WrapExitError(ExitCommandError, "could not connect to database", err)
		}
		return nil, nil, WrapExitError(ExitCommandError, "historian setup failed", err)
	}
	return h, cfg, nil
}

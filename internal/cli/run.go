package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridscope/historian/internal/historian"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	BatchSize int
	Input     string
}

// NewRunCommand creates the run command: start the ingest service and feed
// it NDJSON records.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the historian ingest service",
		Long: `Start the historian and publish records read from standard input
(or --input) as newline-delimited JSON, one record per line:

  {"timestamp":"2024-06-01T12:00:00Z","topic":"device/temp","value":21.5,"meta":{"unit":"C"}}

Records are grouped into batches of --batch-size and each batch commits or
rolls back as one unit.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 100, "records per publish batch")
	cmd.Flags().StringVar(&opts.Input, "input", "", "read records from file instead of stdin")

	return cmd
}

func runIngest(cmd *cobra.Command, opts *RunOptions) error {
	if opts.BatchSize < 1 {
		return NewExitError(ExitCommandError, "batch-size must be at least 1")
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

	var in io.Reader = cmd.InOrStdin()
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		in = f
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	svc := historian.NewService(h)

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	submitted, dropped := feedRecords(ctx, svc, in, opts.BatchSize)
	// Input exhausted: close the queue so Run returns after draining.
	svc.Stop()

	err = <-done
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "ingest service error", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "submitted %d batches (%d malformed lines skipped)\n", submitted, dropped)
	return nil
}

// feedRecords parses NDJSON records and submits them in batches. Malformed
// lines are logged and skipped rather than aborting the stream.
func feedRecords(ctx context.Context, svc *historian.Service, in io.Reader, batchSize int) (submitted, dropped int) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	batch := make([]historian.Record, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if token, ok := svc.Submit(batch); ok {
			slog.Debug("batch submitted", "batch", token, "records", len(batch))
			submitted++
		}
		batch = make([]historian.Record, 0, batchSize)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec historian.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed record", "error", err)
			dropped++
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= batchSize {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("reading input", "error", err)
	}
	flush()
	return submitted, dropped
}

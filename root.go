package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/difftls/difftests/difftests"
	"github.com/difftls/difftests/framework"
)

func newRootCommand(out io.Writer) *cobra.Command {
	params := &commandParams{}
	cmd := &cobra.Command{
		Use:   "difftests",
		Short: "Differential tests for a libssl-compatible TLS library",
		Long: "Runs the same helper programs with the reference and the candidate TLS library " +
			"and fails if anything observable differs.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd.Context(), out, params)
		},
	}
	params.bind(cmd)
	return cmd
}

func runSuite(ctx context.Context, out io.Writer, params *commandParams) error {
	cfg, err := params.loadConfig()
	if err != nil {
		return wrapExitError(exitCommandError, "invalid configuration", err)
	}
	runner := difftests.NewRunner(cfg, difftests.Catalog())
	runID := uuid.NewString()

	// Helpers run in their own process groups, so the terminal's Ctrl-C does not reach them.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer context.AfterFunc(ctx, func() {
		n := runner.Interrupt()
		stop()
		fmt.Fprintf(out, "\nInterrupted, killed %d helper process(es)\n", n)
	})()

	fmt.Fprintf(out, "Run ID: %s\n\n", runID)
	framework.PrintFilterDescription(out, params.filters, runner.OfflineSkipped())
	if cfg.Ports.Fixed {
		fmt.Fprintln(out, "Listeners use fixed ports, so no other test run may use them at the same time.")
	}
	if cfg.MarkerTimeout() == 0 {
		fmt.Fprintln(out, "Marker timeout is disabled; a listener that never becomes ready will block the run.")
	}

	fmt.Fprintln(out, "Running test suite")
	testLogger := &ConsoleTestLogger{
		Out:                  out,
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
	}
	started := time.Now()
	results := difftests.RunTestSuite(runner, params.filters.AsFilter, testLogger)

	fmt.Fprintln(out)
	framework.PrintResults(out, results)

	if params.reportPath != "" {
		report := framework.NewReport(runID, started, time.Now(), results)
		if err := report.WriteFile(params.reportPath); err != nil {
			return wrapExitError(exitCommandError, "could not save report", err)
		}
	}
	if runner.Interrupted() {
		return newExitError(exitFailure, "test run interrupted")
	}
	if !results.OK() {
		return newExitError(exitFailure, fmt.Sprintf("%d test(s) failed", len(results.Failures)))
	}
	return nil
}

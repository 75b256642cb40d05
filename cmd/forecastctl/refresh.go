package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ropacal-forecast/internal/app"
	"ropacal-forecast/internal/forecast"
)

var refreshTimeout time.Duration

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one prediction refresh pass",
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().DurationVar(&refreshTimeout, "timeout", 0, "abandon the pass after this long (default forecast.pass_timeout)")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, stop, cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	timeout := refreshTimeout
	if timeout == 0 {
		timeout = cfg.Forecast.PassTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	report, err := a.Refresher.Refresh(ctx)
	printReport(cmd, report)
	return err
}

func printReport(cmd *cobra.Command, report forecast.RefreshReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d refreshed, %d skipped, %d failed in %s\n",
		report.RunID, report.Refreshed, report.Skipped, report.Failed, report.Duration().Round(time.Millisecond))
	for _, o := range report.FailedOutcomes() {
		fmt.Fprintf(out, "  bin %s: %s: %v\n", o.BinID, o.Reason, o.Err)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ropacal-forecast/internal/app"
	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/models"
)

var (
	priorityLimit  int
	priorityStatus string
	priorityJSON   bool
)

var priorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Print bins ranked by days until they reach the fill threshold",
	RunE:  runPriority,
}

func init() {
	priorityCmd.Flags().IntVar(&priorityLimit, "limit", 20, "maximum rows to print (0 for all)")
	priorityCmd.Flags().StringVar(&priorityStatus, "status", "active", "bin status to include (all for every bin)")
	priorityCmd.Flags().BoolVar(&priorityJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(priorityCmd)
}

func runPriority(cmd *cobra.Command, args []string) error {
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

	hist, err := a.Store.LoadHistory(ctx, forecast.HistoryFilter{Status: priorityStatus})
	if err != nil {
		return err
	}

	rows := a.Scorer.Rank(hist, time.Now())
	if priorityLimit > 0 && len(rows) > priorityLimit {
		rows = rows[:priorityLimit]
	}

	if priorityJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return writePriorityTable(cmd.OutOrStdout(), rows)
}

func writePriorityTable(out io.Writer, rows []models.BinPriority) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BIN\tFILL\tDAYS\tGROWTH/DAY\tSTALE")
	for _, p := range rows {
		days := "-"
		if p.DaysToThreshold != nil {
			days = fmt.Sprintf("%d", *p.DaysToThreshold)
		}
		fmt.Fprintf(tw, "%d\t%.1f%%\t%s\t%.2f\t%t\n", p.BinNumber, p.EstimatedFill, days, p.PredictedGrowth, p.Stale)
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jtheoc80/permit-leads/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show watermarks and recent ingest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("runs")
		lookback, _ := cmd.Flags().GetInt("hours")

		sources, err := loadSources("")
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fmt.Println("Watermarks:")
		for _, src := range sources {
			last, err := st.LastRun(ctx, src.Name)
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Printf("  %-30s never synced (lookback %s)\n", src.Name, src.Lookback)
				continue
			}
			fmt.Printf("  %-30s %s (%s ago)\n",
				src.Name, last.UTC().Format(time.RFC3339), time.Since(*last).Round(time.Minute))
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return err
		}
		fmt.Printf("\nLast %dh: %d runs (%d complete, %d failed), %d fetched, %d quarantined, %d leads created\n",
			snap.LookbackHours, snap.RunsTotal, snap.RunsComplete, snap.RunsFailed,
			snap.RecordsFetched, snap.QuarantineDepth, snap.LeadsCreated)
		if len(snap.FailedSources) > 0 {
			fmt.Printf("Failing sources: %v\n", snap.FailedSources)
		}

		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				line := fmt.Sprintf("  #%-5d %-30s %-9s %s", r.ID, r.Source, r.Status,
					r.StartedAt.UTC().Format(time.RFC3339))
				if r.Summary != nil {
					line += fmt.Sprintf("  fetched=%d quarantined=%d upserted=%d",
						r.Summary.Fetched, r.Summary.Quarantined, r.Summary.Upserted)
				}
				if r.Error != "" {
					line += "  error=" + r.Error
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("runs", 20, "number of recent runs to show")
	statusCmd.Flags().Int("hours", 24, "lookback window for aggregate stats")
	rootCmd.AddCommand(statusCmd)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent recognition events and aggregate stats",
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().Int("limit", 20, "Maximum number of events to show")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit := mustGetInt(cmd, "limit")

	deps, err := setupDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	events, err := deps.store.ListEvents(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	for _, e := range events {
		outcome := "no match"
		if e.PredictedSubjectID != nil {
			outcome = fmt.Sprintf("subject %d", *e.PredictedSubjectID)
		}
		status := "-"
		if e.Success {
			status = "ok"
		}
		fmt.Printf("%s  %-12s conf=%.2f  %-2s  %.0fms\n",
			e.OccurredAt.Format("2006-01-02 15:04:05"), outcome, e.Confidence, status,
			e.DurationSeconds*1000)
	}
	if len(events) == 0 {
		fmt.Println("No recognition events yet.")
	}

	stats, err := deps.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}
	if stats.TotalAttempts > 0 {
		fmt.Printf("\nTotal: %d attempts, %d successful (%.0f%%), mean confidence %.2f\n",
			stats.TotalAttempts, stats.Successful, stats.SuccessRate*100, stats.MeanConfidence)
	}
	return nil
}

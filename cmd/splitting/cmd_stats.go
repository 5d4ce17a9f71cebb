package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rcaby/splitting/internal/ams"
	"github.com/rcaby/splitting/internal/store"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded estimation runs",
		Long: `Aggregate the recorded runs into summary statistics: the mean
probability estimate, its spread and the relative error.

Examples:
  splitting stats
  splitting stats --label sweep-a
  splitting stats --limit 50 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			label, _ := cmd.Flags().GetString("label")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			dir, err := cfg.StorageDir()
			if err != nil {
				return err
			}

			runs, err := store.NewRunStore(dir)
			if err != nil {
				return fmt.Errorf("failed to open run store: %w", err)
			}
			defer runs.Close()

			records, err := runs.ListRuns(context.Background(), label, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if len(records) == 0 {
				if jsonOut {
					json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
						"runs": 0,
					})
				} else {
					fmt.Println("No runs recorded yet.")
				}
				return nil
			}

			stats := make([]ams.RunStats, len(records))
			for i, rec := range records {
				stats[i] = ams.RunStats{
					Probability: rec.Probability,
					Iterations:  rec.Iterations,
					Transitions: rec.Transitions,
					Runtime:     rec.Runtime,
				}
			}
			summary := ams.Summarize(stats)

			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(summary)
			} else {
				scope := "all runs"
				if label != "" {
					scope = fmt.Sprintf("label %q", label)
				}
				fmt.Printf("Summary over %d runs (%s):\n\n", summary.Runs, scope)
				fmt.Printf("  Mean probability: %.6g\n", summary.MeanProbability)
				fmt.Printf("  Std deviation:    %.6g\n", summary.StdDev)
				fmt.Printf("  Relative error:   %.4f\n", summary.RelativeError)
				fmt.Printf("  Mean iterations:  %.1f\n", summary.MeanIterations)
				fmt.Printf("  Mean transitions: %.1f\n", summary.MeanTransitions)
				fmt.Printf("  Total runtime:    %s\n", summary.TotalRuntime)
			}

			return nil
		},
	}

	cmd.Flags().String("label", "", "Summarize only runs recorded under this label")
	cmd.Flags().Int("limit", 0, "Summarize only the most recent N runs (0 = all)")

	return cmd
}

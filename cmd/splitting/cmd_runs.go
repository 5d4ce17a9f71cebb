package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rcaby/splitting/internal/store"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded estimation runs",
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

			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"runs":  records,
					"count": len(records),
				})
				return nil
			}

			if len(records) == 0 {
				fmt.Println("No runs recorded yet.")
				fmt.Println("\nUse 'splitting run' to record an estimation.")
				return nil
			}

			fmt.Printf("Recorded runs (%d):\n\n", len(records))
			fmt.Printf("%-5s %-20s %-12s %6s %4s %12s %5s %9s\n",
				"ID", "Started", "Label", "N", "nc", "Probability", "Iter", "Runtime")
			for _, rec := range records {
				lbl := rec.Label
				if len(lbl) > 12 {
					lbl = lbl[:9] + "..."
				}
				fmt.Printf("%-5d %-20s %-12s %6d %4d %12.4g %5d %9s\n",
					rec.ID, rec.StartedAt.Local().Format("2006-01-02 15:04:05"), lbl,
					rec.Trajectories, rec.Survivors, rec.Probability,
					rec.Iterations, rec.Runtime.Round(time.Millisecond))
			}

			return nil
		},
	}

	cmd.Flags().String("label", "", "Filter to runs recorded under this label")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")

	return cmd
}

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

func newRunMultipleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-multiple",
		Short: "Run several independent estimations and summarize them",
		Long: `Run several independent estimations from the same configuration and
report the mean probability with its spread. Each run is recorded in
the run history.

Examples:
  splitting run-multiple --runs 10
  splitting run-multiple --runs 20 --skip-failed --label sweep-a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			label, _ := cmd.Flags().GetString("label")
			logLevel, _ := cmd.Flags().GetString("log-level")
			runCount, _ := cmd.Flags().GetInt("runs")
			skipFailed, _ := cmd.Flags().GetBool("skip-failed")

			if runCount < 1 {
				return fmt.Errorf("--runs must be positive, got %d", runCount)
			}

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			est, dw, tracer, err := setup(cfg, logLevel, skipFailed)
			if err != nil {
				return err
			}
			defer tracer.Close()

			stats, err := est.RunMultiple(cmd.Context(), runCount, dw.InitialStates(cfg.Estimator.Trajectories), cfg.Estimator.Collapse)
			if err != nil {
				return fmt.Errorf("batch estimation failed: %w", err)
			}

			if dir, derr := cfg.StorageDir(); derr == nil {
				if runs, serr := store.NewRunStore(dir); serr == nil {
					for _, st := range stats {
						runs.SaveRun(context.Background(), store.RunRecord{
							Label:        label,
							Trajectories: cfg.Estimator.Trajectories,
							Survivors:    cfg.Estimator.Survivors,
							Seed:         cfg.Estimator.Seed,
							Mu:           cfg.Model.Mu,
							Noise:        cfg.Model.Noise,
							Collapse:     cfg.Estimator.Collapse,
							Probability:  st.Probability,
							Iterations:   st.Iterations,
							Transitions:  st.Transitions,
							Runtime:      st.Runtime,
						})
					}
					runs.Close()
				}
			}

			summary := ams.Summarize(stats)

			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"summary": summary,
					"runs":    stats,
				})
			} else {
				fmt.Printf("Runs:             %d\n", summary.Runs)
				fmt.Printf("Mean probability: %.6g\n", summary.MeanProbability)
				fmt.Printf("Std deviation:    %.6g\n", summary.StdDev)
				fmt.Printf("Relative error:   %.4f\n", summary.RelativeError)
				fmt.Printf("Mean iterations:  %.1f\n", summary.MeanIterations)
				fmt.Printf("Total runtime:    %s\n", summary.TotalRuntime)
			}

			return nil
		},
	}

	addEstimatorFlags(cmd)
	cmd.Flags().Int("runs", 10, "Number of independent estimation runs")
	cmd.Flags().Bool("skip-failed", false, "Skip failing runs instead of aborting the batch")

	return cmd
}

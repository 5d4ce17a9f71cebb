package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rcaby/splitting/internal/export"
	"github.com/rcaby/splitting/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one estimation and record the result",
		Long: `Run a single adaptive multilevel splitting estimation of the
transition probability and record the outcome in the run history.

Examples:
  splitting run
  splitting run --trajectories 500 --survivors 5 --seed 42
  splitting run --noise 0.08 --export ensemble.arrow --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			label, _ := cmd.Flags().GetString("label")
			logLevel, _ := cmd.Flags().GetString("log-level")
			exportPath, _ := cmd.Flags().GetString("export")

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			est, dw, tracer, err := setup(cfg, logLevel, false)
			if err != nil {
				return err
			}
			defer tracer.Close()

			started := time.Now()
			res, err := est.Run(cmd.Context(), dw.InitialStates(cfg.Estimator.Trajectories), cfg.Estimator.Collapse)
			if err != nil {
				return fmt.Errorf("estimation failed: %w", err)
			}

			var runID int64
			if dir, derr := cfg.StorageDir(); derr == nil {
				if runs, serr := store.NewRunStore(dir); serr == nil {
					runID, _ = runs.SaveRun(context.Background(), store.RunRecord{
						StartedAt:    started,
						Label:        label,
						Trajectories: cfg.Estimator.Trajectories,
						Survivors:    cfg.Estimator.Survivors,
						Seed:         cfg.Estimator.Seed,
						Mu:           cfg.Model.Mu,
						Noise:        cfg.Model.Noise,
						Collapse:     cfg.Estimator.Collapse,
						Probability:  res.Probability,
						Iterations:   res.Iterations,
						Transitions:  res.Transitions,
						Runtime:      res.Runtime,
					})
					runs.Close()
				}
			}

			if exportPath != "" {
				if err := export.WriteEnsemble(exportPath, res.Trajectories, res.Scores); err != nil {
					return err
				}
			}

			if jsonOut {
				out := map[string]interface{}{
					"probability": res.Probability,
					"iterations":  res.Iterations,
					"transitions": res.Transitions,
					"weight":      res.Weight,
					"runtime_ms":  res.Runtime.Milliseconds(),
				}
				if runID != 0 {
					out["run_id"] = runID
				}
				if exportPath != "" {
					out["export"] = exportPath
				}
				json.NewEncoder(os.Stdout).Encode(out)
			} else {
				fmt.Printf("Probability: %.6g\n", res.Probability)
				fmt.Printf("Iterations:  %d\n", res.Iterations)
				fmt.Printf("Transitions: %d / %d\n", res.Transitions, cfg.Estimator.Trajectories)
				fmt.Printf("Weight:      %.6g\n", res.Weight)
				fmt.Printf("Runtime:     %s\n", res.Runtime.Round(time.Millisecond))
				if exportPath != "" {
					fmt.Printf("Exported ensemble to %s\n", exportPath)
				}
			}

			return nil
		},
	}

	addEstimatorFlags(cmd)
	cmd.Flags().String("export", "", "Write the final ensemble to an Arrow IPC file")

	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rcaby/splitting/internal/ams"
	"github.com/rcaby/splitting/internal/config"
	"github.com/rcaby/splitting/internal/logging"
	"github.com/rcaby/splitting/internal/model"
	"github.com/rcaby/splitting/internal/score"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "splitting",
		Short: "Rare-event probability estimation by adaptive multilevel splitting",
		Long: `splitting estimates the probability of rare transitions in stochastic
dynamical systems.

It maintains an ensemble of trajectories, repeatedly discards the ones
making the least progress toward the target region, and regenerates them
by branching surviving trajectories, accumulating an unbiased probability
estimate far below what direct sampling can reach.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (default ~/.splitting/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newRunMultipleCmd(),
		newRunsCmd(),
		newStatsCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("splitting version %s\n", version)
			}
		},
	}
}

// loadSettings resolves the configuration for a command invocation:
// defaults, then the config file (explicit --config path or the default
// location), then environment variables, then command-line flags.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("trajectories") {
		cfg.Estimator.Trajectories, _ = cmd.Flags().GetInt("trajectories")
	}
	if cmd.Flags().Changed("survivors") {
		cfg.Estimator.Survivors, _ = cmd.Flags().GetInt("survivors")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Estimator.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if cmd.Flags().Changed("mu") {
		cfg.Model.Mu, _ = cmd.Flags().GetFloat64("mu")
	}
	if cmd.Flags().Changed("noise") {
		cfg.Model.Noise, _ = cmd.Flags().GetFloat64("noise")
	}
	if cmd.Flags().Changed("max-steps") {
		cfg.Model.MaxSteps, _ = cmd.Flags().GetInt("max-steps")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// addEstimatorFlags registers the parameter flags shared by the run commands.
func addEstimatorFlags(cmd *cobra.Command) {
	cmd.Flags().Int("trajectories", 0, "Ensemble size N")
	cmd.Flags().Int("survivors", 0, "Distinct survivor levels nc kept per iteration")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	cmd.Flags().Float64("mu", 0, "Tilt of the double-well potential")
	cmd.Flags().Float64("noise", 0, "Noise intensity of the diffusion")
	cmd.Flags().Int("max-steps", 0, "Step budget per trajectory")
	cmd.Flags().String("label", "", "Label under which the run is recorded")
	cmd.Flags().String("log-level", "", "Log verbosity: info, debug, or trace")
}

// setup assembles the model, scorer and estimator from a resolved
// configuration. The iteration tracer is wired through the estimator's
// observer when the log level enables it.
func setup(cfg *config.Config, logLevel string, skipFailed bool) (*ams.Estimator, *model.DoubleWell, *logging.IterationLogger, error) {
	mcfg := cfg.Model
	mcfg.Seed = cfg.Estimator.Seed
	dw, err := model.NewDoubleWell(mcfg)
	if err != nil {
		return nil, nil, nil, err
	}

	scorer, err := score.NewPosition(mcfg.StartBoundary, mcfg.TargetBoundary)
	if err != nil {
		return nil, nil, nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	var tracer *logging.IterationLogger
	if dir, err := cfg.StorageDir(); err == nil {
		tracer = logging.NewIterationLogger(dir, level)
	}

	estCfg := ams.Config{
		Trajectories:   cfg.Estimator.Trajectories,
		Survivors:      cfg.Estimator.Survivors,
		Dim:            dw.Dim(),
		Generator:      dw,
		Scorer:         scorer,
		Classifier:     dw,
		Seed:           cfg.Estimator.Seed,
		Logger:         logging.NewLogger(level, os.Stderr),
		SkipFailedRuns: skipFailed,
	}
	if tracer != nil {
		estCfg.Observer = func(st ams.IterationStats) {
			tracer.Log(map[string]any{
				"iteration":       st.Iteration,
				"distinct_levels": st.DistinctLevels,
				"threshold":       st.Threshold,
				"discarded":       st.Discarded,
				"weight":          st.Weight,
			})
		}
	}

	est, err := ams.New(estCfg)
	if err != nil {
		if tracer != nil {
			tracer.Close()
		}
		return nil, nil, nil, err
	}
	return est, dw, tracer, nil
}

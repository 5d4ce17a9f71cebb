package ams

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the per-run statistics collected by RunMultiple.
type Summary struct {
	Runs int `json:"runs"`

	// MeanProbability is the sample mean of the per-run estimates.
	MeanProbability float64 `json:"mean_probability"`

	// StdDev is the sample standard deviation of the per-run estimates.
	StdDev float64 `json:"std_dev"`

	// RelativeError is the standard error of the mean divided by the mean,
	// the usual convergence diagnostic for splitting estimators. Zero when
	// the mean is zero.
	RelativeError float64 `json:"relative_error"`

	// MeanIterations is the average number of selection rounds per run.
	MeanIterations float64 `json:"mean_iterations"`

	// MeanTransitions is the average number of collapsed trajectories.
	MeanTransitions float64 `json:"mean_transitions"`

	// TotalRuntime is the summed wall-clock time of all runs.
	TotalRuntime time.Duration `json:"total_runtime"`
}

// Summarize computes summary statistics over a batch of runs. An empty batch
// yields a zero Summary.
func Summarize(stats []RunStats) Summary {
	if len(stats) == 0 {
		return Summary{}
	}

	probs := make([]float64, len(stats))
	iters := make([]float64, len(stats))
	trans := make([]float64, len(stats))
	var total time.Duration
	for i, s := range stats {
		probs[i] = s.Probability
		iters[i] = float64(s.Iterations)
		trans[i] = float64(s.Transitions)
		total += s.Runtime
	}

	mean := stat.Mean(probs, nil)
	sd := 0.0
	if len(probs) > 1 {
		sd = stat.StdDev(probs, nil)
	}

	relErr := 0.0
	if mean != 0 {
		relErr = sd / (mean * math.Sqrt(float64(len(probs))))
	}

	return Summary{
		Runs:            len(stats),
		MeanProbability: mean,
		StdDev:          sd,
		RelativeError:   relErr,
		MeanIterations:  stat.Mean(iters, nil),
		MeanTransitions: stat.Mean(trans, nil),
		TotalRuntime:    total,
	}
}

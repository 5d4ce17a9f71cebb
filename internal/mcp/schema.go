// Package mcp provides an MCP (Model Context Protocol) server exposing the
// splitting estimator as tools.
package mcp

// EstimateInput defines the input for the splitting_estimate tool.
type EstimateInput struct {
	Trajectories int     `json:"trajectories,omitempty" jsonschema:"Ensemble size N (default from configuration)"`
	Survivors    int     `json:"survivors,omitempty" jsonschema:"Number of distinct survivor levels nc kept per iteration (default from configuration)"`
	Seed         uint64  `json:"seed,omitempty" jsonschema:"Random seed for the estimation run"`
	Mu           float64 `json:"mu,omitempty" jsonschema:"Tilt of the double-well potential (default from configuration)"`
	Noise        float64 `json:"noise,omitempty" jsonschema:"Noise intensity of the diffusion (default from configuration)"`
	Label        string  `json:"label,omitempty" jsonschema:"Optional label under which the run is recorded"`
}

// EstimateOutput defines the output for the splitting_estimate tool.
type EstimateOutput struct {
	Probability float64 `json:"probability" jsonschema:"Estimated transition probability"`
	Iterations  int     `json:"iterations" jsonschema:"Number of selection rounds executed"`
	Transitions int     `json:"transitions" jsonschema:"Trajectories that reached the target region"`
	Weight      float64 `json:"weight" jsonschema:"Final ensemble weight"`
	RuntimeMs   int64   `json:"runtime_ms" jsonschema:"Wall-clock runtime in milliseconds"`
	RunID       int64   `json:"run_id,omitempty" jsonschema:"ID of the persisted run record"`
}

// EstimateBatchInput defines the input for the splitting_estimate_batch tool.
type EstimateBatchInput struct {
	Runs         int     `json:"runs" jsonschema:"Number of independent estimation runs"`
	Trajectories int     `json:"trajectories,omitempty" jsonschema:"Ensemble size N (default from configuration)"`
	Survivors    int     `json:"survivors,omitempty" jsonschema:"Number of distinct survivor levels nc kept per iteration (default from configuration)"`
	Seed         uint64  `json:"seed,omitempty" jsonschema:"Random seed for the first run; the stream advances across runs"`
	Mu           float64 `json:"mu,omitempty" jsonschema:"Tilt of the double-well potential (default from configuration)"`
	Noise        float64 `json:"noise,omitempty" jsonschema:"Noise intensity of the diffusion (default from configuration)"`
	SkipFailed   bool    `json:"skip_failed,omitempty" jsonschema:"Skip failing runs instead of aborting the batch (default: false)"`
	Label        string  `json:"label,omitempty" jsonschema:"Optional label under which the runs are recorded"`
}

// EstimateBatchOutput defines the output for the splitting_estimate_batch tool.
type EstimateBatchOutput struct {
	Runs            int       `json:"runs" jsonschema:"Number of completed runs"`
	MeanProbability float64   `json:"mean_probability" jsonschema:"Mean estimated probability across runs"`
	StdDev          float64   `json:"std_dev" jsonschema:"Sample standard deviation of the per-run estimates"`
	RelativeError   float64   `json:"relative_error" jsonschema:"Relative error of the mean estimate"`
	Probabilities   []float64 `json:"probabilities" jsonschema:"Per-run probability estimates"`
}

// RunsInput defines the input for the splitting_runs tool.
type RunsInput struct {
	Label string `json:"label,omitempty" jsonschema:"Filter to runs recorded under this label"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of runs to return (default: 20)"`
}

// RunsOutput defines the output for the splitting_runs tool.
type RunsOutput struct {
	Runs  []RunListItem `json:"runs" jsonschema:"Recorded runs, most recent first"`
	Count int           `json:"count" jsonschema:"Number of returned runs"`
}

// RunListItem is a list view of one recorded run.
type RunListItem struct {
	ID           int64   `json:"id"`
	StartedAt    string  `json:"started_at"`
	Label        string  `json:"label,omitempty"`
	Trajectories int     `json:"trajectories"`
	Survivors    int     `json:"survivors"`
	Probability  float64 `json:"probability"`
	Iterations   int     `json:"iterations"`
}

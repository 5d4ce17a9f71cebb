package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rcaby/splitting/internal/ams"
	"github.com/rcaby/splitting/internal/config"
	"github.com/rcaby/splitting/internal/model"
	"github.com/rcaby/splitting/internal/score"
	"github.com/rcaby/splitting/internal/store"
)

// registerTools registers the estimation tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "splitting_estimate",
		Description: "Run one adaptive multilevel splitting estimation of the rare-transition probability and record the result",
	}, s.handleEstimate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "splitting_estimate_batch",
		Description: "Run several independent estimations and report the mean probability with its spread",
	}, s.handleEstimateBatch)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "splitting_runs",
		Description: "List recorded estimation runs, most recent first",
	}, s.handleRuns)

	return nil
}

// overrides holds the per-call parameter overrides shared by the estimation
// tools. Zero values leave the configured default in place.
type overrides struct {
	Trajectories int
	Survivors    int
	Seed         uint64
	Mu           float64
	Noise        float64
	SkipFailed   bool
}

// applyOverrides copies the server settings and applies the call's overrides.
func (s *Server) applyOverrides(o overrides) *config.Config {
	cfg := *s.settings
	if o.Trajectories > 0 {
		cfg.Estimator.Trajectories = o.Trajectories
	}
	if o.Survivors > 0 {
		cfg.Estimator.Survivors = o.Survivors
	}
	if o.Seed != 0 {
		cfg.Estimator.Seed = o.Seed
	}
	if o.Mu != 0 {
		cfg.Model.Mu = o.Mu
	}
	if o.Noise != 0 {
		cfg.Model.Noise = o.Noise
	}
	return &cfg
}

// buildEstimator assembles the double-well model, position scorer and
// estimator from a resolved configuration.
func buildEstimator(cfg *config.Config, skipFailed bool) (*ams.Estimator, *model.DoubleWell, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	mcfg := cfg.Model
	mcfg.Seed = cfg.Estimator.Seed
	dw, err := model.NewDoubleWell(mcfg)
	if err != nil {
		return nil, nil, err
	}

	scorer, err := score.NewPosition(mcfg.StartBoundary, mcfg.TargetBoundary)
	if err != nil {
		return nil, nil, err
	}

	est, err := ams.New(ams.Config{
		Trajectories:   cfg.Estimator.Trajectories,
		Survivors:      cfg.Estimator.Survivors,
		Dim:            dw.Dim(),
		Generator:      dw,
		Scorer:         scorer,
		Classifier:     dw,
		Seed:           cfg.Estimator.Seed,
		SkipFailedRuns: skipFailed,
	})
	if err != nil {
		return nil, nil, err
	}
	return est, dw, nil
}

func (s *Server) handleEstimate(ctx context.Context, req *sdk.CallToolRequest, args EstimateInput) (*sdk.CallToolResult, EstimateOutput, error) {
	cfg := s.applyOverrides(overrides{
		Trajectories: args.Trajectories,
		Survivors:    args.Survivors,
		Seed:         args.Seed,
		Mu:           args.Mu,
		Noise:        args.Noise,
	})

	est, dw, err := buildEstimator(cfg, false)
	if err != nil {
		return nil, EstimateOutput{}, err
	}

	res, err := est.Run(ctx, dw.InitialStates(cfg.Estimator.Trajectories), cfg.Estimator.Collapse)
	if err != nil {
		return nil, EstimateOutput{}, fmt.Errorf("estimation failed: %w", err)
	}

	out := EstimateOutput{
		Probability: res.Probability,
		Iterations:  res.Iterations,
		Transitions: res.Transitions,
		Weight:      res.Weight,
		RuntimeMs:   res.Runtime.Milliseconds(),
	}

	id, err := s.runs.SaveRun(ctx, store.RunRecord{
		StartedAt:    time.Now().Add(-res.Runtime),
		Label:        args.Label,
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
	if err == nil {
		out.RunID = id
	}

	return nil, out, nil
}

func (s *Server) handleEstimateBatch(ctx context.Context, req *sdk.CallToolRequest, args EstimateBatchInput) (*sdk.CallToolResult, EstimateBatchOutput, error) {
	if args.Runs < 1 {
		return nil, EstimateBatchOutput{}, fmt.Errorf("runs must be positive, got %d", args.Runs)
	}

	cfg := s.applyOverrides(overrides{
		Trajectories: args.Trajectories,
		Survivors:    args.Survivors,
		Seed:         args.Seed,
		Mu:           args.Mu,
		Noise:        args.Noise,
	})

	est, dw, err := buildEstimator(cfg, args.SkipFailed)
	if err != nil {
		return nil, EstimateBatchOutput{}, err
	}

	stats, err := est.RunMultiple(ctx, args.Runs, dw.InitialStates(cfg.Estimator.Trajectories), cfg.Estimator.Collapse)
	if err != nil {
		return nil, EstimateBatchOutput{}, fmt.Errorf("batch estimation failed: %w", err)
	}

	for _, st := range stats {
		s.runs.SaveRun(ctx, store.RunRecord{
			Label:        args.Label,
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

	summary := ams.Summarize(stats)
	probs := make([]float64, len(stats))
	for i, st := range stats {
		probs[i] = st.Probability
	}

	return nil, EstimateBatchOutput{
		Runs:            summary.Runs,
		MeanProbability: summary.MeanProbability,
		StdDev:          summary.StdDev,
		RelativeError:   summary.RelativeError,
		Probabilities:   probs,
	}, nil
}

func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (*sdk.CallToolResult, RunsOutput, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	records, err := s.runs.ListRuns(ctx, args.Label, limit)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}

	items := make([]RunListItem, len(records))
	for i, rec := range records {
		items[i] = RunListItem{
			ID:           rec.ID,
			StartedAt:    rec.StartedAt.Format(time.RFC3339),
			Label:        rec.Label,
			Trajectories: rec.Trajectories,
			Survivors:    rec.Survivors,
			Probability:  rec.Probability,
			Iterations:   rec.Iterations,
		}
	}

	return nil, RunsOutput{Runs: items, Count: len(items)}, nil
}

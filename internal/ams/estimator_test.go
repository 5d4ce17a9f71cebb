package ams

import (
	"context"
	"errors"
	"math"
	"testing"
)

// xScorer scores a state by its first coordinate, propagating NaN.
type xScorer struct{}

func (xScorer) Score(ctx context.Context, traj [][][]float64) ([][]float64, error) {
	out := make([][]float64, len(traj))
	for i, path := range traj {
		out[i] = make([]float64, len(path))
		for t, state := range path {
			out[i][t] = state[0]
		}
	}
	return out, nil
}

// noRegions never classifies a state into either region.
type noRegions struct{}

func (noRegions) InStart(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return classifyWith(traj, func(float64) bool { return false }), nil
}

func (noRegions) InTarget(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return classifyWith(traj, func(float64) bool { return false }), nil
}

// bandRegions classifies by the first coordinate: start below, target above.
type bandRegions struct {
	startBelow  float64
	targetAbove float64
}

func (b bandRegions) InStart(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return classifyWith(traj, func(x float64) bool { return !math.IsNaN(x) && x <= b.startBelow }), nil
}

func (b bandRegions) InTarget(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return classifyWith(traj, func(x float64) bool { return !math.IsNaN(x) && x >= b.targetAbove }), nil
}

func classifyWith(traj [][][]float64, in func(float64) bool) [][]bool {
	out := make([][]bool, len(traj))
	for i, path := range traj {
		out[i] = make([]bool, len(path))
		for t, state := range path {
			out[i][t] = in(state[0])
		}
	}
	return out
}

// staticGenerator returns a deep copy of the same batch on every call.
type staticGenerator struct {
	batch [][][]float64
}

func (g *staticGenerator) Generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error) {
	out := make([][][]float64, len(g.batch))
	for i, path := range g.batch {
		out[i] = make([][]float64, len(path))
		for t, state := range path {
			out[i][t] = append([]float64(nil), state...)
		}
	}
	return out, nil
}

// climbGenerator serves a scripted initial batch, then synthesizes
// continuations that step from the given restart state up to climbTo.
type climbGenerator struct {
	initial [][][]float64
	climbTo float64
	calls   int
}

func (g *climbGenerator) Generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error) {
	g.calls++
	if g.calls == 1 {
		return g.initial, nil
	}
	out := make([][][]float64, n)
	for i := range out {
		out[i] = [][]float64{{init[i][0]}, {g.climbTo}}
	}
	return out, nil
}

func batchOf(n int, steps ...float64) [][][]float64 {
	batch := make([][][]float64, n)
	for i := range batch {
		batch[i] = make([][]float64, len(steps))
		for t, v := range steps {
			batch[i][t] = []float64{v}
		}
	}
	return batch
}

func TestNew_ConfigValidation(t *testing.T) {
	valid := Config{
		Trajectories: 4,
		Survivors:    1,
		Dim:          1,
		Generator:    &staticGenerator{},
		Scorer:       xScorer{},
		Classifier:   noRegions{},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ensemble too small", func(c *Config) { c.Trajectories = 1 }},
		{"survivors zero", func(c *Config) { c.Survivors = 0 }},
		{"survivors not below N", func(c *Config) { c.Survivors = 4 }},
		{"dimension zero", func(c *Config) { c.Dim = 0 }},
		{"nil generator", func(c *Config) { c.Generator = nil }},
		{"nil scorer", func(c *Config) { c.Scorer = nil }},
		{"nil classifier", func(c *Config) { c.Classifier = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := New(cfg)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("New() error = %v, want ConfigError", err)
			}
		})
	}

	if _, err := New(valid); err != nil {
		t.Errorf("New() with valid config failed: %v", err)
	}
}

func TestRun_InitValidation(t *testing.T) {
	est, err := New(Config{
		Trajectories: 2,
		Survivors:    1,
		Dim:          1,
		Generator:    &staticGenerator{batch: batchOf(2, 0, 1)},
		Scorer:       xScorer{},
		Classifier:   noRegions{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var cerr *ConfigError
	if _, err := est.Run(context.Background(), [][]float64{{0}}, 1); !errors.As(err, &cerr) {
		t.Errorf("wrong init count: error = %v, want ConfigError", err)
	}
	if _, err := est.Run(context.Background(), [][]float64{{0, 0}, {0, 0}}, 1); !errors.As(err, &cerr) {
		t.Errorf("wrong init dimension: error = %v, want ConfigError", err)
	}
}

func TestRun_ConvergedWithoutSelection(t *testing.T) {
	// All trajectories reach the top level immediately, so the distinct
	// level count already satisfies nc and no selection round runs.
	est, err := New(Config{
		Trajectories: 4,
		Survivors:    1,
		Dim:          1,
		Generator:    &staticGenerator{batch: batchOf(4, 0, 1)},
		Scorer:       xScorer{},
		Classifier:   noRegions{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := est.Run(context.Background(), [][]float64{{0}, {0}, {0}, {0}}, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", res.Iterations)
	}
	if res.Weight != 1 {
		t.Errorf("Weight = %g, want 1", res.Weight)
	}
	if res.Transitions != 4 {
		t.Errorf("Transitions = %d, want 4", res.Transitions)
	}
	if res.Probability != 1 {
		t.Errorf("Probability = %g, want 1", res.Probability)
	}
}

func TestRun_MultiLevelClimb(t *testing.T) {
	// Four trajectories at distinct levels 0.1..0.4; each round discards
	// exactly one and regrows it to the top level. Three rounds total.
	gen := &climbGenerator{
		initial: [][][]float64{
			{{0.05}, {0.1}},
			{{0.05}, {0.2}},
			{{0.05}, {0.3}},
			{{0.05}, {0.4}},
		},
		climbTo: 0.4,
	}

	var observed []IterationStats
	est, err := New(Config{
		Trajectories: 4,
		Survivors:    1,
		Dim:          1,
		Generator:    gen,
		Scorer:       xScorer{},
		Classifier:   noRegions{},
		Seed:         3,
		Observer: func(st IterationStats) {
			observed = append(observed, st)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	init := [][]float64{{0.05}, {0.05}, {0.05}, {0.05}}
	res, err := est.Run(context.Background(), init, 0.4)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Iterations != 3 {
		t.Fatalf("Iterations = %d, want 3", res.Iterations)
	}

	// One discarded trajectory per round, so the weight is (3/4)^3.
	want := math.Pow(0.75, 3)
	if math.Abs(res.Weight-want) > 1e-12 {
		t.Errorf("Weight = %g, want %g", res.Weight, want)
	}
	if res.Transitions != 4 {
		t.Errorf("Transitions = %d, want 4", res.Transitions)
	}
	if math.Abs(res.Probability-want) > 1e-12 {
		t.Errorf("Probability = %g, want %g", res.Probability, want)
	}

	if len(observed) != 3 {
		t.Fatalf("observer saw %d rounds, want 3", len(observed))
	}
	wantThresholds := []float64{0.1, 0.2, 0.3}
	prevWeight := 1.0
	for i, st := range observed {
		if st.Iteration != i {
			t.Errorf("round %d: Iteration = %d", i, st.Iteration)
		}
		if st.Threshold != wantThresholds[i] {
			t.Errorf("round %d: Threshold = %g, want %g", i, st.Threshold, wantThresholds[i])
		}
		if st.Discarded != 1 {
			t.Errorf("round %d: Discarded = %d, want 1", i, st.Discarded)
		}
		if st.Weight >= prevWeight {
			t.Errorf("round %d: weight %g did not decrease from %g", i, st.Weight, prevWeight)
		}
		prevWeight = st.Weight
	}
	if observed[2].Weight != res.Weight {
		t.Errorf("final observed weight %g != result weight %g", observed[2].Weight, res.Weight)
	}

	// The ensemble keeps its size through regeneration.
	if len(res.Trajectories) != 4 || len(res.Scores) != 4 {
		t.Errorf("final ensemble size = (%d, %d), want (4, 4)", len(res.Trajectories), len(res.Scores))
	}
}

func TestRun_TiesAtThresholdLeaveTogether(t *testing.T) {
	// Levels {0.1, 0.3, 0.3, 0.5} with nc=2: the threshold is the second
	// smallest distinct level, 0.3, and everything at or below it is
	// regenerated. The tied pair goes together.
	gen := &climbGenerator{
		initial: [][][]float64{
			{{0.05}, {0.1}},
			{{0.05}, {0.3}},
			{{0.05}, {0.3}},
			{{0.05}, {0.5}},
		},
		climbTo: 0.5,
	}

	var observed []IterationStats
	est, err := New(Config{
		Trajectories: 4,
		Survivors:    2,
		Dim:          1,
		Generator:    gen,
		Scorer:       xScorer{},
		Classifier:   noRegions{},
		Observer: func(st IterationStats) {
			observed = append(observed, st)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	init := [][]float64{{0.05}, {0.05}, {0.05}, {0.05}}
	res, err := est.Run(context.Background(), init, 0.5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", res.Iterations)
	}
	if observed[0].Discarded != 3 {
		t.Errorf("Discarded = %d, want 3 (both tied levels and the one below)", observed[0].Discarded)
	}
	if res.Weight != 0.25 {
		t.Errorf("Weight = %g, want 0.25", res.Weight)
	}
}

func TestRun_RegionOverrides(t *testing.T) {
	// Raw scores would exceed 1, but target-region membership pins them to
	// exactly 1; start-region membership pins the origin to 0.
	est, err := New(Config{
		Trajectories: 2,
		Survivors:    1,
		Dim:          1,
		Generator:    &staticGenerator{batch: batchOf(2, -1, 2)},
		Scorer:       xScorer{},
		Classifier:   bandRegions{startBelow: -0.5, targetAbove: 1.5},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := est.Run(context.Background(), [][]float64{{-1}, {-1}}, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 0; i < 2; i++ {
		if res.Scores[i][0] != 0 {
			t.Errorf("trajectory %d start score = %g, want 0", i, res.Scores[i][0])
		}
		if res.Scores[i][1] != 1 {
			t.Errorf("trajectory %d target score = %g, want 1", i, res.Scores[i][1])
		}
	}
	if res.Transitions != 2 || res.Probability != 1 {
		t.Errorf("(Transitions, Probability) = (%d, %g), want (2, 1)", res.Transitions, res.Probability)
	}
}

// overlapRegions claims every state is in both regions.
type overlapRegions struct{}

func (overlapRegions) InStart(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return classifyWith(traj, func(float64) bool { return true }), nil
}

func (overlapRegions) InTarget(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return classifyWith(traj, func(float64) bool { return true }), nil
}

func TestRun_OverlappingRegionsRejected(t *testing.T) {
	est, err := New(Config{
		Trajectories: 2,
		Survivors:    1,
		Dim:          1,
		Generator:    &staticGenerator{batch: batchOf(2, 0, 1)},
		Scorer:       xScorer{},
		Classifier:   overlapRegions{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = est.Run(context.Background(), [][]float64{{0}, {0}}, 1)
	var cerr *ContractError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ContractError", err)
	}
	if cerr.Collaborator != "classifier" {
		t.Errorf("Collaborator = %q, want classifier", cerr.Collaborator)
	}
}

// shortGenerator returns fewer trajectories than requested.
type shortGenerator struct{}

func (shortGenerator) Generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error) {
	return batchOf(n-1, 0, 1), nil
}

func TestRun_GeneratorContractViolation(t *testing.T) {
	est, err := New(Config{
		Trajectories: 3,
		Survivors:    1,
		Dim:          1,
		Generator:    shortGenerator{},
		Scorer:       xScorer{},
		Classifier:   noRegions{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = est.Run(context.Background(), [][]float64{{0}, {0}, {0}}, 1)
	var cerr *ContractError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ContractError", err)
	}
	if cerr.Collaborator != "generator" {
		t.Errorf("Collaborator = %q, want generator", cerr.Collaborator)
	}
}

// nanGenerator produces an all-NaN batch, a trajectory with no defined steps.
type nanGenerator struct{}

func (nanGenerator) Generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error) {
	return batchOf(n, math.NaN()), nil
}

func TestRun_DegenerateTrajectory(t *testing.T) {
	est, err := New(Config{
		Trajectories: 2,
		Survivors:    1,
		Dim:          1,
		Generator:    nanGenerator{},
		Scorer:       xScorer{},
		Classifier:   noRegions{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = est.Run(context.Background(), [][]float64{{0}, {0}}, 1)
	var derr *DegenerateTrajectoryError
	if !errors.As(err, &derr) {
		t.Errorf("error = %v, want DegenerateTrajectoryError", err)
	}
}

func TestRunMultiple(t *testing.T) {
	est, err := New(Config{
		Trajectories: 3,
		Survivors:    1,
		Dim:          1,
		Generator:    &staticGenerator{batch: batchOf(3, 0, 1)},
		Scorer:       xScorer{},
		Classifier:   noRegions{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	init := [][]float64{{0}, {0}, {0}}
	stats, err := est.RunMultiple(context.Background(), 3, init, 1)
	if err != nil {
		t.Fatalf("RunMultiple: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("got %d run stats, want 3", len(stats))
	}
	for i, st := range stats {
		if st.Probability != 1 {
			t.Errorf("run %d: Probability = %g, want 1", i, st.Probability)
		}
	}

	var cerr *ConfigError
	if _, err := est.RunMultiple(context.Background(), 0, init, 1); !errors.As(err, &cerr) {
		t.Errorf("zero runs: error = %v, want ConfigError", err)
	}
}

// failAfter fails every Generate call past the first n.
type failAfter struct {
	ok    int
	calls int
}

func (g *failAfter) Generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error) {
	g.calls++
	if g.calls > g.ok {
		return nil, errors.New("generator exhausted")
	}
	return batchOf(n, 0, 1), nil
}

func TestRunMultiple_SkipFailedRuns(t *testing.T) {
	init := [][]float64{{0}, {0}}

	// Without the skip flag the batch aborts on the failing run.
	est, err := New(Config{
		Trajectories: 2,
		Survivors:    1,
		Dim:          1,
		Generator:    &failAfter{ok: 1},
		Scorer:       xScorer{},
		Classifier:   noRegions{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := est.RunMultiple(context.Background(), 3, init, 1); err == nil {
		t.Error("expected batch to abort on failing run")
	}

	// With the skip flag the failing runs are dropped from the stats.
	est, err = New(Config{
		Trajectories:   2,
		Survivors:      1,
		Dim:            1,
		Generator:      &failAfter{ok: 2},
		Scorer:         xScorer{},
		Classifier:     noRegions{},
		SkipFailedRuns: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stats, err := est.RunMultiple(context.Background(), 4, init, 1)
	if err != nil {
		t.Fatalf("RunMultiple with skip: %v", err)
	}
	if len(stats) != 2 {
		t.Errorf("got %d run stats, want 2 (failed runs skipped)", len(stats))
	}
}

func TestReseed_ReproducesDraws(t *testing.T) {
	run := func() *Result {
		gen := &climbGenerator{
			initial: [][][]float64{
				{{0.05}, {0.1}},
				{{0.05}, {0.2}},
				{{0.05}, {0.3}},
				{{0.05}, {0.4}},
			},
			climbTo: 0.4,
		}
		est, err := New(Config{
			Trajectories: 4,
			Survivors:    1,
			Dim:          1,
			Generator:    gen,
			Scorer:       xScorer{},
			Classifier:   noRegions{},
			Seed:         42,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res, err := est.Run(context.Background(), [][]float64{{0.05}, {0.05}, {0.05}, {0.05}}, 0.4)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}

	a, b := run(), run()
	if a.Iterations != b.Iterations || a.Weight != b.Weight || a.Probability != b.Probability {
		t.Errorf("seeded runs diverged: (%d, %g, %g) vs (%d, %g, %g)",
			a.Iterations, a.Weight, a.Probability, b.Iterations, b.Weight, b.Probability)
	}
}

// Package ams implements the Adaptive Multilevel Splitting estimator for
// rare transition events between two regions of a stochastic dynamical
// system. The estimator repeatedly discards the trajectories with the lowest
// running-maximum score and regenerates them by cloning surviving
// trajectories from the first point at which the survivor attained the
// discarded level, accumulating a probability-correction weight at each
// level.
package ams

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rcaby/splitting/internal/ensemble"
)

// Generator produces simulated trajectories. Given n starting states it
// returns an (n x T x D) batch; T may vary between calls. Entries past a
// trajectory's natural stopping point are NaN.
type Generator interface {
	Generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error)
}

// Scorer maps a trajectory batch to per-step progress scores in an
// (n x T) batch. Scores at NaN-padded steps must themselves be NaN so that
// padding stays excluded from reductions.
type Scorer interface {
	Score(ctx context.Context, traj [][][]float64) ([][]float64, error)
}

// Classifier reports region membership per trajectory and time step. The
// start and target regions are mutually exclusive: no (trajectory, step) may
// be in both.
type Classifier interface {
	InStart(ctx context.Context, traj [][][]float64) ([][]bool, error)
	InTarget(ctx context.Context, traj [][][]float64) ([][]bool, error)
}

// IterationStats describes one selection round, reported to the Observer
// before the discarded trajectories are regenerated.
type IterationStats struct {
	Iteration      int     // 0-based iteration index
	DistinctLevels int     // distinct Q values before selection
	Threshold      float64 // nc-th smallest distinct Q
	Discarded      int     // trajectories selected for regeneration
	Weight         float64 // ensemble weight after this round's update
}

// Config wires the estimator's collaborators and parameters.
type Config struct {
	// Trajectories is the ensemble size N, fixed for the lifetime of a run.
	Trajectories int

	// Survivors is nc, the number of distinct survivor levels retained per
	// iteration. Must satisfy 1 <= Survivors < Trajectories.
	Survivors int

	// Dim is the state dimension D expected from the generator. The last
	// component conventionally carries elapsed time.
	Dim int

	Generator  Generator
	Scorer     Scorer
	Classifier Classifier

	// Seed seeds the estimator's PCG stream. The stream advances
	// monotonically across runs; use Reseed for reproducible replays.
	Seed uint64

	// Observer, when set, receives per-iteration statistics. Used by tests
	// and the iteration tracer; must not retain its argument.
	Observer func(IterationStats)

	// Logger receives operational output. Nil disables logging.
	Logger *slog.Logger

	// SkipFailedRuns makes RunMultiple skip a failing run and continue
	// instead of aborting the whole batch.
	SkipFailedRuns bool
}

// Result holds the outcome of a single estimation run. The trajectory and
// score ensembles are handed to the caller for diagnostics; the estimator
// retains no reference to them.
type Result struct {
	// Probability is the estimated transition probability w * k / N.
	Probability float64

	// Iterations is the number of selection rounds executed.
	Iterations int

	// Transitions counts trajectories whose level reached the collapse
	// threshold.
	Transitions int

	// Weight is the final ensemble weight, the product over iterations of
	// the surviving fraction.
	Weight float64

	// Trajectories is the final (N x T x D) NaN-padded ensemble.
	Trajectories [][][]float64

	// Scores is the final (N x T) NaN-padded score ensemble.
	Scores [][]float64

	// Runtime is the wall-clock duration of the run.
	Runtime time.Duration
}

// RunStats is the per-run row collected by RunMultiple.
type RunStats struct {
	Probability float64       `json:"probability"`
	Iterations  int           `json:"iterations"`
	Transitions int           `json:"transitions"`
	Runtime     time.Duration `json:"runtime"`
}

// Estimator runs the splitting algorithm. Create one with New; it is not
// safe for concurrent use because every sampling draw advances the shared
// random stream.
type Estimator struct {
	cfg Config
	rng *rand.Rand
	log *slog.Logger
}

// New validates cfg and returns an Estimator. Validation failures are
// ConfigErrors and happen before any simulation work.
func New(cfg Config) (*Estimator, error) {
	if cfg.Trajectories < 2 {
		return nil, &ConfigError{Reason: fmt.Sprintf("ensemble size must be at least 2, got %d", cfg.Trajectories)}
	}
	if cfg.Survivors < 1 || cfg.Survivors >= cfg.Trajectories {
		return nil, &ConfigError{Reason: fmt.Sprintf("survivors must satisfy 1 <= nc < N, got nc=%d N=%d", cfg.Survivors, cfg.Trajectories)}
	}
	if cfg.Dim < 1 {
		return nil, &ConfigError{Reason: fmt.Sprintf("state dimension must be positive, got %d", cfg.Dim)}
	}
	if cfg.Generator == nil {
		return nil, &ConfigError{Reason: "no trajectory generator configured"}
	}
	if cfg.Scorer == nil {
		return nil, &ConfigError{Reason: "no score function configured"}
	}
	if cfg.Classifier == nil {
		return nil, &ConfigError{Reason: "no region classifier configured"}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	e := &Estimator{cfg: cfg, log: log}
	e.Reseed(cfg.Seed)
	return e, nil
}

// Reseed resets the estimator's random stream to a fresh PCG state derived
// from seed. Runs after a Reseed with the same seed reproduce the same
// clone-source draws.
func (e *Estimator) Reseed(seed uint64) {
	e.rng = rand.New(rand.NewPCG(seed, seed+0x9e3779b97f4a7c15))
}

// Run estimates the probability that the system reaches the target region,
// starting one trajectory per entry of init (which must have exactly N
// states of dimension D). collapse is the score value counted as a
// completed transition; the conventional maximum is 1.
//
// The loop terminates when the number of distinct trajectory levels no
// longer exceeds nc. The selection threshold is the nc-th smallest distinct
// level; every trajectory at or below it is regenerated, so trajectories
// tied at the threshold leave together. A system whose
// ensemble never converges to <= nc distinct levels runs until ctx is used
// by a collaborator to fail, or indefinitely: bounding iterations is the
// caller's responsibility.
func (e *Estimator) Run(ctx context.Context, init [][]float64, collapse float64) (*Result, error) {
	if len(init) != e.cfg.Trajectories {
		return nil, &ConfigError{Reason: fmt.Sprintf("got %d initial states for an ensemble of %d", len(init), e.cfg.Trajectories)}
	}
	for i, state := range init {
		if len(state) != e.cfg.Dim {
			return nil, &ConfigError{Reason: fmt.Sprintf("initial state %d has dimension %d, want %d", i, len(state), e.cfg.Dim)}
		}
	}

	start := time.Now()
	n := e.cfg.Trajectories
	nc := e.cfg.Survivors

	traj, err := e.generate(ctx, n, init)
	if err != nil {
		return nil, err
	}
	scores, err := e.score(ctx, traj)
	if err != nil {
		return nil, err
	}

	ens, err := ensemble.New(traj, scores, e.cfg.Dim)
	if err != nil {
		return nil, &ContractError{Collaborator: "generator", Reason: err.Error()}
	}
	if err := e.applyRegionOverrides(ctx, ens, nil); err != nil {
		return nil, err
	}

	q, err := levels(ens)
	if err != nil {
		return nil, err
	}

	w := 1.0
	iterations := 0

	for {
		distinct := ensemble.DistinctSorted(q)
		if len(distinct) <= nc {
			break
		}

		// Quantile cut at the nc-th smallest distinct level. Everything at
		// or below the threshold is regenerated; ties at the threshold
		// would otherwise leave no strictly-higher cloning source.
		threshold := distinct[nc-1]
		var discard, survivors []int
		for i, qi := range q {
			if qi <= threshold {
				discard = append(discard, i)
			} else {
				survivors = append(survivors, i)
			}
		}

		w *= 1 - float64(len(discard))/float64(n)

		e.log.Debug("selection round",
			"iteration", iterations,
			"distinct_levels", len(distinct),
			"threshold", threshold,
			"discarded", len(discard),
			"weight", w)
		if e.cfg.Observer != nil {
			e.cfg.Observer(IterationStats{
				Iteration:      iterations,
				DistinctLevels: len(distinct),
				Threshold:      threshold,
				Discarded:      len(discard),
				Weight:         w,
			})
		}

		// Draw a cloning source per discarded slot, uniformly with
		// replacement from the survivors, and branch at the first step
		// where the source attained the discarded trajectory's own level.
		sources := make([]int, len(discard))
		restarts := make([]int, len(discard))
		restartStates := make([][]float64, len(discard))
		for k, j := range discard {
			src := survivors[e.rng.IntN(len(survivors))]
			// The source's level exceeds the discarded level, so a
			// qualifying step always exists within its defined prefix.
			r, ok := ensemble.FirstAtOrAbove(ens.Scores(src), q[j])
			if !ok {
				r = 0
			}
			sources[k] = src
			restarts[k] = r
			restartStates[k] = append([]float64(nil), ens.State(src, r)...)
		}

		cont, err := e.generate(ctx, len(discard), restartStates)
		if err != nil {
			return nil, err
		}
		contScores, err := e.score(ctx, cont)
		if err != nil {
			return nil, err
		}

		// Grow the shared storage once for the whole batch, then splice.
		maxSteps := ens.Steps()
		contLens := make([]int, len(discard))
		for k := range discard {
			l := ensemble.NaturalLength(cont[k])
			if l == 0 {
				return nil, &DegenerateTrajectoryError{Index: discard[k]}
			}
			contLens[k] = l
			if newLen := restarts[k] + l; newLen > maxSteps {
				maxSteps = newLen
			}
		}
		ens.Grow(maxSteps)

		for k, j := range discard {
			if err := ens.Splice(j, sources[k], restarts[k], cont[k][:contLens[k]], contScores[k][:contLens[k]]); err != nil {
				return nil, fmt.Errorf("ams: merging clone for trajectory %d: %w", j, err)
			}
		}

		if err := e.applyRegionOverrides(ctx, ens, discard); err != nil {
			return nil, err
		}

		iterations++
		if q, err = levels(ens); err != nil {
			return nil, err
		}
	}

	transitions := 0
	for _, qi := range q {
		if qi >= collapse {
			transitions++
		}
	}

	res := &Result{
		Probability:  w * float64(transitions) / float64(n),
		Iterations:   iterations,
		Transitions:  transitions,
		Weight:       w,
		Trajectories: ens.Trajectories(),
		Scores:       ens.ScoreMatrix(),
		Runtime:      time.Since(start),
	}
	e.log.Info("run finished",
		"probability", res.Probability,
		"iterations", res.Iterations,
		"transitions", res.Transitions,
		"runtime", res.Runtime)
	return res, nil
}

// RunMultiple executes runs sequential estimation runs from the same initial
// states and collects the per-run statistics. The random stream is not
// reseeded between runs, so runs are statistically independent samples but
// not identical replays. By default a failing run aborts the batch; with
// Config.SkipFailedRuns it is logged and skipped instead.
func (e *Estimator) RunMultiple(ctx context.Context, runs int, init [][]float64, collapse float64) ([]RunStats, error) {
	if runs < 1 {
		return nil, &ConfigError{Reason: fmt.Sprintf("run count must be positive, got %d", runs)}
	}

	stats := make([]RunStats, 0, runs)
	for i := 0; i < runs; i++ {
		res, err := e.Run(ctx, init, collapse)
		if err != nil {
			if e.cfg.SkipFailedRuns {
				e.log.Warn("run failed, skipping", "run", i, "error", err)
				continue
			}
			return nil, fmt.Errorf("ams: run %d of %d: %w", i+1, runs, err)
		}
		stats = append(stats, RunStats{
			Probability: res.Probability,
			Iterations:  res.Iterations,
			Transitions: res.Transitions,
			Runtime:     res.Runtime,
		})
	}
	return stats, nil
}

// generate invokes the trajectory generator and validates the returned batch
// shape against the configured dimension.
func (e *Estimator) generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error) {
	traj, err := e.cfg.Generator.Generate(ctx, n, init)
	if err != nil {
		return nil, fmt.Errorf("ams: generating trajectories: %w", err)
	}
	if len(traj) != n {
		return nil, &ContractError{Collaborator: "generator", Reason: fmt.Sprintf("returned %d trajectories, want %d", len(traj), n)}
	}
	steps := -1
	for i, path := range traj {
		if steps == -1 {
			steps = len(path)
		} else if len(path) != steps {
			return nil, &ContractError{Collaborator: "generator", Reason: fmt.Sprintf("trajectory %d has %d steps, batch has %d", i, len(path), steps)}
		}
		for t, state := range path {
			if len(state) != e.cfg.Dim {
				return nil, &ContractError{Collaborator: "generator", Reason: fmt.Sprintf("trajectory %d step %d has dimension %d, want %d", i, t, len(state), e.cfg.Dim)}
			}
		}
	}
	if steps < 1 {
		return nil, &ContractError{Collaborator: "generator", Reason: "returned zero-step trajectories"}
	}
	return traj, nil
}

// score invokes the score function and validates the returned batch shape.
func (e *Estimator) score(ctx context.Context, traj [][][]float64) ([][]float64, error) {
	scores, err := e.cfg.Scorer.Score(ctx, traj)
	if err != nil {
		return nil, fmt.Errorf("ams: scoring trajectories: %w", err)
	}
	if len(scores) != len(traj) {
		return nil, &ContractError{Collaborator: "scorer", Reason: fmt.Sprintf("returned %d score series for %d trajectories", len(scores), len(traj))}
	}
	for i := range scores {
		if len(scores[i]) != len(traj[i]) {
			return nil, &ContractError{Collaborator: "scorer", Reason: fmt.Sprintf("score series %d has %d steps, trajectory has %d", i, len(scores[i]), len(traj[i]))}
		}
	}
	return scores, nil
}

// applyRegionOverrides forces the score to 0 at start-region steps and to 1
// at target-region steps, overruling the raw score function. When rows is
// nil the whole ensemble is classified; otherwise only the listed
// trajectories (freshly rewritten clones) are.
func (e *Estimator) applyRegionOverrides(ctx context.Context, ens *ensemble.Ensemble, rows []int) error {
	var batch [][][]float64
	if rows == nil {
		batch = ens.Trajectories()
		rows = make([]int, ens.N())
		for i := range rows {
			rows[i] = i
		}
	} else {
		batch = make([][][]float64, len(rows))
		for k, i := range rows {
			batch[k] = ens.Trajectory(i)
		}
	}

	inStart, err := e.cfg.Classifier.InStart(ctx, batch)
	if err != nil {
		return fmt.Errorf("ams: classifying start region: %w", err)
	}
	inTarget, err := e.cfg.Classifier.InTarget(ctx, batch)
	if err != nil {
		return fmt.Errorf("ams: classifying target region: %w", err)
	}
	if len(inStart) != len(batch) || len(inTarget) != len(batch) {
		return &ContractError{Collaborator: "classifier", Reason: "classification batch size mismatch"}
	}

	for k, i := range rows {
		if len(inStart[k]) != len(batch[k]) || len(inTarget[k]) != len(batch[k]) {
			return &ContractError{Collaborator: "classifier", Reason: fmt.Sprintf("classification for trajectory %d has wrong step count", i)}
		}
		for t := range batch[k] {
			switch {
			case inStart[k][t] && inTarget[k][t]:
				return &ContractError{Collaborator: "classifier", Reason: fmt.Sprintf("trajectory %d step %d in both start and target regions", i, t)}
			case inStart[k][t]:
				ens.SetScore(i, t, 0)
			case inTarget[k][t]:
				ens.SetScore(i, t, 1)
			}
		}
	}
	return nil
}

// levels computes the running-maximum level Q per trajectory, excluding NaN
// padding. A trajectory with no defined steps is degenerate.
func levels(ens *ensemble.Ensemble) ([]float64, error) {
	q := make([]float64, ens.N())
	for i := range q {
		v, ok := ens.Level(i)
		if !ok || ens.Length(i) == 0 {
			return nil, &DegenerateTrajectoryError{Index: i}
		}
		q[i] = v
	}
	return q, nil
}

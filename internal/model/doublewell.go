// Package model provides the stochastic dynamical models whose rare
// transitions the estimator measures. The models implement the estimator's
// Generator and Classifier contracts: they extend trajectories from given
// starting states and classify states into the start and target regions.
package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// DoubleWellConfig holds the parameters of the 1-D double-well diffusion.
type DoubleWellConfig struct {
	// Mu tilts the potential V(x) = x^4/4 - x^2/2 - mu*x, making one basin
	// shallower. Positive values favor the target basin.
	Mu float64 `yaml:"mu"`

	// Dt is the Euler-Maruyama time step.
	Dt float64 `yaml:"dt"`

	// Noise is the diffusion amplitude epsilon; the stochastic increment is
	// sqrt(2*epsilon*dt) per step. Smaller values make the transition rarer.
	Noise float64 `yaml:"noise"`

	// MaxSteps bounds the number of simulated steps per trajectory. A
	// trajectory that reaches neither region within the budget is cut off
	// at the budget, still fully defined.
	MaxSteps int `yaml:"max_steps"`

	// StartBoundary is the right edge of the start region: states with
	// x <= StartBoundary are in region A. Default -0.8.
	StartBoundary float64 `yaml:"start_boundary"`

	// TargetBoundary is the left edge of the target region: states with
	// x >= TargetBoundary are in region B. Default 0.8.
	TargetBoundary float64 `yaml:"target_boundary"`

	// Seed seeds the model's own random stream.
	Seed uint64 `yaml:"seed"`
}

// DefaultDoubleWellConfig returns the reference parameterization: a slightly
// tilted well with a transition rare enough to need splitting at moderate
// noise.
func DefaultDoubleWellConfig() DoubleWellConfig {
	return DoubleWellConfig{
		Mu:             0.03,
		Dt:             0.01,
		Noise:          0.1,
		MaxSteps:       10000,
		StartBoundary:  -0.8,
		TargetBoundary: 0.8,
	}
}

// DoubleWell is an overdamped particle in a tilted double-well potential,
// dx = -(x^3 - x - mu) dt + sqrt(2*epsilon) dW. The state vector is [x, t]
// with elapsed time in the last component. Trajectories stop when they enter
// the target region, or when they re-enter the start region after having
// left it; they never stop at their own starting state.
type DoubleWell struct {
	cfg DoubleWellConfig
	rng *rand.Rand
}

// NewDoubleWell validates cfg and builds the model.
func NewDoubleWell(cfg DoubleWellConfig) (*DoubleWell, error) {
	if cfg.Dt <= 0 {
		return nil, fmt.Errorf("model: time step must be positive, got %g", cfg.Dt)
	}
	if cfg.Noise < 0 {
		return nil, fmt.Errorf("model: noise amplitude must be non-negative, got %g", cfg.Noise)
	}
	if cfg.MaxSteps < 1 {
		return nil, fmt.Errorf("model: step budget must be positive, got %d", cfg.MaxSteps)
	}
	if cfg.StartBoundary >= cfg.TargetBoundary {
		return nil, fmt.Errorf("model: start boundary %g must lie left of target boundary %g", cfg.StartBoundary, cfg.TargetBoundary)
	}
	m := &DoubleWell{cfg: cfg}
	m.Reseed(cfg.Seed)
	return m, nil
}

// Config returns the model's parameterization.
func (m *DoubleWell) Config() DoubleWellConfig { return m.cfg }

// Dim returns the state dimension: position plus time.
func (m *DoubleWell) Dim() int { return 2 }

// Reseed resets the model's random stream.
func (m *DoubleWell) Reseed(seed uint64) {
	m.rng = rand.New(rand.NewPCG(seed, seed+0x6a09e667f3bcc909))
}

// Generate simulates n trajectories from the given [x, t] starting states.
// All trajectories in the batch are padded with NaN to the length of the
// longest one.
func (m *DoubleWell) Generate(ctx context.Context, n int, init [][]float64) ([][][]float64, error) {
	if len(init) != n {
		return nil, fmt.Errorf("model: got %d initial states for %d trajectories", len(init), n)
	}

	paths := make([][][]float64, n)
	maxLen := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(init[i]) != 2 {
			return nil, fmt.Errorf("model: initial state %d has dimension %d, want 2", i, len(init[i]))
		}
		paths[i] = m.simulate(init[i][0], init[i][1])
		if len(paths[i]) > maxLen {
			maxLen = len(paths[i])
		}
	}

	// Pad the batch to a common length.
	for i := range paths {
		for len(paths[i]) < maxLen {
			paths[i] = append(paths[i], []float64{math.NaN(), math.NaN()})
		}
	}
	return paths, nil
}

// simulate advances one trajectory until it stops or exhausts the budget.
func (m *DoubleWell) simulate(x, t float64) [][]float64 {
	path := make([][]float64, 0, 64)
	path = append(path, []float64{x, t})

	amp := math.Sqrt(2 * m.cfg.Noise * m.cfg.Dt)
	leftStart := !m.inStart(x)

	for step := 0; step < m.cfg.MaxSteps; step++ {
		x += -(x*x*x - x - m.cfg.Mu) * m.cfg.Dt
		x += amp * m.rng.NormFloat64()
		t += m.cfg.Dt
		path = append(path, []float64{x, t})

		if m.inTarget(x) {
			break
		}
		if m.inStart(x) {
			if leftStart {
				break
			}
		} else {
			leftStart = true
		}
	}
	return path
}

func (m *DoubleWell) inStart(x float64) bool  { return x <= m.cfg.StartBoundary }
func (m *DoubleWell) inTarget(x float64) bool { return x >= m.cfg.TargetBoundary }

// InStart classifies each (trajectory, step) as inside the start region.
// NaN-padded steps are never inside either region.
func (m *DoubleWell) InStart(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return m.classify(traj, m.inStart)
}

// InTarget classifies each (trajectory, step) as inside the target region.
func (m *DoubleWell) InTarget(ctx context.Context, traj [][][]float64) ([][]bool, error) {
	return m.classify(traj, m.inTarget)
}

func (m *DoubleWell) classify(traj [][][]float64, in func(float64) bool) ([][]bool, error) {
	out := make([][]bool, len(traj))
	for i, path := range traj {
		out[i] = make([]bool, len(path))
		for t, state := range path {
			if len(state) != 2 {
				return nil, fmt.Errorf("model: state at (%d, %d) has dimension %d, want 2", i, t, len(state))
			}
			x := state[0]
			out[i][t] = !math.IsNaN(x) && in(x)
		}
	}
	return out, nil
}

// InitialStates returns n copies of the start-basin equilibrium [x=-1, t=0],
// the conventional starting ensemble.
func (m *DoubleWell) InitialStates(n int) [][]float64 {
	states := make([][]float64, n)
	for i := range states {
		states[i] = []float64{-1, 0}
	}
	return states
}

// Package score provides the scalar progress measures used to rank
// trajectories. A score function maps each state of a trajectory to a value
// in [0, 1] describing how far the state has advanced from the start region
// toward the target region. NaN-padded steps keep NaN scores so that
// downstream reductions can ignore them.
package score

import (
	"context"
	"fmt"
	"math"
)

// Position scores a state by the linear position of its first coordinate
// between the start and target anchors, clamped to [0, 1]. It is the
// reaction coordinate of choice for 1-D bistable systems.
type Position struct {
	// Start is the coordinate mapped to score 0.
	Start float64

	// Target is the coordinate mapped to score 1.
	Target float64
}

// NewPosition builds a Position scorer anchored at start and target.
func NewPosition(start, target float64) (*Position, error) {
	if start == target {
		return nil, fmt.Errorf("score: start and target anchors coincide at %g", start)
	}
	return &Position{Start: start, Target: target}, nil
}

// Score maps each trajectory's states to clamped linear progress values.
// NaN coordinates propagate to NaN scores.
func (p *Position) Score(ctx context.Context, traj [][][]float64) ([][]float64, error) {
	span := p.Target - p.Start
	out := make([][]float64, len(traj))
	for i, path := range traj {
		out[i] = make([]float64, len(path))
		for t, state := range path {
			if len(state) == 0 {
				return nil, fmt.Errorf("score: empty state at (%d, %d)", i, t)
			}
			x := state[0]
			if math.IsNaN(x) {
				out[i][t] = math.NaN()
				continue
			}
			s := (x - p.Start) / span
			if s < 0 {
				s = 0
			} else if s > 1 {
				s = 1
			}
			out[i][t] = s
		}
	}
	return out, nil
}

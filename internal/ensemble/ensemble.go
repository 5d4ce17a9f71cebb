// Package ensemble implements the padded ragged-trajectory storage used by
// the splitting estimator. Trajectories of different natural lengths share a
// fixed-shape (N x T x D) buffer; the unused tail of each trajectory is
// padded with NaN. Storage only ever grows, so defined entries are never
// shifted or truncated.
package ensemble

import (
	"fmt"
	"math"
	"sort"
)

// Ensemble holds N trajectories and their index-aligned score series.
// Trajectory i occupies traj[i] (T x D) with a NaN-padded tail past its
// natural length; scores[i] is the parallel (T) score series with the same
// padding convention.
type Ensemble struct {
	traj    [][][]float64
	scores  [][]float64
	lengths []int
	dim     int
	steps   int
}

// New builds an Ensemble from a generated trajectory batch and its score
// batch. Both must have the same outer size, every trajectory must be
// rectangular with state dimension dim, and every score series must span the
// allocated step count. Natural lengths are derived from the first NaN.
func New(traj [][][]float64, scores [][]float64, dim int) (*Ensemble, error) {
	if len(traj) == 0 {
		return nil, fmt.Errorf("ensemble: empty trajectory batch")
	}
	if len(scores) != len(traj) {
		return nil, fmt.Errorf("ensemble: %d trajectories but %d score series", len(traj), len(scores))
	}

	steps := len(traj[0])
	for i, path := range traj {
		if len(path) != steps {
			return nil, fmt.Errorf("ensemble: trajectory %d has %d steps, want %d", i, len(path), steps)
		}
		for t, state := range path {
			if len(state) != dim {
				return nil, fmt.Errorf("ensemble: trajectory %d step %d has dimension %d, want %d", i, t, len(state), dim)
			}
		}
		if len(scores[i]) != steps {
			return nil, fmt.Errorf("ensemble: score series %d has %d steps, want %d", i, len(scores[i]), steps)
		}
	}

	e := &Ensemble{
		traj:    traj,
		scores:  scores,
		dim:     dim,
		steps:   steps,
		lengths: make([]int, len(traj)),
	}
	for i := range traj {
		e.lengths[i] = NaturalLength(traj[i])
	}
	return e, nil
}

// N returns the number of trajectories.
func (e *Ensemble) N() int { return len(e.traj) }

// Steps returns the allocated step count T shared by all trajectories.
func (e *Ensemble) Steps() int { return e.steps }

// Dim returns the state dimension D.
func (e *Ensemble) Dim() int { return e.dim }

// Length returns trajectory i's natural length: the count of defined steps.
func (e *Ensemble) Length(i int) int { return e.lengths[i] }

// Trajectory returns the padded (T x D) storage of trajectory i. The slice
// aliases the ensemble's buffer.
func (e *Ensemble) Trajectory(i int) [][]float64 { return e.traj[i] }

// Scores returns the padded score series of trajectory i. The slice aliases
// the ensemble's buffer.
func (e *Ensemble) Scores(i int) []float64 { return e.scores[i] }

// Trajectories returns the full padded trajectory batch.
func (e *Ensemble) Trajectories() [][][]float64 { return e.traj }

// ScoreMatrix returns the full padded score batch.
func (e *Ensemble) ScoreMatrix() [][]float64 { return e.scores }

// State returns the state vector at (trajectory, step). The slice aliases
// the ensemble's buffer; callers that keep it must copy.
func (e *Ensemble) State(i, t int) []float64 { return e.traj[i][t] }

// Grow extends the allocated step count to at least steps, padding every
// trajectory and score series with NaN. Existing entries are untouched.
// Growing to the current size or smaller is a no-op.
func (e *Ensemble) Grow(steps int) {
	if steps <= e.steps {
		return
	}
	extra := steps - e.steps
	for i := range e.traj {
		for k := 0; k < extra; k++ {
			e.traj[i] = append(e.traj[i], nanVector(e.dim))
			e.scores[i] = append(e.scores[i], math.NaN())
		}
	}
	e.steps = steps
}

// Splice overwrites trajectory dst with a clone of trajectory src branched at
// step restart: the prefix [0, restart] is copied verbatim from src, and the
// continuation cont (whose first state duplicates the restart state and is
// dropped) supplies steps (restart, restart+len(cont)). contScores carries
// the continuation's score series, index-aligned with cont. The tail past the
// new natural length is reset to NaN. The storage must already be large
// enough; grow with Grow before splicing a batch.
func (e *Ensemble) Splice(dst, src, restart int, cont [][]float64, contScores []float64) error {
	newLen := restart + len(cont)
	if newLen > e.steps {
		return fmt.Errorf("ensemble: splice needs %d steps but storage has %d", newLen, e.steps)
	}
	if restart >= e.lengths[src] {
		return fmt.Errorf("ensemble: restart step %d outside defined prefix of source %d (length %d)", restart, src, e.lengths[src])
	}
	if len(contScores) != len(cont) {
		return fmt.Errorf("ensemble: continuation has %d steps but %d scores", len(cont), len(contScores))
	}

	for t := 0; t <= restart; t++ {
		copy(e.traj[dst][t], e.traj[src][t])
		e.scores[dst][t] = e.scores[src][t]
	}
	// cont[0] is the restart state itself; the continuation proper starts
	// at cont[1].
	for k := 1; k < len(cont); k++ {
		copy(e.traj[dst][restart+k], cont[k])
		e.scores[dst][restart+k] = contScores[k]
	}
	for t := newLen; t < e.steps; t++ {
		for d := 0; d < e.dim; d++ {
			e.traj[dst][t][d] = math.NaN()
		}
		e.scores[dst][t] = math.NaN()
	}
	e.lengths[dst] = newLen
	return nil
}

// SetScore overwrites the score at (trajectory, step).
func (e *Ensemble) SetScore(i, t int, v float64) { e.scores[i][t] = v }

// Level returns trajectory i's running maximum score Q over its defined
// steps, ignoring NaN padding. ok is false when the trajectory has no
// defined steps at all.
func (e *Ensemble) Level(i int) (q float64, ok bool) {
	return MaxIgnoringNaN(e.scores[i])
}

// NaturalLength returns the natural length of a padded trajectory: the index
// of the first step at which any state component is NaN, or the full step
// count when no such step exists.
func NaturalLength(path [][]float64) int {
	for t, state := range path {
		for _, v := range state {
			if math.IsNaN(v) {
				return t
			}
		}
	}
	return len(path)
}

// MaxIgnoringNaN returns the maximum of xs over non-NaN entries. ok is false
// when every entry is NaN (or xs is empty).
func MaxIgnoringNaN(xs []float64) (max float64, ok bool) {
	max = math.Inf(-1)
	for _, v := range xs {
		if math.IsNaN(v) {
			continue
		}
		if v > max {
			max = v
		}
		ok = true
	}
	if !ok {
		return 0, false
	}
	return max, true
}

// FirstAtOrAbove returns the first index at which xs reaches or exceeds
// level. NaN entries never qualify. ok is false when no entry qualifies.
func FirstAtOrAbove(xs []float64, level float64) (idx int, ok bool) {
	for t, v := range xs {
		if !math.IsNaN(v) && v >= level {
			return t, true
		}
	}
	return 0, false
}

// DistinctSorted returns the distinct values of xs in ascending order.
// Values are compared exactly; NaN entries are excluded.
func DistinctSorted(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	distinct := out[:0]
	for i, v := range out {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	return distinct
}

func nanVector(dim int) []float64 {
	v := make([]float64, dim)
	for d := range v {
		v[d] = math.NaN()
	}
	return v
}

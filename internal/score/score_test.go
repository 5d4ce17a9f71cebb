package score

import (
	"context"
	"math"
	"testing"
)

func TestNewPosition(t *testing.T) {
	if _, err := NewPosition(-0.8, 0.8); err != nil {
		t.Errorf("NewPosition(-0.8, 0.8) failed: %v", err)
	}
	if _, err := NewPosition(0.5, 0.5); err == nil {
		t.Error("expected error for coinciding anchors")
	}
}

func TestPosition_Score(t *testing.T) {
	p, err := NewPosition(-0.8, 0.8)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	nan := math.NaN()

	traj := [][][]float64{
		{{-0.8, 0}, {0, 1}, {0.8, 2}, {-1.5, 3}, {1.5, 4}, {nan, nan}},
	}
	scores, err := p.Score(context.Background(), traj)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	want := []float64{0, 0.5, 1, 0, 1, nan}
	for s, w := range want {
		got := scores[0][s]
		if math.IsNaN(w) {
			if !math.IsNaN(got) {
				t.Errorf("score[%d] = %g, want NaN", s, got)
			}
			continue
		}
		if math.Abs(got-w) > 1e-12 {
			t.Errorf("score[%d] = %g, want %g", s, got, w)
		}
	}
}

func TestPosition_ScoreDescendingAnchors(t *testing.T) {
	// Anchors can run right to left; progress still maps start to 0.
	p, err := NewPosition(0.8, -0.8)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}

	scores, err := p.Score(context.Background(), [][][]float64{{{0.8, 0}, {-0.8, 1}}})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scores[0][0] != 0 || scores[0][1] != 1 {
		t.Errorf("scores = %v, want [0, 1]", scores[0])
	}
}

func TestPosition_EmptyState(t *testing.T) {
	p, _ := NewPosition(-0.8, 0.8)
	if _, err := p.Score(context.Background(), [][][]float64{{{}}}); err == nil {
		t.Error("expected error for empty state")
	}
}

// Package export writes estimation results to Arrow IPC files so that the
// trajectory ensembles can be analyzed with standard columnar tooling.
package export

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// Schema returns the Arrow schema for an exported ensemble. Each row is one
// (trajectory, step) pair with its score and full state vector. NaN-padded
// steps past a trajectory's natural end are not exported.
func Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "trajectory", Type: arrow.PrimitiveTypes.Int32},
		{Name: "step", Type: arrow.PrimitiveTypes.Int32},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "state", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	}, nil)
}

// WriteEnsemble writes the trajectory and score ensembles to an Arrow IPC
// file at path. traj is (N x T x D) and scores is (N x T), both NaN-padded;
// rows are emitted in trajectory-major order and padding is dropped.
func WriteEnsemble(path string, traj [][][]float64, scores [][]float64) error {
	if len(traj) != len(scores) {
		return fmt.Errorf("export: %d trajectories but %d score series", len(traj), len(scores))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: creating %s: %w", path, err)
	}
	defer f.Close()

	schema := Schema()
	mem := memory.NewGoAllocator()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("export: opening writer: %w", err)
	}

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	trajB := b.Field(0).(*array.Int32Builder)
	stepB := b.Field(1).(*array.Int32Builder)
	scoreB := b.Field(2).(*array.Float64Builder)
	stateB := b.Field(3).(*array.ListBuilder)
	valueB := stateB.ValueBuilder().(*array.Float64Builder)

	for i, tr := range traj {
		if len(scores[i]) != len(tr) {
			w.Close()
			return fmt.Errorf("export: trajectory %d has %d steps but %d scores", i, len(tr), len(scores[i]))
		}
		n := naturalLength(tr)
		for t := 0; t < n; t++ {
			trajB.Append(int32(i))
			stepB.Append(int32(t))
			scoreB.Append(scores[i][t])
			stateB.Append(true)
			valueB.AppendValues(tr[t], nil)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("export: writing record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("export: closing writer: %w", err)
	}
	return nil
}

// naturalLength counts leading steps whose state is fully defined.
func naturalLength(path [][]float64) int {
	for t, state := range path {
		for _, v := range state {
			if v != v { // NaN
				return t
			}
		}
	}
	return len(path)
}

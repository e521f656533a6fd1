package scatter

import (
	"fmt"
	"slices"

	"github.com/gomlx/trace2onnx/onnx"
	"github.com/pkg/errors"
)

// DimensionNumbers describe a generalized scatter, as in XLA/StableHLO:
//
//   - UpdateWindowDims: positions in the updates tensor that hold window (slice) dimensions.
//   - InsertedWindowDims: operand axes that have no window dimension in updates (the slice size is 1).
//   - ScatterDimsToOperandDims: the operand axis indexed by each component of an index vector. Its length is
//     the index depth K.
//   - OperandBatchingDims and ScatterIndicesBatchingDims: paired batch axes of operand and indices.
//
// The index vector is always the last axis of the indices.
type DimensionNumbers struct {
	UpdateWindowDims           []int
	InsertedWindowDims         []int
	ScatterDimsToOperandDims   []int
	OperandBatchingDims        []int
	ScatterIndicesBatchingDims []int
}

// IndexDepth returns K, the length of an index vector.
func (d DimensionNumbers) IndexDepth() int {
	return len(d.ScatterDimsToOperandDims)
}

// String implements fmt.Stringer.
func (d DimensionNumbers) String() string {
	return fmt.Sprintf("{update_window_dims=%v, inserted_window_dims=%v, scatter_dims_to_operand_dims=%v, "+
		"operand_batching_dims=%v, scatter_indices_batching_dims=%v}",
		d.UpdateWindowDims, d.InsertedWindowDims, d.ScatterDimsToOperandDims,
		d.OperandBatchingDims, d.ScatterIndicesBatchingDims)
}

// ExpectedUpdatesShape returns the shape the updates of a scatter must have: the batch dimensions of the indices
// (all but the last axis) interleaved with the window dimensions, which are placed at UpdateWindowDims. Window
// dimensions are the operand axes that are neither inserted nor batching axes, in operand order, with their full
// operand size.
func ExpectedUpdatesShape(dnums DimensionNumbers, operandShape, indicesShape onnx.Shape) (onnx.Shape, error) {
	var batch onnx.Shape
	if indicesShape.Rank() > 0 {
		batch = indicesShape[:indicesShape.Rank()-1]
	}
	var window onnx.Shape
	for axis, dim := range operandShape {
		if slices.Contains(dnums.InsertedWindowDims, axis) || slices.Contains(dnums.OperandBatchingDims, axis) {
			continue
		}
		window = append(window, dim)
	}
	if len(window) != len(dnums.UpdateWindowDims) {
		return nil, errors.Wrapf(onnx.ErrUnsupportedScatterLayout,
			"operand %s has %d window axes, but update_window_dims lists %d positions in %s",
			operandShape, len(window), len(dnums.UpdateWindowDims), dnums)
	}
	rank := len(batch) + len(window)
	updates := make(onnx.Shape, rank)
	isWindow := make([]bool, rank)
	for ii, pos := range dnums.UpdateWindowDims {
		if pos < 0 || pos >= rank || isWindow[pos] {
			return nil, errors.Wrapf(onnx.ErrUnsupportedScatterLayout,
				"invalid update window position %d for updates of rank %d in %s", pos, rank, dnums)
		}
		if ii > 0 && pos < dnums.UpdateWindowDims[ii-1] {
			return nil, errors.Wrapf(onnx.ErrUnsupportedScatterLayout, "update_window_dims must be sorted in %s", dnums)
		}
		isWindow[pos] = true
		updates[pos] = window[ii]
	}
	batchIdx := 0
	for pos := range updates {
		if !isWindow[pos] {
			updates[pos] = batch[batchIdx]
			batchIdx++
		}
	}
	return updates, nil
}

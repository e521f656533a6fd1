// Package scatter legalizes generalized (XLA/StableHLO style) scatter operations into the canonical form accepted by
// ONNX ScatterND: int64 indices of shape (N, K) and updates of shape (N, operand.shape[K:]...).
//
// Legalize emits the Cast/Reshape/Squeeze/Transpose nodes needed to bring indices and updates to that form (or,
// for the single-axis window update, a full index grid), recording the value-info of every tensor it creates.
// EmitScatterND then adds the ScatterND node itself.
package scatter

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/gomlx/trace2onnx/onnx"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GraphBuilder is the subset of onnx.Builder used to emit nodes.
type GraphBuilder interface {
	UniqueName(prefix string) string
	Op(opType string, inputs, outputs []string, attrs ...*protos.AttributeProto) *protos.NodeProto
	RecordIntermediate(name string, shape onnx.Shape, dtype dtypes.DType, origin ...onnx.Origin)
	AddConstant(value any) string
	Symbols() *onnx.SymbolRegistry
}

var _ GraphBuilder = (*onnx.Builder)(nil)

// origin of the value-info records created by the legalizer.
const origin onnx.Origin = "scatter legalizer"

// Tensor describes one of the scatter operands.
type Tensor struct {
	Name  string
	Shape onnx.Shape
	DType dtypes.DType
}

// Result holds the names and shapes of the legalized ScatterND inputs.
type Result struct {
	Operand, Indices, Updates string
	IndicesShape              onnx.Shape
	UpdatesShape              onnx.Shape

	// FastPath is set if the indices were expanded to a full index grid (window update along one axis).
	FastPath bool
}

// Legalize rewrites the scatter indices and updates into ScatterND's canonical form.
//
// It fails with onnx.ErrUnsupportedScatterLayout if the dimension numbers or the indices shape can't be mapped
// to ScatterND, and with onnx.ErrUpdatesShapeMismatch if the updates can't be reconciled with the expected updates
// shape.
func Legalize(b GraphBuilder, operand, indices, updates Tensor, dnums DimensionNumbers) (result Result, err error) {
	l := &legalizer{b: b, operand: operand, indices: indices, updates: updates, dnums: dnums}
	err = exceptions.TryCatch[error](func() {
		result = l.run()
	})
	if err != nil {
		err = errors.WithMessagef(err, "legalizing scatter(operand=%s, indices=%s, updates=%s) with %s",
			l.describe(operand), l.describe(indices), l.describe(updates), dnums)
		return Result{}, err
	}
	return result, nil
}

type legalizer struct {
	b                         GraphBuilder
	operand, indices, updates Tensor
	dnums                     DimensionNumbers
}

func (l *legalizer) describe(t Tensor) string {
	return fmt.Sprintf("%q:%s%s", t.Name, t.DType, l.format(t.Shape))
}

func (l *legalizer) format(shape onnx.Shape) string {
	return l.b.Symbols().Format(shape)
}

func (l *legalizer) record(name string, shape onnx.Shape, dtype dtypes.DType) {
	l.b.RecordIntermediate(name, shape, dtype, origin)
}

func (l *legalizer) run() Result {
	for _, t := range []Tensor{l.operand, l.indices, l.updates} {
		l.b.RecordIntermediate(t.Name, t.Shape, t.DType)
	}
	k := l.dnums.IndexDepth()
	operandRank := l.operand.Shape.Rank()
	if k > operandRank {
		panic(errors.Wrapf(onnx.ErrUnsupportedScatterLayout, "index depth %d exceeds operand rank %d", k, operandRank))
	}
	for _, axis := range l.dnums.ScatterDimsToOperandDims {
		if axis < 0 || axis >= operandRank {
			panic(errors.Wrapf(onnx.ErrUnsupportedScatterLayout,
				"scatter_dims_to_operand_dims refers to axis %d of an operand of rank %d", axis, operandRank))
		}
	}

	indicesName := l.castIndices()
	var target onnx.Shape
	if k == 0 && l.indices.Shape.Rank() <= 1 {
		indicesName, target = l.zeroDepthIndices(indicesName)
	} else {
		target = l.targetIndicesShape(l.indices.Shape, k)
		indicesName = l.reshape(indicesName, l.indices.Shape, target, dtypes.Int64, l.indices.Name+"_nk")
	}

	if axis, ok := l.fastPathAxis(); ok {
		if result, ok := l.fastPath(indicesName, axis); ok {
			return result
		}
	}
	return l.defaultPath(indicesName, target)
}

// castIndices converts the indices to Int64, the only index type ScatterND accepts.
func (l *legalizer) castIndices() string {
	if l.indices.DType == dtypes.Int64 {
		return l.indices.Name
	}
	name := l.b.UniqueName(l.indices.Name + "_int64")
	l.b.Op("Cast", []string{l.indices.Name}, []string{name}, onnx.AttrInt("to", int(protos.TensorProto_INT64)))
	l.record(name, l.indices.Shape, dtypes.Int64)
	return name
}

// zeroDepthIndices builds the (N, 0) indices of a scatter without index vectors (each update replaces the whole
// operand) from indices of rank 0 or 1. Reshape can't be used, since the element count changes.
func (l *legalizer) zeroDepthIndices(name string) (string, onnx.Shape) {
	n := onnx.Concrete(1)
	axes := []int64{0, 1}
	if l.indices.Shape.Rank() == 1 {
		n = l.indices.Shape[0]
		axes = []int64{1}
	}
	column := l.b.UniqueName(l.indices.Name + "_column")
	l.b.Op("Unsqueeze", []string{name, l.b.AddConstant(axes)}, []string{column})
	l.record(column, onnx.Shape{n, onnx.Concrete(1)}, dtypes.Int64)

	target := onnx.Shape{n, onnx.Concrete(0)}
	empty := l.b.UniqueName(l.indices.Name + "_nk")
	zero := l.b.AddConstant([]int64{0})
	l.b.Op("Slice", []string{column, zero, zero, l.b.AddConstant([]int64{1})}, []string{empty})
	l.record(empty, target, dtypes.Int64)
	return empty, target
}

// sameDims returns whether the shapes have the same dimensions, where unknown dimensions are never the same: two
// unknown dimensions may hold different values at runtime.
func sameDims(a, b onnx.Shape) bool {
	if a.Rank() != b.Rank() {
		return false
	}
	for axis := range a {
		if a[axis].IsUnknown() || !a[axis].Equal(b[axis]) {
			return false
		}
	}
	return true
}

// productDim returns the product of the dimensions, if they are concrete. A single dimension is returned as is.
func productDim(shape onnx.Shape) onnx.Dim {
	if len(shape) == 1 {
		return shape[0]
	}
	if size, ok := shape.Size(); ok {
		return onnx.Concrete(size)
	}
	return onnx.UnknownDim
}

// targetIndicesShape returns the (N, K) shape the indices must be reshaped to. Indices of rank 0 or 1 with K = 0
// are handled by zeroDepthIndices instead.
func (l *legalizer) targetIndicesShape(shape onnx.Shape, k int) onnx.Shape {
	kDim := onnx.Concrete(k)
	rank := shape.Rank()
	var target onnx.Shape
	switch {
	case rank == 0:
		// A single scalar index.
		target = onnx.Shape{onnx.Concrete(1), kDim}
	case rank == 1 && k > 0 && shape[0].Equal(kDim):
		// A single index vector.
		target = onnx.Shape{onnx.Concrete(1), kDim}
	case rank == 1 && k == 1:
		// A list of scalar indices, with an implicit index vector axis.
		target = onnx.Shape{shape[0], kDim}
	case k > 0 && shape[rank-1].Equal(kDim):
		// Batch of index vectors: flatten the batch axes.
		target = onnx.Shape{productDim(shape[:rank-1]), kDim}
	case rank == 2 && shape[1].Equal(kDim):
		target = shape.Clone()
	default:
		n := onnx.Concrete(1)
		if rank > 1 && shape[rank-1].Equal(kDim) {
			n = productDim(shape[:rank-1])
		}
		target = onnx.Shape{n, kDim}
		klog.Warningf("scatter indices %s with index depth %d: no specific rule, reshaping to %s",
			l.format(shape), k, l.format(target))
	}
	size, sizeOk := shape.Size()
	targetSize, targetOk := target.Size()
	if sizeOk && targetOk && size != targetSize {
		panic(errors.Wrapf(onnx.ErrUnsupportedScatterLayout, "indices %s (%d elements) can't be arranged as %s for index depth %d",
			l.format(shape), size, l.format(target), k))
	}
	return target
}

// reshape emits a Reshape of name (shaped from) to target, unless the shapes are already equal.
func (l *legalizer) reshape(name string, from, target onnx.Shape, dtype dtypes.DType, prefix string) string {
	if from.Equal(target) {
		return name
	}
	spec, allowZero := l.reshapeSpec(from, target)
	shapeName := l.b.AddConstant(spec)
	output := l.b.UniqueName(prefix)
	var attrs []*protos.AttributeProto
	if allowZero {
		attrs = append(attrs, onnx.AttrInt("allowzero", 1))
	}
	l.b.Op("Reshape", []string{name, shapeName}, []string{output}, attrs...)
	l.record(output, target, dtype)
	return output
}

// reshapeSpec returns the values of the Reshape "shape" input for target.
//
// Symbolic dimensions that are the same in from (at the same axis) are copied (0), and at most one other
// non-concrete dimension is inferred (-1). Unknown dimensions are never copied. If target has zero-sized dimensions, copying is disabled (allowZero).
func (l *legalizer) reshapeSpec(from, target onnx.Shape) (spec []int64, allowZero bool) {
	for _, d := range target {
		if d.IsConcrete() && d.Value() == 0 {
			allowZero = true
		}
	}
	spec = make([]int64, len(target))
	inferred := -1
	for axis, d := range target {
		switch {
		case d.IsConcrete():
			spec[axis] = int64(d.Value())
		case !allowZero && axis < from.Rank() && from[axis].IsSymbolic() && from[axis].Equal(d):
			spec[axis] = 0
		case inferred < 0:
			inferred = axis
			spec[axis] = -1
		default:
			panic(errors.Wrapf(onnx.ErrUnsupportedScatterLayout,
				"cannot reshape %s to %s: dimensions %d and %d are both unresolved",
				l.format(from), l.format(target), inferred, axis))
		}
	}
	return
}

// fastPathAxis checks whether the scatter writes a window of updates (of the operand's rank) starting at a single
// index along one axis, and returns that axis.
func (l *legalizer) fastPathAxis() (int, bool) {
	d := l.dnums
	if len(d.ScatterDimsToOperandDims) != 1 || len(d.InsertedWindowDims) != 0 || len(d.OperandBatchingDims) != 0 {
		return -1, false
	}
	operandShape, updatesShape := l.operand.Shape, l.updates.Shape
	if updatesShape.Rank() != operandShape.Rank() || len(d.UpdateWindowDims) != updatesShape.Rank() {
		return -1, false
	}
	indicesShape := l.indices.Shape
	if !(indicesShape.Rank() == 0 || (indicesShape.Rank() == 1 && indicesShape[0].Equal(onnx.Concrete(1)))) {
		return -1, false
	}
	axis := d.ScatterDimsToOperandDims[0]
	for ii := range operandShape {
		if ii != axis && !operandShape[ii].Equal(updatesShape[ii]) {
			return -1, false
		}
	}
	return axis, true
}

// fastPath builds the full index grid for a window update along axis: indices of shape (updates.shape..., rank)
// where the entry at position p is p, plus the start index on axis. E.g. for rank 2 and axis 1 it has shape
// (B, L, 2) and the entry [b, l] is (b, start+l).
//
// It requires concrete updates dimensions, and returns false otherwise.
func (l *legalizer) fastPath(indicesName string, axis int) (Result, bool) {
	dims, ok := l.updates.Shape.ConcreteDims()
	if !ok {
		klog.V(1).Infof("scatter window update of %q: updates %s not concrete, using the default path",
			l.updates.Name, l.format(l.updates.Shape))
		return Result{}, false
	}
	b := l.b
	rank := len(dims)
	start := b.UniqueName("scatter_start")
	b.Op("Squeeze", []string{indicesName, b.AddConstant([]int64{0, 1})}, []string{start})
	l.record(start, onnx.Shape{}, dtypes.Int64)

	gridShape := onnx.Dims(dims...)
	dims64 := make([]int64, rank)
	for ii, dim := range dims {
		dims64[ii] = int64(dim)
	}
	parts := make([]string, rank)
	for ii, dim := range dims {
		positions := b.UniqueName(fmt.Sprintf("scatter_range%d", ii))
		b.Op("Range", []string{b.AddConstant(int64(0)), b.AddConstant(int64(dim)), b.AddConstant(int64(1))},
			[]string{positions})
		l.record(positions, onnx.Dims(dim), dtypes.Int64)
		if ii == axis {
			shifted := b.UniqueName(fmt.Sprintf("scatter_range%d_shifted", ii))
			b.Op("Add", []string{positions, start}, []string{shifted})
			l.record(shifted, onnx.Dims(dim), dtypes.Int64)
			positions = shifted
		}

		broadcastDims := make([]int, rank)
		for jj := range broadcastDims {
			broadcastDims[jj] = 1
		}
		broadcastDims[ii] = dim
		positions = l.reshape(positions, onnx.Dims(dim), onnx.Dims(broadcastDims...), dtypes.Int64,
			fmt.Sprintf("scatter_range%d_broadcast", ii))
		if rank > 1 {
			expanded := b.UniqueName(fmt.Sprintf("scatter_range%d_expanded", ii))
			b.Op("Expand", []string{positions, b.AddConstant(dims64)}, []string{expanded})
			l.record(expanded, gridShape, dtypes.Int64)
			positions = expanded
		}
		parts[ii] = b.UniqueName(fmt.Sprintf("scatter_coord%d", ii))
		b.Op("Unsqueeze", []string{positions, b.AddConstant([]int64{int64(rank)})}, []string{parts[ii]})
		l.record(parts[ii], onnx.Dims(append(dims, 1)...), dtypes.Int64)
	}
	grid := b.UniqueName("scatter_indices")
	b.Op("Concat", parts, []string{grid}, onnx.AttrInt("axis", rank))
	gridIndicesShape := onnx.Dims(append(dims, rank)...)
	l.record(grid, gridIndicesShape, dtypes.Int64)
	klog.V(1).Infof("scatter window update of %q along axis %d: index grid %s", l.updates.Name, axis, gridIndicesShape)
	return Result{
		Operand:      l.operand.Name,
		Indices:      grid,
		Updates:      l.updates.Name,
		IndicesShape: gridIndicesShape,
		UpdatesShape: l.updates.Shape,
		FastPath:     true,
	}, true
}

// defaultPath brings the updates to the shape ScatterND expects for indices of shape (N, K):
// (N, operand.shape[K:]...).
func (l *legalizer) defaultPath(indicesName string, indicesShape onnx.Shape) Result {
	d := l.dnums
	k := d.IndexDepth()
	for ii, axis := range d.ScatterDimsToOperandDims {
		if axis != ii {
			panic(errors.Wrapf(onnx.ErrUnsupportedScatterLayout,
				"ScatterND indexes the leading operand axes in order, but index component %d refers to axis %d", ii, axis))
		}
	}
	if len(d.OperandBatchingDims) > 0 || len(d.ScatterIndicesBatchingDims) > 0 {
		panic(errors.Wrapf(onnx.ErrUnsupportedScatterLayout, "batching dimensions are not supported by ScatterND"))
	}

	updatesName, updatesShape := l.canonicalUpdatesLayout()
	numWindow := l.operand.Shape.Rank() - k
	canonical := DimensionNumbers{
		InsertedWindowDims:       d.ScatterDimsToOperandDims,
		ScatterDimsToOperandDims: d.ScatterDimsToOperandDims,
	}
	batchRank := indicesShape.Rank() - 1
	for ii := range numWindow {
		canonical.UpdateWindowDims = append(canonical.UpdateWindowDims, batchRank+ii)
	}
	expected, err := ExpectedUpdatesShape(canonical, l.operand.Shape, indicesShape)
	if err != nil {
		panic(err)
	}
	updatesName = l.reconcileUpdates(updatesName, updatesShape, expected, l.indicesBatchDims(k))
	return Result{
		Operand:      l.operand.Name,
		Indices:      indicesName,
		Updates:      updatesName,
		IndicesShape: indicesShape,
		UpdatesShape: expected,
	}
}

// canonicalUpdatesLayout transposes the updates so that the window dimensions come last, if needed.
func (l *legalizer) canonicalUpdatesLayout() (string, onnx.Shape) {
	shape := l.updates.Shape
	rank := shape.Rank()
	isWindow := make([]bool, rank)
	for _, pos := range l.dnums.UpdateWindowDims {
		if pos < 0 || pos >= rank {
			panic(errors.Wrapf(onnx.ErrUnsupportedScatterLayout, "update window position %d out of range for updates %s",
				pos, l.format(shape)))
		}
		isWindow[pos] = true
	}
	var perm []int
	for pos := range rank {
		if !isWindow[pos] {
			perm = append(perm, pos)
		}
	}
	for pos := range rank {
		if isWindow[pos] {
			perm = append(perm, pos)
		}
	}
	identity := true
	for ii, pos := range perm {
		identity = identity && ii == pos
	}
	if identity {
		return l.updates.Name, shape
	}
	transposed := make(onnx.Shape, rank)
	for ii, pos := range perm {
		transposed[ii] = shape[pos]
	}
	name := l.b.UniqueName(l.updates.Name + "_transposed")
	l.b.Op("Transpose", []string{l.updates.Name}, []string{name}, onnx.AttrInts("perm", perm...))
	l.record(name, transposed, l.updates.DType)
	return name, transposed
}

// removableUnitAxis returns the axis of shape that, if removed, makes it equal to expected. Only axes of size 1 are
// considered.
func removableUnitAxis(shape, expected onnx.Shape) (int, bool) {
	if shape.Rank() != expected.Rank()+1 {
		return -1, false
	}
	one := onnx.Concrete(1)
	for axis, d := range shape {
		if !d.Equal(one) {
			continue
		}
		reduced := append(shape[:axis:axis], shape[axis+1:]...)
		if reduced.Equal(expected) {
			return axis, true
		}
	}
	return -1, false
}

// indicesBatchDims returns the batch dimensions of the original indices, if the index vector is their last axis.
func (l *legalizer) indicesBatchDims(k int) onnx.Shape {
	shape := l.indices.Shape
	rank := shape.Rank()
	if rank < 2 || !shape[rank-1].Equal(onnx.Concrete(k)) {
		return nil
	}
	return shape[:rank-1]
}

// reconcileUpdates makes the updates match the expected shape: by squeezing a unit axis if that is the only
// difference, by collapsing the batch axes if they are the ones of the indices, or by reshaping if the number
// of elements matches.
func (l *legalizer) reconcileUpdates(name string, shape, expected, indicesBatch onnx.Shape) string {
	if shape.Equal(expected) {
		return name
	}
	if axis, ok := removableUnitAxis(shape, expected); ok {
		squeezed := l.b.UniqueName(l.updates.Name + "_squeezed")
		l.b.Op("Squeeze", []string{name, l.b.AddConstant([]int64{int64(axis)})}, []string{squeezed})
		l.record(squeezed, expected, l.updates.DType)
		klog.V(1).Infof("scatter updates %s squeezed (axis %d) to %s", l.format(shape), axis, l.format(expected))
		return squeezed
	}
	numBatch := len(indicesBatch)
	if numBatch > 1 && shape.Rank() == numBatch+expected.Rank()-1 &&
		sameDims(shape[:numBatch], indicesBatch) && sameDims(shape[numBatch:], expected[1:]) {
		klog.V(1).Infof("scatter updates %s: batch axes collapsed to %s", l.format(shape), l.format(expected))
		return l.reshape(name, shape, expected, l.updates.DType, l.updates.Name+"_reshaped")
	}
	size := l.mustSize(shape, "updates")
	expectedSize := l.mustSize(expected, "expected updates")
	if size != expectedSize {
		panic(errors.Wrapf(onnx.ErrUpdatesShapeMismatch, "updates %s has %d elements, expected shape %s has %d",
			l.format(shape), size, l.format(expected), expectedSize))
	}
	klog.V(1).Infof("scatter updates %s reshaped to %s", l.format(shape), l.format(expected))
	return l.reshape(name, shape, expected, l.updates.DType, l.updates.Name+"_reshaped")
}

// mustSize returns the number of elements of the shape, or panics naming the first dimension that is not concrete.
func (l *legalizer) mustSize(shape onnx.Shape, what string) int {
	size, ok := shape.Size()
	if ok {
		return size
	}
	for axis, d := range shape {
		if !d.IsConcrete() {
			panic(errors.Wrapf(onnx.ErrUpdatesShapeMismatch, "%s %s: dimension %d (%s) is not concrete",
				what, l.format(shape), axis, l.format(onnx.Shape{d})))
		}
	}
	return size
}

// Reduction is the ScatterND "reduction" attribute.
type Reduction string

const (
	ReductionNone Reduction = "none"
	ReductionAdd  Reduction = "add"
	ReductionMul  Reduction = "mul"
	ReductionMax  Reduction = "max"
	ReductionMin  Reduction = "min"
)

// EmitScatterND adds the ScatterND node consuming the legalized inputs, with output named output (shaped like the
// operand), and returns the output name.
func EmitScatterND(b GraphBuilder, operand Tensor, r Result, output string, reduction Reduction) string {
	var attrs []*protos.AttributeProto
	if reduction != "" && reduction != ReductionNone {
		attrs = append(attrs, onnx.AttrString("reduction", string(reduction)))
	}
	b.Op("ScatterND", []string{r.Operand, r.Indices, r.Updates}, []string{output}, attrs...)
	b.RecordIntermediate(output, operand.Shape, operand.DType, origin)
	return output
}

package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metadata = map[string]string{"model": "mlp", "author": "me"}
	b := NewBuilder(cfg, nil)
	batch := b.Symbols().Intern("s0")
	b.Symbols().SetName(batch, "batch")

	b.DeclareInput("x", Shape{batch, Concrete(3)}, dtypes.Float32)
	b.DeclareInput("unused", Dims(2), dtypes.Float32)
	w := b.AddInitializer("w", tensors.FromAnyValue([]float32{1, 2, 3}))
	b.AddConstant([]float32{4})
	b.Op("Mul", []string{"x", w}, []string{"h"})
	b.RecordIntermediate("h", Shape{batch, Concrete(3)}, dtypes.Float32)
	b.Op("Relu", []string{"h"}, []string{"y"})
	b.DeclareOutput("y", Shape{batch, Concrete(3)}, dtypes.Float32)

	m, err := b.Finalize("main")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, m.Inputs(), "unused inputs are pruned")
	assert.Equal(t, []string{"y"}, m.Outputs())
	assert.Equal(t, []string{"w"}, m.Initializers(), "unused constants are pruned")
	assert.Empty(t, m.Warnings)

	graph := m.Proto.Graph
	require.NotNil(t, graph)
	assert.Equal(t, "main", graph.Name)
	require.Len(t, graph.Node, 2)
	inputShape := graph.Input[0].GetType().GetTensorType().GetShape()
	require.Len(t, inputShape.Dim, 2)
	assert.Equal(t, "batch", inputShape.Dim[0].GetDimParam())
	assert.Equal(t, int64(3), inputShape.Dim[1].GetDimValue())
	assert.Equal(t, int32(protos.TensorProto_FLOAT), graph.Input[0].GetType().GetTensorType().GetElemType())

	// Only "h" is an intermediate: x, y and w are declared elsewhere.
	require.Len(t, graph.ValueInfo, 1)
	assert.Equal(t, "h", graph.ValueInfo[0].GetName())
	assert.Equal(t, "origin: traced", graph.ValueInfo[0].DocString)

	require.Len(t, m.Proto.OpsetImport, 1, "no custom domain without functions")
	assert.Equal(t, int64(21), m.Proto.OpsetImport[0].Version)
	assert.Equal(t, int64(10), m.Proto.IrVersion)
	require.Len(t, m.Proto.MetadataProps, 2)
	assert.Equal(t, "author", m.Proto.MetadataProps[0].Key)
	assert.Equal(t, "model", m.Proto.MetadataProps[1].Key)

	assert.NotEmpty(t, m.Marshal())
	str := m.String()
	assert.Contains(t, str, `"Mul", "Relu"`)
	assert.Contains(t, str, "x:FLOAT(batch, 3)")

	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, m.WriteFile(path))
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.Marshal(), contents)
}

func TestFinalizeErrors(t *testing.T) {
	t.Run("NotTopologicallySorted", func(t *testing.T) {
		b := NewBuilder(DefaultConfig(), nil)
		b.DeclareInput("x", Dims(2), dtypes.Float32)
		b.Op("Neg", []string{"later"}, []string{"y"})
		b.Op("Neg", []string{"x"}, []string{"later"})
		b.DeclareOutput("y", Dims(2), dtypes.Float32)
		_, err := b.Finalize("main")
		require.ErrorIs(t, err, ErrNotTopologicallySorted)
		assert.Contains(t, err.Error(), `"later"`)
		assert.Equal(t, BuilderOpen, b.State())
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		b := NewBuilder(DefaultConfig(), nil)
		b.DeclareInput("x", Dims(2), dtypes.Float32)
		b.Op("Neg", []string{"x"}, []string{"h"})
		b.Op("Neg", []string{"h"}, []string{"y"})
		b.DeclareOutput("y", Dims(2), dtypes.Float32)
		_, err := b.Finalize("main")
		require.ErrorIs(t, err, ErrMissingMetadata)
		assert.Contains(t, err.Error(), `"h"`)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Opset = 0
		b := NewBuilder(cfg, nil)
		_, err := b.Finalize("main")
		require.Error(t, err)
	})

	t.Run("NotMainGraph", func(t *testing.T) {
		b := NewBuilder(DefaultConfig(), nil)
		_, err := b.NewSubgraphBuilder().Finalize("sub")
		require.Error(t, err)
	})
}

func TestFinalizeRetry(t *testing.T) {
	b := NewBuilder(DefaultConfig(), nil)
	b.DeclareInput("x", Dims(2), dtypes.Float32)
	b.DeclareInput("bias", Dims(2), dtypes.Float32)
	w := b.AddInitializer("w", tensors.FromAnyValue([]float32{1, 2}))
	b.Op("Neg", []string{"x"}, []string{"h"})
	b.Op("Neg", []string{"h"}, []string{"y"})
	b.DeclareOutput("y", Dims(2), dtypes.Float32)

	_, err := b.Finalize("main")
	require.ErrorIs(t, err, ErrMissingMetadata)
	assert.Equal(t, BuilderOpen, b.State())
	assert.Equal(t, []string{"x", "bias"}, b.Inputs(), "a failed Finalize keeps the inputs")

	// Fix the graph and use the input and initializer that were unused at the first attempt.
	b.RecordIntermediate("h", Dims(2), dtypes.Float32)
	b.Op("Add", []string{"y", "bias"}, []string{"z"})
	b.Op("Mul", []string{"z", w}, []string{"out"})
	b.RecordIntermediate("z", Dims(2), dtypes.Float32)
	b.DeclareOutput("out", Dims(2), dtypes.Float32)
	m, err := b.Finalize("main")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "bias"}, m.Inputs())
	assert.Equal(t, []string{"w"}, m.Initializers())
}

func TestFinalizeDeterministicFlag(t *testing.T) {
	b := NewBuilder(DefaultConfig(), nil)
	b.DeclareInput("x", Dims(2), dtypes.Float32)
	b.DeclareScalarInput("training", dtypes.Bool)
	b.Op("Not", []string{"training"}, []string{"layer_deterministic"})
	b.Op("Dropout", []string{"x", "", "layer_deterministic"}, []string{"y"})
	b.DeclareOutput("y", Dims(2), dtypes.Float32)

	m, err := b.Finalize("main")
	require.NoError(t, err)
	require.Len(t, m.Proto.Graph.ValueInfo, 1)
	flag := m.Proto.Graph.ValueInfo[0]
	assert.Equal(t, "layer_deterministic", flag.GetName())
	assert.Equal(t, int32(protos.TensorProto_BOOL), flag.GetType().GetTensorType().GetElemType())
	assert.Empty(t, flag.GetType().GetTensorType().GetShape().Dim)
	assert.Equal(t, "origin: "+string(OriginDeterministicFlag), flag.DocString)
}

func TestBuildSubgraph(t *testing.T) {
	b := NewBuilder(DefaultConfig(), nil)
	b.DeclareScalarInput("cond", dtypes.Bool)
	b.DeclareInput("x", Dims(3), dtypes.Float32)
	w := b.AddInitializer("w", tensors.FromAnyValue([]float32{1, 2, 3}))

	thenBuilder := b.NewSubgraphBuilder()
	thenBuilder.Op("Add", []string{"x", w}, []string{"then_out"})
	thenBuilder.DeclareOutput("then_out", Dims(3), dtypes.Float32)
	thenGraph, err := thenBuilder.BuildSubgraph("then_branch")
	require.NoError(t, err)
	assert.Empty(t, thenGraph.Input)
	require.Len(t, thenGraph.Output, 1)

	elseBuilder := b.NewSubgraphBuilder()
	elseBuilder.Op("Sub", []string{"x", w}, []string{"else_out"})
	elseBuilder.DeclareOutput("else_out", Dims(3), dtypes.Float32)
	elseGraph, err := elseBuilder.BuildSubgraph("else_branch")
	require.NoError(t, err)

	b.Op("If", []string{"cond"}, []string{"y"},
		AttrGraph("then_branch", thenGraph), AttrGraph("else_branch", elseGraph))
	b.DeclareOutput("y", Dims(3), dtypes.Float32)
	m, err := b.Finalize("main")
	require.NoError(t, err)

	// x and w are only used inside the branches.
	assert.Equal(t, []string{"cond", "x"}, m.Inputs())
	assert.Equal(t, []string{"w"}, m.Initializers())
	require.Len(t, m.Proto.Graph.Node, 1)
	assert.Len(t, subgraphsOf(m.Proto.Graph.Node[0]), 2)
}

func TestSubgraphUnavailableInput(t *testing.T) {
	b := NewBuilder(DefaultConfig(), nil)
	sub := b.NewSubgraphBuilder()
	sub.Op("Neg", []string{"nowhere"}, []string{"out"})
	sub.DeclareOutput("out", Dims(1), dtypes.Float32)
	_, err := sub.BuildSubgraph("body")
	require.ErrorIs(t, err, ErrNotTopologicallySorted)
}

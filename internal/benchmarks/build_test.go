package benchmarks

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/trace2onnx/onnx"
	"github.com/gomlx/trace2onnx/onnx/scatter"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

// buildMLP builds a model with numLayers dense layers, each a call to the function "dense", followed by the
// update of a cache with a window scatter of the first 4 hidden rows.
func buildMLP(numLayers, width int) *onnx.Model {
	b := onnx.NewBuilder(onnx.DefaultConfig(), nil)
	batch := b.Symbols().Intern("batch")
	b.Symbols().SetName(batch, "batch")
	features := onnx.Shape{batch, onnx.Concrete(width)}
	b.DeclareInput("x", features, dtypes.Float32)
	b.DeclareScalarInput(onnx.DeterministicFlag, dtypes.Bool)

	fb := b.NewFunctionBuilder()
	fb.DeclareInput("dense_x", features, dtypes.Float32)
	fb.DeclareInput("dense_w", onnx.Dims(width, width), dtypes.Float32)
	fb.DeclareInput("dense_b", onnx.Dims(width), dtypes.Float32)
	fb.Op("MatMul", []string{"dense_x", "dense_w"}, []string{"dense_mm"})
	fb.RecordIntermediate("dense_mm", features, dtypes.Float32)
	fb.Op("Add", []string{"dense_mm", "dense_b"}, []string{"dense_pre"})
	fb.RecordIntermediate("dense_pre", features, dtypes.Float32)
	fb.Op("Relu", []string{"dense_pre"}, []string{"dense_y"})
	fb.DeclareOutput("dense_y", features, dtypes.Float32)
	fnName := must.M1(b.AddFunction("dense", fb, []string{onnx.DeterministicFlag}, nil))

	weights := tensors.FromFlatDataAndDimensions(make([]float32, width*width), width, width)
	bias := tensors.FromFlatDataAndDimensions(make([]float32, width), width)
	x := "x"
	for layer := range numLayers {
		w := b.AddInitializer(fmt.Sprintf("dense_%d/weights", layer), weights)
		bb := b.AddInitializer(fmt.Sprintf("dense_%d/bias", layer), bias)
		y := b.UniqueName("hidden")
		b.AddFunctionCall(fnName, []string{x, w, bb, onnx.DeterministicFlag}, []string{y})
		b.RecordIntermediate(y, features, dtypes.Float32)
		x = y
	}

	cache := scatter.Tensor{Name: "cache", Shape: onnx.Dims(4, 2*width), DType: dtypes.Float32}
	b.DeclareInput(cache.Name, cache.Shape, cache.DType)
	b.DeclareInput("pos", onnx.Dims(1), dtypes.Int64)
	b.Op("Slice", []string{x, b.AddConstant([]int64{0}), b.AddConstant([]int64{4})}, []string{"window"})
	b.RecordIntermediate("window", onnx.Dims(4, width), dtypes.Float32)
	r := must.M1(scatter.Legalize(b, cache,
		scatter.Tensor{Name: "pos", Shape: onnx.Dims(1), DType: dtypes.Int64},
		scatter.Tensor{Name: "window", Shape: onnx.Dims(4, width), DType: dtypes.Float32},
		scatter.DimensionNumbers{UpdateWindowDims: []int{0, 1}, ScatterDimsToOperandDims: []int{1}}))
	scatter.EmitScatterND(b, cache, r, "new_cache", scatter.ReductionNone)

	b.DeclareOutput(x, features, dtypes.Float32)
	b.DeclareOutput("new_cache", cache.Shape, cache.DType)
	return must.M1(b.Finalize("mlp"))
}

func TestBuildMLP(t *testing.T) {
	m := buildMLP(3, 8)
	require.Equal(t, []string{"x", onnx.DeterministicFlag, "cache", "pos"}, m.Inputs())
	require.Len(t, m.Proto.Functions, 1)
	require.Empty(t, m.Warnings)
	numWeights := 0
	for _, name := range m.Initializers() {
		if strings.HasPrefix(name, "dense_") {
			numWeights++
		}
	}
	require.Equal(t, 3*2, numWeights)
	require.NotEmpty(t, m.Marshal())
}

func TestBenchBuildMLP(t *testing.T) {
	if testing.Short() || *flagBenchDuration == 0 {
		t.SkipNow()
	}
	for ii, numLayers := range []int{1, 10, 100} {
		numBytes := 0
		testFn := benchmarks.NamedFunction{
			Name: fmt.Sprintf("BuildMLP/Layers=%3d", numLayers),
			Func: func() {
				numBytes = len(buildMLP(numLayers, 64).Marshal())
			},
		}
		benchmarks.New(testFn).
			WithWarmUps(10).
			WithDuration(*flagBenchDuration).
			WithHeader(ii == 0).
			Done()
		fmt.Printf("\t> %d layers: %d bytes\n", numLayers, numBytes)
	}
}

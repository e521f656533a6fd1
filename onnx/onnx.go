// Package onnx builds ONNX models from traced tensor computations.
//
//   - Builder: accumulates the nodes, inputs, outputs, initializers, value-info (shape and dtype of every tensor)
//     and functions of a graph, and enforces the invariants of a valid ONNX graph when finalized.
//   - SymbolRegistry: maps the symbolic dimensions of the trace to the dim_param names used in the model, shared
//     across the main graph, functions and control-flow subgraphs.
//   - Model: the result of Builder.Finalize. It can be serialized with Marshal or WriteFile.
//
// Lowering rules for individual operations are not part of this package: they call the Builder to emit nodes.
// See the scatter sub-package for the legalization of generalized scatter operations to ScatterND.
package onnx

import (
	"os"

	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/pkg/errors"
)

// Model represents a finalized ONNX model.
type Model struct {
	Proto protos.ModelProto

	// Warnings holds non-fatal issues found while finalizing the model, e.g. ErrDuplicateFunctionName.
	Warnings []error
}

// Marshal serializes the model in the ONNX protobuf format.
func (m *Model) Marshal() []byte {
	return m.Proto.Marshal()
}

// WriteFile serializes the model to the given file.
func (m *Model) WriteFile(filePath string) error {
	if err := os.WriteFile(filePath, m.Marshal(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write ONNX model to %s", filePath)
	}
	return nil
}

func valueInfoNames(infos []*protos.ValueInfoProto) []string {
	names := make([]string, len(infos))
	for ii, vi := range infos {
		names[ii] = vi.GetName()
	}
	return names
}

// Inputs returns the names of the model inputs.
func (m *Model) Inputs() []string {
	if m.Proto.Graph == nil {
		return nil
	}
	return valueInfoNames(m.Proto.Graph.Input)
}

// Outputs returns the names of the model outputs.
func (m *Model) Outputs() []string {
	if m.Proto.Graph == nil {
		return nil
	}
	return valueInfoNames(m.Proto.Graph.Output)
}

// Initializers returns the names of the model initializers.
func (m *Model) Initializers() []string {
	if m.Proto.Graph == nil {
		return nil
	}
	names := make([]string, len(m.Proto.Graph.Initializer))
	for ii, t := range m.Proto.Graph.Initializer {
		names[ii] = t.Name
	}
	return names
}

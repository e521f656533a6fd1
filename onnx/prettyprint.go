package onnx

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/trace2onnx/internal/protos"
)

// String implements fmt.Stringer, and pretty prints model information.
func (m *Model) String() string {
	var buf bytes.Buffer
	// w writes formatted text to buf.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("ONNX Model:\n")
	if m.Proto.ProducerName != "" {
		w("\tProducer:\t%s / %s\n", m.Proto.ProducerName, m.Proto.ProducerVersion)
	}
	w("\tIR Version:\t%d\n", m.Proto.IrVersion)
	w("\tOperator Sets:\t[")
	for ii, opSetId := range m.Proto.OpsetImport {
		if ii > 0 {
			w(", ")
		}
		if opSetId.Domain != "" {
			w("v%d (%s)", opSetId.Version, opSetId.Domain)
		} else {
			w("v%d", opSetId.Version)
		}
	}
	w("]\n")

	if graph := m.Proto.Graph; graph != nil {
		w("\tGraph:\t\t%q\n", graph.Name)
		w("\tInputs:\t\t%s\n", formatValueInfos(graph.Input))
		w("\tOutputs:\t%s\n", formatValueInfos(graph.Output))
		w("\t# initializers:\t%d\n", len(graph.Initializer))
		w("\t# nodes:\t%d\n", len(graph.Node))
		w("\tOp types:\t%#v\n", sortedOpTypes(graph.Node))
	}

	if len(m.Proto.Functions) > 0 {
		fnSet := sets.Make[string]()
		for _, f := range m.Proto.Functions {
			fnSet.Insert(f.Name)
		}
		w("\tFunctions:\t%#v\n", slices.Sorted(maps.Keys(fnSet)))
	}

	if len(m.Proto.MetadataProps) > 0 {
		w("\tMetadata: [")
		for ii, prop := range m.Proto.MetadataProps {
			if ii > 0 {
				w(", ")
			}
			w("%s=%s", prop.Key, prop.Value)
		}
		w("]\n")
	}
	for _, warning := range m.Warnings {
		w("\tWarning:\t%v\n", warning)
	}
	return buf.String()
}

func sortedOpTypes(nodes []*protos.NodeProto) []string {
	opTypesSet := sets.Make[string]()
	for _, n := range nodes {
		opTypesSet.Insert(n.GetOpType())
	}
	return slices.Sorted(maps.Keys(opTypesSet))
}

// formatValueInfos prints value-info protos as "name:ELEM_TYPE(d0, d1, ...)".
func formatValueInfos(infos []*protos.ValueInfoProto) string {
	var buf bytes.Buffer
	buf.WriteString("[")
	for ii, vi := range infos {
		if ii > 0 {
			buf.WriteString(", ")
		}
		tensorType := vi.GetType().GetTensorType()
		buf.WriteString(vi.GetName())
		buf.WriteString(":")
		buf.WriteString(protos.TensorProto_DataType(tensorType.GetElemType()).String())
		var dims []string
		if shape := tensorType.GetShape(); shape != nil {
			for _, dim := range shape.Dim {
				switch {
				case dim.GetDimParam() != "":
					dims = append(dims, dim.GetDimParam())
				case dim.Value != nil:
					dims = append(dims, fmt.Sprint(dim.GetDimValue()))
				default:
					dims = append(dims, "?")
				}
			}
		}
		buf.WriteString(formatDims(dims))
	}
	buf.WriteString("]")
	return buf.String()
}

package onnx

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/trace2onnx/internal/protos"
)

// This file holds the constructors and getters of ONNX node attributes.

// AttrInt creates an INT attribute.
func AttrInt(name string, value int) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_INT, I: int64(value)}
}

// AttrInts creates an INTS attribute.
func AttrInts(name string, values ...int) *protos.AttributeProto {
	attr := &protos.AttributeProto{Name: name, Type: protos.AttributeProto_INTS, Ints: make([]int64, len(values))}
	for ii, v := range values {
		attr.Ints[ii] = int64(v)
	}
	return attr
}

// AttrFloat creates a FLOAT attribute.
func AttrFloat(name string, value float32) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_FLOAT, F: value}
}

// AttrString creates a STRING attribute.
func AttrString(name, value string) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_STRING, S: []byte(value)}
}

// AttrTensor creates a TENSOR attribute, as used by the Constant operator.
//
// It panics (with an exception) if the tensor dtype is not supported by ONNX.
func AttrTensor(name string, t *tensors.Tensor) *protos.AttributeProto {
	proto, err := TensorToONNX("", t)
	if err != nil {
		panic(err)
	}
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_TENSOR, T: proto}
}

// AttrGraph creates a GRAPH attribute, the body of control-flow operators (If, Loop, Scan).
func AttrGraph(name string, graph *protos.GraphProto) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_GRAPH, G: graph}
}

// AttrGraphs creates a GRAPHS attribute.
func AttrGraphs(name string, graphs ...*protos.GraphProto) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_GRAPHS, Graphs: graphs}
}

// nodeToString returns a short description of the node for error messages.
func nodeToString(node *protos.NodeProto) string {
	return fmt.Sprintf("%s(%s) -> [%s] (node %q)", node.GetOpType(), strings.Join(node.GetInput(), ", "),
		strings.Join(node.GetOutput(), ", "), node.GetName())
}

// getNodeAttr returns the given node attribute. If required is true, it will panic with a message about
// the missing attribute.
func getNodeAttr(node *protos.NodeProto, name string, required bool) *protos.AttributeProto {
	for _, attr := range node.Attribute {
		if attr.Name == name {
			return attr
		}
	}
	if required {
		exceptions.Panicf("ONNX %s is missing required attribute %q", nodeToString(node), name)
	}
	return nil
}

func assertNodeAttrType(node *protos.NodeProto, attr *protos.AttributeProto, attributeType protos.AttributeProto_AttributeType) {
	if attr.Type != attributeType {
		exceptions.Panicf("unexpected ONNX attribute %q of type %s in %s", attr.Name, attr.Type, nodeToString(node))
	}
}

// GetIntAttrOr gets an integer attribute for node if present or return the given defaultValue.
// It panics with an error message if the attribute is present but is of the wrong type.
func GetIntAttrOr(node *protos.NodeProto, attrName string, defaultValue int) int {
	attr := getNodeAttr(node, attrName, false)
	if attr == nil {
		return defaultValue
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_INT)
	return int(attr.I)
}

// GetIntsAttrOr gets an integer list attribute for node if present or return the given defaultValues.
// It panics with an error message if the attribute is present but is of the wrong type.
func GetIntsAttrOr(node *protos.NodeProto, attrName string, defaultValues []int) []int {
	attr := getNodeAttr(node, attrName, false)
	if attr == nil {
		return defaultValues
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_INTS)
	values := make([]int, len(attr.Ints))
	for ii, v := range attr.Ints {
		values[ii] = int(v)
	}
	return values
}

// subgraphsOf returns the graphs held by the GRAPH and GRAPHS attributes of the node.
func subgraphsOf(node *protos.NodeProto) []*protos.GraphProto {
	var graphs []*protos.GraphProto
	for _, attr := range node.Attribute {
		switch attr.Type {
		case protos.AttributeProto_GRAPH:
			if attr.G != nil {
				graphs = append(graphs, attr.G)
			}
		case protos.AttributeProto_GRAPHS:
			graphs = append(graphs, attr.Graphs...)
		}
	}
	return graphs
}

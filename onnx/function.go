package onnx

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TraceBinding maps the input variables of a traced sub-computation to the tensor names used in the graph.
type TraceBinding struct {
	// InputVars are the trace's input variables, in order.
	InputVars []string

	// VarToName maps trace variables to their final tensor names.
	VarToName map[string]string
}

// AddFunction turns the graph of sub (created with NewFunctionBuilder) into a function of the custom domain, and
// registers it in b under name. It returns the function name, to be used with AddFunctionCall.
//
// The function inputs are the trace's input variables mapped through binding, if binding is given, or the inputs
// declared in sub otherwise, followed by extraParams (e.g. weights or the deterministic flag), without repetitions.
// Their value-info is looked up in b first, and then in sub. The deterministic flag is always a scalar bool.
//
// Functions registered in sub are also registered in b. After it succeeds, sub is sealed.
func (b *Builder) AddFunction(name string, sub *Builder, extraParams []string, binding *TraceBinding) (fnName string, err error) {
	err = exceptions.TryCatch[error](func() {
		fnName = b.addFunction(name, sub, extraParams, binding)
	})
	if err != nil {
		return "", errors.WithMessagef(err, "adding function %q", name)
	}
	return fnName, nil
}

func (b *Builder) addFunction(name string, sub *Builder, extraParams []string, binding *TraceBinding) string {
	b.checkOpen("add function " + name)
	if sub.kind != functionBody || sub.parent != b {
		exceptions.Panicf("function %q body must be built with a builder created by NewFunctionBuilder of the caller", name)
	}
	sub.checkOpen("build function " + name)

	var dataInputs []string
	if binding != nil && len(binding.InputVars) > 0 {
		for _, v := range binding.InputVars {
			finalName, found := binding.VarToName[v]
			if !found {
				klog.Warningf("function %q: trace input variable %q has no tensor name, skipped", name, v)
				continue
			}
			dataInputs = append(dataInputs, finalName)
		}
	} else {
		dataInputs = sub.Inputs()
	}
	var inputs []string
	for _, input := range append(dataInputs, extraParams...) {
		if !slices.Contains(inputs, input) {
			inputs = append(inputs, input)
		}
	}

	for _, input := range inputs {
		if isDeterministicFlag(input) {
			sub.register(input, nil, dtypes.Bool, OriginFunctionParamForced)
			continue
		}
		vi, found := b.ValueInfo(input)
		if !found {
			vi, found = sub.values.Lookup(input)
		}
		if !found {
			panic(errors.Wrapf(ErrMissingMetadata, "function %q input %q", name, input))
		}
		origin := vi.Origin
		if !sub.values.Has(input) {
			origin = OriginFunctionParamAuto
		}
		sub.register(input, vi.Shape, vi.DType, origin)
	}
	sub.inputs = inputs

	graph := sub.buildGraph(name+"_graph", false)
	fn := &protos.FunctionProto{
		Name:        name,
		Domain:      b.config.CustomDomain,
		Input:       inputs,
		Output:      sub.Outputs(),
		Node:        graph.Node,
		OpsetImport: b.opsetImports(true),
	}
	fn.ValueInfo = append(fn.ValueInfo, graph.Input...)
	fn.ValueInfo = append(fn.ValueInfo, graph.Output...)
	fn.ValueInfo = append(fn.ValueInfo, graph.ValueInfo...)

	b.functions = append(b.functions, sub.functions...)
	b.functions = append(b.functions, fn)
	klog.V(1).Infof("function %q registered: %d inputs, %d outputs, %d nodes", name, len(fn.Input), len(fn.Output), len(fn.Node))
	return name
}

// AddFunctionCall adds a node calling the function fnName (registered with AddFunction). The value-info of the
// outputs must be recorded by the caller.
func (b *Builder) AddFunctionCall(fnName string, inputs, outputs []string) *protos.NodeProto {
	node := &protos.NodeProto{
		Name:   b.names.Get(fnName),
		OpType: fnName,
		Domain: b.config.CustomDomain,
		Input:  inputs,
		Output: outputs,
	}
	b.AddNode(node)
	return node
}

// Functions returns the names of the functions registered so far (possibly repeated).
func (b *Builder) Functions() []string {
	names := make([]string, len(b.functions))
	for ii, fn := range b.functions {
		names[ii] = fn.Name
	}
	return names
}

package onnx

import (
	"bytes"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeterministicFlag is the name of the boolean flag (e.g. dropout on/off) threaded through functions.
// Tensors named DeterministicFlag, or with the suffix "_"+DeterministicFlag, are always scalar booleans.
const DeterministicFlag = "deterministic"

func isDeterministicFlag(name string) bool {
	return name == DeterministicFlag || strings.HasSuffix(name, "_"+DeterministicFlag)
}

// Finalize validates the graph and assembles the model. After it succeeds the builder is sealed.
//
// In order, it:
//
//  1. Drops initializers not consumed by any node (including nodes of functions and nested subgraphs).
//  2. Checks that every node only consumes inputs, initializers or outputs of earlier nodes.
//  3. Drops graph inputs that are produced by a node, shadowed by an initializer, or not consumed at all.
//  4. Registers missing deterministic flags as scalar booleans, and fails with ErrMissingMetadata if any other
//     referenced tensor has no value-info.
//  5. Assembles the model: functions are de-duplicated by name (the last registered wins), and the custom domain
//     is imported if there are functions.
func (b *Builder) Finalize(graphName string) (model *Model, err error) {
	if b.kind != mainGraph {
		return nil, errors.Errorf("Finalize(%q) called on a function or subgraph builder, use AddFunction or BuildSubgraph", graphName)
	}
	if b.sealed {
		return nil, errors.WithMessagef(ErrSealed, "Finalize(%q)", graphName)
	}
	if err = b.config.Validate(); err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() {
		graph := b.buildGraph(graphName, true)
		model = b.assembleModel(graph)
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

// BuildSubgraph validates the graph and returns it, to be used as the GRAPH attribute of a control-flow node of the
// parent builder. Graph inputs are kept as declared, since they are positional. After it succeeds the builder is
// sealed.
func (b *Builder) BuildSubgraph(graphName string) (graph *protos.GraphProto, err error) {
	if b.sealed {
		return nil, errors.WithMessagef(ErrSealed, "BuildSubgraph(%q)", graphName)
	}
	err = exceptions.TryCatch[error](func() {
		if b.parent != nil {
			b.parent.checkOpen("build subgraph " + graphName)
		}
		graph = b.buildGraph(graphName, false)
		if b.parent != nil {
			// Functions registered in the subgraph are defined at the model level.
			b.parent.functions = append(b.parent.functions, b.functions...)
			b.functions = nil
		}
	})
	if err != nil {
		return nil, err
	}
	return graph, nil
}

// buildGraph runs the validation steps and seals the builder. It panics with an error if the graph is invalid, in
// which case the inputs and initializers of the builder are left as they were.
func (b *Builder) buildGraph(graphName string, pruneInputs bool) *protos.GraphProto {
	initializers, inputs := b.initializers, b.inputs
	sealed := false
	defer func() {
		if !sealed {
			b.initializers, b.inputs = initializers, inputs
		}
	}()

	b.initializers = b.usedInitializers()
	b.checkTopologicalOrder(graphName)
	if pruneInputs {
		b.inputs = b.usedInputs()
	}
	b.registerMissingDeterministicFlags()
	if missing := b.MissingValueInfo(); len(missing) > 0 {
		panic(errors.Wrapf(ErrMissingMetadata, "graph %q: no shape/dtype for tensor(s) %q", graphName, missing))
	}
	graph := b.assembleGraph(graphName)
	b.sealed = true
	sealed = true
	return graph
}

// consumedNames collects the inputs of the nodes, recursively including the nodes of GRAPH/GRAPHS attributes.
func consumedNames(nodes []*protos.NodeProto, consumed sets.Set[string]) {
	for _, node := range nodes {
		for _, name := range node.Input {
			if name != "" {
				consumed.Insert(name)
			}
		}
		for _, graph := range subgraphsOf(node) {
			consumedNames(graph.Node, consumed)
			for _, output := range graph.Output {
				consumed.Insert(output.GetName())
			}
		}
	}
}

// usedInitializers returns the initializers consumed by a node (of the graph, of a subgraph or of a function) or
// used as graph outputs.
func (b *Builder) usedInitializers() []*protos.TensorProto {
	used := sets.MakeWith(b.outputs...)
	consumedNames(b.nodes, used)
	for _, fn := range b.functions {
		consumedNames(fn.Node, used)
	}
	kept := make([]*protos.TensorProto, 0, len(b.initializers))
	for _, proto := range b.initializers {
		if used.Has(proto.Name) {
			kept = append(kept, proto)
		}
	}
	if dropped := len(b.initializers) - len(kept); dropped > 0 {
		klog.V(1).Infof("dropped %d unused initializer(s)", dropped)
	}
	return kept
}

func (b *Builder) checkTopologicalOrder(graphName string) {
	available := sets.MakeWith(b.inputs...)
	for _, proto := range b.initializers {
		available.Insert(proto.Name)
	}
	for _, node := range b.nodes {
		for _, name := range node.Input {
			if name == "" || available.Has(name) {
				continue
			}
			if b.kind == subgraphBody && b.parent.isAvailable(name) {
				continue
			}
			panic(errors.Wrapf(ErrNotTopologicallySorted, "graph %q: %s consumes %q before it is produced",
				graphName, nodeToString(node), name))
		}
		for _, name := range node.Output {
			if name != "" {
				available.Insert(name)
			}
		}
	}
}

// usedInputs returns the graph inputs that are consumed, and not produced by a node nor shadowed by an initializer.
func (b *Builder) usedInputs() []string {
	consumed := sets.MakeWith(b.outputs...)
	consumedNames(b.nodes, consumed)
	kept := make([]string, 0, len(b.inputs))
	for _, name := range b.inputs {
		switch {
		case b.produced.Has(name):
			klog.V(1).Infof("input %q is produced by a node: removed", name)
		case b.isInitializer(name):
			klog.V(1).Infof("input %q is an initializer: removed", name)
		case !consumed.Has(name):
			klog.V(1).Infof("input %q is not used: removed", name)
		default:
			kept = append(kept, name)
		}
	}
	return kept
}

func (b *Builder) registerMissingDeterministicFlags() {
	for _, name := range b.MissingValueInfo() {
		if isDeterministicFlag(name) {
			klog.V(1).Infof("registering value-info of %q as a scalar bool", name)
			b.register(name, nil, dtypes.Bool, OriginDeterministicFlag)
		}
	}
}

func (b *Builder) valueInfoProtos(names []string) []*protos.ValueInfoProto {
	infos := make([]*protos.ValueInfoProto, 0, len(names))
	for _, name := range names {
		vi, _ := b.ValueInfo(name)
		proto, err := valueInfoToONNX(vi, b.symbols)
		if err != nil {
			panic(err)
		}
		infos = append(infos, proto)
	}
	return infos
}

func (b *Builder) assembleGraph(graphName string) *protos.GraphProto {
	graph := &protos.GraphProto{
		Name:        graphName,
		Node:        slices.Clone(b.nodes),
		Initializer: slices.Clone(b.initializers),
		Input:       b.valueInfoProtos(b.inputs),
		Output:      b.valueInfoProtos(b.outputs),
	}

	// Intermediate value-info: every other tensor referenced by a node that was recorded in this scope.
	declared := sets.MakeWith(b.inputs...)
	declared.Insert(b.outputs...)
	for _, proto := range b.initializers {
		declared.Insert(proto.Name)
	}
	referenced := sets.Make[string]()
	for _, node := range b.nodes {
		referenced.Insert(node.Input...)
		referenced.Insert(node.Output...)
	}
	var intermediates []string
	for _, name := range b.values.Names() {
		if referenced.Has(name) && !declared.Has(name) {
			intermediates = append(intermediates, name)
		}
	}
	graph.ValueInfo = b.valueInfoProtos(intermediates)
	return graph
}

// dedupFunctions keeps one function per name, the last one registered, in the order of first registration.
// Names registered with different bodies are logged and returned as warnings.
func dedupFunctions(functions []*protos.FunctionProto) (unique []*protos.FunctionProto, warnings []error) {
	position := make(map[string]int, len(functions))
	for _, fn := range functions {
		idx, found := position[fn.Name]
		if !found {
			position[fn.Name] = len(unique)
			unique = append(unique, fn)
			continue
		}
		if !bytes.Equal(unique[idx].Marshal(), fn.Marshal()) {
			warning := errors.WithMessagef(ErrDuplicateFunctionName,
				"function %q registered with different bodies, using the last one", fn.Name)
			klog.Warningf("%v", warning)
			warnings = append(warnings, warning)
		}
		unique[idx] = fn
	}
	return
}

func (b *Builder) opsetImports(withCustomDomain bool) []*protos.OperatorSetIdProto {
	opsets := []*protos.OperatorSetIdProto{{Domain: "", Version: b.config.Opset}}
	if withCustomDomain {
		opsets = append(opsets, &protos.OperatorSetIdProto{Domain: b.config.CustomDomain, Version: b.config.CustomDomainVersion})
	}
	return opsets
}

func (b *Builder) assembleModel(graph *protos.GraphProto) *Model {
	functions, warnings := dedupFunctions(b.functions)
	usesCustomDomain := len(functions) > 0
	for _, node := range graph.Node {
		if node.Domain == b.config.CustomDomain {
			usesCustomDomain = true
		}
	}
	m := &Model{Warnings: warnings}
	m.Proto = protos.ModelProto{
		IrVersion:       b.config.IRVersion,
		ProducerName:    b.config.ProducerName,
		ProducerVersion: b.config.ProducerVersion,
		OpsetImport:     b.opsetImports(usesCustomDomain),
		Graph:           graph,
		Functions:       functions,
	}
	for _, key := range slices.Sorted(maps.Keys(b.config.Metadata)) {
		m.Proto.MetadataProps = append(m.Proto.MetadataProps,
			&protos.StringStringEntryProto{Key: key, Value: b.config.Metadata[key]})
	}
	klog.V(1).Infof("model %q: %d nodes, %d initializers, %d functions",
		graph.Name, len(graph.Node), len(graph.Initializer), len(functions))
	return m
}

package onnx

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BuilderState is the lifecycle state of a Builder.
type BuilderState int

const (
	// BuilderOpen accepts declarations and nodes.
	BuilderOpen BuilderState = iota

	// BuilderSealed was finalized: any further modification panics, until Reset is called.
	BuilderSealed
)

// String implements fmt.Stringer.
func (s BuilderState) String() string {
	switch s {
	case BuilderOpen:
		return "open"
	case BuilderSealed:
		return "sealed"
	default:
		return "invalid"
	}
}

type builderKind int

const (
	mainGraph builderKind = iota
	functionBody
	subgraphBody
)

// Builder accumulates the nodes, inputs, outputs, initializers, value-info and functions of one graph scope, and
// finalizes them into an ONNX model (or a function, or a control-flow subgraph).
//
// The value-info store is the single source of truth about shapes and dtypes: every tensor consumed or produced by
// a node must have a record (see RecordIntermediate) by the time the builder is finalized.
//
// A Builder is not safe for concurrent use.
//
// As in GoMLX graph building, methods that build the graph panic (with an error) when misused, e.g. when
// modifying a sealed builder. Finalize, BuildSubgraph and AddFunction return errors instead.
type Builder struct {
	config  Config
	kind    builderKind
	parent  *Builder
	names   *NameGenerator
	symbols *SymbolRegistry
	values  *ValueInfoStore

	nodes         []*protos.NodeProto
	produced      sets.Set[string]
	inputs        []string
	outputs       []string
	outputSet     sets.Set[string]
	initializers  []*protos.TensorProto
	constantNodes map[string]*protos.TensorProto
	functions     []*protos.FunctionProto

	sealed bool
}

// NewBuilder creates a Builder for a model's main graph. If symbols is nil, a new SymbolRegistry is created.
func NewBuilder(config Config, symbols *SymbolRegistry) *Builder {
	if symbols == nil {
		symbols = NewSymbolRegistry()
	}
	b := &Builder{
		config:  config,
		kind:    mainGraph,
		names:   NewNameGenerator(),
		symbols: symbols,
		values:  NewValueInfoStore(),
	}
	b.clear()
	return b
}

// WithShapeOverrides sets shapes known to the tracer (usually symbolic) that take precedence over the shapes
// given when declaring or recording the named tensors. It returns the builder itself.
func (b *Builder) WithShapeOverrides(overrides map[string]Shape) *Builder {
	b.values.SetShapeOverrides(overrides)
	return b
}

func (b *Builder) clear() {
	b.nodes = nil
	b.produced = sets.Make[string]()
	b.inputs = nil
	b.outputs = nil
	b.outputSet = sets.Make[string]()
	b.initializers = nil
	b.constantNodes = make(map[string]*protos.TensorProto)
	b.functions = nil
	b.values.Reset()
}

// Reset clears the builder and makes it open again, to build the next (sibling) graph.
// The symbol registry is kept, since it is shared across scopes.
func (b *Builder) Reset() {
	b.clear()
	if b.parent == nil {
		b.names.Reset()
	}
	b.sealed = false
}

// State returns whether the builder is open or sealed.
func (b *Builder) State() BuilderState {
	if b.sealed {
		return BuilderSealed
	}
	return BuilderOpen
}

// Config returns the configuration of the builder.
func (b *Builder) Config() Config {
	return b.config
}

// Symbols returns the symbol registry shared by this builder and its children.
func (b *Builder) Symbols() *SymbolRegistry {
	return b.symbols
}

func (b *Builder) checkOpen(operation string) {
	if b.sealed {
		panic(errors.WithMessagef(ErrSealed, "cannot %s", operation))
	}
}

// newChild creates a builder sharing the configuration, name generator and symbol registry.
func (b *Builder) newChild(kind builderKind) *Builder {
	child := &Builder{
		config:  b.config,
		kind:    kind,
		parent:  b,
		names:   b.names,
		symbols: b.symbols,
		values:  NewValueInfoStore(),
	}
	child.values.SetShapeOverrides(b.values.overrides)
	child.clear()
	return child
}

// NewFunctionBuilder creates a builder for the body of a function, to be registered with AddFunction.
//
// Constants of function builders are emitted as Constant nodes, since function bodies can't refer to initializers.
func (b *Builder) NewFunctionBuilder() *Builder {
	return b.newChild(functionBody)
}

// NewSubgraphBuilder creates a builder for the body of a control-flow operator (If, Loop, Scan), to be finalized
// with BuildSubgraph. Its nodes may consume names available in this builder.
func (b *Builder) NewSubgraphBuilder() *Builder {
	return b.newChild(subgraphBody)
}

// UniqueName returns a new name with the given prefix, unique within the model.
func (b *Builder) UniqueName(prefix string) string {
	return b.names.Get(prefix)
}

// DeclareInput declares name as a graph input.
//
// It is idempotent. If name is already produced by a node it only records its metadata: a produced tensor is
// never a formal input.
func (b *Builder) DeclareInput(name string, shape Shape, dtype dtypes.DType) {
	b.declareInput(name, shape, dtype, OriginTraced)
}

// DeclareScalarInput declares a scalar call parameter (e.g. a "deterministic" flag) as a graph input.
func (b *Builder) DeclareScalarInput(name string, dtype dtypes.DType) {
	b.declareInput(name, nil, dtype, OriginCallParameter)
}

func (b *Builder) declareInput(name string, shape Shape, dtype dtypes.DType, origin Origin) {
	b.checkOpen("declare input " + name)
	b.names.Reserve(name)
	b.register(name, shape, dtype, origin)
	if b.produced.Has(name) || slices.Contains(b.inputs, name) {
		return
	}
	b.inputs = append(b.inputs, name)
}

// DeclareOutput declares name as a graph output. It is idempotent.
func (b *Builder) DeclareOutput(name string, shape Shape, dtype dtypes.DType) {
	b.checkOpen("declare output " + name)
	b.names.Reserve(name)
	b.register(name, shape, dtype, OriginTraced)
	if b.outputSet.Has(name) {
		return
	}
	b.outputSet.Insert(name)
	b.outputs = append(b.outputs, name)
}

// RecordIntermediate records (or refines) the shape and dtype of a tensor. Origin defaults to OriginTraced.
//
// Shape overrides take precedence over the given shape, and an existing record is only replaced by a more
// specific shape (see IsMoreSpecific).
func (b *Builder) RecordIntermediate(name string, shape Shape, dtype dtypes.DType, origin ...Origin) {
	b.checkOpen("record value-info of " + name)
	o := OriginTraced
	if len(origin) > 0 {
		o = origin[0]
	}
	b.register(name, shape, dtype, o)
}

func (b *Builder) register(name string, shape Shape, dtype dtypes.DType, origin Origin) {
	vi := b.values.Register(name, shape, dtype, origin)
	b.symbols.RegisterShapeOrigins(name, vi.Shape)
}

// AddNode appends the node to the graph. Nodes without a name are given a unique one.
func (b *Builder) AddNode(node *protos.NodeProto) {
	b.checkOpen("add node " + node.GetOpType())
	if node.Name == "" {
		node.Name = b.names.Get(node.OpType)
	} else {
		b.names.Reserve(node.Name)
	}
	b.names.Reserve(node.Output...)
	b.nodes = append(b.nodes, node)
	for _, output := range node.Output {
		if output == "" {
			continue
		}
		b.produced.Insert(output)
		if idx := slices.Index(b.inputs, output); idx >= 0 {
			klog.V(1).Infof("%q is produced by node %q: removed from the graph inputs", output, node.Name)
			b.inputs = slices.Delete(b.inputs, idx, idx+1)
		}
	}
}

// Op creates a node with the given operator type, inputs, outputs and attributes, and appends it to the graph.
func (b *Builder) Op(opType string, inputs, outputs []string, attrs ...*protos.AttributeProto) *protos.NodeProto {
	node := &protos.NodeProto{
		OpType:    opType,
		Input:     inputs,
		Output:    outputs,
		Attribute: attrs,
	}
	b.AddNode(node)
	return node
}

// Inputs returns the names of the graph inputs declared so far.
func (b *Builder) Inputs() []string {
	return slices.Clone(b.inputs)
}

// Outputs returns the names of the graph outputs declared so far.
func (b *Builder) Outputs() []string {
	return slices.Clone(b.outputs)
}

// Nodes returns the nodes added so far, in order.
func (b *Builder) Nodes() []*protos.NodeProto {
	return slices.Clone(b.nodes)
}

// ValueInfo returns the metadata of name. Function and subgraph builders also look it up in their parents.
func (b *Builder) ValueInfo(name string) (ValueInfo, bool) {
	if vi, found := b.values.Lookup(name); found {
		return vi, true
	}
	if b.parent != nil {
		return b.parent.ValueInfo(name)
	}
	return ValueInfo{}, false
}

// ShapeDType returns the shape and dtype recorded for name.
func (b *Builder) ShapeDType(name string) (Shape, dtypes.DType, error) {
	vi, found := b.ValueInfo(name)
	if !found {
		return nil, dtypes.InvalidDType, errors.Wrapf(ErrMissingMetadata, "tensor %q", name)
	}
	return vi.Shape, vi.DType, nil
}

func (b *Builder) hasValueInfo(name string) bool {
	_, found := b.ValueInfo(name)
	return found
}

// isAvailable returns whether name can be consumed by a node added to b now.
func (b *Builder) isAvailable(name string) bool {
	if b.produced.Has(name) || slices.Contains(b.inputs, name) || b.isInitializer(name) {
		return true
	}
	return b.kind == subgraphBody && b.parent.isAvailable(name)
}

// MergeValueInfoFrom copies the records of other that b doesn't have. Records present in both with a different
// shape or dtype are kept as they are in b, and a warning is logged.
func (b *Builder) MergeValueInfoFrom(other *Builder) {
	b.checkOpen("merge value-info")
	for _, name := range other.values.Names() {
		theirs, _ := other.values.Lookup(name)
		if mine, found := b.values.Lookup(name); found {
			if !mine.Shape.Equal(theirs.Shape) || mine.DType != theirs.DType {
				klog.Warningf("value-info of %q differs when merging: keeping %s%s, ignoring %s%s",
					name, mine.DType, b.symbols.Format(mine.Shape), theirs.DType, b.symbols.Format(theirs.Shape))
			}
			continue
		}
		b.register(name, theirs.Shape, theirs.DType, theirs.Origin)
	}
}

// MissingValueInfo returns the sorted names of the tensors referenced by the graph that have no value-info.
func (b *Builder) MissingValueInfo() []string {
	missing := sets.Make[string]()
	for _, name := range b.referencedNames() {
		if !b.hasValueInfo(name) {
			missing.Insert(name)
		}
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// referencedNames lists the inputs and outputs of the nodes (not of nested subgraphs) and of the graph.
func (b *Builder) referencedNames() []string {
	var names []string
	names = append(names, b.inputs...)
	names = append(names, b.outputs...)
	for _, node := range b.nodes {
		for _, name := range node.Input {
			if name != "" {
				names = append(names, name)
			}
		}
		for _, name := range node.Output {
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// ValueInfoSummary returns a human-readable listing of all value-info records, for debugging.
func (b *Builder) ValueInfoSummary() string {
	var sb strings.Builder
	names := b.values.Names()
	fmt.Fprintf(&sb, "value-info (%d records):\n", len(names))
	for _, name := range names {
		vi, _ := b.values.Lookup(name)
		fmt.Fprintf(&sb, "\t%s: %s%s [%s]\n", name, vi.DType, b.symbols.Format(vi.Shape), vi.Origin)
	}
	return sb.String()
}

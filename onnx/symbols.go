package onnx

import (
	"fmt"
	"strconv"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// SymbolID identifies a symbolic dimension minted by a SymbolRegistry.
type SymbolID int32

type dimKind uint8

const (
	dimUnknown dimKind = iota
	dimConcrete
	dimSymbolic
)

// Dim is one dimension of a Shape: a concrete size, a symbolic dimension (a SymbolID minted by a SymbolRegistry),
// or unknown.
//
// The zero value is an unknown dimension.
type Dim struct {
	kind   dimKind
	value  int
	symbol SymbolID
}

// UnknownDim is a dimension about which nothing is known. In ONNX it is emitted without value or parameter.
var UnknownDim = Dim{}

// Concrete returns a concrete dimension. Negative values return UnknownDim.
func Concrete(value int) Dim {
	if value < 0 {
		return UnknownDim
	}
	return Dim{kind: dimConcrete, value: value}
}

// IsConcrete returns whether the dimension has a known size.
func (d Dim) IsConcrete() bool { return d.kind == dimConcrete }

// IsSymbolic returns whether the dimension is a symbol.
func (d Dim) IsSymbolic() bool { return d.kind == dimSymbolic }

// IsUnknown returns whether nothing is known about the dimension.
func (d Dim) IsUnknown() bool { return d.kind == dimUnknown }

// Value returns the size of a concrete dimension, or -1 otherwise.
func (d Dim) Value() int {
	if d.kind != dimConcrete {
		return -1
	}
	return d.value
}

// Symbol returns the SymbolID of a symbolic dimension, or -1 otherwise.
func (d Dim) Symbol() SymbolID {
	if d.kind != dimSymbolic {
		return -1
	}
	return d.symbol
}

// Equal compares dimensions: concrete dimensions by value, symbolic ones by identity.
// A symbolic dimension is never equal to a concrete one, and an unknown dimension is only equal to another
// unknown dimension.
func (d Dim) Equal(other Dim) bool {
	if d.kind != other.kind {
		return false
	}
	switch d.kind {
	case dimConcrete:
		return d.value == other.value
	case dimSymbolic:
		return d.symbol == other.symbol
	default:
		return true
	}
}

// String implements fmt.Stringer. Symbols are printed by their id; use SymbolRegistry.Format for their names.
func (d Dim) String() string {
	switch d.kind {
	case dimConcrete:
		return strconv.Itoa(d.value)
	case dimSymbolic:
		return fmt.Sprintf("#%d", d.symbol)
	default:
		return "?"
	}
}

type symbolEntry struct {
	key    string
	native string
}

// SymbolRegistry mints symbolic dimensions and maps them to the canonical names used in the ONNX model
// (as dim_param), along with the tensor/axis where each was seen.
//
// One registry is shared by a builder and all its function and subgraph builders, so the same symbol is emitted
// with the same name in every scope.
type SymbolRegistry struct {
	symbols    []symbolEntry
	keyToID    map[string]SymbolID
	names      map[SymbolID]string
	namesByKey map[string]string

	origins      map[SymbolID]DimOrigin
	originsByKey map[string]DimOrigin

	fallbacks int
}

// NewSymbolRegistry creates an empty registry.
func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{
		keyToID:      make(map[string]SymbolID),
		names:        make(map[SymbolID]string),
		namesByKey:   make(map[string]string),
		origins:      make(map[SymbolID]DimOrigin),
		originsByKey: make(map[string]DimOrigin),
	}
}

// Intern returns the symbolic dimension for the given host key (the string form of the host's dimension object),
// minting it on first use.
func (r *SymbolRegistry) Intern(key string) Dim {
	if key == "" {
		exceptions.Panicf("SymbolRegistry.Intern requires a non-empty key")
	}
	if id, found := r.keyToID[key]; found {
		return Dim{kind: dimSymbolic, symbol: id}
	}
	id := SymbolID(len(r.symbols))
	r.symbols = append(r.symbols, symbolEntry{key: key})
	r.keyToID[key] = id
	return Dim{kind: dimSymbolic, symbol: id}
}

// InternNative is like Intern, but also records the symbol name the host framework attached to the dimension.
// It is used by Canonicalize when no explicit name was set.
func (r *SymbolRegistry) InternNative(key, nativeSymbol string) Dim {
	d := r.Intern(key)
	if nativeSymbol != "" {
		r.symbols[d.symbol].native = nativeSymbol
	}
	return d
}

func (r *SymbolRegistry) entry(d Dim) *symbolEntry {
	if !d.IsSymbolic() || int(d.symbol) >= len(r.symbols) {
		exceptions.Panicf("dimension %s is not a symbol of this registry", d)
	}
	return &r.symbols[d.symbol]
}

// Key returns the host key the symbol was interned with.
func (r *SymbolRegistry) Key(d Dim) string {
	return r.entry(d).key
}

// SetName sets the canonical name of the symbolic dimension.
func (r *SymbolRegistry) SetName(d Dim, name string) {
	_ = r.entry(d)
	r.names[d.symbol] = name
}

// SetNameForKey sets the canonical name for the symbol with the given host key, whether or not it was already
// interned.
func (r *SymbolRegistry) SetNameForKey(key, name string) {
	r.namesByKey[key] = name
}

// Canonicalize returns the ONNX representation of the dimension: (value, "") for concrete dimensions,
// (-1, name) for symbolic dimensions and (-1, "") for unknown ones.
//
// Symbol names are looked up, in order: by identity, by host key, by the native symbol attribute. If none is
// found the host key is used verbatim and becomes the symbol's name; these fallbacks are logged and counted
// (see Fallbacks).
func (r *SymbolRegistry) Canonicalize(d Dim) (value int, name string) {
	switch {
	case d.IsConcrete():
		return d.value, ""
	case d.IsUnknown():
		return -1, ""
	}
	entry := r.entry(d)
	if name, found := r.names[d.symbol]; found {
		return -1, name
	}
	if name, found := r.namesByKey[entry.key]; found {
		return -1, name
	}
	if entry.native != "" {
		return -1, entry.native
	}
	r.fallbacks++
	klog.V(1).Infof("symbolic dimension %s has no registered name, using its key %q", d, entry.key)
	r.names[d.symbol] = entry.key
	return -1, entry.key
}

// Fallbacks returns how many symbols were named after their host key because nothing else was known about them.
func (r *SymbolRegistry) Fallbacks() int {
	return r.fallbacks
}

// RegisterOrigin records that the dimension was seen on the given tensor and axis. Concrete and unknown
// dimensions are ignored. The last registration wins.
func (r *SymbolRegistry) RegisterOrigin(d Dim, tensor string, axis int) {
	if !d.IsSymbolic() {
		return
	}
	entry := r.entry(d)
	origin := DimOrigin{Tensor: tensor, Axis: axis}
	r.origins[d.symbol] = origin
	r.originsByKey[entry.key] = origin
}

// RegisterShapeOrigins calls RegisterOrigin for every axis of the shape.
func (r *SymbolRegistry) RegisterShapeOrigins(tensor string, shape Shape) {
	for axis, d := range shape {
		r.RegisterOrigin(d, tensor, axis)
	}
}

// Origin returns where the symbolic dimension was seen, looking it up by identity and then by host key.
func (r *SymbolRegistry) Origin(d Dim) (DimOrigin, bool) {
	if !d.IsSymbolic() {
		return DimOrigin{}, false
	}
	if origin, found := r.origins[d.symbol]; found {
		return origin, true
	}
	return r.OriginByKey(r.entry(d).key)
}

// OriginByKey returns where the symbol with the given host key was seen.
func (r *SymbolRegistry) OriginByKey(key string) (DimOrigin, bool) {
	origin, found := r.originsByKey[key]
	return origin, found
}

// Format returns the shape as a string, using the canonical names of the symbols.
func (r *SymbolRegistry) Format(shape Shape) string {
	parts := make([]string, len(shape))
	for axis, d := range shape {
		if d.IsSymbolic() {
			_, parts[axis] = r.Canonicalize(d)
		} else {
			parts[axis] = d.String()
		}
	}
	return formatDims(parts)
}

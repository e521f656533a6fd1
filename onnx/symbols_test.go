package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDim(t *testing.T) {
	assert.True(t, Concrete(3).IsConcrete())
	assert.Equal(t, 3, Concrete(3).Value())
	assert.True(t, Concrete(-1).IsUnknown())
	assert.True(t, UnknownDim.Equal(Dim{}))
	assert.False(t, UnknownDim.Equal(Concrete(0)))
	assert.Equal(t, "?", UnknownDim.String())
	assert.Equal(t, -1, UnknownDim.Value())
	assert.Equal(t, SymbolID(-1), Concrete(2).Symbol())

	r := NewSymbolRegistry()
	batch := r.Intern("s0")
	assert.True(t, batch.IsSymbolic())
	assert.Equal(t, -1, batch.Value())
	assert.True(t, batch.Equal(r.Intern("s0")), "interning the same key must return the same symbol")
	assert.False(t, batch.Equal(r.Intern("s1")))
	assert.False(t, batch.Equal(Concrete(0)))
	assert.Equal(t, "s0", r.Key(batch))
	require.Panics(t, func() { r.Intern("") })
}

func TestSymbolRegistryCanonicalize(t *testing.T) {
	r := NewSymbolRegistry()

	t.Run("Concrete", func(t *testing.T) {
		value, name := r.Canonicalize(Concrete(7))
		assert.Equal(t, 7, value)
		assert.Empty(t, name)
		value, name = r.Canonicalize(Concrete(0))
		assert.Equal(t, 0, value)
		assert.Empty(t, name)
	})

	t.Run("Unknown", func(t *testing.T) {
		value, name := r.Canonicalize(UnknownDim)
		assert.Equal(t, -1, value)
		assert.Empty(t, name)
	})

	t.Run("ByIdentity", func(t *testing.T) {
		d := r.Intern("b0")
		r.SetNameForKey("b0", "by_key")
		r.SetName(d, "batch")
		_, name := r.Canonicalize(d)
		assert.Equal(t, "batch", name)
	})

	t.Run("ByKey", func(t *testing.T) {
		r.SetNameForKey("seq_key", "seq_len")
		d := r.InternNative("seq_key", "native_seq")
		_, name := r.Canonicalize(d)
		assert.Equal(t, "seq_len", name)
	})

	t.Run("ByNativeSymbol", func(t *testing.T) {
		d := r.InternNative("h0", "height")
		_, name := r.Canonicalize(d)
		assert.Equal(t, "height", name)
	})

	t.Run("Fallback", func(t *testing.T) {
		before := r.Fallbacks()
		d := r.Intern("mystery")
		_, name := r.Canonicalize(d)
		assert.Equal(t, "mystery", name)
		assert.Equal(t, before+1, r.Fallbacks())

		// Once named, it is stable and no longer a fallback.
		_, name = r.Canonicalize(d)
		assert.Equal(t, "mystery", name)
		assert.Equal(t, before+1, r.Fallbacks())
	})

	t.Run("ForeignDim", func(t *testing.T) {
		other := NewSymbolRegistry()
		other.Intern("x")
		foreign := other.Intern("y")
		require.Panics(t, func() { NewSymbolRegistry().Canonicalize(foreign) })
	})
}

func TestSymbolRegistryOrigins(t *testing.T) {
	r := NewSymbolRegistry()
	batch := r.Intern("batch_key")
	r.SetName(batch, "batch")

	_, found := r.Origin(batch)
	assert.False(t, found)

	r.RegisterShapeOrigins("x", Shape{batch, Concrete(4)})
	origin, found := r.Origin(batch)
	require.True(t, found)
	assert.Equal(t, DimOrigin{Tensor: "x", Axis: 0}, origin)

	// Last registration wins, and it's also found by key.
	r.RegisterOrigin(batch, "y", 1)
	origin, found = r.OriginByKey("batch_key")
	require.True(t, found)
	assert.Equal(t, DimOrigin{Tensor: "y", Axis: 1}, origin)

	// Concrete dimensions are ignored.
	r.RegisterOrigin(Concrete(3), "z", 0)
	_, found = r.Origin(Concrete(3))
	assert.False(t, found)

	assert.Equal(t, "(batch, 4, ?)", r.Format(Shape{batch, Concrete(4), UnknownDim}))
	assert.Equal(t, "()", r.Format(nil))
}

package onnx

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// This file defines exporting GoMLX variables (e.g. trained weights) as initializers of the ONNX model.

// InitializerName returns the ONNX initializer name used for a GoMLX variable: its scope and name, without the
// leading scope separator.
func InitializerName(v *context.Variable) string {
	return strings.TrimPrefix(v.ScopeAndName(), context.ScopeSeparator)
}

// AddInitializersFromContext adds every variable in the current scope of ctx (and its sub-scopes) as an
// initializer named with InitializerName. It returns the names of the initializers, in enumeration order.
//
// Initializers that end up not being used by any node are dropped by Finalize.
func (b *Builder) AddInitializersFromContext(ctx *context.Context) (names []string, err error) {
	ctx.EnumerateVariablesInScope(func(v *context.Variable) {
		if err != nil {
			return
		}
		var value *tensors.Tensor
		value, err = v.Value()
		if err != nil {
			err = errors.WithMessagef(err, "Builder.AddInitializersFromContext(): reading variable %q", v.ScopeAndName())
			return
		}
		names = append(names, b.AddInitializer(InitializerName(v), value))
	})
	return
}

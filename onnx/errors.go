package onnx

import "github.com/pkg/errors"

// Errors returned (wrapped) by the builder and the scatter legalizer. Use errors.Is to test for them.
var (
	// ErrMissingMetadata is returned when a tensor referenced by a node has no value-info (shape and dtype).
	ErrMissingMetadata = errors.New("missing value-info metadata")

	// ErrNotTopologicallySorted is returned when a node consumes a name that is not available at that point.
	ErrNotTopologicallySorted = errors.New("graph is not topologically sorted")

	// ErrUnsupportedScatterLayout is returned when the scatter dimension numbers (or the indices shape)
	// can't be mapped to the ScatterND canonical form.
	ErrUnsupportedScatterLayout = errors.New("unsupported scatter layout")

	// ErrUpdatesShapeMismatch is returned when the scatter updates can't be reconciled with the expected
	// updates shape.
	ErrUpdatesShapeMismatch = errors.New("scatter updates shape mismatch")

	// ErrDuplicateFunctionName is not fatal: it is reported in Model.Warnings when two different function bodies
	// were registered under the same name.
	ErrDuplicateFunctionName = errors.New("duplicate function name")

	// ErrSealed is raised when a sealed builder is modified.
	ErrSealed = errors.New("builder is sealed")
)

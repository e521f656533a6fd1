package onnx

// Origin tags where a value-info record came from. It is free text, but the builder itself only uses the
// constants below.
type Origin string

const (
	// OriginTraced is used for values declared while translating the traced graph.
	OriginTraced Origin = "traced"

	// OriginCallParameter is used for scalar call parameters (e.g. a "deterministic" flag) added as inputs.
	OriginCallParameter Origin = "call_parameter"

	// OriginFunctionParamAuto is used for function parameters whose metadata had to be registered automatically.
	OriginFunctionParamAuto Origin = "function_param_auto"

	// OriginFunctionParamForced is used for function parameters whose dtype is forced (the deterministic flag).
	OriginFunctionParamForced Origin = "function_param_forced"

	// OriginDeterministicFlag is used for deterministic flags found without metadata during finalization.
	OriginDeterministicFlag Origin = "auto-registered deterministic flag"

	// OriginConstant is used for interned constants.
	OriginConstant Origin = "constant"

	// OriginInitializer is used for initializers added explicitly (e.g. model weights).
	OriginInitializer Origin = "initializer"
)

// String implements fmt.Stringer.
func (o Origin) String() string {
	if o == "" {
		return "unknown"
	}
	return string(o)
}

// DimOrigin tells which tensor and axis a symbolic dimension was first (or last) seen on.
type DimOrigin struct {
	Tensor string
	Axis   int
}

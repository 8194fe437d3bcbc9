package mixedprecision

// Color classifies how an operator relates to the target precision.
type Color int

// Color values for operator classification.
const (
	// Gray operators follow their inputs: they run at the target
	// precision only when every floating input already arrives there.
	Gray Color = iota

	// Green operators always run at the target precision; their floating
	// inputs are converted unconditionally.
	Green

	// Red operators never run at the target precision; floating inputs
	// that arrive converted are converted back.
	Red
)

func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Gray:
		return "gray"
	case Red:
		return "red"
	}
	return "unknown"
}

// ParseColor maps a configuration string to a Color.
func ParseColor(s string) (Color, bool) {
	switch s {
	case "green":
		return Green, true
	case "gray", "grey":
		return Gray, true
	case "red":
		return Red, true
	}
	return Gray, false
}

// defaultGreenOps always benefit from reduced precision: dense reductions
// whose kernels dominate runtime.
var defaultGreenOps = []string{
	"conv1d",
	"conv1d_transpose",
	"conv2d",
	"conv2d_transpose",
	"conv3d",
	"conv3d_transpose",
	"dense",
	"batch_matmul",
}

// defaultGrayOps are cheap elementwise, shape, and normalization operators
// that are precision-agnostic and simply follow their inputs.
var defaultGrayOps = []string{
	"add",
	"subtract",
	"multiply",
	"divide",
	"maximum",
	"minimum",
	"negative",
	"bias_add",
	"batch_norm",
	"relu",
	"sigmoid",
	"tanh",
	"clip",
	"concatenate",
	"split",
	"reshape",
	"transpose",
	"squeeze",
	"strided_slice",
	"pad",
	"max_pool2d",
	"avg_pool2d",
	"global_avg_pool2d",
	OpCastAlias,
}

// defaultRedOps are numerically delicate at reduced precision: wide
// reductions, exponentials, and index-producing operators.
var defaultRedOps = []string{
	"softmax",
	"log_softmax",
	"exp",
	"log",
	"power",
	"erf",
	"sum",
	"mean",
	"variance",
	"arange",
}

// OpCastAlias is the conversion operator's registry name. Conversions are
// gray so an existing cast in the input graph is carried, not re-colored.
const OpCastAlias = "cast"

// Registry maps operator identities to colors and accumulation rules. A
// Registry is immutable after construction and safe to share between
// concurrent pass invocations.
type Registry struct {
	colors       map[string]Color
	accum        map[string]AccumulationPolicy
	defaultColor Color
}

// NewRegistry builds the built-in registry with optional caller overrides
// applied on top. Overrides win over built-in classifications.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		colors:       make(map[string]Color),
		accum:        make(map[string]AccumulationPolicy),
		defaultColor: opts.DefaultColor,
	}
	for _, op := range defaultGreenOps {
		r.colors[op] = Green
	}
	for _, op := range defaultGrayOps {
		r.colors[op] = Gray
	}
	for _, op := range defaultRedOps {
		r.colors[op] = Red
	}
	for _, op := range defaultTargetAccumOps {
		r.accum[op] = TargetAccumulation
	}
	for op, c := range opts.Colors {
		r.colors[op] = c
	}
	for op, p := range opts.Accumulation {
		r.accum[op] = p
	}
	return r
}

// Classify returns the operator's color and whether the operator was
// explicitly listed. Unlisted operators fall back to the registry default
// so the caller can surface a diagnostic.
func (r *Registry) Classify(op string) (Color, bool) {
	if c, ok := r.colors[op]; ok {
		return c, true
	}
	return r.defaultColor, false
}

// AccumulationRule returns the operator's accumulation policy, falling
// back to the global default.
func (r *Registry) AccumulationRule(op string) AccumulationPolicy {
	if p, ok := r.accum[op]; ok {
		return p
	}
	return DefaultAccumulation
}

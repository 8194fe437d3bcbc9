package mixedprecision

import (
	"github.com/nvr-ai/go-amp/relay"
)

// DTypeChoice is the set of dtypes an accumulation policy picks for one
// rewritten operator: the dtype its floating inputs are converted to, the
// dtype it accumulates in internally, and the dtype it declares as output.
type DTypeChoice struct {
	Input  relay.DType
	Accum  relay.DType
	Output relay.DType
}

// AccumulationPolicy decides the dtypes for an operator given its final
// color decision, the pass target dtype, and the operator's original
// output dtype.
type AccumulationPolicy func(decision Color, target, original relay.DType) DTypeChoice

// DefaultAccumulation is the global rule. Green operators take converted
// inputs and declare target-typed output but accumulate at the wider of
// original and target dtype, limiting drift inside long reductions. Red
// operators keep everything at the original dtype. Gray operators pass
// through: whatever dtype the decision settled on is used throughout.
func DefaultAccumulation(decision Color, target, original relay.DType) DTypeChoice {
	switch decision {
	case Green:
		return DTypeChoice{
			Input:  target,
			Accum:  original.Wider(target),
			Output: target,
		}
	case Red:
		return DTypeChoice{Input: original, Accum: original, Output: original}
	default:
		return DTypeChoice{Input: target, Accum: target, Output: target}
	}
}

// TargetAccumulation accumulates directly at the target dtype. Some
// execution backends cannot mix accumulation and output dtypes for the
// batched matmul family, so those operators trade a little accuracy for
// portability.
func TargetAccumulation(decision Color, target, original relay.DType) DTypeChoice {
	choice := DefaultAccumulation(decision, target, original)
	if decision == Green {
		choice.Accum = target
	}
	return choice
}

// defaultTargetAccumOps override DefaultAccumulation with
// TargetAccumulation. The list is a backend-capability compromise, not an
// accuracy preference.
var defaultTargetAccumOps = []string{
	"batch_matmul",
}

// accumSensitiveOps carry an explicit out_dtype/acc_dtype attribute pair
// in the rewritten graph; other operators accumulate in their output
// dtype and need no attribute.
var accumSensitiveOps = map[string]bool{
	"conv1d":           true,
	"conv1d_transpose": true,
	"conv2d":           true,
	"conv2d_transpose": true,
	"conv3d":           true,
	"conv3d_transpose": true,
	"dense":            true,
	"batch_matmul":     true,
}

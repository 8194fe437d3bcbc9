// Package interp - A reference evaluator for relay graphs over concrete
// tensors, with faithful emulation of reduced-precision dtypes.
//
// All arithmetic runs in float64 and results are rounded through the
// logical dtype after every step, so a float16 graph drifts numerically
// the way a real binary16 kernel would. Values are gorgonia tensors;
// float16 results are stored in float32 backing after rounding through
// IEEE binary16.
package interp

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-amp/relay"
)

// rounder narrows a float64 to a dtype's representable value.
type rounder func(float64) float64

func roundTo(dt relay.DType) rounder {
	switch dt {
	case relay.DTypeFloat16:
		return func(v float64) float64 {
			return float64(float16.Fromfloat32(float32(v)).Float32())
		}
	case relay.DTypeFloat32:
		return func(v float64) float64 { return float64(float32(v)) }
	default:
		return func(v float64) float64 { return v }
	}
}

// toFloat64s flattens a dense tensor's backing to float64, whatever its
// storage type.
func toFloat64s(d *tensor.Dense) ([]float64, error) {
	switch data := d.Data().(type) {
	case []float64:
		return data, nil
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	case float64:
		return []float64{data}, nil
	case float32:
		return []float64{float64(data)}, nil
	case []bool:
		out := make([]float64, len(data))
		for i, v := range data {
			if v {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported tensor backing %T", data)
	}
}

// fromFloat64s materializes values as a dense tensor of the logical dtype,
// rounding each element. Sub-float32 dtypes are stored in float32 backing.
func fromFloat64s(vals []float64, shape relay.Shape, dt relay.DType) *tensor.Dense {
	round := roundTo(dt)
	dims := append([]int(nil), shape...)
	if len(dims) == 0 {
		dims = []int{1}
	}
	if dt == relay.DTypeFloat64 {
		backing := make([]float64, len(vals))
		for i, v := range vals {
			backing[i] = round(v)
		}
		return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
	}
	backing := make([]float32, len(vals))
	for i, v := range vals {
		backing[i] = float32(round(v))
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

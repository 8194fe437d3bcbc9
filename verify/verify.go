// Package verify - Numeric-closeness checks between reference executions
// of an original graph and its rewritten form.
package verify

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-amp/interp"
	"github.com/nvr-ai/go-amp/relay"
)

// AllClose checks |got - want| <= atol + rtol*|want| elementwise and
// returns a descriptive error on the first violation.
func AllClose(got, want *tensor.Dense, rtol, atol float64) error {
	g, err := flatten(got)
	if err != nil {
		return err
	}
	w, err := flatten(want)
	if err != nil {
		return err
	}
	if len(g) != len(w) {
		return errors.Errorf("size mismatch: got %d elements, want %d", len(g), len(w))
	}
	for i := range g {
		diff := math.Abs(g[i] - w[i])
		if diff > atol+rtol*math.Abs(w[i]) {
			return errors.Errorf("element %d differs: got %v, want %v (|diff|=%v, rtol=%v, atol=%v)",
				i, g[i], w[i], diff, rtol, atol)
		}
	}
	return nil
}

// CompareModules executes both modules' main entries on the same
// parameters and checks the outputs are close.
func CompareModules(orig, rewritten *relay.Module, params map[string]*tensor.Dense, rtol, atol float64) error {
	want, err := interp.Eval(orig, params)
	if err != nil {
		return errors.Wrap(err, "evaluating original")
	}
	got, err := interp.Eval(rewritten, params)
	if err != nil {
		return errors.Wrap(err, "evaluating rewritten")
	}
	return AllClose(got, want, rtol, atol)
}

func flatten(d *tensor.Dense) ([]float64, error) {
	switch data := d.Data().(type) {
	case []float64:
		return data, nil
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported tensor backing %T", data)
	}
}

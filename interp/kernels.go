package interp

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-amp/relay"
)

func applyKernel(c *relay.Call, args []*tensor.Dense) (*tensor.Dense, error) {
	switch c.Op {
	case relay.OpCast:
		return castKernel(c, args[0])
	case "conv2d":
		return conv2dKernel(c, args[0], args[1])
	case "dense":
		return denseKernel(c, args[0], args[1])
	case "batch_matmul":
		return batchMatmulKernel(c, args[0], args[1])
	case "add":
		return binaryKernel(c, args, func(a, b float64) float64 { return a + b })
	case "subtract":
		return binaryKernel(c, args, func(a, b float64) float64 { return a - b })
	case "multiply":
		return binaryKernel(c, args, func(a, b float64) float64 { return a * b })
	case "divide":
		return binaryKernel(c, args, func(a, b float64) float64 { return a / b })
	case "maximum":
		return binaryKernel(c, args, math.Max)
	case "minimum":
		return binaryKernel(c, args, math.Min)
	case "negative":
		return unaryKernel(c, args[0], func(v float64) float64 { return -v }, nil)
	case "relu":
		return unaryKernel(c, args[0], func(v float64) float64 { return math.Max(v, 0) }, nil)
	case "sigmoid":
		return unaryKernel(c, args[0],
			func(v float64) float64 { return 1 / (1 + math.Exp(-v)) },
			func(v float32) float32 { return 1 / (1 + math32.Exp(-v)) })
	case "tanh":
		return unaryKernel(c, args[0], math.Tanh, math32.Tanh)
	case "exp":
		return unaryKernel(c, args[0], math.Exp, math32.Exp)
	case "log":
		return unaryKernel(c, args[0], math.Log, math32.Log)
	case "softmax":
		return softmaxKernel(c, args[0])
	case "arange":
		return arangeKernel(c)
	case "concatenate":
		return concatKernel(c, args)
	}
	return nil, errors.Errorf("no kernel for operator %q", c.Op)
}

func castKernel(c *relay.Call, in *tensor.Dense) (*tensor.Dense, error) {
	vals, err := toFloat64s(in)
	if err != nil {
		return nil, err
	}
	return fromFloat64s(vals, c.Type().Shape, c.Type().DType), nil
}

// accDType is the dtype an accumulating kernel sums in: the explicit
// attribute when the rewrite stamped one, otherwise the declared output.
func accDType(c *relay.Call) relay.DType {
	if dt := c.AttrDType("acc_dtype"); dt.Resolved() {
		return dt
	}
	if dt := c.AttrDType("out_dtype"); dt.Resolved() {
		return dt
	}
	return c.Type().DType
}

func attrInts(c *relay.Call, key string, fallback []int) []int {
	if c.Attrs == nil {
		return fallback
	}
	if v, ok := c.Attrs[key].([]int); ok {
		return v
	}
	return fallback
}

// conv2dKernel is a direct NCHW convolution. Partial sums are rounded
// through the accumulation dtype at every step so reduced-precision
// accumulation is observable.
func conv2dKernel(c *relay.Call, data, weight *tensor.Dense) (*tensor.Dense, error) {
	x, err := toFloat64s(data)
	if err != nil {
		return nil, err
	}
	w, err := toFloat64s(weight)
	if err != nil {
		return nil, err
	}
	ds, ws := data.Shape(), weight.Shape()
	if len(ds) != 4 || len(ws) != 4 {
		return nil, errors.Errorf("conv2d wants rank-4 operands, got %v and %v", ds, ws)
	}
	n, ci, h, wd := ds[0], ds[1], ds[2], ds[3]
	co, ck, kh, kw := ws[0], ws[1], ws[2], ws[3]
	if ck != ci {
		return nil, errors.Errorf("conv2d channel mismatch: data %d, weight %d", ci, ck)
	}
	strides := attrInts(c, "strides", []int{1, 1})
	padding := attrInts(c, "padding", []int{0, 0})
	sh, sw := strides[0], strides[1]
	ph, pw := padding[0], padding[1]

	oh := (h+2*ph-kh)/sh + 1
	ow := (wd+2*pw-kw)/sw + 1
	acc := roundTo(accDType(c))

	out := make([]float64, n*co*oh*ow)
	idx := 0
	for b := 0; b < n; b++ {
		for oc := 0; oc < co; oc++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					sum := 0.0
					for ic := 0; ic < ci; ic++ {
						for ky := 0; ky < kh; ky++ {
							iy := oy*sh + ky - ph
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ox*sw + kx - pw
								if ix < 0 || ix >= wd {
									continue
								}
								xv := x[((b*ci+ic)*h+iy)*wd+ix]
								wv := w[((oc*ci+ic)*kh+ky)*kw+kx]
								sum = acc(sum + acc(xv*wv))
							}
						}
					}
					out[idx] = sum
					idx++
				}
			}
		}
	}
	return fromFloat64s(out, relay.Shape{n, co, oh, ow}, c.Type().DType), nil
}

// denseKernel computes data · weightᵀ: data is (batch, in), weight is
// (units, in).
func denseKernel(c *relay.Call, data, weight *tensor.Dense) (*tensor.Dense, error) {
	x, err := toFloat64s(data)
	if err != nil {
		return nil, err
	}
	w, err := toFloat64s(weight)
	if err != nil {
		return nil, err
	}
	ds, ws := data.Shape(), weight.Shape()
	if len(ds) != 2 || len(ws) != 2 || ds[1] != ws[1] {
		return nil, errors.Errorf("dense shape mismatch: %v x %v", ds, ws)
	}
	batch, in, units := ds[0], ds[1], ws[0]
	acc := roundTo(accDType(c))

	out := make([]float64, batch*units)
	for b := 0; b < batch; b++ {
		for u := 0; u < units; u++ {
			sum := 0.0
			for k := 0; k < in; k++ {
				sum = acc(sum + acc(x[b*in+k]*w[u*in+k]))
			}
			out[b*units+u] = sum
		}
	}
	return fromFloat64s(out, relay.Shape{batch, units}, c.Type().DType), nil
}

// batchMatmulKernel computes A · Bᵀ per batch: A is (b, m, k), B is
// (b, n, k).
func batchMatmulKernel(c *relay.Call, a, bt *tensor.Dense) (*tensor.Dense, error) {
	x, err := toFloat64s(a)
	if err != nil {
		return nil, err
	}
	y, err := toFloat64s(bt)
	if err != nil {
		return nil, err
	}
	as, bs := a.Shape(), bt.Shape()
	if len(as) != 3 || len(bs) != 3 || as[0] != bs[0] || as[2] != bs[2] {
		return nil, errors.Errorf("batch_matmul shape mismatch: %v x %v", as, bs)
	}
	batch, m, k, n := as[0], as[1], as[2], bs[1]
	acc := roundTo(accDType(c))

	out := make([]float64, batch*m*n)
	for b := 0; b < batch; b++ {
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				sum := 0.0
				for l := 0; l < k; l++ {
					sum = acc(sum + acc(x[(b*m+i)*k+l]*y[(b*n+j)*k+l]))
				}
				out[(b*m+i)*n+j] = sum
			}
		}
	}
	return fromFloat64s(out, relay.Shape{batch, m, n}, c.Type().DType), nil
}

func binaryKernel(c *relay.Call, args []*tensor.Dense, f func(a, b float64) float64) (*tensor.Dense, error) {
	a, err := toFloat64s(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toFloat64s(args[1])
	if err != nil {
		return nil, err
	}
	switch {
	case len(a) == len(b):
	case len(b) == 1:
		s := b[0]
		b = make([]float64, len(a))
		for i := range b {
			b[i] = s
		}
	case len(a) == 1:
		s := a[0]
		a = make([]float64, len(b))
		for i := range a {
			a[i] = s
		}
	default:
		return nil, errors.Errorf("%s operand sizes differ: %d vs %d", c.Op, len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = f(a[i], b[i])
	}
	return fromFloat64s(out, c.Type().Shape, c.Type().DType), nil
}

// unaryKernel applies f elementwise. When the value is held in float32
// storage and a float32 variant is supplied, the narrow variant is used so
// single-precision transcendentals match real kernels.
func unaryKernel(c *relay.Call, in *tensor.Dense, f func(float64) float64, f32 func(float32) float32) (*tensor.Dense, error) {
	if data, ok := in.Data().([]float32); ok && f32 != nil && c.Type().DType == relay.DTypeFloat32 {
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(f32(v))
		}
		return fromFloat64s(out, c.Type().Shape, c.Type().DType), nil
	}
	vals, err := toFloat64s(in)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = f(v)
	}
	return fromFloat64s(out, c.Type().Shape, c.Type().DType), nil
}

// softmaxKernel normalizes along the last axis with the usual max-shift
// for stability.
func softmaxKernel(c *relay.Call, in *tensor.Dense) (*tensor.Dense, error) {
	vals, err := toFloat64s(in)
	if err != nil {
		return nil, err
	}
	shape := c.Type().Shape
	last := 1
	if len(shape) > 0 {
		last = shape[len(shape)-1]
	}
	out := make([]float64, len(vals))
	for off := 0; off < len(vals); off += last {
		row := vals[off : off+last]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for i, v := range row {
			e := math.Exp(v - max)
			out[off+i] = e
			sum += e
		}
		for i := range row {
			out[off+i] /= sum
		}
	}
	return fromFloat64s(out, shape, c.Type().DType), nil
}

func arangeKernel(c *relay.Call) (*tensor.Dense, error) {
	start, _ := c.Attrs["start"].(float64)
	stop, ok := c.Attrs["stop"].(float64)
	if !ok {
		return nil, errors.New("arange without a stop attribute")
	}
	step, ok := c.Attrs["step"].(float64)
	if !ok {
		step = 1
	}
	var out []float64
	for v := start; v < stop; v += step {
		out = append(out, v)
	}
	return fromFloat64s(out, relay.Shape{len(out)}, c.Type().DType), nil
}

func concatKernel(c *relay.Call, args []*tensor.Dense) (*tensor.Dense, error) {
	// Last-axis concatenation over equal leading dimensions is all the
	// fixtures need.
	var out []float64
	rows := 1
	shape := c.Type().Shape
	for _, d := range shape[:len(shape)-1] {
		rows *= d
	}
	parts := make([][]float64, len(args))
	widths := make([]int, len(args))
	for i, a := range args {
		vals, err := toFloat64s(a)
		if err != nil {
			return nil, err
		}
		parts[i] = vals
		widths[i] = len(vals) / rows
	}
	for r := 0; r < rows; r++ {
		for i, p := range parts {
			out = append(out, p[r*widths[i]:(r+1)*widths[i]]...)
		}
	}
	return fromFloat64s(out, shape, c.Type().DType), nil
}

func whereKernel(w *relay.Where, cond, then, els *tensor.Dense) (*tensor.Dense, error) {
	cv, err := toFloat64s(cond)
	if err != nil {
		return nil, err
	}
	tv, err := toFloat64s(then)
	if err != nil {
		return nil, err
	}
	ev, err := toFloat64s(els)
	if err != nil {
		return nil, err
	}
	if len(tv) != len(ev) || len(cv) != len(tv) {
		return nil, errors.Errorf("where operand sizes differ: cond %d, arms %d/%d", len(cv), len(tv), len(ev))
	}
	out := make([]float64, len(tv))
	for i := range out {
		if cv[i] != 0 {
			out[i] = tv[i]
		} else {
			out[i] = ev[i]
		}
	}
	return fromFloat64s(out, w.Type().Shape, w.Type().DType), nil
}

// Package workloads - Graph fixtures used by pass and evaluator tests:
// small convolution and dense networks plus an unrolled recurrent cell
// chain that stresses scoped bindings.
package workloads

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-amp/relay"
)

// RandomDense builds a float32 tensor of the given shape with uniform
// values in [lo, hi).
func RandomDense(rng *rand.Rand, shape relay.Shape, lo, hi float32) *tensor.Dense {
	backing := make([]float32, shape.Elems())
	for i := range backing {
		backing[i] = lo + rng.Float32()*(hi-lo)
	}
	return tensor.New(tensor.WithShape([]int(shape)...), tensor.WithBacking(backing))
}

// Conv2D builds a conv2d call with the usual attribute set.
func Conv2D(data, weight relay.Expr, strides, padding []int, outDType relay.DType) *relay.Call {
	ds, ws := data.Type().Shape, weight.Type().Shape
	oh := (ds[2]+2*padding[0]-ws[2])/strides[0] + 1
	ow := (ds[3]+2*padding[1]-ws[3])/strides[1] + 1
	return relay.NewCall("conv2d",
		[]relay.Expr{data, weight},
		relay.Attrs{"strides": strides, "padding": padding, "out_dtype": outDType},
		relay.TensorType{Shape: relay.Shape{ds[0], ws[0], oh, ow}, DType: outDType})
}

// Dense builds a dense (data · weightᵀ) call.
func Dense(data, weight relay.Expr, outDType relay.DType) *relay.Call {
	ds, ws := data.Type().Shape, weight.Type().Shape
	return relay.NewCall("dense",
		[]relay.Expr{data, weight},
		relay.Attrs{"units": ws[0], "out_dtype": outDType},
		relay.TensorType{Shape: relay.Shape{ds[0], ws[0]}, DType: outDType})
}

// BatchMatmul builds a batched A · Bᵀ call.
func BatchMatmul(a, b relay.Expr, outDType relay.DType) *relay.Call {
	as, bs := a.Type().Shape, b.Type().Shape
	return relay.NewCall("batch_matmul",
		[]relay.Expr{a, b},
		relay.Attrs{"out_dtype": outDType},
		relay.TensorType{Shape: relay.Shape{as[0], as[1], bs[1]}, DType: outDType})
}

// Elementwise builds a same-shape elementwise binary call.
func Elementwise(op string, a, b relay.Expr) *relay.Call {
	return relay.NewCall(op, []relay.Expr{a, b}, nil, a.Type())
}

// Unary builds an elementwise unary call.
func Unary(op string, a relay.Expr) *relay.Call {
	return relay.NewCall(op, []relay.Expr{a}, nil, a.Type())
}

// SingleConv is a single conv2d over float32 inputs: the canonical
// green-operator fixture.
func SingleConv(dataShape, weightShape relay.Shape) *relay.Module {
	data := relay.NewVar("data", dataShape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", weightShape, relay.DTypeFloat32)
	conv := Conv2D(data, weight, []int{1, 1}, []int{1, 1}, relay.DTypeFloat32)
	return relay.NewModule(conv, data, weight)
}

// Softmax is a single softmax over a float32 input: the canonical red
// operator fixture.
func Softmax(shape relay.Shape) *relay.Module {
	a := relay.NewVar("a", shape, relay.DTypeFloat32)
	sm := Unary("softmax", a)
	return relay.NewModule(sm, a)
}

// DenseLetChain binds a dense result to a name, consumes it, then binds a
// second name derived from the first and consumes that too:
//
//	let v1 = dense(data, weight) in
//	let v2 = dense(v1 + v1, weight) in
//	v2 + v2
func DenseLetChain(n int) *relay.Module {
	shape := relay.Shape{1, n}
	wshape := relay.Shape{n, n}
	data := relay.NewVar("data", shape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", wshape, relay.DTypeFloat32)

	v1 := relay.NewVar("v1", shape, relay.DTypeFloat32)
	v2 := relay.NewVar("v2", shape, relay.DTypeFloat32)
	r1 := Elementwise("add", v1, v1)
	r2 := Elementwise("add", v2, v2)
	let2 := relay.NewLet(v2, Dense(r1, weight, relay.DTypeFloat32), r2)
	let1 := relay.NewLet(v1, Dense(data, weight, relay.DTypeFloat32), let2)
	return relay.NewModule(let1, data, weight)
}

// UnrolledLSTM is an iterations-long chain of gated recurrent cells, each
// step Let-binding the next hidden and cell state. It exercises green
// dense operators, gray elementwise glue, and scoped-binding re-typing at
// depth.
func UnrolledLSTM(iterations, hidden int) (*relay.Module, []*relay.Var) {
	stateShape := relay.Shape{1, hidden}
	wShape := relay.Shape{hidden, hidden}

	var params []*relay.Var
	param := func(name string) *relay.Var {
		v := relay.NewVar(name, wShape, relay.DTypeFloat32)
		params = append(params, v)
		return v
	}

	wi, ui := param("w_i"), param("u_i")
	wf, uf := param("w_f"), param("u_f")
	wo, uo := param("w_o"), param("u_o")
	wg, ug := param("w_g"), param("u_g")

	var inputs []*relay.Var
	for i := 0; i < iterations; i++ {
		name := "data"
		if i > 0 {
			name = fmt.Sprintf("data%d", i)
		}
		v := relay.NewVar(name, stateShape, relay.DTypeFloat32)
		inputs = append(inputs, v)
	}

	gate := func(x, h relay.Expr, w, u *relay.Var, activation string) relay.Expr {
		pre := Elementwise("add",
			Dense(x, w, relay.DTypeFloat32),
			Dense(h, u, relay.DTypeFloat32))
		return Unary(activation, pre)
	}

	var h, c relay.Expr
	h = relay.NewVar("h_init", stateShape, relay.DTypeFloat32)
	c = relay.NewVar("c_init", stateShape, relay.DTypeFloat32)
	params = append(params, h.(*relay.Var), c.(*relay.Var))

	var lets []func(relay.Expr) relay.Expr
	for i := 0; i < iterations; i++ {
		x := inputs[i]
		ig := gate(x, h, wi, ui, "sigmoid")
		fg := gate(x, h, wf, uf, "sigmoid")
		og := gate(x, h, wo, uo, "sigmoid")
		gg := gate(x, h, wg, ug, "tanh")

		nextC := Elementwise("add",
			Elementwise("multiply", fg, c),
			Elementwise("multiply", ig, gg))
		cVar := relay.NewVar(fmt.Sprintf("c%d", i), stateShape, relay.DTypeFloat32)
		nextH := Elementwise("multiply", og, Unary("tanh", cVar))
		hVar := relay.NewVar(fmt.Sprintf("h%d", i), stateShape, relay.DTypeFloat32)

		cv, hv := nextC, nextH
		cVarL, hVarL := cVar, hVar
		lets = append(lets, func(body relay.Expr) relay.Expr {
			return relay.NewLet(cVarL, cv, relay.NewLet(hVarL, hv, body))
		})
		c, h = cVar, hVar
	}

	body := h
	for i := len(lets) - 1; i >= 0; i-- {
		body = lets[i](body)
	}
	params = append(params, inputs...)
	return relay.NewModule(body, params...), inputs
}

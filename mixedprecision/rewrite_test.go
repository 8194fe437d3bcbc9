package mixedprecision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-amp/relay"
	"github.com/nvr-ai/go-amp/workloads"
)

var (
	convDataShape   = relay.Shape{1, 3, 32, 32}
	convWeightShape = relay.Shape{5, 3, 3, 3}
)

// expectedConv is the hand-built rewrite of a single float32 conv2d:
// both inputs converted, output at the target dtype, accumulation at acc.
func expectedConv(target, acc relay.DType) *relay.Module {
	data := relay.NewVar("data", convDataShape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", convWeightShape, relay.DTypeFloat32)
	conv := relay.NewCall("conv2d",
		[]relay.Expr{relay.Cast(data, target), relay.Cast(weight, target)},
		relay.Attrs{"strides": []int{1, 1}, "padding": []int{1, 1}, "out_dtype": target, "acc_dtype": acc},
		relay.TensorType{Shape: relay.Shape{1, 5, 32, 32}, DType: target})
	return relay.NewModule(conv, data, weight)
}

// TestRewriteSingleConv converts a green operator's inputs to the target
// dtype and keeps accumulation at the original dtype.
func TestRewriteSingleConv(t *testing.T) {
	mod := workloads.SingleConv(convDataShape, convWeightShape)

	out, report, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	assert.False(t, relay.ModulesEqual(out, mod))
	assert.True(t, relay.ModulesEqual(out, expectedConv(relay.DTypeFloat16, relay.DTypeFloat32)))
	assert.Equal(t, 2, report.CastsInserted)
	assert.Empty(t, report.Unclassified)
}

// TestRewriteSingleConvFloat64 uses a wider target; accumulation and
// output both widen with it.
func TestRewriteSingleConvFloat64(t *testing.T) {
	mod := workloads.SingleConv(convDataShape, convWeightShape)

	out, _, err := ToMixedPrecision(mod, relay.DTypeFloat64, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, relay.ModulesEqual(out, expectedConv(relay.DTypeFloat64, relay.DTypeFloat64)))
}

// TestRewriteRedUntouched leaves a red operator's graph not just
// structurally identical but referentially identical.
func TestRewriteRedUntouched(t *testing.T) {
	mod := workloads.Softmax(relay.Shape{1, 2, 3})

	out, report, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	require.Same(t, mod.Main(), out.Main())
	assert.True(t, relay.ModulesEqual(out, mod))
	assert.Equal(t, 0, report.CastsInserted)
}

// TestRewriteRedThenGrayPropagates keeps everything downstream of a red
// operator at the original dtype.
func TestRewriteRedThenGrayPropagates(t *testing.T) {
	a := relay.NewVar("a", relay.Shape{1, 2, 3}, relay.DTypeFloat32)
	sm := workloads.Unary("softmax", a)
	root := workloads.Elementwise("add", sm, sm)
	mod := relay.NewModule(root, a)

	out, _, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	require.Same(t, relay.Expr(root), out.Main())
}

// TestRewriteGreenGrayShared feeds a green output into a gray addition
// twice: the addition runs at the target dtype with no extra conversions
// and the shared input stays shared.
func TestRewriteGreenGrayShared(t *testing.T) {
	data := relay.NewVar("data", convDataShape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", convWeightShape, relay.DTypeFloat32)
	conv := workloads.Conv2D(data, weight, []int{1, 1}, []int{1, 1}, relay.DTypeFloat32)
	root := workloads.Elementwise("add", conv, conv)
	mod := relay.NewModule(root, data, weight)

	out, report, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	add, ok := out.Main().(*relay.Call)
	require.True(t, ok)
	assert.Equal(t, relay.DTypeFloat16, add.Type().DType)
	require.Same(t, add.Args[0], add.Args[1])
	assert.Equal(t, 2, report.CastsInserted)

	expected := expectedConv(relay.DTypeFloat16, relay.DTypeFloat32)
	expRoot := workloads.Elementwise("add", expected.Main(), expected.Main())
	assert.True(t, relay.StructuralEqual(out.Main(), expRoot))
}

// TestRewriteGreenRedNoExtraneousCasts puts a red softmax after a green
// conv: one conversion per conv input plus exactly one back, nothing
// else.
func TestRewriteGreenRedNoExtraneousCasts(t *testing.T) {
	data := relay.NewVar("data", convDataShape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", convWeightShape, relay.DTypeFloat32)
	conv := workloads.Conv2D(data, weight, []int{1, 1}, []int{1, 1}, relay.DTypeFloat32)
	root := workloads.Unary("softmax", conv)
	mod := relay.NewModule(root, data, weight)

	out, report, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 3, report.CastsInserted)
	assert.Equal(t, 3, relay.CountCasts(out.Main()))

	expected := expectedConv(relay.DTypeFloat16, relay.DTypeFloat32)
	expRoot := workloads.Unary("softmax", relay.Cast(expected.Main(), relay.DTypeFloat32))
	assert.True(t, relay.StructuralEqual(out.Main(), expRoot))
	assert.Equal(t, relay.DTypeFloat32, out.Main().Type().DType)
}

// TestRewriteLetChain re-types a chain of scoped bindings end to end:
// each bound variable's declared dtype follows its rewritten definition,
// and each free input is converted once at first use.
func TestRewriteLetChain(t *testing.T) {
	mod := workloads.DenseLetChain(20)

	out, report, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	// Hand-built expectation.
	shape, wshape := relay.Shape{1, 20}, relay.Shape{20, 20}
	data := relay.NewVar("data", shape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", wshape, relay.DTypeFloat32)
	dataH := relay.Cast(data, relay.DTypeFloat16)
	weightH := relay.Cast(weight, relay.DTypeFloat16)
	mkDense := func(x relay.Expr) *relay.Call {
		return relay.NewCall("dense", []relay.Expr{x, weightH},
			relay.Attrs{"units": 20, "out_dtype": relay.DTypeFloat16, "acc_dtype": relay.DTypeFloat32},
			relay.TensorType{Shape: shape, DType: relay.DTypeFloat16})
	}
	v1 := relay.NewVar("v1", shape, relay.DTypeFloat16)
	v2 := relay.NewVar("v2", shape, relay.DTypeFloat16)
	let2 := relay.NewLet(v2, mkDense(workloads.Elementwise("add", v1, v1)),
		workloads.Elementwise("add", v2, v2))
	let1 := relay.NewLet(v1, mkDense(dataH), let2)

	assert.True(t, relay.StructuralEqual(out.Main(), let1))
	assert.Equal(t, 2, report.CastsInserted)

	// Every binding observed by the body carries the re-derived dtype.
	relay.PostOrder(out.Main(), func(e relay.Expr) {
		if l, ok := e.(*relay.Let); ok {
			assert.Equal(t, l.Value.Type().DType, l.Bound.VarType.DType)
		}
	})
}

// TestRewriteWhere rewrites both arms and the condition independently;
// the condition is never converted.
func TestRewriteWhere(t *testing.T) {
	shape, wshape := relay.Shape{1, 20}, relay.Shape{20, 20}
	data := relay.NewVar("data", shape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", wshape, relay.DTypeFloat32)
	a := workloads.Dense(data, weight, relay.DTypeFloat32)
	root := relay.NewWhere(data, a, a)
	mod := relay.NewModule(root, data, weight)

	out, _, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	w, ok := out.Main().(*relay.Where)
	require.True(t, ok)
	assert.Same(t, relay.Expr(data), w.Cond)
	require.Same(t, w.Then, w.Else)
	assert.Equal(t, relay.DTypeFloat16, w.Type().DType)
}

// TestRewriteWhereUnifiesArms converts the narrower arm up when the arms
// land on different dtypes after rewriting.
func TestRewriteWhereUnifiesArms(t *testing.T) {
	shape, wshape := relay.Shape{1, 20}, relay.Shape{20, 20}
	cond := relay.NewVar("cond", shape, relay.DTypeFloat32)
	data := relay.NewVar("data", shape, relay.DTypeFloat32)
	weight := relay.NewVar("weight", wshape, relay.DTypeFloat32)
	green := workloads.Dense(data, weight, relay.DTypeFloat32)
	red := workloads.Unary("softmax", data)
	root := relay.NewWhere(cond, green, red)
	mod := relay.NewModule(root, cond, data, weight)

	out, _, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	w, ok := out.Main().(*relay.Where)
	require.True(t, ok)
	assert.Equal(t, relay.DTypeFloat32, w.Then.Type().DType)
	assert.Equal(t, relay.DTypeFloat32, w.Else.Type().DType)
	assert.Equal(t, relay.DTypeFloat32, w.Type().DType)
	assert.True(t, relay.IsCast(w.Then))
}

// TestRewriteBatchMatmul accumulates directly at the target dtype per the
// exception list.
func TestRewriteBatchMatmul(t *testing.T) {
	data := relay.NewVar("data", relay.Shape{1, 1, 20}, relay.DTypeFloat32)
	weight := relay.NewVar("weight", relay.Shape{1, 20, 20}, relay.DTypeFloat32)
	root := workloads.BatchMatmul(data, weight, relay.DTypeFloat32)
	mod := relay.NewModule(root, data, weight)

	out, _, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	bmm, ok := out.Main().(*relay.Call)
	require.True(t, ok)
	assert.Equal(t, relay.DTypeFloat16, bmm.AttrDType("acc_dtype"))
	assert.Equal(t, relay.DTypeFloat16, bmm.AttrDType("out_dtype"))
	assert.Equal(t, relay.DTypeFloat16, bmm.Type().DType)
}

// TestRewriteUnclassifiedDefaultsGray reports operators missing from the
// registry and leaves them following their inputs.
func TestRewriteUnclassifiedDefaultsGray(t *testing.T) {
	x := relay.NewVar("x", relay.Shape{4}, relay.DTypeFloat32)
	root := workloads.Unary("mystery_op", x)
	mod := relay.NewModule(root, x)

	out, report, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"mystery_op"}, report.Unclassified)
	// Inputs stayed float32, so the gray default follows them.
	require.Same(t, relay.Expr(root), out.Main())
}

// TestRewriteColorOverride green-lists a normally gray operator.
func TestRewriteColorOverride(t *testing.T) {
	x := relay.NewVar("x", relay.Shape{4}, relay.DTypeFloat32)
	y := relay.NewVar("y", relay.Shape{4}, relay.DTypeFloat32)
	root := workloads.Elementwise("add", x, y)
	mod := relay.NewModule(root, x, y)

	opts := DefaultOptions()
	opts.Colors = map[string]Color{"add": Green}
	out, report, err := ToMixedPrecision(mod, relay.DTypeFloat16, opts)
	require.NoError(t, err)

	assert.Equal(t, relay.DTypeFloat16, out.Main().Type().DType)
	assert.Equal(t, 2, report.CastsInserted)
}

// TestRewriteRejectsNonFloatTarget refuses a target dtype without kernels.
func TestRewriteRejectsNonFloatTarget(t *testing.T) {
	mod := workloads.SingleConv(convDataShape, convWeightShape)
	_, _, err := ToMixedPrecision(mod, relay.DTypeInt32, DefaultOptions())
	require.Error(t, err)
}

// TestRewriteRejectsUnresolvedTypes fails the precondition on a graph
// that skipped type inference.
func TestRewriteRejectsUnresolvedTypes(t *testing.T) {
	x := relay.NewVar("x", relay.Shape{4}, "")
	mod := relay.NewModule(x, x)

	_, _, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.Error(t, err)
	assert.True(t, IsUnresolvedType(err))
}

// TestRewriteExistingCastCollapses re-issues a pre-existing conversion
// through the cache, collapsing it when its input already arrived at the
// requested dtype.
func TestRewriteExistingCastCollapses(t *testing.T) {
	data := relay.NewVar("data", relay.Shape{1, 20}, relay.DTypeFloat32)
	weight := relay.NewVar("weight", relay.Shape{20, 20}, relay.DTypeFloat32)
	dense := workloads.Dense(data, weight, relay.DTypeFloat32)
	// The input graph already narrows the dense result.
	root := relay.Cast(dense, relay.DTypeFloat16)
	mod := relay.NewModule(root, data, weight)

	out, _, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)

	// dense now outputs float16 itself; the old cast disappears.
	main, ok := out.Main().(*relay.Call)
	require.True(t, ok)
	assert.Equal(t, "dense", main.Op)
	assert.Equal(t, relay.DTypeFloat16, main.Type().DType)
	assert.Equal(t, 2, relay.CountCasts(out.Main()))
}

// TestRewriteOutputIsWellTyped runs the postcondition gate over a mixed
// fixture.
func TestRewriteOutputIsWellTyped(t *testing.T) {
	mod := workloads.DenseLetChain(8)
	out, _, err := ToMixedPrecision(mod, relay.DTypeFloat16, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, relay.CheckWellTyped(out))
}

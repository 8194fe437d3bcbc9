package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func addCall(a, b Expr) *Call {
	return NewCall("add", []Expr{a, b}, nil, a.Type())
}

// TestStructuralEqualSharingInsensitive verifies a graph with a shared
// subexpression equals its fully spelled-out form.
func TestStructuralEqualSharingInsensitive(t *testing.T) {
	x := NewVar("x", Shape{2, 2}, DTypeFloat32)
	shared := addCall(x, x)
	a := addCall(shared, shared)

	y := NewVar("x", Shape{2, 2}, DTypeFloat32)
	b := addCall(addCall(y, y), addCall(y, y))

	assert.True(t, StructuralEqual(a, b))
}

// TestStructuralEqualAlphaEquivalence verifies bound variables match
// positionally regardless of name.
func TestStructuralEqualAlphaEquivalence(t *testing.T) {
	x := NewVar("x", Shape{4}, DTypeFloat32)

	v1 := NewVar("first", Shape{4}, DTypeFloat32)
	a := NewLet(v1, addCall(x, x), addCall(v1, v1))

	v2 := NewVar("second", Shape{4}, DTypeFloat32)
	b := NewLet(v2, addCall(x, x), addCall(v2, v2))

	assert.True(t, StructuralEqual(a, b))
}

// TestStructuralEqualDetectsDifferences covers the mismatch cases a
// rewrite could introduce.
func TestStructuralEqualDetectsDifferences(t *testing.T) {
	x := NewVar("x", Shape{4}, DTypeFloat32)

	tests := []struct {
		name string
		a, b Expr
	}{
		{"dtype", x, NewVar("x", Shape{4}, DTypeFloat16)},
		{"shape", x, NewVar("x", Shape{5}, DTypeFloat32)},
		{"op", addCall(x, x), NewCall("multiply", []Expr{x, x}, nil, x.Type())},
		{"cast", x, Cast(x, DTypeFloat16)},
		{
			"attrs",
			NewCall("dense", []Expr{x, x}, Attrs{"units": 4}, x.Type()),
			NewCall("dense", []Expr{x, x}, Attrs{"units": 8}, x.Type()),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, StructuralEqual(tc.a, tc.b))
		})
	}
}

// TestStructuralEqualConstants compares constants by dtype, shape, and
// payload.
func TestStructuralEqualConstants(t *testing.T) {
	mk := func(vals []float32) *Constant {
		return Const(tensor.New(tensor.WithShape(2), tensor.WithBacking(vals)), DTypeFloat32)
	}
	assert.True(t, StructuralEqual(mk([]float32{1, 2}), mk([]float32{1, 2})))
	assert.False(t, StructuralEqual(mk([]float32{1, 2}), mk([]float32{1, 3})))
}

// TestFreeVars verifies Let-bound variables are excluded and order is
// first occurrence.
func TestFreeVars(t *testing.T) {
	x := NewVar("x", Shape{4}, DTypeFloat32)
	y := NewVar("y", Shape{4}, DTypeFloat32)
	bound := NewVar("b", Shape{4}, DTypeFloat32)
	root := NewLet(bound, addCall(x, y), addCall(bound, x))

	free := FreeVars(root)
	require.Len(t, free, 2)
	assert.Equal(t, "x", free[0].Name)
	assert.Equal(t, "y", free[1].Name)
}

// TestCountCasts counts distinct conversion nodes once despite fan-out.
func TestCountCasts(t *testing.T) {
	x := NewVar("x", Shape{4}, DTypeFloat32)
	c := Cast(x, DTypeFloat16)
	root := addCall(c, c)
	assert.Equal(t, 1, CountCasts(root))
}

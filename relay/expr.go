package relay

import (
	"fmt"
	"strings"

	"gorgonia.org/tensor"
)

// Shape is the dimension list of a tensor. A nil shape is a scalar.
type Shape []int

// Elems returns the number of elements a tensor of this shape holds.
func (s Shape) Elems() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Eq reports whether two shapes are identical.
func (s Shape) Eq(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// TensorType is the type of an expression: a shape plus an element dtype.
type TensorType struct {
	Shape Shape
	DType DType
}

func (t TensorType) String() string {
	return fmt.Sprintf("Tensor[%s, %s]", t.Shape, t.DType)
}

// Expr is a node in the dataflow graph. Expressions are immutable after
// construction; two consumers holding the same *Expr share one computation.
type Expr interface {
	// Type returns the expression's resolved tensor type.
	Type() TensorType
	isExpr()
}

// Var is a named input. Free vars are the graph's parameters; bound vars
// are introduced by Let.
type Var struct {
	Name    string
	VarType TensorType
}

func (v *Var) Type() TensorType { return v.VarType }
func (v *Var) isExpr()          {}

func (v *Var) String() string {
	return fmt.Sprintf("%%%s: %s", v.Name, v.VarType)
}

// Constant is a literal tensor value.
type Constant struct {
	Value     *tensor.Dense
	ConstType TensorType
}

func (c *Constant) Type() TensorType { return c.ConstType }
func (c *Constant) isExpr()          {}

// Attrs are operator attributes (strides, padding, dtype overrides, ...).
type Attrs map[string]interface{}

// Call applies a named operator to ordered arguments.
type Call struct {
	Op       string
	Args     []Expr
	Attrs    Attrs
	CallType TensorType
}

func (c *Call) Type() TensorType { return c.CallType }
func (c *Call) isExpr()          {}

// AttrDType returns a dtype-valued attribute, or "" when absent.
func (c *Call) AttrDType(key string) DType {
	if c.Attrs == nil {
		return ""
	}
	if dt, ok := c.Attrs[key].(DType); ok {
		return dt
	}
	return ""
}

// Let binds Value to Bound inside Body. The bound variable's declared type
// always equals the value's type; it is an alias, not a conversion point.
type Let struct {
	Bound *Var
	Value Expr
	Body  Expr
}

func (l *Let) Type() TensorType { return l.Body.Type() }
func (l *Let) isExpr()          {}

// Where selects elementwise between two arms of identical type based on a
// condition tensor.
type Where struct {
	Cond      Expr
	Then      Expr
	Else      Expr
	WhereType TensorType
}

func (w *Where) Type() TensorType { return w.WhereType }
func (w *Where) isExpr()          {}

// OpCast is the operator name of an inserted dtype conversion.
const OpCast = "cast"

// NewVar creates a free or bindable variable of the given type.
func NewVar(name string, shape Shape, dt DType) *Var {
	return &Var{Name: name, VarType: TensorType{Shape: shape, DType: dt}}
}

// Const wraps a dense tensor as a constant expression. The logical dtype
// may be narrower than the backing storage (float16 values are held in
// float32 backing).
func Const(value *tensor.Dense, dt DType) *Constant {
	shape := Shape(append([]int(nil), value.Shape()...))
	return &Constant{Value: value, ConstType: TensorType{Shape: shape, DType: dt}}
}

// NewCall applies op to args with the declared result type.
func NewCall(op string, args []Expr, attrs Attrs, result TensorType) *Call {
	return &Call{Op: op, Args: args, Attrs: attrs, CallType: result}
}

// NewLet binds v to value inside body. The variable's declared type must
// match the value's type.
func NewLet(v *Var, value, body Expr) *Let {
	return &Let{Bound: v, Value: value, Body: body}
}

// NewWhere builds a conditional selection. Both arms must already share a
// type; the node's type is the arms' type.
func NewWhere(cond, then, els Expr) *Where {
	return &Where{Cond: cond, Then: then, Else: els, WhereType: then.Type()}
}

// Cast wraps e in a conversion to dt. The conversion is itself a Call so
// downstream tooling sees one uniform node kind for operators.
func Cast(e Expr, dt DType) *Call {
	return &Call{
		Op:       OpCast,
		Args:     []Expr{e},
		Attrs:    Attrs{"dtype": dt},
		CallType: TensorType{Shape: e.Type().Shape, DType: dt},
	}
}

// IsCast reports whether e is a dtype-conversion call.
func IsCast(e Expr) bool {
	c, ok := e.(*Call)
	return ok && c.Op == OpCast
}

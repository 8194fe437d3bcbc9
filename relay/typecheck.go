package relay

import (
	"github.com/pkg/errors"
)

// ErrUnresolvedType marks a graph node whose dtype was never assigned.
// A graph with an unresolved node fails every pass precondition.
var ErrUnresolvedType = errors.New("expression has no resolved dtype")

// CheckWellTyped verifies every node reachable from the module's entry
// points: all dtypes are resolved, Let bindings alias their value's type,
// Where arms agree, and each Call's argument dtypes satisfy the operator's
// declared acceptance rule. It is the precondition and postcondition gate
// for graph transformations.
func CheckWellTyped(m *Module) error {
	for name, root := range m.Entries {
		var firstErr error
		PostOrder(root, func(e Expr) {
			if firstErr != nil {
				return
			}
			firstErr = checkNode(e)
		})
		if firstErr != nil {
			return errors.Wrapf(firstErr, "entry %q", name)
		}
	}
	return nil
}

func checkNode(e Expr) error {
	if !e.Type().DType.Resolved() {
		return errors.Wrapf(ErrUnresolvedType, "node %T", e)
	}
	switch n := e.(type) {
	case *Let:
		if n.Bound.VarType.DType != n.Value.Type().DType {
			return errors.Errorf("let-bound %%%s declared %s but its value has %s",
				n.Bound.Name, n.Bound.VarType.DType, n.Value.Type().DType)
		}
	case *Where:
		tt, et := n.Then.Type(), n.Else.Type()
		if tt.DType != et.DType {
			return errors.Errorf("where arms disagree on dtype: %s vs %s", tt.DType, et.DType)
		}
		if n.WhereType.DType != tt.DType {
			return errors.Errorf("where declared %s but its arms have %s", n.WhereType.DType, tt.DType)
		}
	case *Call:
		return checkCall(n)
	}
	return nil
}

// checkCall enforces per-operator dtype contracts. Shape agreement is the
// host front end's concern; this gate only guards the properties a dtype
// rewrite can break.
func checkCall(c *Call) error {
	switch c.Op {
	case OpCast:
		want := c.AttrDType("dtype")
		if !want.Resolved() {
			return errors.Errorf("cast without a dtype attribute")
		}
		if c.CallType.DType != want {
			return errors.Errorf("cast declared %s but targets %s", c.CallType.DType, want)
		}
		return nil
	case "conv2d", "dense", "batch_matmul":
		return checkUniformFloatArgs(c, c.accumOutDType())
	case "arange":
		return nil
	default:
		// Elementwise and unlisted operators: float arguments must agree
		// with each other and with the declared output.
		return checkUniformFloatArgs(c, c.CallType.DType)
	}
}

// accumOutDType is the dtype a reduction operator declares for its output,
// honoring an explicit out_dtype attribute.
func (c *Call) accumOutDType() DType {
	if dt := c.AttrDType("out_dtype"); dt.Resolved() {
		return dt
	}
	return c.CallType.DType
}

func checkUniformFloatArgs(c *Call, out DType) error {
	var in DType
	for _, a := range c.Args {
		dt := a.Type().DType
		if !dt.IsFloat() {
			continue
		}
		if !in.Resolved() {
			in = dt
			continue
		}
		if dt != in {
			return errors.Errorf("%s accepts one float dtype but got %s and %s", c.Op, in, dt)
		}
	}
	// Reductions may widen or narrow via out_dtype; everything else
	// produces the dtype it consumes.
	if !c.AttrDType("out_dtype").Resolved() && in.Resolved() && out != in {
		return errors.Errorf("%s declares output %s but computes over %s", c.Op, out, in)
	}
	if c.CallType.DType != out {
		return errors.Errorf("%s declares type %s but its rule yields %s", c.Op, c.CallType.DType, out)
	}
	return nil
}

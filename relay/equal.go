package relay

import (
	"reflect"
)

// StructuralEqual reports whether two expressions compute the same graph.
// Bound variables are matched positionally (alpha equivalence); free
// variables match on name and type. Pointer sharing does not affect the
// result: a graph with a shared subexpression equals its unshared
// spelling.
func StructuralEqual(a, b Expr) bool {
	eq := &structEq{
		boundAB: make(map[*Var]*Var),
		memo:    make(map[[2]Expr]bool),
	}
	return eq.equal(a, b)
}

// ModulesEqual applies StructuralEqual entry point by entry point.
func ModulesEqual(a, b *Module) bool {
	if len(a.Entries) != len(b.Entries) {
		return false
	}
	for name, root := range a.Entries {
		other, ok := b.Entries[name]
		if !ok || !StructuralEqual(root, other) {
			return false
		}
	}
	return true
}

type structEq struct {
	boundAB map[*Var]*Var
	memo    map[[2]Expr]bool
}

func (s *structEq) equal(a, b Expr) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	key := [2]Expr{a, b}
	if r, ok := s.memo[key]; ok {
		return r
	}
	// Optimistic: cycles cannot occur in a DAG, and seeding true keeps the
	// memo from re-walking shared pairs.
	s.memo[key] = true
	r := s.equalUncached(a, b)
	s.memo[key] = r
	return r
}

func (s *structEq) equalUncached(a, b Expr) bool {
	switch x := a.(type) {
	case *Var:
		y, ok := b.(*Var)
		if !ok {
			return false
		}
		if mapped, bound := s.boundAB[x]; bound {
			return mapped == y
		}
		return x.Name == y.Name && typesEqual(x.VarType, y.VarType)
	case *Constant:
		y, ok := b.(*Constant)
		if !ok {
			return false
		}
		if !typesEqual(x.ConstType, y.ConstType) {
			return false
		}
		return reflect.DeepEqual(x.Value.Data(), y.Value.Data())
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Op != y.Op || len(x.Args) != len(y.Args) {
			return false
		}
		if !typesEqual(x.CallType, y.CallType) || !attrsEqual(x.Attrs, y.Attrs) {
			return false
		}
		for i := range x.Args {
			if !s.equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *Let:
		y, ok := b.(*Let)
		if !ok {
			return false
		}
		if !typesEqual(x.Bound.VarType, y.Bound.VarType) {
			return false
		}
		if !s.equal(x.Value, y.Value) {
			return false
		}
		s.boundAB[x.Bound] = y.Bound
		defer delete(s.boundAB, x.Bound)
		return s.equal(x.Body, y.Body)
	case *Where:
		y, ok := b.(*Where)
		if !ok {
			return false
		}
		return typesEqual(x.WhereType, y.WhereType) &&
			s.equal(x.Cond, y.Cond) &&
			s.equal(x.Then, y.Then) &&
			s.equal(x.Else, y.Else)
	}
	return false
}

func typesEqual(a, b TensorType) bool {
	return a.DType == b.DType && a.Shape.Eq(b.Shape)
}

func attrsEqual(a, b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !reflect.DeepEqual(va, vb) {
			return false
		}
	}
	return true
}

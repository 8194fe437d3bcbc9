package mixedprecision

import (
	"log"
	"reflect"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-amp/relay"
)

// ToMixedPrecision rewrites mod so that eligible operators execute at the
// target dtype, per the registry's color classification and accumulation
// rules. The input module is never mutated; the result is well typed by
// construction and re-checked before being returned.
//
// The returned Report carries non-fatal diagnostics (operators that fell
// back to the default color, conversion counts). A fatal condition
// (unresolved types, impossible conversions, branch arms that cannot be
// unified) aborts the pass with a *PassError and no partial result.
func ToMixedPrecision(mod *relay.Module, target relay.DType, opts Options) (*relay.Module, *Report, error) {
	if err := checkTarget(target); err != nil {
		return nil, nil, err
	}
	if err := checkResolved(mod); err != nil {
		return nil, nil, err
	}

	r := &rewriter{
		target:   target,
		registry: NewRegistry(opts),
		cache:    newCastCache(),
		memo:     make(map[relay.Expr]relay.Expr),
		vars:     make(map[*relay.Var]*relay.Var),
		report:   &Report{},
		noted:    make(map[string]bool),
	}

	out := &relay.Module{
		Entries: make(map[string]relay.Expr, len(mod.Entries)),
		Params:  mod.Params,
	}
	for name, root := range mod.Entries {
		rewritten, err := r.rewrite(root)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "entry %q", name)
		}
		out.Entries[name] = rewritten
	}
	r.report.CastsInserted = r.cache.inserted

	if len(r.report.Unclassified) > 0 {
		log.Printf("mixed precision: %d operator(s) defaulted to %s: %v",
			len(r.report.Unclassified), r.registry.defaultColor, r.report.Unclassified)
	}

	// A rewrite that fails the type checker is a policy-table defect, not
	// a condition for callers to handle downstream.
	if err := relay.CheckWellTyped(out); err != nil {
		return nil, nil, errors.Wrap(err, "rewrite produced an ill-typed graph")
	}
	return out, r.report, nil
}

func checkResolved(mod *relay.Module) error {
	for name, root := range mod.Entries {
		var bad relay.Expr
		relay.PostOrder(root, func(e relay.Expr) {
			if bad == nil && !e.Type().DType.Resolved() {
				bad = e
			}
		})
		if bad != nil {
			return &PassError{
				Code:    ErrCodeUnresolvedType,
				Message: "entry " + name + " contains a node without a resolved dtype; run type inference first",
			}
		}
	}
	return nil
}

// rewriter walks one graph in dependency order. The memo table keys on
// original-node identity so every node is rewritten exactly once
// regardless of fan-out, and shared subexpressions stay shared in the
// output. All state is scoped to one invocation.
type rewriter struct {
	target   relay.DType
	registry *Registry
	cache    *castCache
	memo     map[relay.Expr]relay.Expr
	vars     map[*relay.Var]*relay.Var
	report   *Report
	noted    map[string]bool
}

func (r *rewriter) rewrite(e relay.Expr) (relay.Expr, error) {
	if cached, ok := r.memo[e]; ok {
		return cached, nil
	}
	out, err := r.rewriteUncached(e)
	if err != nil {
		return nil, err
	}
	r.memo[e] = out
	return out, nil
}

func (r *rewriter) rewriteUncached(e relay.Expr) (relay.Expr, error) {
	switch n := e.(type) {
	case *relay.Var:
		if sub, ok := r.vars[n]; ok {
			return sub, nil
		}
		return n, nil
	case *relay.Constant:
		return n, nil
	case *relay.Call:
		return r.rewriteCall(n)
	case *relay.Let:
		return r.rewriteLet(n)
	case *relay.Where:
		return r.rewriteWhere(n)
	}
	return nil, errors.Errorf("unhandled expression kind %T", e)
}

func argsChanged(now, orig []relay.Expr) bool {
	for i, a := range now {
		if a != orig[i] {
			return true
		}
	}
	return false
}

func (r *rewriter) rewriteCall(c *relay.Call) (relay.Expr, error) {
	args := make([]relay.Expr, len(c.Args))
	for i, a := range c.Args {
		na, err := r.rewrite(a)
		if err != nil {
			return nil, err
		}
		args[i] = na
	}

	// A conversion already present in the input graph is re-issued through
	// the cache: it deduplicates against passes-inserted casts and
	// collapses to a no-op when its input ended up at the requested dtype.
	if c.Op == relay.OpCast {
		want := c.AttrDType("dtype")
		if args[0].Type().DType.IsFloat() && want.IsFloat() {
			out, err := r.cache.Convert(args[0], want)
			if err != nil {
				return nil, err
			}
			return out, nil
		}
		if args[0] == c.Args[0] {
			return c, nil
		}
		return relay.NewCall(c.Op, args, c.Attrs, c.CallType), nil
	}

	color, listed := r.registry.Classify(c.Op)
	if !listed {
		r.report.noteUnclassified(c.Op, r.noted)
	}
	decision := r.resolveGray(color, args)

	choice := r.registry.AccumulationRule(c.Op)(decision, r.target, c.CallType.DType)

	// Convert floating arguments at the consumption site. Green-side
	// decisions force the target dtype; red-side decisions restore each
	// argument's own original dtype. Non-float arguments are never
	// touched: a conversion the pass does not understand is a
	// configuration error surfaced by the cache, not silently applied.
	toTarget := choice.Input == r.target
	for i, a := range args {
		if !a.Type().DType.IsFloat() {
			continue
		}
		want := c.Args[i].Type().DType
		if toTarget {
			want = r.target
		}
		converted, err := r.cache.Convert(a, want)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d of %s", i, c.Op)
		}
		args[i] = converted
	}

	// Red results leave the operator exactly as written; accumulation
	// attributes are only stamped when the operator actually moves.
	attrs := c.Attrs
	if decision == Green && accumSensitiveOps[c.Op] &&
		(choice.Output != c.CallType.DType || choice.Accum != declaredAccum(c)) {
		attrs = cloneAttrs(c.Attrs)
		attrs["out_dtype"] = choice.Output
		attrs["acc_dtype"] = choice.Accum
	}

	outDType := choice.Output
	if !c.CallType.DType.IsFloat() {
		// Index- or predicate-producing operators keep their dtype.
		outDType = c.CallType.DType
	}

	if !argsChanged(args, c.Args) && outDType == c.CallType.DType && attrsUnchanged(attrs, c.Attrs) {
		return c, nil
	}
	outType := relay.TensorType{Shape: c.CallType.Shape, DType: outDType}
	return relay.NewCall(c.Op, args, attrs, outType), nil
}

// resolveGray settles a gray operator's final color from its rewritten
// inputs: it runs at the target dtype only when every floating input
// already arrived there.
func (r *rewriter) resolveGray(color Color, args []relay.Expr) Color {
	if color != Gray {
		return color
	}
	sawFloat := false
	for _, a := range args {
		dt := a.Type().DType
		if !dt.IsFloat() {
			continue
		}
		sawFloat = true
		if dt != r.target {
			return Red
		}
	}
	if sawFloat {
		return Green
	}
	return Red
}

func (r *rewriter) rewriteLet(l *relay.Let) (relay.Expr, error) {
	value, err := r.rewrite(l.Value)
	if err != nil {
		return nil, err
	}

	// The bound variable is an alias for its definition, so it is re-typed
	// to the rewritten definition's type rather than wrapped in a
	// conversion. Each reference in the body still goes through the cast
	// cache independently at its own consumption site.
	bound := l.Bound
	if bound.VarType.DType != value.Type().DType {
		bound = relay.NewVar(l.Bound.Name, l.Bound.VarType.Shape, value.Type().DType)
	}
	r.vars[l.Bound] = bound

	body, err := r.rewrite(l.Body)
	if err != nil {
		return nil, err
	}
	if value == l.Value && bound == l.Bound && body == l.Body {
		return l, nil
	}
	return relay.NewLet(bound, value, body), nil
}

func (r *rewriter) rewriteWhere(w *relay.Where) (relay.Expr, error) {
	// The condition is selector-shaped, not precision-sensitive; it is
	// rewritten under its own operator's rules and never converted here.
	cond, err := r.rewrite(w.Cond)
	if err != nil {
		return nil, err
	}
	then, err := r.rewrite(w.Then)
	if err != nil {
		return nil, err
	}
	els, err := r.rewrite(w.Else)
	if err != nil {
		return nil, err
	}

	// Arms must agree on dtype in the rewritten graph; the narrower arm is
	// converted up to the wider one.
	td, ed := then.Type().DType, els.Type().DType
	if td != ed {
		if !td.IsFloat() || !ed.IsFloat() {
			return nil, newBranchTypeMismatch("arms have dtypes %s and %s", td, ed)
		}
		wider := td.Wider(ed)
		if then, err = r.cache.Convert(then, wider); err != nil {
			return nil, err
		}
		if els, err = r.cache.Convert(els, wider); err != nil {
			return nil, err
		}
	}
	if cond == w.Cond && then == w.Then && els == w.Else {
		return w, nil
	}
	return relay.NewWhere(cond, then, els), nil
}

// declaredAccum is the accumulation dtype a call already declares: an
// explicit acc_dtype attribute, else its out_dtype, else its output type.
func declaredAccum(c *relay.Call) relay.DType {
	if dt := c.AttrDType("acc_dtype"); dt.Resolved() {
		return dt
	}
	if dt := c.AttrDType("out_dtype"); dt.Resolved() {
		return dt
	}
	return c.CallType.DType
}

func cloneAttrs(a relay.Attrs) relay.Attrs {
	out := make(relay.Attrs, len(a)+2)
	for k, v := range a {
		out[k] = v
	}
	return out
}

func attrsUnchanged(a, b relay.Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !reflect.DeepEqual(b[k], v) {
			return false
		}
	}
	return true
}

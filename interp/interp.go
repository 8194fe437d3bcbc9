package interp

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-amp/relay"
)

// Eval executes the module's main entry with the given parameter tensors,
// keyed by free-variable name.
func Eval(mod *relay.Module, params map[string]*tensor.Dense) (*tensor.Dense, error) {
	return EvalEntry(mod, relay.MainEntry, params)
}

// EvalEntry executes one named entry point. Shared subexpressions are
// computed once; Let bindings extend the environment for their body.
func EvalEntry(mod *relay.Module, entry string, params map[string]*tensor.Dense) (*tensor.Dense, error) {
	root, ok := mod.Entries[entry]
	if !ok {
		return nil, errors.Errorf("no entry %q", entry)
	}
	ev := &evaluator{
		env:  make(map[*relay.Var]*tensor.Dense),
		memo: make(map[relay.Expr]*tensor.Dense),
	}
	for _, v := range relay.FreeVars(root) {
		val, ok := params[v.Name]
		if !ok {
			return nil, errors.Errorf("missing parameter %q", v.Name)
		}
		ev.env[v] = val
	}
	return ev.eval(root)
}

type evaluator struct {
	env  map[*relay.Var]*tensor.Dense
	memo map[relay.Expr]*tensor.Dense
}

func (ev *evaluator) eval(e relay.Expr) (*tensor.Dense, error) {
	if v, ok := ev.memo[e]; ok {
		return v, nil
	}
	v, err := ev.evalUncached(e)
	if err != nil {
		return nil, err
	}
	ev.memo[e] = v
	return v, nil
}

func (ev *evaluator) evalUncached(e relay.Expr) (*tensor.Dense, error) {
	switch n := e.(type) {
	case *relay.Var:
		val, ok := ev.env[n]
		if !ok {
			return nil, errors.Errorf("unbound variable %%%s", n.Name)
		}
		return val, nil
	case *relay.Constant:
		return n.Value, nil
	case *relay.Call:
		args := make([]*tensor.Dense, len(n.Args))
		for i, a := range n.Args {
			v, err := ev.eval(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		out, err := applyKernel(n, args)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", n.Op)
		}
		return out, nil
	case *relay.Let:
		val, err := ev.eval(n.Value)
		if err != nil {
			return nil, err
		}
		ev.env[n.Bound] = val
		return ev.eval(n.Body)
	case *relay.Where:
		cond, err := ev.eval(n.Cond)
		if err != nil {
			return nil, err
		}
		then, err := ev.eval(n.Then)
		if err != nil {
			return nil, err
		}
		els, err := ev.eval(n.Else)
		if err != nil {
			return nil, err
		}
		return whereKernel(n, cond, then, els)
	}
	return nil, errors.Errorf("unhandled expression kind %T", e)
}

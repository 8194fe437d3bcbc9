// Package backend - Lowers relay graphs onto a gorgonia expression graph
// for execution by a tape machine.
//
// Only float32 and float64 graphs lower; float16 graphs must be executed
// with the interp reference evaluator, since gorgonia carries no binary16
// kernels.
package backend

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-amp/relay"
)

// Lower translates the module's main entry into g. It returns the input
// nodes keyed by free-variable name and the output node.
func Lower(mod *relay.Module, g *G.ExprGraph) (map[string]*G.Node, *G.Node, error) {
	root := mod.Main()
	if root == nil {
		return nil, nil, errors.New("module has no main entry")
	}
	l := &lowerer{
		g:      g,
		inputs: make(map[string]*G.Node),
		memo:   make(map[relay.Expr]*G.Node),
	}
	out, err := l.lower(root)
	if err != nil {
		return nil, nil, err
	}
	return l.inputs, out, nil
}

// Run lowers and executes the module's main entry on the given parameters.
func Run(mod *relay.Module, params map[string]*tensor.Dense) (*tensor.Dense, error) {
	g := G.NewGraph()
	inputs, out, err := Lower(mod, g)
	if err != nil {
		return nil, err
	}
	for name, node := range inputs {
		val, ok := params[name]
		if !ok {
			return nil, errors.Errorf("missing parameter %q", name)
		}
		if err := G.Let(node, val); err != nil {
			return nil, errors.Wrapf(err, "binding %q", name)
		}
	}
	tm := G.NewTapeMachine(g)
	defer tm.Close()
	if err := tm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running tape machine")
	}
	dense, ok := out.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("unexpected output value %T", out.Value())
	}
	return dense, nil
}

type lowerer struct {
	g      *G.ExprGraph
	inputs map[string]*G.Node
	memo   map[relay.Expr]*G.Node
}

func (l *lowerer) lower(e relay.Expr) (*G.Node, error) {
	if n, ok := l.memo[e]; ok {
		return n, nil
	}
	n, err := l.lowerUncached(e)
	if err != nil {
		return nil, err
	}
	l.memo[e] = n
	return n, nil
}

func (l *lowerer) lowerUncached(e relay.Expr) (*G.Node, error) {
	switch n := e.(type) {
	case *relay.Var:
		node, err := l.newInput(n)
		if err != nil {
			return nil, err
		}
		l.inputs[n.Name] = node
		return node, nil
	case *relay.Constant:
		return G.NewConstant(n.Value), nil
	case *relay.Let:
		value, err := l.lower(n.Value)
		if err != nil {
			return nil, err
		}
		// The bound variable is an alias; point it straight at the lowered
		// definition.
		l.memo[n.Bound] = value
		return l.lower(n.Body)
	case *relay.Call:
		return l.lowerCall(n)
	case *relay.Where:
		return nil, errors.New("conditional selection does not lower; use the reference evaluator")
	}
	return nil, errors.Errorf("unhandled expression kind %T", e)
}

func (l *lowerer) newInput(v *relay.Var) (*G.Node, error) {
	dt, err := lowerDType(v.VarType.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "input %q", v.Name)
	}
	shape := []int(v.VarType.Shape)
	switch len(shape) {
	case 0:
		return G.NewScalar(l.g, dt, G.WithName(v.Name)), nil
	case 1:
		return G.NewVector(l.g, dt, G.WithShape(shape...), G.WithName(v.Name)), nil
	case 2:
		return G.NewMatrix(l.g, dt, G.WithShape(shape...), G.WithName(v.Name)), nil
	default:
		return G.NewTensor(l.g, dt, len(shape), G.WithShape(shape...), G.WithName(v.Name)), nil
	}
}

func (l *lowerer) lowerCall(c *relay.Call) (*G.Node, error) {
	args := make([]*G.Node, len(c.Args))
	for i, a := range c.Args {
		n, err := l.lower(a)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	switch c.Op {
	case "add":
		return G.Add(args[0], args[1])
	case "subtract":
		return G.Sub(args[0], args[1])
	case "multiply":
		return G.HadamardProd(args[0], args[1])
	case "divide":
		return G.HadamardDiv(args[0], args[1])
	case "dense":
		wt, err := G.Transpose(args[1], 1, 0)
		if err != nil {
			return nil, errors.Wrap(err, "transposing dense weight")
		}
		return G.Mul(args[0], wt)
	case "sigmoid":
		return G.Sigmoid(args[0])
	case "tanh":
		return G.Tanh(args[0])
	case "exp":
		return G.Exp(args[0])
	case "softmax":
		return G.SoftMax(args[0])
	case relay.OpCast:
		// Lowered graphs are uniform-dtype; only identity casts appear.
		if c.Type().DType == c.Args[0].Type().DType {
			return args[0], nil
		}
		return nil, errors.Errorf("cannot lower a %s -> %s conversion",
			c.Args[0].Type().DType, c.Type().DType)
	}
	return nil, errors.Errorf("operator %q does not lower", c.Op)
}

func lowerDType(dt relay.DType) (tensor.Dtype, error) {
	switch dt {
	case relay.DTypeFloat32:
		return tensor.Float32, nil
	case relay.DTypeFloat64:
		return tensor.Float64, nil
	}
	return tensor.Dtype{}, errors.Errorf("dtype %s has no backing kernel", dt)
}

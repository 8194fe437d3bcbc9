package relay

// MainEntry is the conventional name of a module's default entry point.
const MainEntry = "main"

// Module is a set of named entry points over a shared expression graph,
// plus the ordered free input variables of those graphs.
type Module struct {
	// Entries maps entry-point names to root expressions.
	Entries map[string]Expr
	// Params are the free input variables in declaration order.
	Params []*Var
}

// NewModule builds a single-entry module rooted at expr with the given
// free parameters.
func NewModule(root Expr, params ...*Var) *Module {
	return &Module{
		Entries: map[string]Expr{MainEntry: root},
		Params:  params,
	}
}

// Main returns the default entry point's root, or nil when absent.
func (m *Module) Main() Expr {
	return m.Entries[MainEntry]
}

// PostOrder visits every expression reachable from root exactly once, in
// dependency order (inputs before consumers). Sharing is respected: a node
// with several consumers is visited a single time.
func PostOrder(root Expr, visit func(Expr)) {
	seen := make(map[Expr]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		if e == nil || seen[e] {
			return
		}
		seen[e] = true
		switch n := e.(type) {
		case *Call:
			for _, a := range n.Args {
				walk(a)
			}
		case *Let:
			walk(n.Value)
			walk(n.Bound)
			walk(n.Body)
		case *Where:
			walk(n.Cond)
			walk(n.Then)
			walk(n.Else)
		}
		visit(e)
	}
	walk(root)
}

// FreeVars returns the variables reachable from root that are not bound by
// any enclosing Let, in first-occurrence order.
func FreeVars(root Expr) []*Var {
	bound := make(map[*Var]bool)
	seenFree := make(map[*Var]bool)
	var free []*Var
	seen := make(map[Expr]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		if e == nil || seen[e] {
			return
		}
		// Let bodies cannot be memo-skipped on the bound flag alone, but
		// bindings in this IR are unique per graph so a single visit is
		// still sound.
		seen[e] = true
		switch n := e.(type) {
		case *Var:
			if !bound[n] && !seenFree[n] {
				seenFree[n] = true
				free = append(free, n)
			}
		case *Call:
			for _, a := range n.Args {
				walk(a)
			}
		case *Let:
			walk(n.Value)
			bound[n.Bound] = true
			walk(n.Body)
		case *Where:
			walk(n.Cond)
			walk(n.Then)
			walk(n.Else)
		}
	}
	walk(root)
	return free
}

// CountCasts returns the number of distinct conversion nodes reachable
// from root. Shared conversion nodes count once.
func CountCasts(root Expr) int {
	n := 0
	PostOrder(root, func(e Expr) {
		if IsCast(e) {
			n++
		}
	})
	return n
}

package mixedprecision

import (
	"github.com/nvr-ai/go-amp/relay"
)

// castKey identifies one conversion: a source node and a requested dtype.
type castKey struct {
	src relay.Expr
	dt  relay.DType
}

// castCache deduplicates conversion nodes within one pass invocation. It
// guarantees that at most one conversion node exists per (source, dtype)
// pair and that converting a cached conversion back to its source's dtype
// returns the source itself rather than stacking casts.
//
// The reverse shortcut is a cache invariant: every inserted cast records
// its source, so the lookup sees through a single level of conversion.
// The rewrite engine never builds deeper conversion chains, so one level
// is all that is needed.
type castCache struct {
	// casts maps (source, dtype) to the conversion node produced for it.
	casts map[castKey]relay.Expr
	// sources maps a conversion node back to the node it converts.
	sources map[relay.Expr]relay.Expr
	// inserted counts distinct conversion nodes created.
	inserted int
}

func newCastCache() *castCache {
	return &castCache{
		casts:   make(map[castKey]relay.Expr),
		sources: make(map[relay.Expr]relay.Expr),
	}
}

// Convert returns e converted to dt. Identity conversions return e
// unchanged. Repeated requests return the identical node. Converting a
// cached cast back to its source's dtype returns the source.
func (c *castCache) Convert(e relay.Expr, dt relay.DType) (relay.Expr, error) {
	if !dt.Resolved() || !e.Type().DType.Resolved() {
		return nil, newUnsupportedConversion("", "conversion with unresolved dtype (%q -> %q)",
			e.Type().DType, dt)
	}
	if e.Type().DType == dt {
		return e, nil
	}
	if !e.Type().DType.IsFloat() || !dt.IsFloat() {
		return nil, newUnsupportedConversion("", "cannot convert %s to %s", e.Type().DType, dt)
	}
	if src, ok := c.sources[e]; ok && src.Type().DType == dt {
		return src, nil
	}
	key := castKey{src: e, dt: dt}
	if cached, ok := c.casts[key]; ok {
		return cached, nil
	}
	cast := relay.Cast(e, dt)
	c.casts[key] = cast
	c.sources[cast] = e
	c.inserted++
	return cast, nil
}

package mixedprecision

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-amp/relay"
)

// Options override the built-in classification and accumulation tables.
// The zero value keeps every default.
type Options struct {
	// Colors overrides the classification of individual operators.
	Colors map[string]Color

	// Accumulation overrides the accumulation policy of individual
	// operators.
	Accumulation map[string]AccumulationPolicy

	// DefaultColor classifies operators absent from every list. Gray is
	// the conservative default: it neither forces reduced precision nor
	// blocks it. The choice is surfaced per operator in the Report so
	// silently defaulted operators can be audited.
	DefaultColor Color
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{DefaultColor: Gray}
}

// optionsFile is the on-disk shape of a caller override table.
type optionsFile struct {
	Colors       map[string]string `yaml:"colors"`
	Accumulation map[string]string `yaml:"accumulation"`
	DefaultColor string            `yaml:"default_color"`
}

// LoadOptionsYAML parses an override table of the form:
//
//	colors:
//	  my_op: green
//	accumulation:
//	  my_op: target
//	default_color: gray
//
// Accumulation values are "target" or "original" (the global default rule).
func LoadOptionsYAML(data []byte) (Options, error) {
	var file optionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Options{}, errors.Wrap(err, "parsing options")
	}
	opts := DefaultOptions()
	if file.DefaultColor != "" {
		c, ok := ParseColor(file.DefaultColor)
		if !ok {
			return Options{}, newBadConfig("unknown default color %q", file.DefaultColor)
		}
		opts.DefaultColor = c
	}
	if len(file.Colors) > 0 {
		opts.Colors = make(map[string]Color, len(file.Colors))
		for op, name := range file.Colors {
			c, ok := ParseColor(name)
			if !ok {
				return Options{}, newBadConfig("unknown color %q for operator %q", name, op)
			}
			opts.Colors[op] = c
		}
	}
	if len(file.Accumulation) > 0 {
		opts.Accumulation = make(map[string]AccumulationPolicy, len(file.Accumulation))
		for op, name := range file.Accumulation {
			switch name {
			case "target":
				opts.Accumulation[op] = TargetAccumulation
			case "original":
				opts.Accumulation[op] = DefaultAccumulation
			default:
				return Options{}, newBadConfig("unknown accumulation rule %q for operator %q", name, op)
			}
		}
	}
	return opts, nil
}

// Report collects non-fatal diagnostics from one pass invocation.
type Report struct {
	// Unclassified lists operators that fell back to the default color,
	// in first-encounter order.
	Unclassified []string

	// CastsInserted counts the distinct conversion nodes the pass added.
	CastsInserted int
}

func (r *Report) noteUnclassified(op string, seen map[string]bool) {
	if seen[op] {
		return
	}
	seen[op] = true
	r.Unclassified = append(r.Unclassified, op)
}

// checkTarget validates the requested target dtype up front.
func checkTarget(target relay.DType) error {
	if !target.IsFloat() {
		return newBadConfig("target dtype %q is not a floating-point type", target)
	}
	return nil
}

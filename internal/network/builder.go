package network

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/pcosc/internal/function"
)

// TopologyError reports an inconsistency found while building a graph:
// a dimension or shape mismatch, an unknown function, or a reference to an
// undeclared node.
type TopologyError struct {
	// Element names the offending population, stimulus or connection.
	Element string
	Reason  string
	Err     error
}

func (e *TopologyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("topology: %s: %s: %v", e.Element, e.Reason, e.Err)
	}
	return fmt.Sprintf("topology: %s: %s", e.Element, e.Reason)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// Builder collects declarations and produces a validated Graph. A Builder is
// not safe for concurrent use.
type Builder struct {
	populations []Population
	stimuli     []Stimulus
	connections []Connection
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Population declares a population. Radius defaults to 1.
func (b *Builder) Population(p Population) *Builder {
	b.populations = append(b.populations, p)
	return b
}

// Stimulus declares a stimulus node. A zero Dim is inferred from Value(0).
func (b *Builder) Stimulus(s Stimulus) *Builder {
	b.stimuli = append(b.stimuli, s)
	return b
}

// Connect declares a connection.
func (b *Builder) Connect(c Connection) *Builder {
	b.connections = append(b.connections, c)
	return b
}

// Validate checks every declaration and returns all issues found, in
// declaration order. It does not build the graph.
func (b *Builder) Validate() []*TopologyError {
	_, issues := b.assemble()
	return issues
}

// Build validates the declarations and returns the immutable graph. When
// several issues exist they are joined; errors.As finds the first
// *TopologyError.
func (b *Builder) Build() (*Graph, error) {
	g, issues := b.assemble()
	if len(issues) == 0 {
		return g, nil
	}
	if len(issues) == 1 {
		return nil, issues[0]
	}
	errs := make([]error, len(issues))
	for i, e := range issues {
		errs[i] = e
	}
	return nil, errors.Join(errs...)
}

func (b *Builder) assemble() (*Graph, []*TopologyError) {
	var issues []*TopologyError
	fail := func(element, format string, args ...any) {
		issues = append(issues, &TopologyError{Element: element, Reason: fmt.Sprintf(format, args...)})
	}

	g := &Graph{
		incoming: make(map[string][]*Connection),
		kinds:    make(map[string]Kind),
		dims:     make(map[string]int),
	}

	declare := func(name string, kind Kind, dim int) bool {
		if name == "" {
			fail("(unnamed)", "node name is required")
			return false
		}
		if _, dup := g.kinds[name]; dup {
			fail(name, "duplicate node name")
			return false
		}
		g.kinds[name] = kind
		g.dims[name] = dim
		return true
	}

	for _, decl := range b.populations {
		p := decl
		if p.Dim <= 0 {
			fail(p.Name, "dimension must be positive, got %d", p.Dim)
			continue
		}
		if p.Radius == 0 {
			p.Radius = 1
		}
		if p.Radius < 0 || math.IsNaN(p.Radius) || math.IsInf(p.Radius, 0) {
			fail(p.Name, "radius must be positive and finite, got %g", p.Radius)
			continue
		}
		if p.Mode != Represent && p.Mode != Accumulate {
			fail(p.Name, "invalid mode %s", p.Mode)
			continue
		}
		if p.Initial == nil {
			p.Initial = make([]float64, p.Dim)
		} else {
			if len(p.Initial) != p.Dim {
				fail(p.Name, "initial state has length %d, want %d", len(p.Initial), p.Dim)
				continue
			}
			if !finite(p.Initial) {
				fail(p.Name, "initial state is not finite")
				continue
			}
			p.Initial = append([]float64(nil), p.Initial...)
		}
		if !declare(p.Name, KindPopulation, p.Dim) {
			continue
		}
		g.populations = append(g.populations, &p)
	}

	for _, decl := range b.stimuli {
		s := decl
		if s.Value == nil {
			fail(s.Name, "stimulus has no value function")
			continue
		}
		v0 := s.Value(0)
		if s.Dim == 0 {
			s.Dim = len(v0)
		}
		if s.Dim <= 0 {
			fail(s.Name, "stimulus dimension must be positive")
			continue
		}
		if len(v0) != s.Dim {
			fail(s.Name, "value function returns length %d, want %d", len(v0), s.Dim)
			continue
		}
		if !declare(s.Name, KindStimulus, s.Dim) {
			continue
		}
		g.stimuli = append(g.stimuli, &s)
	}

	for i, decl := range b.connections {
		c := decl
		c.index = len(g.connections)
		label := fmt.Sprintf("connection %d (%s)", i, c.Label())

		_, srcDim, ok := g.Node(c.Source)
		if !ok {
			fail(label, "undeclared source %q", c.Source)
			continue
		}
		tgtKind, tgtDim, ok := g.Node(c.Target)
		if !ok {
			fail(label, "undeclared target %q", c.Target)
			continue
		}
		if tgtKind != KindPopulation {
			fail(label, "target %q is a stimulus; only populations accept input", c.Target)
			continue
		}

		var err error
		if c.src, err = c.SourceSlice.openEnded(srcDim).resolve(srcDim); err != nil {
			fail(label, "source: %v", err)
			continue
		}
		if c.dst, err = c.TargetSlice.openEnded(tgtDim).resolve(tgtDim); err != nil {
			fail(label, "target: %v", err)
			continue
		}

		if c.Function == nil {
			c.Function = function.Identity()
		}
		if c.fnDim, err = c.Function.OutDim(c.src.len()); err != nil {
			issues = append(issues, &TopologyError{Element: label, Reason: "function " + c.Function.Name(), Err: err})
			continue
		}

		if reason := c.checkTransform(); reason != "" {
			fail(label, "%s", reason)
			continue
		}

		if c.Synapse < 0 || math.IsNaN(c.Synapse) || math.IsInf(c.Synapse, 0) {
			fail(label, "synapse time constant must be non-negative and finite, got %g", c.Synapse)
			continue
		}

		conn := c
		g.connections = append(g.connections, &conn)
		g.incoming[c.Target] = append(g.incoming[c.Target], &conn)
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return g, nil
}

// checkTransform returns a non-empty reason when the transform cannot map
// the function output onto the target slice.
func (c *Connection) checkTransform() string {
	out := c.dst.len()
	if c.Transform == nil {
		if c.fnDim != out {
			return fmt.Sprintf("function %s outputs %d dimensions but the target slice has %d", c.Function.Name(), c.fnDim, out)
		}
		return ""
	}
	r, cols := c.Transform.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			if v := c.Transform.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return "transform is not finite"
			}
		}
	}
	if r == 1 && cols == 1 {
		if c.fnDim != out {
			return fmt.Sprintf("scalar transform keeps %d dimensions but the target slice has %d", c.fnDim, out)
		}
		return ""
	}
	if cols != c.fnDim {
		return fmt.Sprintf("transform has %d columns but function %s outputs %d dimensions", cols, c.Function.Name(), c.fnDim)
	}
	if r != out {
		return fmt.Sprintf("transform has %d rows but the target slice has %d", r, out)
	}
	return ""
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

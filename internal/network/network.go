// Package network declares the static topology of a simulation: populations
// (continuous state vectors), stimulus nodes (pure functions of time) and the
// directed connections between them.
//
// A Graph is produced once by a Builder (or from a YAML Definition), is
// validated for dimensional consistency at build time, and is immutable
// thereafter. The engine package executes it.
package network

import (
	"fmt"

	"github.com/nvandessel/pcosc/internal/function"
	"gonum.org/v1/gonum/mat"
)

// Mode selects how a population folds its summed input into its state.
type Mode int

const (
	// Represent makes every driven component equal to the sum of its filtered
	// inputs each step. This is the mean-field reading of a neural ensemble:
	// the population represents its input, and dynamics come from the
	// synaptic filters on recurrent connections.
	Represent Mode = iota

	// Accumulate integrates the summed input: state += dt * sum(inputs).
	Accumulate
)

func (m Mode) String() string {
	switch m {
	case Represent:
		return "represent"
	case Accumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "represent" (or "") and "accumulate" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "represent":
		return Represent, nil
	case "accumulate":
		return Accumulate, nil
	default:
		return 0, fmt.Errorf("invalid population mode %q (valid: represent, accumulate)", s)
	}
}

// Population is a named continuous state vector.
type Population struct {
	Name string
	Dim  int

	// Radius is the expected maximum magnitude of any component. It is used
	// for validation and excursion reporting only; states are never clamped.
	Radius float64

	// Initial is the state at time zero. Nil means all zeros.
	Initial []float64

	Mode Mode
}

// ValueFunc returns a stimulus value at simulated time t.
type ValueFunc func(t float64) []float64

// Stimulus is a stateless input node whose value is a pure function of time.
type Stimulus struct {
	Name  string
	Dim   int
	Value ValueFunc
}

// Connection is a directed, weighted, filtered edge from a population or
// stimulus into a slice of a target population.
type Connection struct {
	Source      string
	SourceSlice Slice
	Target      string
	TargetSlice Slice

	// Function is applied to the source slice. Nil means identity.
	Function function.Func

	// Transform maps the function output onto the target slice. Nil means
	// identity; a 1x1 matrix is a scalar gain.
	Transform *mat.Dense

	// Synapse is the low-pass time constant in seconds. Zero is instantaneous.
	Synapse float64

	index int
	fnDim int
	src   span
	dst   span
}

// Index is the connection's position in declaration order.
func (c *Connection) Index() int { return c.index }

// FuncDim is the output dimension of the connection function.
func (c *Connection) FuncDim() int { return c.fnDim }

// SourceSpan returns the resolved half-open source index range.
func (c *Connection) SourceSpan() (lo, hi int) { return c.src.lo, c.src.hi }

// TargetSpan returns the resolved half-open target index range.
func (c *Connection) TargetSpan() (lo, hi int) { return c.dst.lo, c.dst.hi }

// InDim is the length of the source slice fed to the function.
func (c *Connection) InDim() int { return c.src.len() }

// OutDim is the length of the target slice the connection writes to.
func (c *Connection) OutDim() int { return c.dst.len() }

// Recurrent reports whether the connection feeds a population back into
// itself.
func (c *Connection) Recurrent() bool { return c.Source == c.Target }

// Label is a short human-readable description, e.g. "osc1 -> osc1[0:2]".
func (c *Connection) Label() string {
	return c.Source + c.SourceSlice.suffix() + " -> " + c.Target + c.TargetSlice.suffix()
}

// ScalarTransform reports whether the transform is a 1x1 gain and returns it.
func (c *Connection) ScalarTransform() (float64, bool) {
	if c.Transform == nil {
		return 1, false
	}
	r, cols := c.Transform.Dims()
	if r == 1 && cols == 1 {
		return c.Transform.At(0, 0), true
	}
	return 0, false
}

// Kind distinguishes the two node types of a graph.
type Kind int

const (
	KindPopulation Kind = iota
	KindStimulus
)

// Graph is a validated, immutable topology.
type Graph struct {
	populations []*Population
	stimuli     []*Stimulus
	connections []*Connection
	incoming    map[string][]*Connection
	kinds       map[string]Kind
	dims        map[string]int
}

// Populations returns the populations in declaration order.
func (g *Graph) Populations() []*Population { return g.populations }

// Stimuli returns the stimulus nodes in declaration order.
func (g *Graph) Stimuli() []*Stimulus { return g.stimuli }

// Connections returns all connections in declaration order.
func (g *Graph) Connections() []*Connection { return g.connections }

// Incoming returns the connections targeting the named population, in
// declaration order.
func (g *Graph) Incoming(target string) []*Connection { return g.incoming[target] }

// Population returns the named population.
func (g *Graph) Population(name string) (*Population, bool) {
	for _, p := range g.populations {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Node reports the kind and dimension of a named node.
func (g *Graph) Node(name string) (Kind, int, bool) {
	k, ok := g.kinds[name]
	if !ok {
		return 0, 0, false
	}
	return k, g.dims[name], true
}

// Package function provides the closed set of pure transformations that a
// connection applies to its source signal before the transform and synapse.
//
// Every function is dimension-checked once, when a topology is built, via
// OutDim. Apply is then called every integration step and must not allocate.
package function

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownFunction is returned by Lookup for a name that is not registered.
var ErrUnknownFunction = errors.New("unknown function")

// Func is a pure vector-to-vector transformation.
type Func interface {
	// Name identifies the function in topology listings and definitions.
	Name() string

	// OutDim returns the output dimension for an input of dimension in, or an
	// error if the function is not defined for that input dimension.
	OutDim(in int) (int, error)

	// Apply writes f(x) into dst. len(dst) equals OutDim(len(x)).
	Apply(dst, x []float64)
}

type identity struct{}

// Identity returns f(x) = x.
func Identity() Func { return identity{} }

func (identity) Name() string { return "identity" }

func (identity) OutDim(in int) (int, error) { return in, nil }

func (identity) Apply(dst, x []float64) { copy(dst, x) }

type scale struct{ k float64 }

// Scale returns f(x) = k*x. The error-to-integrator feed uses k = tau_synapse
// so that the recurrent loop integrates the input at unit gain.
func Scale(k float64) Func { return scale{k: k} }

func (s scale) Name() string { return fmt.Sprintf("scale(k=%g)", s.k) }

func (scale) OutDim(in int) (int, error) { return in, nil }

func (s scale) Apply(dst, x []float64) {
	for i, v := range x {
		dst[i] = s.k * v
	}
}

// Oscillator is the recurrent law of a controlled oscillator. Its input is
// the full 4-vector [x0, x1, rate, ampErr] and its output is the next-state
// target for the (x0, x1) plane:
//
//	x0' = -tau*rate*omega*x1 - tau*gamma*ampErr*x0 + x0
//	x1' =  tau*rate*omega*x0 + x1
//
// Fed back through a synapse with time constant tau this realizes
// dx0/dt = -rate*omega*x1 - gamma*ampErr*x0 and dx1/dt = rate*omega*x0.
// With gamma > 0, a positive amplitude error (orbit too large) shrinks x0.
type Oscillator struct {
	Omega float64
	Gamma float64
	Tau   float64
}

// OscillatorRecurrence returns the controlled-oscillator recurrence.
func OscillatorRecurrence(omega, gamma, tau float64) Func {
	return Oscillator{Omega: omega, Gamma: gamma, Tau: tau}
}

func (o Oscillator) Name() string {
	return fmt.Sprintf("oscillator(omega=%g, gamma=%g, tau=%g)", o.Omega, o.Gamma, o.Tau)
}

func (Oscillator) OutDim(in int) (int, error) {
	if in != 4 {
		return 0, fmt.Errorf("oscillator recurrence needs a 4-dimensional input, got %d", in)
	}
	return 2, nil
}

func (o Oscillator) Apply(dst, x []float64) {
	x0, x1, rate, ampErr := x[0], x[1], x[2], x[3]
	dst[0] = -o.Tau*rate*o.Omega*x1 - o.Tau*o.Gamma*ampErr*x0 + x0
	dst[1] = o.Tau*rate*o.Omega*x0 + x1
}

type square struct{}

// Square returns f(x) = x*x for a scalar x.
func Square() Func { return square{} }

func (square) Name() string { return "square" }

func (square) OutDim(in int) (int, error) {
	if in != 1 {
		return 0, fmt.Errorf("square needs a scalar input, got dimension %d", in)
	}
	return 1, nil
}

func (square) Apply(dst, x []float64) { dst[0] = x[0] * x[0] }

type sumOfSquares struct{}

// SumOfSquares returns x0^2 + x1^2, the squared radius of the first two
// components. Further components are ignored.
func SumOfSquares() Func { return sumOfSquares{} }

func (sumOfSquares) Name() string { return "sum_of_squares" }

func (sumOfSquares) OutDim(in int) (int, error) {
	if in < 2 {
		return 0, fmt.Errorf("sum_of_squares needs at least 2 input dimensions, got %d", in)
	}
	return 1, nil
}

func (sumOfSquares) Apply(dst, x []float64) { dst[0] = x[0]*x[0] + x[1]*x[1] }

// builder constructs a registered function from named parameters.
type builder struct {
	params []string
	build  func(p map[string]float64) Func
}

var registry = map[string]builder{
	"identity": {build: func(map[string]float64) Func { return Identity() }},
	"scale": {
		params: []string{"k"},
		build:  func(p map[string]float64) Func { return Scale(p["k"]) },
	},
	"oscillator": {
		params: []string{"omega", "gamma", "tau"},
		build: func(p map[string]float64) Func {
			return OscillatorRecurrence(p["omega"], p["gamma"], p["tau"])
		},
	},
	"square":         {build: func(map[string]float64) Func { return Square() }},
	"sum_of_squares": {build: func(map[string]float64) Func { return SumOfSquares() }},
}

// Lookup resolves a function by registered name. Parameters are required
// exactly as the function declares them; unknown parameters are rejected.
func Lookup(name string, params map[string]float64) (Func, error) {
	b, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownFunction, name, strings.Join(Names(), ", "))
	}
	for _, p := range b.params {
		if _, ok := params[p]; !ok {
			return nil, fmt.Errorf("function %s: missing parameter %q", name, p)
		}
	}
	for p := range params {
		if !contains(b.params, p) {
			return nil, fmt.Errorf("function %s: unexpected parameter %q", name, p)
		}
	}
	return b.build(params), nil
}

// Names returns the registered function names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

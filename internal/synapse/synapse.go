// Package synapse implements the first-order low-pass filter applied to every
// signal travelling between two nodes of a network.
//
// The filter is the exponential smoother
//
//	out += (dt/tau) * (in - out)
//
// which is the forward-Euler discretization of tau*dy/dt = in - y. A time
// constant of zero means an instantaneous connection: the input passes
// through unchanged.
package synapse

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrNegativeTau is returned when a filter is given a negative time constant.
var ErrNegativeTau = errors.New("synapse: negative time constant")

// Filter returns the next filter output given the previous output and the new
// input. It never mutates prev or in; the caller persists the result for the
// next call.
func Filter(tau, dt float64, prev, in []float64) ([]float64, error) {
	if tau < 0 {
		return nil, fmt.Errorf("%w: %g", ErrNegativeTau, tau)
	}
	out := make([]float64, len(in))
	if tau == 0 {
		copy(out, in)
		return out, nil
	}
	if len(prev) != len(in) {
		return nil, fmt.Errorf("synapse: state length %d does not match input length %d", len(prev), len(in))
	}
	step(out, tau, dt, prev, in)
	return out, nil
}

// step writes prev + (dt/tau)(in-prev) into dst. dst may alias prev.
func step(dst []float64, tau, dt float64, prev, in []float64) {
	k := dt / tau
	for i := range dst {
		dst[i] = prev[i] + k*(in[i]-prev[i])
	}
}

// Lowpass is a stateful filter bound to one connection. The zero value with
// Tau == 0 is a pass-through filter.
type Lowpass struct {
	Tau   float64
	state []float64
}

// NewLowpass creates a filter of the given dimension with zeroed state.
func NewLowpass(tau float64, dim int) (*Lowpass, error) {
	if tau < 0 {
		return nil, fmt.Errorf("%w: %g", ErrNegativeTau, tau)
	}
	return &Lowpass{Tau: tau, state: make([]float64, dim)}, nil
}

// Step advances the filter by dt with input in and writes the output to out.
// For a pass-through filter the state tracks the input so that State always
// reports the last output.
func (lp *Lowpass) Step(dt float64, in, out []float64) {
	if lp.Tau == 0 {
		copy(lp.state, in)
		copy(out, in)
		return
	}
	step(lp.state, lp.Tau, dt, lp.state, in)
	copy(out, lp.state)
}

// Reset zeroes the filter state.
func (lp *Lowpass) Reset() {
	for i := range lp.state {
		lp.state[i] = 0
	}
}

// Seed sets the filter state, e.g. to start a recurrent loop at a non-zero
// initial condition.
func (lp *Lowpass) Seed(v []float64) error {
	if len(v) != len(lp.state) {
		return fmt.Errorf("synapse: seed length %d does not match filter dimension %d", len(v), len(lp.state))
	}
	copy(lp.state, v)
	return nil
}

// State returns a copy of the filter state.
func (lp *Lowpass) State() []float64 {
	out := make([]float64, len(lp.state))
	copy(out, lp.state)
	return out
}

// Dim returns the filter dimension.
func (lp *Lowpass) Dim() int {
	return len(lp.state)
}

// Settled reports whether the filter output is within tol of target in every
// component (max-norm).
func (lp *Lowpass) Settled(target []float64, tol float64) bool {
	if len(target) != len(lp.state) {
		return false
	}
	return floats.EqualApprox(lp.state, target, tol)
}

package network

import "math"

// Constant returns a value function that always yields v.
func Constant(v ...float64) ValueFunc {
	val := append([]float64(nil), v...)
	return func(float64) []float64 {
		out := make([]float64, len(val))
		copy(out, val)
		return out
	}
}

// StepAt returns a value function that yields before until time t0 and
// after from t0 onward. before and after must have the same length.
func StepAt(t0 float64, before, after []float64) ValueFunc {
	b := append([]float64(nil), before...)
	a := append([]float64(nil), after...)
	return func(t float64) []float64 {
		src := b
		if t >= t0 {
			src = a
		}
		out := make([]float64, len(src))
		copy(out, src)
		return out
	}
}

// Sine returns a scalar value function amp*sin(2*pi*hz*t + phase) + offset.
func Sine(amp, hz, phase, offset float64) ValueFunc {
	return func(t float64) []float64 {
		return []float64{amp*math.Sin(2*math.Pi*hz*t+phase) + offset}
	}
}

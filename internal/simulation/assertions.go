package simulation

import (
	"math"
	"testing"

	"github.com/nvandessel/pcosc/internal/synapse"
)

// samplesAfter returns the values of component i recorded at or after
// simulated time t0.
func samplesAfter(result SimulationResult, population string, i int, t0 float64) []float64 {
	times, values := result.Series(population, i)
	for k, tm := range times {
		if tm >= t0 {
			return values[k:]
		}
	}
	return nil
}

// AssertConverges asserts that component i of a population stays within tol
// of target from simulated time afterTime on.
func AssertConverges(t *testing.T, result SimulationResult, population string, i int, target, tol, afterTime float64) {
	t.Helper()
	vals := samplesAfter(result, population, i, afterTime)
	if len(vals) == 0 {
		t.Errorf("AssertConverges: %s[%d]: no samples after t=%.3f", population, i, afterTime)
		return
	}
	for k, v := range vals {
		if math.Abs(v-target) > tol {
			t.Errorf("AssertConverges: %s[%d] = %.6f at sample %d after t=%.3f, want %.4f +/- %.4g",
				population, i, v, k, afterTime, target, tol)
			return
		}
	}
}

// AssertSettles asserts that a population's recorded trace, smoothed by a
// low-pass filter with time constant tau, ends within tol of target in every
// component. Smoothing lets an oscillating or ringing signal pass when its
// local mean has settled.
func AssertSettles(t *testing.T, result SimulationResult, population string, target []float64, tau, tol float64) {
	t.Helper()
	times := result.Trace.Times()
	vals := result.Trace.Trace(population)
	if len(vals) == 0 {
		t.Errorf("AssertSettles: %s: no samples", population)
		return
	}
	if len(vals[0]) != len(target) {
		t.Errorf("AssertSettles: %s has %d components, target has %d", population, len(vals[0]), len(target))
		return
	}
	lp, err := synapse.NewLowpass(tau, len(target))
	if err != nil {
		t.Errorf("AssertSettles: %v", err)
		return
	}
	if err := lp.Seed(vals[0]); err != nil {
		t.Errorf("AssertSettles: %v", err)
		return
	}
	out := make([]float64, len(target))
	for k := 1; k < len(vals); k++ {
		lp.Step(times[k]-times[k-1], vals[k], out)
	}
	if !lp.Settled(target, tol) {
		t.Errorf("AssertSettles: %s smoothed (tau=%g) to %v at t=%.3f, want %v +/- %.4g",
			population, tau, lp.State(), times[len(times)-1], target, tol)
	}
}

// AssertBounded asserts that every recorded component of a population stays
// within [-bound, bound].
func AssertBounded(t *testing.T, result SimulationResult, population string, bound float64) {
	t.Helper()
	times := result.Trace.Times()
	for k, v := range result.Trace.Trace(population) {
		for i, x := range v {
			if math.Abs(x) > bound {
				t.Errorf("AssertBounded: %s[%d] = %.6f at t=%.4f exceeds %.4f", population, i, x, times[k], bound)
				return
			}
		}
	}
}

// AssertDecays asserts that |component i| never grows between consecutive
// samples after afterTime.
func AssertDecays(t *testing.T, result SimulationResult, population string, i int, afterTime float64) {
	t.Helper()
	vals := samplesAfter(result, population, i, afterTime)
	for k := 1; k < len(vals); k++ {
		if math.Abs(vals[k]) > math.Abs(vals[k-1]) {
			t.Errorf("AssertDecays: |%s[%d]| grew at sample %d after t=%.3f: %.6g -> %.6g",
				population, i, k, afterTime, vals[k-1], vals[k])
			return
		}
	}
}

// MeanSquareRadius returns the mean of x0^2 + x1^2 over the samples of a
// population's (x0, x1) plane after afterTime.
func MeanSquareRadius(result SimulationResult, population string, afterTime float64) float64 {
	x0 := samplesAfter(result, population, 0, afterTime)
	x1 := samplesAfter(result, population, 1, afterTime)
	if len(x0) == 0 {
		return math.NaN()
	}
	var sum float64
	for k := range x0 {
		sum += x0[k]*x0[k] + x1[k]*x1[k]
	}
	return sum / float64(len(x0))
}

// AssertAmplitude asserts that the mean squared radius of a population's
// (x0, x1) plane after afterTime is within tol of amplitude^2.
func AssertAmplitude(t *testing.T, result SimulationResult, population string, amplitude, tol, afterTime float64) {
	t.Helper()
	r2 := MeanSquareRadius(result, population, afterTime)
	if math.IsNaN(r2) {
		t.Errorf("AssertAmplitude: %s: no samples after t=%.3f", population, afterTime)
		return
	}
	if want := amplitude * amplitude; math.Abs(r2-want) > tol {
		t.Errorf("AssertAmplitude: %s mean r^2 = %.6f, want %.4f +/- %.4g", population, r2, want, tol)
	}
}

// ZeroCrossings counts sign changes in a series.
func ZeroCrossings(values []float64) int {
	n := 0
	for k := 1; k < len(values); k++ {
		if (values[k-1] < 0) != (values[k] < 0) {
			n++
		}
	}
	return n
}

// AssertOscillates asserts that component i crosses zero between min and max
// times after afterTime.
func AssertOscillates(t *testing.T, result SimulationResult, population string, i int, min, max int, afterTime float64) {
	t.Helper()
	n := ZeroCrossings(samplesAfter(result, population, i, afterTime))
	if n < min || n > max {
		t.Errorf("AssertOscillates: %s[%d] crossed zero %d times after t=%.3f, want [%d, %d]",
			population, i, n, afterTime, min, max)
	}
}

// AssertStill asserts that component i never changes after afterTime.
func AssertStill(t *testing.T, result SimulationResult, population string, i int, afterTime float64) {
	t.Helper()
	vals := samplesAfter(result, population, i, afterTime)
	for k := 1; k < len(vals); k++ {
		if vals[k] != vals[0] {
			t.Errorf("AssertStill: %s[%d] changed from %.6g to %.6g", population, i, vals[0], vals[k])
			return
		}
	}
}

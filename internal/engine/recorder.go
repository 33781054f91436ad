package engine

// Recorder observes the state after every completed step. states maps each
// population name to its current vector; the map and its slices are reused
// by the integrator and are only valid for the duration of the call.
// Returning an error aborts the run.
type Recorder interface {
	Record(step int, t float64, states map[string][]float64) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(step int, t float64, states map[string][]float64) error

// Record calls f.
func (f RecorderFunc) Record(step int, t float64, states map[string][]float64) error {
	return f(step, t, states)
}

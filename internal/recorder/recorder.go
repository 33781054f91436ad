// Package recorder provides engine.Recorder implementations: in-memory
// traces, low-pass probes, decimation, fan-out and an Arrow IPC writer.
package recorder

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/synapse"
)

// Memory keeps a copy of every recorded step in memory.
type Memory struct {
	mu     sync.Mutex
	only   map[string]bool
	steps  []int
	times  []float64
	traces map[string][][]float64
}

// NewMemory records the named populations, or all of them if none are given.
func NewMemory(populations ...string) *Memory {
	m := &Memory{traces: make(map[string][][]float64)}
	if len(populations) > 0 {
		m.only = make(map[string]bool, len(populations))
		for _, p := range populations {
			m.only[p] = true
		}
	}
	return m
}

// Record implements engine.Recorder.
func (m *Memory) Record(step int, t float64, states map[string][]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.only {
		if _, ok := states[name]; !ok {
			return fmt.Errorf("memory recorder: no population %q", name)
		}
	}
	m.steps = append(m.steps, step)
	m.times = append(m.times, t)
	for name, v := range states {
		if m.only != nil && !m.only[name] {
			continue
		}
		m.traces[name] = append(m.traces[name], append([]float64(nil), v...))
	}
	return nil
}

// Len returns the number of recorded steps.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

// Steps returns the recorded step numbers.
func (m *Memory) Steps() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.steps...)
}

// Times returns the recorded simulated times.
func (m *Memory) Times() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.times...)
}

// Trace returns the recorded vectors of one population, one per step.
func (m *Memory) Trace(name string) [][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.traces[name]
}

// Component returns one component of a population over time.
func (m *Memory) Component(name string, i int) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := m.traces[name]
	out := make([]float64, len(tr))
	for k, v := range tr {
		out[k] = v[i]
	}
	return out
}

// Last returns the most recent vector of a population, or nil.
func (m *Memory) Last(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := m.traces[name]
	if len(tr) == 0 {
		return nil
	}
	return tr[len(tr)-1]
}

// Populations returns the recorded population names, sorted.
func (m *Memory) Populations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.traces))
	for name := range m.traces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProbeSynapse is the probe filter time constant used by the CLI.
const DefaultProbeSynapse = 0.01

// Probe low-pass filters selected populations and forwards the filtered
// values to another recorder, the way a physical measurement would smooth
// the decoded signal.
type Probe struct {
	next    engine.Recorder
	dt      float64
	tau     float64
	only    []string
	filters map[string]*synapse.Lowpass
	out     map[string][]float64
}

// NewProbe creates a probe with time constant tau (zero passes values
// through). dt must match the run's time step.
func NewProbe(next engine.Recorder, dt, tau float64, populations ...string) (*Probe, error) {
	if next == nil {
		return nil, errors.New("probe: nil downstream recorder")
	}
	if !(dt > 0) {
		return nil, fmt.Errorf("probe: dt must be positive, got %g", dt)
	}
	if tau < 0 {
		return nil, fmt.Errorf("probe: %w: %g", synapse.ErrNegativeTau, tau)
	}
	return &Probe{
		next:    next,
		dt:      dt,
		tau:     tau,
		only:    populations,
		filters: make(map[string]*synapse.Lowpass),
		out:     make(map[string][]float64),
	}, nil
}

// Record implements engine.Recorder.
func (p *Probe) Record(step int, t float64, states map[string][]float64) error {
	names := p.only
	if len(names) == 0 {
		names = make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
	}
	for _, name := range names {
		v, ok := states[name]
		if !ok {
			return fmt.Errorf("probe: no population %q", name)
		}
		lp, ok := p.filters[name]
		if !ok {
			var err error
			if lp, err = synapse.NewLowpass(p.tau, len(v)); err != nil {
				return err
			}
			p.filters[name] = lp
			p.out[name] = make([]float64, len(v))
		}
		lp.Step(p.dt, v, p.out[name])
	}
	return p.next.Record(step, t, p.out)
}

// Every forwards only steps that are a multiple of n.
func Every(n int, next engine.Recorder) engine.Recorder {
	if n <= 1 {
		return next
	}
	return engine.RecorderFunc(func(step int, t float64, states map[string][]float64) error {
		if step%n != 0 {
			return nil
		}
		return next.Record(step, t, states)
	})
}

// Multi fans each step out to every non-nil recorder in order and stops at
// the first error.
func Multi(recs ...engine.Recorder) engine.Recorder {
	var live []engine.Recorder
	for _, r := range recs {
		if r != nil {
			live = append(live, r)
		}
	}
	return engine.RecorderFunc(func(step int, t float64, states map[string][]float64) error {
		for _, r := range live {
			if err := r.Record(step, t, states); err != nil {
				return err
			}
		}
		return nil
	})
}

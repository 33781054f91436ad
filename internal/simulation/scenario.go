package simulation

import (
	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/model"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/nvandessel/pcosc/internal/recorder"
)

// DefaultDT is the time step used when a scenario leaves DT unset.
const DefaultDT = 0.001

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name string

	// Params builds the reference model. Ignored when Graph is set.
	Params *model.Params

	// Graph runs an arbitrary network instead of the reference model.
	Graph *network.Graph

	DT       float64 // 0 = DefaultDT
	Duration float64
	Workers  int

	// SampleEvery keeps every n-th step in the in-memory trace. 0 keeps all.
	SampleEvery int

	// Populations restricts the trace to the named populations.
	Populations []string

	// Persist stores the sampled steps in the runner's SQLite store.
	Persist bool

	// Resume continues from a snapshot instead of time zero.
	Resume *engine.Snapshot
}

func (s Scenario) dt() float64 {
	if s.DT > 0 {
		return s.DT
	}
	return DefaultDT
}

// SimulationResult captures the trace and end state of a scenario.
type SimulationResult struct {
	Name   string
	Graph  *network.Graph
	Trace  *recorder.Memory
	Result *engine.RunResult

	// RunID identifies the persisted run; empty unless Scenario.Persist.
	RunID string
}

// Series returns component i of a population's trace with its sample times.
func (r SimulationResult) Series(population string, i int) (times, values []float64) {
	return r.Trace.Times(), r.Trace.Component(population, i)
}

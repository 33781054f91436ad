package simulation

import (
	"context"
	"testing"

	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/logging"
	"github.com/nvandessel/pcosc/internal/model"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/nvandessel/pcosc/internal/recorder"
	"github.com/nvandessel/pcosc/internal/store"
)

// Runner orchestrates simulation experiments against a real engine and run
// store.
type Runner struct {
	t     *testing.T
	store *store.SQLiteStore
}

// NewRunner creates a simulation runner with an isolated SQLite store
// and sandboxed HOME directory.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	s, err := store.NewSQLiteStore(tmpDir)
	if err != nil {
		t.Fatalf("NewRunner: failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &Runner{t: t, store: s}
}

// Store returns the runner's run store.
func (r *Runner) Store() *store.SQLiteStore { return r.store }

// Run executes the scenario and returns the collected results. Any engine
// error fails the test.
func (r *Runner) Run(scenario Scenario) SimulationResult {
	r.t.Helper()
	res, err := r.RunErr(scenario)
	if err != nil {
		r.t.Fatalf("scenario %q: %v", scenario.Name, err)
	}
	return res
}

// RunErr executes the scenario and returns the engine error, if any,
// alongside the partial result.
func (r *Runner) RunErr(scenario Scenario) (SimulationResult, error) {
	r.t.Helper()
	ctx := context.Background()

	// Phase 1: Build the network.
	g := r.graph(scenario)

	// Phase 2: Wire recorders.
	mem := recorder.NewMemory(scenario.Populations...)
	rec := recorder.Every(scenario.SampleEvery, mem)

	var runRec *store.RunRecorder
	if scenario.Persist {
		run := store.Run{Label: scenario.Name, DT: scenario.dt(), Duration: scenario.Duration}
		if scenario.Params != nil {
			run.Params = scenario.Params.Map()
		}
		var err error
		runRec, err = r.store.BeginRun(ctx, run)
		if err != nil {
			r.t.Fatalf("scenario %q: BeginRun: %v", scenario.Name, err)
		}
		rec = recorder.Multi(rec, recorder.Every(scenario.SampleEvery, runRec))
	}

	// Phase 3: Run.
	result, runErr := engine.Run(ctx, g, engine.Config{
		DT:       scenario.dt(),
		Duration: scenario.Duration,
		Workers:  scenario.Workers,
		Resume:   scenario.Resume,
		Logger:   logging.Discard(),
	}, rec)

	sim := SimulationResult{Name: scenario.Name, Graph: g, Trace: mem, Result: result}
	if runRec != nil {
		sim.RunID = runRec.ID()
		if err := runRec.Close(); err != nil {
			r.t.Fatalf("scenario %q: closing run recorder: %v", scenario.Name, err)
		}
		steps, final := 0, 0.0
		if result != nil {
			steps, final = result.StepCount, result.FinalTime
		}
		if err := r.store.FinishRun(ctx, sim.RunID, steps, final, runErr); err != nil {
			r.t.Fatalf("scenario %q: FinishRun: %v", scenario.Name, err)
		}
	}
	return sim, runErr
}

func (r *Runner) graph(scenario Scenario) *network.Graph {
	r.t.Helper()
	if scenario.Graph != nil {
		return scenario.Graph
	}
	p := model.DefaultParams()
	if scenario.Params != nil {
		p = *scenario.Params
	}
	g, err := model.Build(p)
	if err != nil {
		r.t.Fatalf("scenario %q: building model: %v", scenario.Name, err)
	}
	return g
}

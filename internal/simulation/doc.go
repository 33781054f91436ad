// Package simulation provides a scenario test harness for validating the
// emergent dynamics of networks run by the engine.
//
// The simulation exercises the real engine, recorders and SQLite run store,
// with no mocks. Scenarios describe a network (model parameters or a
// prebuilt graph), a time step and a duration; the runner executes them,
// keeps a decimated in-memory trace and persists the run, so assertions can
// check convergence, boundedness and oscillation properties.
//
// Each test gets an isolated SQLite database via t.TempDir() and a sandboxed
// HOME to prevent touching user data.
//
// Usage:
//
//	func TestHierarchyConverges(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    p := model.DefaultParams()
//	    p.Stim = 0.5
//	    result := r.Run(simulation.Scenario{
//	        Name:     "hierarchy",
//	        Params:   &p,
//	        Duration: 10,
//	    })
//	    simulation.AssertConverges(t, result, "layer2", 0, 0.5, 1e-3, 8)
//	}
package simulation

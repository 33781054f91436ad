package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nvandessel/pcosc/internal/logging"
	"github.com/nvandessel/pcosc/internal/network"
)

// Config holds the parameters of a single run.
type Config struct {
	// DT is the fixed time step in seconds.
	DT float64

	// Duration is the simulated time to advance. The number of steps is
	// round(Duration/DT), at least one.
	Duration float64

	// Workers bounds read-phase parallelism. Results are identical for any
	// value.
	Workers int

	// Resume, when set, continues from a snapshot instead of time zero.
	Resume *Snapshot

	Logger *slog.Logger
	Events *logging.EventLogger
}

// MaxSteps bounds the step index of a run. Beyond 2^53 the step counter no
// longer maps to a distinct float64 time.
const MaxSteps = 1 << 53

// StepsFor returns the number of steps Run takes for duration and dt:
// round(duration/dt), at least one. A count above MaxSteps is
// ErrInvalidConfig.
func StepsFor(duration, dt float64) (int, error) {
	r := math.Round(duration / dt)
	if math.IsNaN(r) || r > MaxSteps {
		return 0, invalidConfig("duration %g / dt %g is more than %d steps", duration, dt, MaxSteps)
	}
	n := int(r)
	if n < 1 {
		n = 1
	}
	return n, nil
}

// RunResult describes where a run ended. On error it reflects the last good
// step.
type RunResult struct {
	FinalTime   float64
	FinalStates map[string][]float64
	// StepCount is the number of steps executed by this run.
	StepCount int
	// Snapshot is the resumable end state.
	Snapshot Snapshot
}

// Run executes the graph for cfg.Duration and hands every step to rec (which
// may be nil). It returns a partial result alongside ctx.Err() on
// cancellation, a *NumericInstabilityError if a state becomes non-finite, or
// the recorder's error wrapped.
func Run(ctx context.Context, g *network.Graph, cfg Config, rec Recorder) (*RunResult, error) {
	if !(cfg.Duration > 0) || math.IsInf(cfg.Duration, 0) {
		return nil, invalidConfig("duration must be positive and finite, got %g", cfg.Duration)
	}

	in, err := New(g, Options{DT: cfg.DT, Workers: cfg.Workers, Logger: cfg.Logger, Events: cfg.Events})
	if err != nil {
		return nil, err
	}
	if cfg.Resume != nil {
		if err := in.Restore(*cfg.Resume); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	steps, err := StepsFor(cfg.Duration, cfg.DT)
	if err != nil {
		return nil, err
	}
	startStep := in.Steps()
	if steps > MaxSteps-startStep {
		return nil, invalidConfig("resuming at step %d for %d steps exceeds %d", startStep, steps, MaxSteps)
	}
	in.logger.Debug("run starting", "dt", cfg.DT, "duration", cfg.Duration, "steps", steps,
		"populations", len(g.Populations()), "connections", len(g.Connections()), "workers", cfg.Workers)
	cfg.Events.Log(map[string]any{
		"event":       "run_start",
		"dt":          cfg.DT,
		"duration":    cfg.Duration,
		"steps":       steps,
		"start_step":  startStep,
		"populations": len(g.Populations()),
		"connections": len(g.Connections()),
	})

	started := time.Now()
	runErr := in.run(ctx, steps, rec)
	in.Stop()

	res := &RunResult{
		FinalTime:   in.Time(),
		FinalStates: in.States(),
		StepCount:   in.Steps() - startStep,
		Snapshot:    in.Snapshot(),
	}
	var inst *NumericInstabilityError
	if errors.As(runErr, &inst) {
		res.Snapshot = inst.Last
	}

	event := map[string]any{
		"event":      "run_complete",
		"steps":      res.StepCount,
		"sim_time":   res.FinalTime,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if runErr != nil {
		event["event"] = "run_aborted"
		event["error"] = runErr.Error()
	}
	cfg.Events.Log(event)
	in.logger.Debug("run finished", "steps", res.StepCount, "t", res.FinalTime,
		"elapsed", time.Since(started), "error", runErr)

	return res, runErr
}

func (in *Integrator) run(ctx context.Context, steps int, rec Recorder) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.Step(); err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		// Step has returned, so the published map is stable until the next one.
		if err := rec.Record(in.step, in.time, in.current); err != nil {
			return fmt.Errorf("recorder at step %d: %w", in.step, err)
		}
	}
	return nil
}

// Package session executes one simulation run with all of its outputs wired:
// an in-memory trace, an Arrow trace file, the SQLite run store and a
// resumable checkpoint. The CLI and the MCP server both run through it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nvandessel/pcosc/internal/checkpoint"
	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/logging"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/nvandessel/pcosc/internal/recorder"
	"github.com/nvandessel/pcosc/internal/store"
)

// Request describes a run and where its output goes. Only Graph, DT and
// Duration are required.
type Request struct {
	Graph    *network.Graph
	DT       float64
	Duration float64
	Workers  int

	// Resume continues from a snapshot, typically read from a checkpoint.
	Resume *engine.Snapshot

	// Label and Params are stored with the run.
	Label  string
	Params map[string]any

	// Populations restricts every output to the named populations. Empty
	// means all.
	Populations []string

	// ProbeSynapse low-pass filters recorded values. 0 records raw state.
	ProbeSynapse float64

	// SampleEvery records every n-th step. 0 or 1 records all.
	SampleEvery int

	// Trace keeps the sampled values in memory.
	Trace bool

	// ArrowPath writes the sampled values to an Arrow IPC file.
	ArrowPath string

	// Store persists the sampled values. BatchSize overrides the store's
	// default transaction size when positive.
	Store     *store.SQLiteStore
	BatchSize int

	// CheckpointPath saves the end state, even of a cancelled run.
	CheckpointPath string

	Logger *slog.Logger
	Events *logging.EventLogger

	// Observer, when set, sees every step before sampling.
	Observer engine.Recorder
}

// Result is what a session produced.
type Result struct {
	Run *engine.RunResult

	// RunID is the store's ID for the run; empty without a store.
	RunID string

	Trace      *recorder.Memory
	ArrowRows  int
	Checkpoint string
}

// Run executes req. The returned Result is non-nil whenever the run started,
// including on cancellation or instability, so partial output is never lost.
func Run(ctx context.Context, req Request) (*Result, error) {
	if req.Graph == nil {
		return nil, fmt.Errorf("%w: nil graph", engine.ErrInvalidConfig)
	}
	logger := req.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	pops, err := selectPopulations(req.Graph, req.Populations)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(pops))
	for i, p := range pops {
		names[i] = p.Name
	}

	res := &Result{}
	var sinks []engine.Recorder
	var closers []func() error

	if req.Trace {
		res.Trace = recorder.NewMemory(names...)
		sinks = append(sinks, res.Trace)
	}

	var aw *recorder.ArrowWriter
	if req.ArrowPath != "" {
		if err := os.MkdirAll(filepath.Dir(req.ArrowPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
		w, closeFn, err := recorder.CreateArrowFile(req.ArrowPath, pops, recorder.DefaultBatchRows)
		if err != nil {
			return nil, err
		}
		aw = w
		sinks = append(sinks, aw)
		closers = append(closers, closeFn)
	}

	var runRec *store.RunRecorder
	if req.Store != nil {
		runRec, err = req.Store.BeginRun(ctx, store.Run{
			Label:    req.Label,
			DT:       req.DT,
			Duration: req.Duration,
			Params:   req.Params,
		})
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		if req.BatchSize > 0 {
			runRec.SetBatchSize(req.BatchSize)
		}
		res.RunID = runRec.ID()
		sinks = append(sinks, onlyPopulations(names, runRec))
		closers = append(closers, runRec.Close)
	}

	rec, err := chain(req, names, sinks)
	if err != nil {
		closeAll(closers)
		if runRec != nil {
			_ = req.Store.FinishRun(ctx, res.RunID, 0, 0, err)
		}
		return nil, err
	}

	logger.Debug("session starting", "label", req.Label, "populations", len(names),
		"trace", req.Trace, "arrow", req.ArrowPath != "", "store", runRec != nil)

	run, runErr := engine.Run(ctx, req.Graph, engine.Config{
		DT:       req.DT,
		Duration: req.Duration,
		Workers:  req.Workers,
		Resume:   req.Resume,
		Logger:   logger,
		Events:   req.Events,
	}, rec)
	res.Run = run

	closeErr := closeAll(closers)
	if aw != nil {
		res.ArrowRows = aw.Rows()
	}

	if runRec != nil {
		steps, final := 0, 0.0
		if run != nil {
			steps, final = run.StepCount, run.FinalTime
		}
		if err := req.Store.FinishRun(ctx, res.RunID, steps, final, runErr); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}

	if req.CheckpointPath != "" && run != nil {
		meta := map[string]string{}
		if req.Label != "" {
			meta["label"] = req.Label
		}
		if res.RunID != "" {
			meta["run_id"] = res.RunID
		}
		if err := checkpoint.Write(req.CheckpointPath, req.Graph, run.Snapshot, meta); err != nil {
			closeErr = errors.Join(closeErr, err)
		} else {
			res.Checkpoint = req.CheckpointPath
		}
	}

	if run == nil {
		// Rejected before the first step.
		return nil, errors.Join(runErr, closeErr)
	}
	if closeErr != nil {
		logger.Warn("session outputs incomplete", "error", closeErr)
	}
	return res, errors.Join(runErr, closeErr)
}

// chain builds observer -> probe -> decimation -> sinks.
func chain(req Request, names []string, sinks []engine.Recorder) (engine.Recorder, error) {
	if len(sinks) == 0 && req.Observer == nil {
		return nil, nil
	}
	var rec engine.Recorder
	if len(sinks) > 0 {
		rec = recorder.Every(req.SampleEvery, recorder.Multi(sinks...))
		if req.ProbeSynapse > 0 {
			p, err := recorder.NewProbe(rec, req.DT, req.ProbeSynapse, names...)
			if err != nil {
				return nil, err
			}
			rec = p
		}
	}
	return recorder.Multi(req.Observer, rec), nil
}

// onlyPopulations forwards the named populations only.
func onlyPopulations(names []string, next engine.Recorder) engine.Recorder {
	sub := make(map[string][]float64, len(names))
	return engine.RecorderFunc(func(step int, t float64, states map[string][]float64) error {
		for _, n := range names {
			sub[n] = states[n]
		}
		return next.Record(step, t, sub)
	})
}

func selectPopulations(g *network.Graph, names []string) ([]*network.Population, error) {
	if len(names) == 0 {
		return g.Populations(), nil
	}
	out := make([]*network.Population, 0, len(names))
	for _, n := range names {
		p, ok := g.Population(n)
		if !ok {
			return nil, fmt.Errorf("%w: unknown population %q", engine.ErrInvalidConfig, n)
		}
		out = append(out, p)
	}
	return out, nil
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/pcosc/internal/checkpoint"
	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/model"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/nvandessel/pcosc/internal/pathutil"
	"github.com/nvandessel/pcosc/internal/sanitize"
	"github.com/nvandessel/pcosc/internal/session"
	"github.com/nvandessel/pcosc/internal/store"
	"github.com/nvandessel/pcosc/internal/visualization"
	"gopkg.in/yaml.v3"
)

const (
	modelResourceURI  = "pcosc://model/definition"
	runResourcePrefix = "pcosc://runs/"

	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// registerTools registers all pcosc MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pcosc_run",
		Description: "Run the predictive coding oscillator model, or an inline YAML network, and return final states and sampled traces",
	}, s.handlePcoscRun)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pcosc_validate",
		Description: "Check a network or model parameter set for topology and dimension errors without running it",
	}, s.handlePcoscValidate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pcosc_graph",
		Description: "Render a network topology in DOT (Graphviz) or JSON format",
	}, s.handlePcoscGraph)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pcosc_runs",
		Description: "List stored runs, or show one run and its recorded samples",
	}, s.handlePcoscRuns)

	return nil
}

// registerResources registers MCP resources for loading into context.
func (s *Server) registerResources() error {
	s.server.AddResource(&sdk.Resource{
		URI:         modelResourceURI,
		Name:        "pcosc-model-definition",
		Description: "The reference model with the configured parameters as a YAML network definition. Edit it and pass it to pcosc_run as network.",
		MIMEType:    "application/yaml",
	}, s.handleModelResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: runResourcePrefix + "{id}",
		Name:        "pcosc-run",
		Description: "Metadata of a stored run as JSON.",
		MIMEType:    "application/json",
	}, s.handleRunResource)

	return nil
}

func (s *Server) handleModelResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	data, err := yaml.Marshal(model.Definition(s.cfg.Model))
	if err != nil {
		return nil, fmt.Errorf("encoding model definition: %w", err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      modelResourceURI,
				MIMEType: "application/yaml",
				Text:     string(data),
			},
		},
	}, nil
}

func (s *Server) handleRunResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	if !strings.HasPrefix(uri, runResourcePrefix) {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	id := strings.TrimPrefix(uri, runResourcePrefix)
	if id == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding run: %w", err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

// builderFor returns the declarations of an inline network definition, or of
// the reference model with overrides applied to the configured parameters.
// The metadata describes the source for run records.
func (s *Server) builderFor(def string, overrides map[string]float64) (*network.Builder, map[string]any, error) {
	if strings.TrimSpace(def) != "" {
		if len(overrides) > 0 {
			return nil, nil, fmt.Errorf("%w: params apply to the reference model only", engine.ErrInvalidConfig)
		}
		d, err := network.ParseDefinition([]byte(def))
		if err != nil {
			return nil, nil, err
		}
		b, err := d.Builder()
		if err != nil {
			return nil, nil, err
		}
		return b, map[string]any{"network": "inline"}, nil
	}

	p, err := s.cfg.Model.With(overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", engine.ErrInvalidConfig, err)
	}
	if err := p.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", engine.ErrInvalidConfig, err)
	}
	return model.Builder(p), p.Map(), nil
}

func (s *Server) graphFor(def string, overrides map[string]float64) (*network.Graph, map[string]any, error) {
	b, meta, err := s.builderFor(def, overrides)
	if err != nil {
		return nil, nil, err
	}
	g, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return g, meta, nil
}

// scopeFor reports ScopeGlobal when any written path lies in the home output
// directory.
func (s *Server) scopeFor(paths ...string) string {
	if len(s.outputDirs) == 0 {
		return ScopeLocal
	}
	home := s.outputDirs[:1]
	for _, p := range paths {
		if p != "" && pathutil.ValidatePath(p, home) == nil {
			return ScopeGlobal
		}
	}
	return ScopeLocal
}

// handlePcoscRun implements the pcosc_run tool.
func (s *Server) handlePcoscRun(ctx context.Context, req *sdk.CallToolRequest, args PcoscRunInput) (_ *sdk.CallToolResult, _ PcoscRunOutput, retErr error) {
	start := time.Now()
	var arrowPath, ckptPath string
	defer func() {
		s.auditTool("pcosc_run", start, retErr, sanitizeToolParams(map[string]interface{}{
			"network": args.Network, "params": args.Params, "dt": args.DT, "duration": args.Duration,
			"workers": args.Workers, "populations": args.Populations, "probe_synapse": args.ProbeSynapse,
			"samples": args.Samples, "label": args.Label, "persist": args.Persist,
			"arrow_file": args.ArrowFile, "checkpoint": args.Checkpoint, "resume": args.Resume,
		}), s.scopeFor(arrowPath, ckptPath))
	}()

	if err := s.toolLimiters.CheckLimit("pcosc_run"); err != nil {
		return nil, PcoscRunOutput{}, err
	}

	g, meta, err := s.graphFor(args.Network, args.Params)
	if err != nil {
		return nil, PcoscRunOutput{}, err
	}

	dt := args.DT
	if dt == 0 {
		dt = s.cfg.Simulation.DT
	}
	duration := args.Duration
	if duration == 0 {
		duration = s.cfg.Simulation.Duration
	}
	workers := args.Workers
	if workers == 0 {
		workers = s.cfg.Simulation.Workers
	}

	var resume *engine.Snapshot
	if args.Resume != "" {
		path, err := pathutil.Resolve(args.Resume, s.outputDirs)
		if err != nil {
			return nil, PcoscRunOutput{}, err
		}
		cp, err := checkpoint.Read(path, g)
		if err != nil {
			return nil, PcoscRunOutput{}, err
		}
		if args.DT == 0 && cp.Header.DT > 0 {
			dt = cp.Header.DT
		}
		resume = &cp.Snapshot
	}

	if !(dt > 0) || !(duration > 0) || math.IsInf(dt, 0) || math.IsInf(duration, 0) {
		return nil, PcoscRunOutput{}, fmt.Errorf("%w: dt and duration must be positive and finite", engine.ErrInvalidConfig)
	}
	if n := math.Round(duration / dt); n > float64(s.cfg.MCP.MaxSteps) {
		return nil, PcoscRunOutput{}, fmt.Errorf("%w: %.0f steps exceeds the limit of %d, use the CLI for long runs",
			engine.ErrInvalidConfig, n, s.cfg.MCP.MaxSteps)
	}
	steps, err := engine.StepsFor(duration, dt)
	if err != nil {
		return nil, PcoscRunOutput{}, err
	}
	if err := s.toolLimiters.CheckSteps(steps); err != nil {
		return nil, PcoscRunOutput{}, err
	}

	every := s.cfg.Simulation.SampleEvery
	if args.Samples > 0 {
		n := min(args.Samples, s.cfg.MCP.MaxSamples)
		every = max(1, (steps+n-1)/n)
	}

	if args.ArrowFile != "" {
		if arrowPath, err = pathutil.Resolve(args.ArrowFile, s.outputDirs); err != nil {
			return nil, PcoscRunOutput{}, err
		}
	}
	if args.Checkpoint != "" {
		if ckptPath, err = pathutil.Resolve(args.Checkpoint, s.outputDirs); err != nil {
			return nil, PcoscRunOutput{}, err
		}
	}

	sr := session.Request{
		Graph:          g,
		DT:             dt,
		Duration:       duration,
		Workers:        workers,
		Resume:         resume,
		Label:          sanitize.SanitizeLabel(args.Label),
		Params:         meta,
		Populations:    args.Populations,
		ProbeSynapse:   args.ProbeSynapse,
		SampleEvery:    every,
		Trace:          args.Samples > 0,
		ArrowPath:      arrowPath,
		CheckpointPath: ckptPath,
		Logger:         s.logger,
		Events:         s.events,
	}
	if args.Persist {
		sr.Store = s.store
		sr.BatchSize = s.cfg.Store.BatchSize
	}

	res, err := session.Run(ctx, sr)
	status := store.StatusCompleted
	var inst *engine.NumericInstabilityError
	switch {
	case err == nil:
	case errors.As(err, &inst) && res != nil:
		status = "unstable"
	default:
		return nil, PcoscRunOutput{}, err
	}

	out := PcoscRunOutput{
		RunID:       res.RunID,
		Status:      status,
		Steps:       res.Run.StepCount,
		FinalTime:   res.Run.FinalTime,
		FinalStates: res.Run.FinalStates,
		ArrowRows:   res.ArrowRows,
		Checkpoint:  res.Checkpoint,
	}
	if arrowPath != "" {
		out.ArrowFile = arrowPath
	}
	if res.Trace != nil {
		out.Times = res.Trace.Times()
		out.Samples = make(map[string][][]float64)
		for _, name := range res.Trace.Populations() {
			out.Samples[name] = res.Trace.Trace(name)
		}
	}

	if inst != nil {
		out.Message = fmt.Sprintf("Run stopped at step %d: %s[%d] became %g. Final states are from the last finite step.",
			inst.Step, inst.Population, inst.Index, inst.Value)
	} else {
		out.Message = fmt.Sprintf("Ran %d steps to t=%gs", out.Steps, out.FinalTime)
		if out.RunID != "" {
			out.Message += fmt.Sprintf(" (run %s)", out.RunID)
		}
	}
	return nil, out, nil
}

// handlePcoscValidate implements the pcosc_validate tool. Problems with the
// network are reported in the output, not as a tool error.
func (s *Server) handlePcoscValidate(ctx context.Context, req *sdk.CallToolRequest, args PcoscValidateInput) (_ *sdk.CallToolResult, _ PcoscValidateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pcosc_validate", start, retErr, sanitizeToolParams(map[string]interface{}{
			"network": args.Network, "params": args.Params,
		}), ScopeLocal)
	}()

	if err := s.toolLimiters.CheckLimit("pcosc_validate"); err != nil {
		return nil, PcoscValidateOutput{}, err
	}

	b, _, err := s.builderFor(args.Network, args.Params)
	if err != nil {
		return nil, PcoscValidateOutput{
			Valid:   false,
			Errors:  []string{err.Error()},
			Message: "Network definition could not be read",
		}, nil
	}

	if topoErrs := b.Validate(); len(topoErrs) > 0 {
		out := PcoscValidateOutput{Valid: false}
		for _, te := range topoErrs {
			out.Errors = append(out.Errors, te.Error())
		}
		out.Message = fmt.Sprintf("Found %d problem(s)", len(topoErrs))
		return nil, out, nil
	}

	g, err := b.Build()
	if err != nil {
		return nil, PcoscValidateOutput{Valid: false, Errors: []string{err.Error()}, Message: "Network failed to build"}, nil
	}
	return nil, PcoscValidateOutput{
		Valid:       true,
		Populations: len(g.Populations()),
		Stimuli:     len(g.Stimuli()),
		Connections: len(g.Connections()),
		Message:     "Network is valid",
	}, nil
}

// handlePcoscGraph implements the pcosc_graph tool.
func (s *Server) handlePcoscGraph(ctx context.Context, req *sdk.CallToolRequest, args PcoscGraphInput) (_ *sdk.CallToolResult, _ PcoscGraphOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pcosc_graph", start, retErr, sanitizeToolParams(map[string]interface{}{
			"format": args.Format, "network": args.Network, "params": args.Params,
		}), ScopeLocal)
	}()

	if err := s.toolLimiters.CheckLimit("pcosc_graph"); err != nil {
		return nil, PcoscGraphOutput{}, err
	}

	name := args.Format
	if name == "" {
		name = string(visualization.FormatJSON)
	}
	format, err := visualization.ParseFormat(name)
	if err != nil {
		return nil, PcoscGraphOutput{}, err
	}

	g, _, err := s.graphFor(args.Network, args.Params)
	if err != nil {
		return nil, PcoscGraphOutput{}, err
	}

	out := PcoscGraphOutput{
		Format:    string(format),
		NodeCount: len(g.Populations()) + len(g.Stimuli()),
		EdgeCount: len(g.Connections()),
	}
	switch format {
	case visualization.FormatDOT:
		out.Graph = visualization.RenderDOT(g)
	default:
		out.Graph = visualization.RenderJSON(g)
	}
	return nil, out, nil
}

// handlePcoscRuns implements the pcosc_runs tool.
func (s *Server) handlePcoscRuns(ctx context.Context, req *sdk.CallToolRequest, args PcoscRunsInput) (_ *sdk.CallToolResult, _ PcoscRunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("pcosc_runs", start, retErr, sanitizeToolParams(map[string]interface{}{
			"id": args.ID, "population": args.Population, "limit": args.Limit,
		}), ScopeLocal)
	}()

	if err := s.toolLimiters.CheckLimit("pcosc_runs"); err != nil {
		return nil, PcoscRunsOutput{}, err
	}

	if args.ID == "" {
		if args.Population != "" {
			return nil, PcoscRunsOutput{}, fmt.Errorf("population requires a run id")
		}
		limit := args.Limit
		if limit <= 0 {
			limit = defaultRunsLimit
		}
		limit = min(limit, maxRunsLimit)
		runs, err := s.store.ListRuns(ctx, limit)
		if err != nil {
			return nil, PcoscRunsOutput{}, err
		}
		return nil, PcoscRunsOutput{Runs: runs, Count: len(runs)}, nil
	}

	run, err := s.store.GetRun(ctx, args.ID)
	if err != nil {
		return nil, PcoscRunsOutput{}, err
	}
	pops, err := s.store.Populations(ctx, args.ID)
	if err != nil {
		return nil, PcoscRunsOutput{}, err
	}
	out := PcoscRunsOutput{Run: run, Populations: pops, Count: 1}

	if args.Population != "" {
		samples, err := s.store.Samples(ctx, args.ID, args.Population)
		if err != nil {
			return nil, PcoscRunsOutput{}, err
		}
		out.Samples = thin(samples, s.cfg.MCP.MaxSamples)
		out.Count = len(out.Samples)
	}
	return nil, out, nil
}

// thin keeps at most n evenly strided samples, always including the last.
func thin(samples []store.Sample, n int) []store.Sample {
	if n <= 0 || len(samples) <= n {
		return samples
	}
	stride := (len(samples) + n - 1) / n
	out := make([]store.Sample, 0, n+1)
	for i := stride - 1; i < len(samples); i += stride {
		out = append(out, samples[i])
	}
	if last := samples[len(samples)-1]; out[len(out)-1].Step != last.Step {
		out = append(out, last)
	}
	return out
}

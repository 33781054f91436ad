package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nvandessel/pcosc/internal/checkpoint"
	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/logging"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/nvandessel/pcosc/internal/sanitize"
	"github.com/nvandessel/pcosc/internal/session"
	"github.com/nvandessel/pcosc/internal/store"
	"github.com/spf13/cobra"
)

// runSummary is the JSON output of "pcosc run".
type runSummary struct {
	Status      string               `json:"status"`
	RunID       string               `json:"run_id,omitempty"`
	Steps       int                  `json:"steps"`
	FinalTime   float64              `json:"final_time"`
	FinalStates map[string][]float64 `json:"final_states"`
	ArrowFile   string               `json:"arrow_file,omitempty"`
	ArrowRows   int                  `json:"arrow_rows,omitempty"`
	Checkpoint  string               `json:"checkpoint,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long: `Run the reference model, or the network given by --network, for a fixed
simulated duration and report the final population states.

Model flags override the configured reference parameters. Traces can be
written to an Arrow file (--arrow), persisted in the run store (--store) and
continued later from a checkpoint (--checkpoint, --resume).

Examples:
  pcosc run --duration 2 --stim 0.5
  pcosc run --arrow trace.arrow --every 10 --probe-synapse 0.01
  pcosc run --duration 1 --checkpoint run.ckpt
  pcosc run --duration 1 --resume run.ckpt --store --label "second second"`,
		RunE: runRun,
	}

	addNetworkFlags(cmd)
	cmd.Flags().Float64("dt", 0, "Integration time step in seconds (default from config)")
	cmd.Flags().Float64("duration", 0, "Simulated time in seconds (default from config)")
	cmd.Flags().Int("workers", 0, "Parallel workers for the read phase (default from config)")
	cmd.Flags().Float64("probe-synapse", 0, "Low-pass time constant applied to recorded values (default from config)")
	cmd.Flags().Int("every", 0, "Record every n-th step (default from config)")
	cmd.Flags().StringSlice("populations", nil, "Record only these populations")
	cmd.Flags().String("arrow", "", "Write the trace to this Arrow IPC file")
	cmd.Flags().Bool("store", false, "Persist the trace in the run store (default from config)")
	cmd.Flags().String("checkpoint", "", "Save the end state to this file")
	cmd.Flags().String("resume", "", "Continue from this checkpoint")
	cmd.Flags().String("label", "", "Label stored with the run")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	root, _ := cmd.Flags().GetString("root")
	jsonOut, _ := cmd.Flags().GetBool("json")

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	g, meta, err := buildNetwork(cmd, cfg)
	if err != nil {
		return err
	}

	sim := cfg.Simulation
	dt, duration := sim.DT, sim.Duration
	workers, probe, every := sim.Workers, sim.ProbeSynapse, sim.SampleEvery
	if cmd.Flags().Changed("dt") {
		dt, _ = cmd.Flags().GetFloat64("dt")
	}
	if cmd.Flags().Changed("duration") {
		duration, _ = cmd.Flags().GetFloat64("duration")
	}
	if cmd.Flags().Changed("workers") {
		workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("probe-synapse") {
		probe, _ = cmd.Flags().GetFloat64("probe-synapse")
	}
	if cmd.Flags().Changed("every") {
		every, _ = cmd.Flags().GetInt("every")
	}
	persist := cfg.Store.Enabled
	if cmd.Flags().Changed("store") {
		persist, _ = cmd.Flags().GetBool("store")
	}
	pops, _ := cmd.Flags().GetStringSlice("populations")
	arrowPath, _ := cmd.Flags().GetString("arrow")
	ckptPath, _ := cmd.Flags().GetString("checkpoint")
	resumePath, _ := cmd.Flags().GetString("resume")
	label, _ := cmd.Flags().GetString("label")

	var resume *engine.Snapshot
	if resumePath != "" {
		cp, err := checkpoint.Read(resumePath, g)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		if cmd.Flags().Changed("dt") && dt != cp.Header.DT {
			return fmt.Errorf("--dt %g differs from the checkpoint's dt %g", dt, cp.Header.DT)
		}
		dt = cp.Header.DT
		resume = &cp.Snapshot
		meta["resumed_from_step"] = cp.Header.Step
	}
	meta["dt"] = dt

	var st *store.SQLiteStore
	if persist {
		if st, err = store.NewSQLiteStore(root); err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer st.Close()
	}

	events := logging.NewEventLogger(store.LocalDataPath(root), cfg.Logging.Level)
	defer events.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	res, runErr := session.Run(ctx, session.Request{
		Graph:          g,
		DT:             dt,
		Duration:       duration,
		Workers:        workers,
		Resume:         resume,
		Label:          sanitize.SanitizeLabel(label),
		Params:         meta,
		Populations:    pops,
		ProbeSynapse:   probe,
		SampleEvery:    every,
		ArrowPath:      arrowPath,
		Store:          st,
		BatchSize:      cfg.Store.BatchSize,
		CheckpointPath: ckptPath,
		Logger:         logger,
		Events:         events,
	})
	if res == nil {
		return runErr
	}

	summary := runSummary{
		Status:      "completed",
		RunID:       res.RunID,
		Steps:       res.Run.StepCount,
		FinalTime:   res.Run.FinalTime,
		FinalStates: res.Run.FinalStates,
		ArrowFile:   arrowPath,
		ArrowRows:   res.ArrowRows,
		Checkpoint:  res.Checkpoint,
	}
	var instab *engine.NumericInstabilityError
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		summary.Status = "cancelled"
	case errors.As(runErr, &instab):
		summary.Status = "unstable"
	default:
		summary.Status = "failed"
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if err := json.NewEncoder(out).Encode(summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Run %s: %d steps, t = %.6g s\n", summary.Status, summary.Steps, summary.FinalTime)
		if summary.RunID != "" {
			fmt.Fprintf(out, "  run id:     %s\n", summary.RunID)
		}
		if summary.ArrowFile != "" {
			fmt.Fprintf(out, "  arrow:      %s (%d rows)\n", summary.ArrowFile, summary.ArrowRows)
		}
		if summary.Checkpoint != "" {
			fmt.Fprintf(out, "  checkpoint: %s\n", summary.Checkpoint)
		}
		fmt.Fprintln(out)
		printStates(cmd, g, summary.FinalStates)
	}
	return runErr
}

// printStates lists final states in declaration order.
func printStates(cmd *cobra.Command, g *network.Graph, states map[string][]float64) {
	out := cmd.OutOrStdout()
	width := 0
	for _, p := range g.Populations() {
		width = max(width, len(p.Name))
	}
	for _, p := range g.Populations() {
		v, ok := states[p.Name]
		if !ok {
			continue
		}
		parts := make([]string, len(v))
		for i, x := range v {
			parts[i] = formatValue(x)
		}
		fmt.Fprintf(out, "  %-*s  [%s]\n", width, p.Name, strings.Join(parts, ", "))
	}
}

func formatValue(x float64) string {
	if math.Abs(x) < 1e-12 {
		x = 0
	}
	return fmt.Sprintf("%.6g", x)
}

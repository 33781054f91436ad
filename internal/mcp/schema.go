package mcp

import (
	"github.com/nvandessel/pcosc/internal/store"
)

// PcoscRunInput defines the input for the pcosc_run tool.
type PcoscRunInput struct {
	Network      string             `json:"network,omitempty" jsonschema:"Inline YAML network definition. Empty runs the reference predictive coding model"`
	Params       map[string]float64 `json:"params,omitempty" jsonschema:"Reference model parameter overrides: tau_synapse, omega, gamma, stim, amplitude, direct_synapse, osc_radius"`
	DT           float64            `json:"dt,omitempty" jsonschema:"Time step in seconds (default from config, 0.001)"`
	Duration     float64            `json:"duration,omitempty" jsonschema:"Simulated time in seconds (default from config, 1)"`
	Workers      int                `json:"workers,omitempty" jsonschema:"Read-phase parallelism; results are identical for any value"`
	Populations  []string           `json:"populations,omitempty" jsonschema:"Populations to record (default: all)"`
	ProbeSynapse float64            `json:"probe_synapse,omitempty" jsonschema:"Low-pass time constant applied to recorded values; 0 records raw state"`
	Samples      int                `json:"samples,omitempty" jsonschema:"Number of evenly spaced samples to return per population (0 returns final states only)"`
	Label        string             `json:"label,omitempty" jsonschema:"Free-form label stored with the run"`
	Persist      bool               `json:"persist,omitempty" jsonschema:"Store the run and its samples in the run database"`
	ArrowFile    string             `json:"arrow_file,omitempty" jsonschema:"Write the sampled trace to this Arrow IPC file (relative to ~/.pcosc/output)"`
	Checkpoint   string             `json:"checkpoint,omitempty" jsonschema:"Save the end state to this checkpoint file (relative to ~/.pcosc/output)"`
	Resume       string             `json:"resume,omitempty" jsonschema:"Continue from this checkpoint file instead of time zero"`
}

// PcoscRunOutput defines the output for the pcosc_run tool.
type PcoscRunOutput struct {
	RunID       string                 `json:"run_id,omitempty" jsonschema:"Run database ID when persisted"`
	Status      string                 `json:"status" jsonschema:"completed or unstable"`
	Steps       int                    `json:"steps" jsonschema:"Number of steps executed"`
	FinalTime   float64                `json:"final_time" jsonschema:"Simulated time at the end of the run"`
	FinalStates map[string][]float64   `json:"final_states" jsonschema:"State of every population at the end of the run"`
	Times       []float64              `json:"times,omitempty" jsonschema:"Sample times"`
	Samples     map[string][][]float64 `json:"samples,omitempty" jsonschema:"Sampled population vectors aligned with times"`
	ArrowFile   string                 `json:"arrow_file,omitempty" jsonschema:"Path of the written trace file"`
	ArrowRows   int                    `json:"arrow_rows,omitempty" jsonschema:"Rows written to the trace file"`
	Checkpoint  string                 `json:"checkpoint,omitempty" jsonschema:"Path of the written checkpoint"`
	Message     string                 `json:"message" jsonschema:"Human-readable result message"`
}

// PcoscValidateInput defines the input for the pcosc_validate tool.
type PcoscValidateInput struct {
	Network string             `json:"network,omitempty" jsonschema:"Inline YAML network definition. Empty validates the reference model"`
	Params  map[string]float64 `json:"params,omitempty" jsonschema:"Reference model parameter overrides"`
}

// PcoscValidateOutput defines the output for the pcosc_validate tool.
type PcoscValidateOutput struct {
	Valid       bool     `json:"valid" jsonschema:"Whether the network builds"`
	Errors      []string `json:"errors,omitempty" jsonschema:"Every topology or parameter problem found"`
	Populations int      `json:"populations" jsonschema:"Number of declared populations"`
	Stimuli     int      `json:"stimuli" jsonschema:"Number of declared stimuli"`
	Connections int      `json:"connections" jsonschema:"Number of declared connections"`
	Message     string   `json:"message" jsonschema:"Human-readable result message"`
}

// PcoscGraphInput defines the input for the pcosc_graph tool.
type PcoscGraphInput struct {
	Format  string             `json:"format,omitempty" jsonschema:"Output format: dot or json (default: json)"`
	Network string             `json:"network,omitempty" jsonschema:"Inline YAML network definition. Empty renders the reference model"`
	Params  map[string]float64 `json:"params,omitempty" jsonschema:"Reference model parameter overrides"`
}

// PcoscGraphOutput defines the output for the pcosc_graph tool.
type PcoscGraphOutput struct {
	Format    string      `json:"format" jsonschema:"Output format used"`
	Graph     interface{} `json:"graph" jsonschema:"Rendered graph: a DOT string or a JSON object"`
	NodeCount int         `json:"node_count" jsonschema:"Number of nodes"`
	EdgeCount int         `json:"edge_count" jsonschema:"Number of connections"`
}

// PcoscRunsInput defines the input for the pcosc_runs tool.
type PcoscRunsInput struct {
	ID         string `json:"id,omitempty" jsonschema:"Show this run instead of listing"`
	Population string `json:"population,omitempty" jsonschema:"With id: return this population's stored samples"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum runs to list (default 20)"`
}

// PcoscRunsOutput defines the output for the pcosc_runs tool.
type PcoscRunsOutput struct {
	Runs        []store.Run    `json:"runs,omitempty" jsonschema:"Most recent runs first"`
	Run         *store.Run     `json:"run,omitempty" jsonschema:"The requested run"`
	Populations []string       `json:"populations,omitempty" jsonschema:"Populations with stored samples"`
	Samples     []store.Sample `json:"samples,omitempty" jsonschema:"Stored samples, thinned to the configured maximum"`
	Count       int            `json:"count" jsonschema:"Number of runs or samples returned"`
}

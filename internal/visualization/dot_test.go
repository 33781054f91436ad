package visualization

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nvandessel/pcosc/internal/function"
	"github.com/nvandessel/pcosc/internal/network"
	"gonum.org/v1/gonum/mat"
)

func testGraph(t *testing.T) *network.Graph {
	t.Helper()
	g, err := network.NewBuilder().
		Stimulus(network.Stimulus{Name: "stim", Value: network.Constant(0.5)}).
		Population(network.Population{Name: "a", Dim: 1}).
		Population(network.Population{Name: "osc", Dim: 4, Radius: 2}).
		Population(network.Population{Name: "acc", Dim: 1, Mode: network.Accumulate}).
		Connect(network.Connection{Source: "stim", Target: "a"}).
		Connect(network.Connection{Source: "a", Target: "acc", Transform: mat.NewDense(1, 1, []float64{-1})}).
		Connect(network.Connection{Source: "osc", Target: "osc", TargetSlice: network.Range(0, 2),
			Function: function.OscillatorRecurrence(10, 1, 0.2), Synapse: 0.2}).
		Connect(network.Connection{Source: "a", Target: "osc", TargetSlice: network.Index(2), Synapse: 0.05}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return g
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"dot", FormatDOT, false},
		{"JSON", FormatJSON, false},
		{"html", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderDOT_EmptyGraph(t *testing.T) {
	g, err := network.NewBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dot := RenderDOT(g)
	if !strings.Contains(dot, "digraph pcosc") {
		t.Error("expected digraph header")
	}
	if !strings.HasSuffix(strings.TrimSpace(dot), "}") {
		t.Error("expected closing brace")
	}
}

func TestRenderDOT_NodesAndEdges(t *testing.T) {
	dot := RenderDOT(testGraph(t))

	for _, want := range []string{
		`"stim" [shape=ellipse, label="stim (dim=1)", fillcolor="goldenrod"]`,
		`"osc" [shape=box, label="osc (dim=4, r=2)", fillcolor="steelblue"]`,
		`"acc" [shape=box, label="acc (dim=1, r=1) acc"`,
		`"stim" -> "a" [label="", style=dashed]`,
		`"a" -> "acc" [label="x-1", style=dashed]`,
		`"a" -> "osc" [label=":->2 tau=0.05", style=solid]`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %s\n%s", want, dot)
		}
	}

	// Direct edges default to the identity function, which the label omits.
	if strings.Contains(dot, "identity") {
		t.Errorf("DOT output names the identity function:\n%s", dot)
	}

	// Recurrent edges are bold and carry a truncated function name.
	if !strings.Contains(dot, `"osc" -> "osc" [label=":->0:2 oscillator(omega=10, ... tau=0.2", style=bold]`) {
		t.Errorf("recurrent edge not rendered as expected:\n%s", dot)
	}
}

func TestRenderJSON(t *testing.T) {
	result := RenderJSON(testGraph(t))

	if result["node_count"] != 4 {
		t.Errorf("node_count = %v, want 4", result["node_count"])
	}
	if result["edge_count"] != 4 {
		t.Errorf("edge_count = %v, want 4", result["edge_count"])
	}

	edges := result["edges"].([]map[string]interface{})
	if edges[1]["gain"] != -1.0 {
		t.Errorf("edge 1 gain = %v, want -1", edges[1]["gain"])
	}
	if edges[2]["recurrent"] != true || edges[2]["target_slice"] != "0:2" {
		t.Errorf("edge 2 = %v", edges[2])
	}
	if edges[0]["function"] != "identity" {
		t.Errorf("edge 0 function = %v, want identity", edges[0]["function"])
	}

	nodes := result["nodes"].([]map[string]interface{})
	if nodes[3]["mode"] != network.Accumulate.String() {
		t.Errorf("acc mode = %v", nodes[3]["mode"])
	}

	// The map must be serializable.
	if _, err := json.Marshal(result); err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"this is a long name", 10, "this is..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

package network

import (
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/pcosc/internal/function"
	"gonum.org/v1/gonum/mat"
)

func oscillatorBuilder() *Builder {
	return NewBuilder().
		Population(Population{Name: "osc", Dim: 4, Radius: 2}).
		Population(Population{Name: "amp_err", Dim: 1}).
		Stimulus(Stimulus{Name: "rate", Value: Constant(1)}).
		Stimulus(Stimulus{Name: "amplitude", Value: Constant(1)}).
		Connect(Connection{Source: "osc", Target: "osc", TargetSlice: Range(0, 2),
			Function: function.OscillatorRecurrence(10, 1, 0.2), Synapse: 0.2}).
		Connect(Connection{Source: "rate", Target: "osc", TargetSlice: Index(2)}).
		Connect(Connection{Source: "amplitude", Target: "amp_err",
			Function: function.Square(), Transform: mat.NewDense(1, 1, []float64{-1})}).
		Connect(Connection{Source: "osc", SourceSlice: Range(0, 2), Target: "amp_err", Function: function.SumOfSquares()}).
		Connect(Connection{Source: "amp_err", Target: "osc", TargetSlice: Index(3)})
}

func TestBuild_ValidTopology(t *testing.T) {
	g, err := oscillatorBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := len(g.Populations()); got != 2 {
		t.Errorf("populations = %d, want 2", got)
	}
	if got := len(g.Stimuli()); got != 2 {
		t.Errorf("stimuli = %d, want 2", got)
	}
	if got := len(g.Connections()); got != 5 {
		t.Errorf("connections = %d, want 5", got)
	}

	in := g.Incoming("osc")
	if len(in) != 3 {
		t.Fatalf("incoming(osc) = %d, want 3", len(in))
	}
	// Declaration order is preserved.
	wantLabels := []string{"osc -> osc[0:2]", "rate -> osc[2]", "amp_err -> osc[3]"}
	for i, c := range in {
		if c.Label() != wantLabels[i] {
			t.Errorf("incoming[%d] = %q, want %q", i, c.Label(), wantLabels[i])
		}
	}

	rec := in[0]
	if !rec.Recurrent() {
		t.Error("osc -> osc should be recurrent")
	}
	if rec.InDim() != 4 || rec.FuncDim() != 2 || rec.OutDim() != 2 {
		t.Errorf("dims in=%d fn=%d out=%d, want 4 2 2", rec.InDim(), rec.FuncDim(), rec.OutDim())
	}
	if lo, hi := rec.TargetSpan(); lo != 0 || hi != 2 {
		t.Errorf("target span = [%d,%d), want [0,2)", lo, hi)
	}

	p, ok := g.Population("amp_err")
	if !ok {
		t.Fatal("Population(amp_err) not found")
	}
	if p.Radius != 1 {
		t.Errorf("default radius = %v, want 1", p.Radius)
	}
	if len(p.Initial) != 1 || p.Initial[0] != 0 {
		t.Errorf("default initial = %v, want [0]", p.Initial)
	}

	kind, dim, ok := g.Node("amplitude")
	if !ok || kind != KindStimulus || dim != 1 {
		t.Errorf("Node(amplitude) = %v %d %v", kind, dim, ok)
	}
}

func TestBuild_TopologyErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder func() *Builder
		reason  string
	}{
		{
			name: "function output does not match target slice",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 4}).
					Population(Population{Name: "b", Dim: 1}).
					Connect(Connection{Source: "a", Target: "b", Function: function.OscillatorRecurrence(1, 1, 1)})
			},
			reason: "outputs 2 dimensions but the target slice has 1",
		},
		{
			name: "function rejects input dimension",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 2}).
					Connect(Connection{Source: "a", Target: "a", Function: function.OscillatorRecurrence(1, 1, 1)})
			},
			reason: "function oscillator",
		},
		{
			name: "transform columns mismatch",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 2}).
					Population(Population{Name: "b", Dim: 2}).
					Connect(Connection{Source: "a", Target: "b", Transform: mat.NewDense(2, 3, make([]float64, 6))})
			},
			reason: "transform has 3 columns",
		},
		{
			name: "transform rows mismatch",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 2}).
					Population(Population{Name: "b", Dim: 2}).
					Connect(Connection{Source: "a", Target: "b", Transform: mat.NewDense(1, 2, []float64{1, 1})})
			},
			reason: "transform has 1 rows",
		},
		{
			name: "undeclared source",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "b", Dim: 1}).
					Connect(Connection{Source: "ghost", Target: "b"})
			},
			reason: `undeclared source "ghost"`,
		},
		{
			name: "undeclared target",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 1}).
					Connect(Connection{Source: "a", Target: "ghost"})
			},
			reason: `undeclared target "ghost"`,
		},
		{
			name: "stimulus as target",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 1}).
					Stimulus(Stimulus{Name: "s", Value: Constant(0)}).
					Connect(Connection{Source: "a", Target: "s"})
			},
			reason: "is a stimulus",
		},
		{
			name: "slice out of range",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 1}).
					Population(Population{Name: "b", Dim: 4}).
					Connect(Connection{Source: "a", Target: "b", TargetSlice: Index(4)})
			},
			reason: "out of range",
		},
		{
			name: "negative synapse",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 1}).
					Connect(Connection{Source: "a", Target: "a", Synapse: -0.1})
			},
			reason: "synapse time constant",
		},
		{
			name: "duplicate name",
			builder: func() *Builder {
				return NewBuilder().
					Population(Population{Name: "a", Dim: 1}).
					Stimulus(Stimulus{Name: "a", Value: Constant(0)})
			},
			reason: "duplicate node name",
		},
		{
			name: "initial length mismatch",
			builder: func() *Builder {
				return NewBuilder().Population(Population{Name: "a", Dim: 2, Initial: []float64{1}})
			},
			reason: "initial state has length 1",
		},
		{
			name: "non-positive dimension",
			builder: func() *Builder {
				return NewBuilder().Population(Population{Name: "a"})
			},
			reason: "dimension must be positive",
		},
		{
			name: "stimulus value length mismatch",
			builder: func() *Builder {
				return NewBuilder().Stimulus(Stimulus{Name: "s", Dim: 2, Value: Constant(1)})
			},
			reason: "returns length 1, want 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.builder().Build()
			if err == nil {
				t.Fatalf("Build() = %v, want TopologyError", g)
			}
			var topo *TopologyError
			if !errors.As(err, &topo) {
				t.Fatalf("error %v is not a *TopologyError", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error = %q, want it to mention %q", err.Error(), tt.reason)
			}
		})
	}
}

func TestValidate_ReportsAllIssues(t *testing.T) {
	issues := NewBuilder().
		Population(Population{Name: "a", Dim: 1}).
		Connect(Connection{Source: "x", Target: "a"}).
		Connect(Connection{Source: "a", Target: "y"}).
		Validate()
	if len(issues) != 2 {
		t.Fatalf("Validate() = %d issues, want 2: %v", len(issues), issues)
	}

	_, err := NewBuilder().
		Population(Population{Name: "a", Dim: 1}).
		Connect(Connection{Source: "x", Target: "a"}).
		Connect(Connection{Source: "a", Target: "y"}).
		Build()
	var topo *TopologyError
	if !errors.As(err, &topo) {
		t.Fatalf("joined error %v does not unwrap to *TopologyError", err)
	}
}

func TestBuild_DoesNotAliasInitial(t *testing.T) {
	init := []float64{1, 2}
	g, err := NewBuilder().Population(Population{Name: "a", Dim: 2, Initial: init}).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	init[0] = 99
	p, _ := g.Population("a")
	if p.Initial[0] != 1 {
		t.Errorf("graph initial state aliased caller slice: %v", p.Initial)
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		slice   Slice
		wantErr bool
	}{
		{"layer1", "layer1", All, false},
		{"osc1[0:2]", "osc1", Range(0, 2), false},
		{"osc2[3]", "osc2", Index(3), false},
		{" osc1[ : ] ", "osc1", All, false},
		{"osc1[1:]", "osc1", Slice{Lo: 1, Hi: -1}, false},
		{"osc1[0:2", "", All, true},
		{"[0:2]", "", All, true},
		{"osc1[a]", "", All, true},
		{"osc1[0:0]", "", All, true},
		{"", "", All, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, sl, err := ParseEndpoint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if name != tt.name || sl != tt.slice {
				t.Errorf("ParseEndpoint(%q) = %q %+v, want %q %+v", tt.in, name, sl, tt.name, tt.slice)
			}
		})
	}
}

func TestOpenEndedSliceResolves(t *testing.T) {
	g, err := NewBuilder().
		Population(Population{Name: "a", Dim: 4}).
		Population(Population{Name: "b", Dim: 3}).
		Connect(Connection{Source: "a", SourceSlice: Slice{Lo: 1, Hi: -1}, Target: "b"}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if lo, hi := g.Connections()[0].SourceSpan(); lo != 1 || hi != 4 {
		t.Errorf("source span = [%d,%d), want [1,4)", lo, hi)
	}
}

func TestStimulusValueFuncs(t *testing.T) {
	c := Constant(1, 2)
	v := c(5)
	v[0] = 100
	if c(0)[0] != 1 {
		t.Error("Constant returned a shared slice")
	}

	step := StepAt(1, []float64{0}, []float64{3})
	if step(0.999)[0] != 0 || step(1)[0] != 3 {
		t.Errorf("StepAt values = %v %v", step(0.999), step(1))
	}

	sine := Sine(2, 1, 0, 0.5)
	if got := sine(0.25)[0]; got < 2.49 || got > 2.51 {
		t.Errorf("Sine(0.25) = %v, want 2.5", got)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != Represent {
		t.Errorf("ParseMode(\"\") = %v, %v", m, err)
	}
	if m, err := ParseMode("accumulate"); err != nil || m != Accumulate {
		t.Errorf("ParseMode(accumulate) = %v, %v", m, err)
	}
	if _, err := ParseMode("spiking"); err == nil {
		t.Error("ParseMode(spiking) expected error")
	}
}

package model

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nvandessel/pcosc/internal/engine"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/nvandessel/pcosc/internal/recorder"
	"gopkg.in/yaml.v3"
)

func mustBuild(t *testing.T, p Params) *network.Graph {
	t.Helper()
	g, err := Build(p)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return g
}

func run(t *testing.T, g *network.Graph, dt, duration float64, rec engine.Recorder) *engine.RunResult {
	t.Helper()
	res, err := engine.Run(context.Background(), g, engine.Config{DT: dt, Duration: duration}, rec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func labels(g *network.Graph) []string {
	var out []string
	for _, c := range g.Connections() {
		fn := "identity"
		if c.Function != nil {
			fn = c.Function.Name()
		}
		out = append(out, c.Label()+" "+fn)
	}
	return out
}

func TestBuild_Topology(t *testing.T) {
	g := mustBuild(t, DefaultParams())

	if got := len(g.Populations()); got != 7 {
		t.Errorf("populations = %d, want 7", got)
	}
	if got := len(g.Stimuli()); got != 2 {
		t.Errorf("stimuli = %d, want 2", got)
	}
	if got := len(g.Connections()); got != 15 {
		t.Fatalf("connections = %d, want 15", got)
	}

	want := []string{
		"stim -> layer1",
		"layer1 -> err",
		"err -> layer2",
		"layer2 -> layer2",
		"layer2 -> err",
		"osc1 -> osc1[0:2]",
		"osc2 -> osc2[0:2]",
		"layer1 -> osc1[2]",
		"layer2 -> osc2[2]",
		"amplitude -> amp_err1",
		"amplitude -> amp_err2",
		"amp_err1 -> osc1[3]",
		"amp_err2 -> osc2[3]",
		"osc1[0:2] -> amp_err1",
		"osc2[0:2] -> amp_err2",
	}
	for i, c := range g.Connections() {
		if c.Label() != want[i] {
			t.Errorf("connection %d = %q, want %q", i, c.Label(), want[i])
		}
	}

	osc, ok := g.Population(Osc1)
	if !ok || osc.Dim != OscDim || osc.Radius != 2 {
		t.Errorf("osc1 = %+v", osc)
	}

	recurrent := 0
	for _, c := range g.Connections() {
		if c.Recurrent() {
			recurrent++
			if c.Synapse != DefaultParams().TauSynapse {
				t.Errorf("%s synapse = %g, want tau_synapse", c.Label(), c.Synapse)
			}
		}
	}
	if recurrent != 3 {
		t.Errorf("recurrent connections = %d, want 3", recurrent)
	}
}

func TestBuild_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"zero tau", func(p *Params) { p.TauSynapse = 0 }, "tau_synapse"},
		{"infinite tau", func(p *Params) { p.TauSynapse = math.Inf(1) }, "tau_synapse"},
		{"negative direct synapse", func(p *Params) { p.DirectSynapse = -0.1 }, "direct_synapse"},
		{"zero radius", func(p *Params) { p.OscRadius = 0 }, "osc_radius"},
		{"nan omega", func(p *Params) { p.Omega = math.NaN() }, "omega"},
		{"inf stim", func(p *Params) { p.Stim = math.Inf(-1) }, "stim"},
		{"short initial", func(p *Params) { p.Osc1Initial = []float64{1} }, "osc1_initial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			_, err := Build(p)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Build() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "params.yaml")
	if err := os.WriteFile(path, []byte("omega: 5\nstim: 0.25\nosc1_initial: [0.5, 0]\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p, err := LoadParams(path)
	if err != nil {
		t.Fatalf("LoadParams() error = %v", err)
	}
	want := DefaultParams()
	want.Omega = 5
	want.Stim = 0.25
	want.Osc1Initial = []float64{0.5, 0}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("LoadParams() = %+v, want %+v", p, want)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("tau_synapse: -1\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadParams(bad); err == nil {
		t.Error("expected validation error for negative tau_synapse")
	}

	garbage := filepath.Join(dir, "garbage.yaml")
	if err := os.WriteFile(garbage, []byte("omega: [not a number\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadParams(garbage); err == nil {
		t.Error("expected parse error")
	}

	if _, err := LoadParams(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParams_Map(t *testing.T) {
	m := DefaultParams().Map()
	if m["omega"] != 10.0 || m["tau_synapse"] != 0.2 {
		t.Errorf("Map() = %v", m)
	}
	if _, ok := m["osc1_initial"]; ok {
		t.Error("unset initial plane should be omitted")
	}
}

func TestParams_With(t *testing.T) {
	base := DefaultParams()
	p, err := base.With(map[string]float64{"stim": 0.4, "omega": 6})
	if err != nil {
		t.Fatalf("With() error = %v", err)
	}
	if p.Stim != 0.4 || p.Omega != 6 || p.Gamma != base.Gamma {
		t.Errorf("With() = %+v", p)
	}
	if base.Stim != 0 {
		t.Error("With() modified the receiver")
	}

	if _, err := base.With(map[string]float64{"frequency": 1}); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestZeroStimulus_StaysAtRest(t *testing.T) {
	g := mustBuild(t, DefaultParams())
	res := run(t, g, 0.001, 2, nil)

	for _, name := range []string{Layer1, Err, Layer2} {
		if v := res.FinalStates[name][0]; v != 0 {
			t.Errorf("%s = %g, want 0", name, v)
		}
	}
	for _, name := range []string{Osc1, Osc2} {
		s := res.FinalStates[name]
		if s[OscX0] != 0 || s[OscX1] != 0 {
			t.Errorf("%s plane = %v, want origin", name, s[:2])
		}
		// amp_err = 0 - amplitude^2.
		if s[OscAmpErr] != -1 {
			t.Errorf("%s amplitude error = %g, want -1", name, s[OscAmpErr])
		}
	}
}

func TestPredictiveCoding_Converges(t *testing.T) {
	for _, stim := range []float64{0.5, -0.3} {
		p := DefaultParams()
		p.Stim = stim
		g := mustBuild(t, p)
		res := run(t, g, 0.001, 10, nil)

		if got := res.FinalStates[Layer2][0]; math.Abs(got-stim) > 1e-3 {
			t.Errorf("stim %g: layer2 = %g, want ~%g", stim, got, stim)
		}
		if got := res.FinalStates[Err][0]; math.Abs(got) > 1e-3 {
			t.Errorf("stim %g: err = %g, want ~0", stim, got)
		}
		if got := res.FinalStates[Osc2][OscRate]; math.Abs(got-stim) > 1e-3 {
			t.Errorf("stim %g: osc2 rate = %g, want ~%g", stim, got, stim)
		}
	}
}

func TestPredictiveCoding_ErrorDecays(t *testing.T) {
	p := DefaultParams()
	p.Stim = 0.5
	g := mustBuild(t, p)
	mem := recorder.NewMemory(Err)
	run(t, g, 0.001, 5, recorder.Every(100, mem))

	errs := mem.Component(Err, 0)
	if len(errs) != 50 {
		t.Fatalf("samples = %d, want 50", len(errs))
	}
	// Past the first samples the error shrinks monotonically towards zero.
	for i := 2; i < len(errs); i++ {
		if math.Abs(errs[i]) > math.Abs(errs[i-1]) {
			t.Errorf("|err| grew at sample %d: %g -> %g", i, errs[i-1], errs[i])
			break
		}
	}
}

func TestOscillator_AmplitudeStabilizes(t *testing.T) {
	tests := []struct {
		name    string
		initial []float64
	}{
		{"grows from inside", []float64{0.5, 0}},
		{"shrinks from outside", []float64{1.5, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.Stim = 1
			p.Osc1Initial = tt.initial
			g := mustBuild(t, p)

			const dt = 1e-4
			mem := recorder.NewMemory(Osc1)
			// Sample the last simulated second only.
			tail := engine.RecorderFunc(func(step int, tm float64, states map[string][]float64) error {
				if tm < 14 || step%10 != 0 {
					return nil
				}
				return mem.Record(step, tm, states)
			})
			run(t, g, dt, 15, tail)

			x0, x1 := mem.Component(Osc1, OscX0), mem.Component(Osc1, OscX1)
			if len(x0) == 0 {
				t.Fatal("no samples recorded")
			}
			var sum float64
			for i := range x0 {
				sum += x0[i]*x0[i] + x1[i]*x1[i]
			}
			r2 := sum / float64(len(x0))
			if math.Abs(r2-1) > 0.05 {
				t.Errorf("mean r^2 = %g, want ~1", r2)
			}
		})
	}
}

func TestOscillator_Rotates(t *testing.T) {
	p := DefaultParams()
	p.Stim = 1
	p.Osc1Initial = []float64{1, 0}
	g := mustBuild(t, p)
	mem := recorder.NewMemory(Osc1)
	run(t, g, 1e-4, 1, mem)

	// At unit rate and omega=10 the plane turns about 1.6 times a second,
	// so x0 changes sign.
	crossings := 0
	x0 := mem.Component(Osc1, OscX0)
	for i := 1; i < len(x0); i++ {
		if (x0[i-1] < 0) != (x0[i] < 0) {
			crossings++
		}
	}
	if crossings < 2 || crossings > 5 {
		t.Errorf("x0 sign changes = %d, want about 3", crossings)
	}
}

func TestDefinition_MatchesBuilder(t *testing.T) {
	p := DefaultParams()
	p.Stim = 0.4
	p.Osc1Initial = []float64{0.5, 0}

	direct := mustBuild(t, p)
	declared, err := Definition(p).Build()
	if err != nil {
		t.Fatalf("Definition().Build() error = %v", err)
	}

	gotLabels, wantLabels := labels(declared), labels(direct)
	for i := range wantLabels {
		// Builder functions name their parameters; definitions may not.
		gotLabels[i] = strings.SplitN(gotLabels[i], "(", 2)[0]
		wantLabels[i] = strings.SplitN(wantLabels[i], "(", 2)[0]
	}
	if !reflect.DeepEqual(gotLabels, wantLabels) {
		t.Fatalf("labels differ:\n got %v\nwant %v", gotLabels, wantLabels)
	}

	a := run(t, direct, 0.001, 0.5, nil)
	b := run(t, declared, 0.001, 0.5, nil)
	if !reflect.DeepEqual(a.FinalStates, b.FinalStates) {
		t.Errorf("final states differ:\n builder %v\n definition %v", a.FinalStates, b.FinalStates)
	}
}

func TestDefinition_YAMLRoundTrip(t *testing.T) {
	p := DefaultParams()
	p.Stim = 0.4
	p.Osc2Initial = []float64{0, 0.7}

	data, err := yaml.Marshal(Definition(p))
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	def, err := network.ParseDefinition(data)
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v\n%s", err, data)
	}
	g, err := def.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	a := run(t, mustBuild(t, p), 0.001, 0.5, nil)
	b := run(t, g, 0.001, 0.5, nil)
	if !reflect.DeepEqual(a.FinalStates, b.FinalStates) {
		t.Errorf("final states differ after YAML round trip")
	}
}

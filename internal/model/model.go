package model

import (
	"github.com/nvandessel/pcosc/internal/function"
	"github.com/nvandessel/pcosc/internal/network"
	"gonum.org/v1/gonum/mat"
)

// Node names.
const (
	Stim      = "stim"
	Amplitude = "amplitude"
	Layer1    = "layer1"
	Err       = "err"
	Layer2    = "layer2"
	Osc1      = "osc1"
	Osc2      = "osc2"
	AmpErr1   = "amp_err1"
	AmpErr2   = "amp_err2"
)

// Oscillator state layout.
const (
	OscX0 = iota
	OscX1
	OscRate
	OscAmpErr
	OscDim
)

// Builder declares the full model.
func Builder(p Params) *network.Builder {
	tau := p.TauSynapse
	direct := p.DirectSynapse
	negate := func() *mat.Dense { return mat.NewDense(1, 1, []float64{-1}) }
	plane := network.Range(OscX0, OscX1+1)

	b := network.NewBuilder().
		Stimulus(network.Stimulus{Name: Stim, Value: network.Constant(p.Stim)}).
		Stimulus(network.Stimulus{Name: Amplitude, Value: network.Constant(p.Amplitude)}).
		Population(network.Population{Name: Err, Dim: 1, Radius: 1}).
		Population(network.Population{Name: Layer1, Dim: 1, Radius: 1}).
		Population(network.Population{Name: Layer2, Dim: 1, Radius: 1}).
		Population(network.Population{Name: Osc1, Dim: OscDim, Radius: p.OscRadius, Initial: oscInitial(p.Osc1Initial)}).
		Population(network.Population{Name: Osc2, Dim: OscDim, Radius: p.OscRadius, Initial: oscInitial(p.Osc2Initial)}).
		Population(network.Population{Name: AmpErr1, Dim: 1, Radius: 1}).
		Population(network.Population{Name: AmpErr2, Dim: 1, Radius: 1})

	// Predictive-coding hierarchy.
	b.Connect(network.Connection{Source: Stim, Target: Layer1, Synapse: direct}).
		Connect(network.Connection{Source: Layer1, Target: Err, Synapse: direct}).
		Connect(network.Connection{Source: Err, Target: Layer2, Function: function.Scale(tau), Synapse: tau}).
		Connect(network.Connection{Source: Layer2, Target: Layer2, Function: function.Identity(), Synapse: tau}).
		Connect(network.Connection{Source: Layer2, Target: Err, Function: function.Identity(), Transform: negate(), Synapse: direct})

	// Controlled oscillators. The recurrence reads the whole state (plane,
	// rate and amplitude error) and writes the plane.
	osc := function.OscillatorRecurrence(p.Omega, p.Gamma, tau)
	b.Connect(network.Connection{Source: Osc1, Target: Osc1, TargetSlice: plane, Function: osc, Synapse: tau}).
		Connect(network.Connection{Source: Osc2, Target: Osc2, TargetSlice: plane, Function: osc, Synapse: tau}).
		Connect(network.Connection{Source: Layer1, Target: Osc1, TargetSlice: network.Index(OscRate), Synapse: direct}).
		Connect(network.Connection{Source: Layer2, Target: Osc2, TargetSlice: network.Index(OscRate), Synapse: direct})

	// Amplitude stabilization: amp_err = x0^2 + x1^2 - amplitude^2.
	b.Connect(network.Connection{Source: Amplitude, Target: AmpErr1, Function: function.Square(), Transform: negate(), Synapse: direct}).
		Connect(network.Connection{Source: Amplitude, Target: AmpErr2, Function: function.Square(), Transform: negate(), Synapse: direct}).
		Connect(network.Connection{Source: AmpErr1, Target: Osc1, TargetSlice: network.Index(OscAmpErr), Synapse: direct}).
		Connect(network.Connection{Source: AmpErr2, Target: Osc2, TargetSlice: network.Index(OscAmpErr), Synapse: direct}).
		Connect(network.Connection{Source: Osc1, SourceSlice: plane, Target: AmpErr1, Function: function.SumOfSquares(), Synapse: direct}).
		Connect(network.Connection{Source: Osc2, SourceSlice: plane, Target: AmpErr2, Function: function.SumOfSquares(), Synapse: direct})

	return b
}

// Build validates the parameters and builds the model graph.
func Build(p Params) (*network.Graph, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return Builder(p).Build()
}

func oscInitial(plane []float64) []float64 {
	if plane == nil {
		return nil
	}
	init := make([]float64, OscDim)
	copy(init, plane)
	return init
}

// Definition returns the model as a declarative network definition, the
// form accepted by "pcosc run --network".
func Definition(p Params) *network.Definition {
	tau := p.TauSynapse
	direct := p.DirectSynapse
	neg := &network.TransformDef{Rows: [][]float64{{-1}}}
	oscParams := map[string]float64{"omega": p.Omega, "gamma": p.Gamma, "tau": tau}

	return &network.Definition{
		Populations: []network.PopulationDef{
			{Name: Err, Dim: 1, Radius: 1},
			{Name: Layer1, Dim: 1, Radius: 1},
			{Name: Layer2, Dim: 1, Radius: 1},
			{Name: Osc1, Dim: OscDim, Radius: p.OscRadius, Initial: oscInitial(p.Osc1Initial)},
			{Name: Osc2, Dim: OscDim, Radius: p.OscRadius, Initial: oscInitial(p.Osc2Initial)},
			{Name: AmpErr1, Dim: 1, Radius: 1},
			{Name: AmpErr2, Dim: 1, Radius: 1},
		},
		Stimuli: []network.StimulusDef{
			{Name: Stim, Kind: "constant", Value: []float64{p.Stim}},
			{Name: Amplitude, Kind: "constant", Value: []float64{p.Amplitude}},
		},
		Connections: []network.ConnectionDef{
			{Source: Stim, Target: Layer1, Synapse: direct},
			{Source: Layer1, Target: Err, Synapse: direct},
			{Source: Err, Target: Layer2, Function: "scale", Params: map[string]float64{"k": tau}, Synapse: tau},
			{Source: Layer2, Target: Layer2, Function: "identity", Synapse: tau},
			{Source: Layer2, Target: Err, Function: "identity", Transform: neg, Synapse: direct},
			{Source: Osc1, Target: Osc1 + "[0:2]", Function: "oscillator", Params: oscParams, Synapse: tau},
			{Source: Osc2, Target: Osc2 + "[0:2]", Function: "oscillator", Params: oscParams, Synapse: tau},
			{Source: Layer1, Target: Osc1 + "[2]", Synapse: direct},
			{Source: Layer2, Target: Osc2 + "[2]", Synapse: direct},
			{Source: Amplitude, Target: AmpErr1, Function: "square", Transform: neg, Synapse: direct},
			{Source: Amplitude, Target: AmpErr2, Function: "square", Transform: neg, Synapse: direct},
			{Source: AmpErr1, Target: Osc1 + "[3]", Synapse: direct},
			{Source: AmpErr2, Target: Osc2 + "[3]", Synapse: direct},
			{Source: Osc1 + "[0:2]", Target: AmpErr1, Function: "sum_of_squares", Synapse: direct},
			{Source: Osc2 + "[0:2]", Target: AmpErr2, Function: "sum_of_squares", Synapse: direct},
		},
	}
}

// Package model wires the predictive-coding hierarchy and its two controlled
// oscillators into a network.Graph.
//
// The hierarchy is a "predictive coding light" loop: layer1 relays the
// stimulus, err is the difference between layer1 and the integrator layer2,
// and layer2 integrates err until its output cancels the input. layer1 and
// layer2 set the phase rate of osc1 and osc2, whose orbit radius is held at
// the amplitude node's value by the amp_err populations.
package model

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Params are the tunable constants of the model.
type Params struct {
	// TauSynapse is the synaptic time constant of the integrator and
	// oscillator loops in seconds. It should be reasonably large.
	TauSynapse float64 `yaml:"tau_synapse" json:"tau_synapse"`

	// Omega is the oscillation frequency in rad/s at unit phase rate.
	Omega float64 `yaml:"omega" json:"omega"`

	// Gamma is the gain of the amplitude correction.
	Gamma float64 `yaml:"gamma" json:"gamma"`

	// Stim is the constant input fed to layer1.
	Stim float64 `yaml:"stim" json:"stim"`

	// Amplitude is the desired oscillation amplitude.
	Amplitude float64 `yaml:"amplitude" json:"amplitude"`

	// DirectSynapse is the time constant of the connections that carry no
	// explicit synapse. Zero makes them instantaneous.
	DirectSynapse float64 `yaml:"direct_synapse" json:"direct_synapse"`

	// OscRadius is the expected magnitude bound of the oscillator states.
	OscRadius float64 `yaml:"osc_radius" json:"osc_radius"`

	// Osc1Initial and Osc2Initial seed the (x0, x1) plane of each oscillator.
	Osc1Initial []float64 `yaml:"osc1_initial,omitempty" json:"osc1_initial,omitempty"`
	Osc2Initial []float64 `yaml:"osc2_initial,omitempty" json:"osc2_initial,omitempty"`
}

// DefaultParams returns the parameters of the reference model.
func DefaultParams() Params {
	return Params{
		TauSynapse: 0.2,
		Omega:      10,
		Gamma:      1,
		Stim:       0,
		Amplitude:  1,
		OscRadius:  2,
	}
}

// LoadParams reads a YAML parameter file over the defaults. Keys absent from
// the file keep their default values.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading params: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing params: %w", err)
	}
	return p, p.Validate()
}

// Validate checks that every parameter is finite and in range.
func (p Params) Validate() error {
	if !(p.TauSynapse > 0) || math.IsInf(p.TauSynapse, 0) {
		return fmt.Errorf("tau_synapse must be positive and finite, got %g", p.TauSynapse)
	}
	if p.DirectSynapse < 0 || math.IsNaN(p.DirectSynapse) || math.IsInf(p.DirectSynapse, 0) {
		return fmt.Errorf("direct_synapse must be non-negative and finite, got %g", p.DirectSynapse)
	}
	if !(p.OscRadius > 0) || math.IsInf(p.OscRadius, 0) {
		return fmt.Errorf("osc_radius must be positive and finite, got %g", p.OscRadius)
	}
	for name, v := range map[string]float64{
		"omega":     p.Omega,
		"gamma":     p.Gamma,
		"stim":      p.Stim,
		"amplitude": p.Amplitude,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %g", name, v)
		}
	}
	for name, init := range map[string][]float64{"osc1_initial": p.Osc1Initial, "osc2_initial": p.Osc2Initial} {
		if init != nil && len(init) != 2 {
			return fmt.Errorf("%s must have 2 components (x0, x1), got %d", name, len(init))
		}
	}
	return nil
}

// Map returns the parameters as a flat map for run metadata.
func (p Params) Map() map[string]any {
	m := map[string]any{
		"tau_synapse":    p.TauSynapse,
		"omega":          p.Omega,
		"gamma":          p.Gamma,
		"stim":           p.Stim,
		"amplitude":      p.Amplitude,
		"direct_synapse": p.DirectSynapse,
		"osc_radius":     p.OscRadius,
	}
	if p.Osc1Initial != nil {
		m["osc1_initial"] = p.Osc1Initial
	}
	if p.Osc2Initial != nil {
		m["osc2_initial"] = p.Osc2Initial
	}
	return m
}

// With returns a copy of p with scalar overrides applied by YAML key. Unknown
// keys are an error; the result is not validated.
func (p Params) With(overrides map[string]float64) (Params, error) {
	for key, v := range overrides {
		switch key {
		case "tau_synapse":
			p.TauSynapse = v
		case "omega":
			p.Omega = v
		case "gamma":
			p.Gamma = v
		case "stim":
			p.Stim = v
		case "amplitude":
			p.Amplitude = v
		case "direct_synapse":
			p.DirectSynapse = v
		case "osc_radius":
			p.OscRadius = v
		default:
			return p, fmt.Errorf("unknown parameter %q", key)
		}
	}
	return p, nil
}

package network

import (
	"fmt"
	"os"

	"github.com/nvandessel/pcosc/internal/function"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Definition is a declarative, YAML-decodable description of a network.
//
// Example:
//
//	populations:
//	  - {name: osc1, dim: 4, radius: 2}
//	stimuli:
//	  - {name: rate, kind: constant, value: [1]}
//	connections:
//	  - {source: osc1, target: "osc1[0:2]", function: oscillator,
//	     params: {omega: 10, gamma: 1, tau: 0.2}, synapse: 0.2}
//	  - {source: rate, target: "osc1[2]"}
type Definition struct {
	Populations []PopulationDef `yaml:"populations" json:"populations"`
	Stimuli     []StimulusDef   `yaml:"stimuli" json:"stimuli"`
	Connections []ConnectionDef `yaml:"connections" json:"connections"`
}

// PopulationDef declares a population.
type PopulationDef struct {
	Name    string    `yaml:"name" json:"name"`
	Dim     int       `yaml:"dim" json:"dim"`
	Radius  float64   `yaml:"radius,omitempty" json:"radius,omitempty"`
	Initial []float64 `yaml:"initial,omitempty" json:"initial,omitempty"`
	Mode    string    `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// StimulusDef declares a stimulus node. Kind is one of "constant" (Value),
// "step" (Value before At, After from At) or "sine" (Amplitude, Frequency,
// Phase, Offset).
type StimulusDef struct {
	Name      string    `yaml:"name" json:"name"`
	Kind      string    `yaml:"kind,omitempty" json:"kind,omitempty"`
	Value     []float64 `yaml:"value,omitempty" json:"value,omitempty"`
	After     []float64 `yaml:"after,omitempty" json:"after,omitempty"`
	At        float64   `yaml:"at,omitempty" json:"at,omitempty"`
	Amplitude float64   `yaml:"amplitude,omitempty" json:"amplitude,omitempty"`
	Frequency float64   `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Phase     float64   `yaml:"phase,omitempty" json:"phase,omitempty"`
	Offset    float64   `yaml:"offset,omitempty" json:"offset,omitempty"`
}

// ConnectionDef declares a connection. Source and Target accept an optional
// slice suffix, e.g. "osc1[0:2]" or "osc2[3]".
type ConnectionDef struct {
	Source    string             `yaml:"source" json:"source"`
	Target    string             `yaml:"target" json:"target"`
	Function  string             `yaml:"function,omitempty" json:"function,omitempty"`
	Params    map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
	Transform *TransformDef      `yaml:"transform,omitempty" json:"transform,omitempty"`
	Synapse   float64            `yaml:"synapse,omitempty" json:"synapse,omitempty"`
}

// TransformDef is either a scalar gain or a row-major matrix.
type TransformDef struct {
	Rows [][]float64
}

// UnmarshalYAML accepts a scalar ("-1") or a list of rows ("[[1, 0], [0, 1]]").
func (t *TransformDef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := value.Decode(&v); err != nil {
			return fmt.Errorf("transform: %w", err)
		}
		t.Rows = [][]float64{{v}}
		return nil
	case yaml.SequenceNode:
		var rows [][]float64
		if err := value.Decode(&rows); err != nil {
			return fmt.Errorf("transform must be a scalar or a list of rows: %w", err)
		}
		t.Rows = rows
		return nil
	default:
		return fmt.Errorf("transform must be a scalar or a list of rows")
	}
}

// MarshalYAML writes a 1x1 transform as a scalar.
func (t TransformDef) MarshalYAML() (any, error) {
	if len(t.Rows) == 1 && len(t.Rows[0]) == 1 {
		return t.Rows[0][0], nil
	}
	return t.Rows, nil
}

func (t *TransformDef) matrix() (*mat.Dense, error) {
	if t == nil {
		return nil, nil
	}
	if len(t.Rows) == 0 || len(t.Rows[0]) == 0 {
		return nil, fmt.Errorf("empty transform")
	}
	cols := len(t.Rows[0])
	data := make([]float64, 0, len(t.Rows)*cols)
	for i, row := range t.Rows {
		if len(row) != cols {
			return nil, fmt.Errorf("transform row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(t.Rows), cols, data), nil
}

// LoadDefinition reads a YAML network definition.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes a YAML network definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing network definition: %w", err)
	}
	return &def, nil
}

// Builder converts the definition into builder declarations. Problems that
// can only be detected while reading the definition (bad endpoint syntax,
// unknown functions or modes) are reported as *TopologyError.
func (d *Definition) Builder() (*Builder, error) {
	b := NewBuilder()

	for _, pd := range d.Populations {
		mode, err := ParseMode(pd.Mode)
		if err != nil {
			return nil, &TopologyError{Element: pd.Name, Reason: "mode", Err: err}
		}
		b.Population(Population{
			Name:    pd.Name,
			Dim:     pd.Dim,
			Radius:  pd.Radius,
			Initial: pd.Initial,
			Mode:    mode,
		})
	}

	for _, sd := range d.Stimuli {
		fn, err := sd.valueFunc()
		if err != nil {
			return nil, &TopologyError{Element: sd.Name, Reason: "stimulus", Err: err}
		}
		b.Stimulus(Stimulus{Name: sd.Name, Value: fn})
	}

	for i, cd := range d.Connections {
		label := fmt.Sprintf("connection %d (%s -> %s)", i, cd.Source, cd.Target)
		src, srcSlice, err := ParseEndpoint(cd.Source)
		if err != nil {
			return nil, &TopologyError{Element: label, Reason: "source", Err: err}
		}
		tgt, tgtSlice, err := ParseEndpoint(cd.Target)
		if err != nil {
			return nil, &TopologyError{Element: label, Reason: "target", Err: err}
		}
		var fn function.Func
		if cd.Function != "" {
			fn, err = function.Lookup(cd.Function, cd.Params)
			if err != nil {
				return nil, &TopologyError{Element: label, Reason: "function", Err: err}
			}
		} else if len(cd.Params) > 0 {
			return nil, &TopologyError{Element: label, Reason: "params given without a function"}
		}
		tr, err := cd.Transform.matrix()
		if err != nil {
			return nil, &TopologyError{Element: label, Reason: "transform", Err: err}
		}
		b.Connect(Connection{
			Source:      src,
			SourceSlice: srcSlice,
			Target:      tgt,
			TargetSlice: tgtSlice,
			Function:    fn,
			Transform:   tr,
			Synapse:     cd.Synapse,
		})
	}

	return b, nil
}

// Build converts and validates the definition in one call.
func (d *Definition) Build() (*Graph, error) {
	b, err := d.Builder()
	if err != nil {
		return nil, err
	}
	return b.Build()
}

func (sd StimulusDef) valueFunc() (ValueFunc, error) {
	switch sd.Kind {
	case "", "constant":
		if len(sd.Value) == 0 {
			return nil, fmt.Errorf("constant stimulus needs a value")
		}
		return Constant(sd.Value...), nil
	case "step":
		if len(sd.Value) == 0 || len(sd.Value) != len(sd.After) {
			return nil, fmt.Errorf("step stimulus needs value and after of equal, non-zero length")
		}
		return StepAt(sd.At, sd.Value, sd.After), nil
	case "sine":
		if sd.Frequency < 0 {
			return nil, fmt.Errorf("sine stimulus frequency must be non-negative")
		}
		return Sine(sd.Amplitude, sd.Frequency, sd.Phase, sd.Offset), nil
	default:
		return nil, fmt.Errorf("unknown stimulus kind %q (valid: constant, step, sine)", sd.Kind)
	}
}

package engine

import (
	"errors"
	"fmt"
)

// Snapshot is the complete resumable state of an Integrator: population
// states plus every connection's filter state, indexed by connection
// declaration order.
type Snapshot struct {
	Step    int                  `json:"step"`
	Time    float64              `json:"time"`
	DT      float64              `json:"dt,omitempty"`
	States  map[string][]float64 `json:"states"`
	Filters [][]float64          `json:"filters,omitempty"`
}

// Snapshot captures the current state. The result shares no memory with the
// integrator.
func (in *Integrator) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshot()
}

func (in *Integrator) snapshot() Snapshot {
	s := Snapshot{
		Step:    in.step,
		Time:    in.time,
		DT:      in.opts.DT,
		States:  in.copyStates(),
		Filters: make([][]float64, len(in.conns)),
	}
	for i, cs := range in.conns {
		s.Filters[i] = cs.filter.State()
	}
	return s
}

// Restore loads a snapshot into a Ready integrator so that stepping continues
// exactly where the snapshot was taken. The snapshot must come from the same
// graph and dt.
func (in *Integrator) Restore(s Snapshot) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != Ready {
		return fmt.Errorf("restore: integrator is %s, want ready", in.state)
	}
	if s.DT != 0 && s.DT != in.opts.DT {
		return fmt.Errorf("restore: snapshot dt %g does not match %g", s.DT, in.opts.DT)
	}
	if s.Step < 0 {
		return errors.New("restore: negative step")
	}
	if len(s.States) != len(in.pops) {
		return fmt.Errorf("restore: snapshot has %d populations, want %d", len(s.States), len(in.pops))
	}
	for _, ps := range in.pops {
		v, ok := s.States[ps.pop.Name]
		if !ok {
			return fmt.Errorf("restore: snapshot has no state for %q", ps.pop.Name)
		}
		if len(v) != ps.pop.Dim {
			return fmt.Errorf("restore: %s has length %d, want %d", ps.pop.Name, len(v), ps.pop.Dim)
		}
	}
	if len(s.Filters) != len(in.conns) {
		return fmt.Errorf("restore: snapshot has %d filters, want %d", len(s.Filters), len(in.conns))
	}
	for i, cs := range in.conns {
		if len(s.Filters[i]) != cs.filter.Dim() {
			return fmt.Errorf("restore: filter %d (%s) has length %d, want %d",
				i, cs.conn.Label(), len(s.Filters[i]), cs.filter.Dim())
		}
	}

	for _, ps := range in.pops {
		copy(ps.x, s.States[ps.pop.Name])
		ps.exceeded = false
	}
	for i, cs := range in.conns {
		_ = cs.filter.Seed(s.Filters[i])
		copy(cs.filtered, s.Filters[i])
	}
	in.step = s.Step
	in.time = float64(s.Step) * in.opts.DT
	in.repoint()
	return nil
}

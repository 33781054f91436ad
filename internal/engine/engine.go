// Package engine advances a network.Graph through simulated time with a
// fixed-step synchronous update.
//
// Each step has two phases. In the read phase every connection reads its
// source as it stood at the end of the previous step, applies its function
// and transform, and advances its synaptic filter. After a barrier, the write
// phase sums the filtered contributions per target population and commits
// all new states at once. No connection ever observes a value written during
// the same step, so the result does not depend on the order (or parallelism)
// in which connections are evaluated.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/nvandessel/pcosc/internal/logging"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/nvandessel/pcosc/internal/synapse"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// State is the lifecycle position of an Integrator.
type State int

const (
	Uninitialized State = iota
	Ready
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configure an Integrator.
type Options struct {
	// DT is the fixed time step in seconds. Required.
	DT float64

	// Workers bounds the goroutines used in the read phase. Zero or one
	// evaluates connections on the calling goroutine.
	Workers int

	// Logger receives debug and trace output. Nil discards.
	Logger *slog.Logger

	// Events receives structured run events. Nil disables them.
	Events *logging.EventLogger
}

func (o Options) validate(g *network.Graph) error {
	if g == nil {
		return invalidConfig("nil graph")
	}
	if !(o.DT > 0) || math.IsInf(o.DT, 0) {
		return invalidConfig("dt must be positive and finite, got %g", o.DT)
	}
	if o.Workers < 0 {
		return invalidConfig("workers must be non-negative, got %d", o.Workers)
	}
	for _, c := range g.Connections() {
		if c.Synapse < 0 {
			return invalidConfig("connection %s: negative synapse time constant %g", c.Label(), c.Synapse)
		}
		if c.Synapse > 0 && c.Synapse < o.DT {
			return invalidConfig("connection %s: synapse time constant %g is shorter than dt %g",
				c.Label(), c.Synapse, o.DT)
		}
	}
	return nil
}

type popState struct {
	pop      *network.Population
	x        []float64
	next     []float64
	sum      []float64
	driven   []bool
	exceeded bool
}

type stimState struct {
	stim  *network.Stimulus
	value []float64
}

type connState struct {
	conn     *network.Connection
	fromPop  int // index into pops, or -1 for a stimulus source
	fromStim int
	source   []float64 // the source node's current buffer
	srcLo    int
	srcHi    int
	target   int
	dstLo    int

	fnOut    []float64
	out      []float64
	filtered []float64
	filter   *synapse.Lowpass

	// prev holds the filter output of the last committed step.
	prev []float64

	gain   float64
	scalar bool
	matrix *mat.Dense
	fnVec  *mat.VecDense
	outVec *mat.VecDense
}

// Integrator owns the mutable simulation state for one graph.
type Integrator struct {
	mu     sync.Mutex
	graph  *network.Graph
	opts   Options
	logger *slog.Logger

	state State
	step  int
	time  float64

	pops    []*popState
	popIdx  map[string]int
	stims   []*stimState
	conns   []*connState
	chunks  [][]*connState
	current map[string][]float64
}

// New creates an Integrator in the Ready state at time zero.
func New(g *network.Graph, opts Options) (*Integrator, error) {
	in := &Integrator{}
	if err := in.Init(g, opts); err != nil {
		return nil, err
	}
	return in, nil
}

// Init binds a zero-value Integrator to a graph. It may also be called on a
// Ready integrator to start over.
func (in *Integrator) Init(g *network.Graph, opts Options) error {
	if err := opts.validate(g); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state == Running || in.state == Stopped {
		return fmt.Errorf("init: integrator is %s", in.state)
	}

	in.graph = g
	in.opts = opts
	in.logger = opts.Logger
	if in.logger == nil {
		in.logger = logging.Discard()
	}

	in.pops = in.pops[:0]
	in.popIdx = make(map[string]int, len(g.Populations()))
	in.current = make(map[string][]float64, len(g.Populations()))
	for i, p := range g.Populations() {
		ps := &popState{
			pop:    p,
			x:      make([]float64, p.Dim),
			next:   make([]float64, p.Dim),
			sum:    make([]float64, p.Dim),
			driven: make([]bool, p.Dim),
		}
		in.pops = append(in.pops, ps)
		in.popIdx[p.Name] = i
	}

	in.stims = in.stims[:0]
	stimIdx := make(map[string]int, len(g.Stimuli()))
	for i, s := range g.Stimuli() {
		in.stims = append(in.stims, &stimState{stim: s, value: make([]float64, s.Dim)})
		stimIdx[s.Name] = i
	}

	in.conns = in.conns[:0]
	for _, c := range g.Connections() {
		cs, err := newConnState(c)
		if err != nil {
			return err
		}
		cs.target = in.popIdx[c.Target]
		cs.fromPop, cs.fromStim = -1, -1
		if i, ok := in.popIdx[c.Source]; ok {
			cs.fromPop = i
			cs.source = in.pops[i].x
		} else {
			cs.fromStim = stimIdx[c.Source]
			cs.source = in.stims[cs.fromStim].value
		}
		for j := cs.dstLo; j < cs.dstLo+c.OutDim(); j++ {
			in.pops[cs.target].driven[j] = true
		}
		in.conns = append(in.conns, cs)
	}
	in.chunks = partition(in.conns, opts.Workers)

	in.reset()
	in.state = Ready
	return nil
}

func newConnState(c *network.Connection) (*connState, error) {
	filter, err := synapse.NewLowpass(c.Synapse, c.OutDim())
	if err != nil {
		return nil, invalidConfig("connection %s: %v", c.Label(), err)
	}
	srcLo, srcHi := c.SourceSpan()
	dstLo, _ := c.TargetSpan()
	cs := &connState{
		conn:     c,
		srcLo:    srcLo,
		srcHi:    srcHi,
		dstLo:    dstLo,
		fnOut:    make([]float64, c.FuncDim()),
		filtered: make([]float64, c.OutDim()),
		filter:   filter,
		prev:     make([]float64, c.OutDim()),
	}

	switch gain, ok := c.ScalarTransform(); {
	case c.Transform == nil:
		cs.out = cs.fnOut
	case ok:
		cs.gain, cs.scalar = gain, true
		cs.out = make([]float64, c.OutDim())
	default:
		cs.matrix = c.Transform
		cs.out = make([]float64, c.OutDim())
		cs.fnVec = mat.NewVecDense(len(cs.fnOut), cs.fnOut)
		cs.outVec = mat.NewVecDense(len(cs.out), cs.out)
	}
	return cs, nil
}

// partition splits connections into at most n contiguous chunks.
func partition(conns []*connState, n int) [][]*connState {
	if n <= 1 || len(conns) < 2 {
		return [][]*connState{conns}
	}
	if n > len(conns) {
		n = len(conns)
	}
	size := (len(conns) + n - 1) / n
	var chunks [][]*connState
	for lo := 0; lo < len(conns); lo += size {
		hi := min(lo+size, len(conns))
		chunks = append(chunks, conns[lo:hi])
	}
	return chunks
}

// reset restores initial states and filter seeds. Caller holds mu.
func (in *Integrator) reset() {
	in.step = 0
	in.time = 0

	for _, ps := range in.pops {
		if ps.pop.Initial != nil {
			copy(ps.x, ps.pop.Initial)
		} else {
			clear(ps.x)
		}
		ps.exceeded = false
	}

	// A represent-mode population whose state is carried by a recurrent loop
	// starts from its initial value only if that loop's filter holds it.
	// Each component is seeded once, by the first recurrent connection
	// covering it.
	seeded := make(map[int][]bool, len(in.pops))
	for _, cs := range in.conns {
		cs.filter.Reset()
		clear(cs.filtered)
		c := cs.conn
		ps := in.pops[cs.target]
		if !c.Recurrent() || c.Synapse == 0 || ps.pop.Mode != network.Represent || ps.pop.Initial == nil {
			continue
		}
		done := seeded[cs.target]
		if done == nil {
			done = make([]bool, ps.pop.Dim)
			seeded[cs.target] = done
		}
		seed := make([]float64, c.OutDim())
		for i := range seed {
			j := cs.dstLo + i
			if !done[j] {
				seed[i] = ps.pop.Initial[j]
				done[j] = true
			}
		}
		_ = cs.filter.Seed(seed)
		copy(cs.filtered, seed)
	}

	for _, ss := range in.stims {
		clear(ss.value)
	}
	in.repoint()
}

// repoint refreshes connection source slices and the published state map
// after population buffers are swapped.
func (in *Integrator) repoint() {
	for _, cs := range in.conns {
		if cs.fromPop >= 0 {
			cs.source = in.pops[cs.fromPop].x
		}
	}
	for _, ps := range in.pops {
		in.current[ps.pop.Name] = ps.x
	}
}

// State reports the lifecycle state.
func (in *Integrator) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Time returns the current simulated time.
func (in *Integrator) Time() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.time
}

// Steps returns the number of completed steps.
func (in *Integrator) Steps() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.step
}

// DT returns the configured time step.
func (in *Integrator) DT() float64 {
	return in.opts.DT
}

// Graph returns the graph being simulated.
func (in *Integrator) Graph() *network.Graph {
	return in.graph
}

// States returns a copy of every population state keyed by name.
func (in *Integrator) States() map[string][]float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.copyStates()
}

func (in *Integrator) copyStates() map[string][]float64 {
	out := make(map[string][]float64, len(in.pops))
	for _, ps := range in.pops {
		out[ps.pop.Name] = append([]float64(nil), ps.x...)
	}
	return out
}

// Stop moves the integrator to the terminal Stopped state.
func (in *Integrator) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != Uninitialized {
		in.state = Stopped
	}
}

// Step advances the simulation by one dt. On a NumericInstabilityError the
// step is discarded and the integrator stops.
func (in *Integrator) Step() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.state {
	case Uninitialized:
		return ErrNotInitialized
	case Stopped:
		return ErrStopped
	}
	in.state = Running

	// Step 1: evaluate stimuli at the current time.
	for _, ss := range in.stims {
		v := ss.stim.Value(in.time)
		if len(v) != len(ss.value) {
			in.state = Stopped
			return fmt.Errorf("stimulus %s returned length %d at t=%g, want %d",
				ss.stim.Name, len(v), in.time, len(ss.value))
		}
		copy(ss.value, v)
	}

	// Step 2: read phase. Every connection sees end-of-previous-step values.
	for _, cs := range in.conns {
		copy(cs.prev, cs.filtered)
	}
	if err := in.readPhase(); err != nil {
		in.state = Stopped
		return err
	}

	// Step 3: write phase into the spare buffers.
	dt := in.opts.DT
	for _, ps := range in.pops {
		clear(ps.sum)
	}
	for _, cs := range in.conns {
		sum := in.pops[cs.target].sum[cs.dstLo:]
		for i, v := range cs.filtered {
			sum[i] += v
		}
	}
	for _, ps := range in.pops {
		switch ps.pop.Mode {
		case network.Accumulate:
			for i := range ps.next {
				ps.next[i] = ps.x[i] + dt*ps.sum[i]
			}
		default:
			for i := range ps.next {
				if ps.driven[i] {
					ps.next[i] = ps.sum[i]
				} else {
					ps.next[i] = ps.x[i]
				}
			}
		}
		for i, v := range ps.next {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				in.state = Stopped
				in.rollbackFilters()
				err := &NumericInstabilityError{
					Step:       in.step + 1,
					Time:       float64(in.step+1) * dt,
					Population: ps.pop.Name,
					Index:      i,
					Value:      v,
					Last:       in.snapshot(),
				}
				in.logger.Warn("numeric instability", "step", err.Step, "population", err.Population, "index", i)
				in.opts.Events.Log(map[string]any{
					"event":      "numeric_instability",
					"step":       err.Step,
					"sim_time":   err.Time,
					"population": err.Population,
					"index":      i,
				})
				return err
			}
		}
	}

	// Step 4: commit.
	for _, ps := range in.pops {
		ps.x, ps.next = ps.next, ps.x
	}
	in.repoint()
	in.step++
	in.time = float64(in.step) * dt

	in.checkRadius()
	if in.logger.Enabled(context.Background(), logging.LevelTrace) {
		in.logger.Log(context.Background(), logging.LevelTrace, "step", "step", in.step, "t", in.time)
	}
	return nil
}

// rollbackFilters restores every filter to its last committed output, undoing
// a read phase whose step is discarded.
func (in *Integrator) rollbackFilters() {
	for _, cs := range in.conns {
		_ = cs.filter.Seed(cs.prev)
		copy(cs.filtered, cs.prev)
	}
}

func (in *Integrator) readPhase() error {
	if len(in.chunks) == 1 {
		for _, cs := range in.chunks[0] {
			in.contribute(cs)
		}
		return nil
	}

	var g errgroup.Group
	for _, chunk := range in.chunks {
		g.Go(func() error {
			for _, cs := range chunk {
				in.contribute(cs)
			}
			return nil
		})
	}
	return g.Wait()
}

// contribute computes one connection's filtered output. It touches only the
// connection's own buffers and reads shared state.
func (in *Integrator) contribute(cs *connState) {
	src := cs.source[cs.srcLo:cs.srcHi]
	if fn := cs.conn.Function; fn != nil {
		fn.Apply(cs.fnOut, src)
	} else {
		copy(cs.fnOut, src)
	}

	switch {
	case cs.scalar:
		for i, v := range cs.fnOut {
			cs.out[i] = cs.gain * v
		}
	case cs.matrix != nil:
		cs.outVec.MulVec(cs.matrix, cs.fnVec)
	}

	cs.filter.Step(in.opts.DT, cs.out, cs.filtered)
}

// checkRadius reports the first excursion beyond radius per population.
func (in *Integrator) checkRadius() {
	for _, ps := range in.pops {
		if ps.exceeded {
			continue
		}
		for i, v := range ps.x {
			if math.Abs(v) > ps.pop.Radius {
				ps.exceeded = true
				in.logger.Debug("population exceeded radius",
					"population", ps.pop.Name, "index", i, "value", v,
					"radius", ps.pop.Radius, "t", in.time)
				in.opts.Events.Log(map[string]any{
					"event":      "radius_exceeded",
					"population": ps.pop.Name,
					"index":      i,
					"value":      v,
					"radius":     ps.pop.Radius,
					"sim_time":   in.time,
				})
				break
			}
		}
	}
}

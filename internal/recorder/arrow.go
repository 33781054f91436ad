package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/nvandessel/pcosc/internal/network"
)

// DefaultBatchRows is the number of steps buffered per Arrow record batch.
const DefaultBatchRows = 4096

// ColumnName names one component of a population in a trace file:
// "layer1" for a scalar population, "osc[2]" otherwise.
func ColumnName(pop string, dim, i int) string {
	if dim == 1 {
		return pop
	}
	return fmt.Sprintf("%s[%d]", pop, i)
}

type arrowColumn struct {
	pop string
	idx int
}

// ArrowWriter streams a run to an Arrow IPC file with one row per recorded
// step: "step" (int64), "time" (float64), then one float64 column per
// population component in declaration order.
type ArrowWriter struct {
	mem     memory.Allocator
	schema  *arrow.Schema
	cols    []arrowColumn
	builder *array.RecordBuilder
	writer  *ipc.FileWriter
	batch   int
	pending int
	rows    int
	closed  bool
}

// NewArrowWriter writes the given populations to w, which must be seekable
// for the file footer. batchRows <= 0 uses DefaultBatchRows. Close must be
// called to produce a valid file; it does not close w.
func NewArrowWriter(w io.WriteSeeker, pops []*network.Population, batchRows int) (*ArrowWriter, error) {
	if len(pops) == 0 {
		return nil, errors.New("arrow writer: no populations")
	}
	if batchRows <= 0 {
		batchRows = DefaultBatchRows
	}

	fields := []arrow.Field{
		{Name: "step", Type: arrow.PrimitiveTypes.Int64},
		{Name: "time", Type: arrow.PrimitiveTypes.Float64},
	}
	var cols []arrowColumn
	for _, p := range pops {
		for i := 0; i < p.Dim; i++ {
			fields = append(fields, arrow.Field{Name: ColumnName(p.Name, p.Dim, i), Type: arrow.PrimitiveTypes.Float64})
			cols = append(cols, arrowColumn{pop: p.Name, idx: i})
		}
	}
	schema := arrow.NewSchema(fields, nil)

	mem := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("arrow writer: %w", err)
	}

	return &ArrowWriter{
		mem:     mem,
		schema:  schema,
		cols:    cols,
		builder: array.NewRecordBuilder(mem, schema),
		writer:  fw,
		batch:   batchRows,
	}, nil
}

// CreateArrowFile creates path and returns a writer plus a close function
// that finalizes the Arrow footer and closes the file.
func CreateArrowFile(path string, pops []*network.Population, batchRows int) (*ArrowWriter, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace file: %w", err)
	}
	aw, err := NewArrowWriter(f, pops, batchRows)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	closeFn := func() error {
		werr := aw.Close()
		ferr := f.Close()
		return errors.Join(werr, ferr)
	}
	return aw, closeFn, nil
}

// Record implements engine.Recorder.
func (aw *ArrowWriter) Record(step int, t float64, states map[string][]float64) error {
	if aw.closed {
		return errors.New("arrow writer: closed")
	}
	for _, c := range aw.cols {
		if v, ok := states[c.pop]; !ok || c.idx >= len(v) {
			return fmt.Errorf("arrow writer: missing %s", ColumnName(c.pop, len(v), c.idx))
		}
	}

	aw.builder.Field(0).(*array.Int64Builder).Append(int64(step))
	aw.builder.Field(1).(*array.Float64Builder).Append(t)
	for j, c := range aw.cols {
		aw.builder.Field(j + 2).(*array.Float64Builder).Append(states[c.pop][c.idx])
	}
	aw.pending++
	aw.rows++

	if aw.pending >= aw.batch {
		return aw.flush()
	}
	return nil
}

// Rows returns the number of rows recorded so far.
func (aw *ArrowWriter) Rows() int { return aw.rows }

func (aw *ArrowWriter) flush() error {
	if aw.pending == 0 {
		return nil
	}
	rec := aw.builder.NewRecord()
	defer rec.Release()
	aw.pending = 0
	if err := aw.writer.Write(rec); err != nil {
		return fmt.Errorf("arrow writer: writing batch: %w", err)
	}
	return nil
}

// Close flushes buffered rows and writes the file footer.
func (aw *ArrowWriter) Close() error {
	if aw.closed {
		return nil
	}
	aw.closed = true
	ferr := aw.flush()
	aw.builder.Release()
	if err := aw.writer.Close(); err != nil {
		return errors.Join(ferr, fmt.Errorf("arrow writer: closing: %w", err))
	}
	return ferr
}

// Trace is a run read back from an Arrow trace file.
type Trace struct {
	Steps   []int64
	Times   []float64
	Columns []string
	Data    map[string][]float64
}

// Len returns the number of rows.
func (tr *Trace) Len() int { return len(tr.Steps) }

// ReadArrow loads a trace file written by ArrowWriter.
func ReadArrow(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	fr, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}
	defer fr.Close()

	schema := fr.Schema()
	if schema.NumFields() < 2 || schema.Field(0).Name != "step" || schema.Field(1).Name != "time" {
		return nil, fmt.Errorf("reading trace file: unexpected schema %s", schema)
	}

	tr := &Trace{Data: make(map[string][]float64)}
	for j := 2; j < schema.NumFields(); j++ {
		tr.Columns = append(tr.Columns, schema.Field(j).Name)
	}

	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading trace batch %d: %w", i, err)
		}
		steps, ok := rec.Column(0).(*array.Int64)
		if !ok {
			return nil, fmt.Errorf("reading trace batch %d: step column is %s", i, rec.Column(0).DataType())
		}
		tr.Steps = append(tr.Steps, steps.Int64Values()...)
		times, ok := rec.Column(1).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("reading trace batch %d: time column is %s", i, rec.Column(1).DataType())
		}
		tr.Times = append(tr.Times, times.Float64Values()...)
		for j, name := range tr.Columns {
			col, ok := rec.Column(j + 2).(*array.Float64)
			if !ok {
				return nil, fmt.Errorf("reading trace batch %d: column %s is %s", i, name, rec.Column(j+2).DataType())
			}
			tr.Data[name] = append(tr.Data[name], col.Float64Values()...)
		}
	}
	return tr, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// DefaultBatchSize is the number of recorded steps written per transaction.
const DefaultBatchSize = 500

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is the stored metadata of one simulation run.
type Run struct {
	ID         string         `json:"id"`
	Label      string         `json:"label,omitempty"`
	Status     string         `json:"status"`
	DT         float64        `json:"dt"`
	Duration   float64        `json:"duration"`
	Params     map[string]any `json:"params,omitempty"`
	Steps      int            `json:"steps"`
	FinalTime  float64        `json:"final_time"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Sample is one recorded population vector.
type Sample struct {
	Step   int       `json:"step"`
	Time   float64   `json:"time"`
	Values []float64 `json:"values"`
}

// SQLiteStore stores runs and samples in a SQLite database.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) .pcosc/runs.db under projectRoot.
func NewSQLiteStore(projectRoot string) (*SQLiteStore, error) {
	dir := LocalDataPath(projectRoot)
	if err := EnsureDataDir(dir); err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, DBFile))
}

// Open opens the database at path. ":memory:" gives a private in-memory
// store.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dbPath: path}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginRun inserts a run in the running state and returns a recorder bound
// to it. The run's ID and StartedAt are filled in if empty.
func (s *SQLiteStore) BeginRun(ctx context.Context, run Run) (*RunRecorder, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.StartedAt = run.StartedAt.UTC()
	run.Status = StatusRunning

	params, err := marshalParams(run.Params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, label, status, dt, duration, params, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Label, run.Status, run.DT, run.Duration, params,
		run.StartedAt.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return &RunRecorder{store: s, ctx: ctx, run: run, batch: DefaultBatchSize}, nil
}

// FinishRun records the outcome of a run. A nil runErr marks it completed;
// context cancellation marks it cancelled; anything else failed.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, steps int, finalTime float64, runErr error) error {
	status := StatusCompleted
	var msg string
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = StatusCancelled
		msg = runErr.Error()
	default:
		status = StatusFailed
		msg = runErr.Error()
	}

	// A cancelled run is still recorded as such.
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, steps = ?, final_time = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, steps, finalTime, msg, time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun returns one run.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, status, dt, duration, params, steps, final_time, error, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, label, status, dt, duration, params, steps, final_time, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Populations returns the population names that have samples in a run.
func (s *SQLiteStore) Populations(ctx context.Context, runID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT population FROM samples WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list populations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan population: %w", err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rows.Err()
}

// Samples returns the recorded samples of one population in step order.
func (s *SQLiteStore) Samples(ctx context.Context, runID, population string) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, time, vals FROM samples
		WHERE run_id = ? AND population = ?
		ORDER BY step`, runID, population)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		var vals string
		if err := rows.Scan(&sm.Step, &sm.Time, &vals); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(vals), &sm.Values); err != nil {
			return nil, fmt.Errorf("failed to decode sample values: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its samples.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var label, params, msg, finishedAt sql.NullString
	var startedAt string
	if err := sc.Scan(&run.ID, &label, &run.Status, &run.DT, &run.Duration, &params,
		&run.Steps, &run.FinalTime, &msg, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Label = label.String
	run.Error = msg.String
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &run.Params); err != nil {
			return nil, fmt.Errorf("failed to decode run params: %w", err)
		}
	}
	if t, err := time.Parse(timeFormat, startedAt); err == nil {
		run.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(timeFormat, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func marshalParams(params map[string]any) (sql.NullString, error) {
	if len(params) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode run params: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

type pendingSample struct {
	step int
	t    float64
	pop  string
	vals string
}

// RunRecorder is an engine.Recorder that writes samples of one run. Samples
// are buffered and written in batched transactions; Flush (or Close) writes
// the remainder.
type RunRecorder struct {
	store   *SQLiteStore
	ctx     context.Context
	run     Run
	batch   int
	steps   int
	pending []pendingSample
}

// ID returns the run ID.
func (r *RunRecorder) ID() string { return r.run.ID }

// Run returns the run metadata as inserted.
func (r *RunRecorder) Run() Run { return r.run }

// SetBatchSize sets the number of steps per transaction.
func (r *RunRecorder) SetBatchSize(n int) {
	if n > 0 {
		r.batch = n
	}
}

// Record implements engine.Recorder.
func (r *RunRecorder) Record(step int, t float64, states map[string][]float64) error {
	for pop, v := range states {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s at step %d: %w", pop, step, err)
		}
		r.pending = append(r.pending, pendingSample{step: step, t: t, pop: pop, vals: string(data)})
	}
	r.steps++
	if r.steps >= r.batch {
		return r.Flush()
	}
	return nil
}

// Flush writes buffered samples in one transaction.
func (r *RunRecorder) Flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// The run context may already be cancelled; buffered samples are still
	// written so a cancelled run keeps its partial trace.
	ctx := context.WithoutCancel(r.ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO samples (run_id, step, time, population, vals) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range r.pending {
		if _, err := stmt.ExecContext(ctx, r.run.ID, p.step, p.t, p.pop, p.vals); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	r.pending = r.pending[:0]
	r.steps = 0
	return nil
}

// Close flushes remaining samples.
func (r *RunRecorder) Close() error {
	return r.Flush()
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/skystack/internal/timeutil"
)

// Run statuses.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one acquisition session.
type Run struct {
	RunID      string
	Device     string
	CameraType string
	Width      int
	Height     int
	Depth      int
	Path       string
	TestMode   bool
	StartedAt  time.Time
	PlannedEnd time.Time
	FinishedAt *time.Time
	Status     string
	Error      string
	RunCounters
}

// RunCounters are the totals recorded when a run finishes.
type RunCounters struct {
	Stacks       uint64
	Records      uint64
	SinkFailures uint64
	Frames       uint64
	Drops        uint64
	Overruns     uint64
}

// StartRun inserts r with status running. An empty RunID is replaced with a
// new UUID.
func (db *DB) StartRun(ctx context.Context, r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	r.Status = RunStatusRunning
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (run_id, device, camera_type, width, height, depth, path,
			test_mode, started_at, planned_end, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Device, r.CameraType, r.Width, r.Height, r.Depth, r.Path,
		r.TestMode, timeutil.UnixSeconds(r.StartedAt), timeutil.UnixSeconds(r.PlannedEnd), r.Status)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the outcome and counters of a run.
func (db *DB) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time, runErr error, c RunCounters) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, error = ?,
			stacks = ?, records = ?, sink_failures = ?, frames = ?, drops = ?, overruns = ?
		WHERE run_id = ?`,
		timeutil.UnixSeconds(finishedAt), status, errText,
		int64(c.Stacks), int64(c.Records), int64(c.SinkFailures), int64(c.Frames), int64(c.Drops), int64(c.Overruns),
		runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, device, camera_type, width, height, depth, path, test_mode,
	started_at, planned_end, finished_at, status, error,
	stacks, records, sink_failures, frames, drops, overruns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                Run
		started, planned float64
		finished         sql.NullFloat64
		errText          sql.NullString
		stacks, records  int64
		failures, frames int64
		drops, overruns  int64
	)
	if err := row.Scan(&r.RunID, &r.Device, &r.CameraType, &r.Width, &r.Height, &r.Depth, &r.Path, &r.TestMode,
		&started, &planned, &finished, &r.Status, &errText,
		&stacks, &records, &failures, &frames, &drops, &overruns); err != nil {
		return nil, err
	}
	r.StartedAt = timeutil.FromUnixSeconds(started)
	r.PlannedEnd = timeutil.FromUnixSeconds(planned)
	if finished.Valid {
		t := timeutil.FromUnixSeconds(finished.Float64)
		r.FinishedAt = &t
	}
	r.Error = errText.String
	r.RunCounters = RunCounters{
		Stacks:       uint64(stacks),
		Records:      uint64(records),
		SinkFailures: uint64(failures),
		Frames:       uint64(frames),
		Drops:        uint64(drops),
		Overruns:     uint64(overruns),
	}
	return &r, nil
}

// GetRun returns the run with the given ID.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first, at most limit of them.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

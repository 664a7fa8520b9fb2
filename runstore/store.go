// Package runstore records training runs and their per-epoch results in
// SQLite.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tsawler/go-mmsa/modality"
	"github.com/tsawler/go-mmsa/training"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrUpdate       = errors.New("update error")
	ErrNotFound     = errors.New("run not found")
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run status values.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	dataset     TEXT NOT NULL,
	model_name  TEXT NOT NULL,
	key_eval    TEXT NOT NULL,
	config_json TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	epochs      INTEGER NOT NULL DEFAULT 0,
	best_epoch  INTEGER NOT NULL DEFAULT 0,
	best_value  REAL,
	stop_reason TEXT,
	error       TEXT
);

CREATE TABLE IF NOT EXISTS epoch_results (
	run_id        TEXT NOT NULL,
	epoch         INTEGER NOT NULL,
	split         TEXT NOT NULL,
	loss          REAL NOT NULL,
	metrics_json  TEXT NOT NULL,
	presence_json TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL,
	improved      INTEGER NOT NULL DEFAULT 0,
	learning_rate REAL NOT NULL,
	PRIMARY KEY (run_id, epoch, split),
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Run is one recorded training run.
type Run struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset"`
	ModelName  string    `json:"model_name"`
	KeyEval    string    `json:"key_eval"`
	Config     string    `json:"config"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Epochs     int       `json:"epochs"`
	BestEpoch  int       `json:"best_epoch"`
	BestValue  float64   `json:"best_value"`
	StopReason string    `json:"stop_reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// EpochRow is one split result of one epoch.
type EpochRow struct {
	RunID        string           `json:"run_id"`
	Epoch        int              `json:"epoch"`
	Split        string           `json:"split"`
	Loss         float64          `json:"loss"`
	Metrics      training.Results `json:"metrics"`
	Presence     modality.Tally   `json:"presence"`
	Duration     time.Duration    `json:"duration"`
	Improved     bool             `json:"improved"`
	LearningRate float64          `json:"learning_rate"`
}

// Store manages run history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrDBConnection, pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a running run with a fresh id. cfg is stored as JSON.
func (s *Store) StartRun(ctx context.Context, dataset, modelName, keyEval string, cfg any) (Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("marshal config: %w", err)
	}
	run := Run{
		ID:        uuid.NewString(),
		Dataset:   dataset,
		ModelName: modelName,
		KeyEval:   keyEval,
		Config:    string(cfgJSON),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dataset, model_name, key_eval, config_json, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Dataset, run.ModelName, run.KeyEval, run.Config, run.Status, run.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return Run{}, fmt.Errorf("%w: %w", ErrCreate, err)
	}
	return run, nil
}

// RecordEpoch stores the train, valid and test results of an epoch in one
// transaction.
func (s *Store) RecordEpoch(ctx context.Context, runID string, rec training.EpochRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, res := range []training.EpochResult{rec.Train, rec.Valid, rec.Test} {
		metricsJSON, err := json.Marshal(res.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		presenceJSON, err := json.Marshal(res.Presence)
		if err != nil {
			return fmt.Errorf("marshal presence: %w", err)
		}
		improved := rec.Improved && res.Mode == training.PassValid
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO epoch_results (run_id, epoch, split, loss, metrics_json, presence_json, duration_ms, improved, learning_rate)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, rec.Epoch, res.Split, res.Loss, string(metricsJSON), string(presenceJSON),
			res.Duration.Milliseconds(), improved, rec.LearningRate,
		); err != nil {
			return fmt.Errorf("%w: %w", ErrCreate, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET epochs = ?, best_epoch = ?, best_value = ? WHERE id = ?`,
		rec.Epoch, rec.Best.Epoch, rec.Best.Value, runID,
	); err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	return tx.Commit()
}

// Observer returns a controller hook that records every epoch of runID.
func (s *Store) Observer(runID string) training.EpochObserver {
	return training.EpochObserverFunc(func(ctx context.Context, rec training.EpochRecord) error {
		return s.RecordEpoch(ctx, runID, rec)
	})
}

// FinishRun closes a run. A non-nil runErr marks it failed; h may be nil
// in that case.
func (s *Store) FinishRun(ctx context.Context, runID string, h *training.History, runErr error) error {
	status, errText := StatusFinished, ""
	if runErr != nil {
		status, errText = StatusFailed, runErr.Error()
	}
	var (
		epochs, bestEpoch int
		bestValue         float64
		stopReason        string
	)
	if h != nil {
		epochs, bestEpoch, bestValue, stopReason = h.Epochs, h.BestEpoch, h.BestValue, h.StopReason
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error = ?,
		 epochs = CASE WHEN ? > 0 THEN ? ELSE epochs END,
		 best_epoch = CASE WHEN ? > 0 THEN ? ELSE best_epoch END,
		 best_value = CASE WHEN ? > 0 THEN ? ELSE best_value END,
		 stop_reason = ?
		 WHERE id = ?`,
		status, time.Now().UTC().Format(timeLayout), errText,
		epochs, epochs, epochs, bestEpoch, epochs, bestValue, stopReason,
		runID,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdate, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

const runColumns = `id, dataset, model_name, key_eval, config_json, status, started_at, finished_at, epochs, best_epoch, best_value, stop_reason, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r          Run
		started    string
		finished   sql.NullString
		bestValue  sql.NullFloat64
		stopReason sql.NullString
		errText    sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Dataset, &r.ModelName, &r.KeyEval, &r.Config, &r.Status,
		&started, &finished, &r.Epochs, &r.BestEpoch, &bestValue, &stopReason, &errText); err != nil {
		return Run{}, err
	}
	var err error
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid && finished.String != "" {
		if r.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return Run{}, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	r.BestValue = bestValue.Float64
	r.StopReason = stopReason.String
	r.Error = errText.String
	return r, nil
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Run{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, offset, limit uint64) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	return runs, nil
}

// ListEpochs returns every stored split result of a run ordered by epoch.
func (s *Store) ListEpochs(ctx context.Context, runID string) ([]EpochRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, epoch, split, loss, metrics_json, presence_json, duration_ms, improved, learning_rate
		 FROM epoch_results WHERE run_id = ?
		 ORDER BY epoch, CASE split WHEN 'train' THEN 0 WHEN 'valid' THEN 1 ELSE 2 END`, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	defer rows.Close()

	out := []EpochRow{}
	for rows.Next() {
		var (
			e            EpochRow
			metricsJSON  string
			presenceJSON string
			durationMS   int64
		)
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.Split, &e.Loss, &metricsJSON, &presenceJSON,
			&durationMS, &e.Improved, &e.LearningRate); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &e.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		if err := json.Unmarshal([]byte(presenceJSON), &e.Presence); err != nil {
			return nil, fmt.Errorf("unmarshal presence: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}
	return out, nil
}

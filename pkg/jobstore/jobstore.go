// Package jobstore persists job lifecycles and per-command results in an
// embedded sqlite database under the data root. The store is the durable
// side of job tracking; live scheduling state stays in memory with the
// job manager.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netman-network/netman/pkg/util"
)

// JobRecord is the persisted form of a job.
type JobRecord struct {
	ID              string     `json:"job_id"`
	Status          string     `json:"status"`
	Commands        []string   `json:"commands"`
	DeviceIDs       []string   `json:"device_ids"`
	BatchSize       int        `json:"batch_size"`
	Parallel        bool       `json:"parallel"`
	DevicesPerHour  int        `json:"devices_per_hour"`
	TotalDevices    int        `json:"total_devices"`
	CompletedDevices int       `json:"completed_devices"`
	FailedDevices   int        `json:"failed_devices"`
	ProgressPercent int        `json:"progress_percent"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// CommandResult is one executed command on one device.
type CommandResult struct {
	ID              int64     `json:"id"`
	JobID           string    `json:"job_id"`
	DeviceID        string    `json:"device_id"`
	DeviceName      string    `json:"device_name"`
	Command         string    `json:"command"`
	Status          string    `json:"status"`
	TextPath        string    `json:"text_path,omitempty"`
	JSONPath        string    `json:"json_path,omitempty"`
	Error           string    `json:"error,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store wraps the sqlite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the job database and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &util.StorageError{Path: path, Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, &util.StorageError{Path: path, Err: err}
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			commands TEXT NOT NULL,
			device_ids TEXT NOT NULL,
			batch_size INTEGER NOT NULL,
			parallel BOOLEAN NOT NULL DEFAULT true,
			devices_per_hour INTEGER NOT NULL DEFAULT 0,
			total_devices INTEGER NOT NULL,
			completed_devices INTEGER NOT NULL DEFAULT 0,
			failed_devices INTEGER NOT NULL DEFAULT 0,
			progress_percent INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS command_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			device_name TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			text_path TEXT,
			json_path TEXT,
			error TEXT,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_job_id ON command_results(job_id)`,
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	defer tx.Rollback()

	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx, m); err != nil {
			return &util.StorageError{Path: s.path, Err: fmt.Errorf("migration: %w", err)}
		}
	}
	return tx.Commit()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, rec JobRecord) error {
	commands, err := json.Marshal(rec.Commands)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	devices, err := json.Marshal(rec.DeviceIDs)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO jobs (id, status, commands, device_ids, batch_size, parallel,
			devices_per_hour, total_devices, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Status, string(commands), string(devices), rec.BatchSize,
		rec.Parallel, rec.DevicesPerHour, rec.TotalDevices, rec.CreatedAt.UTC())
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	return nil
}

// UpdateStatus sets the job status and, for terminal statuses, the finish
// time. A non-empty errMsg replaces the stored error.
func (s *Store) UpdateStatus(ctx context.Context, jobID, status, errMsg string) error {
	var finished *time.Time
	if isTerminal(status) {
		now := time.Now().UTC()
		finished = &now
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE jobs SET status = ?,
			error = CASE WHEN ? != '' THEN ? ELSE error END,
			finished_at = COALESCE(?, finished_at)
		WHERE id = ?`,
		status, errMsg, errMsg, finished, jobID)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	return s.requireRow(res, jobID)
}

// MarkStarted records the moment a job left the pending state.
func (s *Store) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET started_at = ? WHERE id = ?`, at.UTC(), jobID)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	return s.requireRow(res, jobID)
}

// SetProgress updates the device counters and percent for a job.
func (s *Store) SetProgress(ctx context.Context, jobID string, completed, failed, percent int) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE jobs SET completed_devices = ?, failed_devices = ?, progress_percent = ?
		WHERE id = ?`,
		completed, failed, percent, jobID)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	return s.requireRow(res, jobID)
}

// AppendResult stores one command result row.
func (s *Store) AppendResult(ctx context.Context, r CommandResult) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO command_results (job_id, device_id, device_name, command,
			status, text_path, json_path, error, execution_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.DeviceID, r.DeviceName, r.Command, r.Status,
		r.TextPath, r.JSONPath, r.Error, r.ExecutionTimeMS, r.CreatedAt.UTC())
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	return nil
}

const jobColumns = `id, status, commands, device_ids, batch_size, parallel,
	devices_per_hour, total_devices, completed_devices, failed_devices,
	progress_percent, COALESCE(error, ''), created_at, started_at, finished_at`

// GetJob returns a job by id. Missing jobs are util.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	rec, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %q: %w", jobID, util.ErrNotFound)
	}
	if err != nil {
		return nil, &util.StorageError{Path: s.path, Err: err}
	}
	return rec, nil
}

// LatestJob returns the most recently created job, or ErrNotFound when the
// store is empty.
func (s *Store) LatestJob(ctx context.Context) (*JobRecord, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT 1`)
	rec, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no jobs: %w", util.ErrNotFound)
	}
	if err != nil {
		return nil, &util.StorageError{Path: s.path, Err: err}
	}
	return rec, nil
}

// JobsSince returns jobs created at or after the cutoff, newest first.
func (s *Store) JobsSince(ctx context.Context, cutoff time.Time) ([]JobRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE created_at >= ? ORDER BY created_at DESC`,
		cutoff.UTC())
	if err != nil {
		return nil, &util.StorageError{Path: s.path, Err: err}
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, &util.StorageError{Path: s.path, Err: err}
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Results returns the command results for a job in insertion order.
func (s *Store) Results(ctx context.Context, jobID string) ([]CommandResult, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, job_id, device_id, device_name, command, status,
			COALESCE(text_path, ''), COALESCE(json_path, ''), COALESCE(error, ''),
			execution_time_ms, created_at
		FROM command_results WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, &util.StorageError{Path: s.path, Err: err}
	}
	defer rows.Close()

	var out []CommandResult
	for rows.Next() {
		var r CommandResult
		if err := rows.Scan(&r.ID, &r.JobID, &r.DeviceID, &r.DeviceName, &r.Command,
			&r.Status, &r.TextPath, &r.JSONPath, &r.Error, &r.ExecutionTimeMS,
			&r.CreatedAt); err != nil {
			return nil, &util.StorageError{Path: s.path, Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailUnfinished force-fails every job left in a non-terminal status and
// returns how many were swept. Run once at startup: a job that was live
// when the process died can never finish.
func (s *Store) FailUnfinished(ctx context.Context, reason string) (int, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error = ?, finished_at = ?
		WHERE status NOT IN ('completed', 'failed', 'cancelled')`,
		reason, time.Now().UTC())
	if err != nil {
		return 0, &util.StorageError{Path: s.path, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &util.StorageError{Path: s.path, Err: err}
	}
	if n > 0 {
		util.WithField("count", n).Warn("Force-failed unfinished jobs from previous run")
	}
	return int(n), nil
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

func (s *Store) requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	if n == 0 {
		return fmt.Errorf("job %q: %w", jobID, util.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	var (
		rec                JobRecord
		commands, devices  string
		started, finished  sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Status, &commands, &devices, &rec.BatchSize,
		&rec.Parallel, &rec.DevicesPerHour, &rec.TotalDevices,
		&rec.CompletedDevices, &rec.FailedDevices, &rec.ProgressPercent,
		&rec.Error, &rec.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(commands), &rec.Commands); err != nil {
		return nil, fmt.Errorf("job %s: bad commands column: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(devices), &rec.DeviceIDs); err != nil {
		return nil, fmt.Errorf("job %s: bad device_ids column: %w", rec.ID, err)
	}
	if started.Valid {
		t := started.Time
		rec.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// Package store persists scenario Reports to SQLite via
// github.com/mattn/go-sqlite3, matching the test_reports/execution_steps
// schema spec.md §6.7 requires verbatim for backwards compatibility.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wooveep/ocloudview-atp/scenario"
)

const schema = `
CREATE TABLE IF NOT EXISTS test_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scenario_name TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    steps_total INTEGER NOT NULL,
    steps_succeeded INTEGER NOT NULL,
    steps_failed INTEGER NOT NULL,
    steps_skipped INTEGER NOT NULL,
    passed INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_steps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    report_id INTEGER NOT NULL REFERENCES test_reports(id),
    step_index INTEGER NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    duration_ms INTEGER NOT NULL,
    output TEXT
);
`

// ReportStore persists and retrieves scenario.Report records.
type ReportStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and applies the
// schema.
func Open(path string) (*ReportStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &ReportStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *ReportStore) Close() error { return s.db.Close() }

// SaveReport persists r and its steps inside a single transaction,
// returning the assigned report id. Reports are append-only: there is no
// Update method, per spec.md §3.8.
func (s *ReportStore) SaveReport(ctx context.Context, r scenario.Report) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	passed := 0
	if r.Passed {
		passed = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO test_reports
			(scenario_name, started_at, ended_at, duration_ms, steps_total, steps_succeeded, steps_failed, steps_skipped, passed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ScenarioName, r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli(), r.DurationMs,
		r.StepsTotal, r.StepsSucceeded, r.StepsFailed, r.StepsSkipped, passed)
	if err != nil {
		return 0, fmt.Errorf("store: insert report: %w", err)
	}
	reportID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO execution_steps
			(report_id, step_index, name, status, error, duration_ms, output)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare step insert: %w", err)
	}
	defer stmt.Close()

	for i, step := range r.Steps {
		if _, err := stmt.ExecContext(ctx, reportID, i, step.Name, string(step.Status), step.Error, step.DurationMs, step.Output); err != nil {
			return 0, fmt.Errorf("store: insert step %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return reportID, nil
}

// GetReport loads a report and its steps by id.
func (s *ReportStore) GetReport(ctx context.Context, id int64) (scenario.Report, error) {
	var r scenario.Report
	var startedAt, endedAt int64
	var passed int

	row := s.db.QueryRowContext(ctx, `
		SELECT scenario_name, started_at, ended_at, duration_ms,
		       steps_total, steps_succeeded, steps_failed, steps_skipped, passed
		FROM test_reports WHERE id = ?`, id)
	if err := row.Scan(&r.ScenarioName, &startedAt, &endedAt, &r.DurationMs,
		&r.StepsTotal, &r.StepsSucceeded, &r.StepsFailed, &r.StepsSkipped, &passed); err != nil {
		return scenario.Report{}, fmt.Errorf("store: get report %d: %w", id, err)
	}
	r.ID = id
	r.StartedAt = fromUnixMilli(startedAt)
	r.EndedAt = fromUnixMilli(endedAt)
	r.Passed = passed != 0

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, error, duration_ms, output
		FROM execution_steps WHERE report_id = ? ORDER BY step_index ASC`, id)
	if err != nil {
		return scenario.Report{}, fmt.Errorf("store: get steps for report %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var step scenario.StepReport
		var status string
		var errStr sql.NullString
		if err := rows.Scan(&step.Name, &status, &errStr, &step.DurationMs, &step.Output); err != nil {
			return scenario.Report{}, fmt.Errorf("store: scan step: %w", err)
		}
		step.Status = scenario.StepStatus(status)
		step.Error = errStr.String
		r.Steps = append(r.Steps, step)
	}
	return r, rows.Err()
}

// ListReports returns report summaries (without steps) ordered newest-first.
func (s *ReportStore) ListReports(ctx context.Context, limit int) ([]scenario.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario_name, started_at, ended_at, duration_ms,
		       steps_total, steps_succeeded, steps_failed, steps_skipped, passed
		FROM test_reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	defer rows.Close()

	var out []scenario.Report
	for rows.Next() {
		var r scenario.Report
		var id, startedAt, endedAt int64
		var passed int
		if err := rows.Scan(&id, &r.ScenarioName, &startedAt, &endedAt, &r.DurationMs,
			&r.StepsTotal, &r.StepsSucceeded, &r.StepsFailed, &r.StepsSkipped, &passed); err != nil {
			return nil, fmt.Errorf("store: scan report: %w", err)
		}
		r.ID = id
		r.StartedAt = fromUnixMilli(startedAt)
		r.EndedAt = fromUnixMilli(endedAt)
		r.Passed = passed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

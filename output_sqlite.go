package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buger/gorshift/dispatch"
)

// SQLiteOutput stores every outcome as a row of the outcomes table.
type SQLiteOutput struct {
	db    *sql.DB
	runID string
}

// OutcomeRow is a stored outcome.
type OutcomeRow struct {
	ID         string
	RunID      string
	Index      int
	Method     string
	URL        string
	AccessedAt time.Time
	Deadline   time.Time
	Kind       string
	StatusCode int // 0 when there was no response
	Error      string
	LatencyMs  int64
	LatenessMs int64
}

func NewSQLiteOutput(ctx context.Context, path string, runID string) (*SQLiteOutput, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// Outcomes arrive from many goroutines, sqlite takes one writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	o := &SQLiteOutput{db: db, runID: runID}
	if err := o.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return o, nil
}

func (o *SQLiteOutput) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS outcomes (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	idx          INTEGER NOT NULL,
	method       TEXT NOT NULL,
	url          TEXT NOT NULL,
	accessed_at  TEXT NOT NULL,
	deadline     TEXT NOT NULL,
	kind         TEXT NOT NULL,
	status_code  INTEGER,
	error        TEXT,
	latency_ms   INTEGER NOT NULL,
	lateness_ms  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_id_idx ON outcomes (run_id, idx);
`
	_, err := o.db.ExecContext(ctx, schema)
	return err
}

func (o *SQLiteOutput) Insert(ctx context.Context, out dispatch.Outcome) error {
	var status sql.NullInt64
	if out.Response != nil {
		status = sql.NullInt64{Int64: int64(out.Response.StatusCode), Valid: true}
	}

	var errText sql.NullString
	if out.Err != nil {
		errText = sql.NullString{String: out.Err.Error(), Valid: true}
	}

	query := `
INSERT INTO outcomes (id, run_id, idx, method, url, accessed_at, deadline, kind, status_code, error, latency_ms, lateness_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := o.db.ExecContext(ctx, query,
		outcomeID(o.runID, out.Index),
		o.runID,
		out.Index,
		out.Record.Method,
		out.Record.URL.String(),
		out.Record.AccessedAt.UTC().Format(time.RFC3339Nano),
		out.Deadline.UTC().Format(time.RFC3339Nano),
		out.Kind.String(),
		status,
		errText,
		out.Latency().Milliseconds(),
		out.Lateness().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

func (o *SQLiteOutput) ResponseAnalyze(out dispatch.Outcome) {
	if err := o.Insert(context.Background(), out); err != nil {
		log.Println("[SQLITE]", err)
	}
}

// Outcomes lists the stored outcomes of a run in input order.
func (o *SQLiteOutput) Outcomes(ctx context.Context, runID string) ([]OutcomeRow, error) {
	query := `
SELECT id, run_id, idx, method, url, accessed_at, deadline, kind, status_code, error, latency_ms, lateness_ms
FROM outcomes WHERE run_id = ? ORDER BY idx`
	rows, err := o.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var result []OutcomeRow
	for rows.Next() {
		var (
			r                    OutcomeRow
			accessedAt, deadline string
			status               sql.NullInt64
			errText              sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Index, &r.Method, &r.URL, &accessedAt, &deadline,
			&r.Kind, &status, &errText, &r.LatencyMs, &r.LatenessMs); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if r.AccessedAt, err = time.Parse(time.RFC3339Nano, accessedAt); err != nil {
			return nil, fmt.Errorf("bad accessed_at %q: %w", accessedAt, err)
		}
		if r.Deadline, err = time.Parse(time.RFC3339Nano, deadline); err != nil {
			return nil, fmt.Errorf("bad deadline %q: %w", deadline, err)
		}
		r.StatusCode = int(status.Int64)
		r.Error = errText.String
		result = append(result, r)
	}

	return result, rows.Err()
}

func (o *SQLiteOutput) Close() error { return o.db.Close() }

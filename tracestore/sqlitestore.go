package tracestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/runtime"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteConfig configures the SQLite trace store.
type SQLiteConfig struct {
	// DSN is the database connection string, usually a file path.
	DSN string

	// RetentionAge deletes runs started longer ago than this (0 = keep).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many runs, newest first (0 = keep all).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteStore persists runs and events to a SQLite database in WAL mode.
// When retention is configured a background goroutine prunes old runs
// together with their events.
type SQLiteStore struct {
	db   *sql.DB
	cfg  SQLiteConfig
	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// OpenSQLite opens (or creates) a SQLite trace store.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("tracestore: empty DSN")
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("tracestore: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tracestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tracestore: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		cfg:  cfg,
		now:  time.Now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, res *runtime.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("tracestore: marshal result: %w", err)
	}
	sum := Summarize(res)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, workflow_id, state, error, steps, failed, started, finished, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID,
		sum.WorkflowID,
		string(sum.State),
		sum.Error,
		sum.Steps,
		sum.Failed,
		sum.Started.UnixNano(),
		sum.Finished.UnixNano(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("tracestore: save run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*runtime.Result, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("tracestore: get run: %w", err)
	}
	var res runtime.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("tracestore: unmarshal result: %w", err)
	}
	return restore(&res), nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, workflow_id, state, error, steps, failed, started, finished
	           FROM runs ORDER BY started DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum               RunSummary
			state             string
			started, finished int64
		)
		if err := rows.Scan(&sum.RunID, &sum.WorkflowID, &state, &sum.Error,
			&sum.Steps, &sum.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("tracestore: scan run: %w", err)
		}
		sum.State = runtime.State(state)
		sum.Started = time.Unix(0, started).UTC()
		sum.Finished = time.Unix(0, finished).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event runtime.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tracestore: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, kind, node_id, node_type, step_id, time, elapsed, payload, trace_id, span_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		event.Seq,
		string(event.Kind),
		event.NodeID,
		string(event.NodeType),
		event.StepID,
		event.Time.Format(time.RFC3339Nano),
		int64(event.Elapsed),
		string(payloadJSON),
		event.TraceID,
		event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("tracestore: append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Events(ctx context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	query := `SELECT run_id, seq, kind, node_id, node_type, step_id, time, elapsed, payload, trace_id, span_id
	           FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{runID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *SQLiteStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE run_id = ?`, runID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("tracestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- checked non-negative above
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := s.now().Add(-s.cfg.RetentionAge).UnixNano()
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE started < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("tracestore: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE run_id NOT IN (
				SELECT run_id FROM runs ORDER BY started DESC, run_id DESC LIMIT ?
			)`, s.cfg.RetentionCount,
		); err != nil {
			return fmt.Errorf("tracestore: prune by count: %w", err)
		}
	}

	// Orphaned events younger than one interval may belong to a run that
	// has not been saved yet.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE run_id NOT IN (SELECT run_id FROM runs)
		 AND time < ?`, s.now().Add(-s.cfg.PruneInterval).Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("tracestore: prune events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEvents(rows *sql.Rows) ([]runtime.Event, error) {
	var events []runtime.Event
	for rows.Next() {
		var (
			e           runtime.Event
			kind        string
			nodeType    string
			timeStr     string
			elapsedNano int64
			payloadJSON string
		)
		err := rows.Scan(
			&e.RunID,
			&e.Seq,
			&kind,
			&e.NodeID,
			&nodeType,
			&e.StepID,
			&timeStr,
			&elapsedNano,
			&payloadJSON,
			&e.TraceID,
			&e.SpanID,
		)
		if err != nil {
			return nil, fmt.Errorf("tracestore: scan event: %w", err)
		}

		e.Kind = runtime.EventKind(kind)
		e.NodeType = core.NodeType(nodeType)
		e.Elapsed = time.Duration(elapsedNano)

		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return nil, fmt.Errorf("tracestore: parse time %q: %w", timeStr, err)
		}
		e.Time = t

		e.Payload = map[string]any{}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("tracestore: unmarshal payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)

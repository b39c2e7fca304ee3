// ABOUTME: SQLite implementation of FactStore on modernc.org/sqlite or mattn/go-sqlite3.
// ABOUTME: Creates the schema on open and stores timestamps as RFC3339 text.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// ErrUnsupportedDriver is returned for driver names other than sqlite and sqlite3.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// SQLiteStore implements FactStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ FactStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path with the named driver.
// Parent directories are created if needed. ":memory:" is accepted.
func NewSQLiteStore(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_facts (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			event TEXT NOT NULL,
			agent_type TEXT NOT NULL DEFAULT '',
			config_json TEXT,
			recorded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_facts_agent
			ON agent_facts(agent_id, recorded_at);

		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			coordination_id TEXT,
			status TEXT NOT NULL,
			error TEXT,
			attempts INTEGER NOT NULL,
			retry_count INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,

			CHECK (status IN ('completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_executions_agent
			ON executions(agent_id, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_executions_coordination
			ON executions(coordination_id);

		CREATE TABLE IF NOT EXISTS coordinations (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			agent_ids_json TEXT NOT NULL,
			total INTEGER NOT NULL,
			successful INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,

			CHECK (mode IN ('parallel', 'sequential'))
		);

		CREATE INDEX IF NOT EXISTS idx_coordinations_started
			ON coordinations(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RecordAgentFact appends an agent lifecycle fact. ID and RecordedAt are
// filled in when empty.
func (s *SQLiteStore) RecordAgentFact(ctx context.Context, fact *AgentFact) error {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.RecordedAt.IsZero() {
		fact.RecordedAt = time.Now()
	}

	var configJSON any
	if len(fact.Config) > 0 {
		data, err := json.Marshal(fact.Config)
		if err != nil {
			return fmt.Errorf("encoding agent config: %w", err)
		}
		configJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_facts (id, agent_id, event, agent_type, config_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fact.ID, fact.AgentID, fact.Event, fact.AgentType, configJSON, formatTime(fact.RecordedAt))
	if err != nil {
		return fmt.Errorf("inserting agent fact: %w", err)
	}

	s.logger.Debug("recorded agent fact", "agent_id", fact.AgentID, "event", fact.Event)
	return nil
}

// RecordExecution appends one execution outcome.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, agent_id, coordination_id, status, error, attempts, retry_count, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.AgentID,
		nullString(rec.CoordinationID),
		rec.Status,
		nullString(rec.Error),
		rec.Attempts,
		rec.RetryCount,
		rec.Duration.Milliseconds(),
		formatTime(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// RecordCoordination appends one coordination summary.
func (s *SQLiteStore) RecordCoordination(ctx context.Context, rec *CoordinationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	ids, err := json.Marshal(rec.AgentIDs)
	if err != nil {
		return fmt.Errorf("encoding agent ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO coordinations (id, mode, status, agent_ids_json, total, successful, failed, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Mode,
		rec.Status,
		string(ids),
		rec.Total,
		rec.Successful,
		rec.Failed,
		formatTime(rec.StartedAt),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting coordination: %w", err)
	}

	s.logger.Debug("recorded coordination", "id", rec.ID, "mode", rec.Mode, "status", rec.Status)
	return nil
}

// ListAgentFacts returns facts newest first.
func (s *SQLiteStore) ListAgentFacts(ctx context.Context, agentID string, limit int) ([]*AgentFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, event, agent_type, config_json, recorded_at
		FROM agent_facts
		WHERE (? = '' OR agent_id = ?)
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?
	`, agentID, agentID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying agent facts: %w", err)
	}
	defer rows.Close()

	var facts []*AgentFact
	for rows.Next() {
		var f AgentFact
		var configJSON sql.NullString
		var recordedAt string
		if err := rows.Scan(&f.ID, &f.AgentID, &f.Event, &f.AgentType, &configJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning agent fact row: %w", err)
		}
		if configJSON.Valid {
			if err := json.Unmarshal([]byte(configJSON.String), &f.Config); err != nil {
				return nil, fmt.Errorf("decoding agent config: %w", err)
			}
		}
		if f.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		facts = append(facts, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent fact rows: %w", err)
	}
	return facts, nil
}

const executionColumns = `id, agent_id, coordination_id, status, error, attempts, retry_count, duration_ms, recorded_at`

// ListExecutions returns execution records newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, agentID string, limit int) ([]*ExecutionRecord, error) {
	return s.queryExecutions(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE (? = '' OR agent_id = ?)
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?
	`, agentID, agentID, clampLimit(limit))
}

// ListCoordinationExecutions returns the executions of one coordination in
// the order they were recorded.
func (s *SQLiteStore) ListCoordinationExecutions(ctx context.Context, coordinationID string) ([]*ExecutionRecord, error) {
	return s.queryExecutions(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE coordination_id = ?
		ORDER BY recorded_at, rowid
	`, coordinationID)
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution rows: %w", err)
	}
	return out, nil
}

func scanExecution(row scanner) (*ExecutionRecord, error) {
	var r ExecutionRecord
	var coordinationID, errMsg sql.NullString
	var durationMs int64
	var recordedAt string
	if err := row.Scan(
		&r.ID,
		&r.AgentID,
		&coordinationID,
		&r.Status,
		&errMsg,
		&r.Attempts,
		&r.RetryCount,
		&durationMs,
		&recordedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning execution row: %w", err)
	}
	r.CoordinationID = coordinationID.String
	r.Error = errMsg.String
	r.Duration = time.Duration(durationMs) * time.Millisecond
	var err error
	if r.RecordedAt, err = parseTime(recordedAt); err != nil {
		return nil, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return &r, nil
}

const coordinationColumns = `id, mode, status, agent_ids_json, total, successful, failed, started_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanCoordination(row scanner) (*CoordinationRecord, error) {
	var r CoordinationRecord
	var idsJSON, startedAt string
	var durationMs int64
	if err := row.Scan(
		&r.ID,
		&r.Mode,
		&r.Status,
		&idsJSON,
		&r.Total,
		&r.Successful,
		&r.Failed,
		&startedAt,
		&durationMs,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &r.AgentIDs); err != nil {
		return nil, fmt.Errorf("decoding agent ids: %w", err)
	}
	started, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	r.StartedAt = started
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return &r, nil
}

// ListCoordinations returns coordination records newest first.
func (s *SQLiteStore) ListCoordinations(ctx context.Context, limit int) ([]*CoordinationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+coordinationColumns+`
		FROM coordinations
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying coordinations: %w", err)
	}
	defer rows.Close()

	var out []*CoordinationRecord
	for rows.Next() {
		r, err := scanCoordination(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning coordination row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating coordination rows: %w", err)
	}
	return out, nil
}

// GetCoordination returns one coordination record.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetCoordination(ctx context.Context, id string) (*CoordinationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+coordinationColumns+` FROM coordinations WHERE id = ?`, id)
	r, err := scanCoordination(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying coordination: %w", err)
	}
	return r, nil
}

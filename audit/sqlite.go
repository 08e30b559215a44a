package audit

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/casualjim/herald/api"
	"github.com/casualjim/herald/pkg/uuidx"
)

// SQLiteStore persists the audit trail in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the audit database at dsn. Use
// ":memory:" for an ephemeral store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			record_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			requester_provider TEXT NOT NULL,
			requester_id TEXT NOT NULL,
			reply_target TEXT,
			prompt TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			status TEXT,
			final_message TEXT,
			error TEXT,
			tools_used TEXT,
			latency_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, record Record) (string, error) {
	id := uuidx.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (record_id, run_id, requester_provider, requester_id, reply_target, prompt, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.RunID, record.RequesterProvider, record.RequesterID,
		record.ReplyTarget, record.Prompt, record.StartedAt, string(api.StatusRunning),
	)
	if err != nil {
		return "", fmt.Errorf("insert run record: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, recordID string, update Update) error {
	toolsJSON, err := json.Marshal(update.ToolsUsed)
	if err != nil {
		return fmt.Errorf("marshal tools used: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final_message = ?, error = ?, tools_used = ?, latency_ms = ?
		 WHERE record_id = ?`,
		string(update.Status), update.FinalMessage, update.Error,
		string(toolsJSON), update.Latency.Milliseconds(), recordID,
	)
	if err != nil {
		return fmt.Errorf("update run record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("no audit record %q", recordID)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend persists session records in a SQLite database. One
// writer connection; WAL mode so concurrent pipeline runs on distinct
// sessions do not block each other's reads.
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteBackend opens (or creates) the database at the given path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteBackend")
	defer timer.Stop()

	logging.Store("Opening session database at: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	b := &SQLiteBackend{db: db, dbPath: path}
	if err := b.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Session database schema initialized")

	return b, nil
}

func (b *SQLiteBackend) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id    TEXT PRIMARY KEY,
		chain_id      TEXT NOT NULL,
		last_activity INTEGER NOT NULL,
		record        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_chain ON sessions(chain_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity);

	CREATE TABLE IF NOT EXISTS run_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get returns the raw record for a session id.
func (b *SQLiteBackend) Get(sessionID string) ([]byte, bool, error) {
	var record string
	err := b.db.QueryRow(
		"SELECT record FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to read session %s: %v", sessionID, err)
		return nil, false, fmt.Errorf("failed to read session: %w", err)
	}
	return []byte(record), true, nil
}

// Put upserts a session record. The write is durable when Put returns.
func (b *SQLiteBackend) Put(sessionID, chainID string, lastActivity time.Time, data []byte) error {
	logging.StoreDebug("Persisting session %s (chain=%s, %d bytes)", sessionID, chainID, len(data))
	_, err := b.db.Exec(
		`INSERT INTO sessions (session_id, chain_id, last_activity, record)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   chain_id = excluded.chain_id,
		   last_activity = excluded.last_activity,
		   record = excluded.record`,
		sessionID, chainID, lastActivity.UnixMilli(), string(data),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to persist session %s: %v", sessionID, err)
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Delete removes a session record. Deleting an absent id is a no-op.
func (b *SQLiteBackend) Delete(sessionID string) error {
	_, err := b.db.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to delete session %s: %v", sessionID, err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns all stored records, for index reconstruction at startup.
func (b *SQLiteBackend) List() ([]Record, error) {
	rows, err := b.db.Query("SELECT session_id, chain_id, last_activity, record FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var activity int64
		var record string
		if err := rows.Scan(&rec.SessionID, &rec.ChainID, &activity, &record); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable session row: %v", err)
			continue
		}
		rec.LastActivity = time.UnixMilli(activity)
		rec.Data = []byte(record)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendHistory appends a run-history entry. History is append-only and
// independent of per-session lifetime.
func (b *SQLiteBackend) AppendHistory(sessionID string, startedAt time.Time) error {
	_, err := b.db.Exec(
		"INSERT INTO run_history (session_id, started_at) VALUES (?, ?)",
		sessionID, startedAt.UnixMilli(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to append run history for %s: %v", sessionID, err)
		return fmt.Errorf("failed to append run history: %w", err)
	}
	return nil
}

// History returns run-history entries most-recent-first.
func (b *SQLiteBackend) History() ([]HistoryEntry, error) {
	rows, err := b.db.Query(
		"SELECT session_id, started_at FROM run_history ORDER BY id DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var startedAt int64
		if err := rows.Scan(&e.SessionID, &startedAt); err != nil {
			continue
		}
		e.StartedAt = time.UnixMilli(startedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	logging.StoreDebug("Closing session database: %s", b.dbPath)
	return b.db.Close()
}

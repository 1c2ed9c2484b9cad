package store

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Store errors. Lookup misses are reported via boolean returns, not
// errors; these sentinels cover the fatal cases.
var (
	// ErrDuplicateSession signals a session id collision on create - a
	// caller bug, distinct from the idempotent ClearSession.
	ErrDuplicateSession = errors.New("session already exists")
	// ErrSessionNotFound is returned by mutations against an unknown id.
	ErrSessionNotFound = errors.New("session not found")
)

// Record is one persisted session row as the backend stores it.
type Record struct {
	SessionID    string
	ChainID      string
	LastActivity time.Time
	Data         []byte
}

// HistoryEntry is one run-history row.
type HistoryEntry struct {
	SessionID string
	StartedAt time.Time
}

// Backend is the durable key-value persistence surface beneath the
// SessionStore: get/put/delete keyed by session identifier, plus an
// append-only run-history ledger that outlives individual sessions.
// Writes must be synchronously durable before returning.
type Backend interface {
	Get(sessionID string) ([]byte, bool, error)
	Put(sessionID, chainID string, lastActivity time.Time, data []byte) error
	Delete(sessionID string) error
	List() ([]Record, error)

	AppendHistory(sessionID string, startedAt time.Time) error
	History() ([]HistoryEntry, error)

	Close() error
}

// MemoryBackend is an in-memory Backend for tests and ephemeral runs.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
	history []HistoryEntry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

// Get returns the raw record for a session id.
func (m *MemoryBackend) Get(sessionID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), rec.Data...), true, nil
}

// Put stores a session record.
func (m *MemoryBackend) Put(sessionID, chainID string, lastActivity time.Time, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[sessionID] = Record{
		SessionID:    sessionID,
		ChainID:      chainID,
		LastActivity: lastActivity,
		Data:         append([]byte(nil), data...),
	}
	return nil
}

// Delete removes a session record. Deleting an absent id is a no-op.
func (m *MemoryBackend) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}

// List returns all stored records.
func (m *MemoryBackend) List() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// AppendHistory appends a run-history entry.
func (m *MemoryBackend) AppendHistory(sessionID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, HistoryEntry{SessionID: sessionID, StartedAt: startedAt})
	return nil
}

// History returns run-history entries most-recent-first.
func (m *MemoryBackend) History() ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	for i, e := range m.history {
		out[len(m.history)-1-i] = e
	}
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (m *MemoryBackend) Close() error { return nil }

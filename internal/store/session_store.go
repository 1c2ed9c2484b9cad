package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"
)

// runCounterSuffix matches chain ids parameterized per run, e.g.
// "code-review-3" shares the base chain "code-review".
var runCounterSuffix = regexp.MustCompile(`-\d+$`)

// BaseChainID strips a trailing numeric run counter from a chain id.
func BaseChainID(chainID string) string {
	return runCounterSuffix.ReplaceAllString(chainID, "")
}

// LookupOptions controls chain-identity session lookups.
type LookupOptions struct {
	// IncludeCompleted also resolves terminal sessions. By default only
	// sessions with a pending step are returned, so "continue the chain
	// I started" cannot resurrect a finished run.
	IncludeCompleted bool
}

// SessionStore is the durable mapping from session identifier to
// session state. Every mutation flushes through the backend before
// returning; reads at startup reconstruct the in-memory index from the
// durable form. Concurrent reads/writes across distinct session ids are
// safe; concurrent writers against one session id are a caller error.
type SessionStore struct {
	mu      sync.RWMutex
	backend Backend
	index   map[string]*ChainSession
}

// NewSessionStore builds the store over the given backend and loads the
// existing records. A record that fails to deserialize is dropped with
// a warning, never surfaced as a fatal error.
func NewSessionStore(backend Backend) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSessionStore")
	defer timer.Stop()

	records, err := backend.List()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	index := make(map[string]*ChainSession, len(records))
	dropped := 0
	for _, rec := range records {
		var session ChainSession
		if err := json.Unmarshal(rec.Data, &session); err != nil {
			logging.Get(logging.CategoryStore).Warn(
				"Dropping corrupt session record %s: %v", rec.SessionID, err)
			dropped++
			continue
		}
		if session.SessionID == "" {
			logging.Get(logging.CategoryStore).Warn(
				"Dropping session record %s with empty id", rec.SessionID)
			dropped++
			continue
		}
		index[session.SessionID] = &session
	}

	logging.Store("Session store loaded: %d sessions (%d corrupt records dropped)",
		len(index), dropped)
	return &SessionStore{backend: backend, index: index}, nil
}

// CreateSession creates and persists a new session. Fails with
// ErrDuplicateSession if the id already exists. CurrentStep is 1 when
// the chain has steps, 0 for a zero-step (immediately terminal) chain.
func (st *SessionStore) CreateSession(sessionID, chainID string, totalSteps int, originalArgs map[string]string) (*ChainSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.index[sessionID]; exists {
		logging.Get(logging.CategoryStore).Error("Session id collision: %s", sessionID)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, sessionID)
	}

	currentStep := 0
	if totalSteps > 0 {
		currentStep = 1
	}

	now := time.Now()
	args := make(map[string]string, len(originalArgs))
	for k, v := range originalArgs {
		args[k] = v
	}
	session := &ChainSession{
		SessionID: sessionID,
		ChainID:   chainID,
		State: SessionState{
			CurrentStep: currentStep,
			TotalSteps:  totalSteps,
			LastUpdated: now,
			StepStates:  make(map[string]StepOutcome),
		},
		StartTime:    now,
		LastActivity: now,
		OriginalArgs: args,
	}

	if err := st.persistLocked(session); err != nil {
		return nil, err
	}
	if err := st.backend.AppendHistory(sessionID, now); err != nil {
		return nil, err
	}
	st.index[sessionID] = session

	logging.Store("Created session %s (chain=%s, steps=%d)", sessionID, chainID, totalSteps)
	return session.Clone(), nil
}

// HasActiveSession checks whether a session id exists. No side effects.
func (st *SessionStore) HasActiveSession(sessionID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.index[sessionID]
	return ok
}

// GetSession returns the session for the given id, if present.
func (st *SessionStore) GetSession(sessionID string) (*ChainSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session, ok := st.index[sessionID]
	if !ok {
		return nil, false
	}
	return session.Clone(), true
}

// GetSessionByChainID resolves a session by the chain's logical
// identity rather than its run identifier, supporting "continue the
// chain I already started" without the caller remembering a session id.
// When several sessions match, the most recently active wins.
func (st *SessionStore) GetSessionByChainID(chainID string, opts LookupOptions) (*ChainSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var best *ChainSession
	for _, session := range st.index {
		if session.ChainID != chainID {
			continue
		}
		if !opts.IncludeCompleted && session.IsTerminal() {
			continue
		}
		if best == nil || session.LastActivity.After(best.LastActivity) {
			best = session
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

// GetLatestSessionForBaseChain returns the most recently active session
// whose chain id shares the same base, for chain ids parameterized with
// a numeric run counter.
func (st *SessionStore) GetLatestSessionForBaseChain(baseChainID string) (*ChainSession, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var best *ChainSession
	for _, session := range st.index {
		if BaseChainID(session.ChainID) != baseChainID {
			continue
		}
		if best == nil || session.LastActivity.After(best.LastActivity) {
			best = session
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Clone(), true
}

// GetPendingGateReview returns the outstanding gate-failure review for
// a session, if any.
func (st *SessionStore) GetPendingGateReview(sessionID string) (*GateReview, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session, ok := st.index[sessionID]
	if !ok || session.PendingReview == nil {
		return nil, false
	}
	review := *session.PendingReview
	review.GateIDs = append([]string(nil), session.PendingReview.GateIDs...)
	return &review, true
}

// TouchSession marks a session as resumed: LastActivity is updated and
// persisted, nothing else changes.
func (st *SessionStore) TouchSession(sessionID string) (*ChainSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	session, ok := st.index[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	session.LastActivity = time.Now()
	if err := st.persistLocked(session); err != nil {
		return nil, err
	}

	logging.StoreDebug("Touched session %s (currentStep=%d)", sessionID, session.State.CurrentStep)
	return session.Clone(), nil
}

// RecordStepResult appends a completed step outcome, advances the step
// counter, records execution order, and persists - all before
// returning. Recording the same step twice is a caller error since step
// states are append-only.
func (st *SessionStore) RecordStepResult(sessionID, stepID, output string, review *GateReview) (*ChainSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	session, ok := st.index[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if existing, done := session.State.StepStates[stepID]; done && existing.Completed {
		return nil, fmt.Errorf("step %s already recorded for session %s", stepID, sessionID)
	}

	now := time.Now()
	session.State.StepStates[stepID] = StepOutcome{
		Output:      output,
		Completed:   true,
		CompletedAt: now,
	}
	session.ExecutionOrder = append(session.ExecutionOrder, stepID)

	completed := 0
	for _, outcome := range session.State.StepStates {
		if outcome.Completed {
			completed++
		}
	}
	// CurrentStep points at the step awaiting execution and never
	// exceeds TotalSteps.
	next := completed + 1
	if next > session.State.TotalSteps {
		next = session.State.TotalSteps
	}
	session.State.CurrentStep = next
	session.State.LastUpdated = now
	session.LastActivity = now
	session.PendingReview = review

	if err := st.persistLocked(session); err != nil {
		return nil, err
	}

	logging.Store("Recorded step %s for session %s (%d/%d complete)",
		stepID, sessionID, completed, session.State.TotalSteps)
	return session.Clone(), nil
}

// ResolvePendingReview clears a session's outstanding gate review.
func (st *SessionStore) ResolvePendingReview(sessionID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	session, ok := st.index[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.PendingReview == nil {
		return nil
	}
	session.PendingReview = nil
	session.LastActivity = time.Now()
	return st.persistLocked(session)
}

// ClearSession removes all trace of a session. Idempotent: clearing an
// absent session succeeds. Run history is unaffected.
func (st *SessionStore) ClearSession(sessionID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.index[sessionID]; !ok {
		logging.StoreDebug("ClearSession: %s already absent", sessionID)
		return nil
	}
	if err := st.backend.Delete(sessionID); err != nil {
		return err
	}
	delete(st.index, sessionID)
	logging.Store("Cleared session %s", sessionID)
	return nil
}

// GetRunHistory returns session identifiers most-recent-first,
// independent of per-session lifetime.
func (st *SessionStore) GetRunHistory() ([]string, error) {
	entries, err := st.backend.History()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.SessionID)
	}
	return ids, nil
}

// persistLocked flushes one session through the backend. Caller holds
// the write lock.
func (st *SessionStore) persistLocked(session *ChainSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.SessionID, err)
	}
	return st.backend.Put(session.SessionID, session.ChainID, session.LastActivity, data)
}

package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	st, err := NewSessionStore(NewMemoryBackend())
	require.NoError(t, err)
	return st
}

func TestCreateSession(t *testing.T) {
	st := newTestStore(t)

	session, err := st.CreateSession("session-1", "code-review", 3, map[string]string{"target": "main.go"})
	require.NoError(t, err)
	assert.Equal(t, 1, session.State.CurrentStep)
	assert.Equal(t, 3, session.State.TotalSteps)
	assert.False(t, session.IsTerminal())
	assert.Equal(t, "main.go", session.OriginalArgs["target"])

	_, err = st.CreateSession("session-1", "code-review", 3, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func TestCreateSessionZeroStepsIsTerminal(t *testing.T) {
	st := newTestStore(t)

	session, err := st.CreateSession("session-empty", "empty-chain", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, session.State.CurrentStep)
	assert.True(t, session.IsTerminal())
}

func TestHasActiveSessionAndGet(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("session-1", "c", 2, nil)
	require.NoError(t, err)

	assert.True(t, st.HasActiveSession("session-1"))
	assert.False(t, st.HasActiveSession("session-2"))

	got, ok := st.GetSession("session-1")
	require.True(t, ok)
	assert.Equal(t, "session-1", got.SessionID)

	_, ok = st.GetSession("session-2")
	assert.False(t, ok)
}

func TestTouchSessionOnlyUpdatesActivity(t *testing.T) {
	st := newTestStore(t)
	created, err := st.CreateSession("session-1", "c", 2, map[string]string{"k": "v"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	touched, err := st.TouchSession("session-1")
	require.NoError(t, err)

	assert.Equal(t, created.State.TotalSteps, touched.State.TotalSteps)
	assert.Equal(t, created.State.CurrentStep, touched.State.CurrentStep)
	assert.True(t, created.StartTime.Equal(touched.StartTime))
	assert.Empty(t, cmp.Diff(created.OriginalArgs, touched.OriginalArgs))
	assert.True(t, touched.LastActivity.After(created.LastActivity))

	_, err = st.TouchSession("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecordStepResult(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("session-1", "c", 2, nil)
	require.NoError(t, err)

	after, err := st.RecordStepResult("session-1", "analyze", "ok", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, after.State.CurrentStep)
	assert.Equal(t, []string{"analyze"}, after.ExecutionOrder)
	require.Contains(t, after.State.StepStates, "analyze")
	assert.True(t, after.State.StepStates["analyze"].Completed)
	assert.Equal(t, "ok", after.State.StepStates["analyze"].Output)

	// CurrentStep never exceeds TotalSteps.
	final, err := st.RecordStepResult("session-1", "critique", "done", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, final.State.CurrentStep)
	assert.True(t, final.IsTerminal())

	// Step states are append-only.
	_, err = st.RecordStepResult("session-1", "analyze", "again", nil)
	assert.Error(t, err)

	_, err = st.RecordStepResult("ghost", "analyze", "x", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPendingGateReview(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("session-1", "c", 2, nil)
	require.NoError(t, err)

	_, ok := st.GetPendingGateReview("session-1")
	assert.False(t, ok)

	review := &GateReview{
		StepID:    "analyze",
		GateIDs:   []string{"code-quality"},
		Reason:    "self-evaluation failed",
		CreatedAt: time.Now(),
	}
	_, err = st.RecordStepResult("session-1", "analyze", "weak output", review)
	require.NoError(t, err)

	got, ok := st.GetPendingGateReview("session-1")
	require.True(t, ok)
	assert.Equal(t, "analyze", got.StepID)
	assert.Equal(t, []string{"code-quality"}, got.GateIDs)

	require.NoError(t, st.ResolvePendingReview("session-1"))
	_, ok = st.GetPendingGateReview("session-1")
	assert.False(t, ok)

	// Resolving twice is harmless.
	require.NoError(t, st.ResolvePendingReview("session-1"))
}

func TestGetSessionByChainID(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("old", "review", 1, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = st.CreateSession("new", "review", 1, nil)
	require.NoError(t, err)

	got, ok := st.GetSessionByChainID("review", LookupOptions{})
	require.True(t, ok)
	assert.Equal(t, "new", got.SessionID, "most recently active session wins")

	// Terminal sessions are excluded by default.
	_, err = st.RecordStepResult("new", "only", "done", nil)
	require.NoError(t, err)
	got, ok = st.GetSessionByChainID("review", LookupOptions{})
	require.True(t, ok)
	assert.Equal(t, "old", got.SessionID)

	// But included on request; the terminal one is now most recent.
	got, ok = st.GetSessionByChainID("review", LookupOptions{IncludeCompleted: true})
	require.True(t, ok)
	assert.Equal(t, "new", got.SessionID)

	_, ok = st.GetSessionByChainID("missing", LookupOptions{})
	assert.False(t, ok)
}

func TestGetLatestSessionForBaseChain(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("s1", "review-1", 1, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = st.CreateSession("s2", "review-2", 1, nil)
	require.NoError(t, err)
	_, err = st.CreateSession("s3", "deploy-1", 1, nil)
	require.NoError(t, err)

	got, ok := st.GetLatestSessionForBaseChain("review")
	require.True(t, ok)
	assert.Equal(t, "s2", got.SessionID)

	_, ok = st.GetLatestSessionForBaseChain("unknown")
	assert.False(t, ok)
}

func TestBaseChainID(t *testing.T) {
	assert.Equal(t, "review", BaseChainID("review-12"))
	assert.Equal(t, "review", BaseChainID("review"))
	assert.Equal(t, "review-run", BaseChainID("review-run"))
	assert.Equal(t, "a-b", BaseChainID("a-b-3"))
}

func TestClearSessionIdempotent(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("session-1", "c", 1, nil)
	require.NoError(t, err)

	require.NoError(t, st.ClearSession("session-1"))
	assert.False(t, st.HasActiveSession("session-1"))

	// Clearing again must not fail.
	require.NoError(t, st.ClearSession("session-1"))
	require.NoError(t, st.ClearSession("never-existed"))
}

func TestRunHistorySurvivesClear(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("first", "c", 1, nil)
	require.NoError(t, err)
	_, err = st.CreateSession("second", "c", 1, nil)
	require.NoError(t, err)
	require.NoError(t, st.ClearSession("first"))

	history, err := st.GetRunHistory()
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, history, "most-recent-first, independent of session lifetime")
}

func TestCorruptRecordsDroppedOnLoad(t *testing.T) {
	backend := NewMemoryBackend()
	st, err := NewSessionStore(backend)
	require.NoError(t, err)
	_, err = st.CreateSession("good", "c", 1, nil)
	require.NoError(t, err)

	// Simulate a partial write of another session.
	require.NoError(t, backend.Put("bad", "c", time.Now(), []byte(`{"sessionId": "bad", "state": {tru`)))

	reloaded, err := NewSessionStore(backend)
	require.NoError(t, err, "corrupt records must not be fatal")
	assert.True(t, reloaded.HasActiveSession("good"))
	assert.False(t, reloaded.HasActiveSession("bad"))
}

func TestStoreReturnsClones(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateSession("session-1", "c", 2, map[string]string{"k": "v"})
	require.NoError(t, err)

	got, ok := st.GetSession("session-1")
	require.True(t, ok)
	got.OriginalArgs["k"] = "mutated"
	got.State.TotalSteps = 99

	again, ok := st.GetSession("session-1")
	require.True(t, ok)
	assert.Equal(t, "v", again.OriginalArgs["k"])
	assert.Equal(t, 2, again.State.TotalSteps)
}

func TestConcurrentDistinctSessions(t *testing.T) {
	st := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", n)
			if _, err := st.CreateSession(id, fmt.Sprintf("chain-%d", n), 2, nil); err != nil {
				t.Errorf("create %s: %v", id, err)
				return
			}
			if _, err := st.RecordStepResult(id, "step-a", "out", nil); err != nil {
				t.Errorf("record %s: %v", id, err)
			}
			if _, err := st.TouchSession(id); err != nil {
				t.Errorf("touch %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("session-%d", i)
		session, ok := st.GetSession(id)
		require.True(t, ok, id)
		assert.Equal(t, []string{"step-a"}, session.ExecutionOrder)
	}
}

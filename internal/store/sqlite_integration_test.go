//go:build integration

package store_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak during integration tests.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSQLiteBackend_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	t.Run("PersistenceAcrossRestart", func(t *testing.T) {
		backend, err := store.NewSQLiteBackend(dbPath)
		require.NoError(t, err)

		st, err := store.NewSessionStore(backend)
		require.NoError(t, err)

		_, err = st.CreateSession("sess-persist", "review-1", 2, map[string]string{"target": "pkg"})
		require.NoError(t, err)
		_, err = st.RecordStepResult("sess-persist", "analyze", "looks fine", nil)
		require.NoError(t, err)
		require.NoError(t, backend.Close())

		// Reopen: index is rebuilt from the durable form.
		backend2, err := store.NewSQLiteBackend(dbPath)
		require.NoError(t, err)
		defer backend2.Close()

		st2, err := store.NewSessionStore(backend2)
		require.NoError(t, err)

		session, ok := st2.GetSession("sess-persist")
		require.True(t, ok)
		assert.Equal(t, 2, session.State.CurrentStep)
		assert.Equal(t, []string{"analyze"}, session.ExecutionOrder)
		assert.Equal(t, "pkg", session.OriginalArgs["target"])

		history, err := st2.GetRunHistory()
		require.NoError(t, err)
		assert.Equal(t, []string{"sess-persist"}, history)
	})

	t.Run("HistoryOutlivesClear", func(t *testing.T) {
		backend, err := store.NewSQLiteBackend(filepath.Join(t.TempDir(), "h.db"))
		require.NoError(t, err)
		defer backend.Close()

		st, err := store.NewSessionStore(backend)
		require.NoError(t, err)

		_, err = st.CreateSession("a", "c-1", 1, nil)
		require.NoError(t, err)
		_, err = st.CreateSession("b", "c-2", 1, nil)
		require.NoError(t, err)
		require.NoError(t, st.ClearSession("a"))

		history, err := st.GetRunHistory()
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, history)
	})

	t.Run("ConcurrentDistinctSessions", func(t *testing.T) {
		backend, err := store.NewSQLiteBackend(filepath.Join(t.TempDir(), "c.db"))
		require.NoError(t, err)
		defer backend.Close()

		st, err := store.NewSessionStore(backend)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id := fmt.Sprintf("sess-%d", n)
				if _, err := st.CreateSession(id, fmt.Sprintf("chain-%d", n), 1, nil); err != nil {
					t.Errorf("create %s: %v", id, err)
					return
				}
				if _, err := st.RecordStepResult(id, "only", "done", nil); err != nil {
					t.Errorf("record %s: %v", id, err)
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < 8; i++ {
			session, ok := st.GetSession(fmt.Sprintf("sess-%d", i))
			require.True(t, ok)
			assert.True(t, session.IsTerminal())
		}
	})
}

package session

import (
	"fmt"
	"testing"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStage(t *testing.T) (*Stage, *store.SessionStore) {
	t.Helper()
	st, err := store.NewSessionStore(store.NewMemoryBackend())
	require.NoError(t, err)

	stage := NewStage(st)
	counter := 0
	stage.newID = func() string {
		counter++
		return fmt.Sprintf("test-session-%d", counter)
	}
	return stage, st
}

func chainPlan(chainID string, steps int) *ExecutionPlan {
	return &ExecutionPlan{
		Strategy:        StrategyChain,
		ChainID:         chainID,
		RequiresSession: true,
		TotalSteps:      steps,
	}
}

func TestStageCreatesChainSession(t *testing.T) {
	stage, st := newTestStage(t)

	ctx, err := stage.Execute(chainPlan("review", 3), &ParsedCommand{
		PromptID: "review",
		RawArgs:  map[string]string{"target": "main.go"},
	})
	require.NoError(t, err)

	assert.Equal(t, "test-session-1", ctx.SessionID)
	assert.Equal(t, "review", ctx.ChainID)
	assert.Equal(t, 1, ctx.CurrentStep)
	assert.Equal(t, 3, ctx.TotalSteps)
	assert.False(t, ctx.Resumed)

	session, ok := st.GetSession(ctx.SessionID)
	require.True(t, ok)
	assert.Equal(t, "main.go", session.OriginalArgs["target"])
}

func TestStageSingleShotIsOneStep(t *testing.T) {
	stage, _ := newTestStage(t)

	// A single-shot run gets totalSteps 1 regardless of plan contents.
	ctx, err := stage.Execute(&ExecutionPlan{
		Strategy:   StrategySingle,
		TotalSteps: 7,
	}, &ParsedCommand{PromptID: "oneshot"})
	require.NoError(t, err)

	assert.Equal(t, 1, ctx.TotalSteps)
	assert.Equal(t, "oneshot", ctx.ChainID)
}

func TestStageResumesExplicitSessionID(t *testing.T) {
	stage, st := newTestStage(t)

	created, err := stage.Execute(chainPlan("review", 3), &ParsedCommand{PromptID: "review"})
	require.NoError(t, err)
	_, err = st.RecordStepResult(created.SessionID, "analyze", "out", nil)
	require.NoError(t, err)
	before, _ := st.GetSession(created.SessionID)

	ctx, err := stage.Execute(chainPlan("review", 3), &ParsedCommand{
		PromptID: "review",
		Resume:   ResumeMetadata{SessionID: created.SessionID},
	})
	require.NoError(t, err)

	assert.True(t, ctx.Resumed)
	assert.Equal(t, created.SessionID, ctx.SessionID)
	assert.Equal(t, 2, ctx.CurrentStep, "step counter comes from stored state, not reset")

	after, _ := st.GetSession(created.SessionID)
	assert.Equal(t, before.State.TotalSteps, after.State.TotalSteps)
	assert.True(t, before.StartTime.Equal(after.StartTime))
	assert.Equal(t, before.OriginalArgs, after.OriginalArgs)
}

func TestStageResumeByChainIdentity(t *testing.T) {
	stage, _ := newTestStage(t)

	created, err := stage.Execute(chainPlan("review", 3), &ParsedCommand{PromptID: "review"})
	require.NoError(t, err)

	// No explicit session id; identity lookup recovers it.
	ctx, err := stage.Execute(chainPlan("review", 3), &ParsedCommand{
		PromptID: "review",
		Resume:   ResumeMetadata{ChainID: "review"},
	})
	require.NoError(t, err)

	assert.True(t, ctx.Resumed)
	assert.Equal(t, created.SessionID, ctx.SessionID)
}

func TestStageStaleResumeFallsBackToCreate(t *testing.T) {
	stage, st := newTestStage(t)

	ctx, err := stage.Execute(chainPlan("review", 2), &ParsedCommand{
		PromptID: "review",
		Resume:   ResumeMetadata{SessionID: "session-123"},
	})
	require.NoError(t, err, "a stale resume token degrades to start-fresh, not an abort")

	assert.False(t, ctx.Resumed)
	assert.NotEqual(t, "session-123", ctx.SessionID)
	assert.True(t, st.HasActiveSession(ctx.SessionID))
	assert.False(t, st.HasActiveSession("session-123"), "no session is created under the stale id")
}

func TestStageExactlyOneMutation(t *testing.T) {
	stage, st := newTestStage(t)

	// Create path: exactly one session appears.
	_, err := stage.Execute(chainPlan("review", 2), &ParsedCommand{PromptID: "review"})
	require.NoError(t, err)
	history, err := st.GetRunHistory()
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// Resume path: no additional session is created.
	_, err = stage.Execute(chainPlan("review", 2), &ParsedCommand{
		PromptID: "review",
		Resume:   ResumeMetadata{ChainID: "review"},
	})
	require.NoError(t, err)
	history, err = st.GetRunHistory()
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

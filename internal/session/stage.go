package session

import (
	"fmt"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/store"

	"github.com/google/uuid"
)

// Stage is the session management pipeline stage. Each Execute performs
// exactly one store mutation: a resume touch or a session create, never
// both.
type Stage struct {
	store *store.SessionStore

	// newID generates session ids; injectable for tests.
	newID func() string
}

// NewStage creates the stage over the given store.
func NewStage(st *store.SessionStore) *Stage {
	return &Stage{
		store: st,
		newID: uuid.NewString,
	}
}

// Execute resumes or creates a session for the command and returns the
// session context. A resume request for a non-existent session id is
// not a hard error: it degrades to session creation with a warning, so
// a stale or mistyped resume token starts fresh instead of aborting.
func (s *Stage) Execute(plan *ExecutionPlan, cmd *ParsedCommand) (*Context, error) {
	timer := logging.StartTimer(logging.CategorySession, "Stage.Execute")
	defer timer.Stop()

	resumeID := cmd.Resume.SessionID
	if resumeID == "" && cmd.Resume.ChainID != "" {
		// Recover the session by chain identity.
		if existing, ok := s.store.GetSessionByChainID(cmd.Resume.ChainID, store.LookupOptions{}); ok {
			resumeID = existing.SessionID
			logging.SessionDebug("Recovered session %s for chain %s", resumeID, cmd.Resume.ChainID)
		}
	}

	if resumeID != "" {
		if s.store.HasActiveSession(resumeID) {
			return s.resume(resumeID)
		}
		logging.Get(logging.CategorySession).Warn(
			"Resume requested for unknown session %s, creating a new session", resumeID)
	}

	return s.create(plan, cmd)
}

// resume loads the session and touches its activity timestamp. The step
// counter is read from stored state, never reset.
func (s *Stage) resume(sessionID string) (*Context, error) {
	session, err := s.store.TouchSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", sessionID, err)
	}

	logging.Session("Resumed session %s (chain=%s, step %d/%d)",
		session.SessionID, session.ChainID, session.State.CurrentStep, session.State.TotalSteps)

	return &Context{
		SessionID:   session.SessionID,
		ChainID:     session.ChainID,
		CurrentStep: session.State.CurrentStep,
		TotalSteps:  session.State.TotalSteps,
		Resumed:     true,
	}, nil
}

// create makes a new session. A single-shot invocation is a degenerate
// one-step chain for bookkeeping purposes, so its totalSteps is fixed
// at 1 regardless of plan contents.
func (s *Stage) create(plan *ExecutionPlan, cmd *ParsedCommand) (*Context, error) {
	totalSteps := 1
	chainID := plan.ChainID
	if plan.Strategy == StrategyChain && plan.RequiresSession {
		totalSteps = plan.TotalSteps
	}
	if chainID == "" {
		chainID = cmd.PromptID
	}

	sessionID := s.newID()
	session, err := s.store.CreateSession(sessionID, chainID, totalSteps, cmd.RawArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logging.Session("Created session %s (chain=%s, steps=%d)",
		session.SessionID, session.ChainID, session.State.TotalSteps)

	return &Context{
		SessionID:   session.SessionID,
		ChainID:     session.ChainID,
		CurrentStep: session.State.CurrentStep,
		TotalSteps:  session.State.TotalSteps,
	}, nil
}

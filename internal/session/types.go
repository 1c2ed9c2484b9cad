// Package session implements the session management pipeline stage:
// given an execution plan and a parsed command it resumes an existing
// chain session or creates a new one, producing the session context the
// later pipeline stages consume.
package session

// Strategy says how a command executes.
type Strategy string

const (
	// StrategySingle is a one-shot prompt execution.
	StrategySingle Strategy = "single"
	// StrategyChain is a multi-step chain execution.
	StrategyChain Strategy = "chain"
)

// ExecutionPlan is derived from a parsed command, never persisted.
type ExecutionPlan struct {
	Strategy Strategy

	// ChainID identifies the chain definition when Strategy is chain.
	ChainID string

	// Gates are the resolved gate identifiers for the current prompt.
	Gates []string

	RequiresFramework bool
	RequiresSession   bool

	// TotalSteps is only meaningful for chain strategy.
	TotalSteps int
}

// ResumeMetadata carries resume hints from the command parser.
type ResumeMetadata struct {
	// SessionID is an explicit resume identifier, if the command
	// carried one.
	SessionID string
	// ChainID allows recovering a session by chain identity when no
	// explicit session id was given.
	ChainID string
}

// ParsedCommand is the command parser's output, consumed here. The core
// never parses raw user text.
type ParsedCommand struct {
	PromptID   string
	RawArgs    map[string]string
	Confidence float64
	Format     string
	Resume     ResumeMetadata

	// InlineGates are gate names declared directly on the invoking
	// command (the highest precedence tier).
	InlineGates []string
}

// Context is the session context produced by the stage for later
// pipeline stages.
type Context struct {
	SessionID   string
	ChainID     string
	CurrentStep int
	TotalSteps  int

	// Resumed is true when an existing session was loaded rather than a
	// new one created.
	Resumed bool
}

// Package store implements the durable chain session store: the
// ChainSession model, a pluggable key-value backend, and the logical
// SessionStore layered above it. The store owns the canonical copy of
// every session; callers hold transient clones.
package store

import "time"

// ChainSession is one stateful run of a chain, persisted across
// separate invocations.
type ChainSession struct {
	SessionID string       `json:"sessionId"`
	ChainID   string       `json:"chainId"`
	State     SessionState `json:"state"`

	// ExecutionOrder is the order step ids actually executed in, which
	// may differ from declared chain order if dependency unlocking
	// reorders execution.
	ExecutionOrder []string `json:"executionOrder"`

	StartTime    time.Time `json:"startTime"`
	LastActivity time.Time `json:"lastActivity"`

	// OriginalArgs are the invocation arguments, immutable after
	// creation and reused by each step's template expansion.
	OriginalArgs map[string]string `json:"originalArgs"`

	// PendingReview holds an outstanding gate-failure review awaiting
	// resolution, if the last step's self-evaluation did not pass.
	PendingReview *GateReview `json:"pendingReview,omitempty"`
}

// SessionState tracks chain progress for a session.
type SessionState struct {
	// CurrentStep is the 1-based index of the step awaiting execution;
	// 0 only when the chain has zero steps.
	CurrentStep int `json:"currentStep"`

	// TotalSteps is fixed at creation and immutable thereafter.
	TotalSteps int `json:"totalSteps"`

	LastUpdated time.Time `json:"lastUpdated"`

	// StepStates maps step id to its outcome. Entries are append-only:
	// a step, once recorded complete, is never un-recorded.
	StepStates map[string]StepOutcome `json:"stepStates"`
}

// StepOutcome records the result of one completed step.
type StepOutcome struct {
	Output      string    `json:"output"`
	Completed   bool      `json:"completed"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// GateReview is an outstanding gate-failure review for a session.
type GateReview struct {
	StepID    string    `json:"stepId"`
	GateIDs   []string  `json:"gateIds"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsTerminal reports whether the session has no step awaiting
// execution. A session with zero total steps is immediately terminal.
func (s *ChainSession) IsTerminal() bool {
	if s.State.TotalSteps == 0 {
		return true
	}
	completed := 0
	for _, st := range s.State.StepStates {
		if st.Completed {
			completed++
		}
	}
	return completed >= s.State.TotalSteps
}

// Clone returns a deep copy of the session. The store hands out clones
// so its canonical copy cannot be mutated behind its back.
func (s *ChainSession) Clone() *ChainSession {
	out := *s
	if s.State.StepStates != nil {
		out.State.StepStates = make(map[string]StepOutcome, len(s.State.StepStates))
		for k, v := range s.State.StepStates {
			out.State.StepStates[k] = v
		}
	}
	out.ExecutionOrder = append([]string(nil), s.ExecutionOrder...)
	if s.OriginalArgs != nil {
		out.OriginalArgs = make(map[string]string, len(s.OriginalArgs))
		for k, v := range s.OriginalArgs {
			out.OriginalArgs[k] = v
		}
	}
	if s.PendingReview != nil {
		review := *s.PendingReview
		review.GateIDs = append([]string(nil), s.PendingReview.GateIDs...)
		out.PendingReview = &review
	}
	return &out
}

// CompletedSteps returns the set of step ids recorded complete, in the
// form the chain planner consumes.
func (s *ChainSession) CompletedSteps() map[string]bool {
	completed := make(map[string]bool, len(s.State.StepStates))
	for id, st := range s.State.StepStates {
		if st.Completed {
			completed[id] = true
		}
	}
	return completed
}

// Package pipeline sequences one command through the execution stages:
// plan derivation, session management, gate resolution, instruction
// injection, and step emission, with step-completion feedback into the
// chain planner.
package pipeline

import (
	"fmt"
	"time"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/chain"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/gates"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/prompt"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/session"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/store"
)

// RunnerConfig wires the runner's collaborators. The store is injected,
// never a process-wide singleton, so tests can substitute an in-memory
// backend.
type RunnerConfig struct {
	Chains  map[string]*chain.Definition
	Store   *store.SessionStore
	Prompts prompt.Source

	// Renderer produces gate guidance text; may be nil to disable
	// injection entirely.
	Renderer gates.GuidanceRenderer

	// Framework is the active methodology, empty when none.
	Framework      string
	FrameworkGates []gates.Gate

	// CategoryGates maps prompt categories to auto-applied gates.
	CategoryGates map[string][]gates.Gate

	// FallbackGates apply only when no other tier produces a gate.
	FallbackGates []gates.Gate
}

// Runner executes pipeline runs. One command per Execute call; stages
// run sequentially, never concurrently on the same session.
type Runner struct {
	cfg      RunnerConfig
	stage    *session.Stage
	injector *gates.Injector
}

// NewRunner builds a runner over validated chain definitions.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	for id, def := range cfg.Chains {
		if err := chain.Validate(def); err != nil {
			return nil, fmt.Errorf("invalid chain %s: %w", id, err)
		}
	}

	r := &Runner{
		cfg:   cfg,
		stage: session.NewStage(cfg.Store),
	}
	if cfg.Renderer != nil {
		r.injector = gates.NewInjector(cfg.Renderer)
	}
	return r, nil
}

// DerivePlan derives the execution plan for a parsed command: chain
// strategy when the prompt id names a known chain, single-shot
// otherwise.
func (r *Runner) DerivePlan(cmd *session.ParsedCommand) *session.ExecutionPlan {
	plan := &session.ExecutionPlan{
		Strategy:          session.StrategySingle,
		Gates:             append([]string(nil), cmd.InlineGates...),
		RequiresFramework: r.cfg.Framework != "",
	}

	if def, ok := r.cfg.Chains[cmd.PromptID]; ok {
		plan.Strategy = session.StrategyChain
		plan.ChainID = def.ID
		plan.RequiresSession = true
		plan.TotalSteps = def.TotalSteps()
	}

	logging.PipelineDebug("Derived plan for %s: strategy=%s steps=%d", cmd.PromptID, plan.Strategy, plan.TotalSteps)
	return plan
}

// StepEmission is what one pipeline run hands back to the caller: the
// prompt to execute next, with gate instructions injected.
type StepEmission struct {
	Plan    *session.ExecutionPlan
	Session *session.Context

	// Step is the chain step being emitted; nil for single-shot runs.
	Step *chain.Step

	Prompt    *prompt.ConvertedPrompt
	Gates     []gates.Gate
	Injection gates.InjectionResult

	// Done is true when the chain has no step awaiting execution.
	Done bool
}

// Execute runs one command through the pipeline and emits the next
// step's prepared prompt. The caller performs the actual model call and
// reports back via CompleteStep.
func (r *Runner) Execute(cmd *session.ParsedCommand) (*StepEmission, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Runner.Execute")
	defer timer.Stop()

	plan := r.DerivePlan(cmd)

	sessCtx, err := r.stage.Execute(plan, cmd)
	if err != nil {
		return nil, err
	}

	emission := &StepEmission{Plan: plan, Session: sessCtx}

	promptID := cmd.PromptID
	var stepGates []string
	if plan.Strategy == session.StrategyChain {
		def, err := r.definition(sessCtx.ChainID)
		if err != nil {
			return nil, err
		}

		sess, ok := r.cfg.Store.GetSession(sessCtx.SessionID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrSessionNotFound, sessCtx.SessionID)
		}

		step := chain.NextStep(def, sess.CompletedSteps())
		if step == nil {
			emission.Done = true
			logging.Pipeline("Chain %s session %s has no step awaiting execution", def.ID, sess.SessionID)
			return emission, nil
		}
		emission.Step = step
		promptID = step.PromptID
		stepGates = step.Gates
	}

	p, err := r.cfg.Prompts.Get(promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt %s: %w", promptID, err)
	}
	emission.Prompt = p

	resolved := r.resolveGates(cmd, p, stepGates)
	emission.Gates = resolved
	plan.Gates = gates.Names(resolved)

	if r.injector != nil && len(resolved) > 0 {
		emission.Injection = r.injector.Inject(p, gates.Names(resolved), gates.RenderContext{
			Framework: r.cfg.Framework,
			Category:  p.Category,
			PromptID:  p.ID,
		})
	} else {
		emission.Injection = gates.InjectionResult{Prompt: p, Outcome: gates.OutcomeSkipped, Reason: "no gates to inject"}
	}

	logging.Pipeline("Emitting prompt %s for session %s (step %d/%d, %d gates)",
		promptID, sessCtx.SessionID, sessCtx.CurrentStep, sessCtx.TotalSteps, len(resolved))
	return emission, nil
}

// resolveGates merges the five gate tiers for one prompt invocation.
func (r *Runner) resolveGates(cmd *session.ParsedCommand, p *prompt.ConvertedPrompt, stepGates []string) []gates.Gate {
	set := gates.TierSet{
		Inline:   namedGates(cmd.InlineGates),
		Template: append(namedGates(stepGates), namedGates(p.Gates)...),
		Category: r.cfg.CategoryGates[p.Category],
		Fallback: r.cfg.FallbackGates,
	}
	if r.cfg.Framework != "" {
		set.Framework = r.cfg.FrameworkGates
	}
	return gates.Resolve(set)
}

func namedGates(names []string) []gates.Gate {
	gs := make([]gates.Gate, 0, len(names))
	for _, n := range names {
		gs = append(gs, gates.Gate{Name: n})
	}
	return gs
}

// GateEvaluation is the caller's report of gate verification for one
// completed step.
type GateEvaluation struct {
	Passed      bool
	FailedGates []string
	Reason      string
}

// CompletionResult reports what happened after a step result was
// persisted and the planner re-evaluated the chain.
type CompletionResult struct {
	Session  *store.ChainSession
	NextStep *chain.Step
	Done     bool

	// PendingReview is the gate-failure review recorded when the step's
	// evaluation did not pass.
	PendingReview *store.GateReview
}

// CompleteStep persists a step's outcome into the session, records a
// pending gate review when the evaluation failed, and re-plans which
// step is newly unblocked.
func (r *Runner) CompleteStep(sessionID, stepID, output string, eval *GateEvaluation) (*CompletionResult, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Runner.CompleteStep")
	defer timer.Stop()

	var review *store.GateReview
	if eval != nil && !eval.Passed {
		review = &store.GateReview{
			StepID:    stepID,
			GateIDs:   append([]string(nil), eval.FailedGates...),
			Reason:    eval.Reason,
			CreatedAt: time.Now(),
		}
		logging.Gates("Step %s failed gate evaluation: %v", stepID, eval.FailedGates)
	}

	sess, err := r.cfg.Store.RecordStepResult(sessionID, stepID, output, review)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{Session: sess, PendingReview: sess.PendingReview}

	def, err := r.definition(sess.ChainID)
	if err != nil {
		// Single-shot sessions have no definition; one recorded step
		// means the run is complete.
		result.Done = sess.IsTerminal()
		return result, nil
	}

	completed := sess.CompletedSteps()
	if chain.IsComplete(def, completed) {
		result.Done = true
		logging.Pipeline("Chain %s complete for session %s", def.ID, sessionID)
		return result, nil
	}
	result.NextStep = chain.NextStep(def, completed)
	return result, nil
}

// definition resolves a chain definition by id, falling back to the
// base chain id for run-counter parameterized chains.
func (r *Runner) definition(chainID string) (*chain.Definition, error) {
	if def, ok := r.cfg.Chains[chainID]; ok {
		return def, nil
	}
	if def, ok := r.cfg.Chains[store.BaseChainID(chainID)]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("unknown chain: %s", chainID)
}

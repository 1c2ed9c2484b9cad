package gates

import (
	"strings"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/prompt"
)

// GuidanceRenderer renders human-readable guidance text for a gate list.
// External collaborator: may fail, and must be callable with an empty or
// singleton gate list.
type GuidanceRenderer interface {
	RenderGuidance(gateIDs []string, ctx RenderContext) (string, error)
}

// RenderContext is the render context passed to the guidance renderer.
type RenderContext struct {
	Framework string
	Category  string
	PromptID  string
}

// Outcome classifies the result of one injection attempt.
type Outcome string

const (
	// OutcomeInjected means guidance was appended and bookkeeping set.
	OutcomeInjected Outcome = "injected"
	// OutcomeSkipped means there was nothing to inject; the prompt is
	// returned unchanged. Not an error.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDegraded means the renderer failed; the prompt is returned
	// unchanged and gates are not enforced this run.
	OutcomeDegraded Outcome = "degraded"
)

// InjectionResult reports what happened to the prompt, so callers can
// distinguish "nothing to inject" from "injection attempted and failed".
type InjectionResult struct {
	Prompt  *prompt.ConvertedPrompt
	Outcome Outcome
	Reason  string
	Err     error // set only when Outcome is OutcomeDegraded
}

// Injector appends rendered gate guidance to prompt templates.
type Injector struct {
	renderer GuidanceRenderer
}

// NewInjector creates an injector using the given renderer.
func NewInjector(renderer GuidanceRenderer) *Injector {
	return &Injector{renderer: renderer}
}

// Inject renders guidance for gateIDs and appends it to the prompt's
// message template. The original instructions always remain intact and
// precede the injected guidance. Renderer failure never aborts prompt
// execution: the original prompt is returned untouched with
// OutcomeDegraded. Re-invoking with the same id set against an
// already-injected prompt is a no-op.
func (inj *Injector) Inject(p *prompt.ConvertedPrompt, gateIDs []string, ctx RenderContext) InjectionResult {
	if len(gateIDs) == 0 {
		return InjectionResult{Prompt: p, Outcome: OutcomeSkipped, Reason: "no gates to inject"}
	}

	if p.GateInstructionsInjected && sameIDSet(p.InjectedGateIDs, gateIDs) {
		logging.GatesDebug("Prompt %s already injected with gates %v, skipping", p.ID, gateIDs)
		return InjectionResult{Prompt: p, Outcome: OutcomeSkipped, Reason: "gates already injected"}
	}

	guidance, err := inj.renderer.RenderGuidance(gateIDs, ctx)
	if err != nil {
		logging.Get(logging.CategoryGates).Error("Guidance rendering failed for prompt %s: %v", p.ID, err)
		return InjectionResult{
			Prompt:  p,
			Outcome: OutcomeDegraded,
			Reason:  "renderer failure, gates not enforced this run",
			Err:     err,
		}
	}

	if strings.TrimSpace(guidance) == "" {
		logging.GatesDebug("Renderer produced no guidance for prompt %s, nothing to inject", p.ID)
		return InjectionResult{Prompt: p, Outcome: OutcomeSkipped, Reason: "renderer produced no guidance"}
	}

	p.UserMessageTemplate = p.UserMessageTemplate + "\n\n" + guidance
	p.GateInstructionsInjected = true
	p.InjectedGateIDs = append([]string(nil), gateIDs...)

	logging.Gates("Injected %d gate instructions into prompt %s", len(gateIDs), p.ID)
	return InjectionResult{Prompt: p, Outcome: OutcomeInjected}
}

// sameIDSet compares gate id lists as sets, ignoring order.
func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}

package chain

import (
	"errors"
	"fmt"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"
)

// Definition errors are fatal at plan time, before any step executes.
var (
	ErrSelfDependency    = errors.New("step depends on itself")
	ErrUnknownDependency = errors.New("step depends on unknown step")
	ErrCycle             = errors.New("dependency cycle detected")
	ErrDuplicateStep     = errors.New("duplicate step id")
)

// Validate checks a chain definition for structural errors: duplicate
// step ids, self-referential dependencies, references to unknown steps,
// and dependency cycles. It fails fast so a broken definition can never
// deadlock a running session.
func Validate(def *Definition) error {
	steps := make(map[string]*Step, len(def.Steps))
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("chain %s: step %d has no id", def.ID, i)
		}
		if _, ok := steps[s.ID]; ok {
			return fmt.Errorf("chain %s: %w: %s", def.ID, ErrDuplicateStep, s.ID)
		}
		steps[s.ID] = s
	}

	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("chain %s: %w: %s", def.ID, ErrSelfDependency, s.ID)
			}
			if _, ok := steps[dep]; !ok {
				return fmt.Errorf("chain %s: %w: %s -> %s", def.ID, ErrUnknownDependency, s.ID, dep)
			}
		}
	}

	if err := detectCycle(def); err != nil {
		return fmt.Errorf("chain %s: %w", def.ID, err)
	}

	return nil
}

// detectCycle runs Kahn's algorithm over the step graph; any steps left
// unprocessed belong to a cycle.
func detectCycle(def *Definition) error {
	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string)
	for _, s := range def.Steps {
		if _, ok := inDegree[s.ID]; !ok {
			inDegree[s.ID] = 0
		}
		for _, dep := range s.DependsOn {
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for _, s := range def.Steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++

		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed != len(def.Steps) {
		remaining := make([]string, 0, len(def.Steps)-processed)
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		return fmt.Errorf("%w: processed %d of %d steps (stuck: %v)",
			ErrCycle, processed, len(def.Steps), remaining)
	}
	return nil
}

// ExecutableSteps returns the not-yet-completed steps whose declared
// dependencies are all present in the completed set, in declared chain
// order. Steps with no dependencies are unblocked immediately. The
// result is deterministic for a given (definition, completed) pair.
func ExecutableSteps(def *Definition, completed map[string]bool) []Step {
	var unblocked []Step
	for _, s := range def.Steps {
		if completed[s.ID] {
			continue
		}
		ready := true
		for _, dep := range s.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			unblocked = append(unblocked, s)
		}
	}

	logging.ChainDebug("Chain %s: %d unblocked steps (completed=%d/%d)",
		def.ID, len(unblocked), len(completed), len(def.Steps))
	return unblocked
}

// NextStep returns the next step to emit: the first unblocked step in
// declared chain order. Returns nil when no step is unblocked (either
// the chain is complete or remaining steps are blocked).
func NextStep(def *Definition, completed map[string]bool) *Step {
	unblocked := ExecutableSteps(def, completed)
	if len(unblocked) == 0 {
		return nil
	}
	return &unblocked[0]
}

// IsComplete reports whether every step in the definition has completed.
func IsComplete(def *Definition, completed map[string]bool) bool {
	for _, s := range def.Steps {
		if !completed[s.ID] {
			return false
		}
	}
	return true
}

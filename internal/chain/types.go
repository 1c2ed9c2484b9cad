// Package chain defines chain definitions and the pure execution planner.
//
// A chain is a named, ordered set of prompt-execution steps with
// inter-step completion dependencies. The planner computes which steps
// are currently unblocked given a completed-step set; it holds no state
// of its own.
package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"

	"gopkg.in/yaml.v3"
)

// Definition describes a chain: an ordered sequence of steps with
// declared dependencies between them.
type Definition struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`

	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one prompt execution within a chain.
type Step struct {
	ID       string `yaml:"id" json:"id"`
	PromptID string `yaml:"prompt_id" json:"prompt_id"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`

	// DependsOn lists step IDs that must complete before this step unblocks.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Gates are gate names declared on the step's template (tier 2).
	Gates []string `yaml:"gates,omitempty" json:"gates,omitempty"`
}

// TotalSteps returns the number of steps in the definition.
func (d *Definition) TotalSteps() int {
	return len(d.Steps)
}

// StepByID returns the step with the given ID, or nil.
func (d *Definition) StepByID(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// LoadDefinition loads a single chain definition from a YAML file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain definition %s: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse chain definition %s: %w", path, err)
	}

	if def.ID == "" {
		// Fall back to the file name without extension
		base := filepath.Base(path)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}

	logging.ChainDebug("Loaded chain definition %s (%d steps) from %s", def.ID, len(def.Steps), path)
	return &def, nil
}

// LoadDirectory loads all chain definitions from *.yaml/*.yml files in a
// directory. Files that fail to load are skipped with a warning.
func LoadDirectory(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains directory %s: %w", dir, err)
	}

	defs := make(map[string]*Definition)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := LoadDefinition(path)
		if err != nil {
			logging.Get(logging.CategoryChain).Warn("Skipping chain file %s: %v", path, err)
			continue
		}
		defs[def.ID] = def
	}

	logging.Chain("Loaded %d chain definitions from %s", len(defs), dir)
	return defs, nil
}

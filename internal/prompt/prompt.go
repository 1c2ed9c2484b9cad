// Package prompt defines the converted prompt template model consumed by
// gate injection and step emission. Template files themselves are loaded
// by an external collaborator; this package only models the loaded form.
package prompt

import "fmt"

// ConvertedPrompt is a template ready for expansion.
type ConvertedPrompt struct {
	ID       string `json:"id"`
	Category string `json:"category"`

	// UserMessageTemplate is the message body; gate injection appends to it.
	UserMessageTemplate string `json:"user_message_template"`

	// Arguments are the named arguments the template expects.
	Arguments []Argument `json:"arguments,omitempty"`

	// GateInstructionsInjected is set after the first successful injection.
	GateInstructionsInjected bool `json:"gate_instructions_injected,omitempty"`

	// InjectedGateIDs records the gate names actually injected, in
	// declaration order, for idempotence checks.
	InjectedGateIDs []string `json:"injected_gate_ids,omitempty"`

	// Gates are gate names declared in the template definition (tier 2).
	Gates []string `json:"gates,omitempty"`
}

// Argument describes one named template argument.
type Argument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Source supplies converted prompts by id.
type Source interface {
	Get(promptID string) (*ConvertedPrompt, error)
}

// MapSource is a Source backed by an in-memory map.
type MapSource map[string]*ConvertedPrompt

// Get returns the prompt with the given id.
func (m MapSource) Get(promptID string) (*ConvertedPrompt, error) {
	p, ok := m[promptID]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", promptID)
	}
	return p, nil
}

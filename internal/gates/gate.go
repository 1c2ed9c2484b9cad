// Package gates implements quality-gate resolution and instruction
// injection. Gates are named acceptance criteria attached to a prompt,
// declared at five precedence tiers and merged into a single ordered
// list for each prompt invocation.
package gates

// Tier identifies where a gate was declared. Lower values take
// precedence during merging.
type Tier int

const (
	TierInline    Tier = iota // Declared directly on the invoking command
	TierTemplate              // Declared in the invoked template's definition
	TierCategory              // Auto-applied by the prompt's category
	TierFramework             // Mandated by the active methodology/framework
	TierFallback              // Default set, used only when tiers 1-4 are empty
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierInline:
		return "inline"
	case TierTemplate:
		return "template"
	case TierCategory:
		return "category"
	case TierFramework:
		return "framework"
	case TierFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// VerificationMode says how a gate is enforced.
type VerificationMode string

const (
	// ModeSelfEval asks the model to evaluate its own output against the gate.
	ModeSelfEval VerificationMode = "self_eval"
	// ModeCommand runs an external command string to verify the gate.
	ModeCommand VerificationMode = "command"
)

// Gate is a named acceptance criterion. Gates are compared by Name for
// deduplication; Tier determines override precedence, not identity.
type Gate struct {
	Name string           `json:"name"`
	Tier Tier             `json:"tier"`
	Mode VerificationMode `json:"mode"`

	// Command is the verification command when Mode is ModeCommand.
	Command string `json:"command,omitempty"`
}

// Names returns the gate names in order.
func Names(gs []Gate) []string {
	names := make([]string, 0, len(gs))
	for _, g := range gs {
		names = append(names, g.Name)
	}
	return names
}

package gates

import (
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/logging"
)

// TierSet carries the gate declarations from all five sources for one
// prompt invocation, highest precedence first.
type TierSet struct {
	Inline    []Gate
	Template  []Gate
	Category  []Gate
	Framework []Gate
	Fallback  []Gate
}

// Resolve merges the five tiers into one ordered, deduplicated gate
// list. A gate name seen at a higher tier suppresses a same-named gate
// at any lower tier (the higher tier's verification mode wins). Gates
// with distinct names are retained, concatenated in tier order and in
// declaration order within a tier. The fallback tier is consulted only
// if the merged list from tiers 1-4 is empty, never partially.
func Resolve(set TierSet) []Gate {
	merged := mergeTiers([][]Gate{set.Inline, set.Template, set.Category, set.Framework},
		[]Tier{TierInline, TierTemplate, TierCategory, TierFramework})

	if len(merged) == 0 {
		merged = mergeTiers([][]Gate{set.Fallback}, []Tier{TierFallback})
		if len(merged) > 0 {
			logging.GatesDebug("No gates from tiers 1-4, using %d fallback gates", len(merged))
		}
	}

	logging.GatesDebug("Resolved %d gates: %v", len(merged), Names(merged))
	return merged
}

func mergeTiers(tiers [][]Gate, labels []Tier) []Gate {
	var merged []Gate
	seen := make(map[string]Tier)
	for i, tier := range tiers {
		for _, g := range tier {
			if g.Name == "" {
				continue
			}
			if winner, ok := seen[g.Name]; ok {
				logging.GatesDebug("Gate %q at tier %s suppressed by tier %s",
					g.Name, labels[i], winner)
				continue
			}
			g.Tier = labels[i]
			if g.Mode == "" {
				g.Mode = ModeSelfEval
			}
			seen[g.Name] = labels[i]
			merged = append(merged, g)
		}
	}
	return merged
}

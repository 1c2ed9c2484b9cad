package main

import (
	"fmt"
	"strings"

	"github.com/minipuft/claude-prompts-mcp-sub005/internal/chain"
	"github.com/minipuft/claude-prompts-mcp-sub005/internal/store"

	"github.com/charmbracelet/lipgloss"
)

// Semantic colors for status output.
var (
	successColor = lipgloss.Color("#8BC34A")
	warningColor = lipgloss.Color("#FFC107")
	mutedColor   = lipgloss.Color("#6b7280")
	accentColor  = lipgloss.Color("#2196F3")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	doneStyle    = lipgloss.NewStyle().Foreground(successColor)
	pendingStyle = lipgloss.NewStyle().Foreground(warningColor)
)

// renderStatus renders a session's progress, step by step in declared
// chain order when the definition is known.
func renderStatus(session *store.ChainSession, def *chain.Definition) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Session %s", session.SessionID)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Chain:    ") + session.ChainID + "\n")
	b.WriteString(labelStyle.Render("Progress: "))
	completed := len(session.CompletedSteps())
	b.WriteString(fmt.Sprintf("%d/%d steps", completed, session.State.TotalSteps))
	if session.IsTerminal() {
		b.WriteString(" " + doneStyle.Render("(complete)"))
	} else {
		b.WriteString(fmt.Sprintf(" %s", pendingStyle.Render(fmt.Sprintf("(awaiting step %d)", session.State.CurrentStep))))
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Started:  ") + session.StartTime.Format("2006-01-02 15:04:05") + "\n")
	b.WriteString(labelStyle.Render("Activity: ") + session.LastActivity.Format("2006-01-02 15:04:05") + "\n")

	if session.PendingReview != nil {
		b.WriteString(pendingStyle.Render(fmt.Sprintf(
			"Pending gate review on step %s: %s",
			session.PendingReview.StepID, strings.Join(session.PendingReview.GateIDs, ", "))))
		b.WriteString("\n")
	}

	if def != nil {
		b.WriteString("\n")
		for _, step := range def.Steps {
			marker := pendingStyle.Render("[ ]")
			if outcome, ok := session.State.StepStates[step.ID]; ok && outcome.Completed {
				marker = doneStyle.Render("[x]")
			}
			b.WriteString(fmt.Sprintf("  %s %s", marker, step.ID))
			if len(step.DependsOn) > 0 {
				b.WriteString(labelStyle.Render(fmt.Sprintf("  (after %s)", strings.Join(step.DependsOn, ", "))))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// renderHistory renders the run-history ledger, most recent first.
func renderHistory(ids []string, st *store.SessionStore) string {
	if len(ids) == 0 {
		return labelStyle.Render("No runs recorded.") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Run history") + "\n")
	for _, id := range ids {
		line := "  " + id
		if session, ok := st.GetSession(id); ok {
			state := pendingStyle.Render("active")
			if session.IsTerminal() {
				state = doneStyle.Render("complete")
			}
			line += labelStyle.Render(fmt.Sprintf("  chain=%s ", session.ChainID)) + state
		} else {
			line += labelStyle.Render("  (cleared)")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// internal/tui/badges.go
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/weave/internal/util"
)

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// formatWorkerIndicator returns a human-readable label for the worker state.
func formatWorkerIndicator(alive, generating bool) string {
	switch {
	case !alive:
		return "Worker: stopped"
	case generating:
		return "Worker: generating"
	default:
		return "Worker: idle"
	}
}

// renderWorkerBadge returns a Lipgloss-styled badge for the worker state.
func renderWorkerBadge(alive, generating bool) string {
	color := lipgloss.Color("229")
	if !alive {
		color = lipgloss.Color("203")
	}
	badgeStyle := lipgloss.NewStyle().Background(color).Foreground(lipgloss.Color("0")).Padding(0, 1).MarginLeft(1)
	return badgeStyle.Render(formatWorkerIndicator(alive, generating))
}

// renderBackendBadge returns a Lipgloss-styled badge naming the backend.
func renderBackendBadge(backend string) string {
	badgeStyle := lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230")).Padding(0, 1)
	return badgeStyle.Render("Backend: " + backend)
}

// renderModelBadge returns a Lipgloss-styled badge naming the model.
func renderModelBadge(model string) string {
	if model == "" {
		model = "n/a"
	}
	badgeStyle := lipgloss.NewStyle().Background(lipgloss.Color("255")).Foreground(lipgloss.Color("0")).Padding(0, 1).MarginLeft(1)
	return badgeStyle.Render("Model: " + util.TruncateRunes(model, 40))
}

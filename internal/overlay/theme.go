package overlay

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-overlay/monitor/internal/session"
)

// Status colors.
var (
	ColorActive     = lipgloss.Color("#FF8C00")
	ColorWaiting    = lipgloss.Color("#00CC66")
	ColorPermission = lipgloss.Color("#FF3333")
	ColorIdle       = lipgloss.Color("#666666")
	ColorCompleted  = lipgloss.Color("#16a34a")
)

// UI chrome colors.
var (
	ColorAccent   = lipgloss.Color("#7D56F4")
	ColorBright   = lipgloss.Color("#FFFFFF")
	ColorDimmed   = lipgloss.Color("#888888")
	ColorSelectBg = lipgloss.Color("#1A1A2E")
	ColorError    = lipgloss.Color("#dc2626")
)

var (
	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(0, 1)

	StyleTitle         = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	StyleSessionTitle  = lipgloss.NewStyle().Foreground(ColorBright).Bold(true)
	StyleSessionActive = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	StyleDimmed        = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleSelected      = lipgloss.NewStyle().Background(ColorSelectBg)
	StyleCursor        = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	StyleError         = lipgloss.NewStyle().Foreground(ColorError)
)

// StatusDot returns the colored indicator for a status.
func StatusDot(s session.Status) string {
	switch s {
	case session.Active:
		return lipgloss.NewStyle().Foreground(ColorActive).Render("●")
	case session.WaitingInput:
		return lipgloss.NewStyle().Foreground(ColorWaiting).Render("●")
	case session.NeedsPermission:
		return lipgloss.NewStyle().Foreground(ColorPermission).Render("●")
	case session.Completed:
		return lipgloss.NewStyle().Foreground(ColorCompleted).Render("✓")
	default:
		return lipgloss.NewStyle().Foreground(ColorIdle).Render("·")
	}
}

// StatusLabel is the human-readable text for a status.
func StatusLabel(s session.Status) string {
	switch s {
	case session.Active:
		return "Working..."
	case session.WaitingInput:
		return "Waiting for input"
	case session.NeedsPermission:
		return "Permission required"
	case session.Completed:
		return "Done"
	default:
		return "Idle"
	}
}

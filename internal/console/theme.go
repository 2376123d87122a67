package console

import "github.com/charmbracelet/lipgloss"

// Console color palette.
var (
	colorPrimary = lipgloss.Color("#2563EB") // blue
	colorAccent  = lipgloss.Color("#F59E0B") // amber
	colorSuccess = lipgloss.Color("#10B981") // emerald
	colorWarning = lipgloss.Color("#F59E0B") // amber
	colorError   = lipgloss.Color("#EF4444") // red
	colorMuted   = lipgloss.Color("#6B7280") // gray-500
	colorText    = lipgloss.Color("#E5E7EB") // gray-200
	colorSubtle  = lipgloss.Color("#9CA3AF") // gray-400
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorSubtle)

	dimmedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	onlineDot  = lipgloss.NewStyle().Foreground(colorSuccess).Render("●")
	offlineDot = lipgloss.NewStyle().Foreground(colorError).Render("●")
	warnDot    = lipgloss.NewStyle().Foreground(colorWarning).Render("●")
)

// statusDot returns a colored dot for hub connection status.
func statusDot(connected, reconnecting bool) string {
	if reconnecting {
		return warnDot
	}
	if connected {
		return onlineDot
	}
	return offlineDot
}

// statusText returns a colored status label.
func statusText(connected, reconnecting bool) string {
	if reconnecting {
		return lipgloss.NewStyle().Foreground(colorWarning).Render("reconnecting")
	}
	if connected {
		return lipgloss.NewStyle().Foreground(colorSuccess).Render("connected")
	}
	return lipgloss.NewStyle().Foreground(colorError).Render("disconnected")
}

// severityStyle colors a compliance severity label.
func severityStyle(severity string) lipgloss.Style {
	switch severity {
	case "high":
		return lipgloss.NewStyle().Foreground(colorError)
	case "medium":
		return lipgloss.NewStyle().Foreground(colorWarning)
	case "low":
		return lipgloss.NewStyle().Foreground(colorMuted)
	default:
		return lipgloss.NewStyle().Foreground(colorText)
	}
}

package tui

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Selected  lipgloss.Style
	Key       lipgloss.Style
	Healthy   lipgloss.Style
	Unhealthy lipgloss.Style
	Starting  lipgloss.Style
	Dead      lipgloss.Style
	Border    lipgloss.Style
}

func DefaultTheme() Theme {
	success := lipgloss.Color("#22C55E")
	warning := lipgloss.Color("#EAB308")
	errorC := lipgloss.Color("#EF4444")
	muted := lipgloss.Color("#6B7280")
	text := lipgloss.Color("#F9FAFB")

	return Theme{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(text),
		Muted:     lipgloss.NewStyle().Foreground(muted),
		Selected:  lipgloss.NewStyle().Bold(true).Foreground(text).Background(lipgloss.Color("#374151")),
		Key:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4")),
		Healthy:   lipgloss.NewStyle().Foreground(success),
		Unhealthy: lipgloss.NewStyle().Foreground(errorC),
		Starting:  lipgloss.NewStyle().Foreground(warning),
		Dead:      lipgloss.NewStyle().Foreground(errorC).Bold(true),
		Border:    lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(muted),
	}
}

// HealthStyle picks the style for a health status string.
func (t Theme) HealthStyle(status string) lipgloss.Style {
	switch status {
	case "healthy":
		return t.Healthy
	case "unhealthy":
		return t.Unhealthy
	case "starting":
		return t.Starting
	default:
		return t.Muted
	}
}

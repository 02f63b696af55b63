package main

import (
	"github.com/charmbracelet/lipgloss"

	"clawdash/internal/providers"
)

type theme struct {
	Header     lipgloss.Style
	Panel      lipgloss.Style
	PanelTitle lipgloss.Style
	Muted      lipgloss.Style
	Accent     lipgloss.Style
	Selected   lipgloss.Style
	Success    lipgloss.Style
	Alert      lipgloss.Style
	Danger     lipgloss.Style
	Input      lipgloss.Style
	Overlay    lipgloss.Style
	OverlayBox lipgloss.Style
}

func defaultTheme() theme {
	accent := lipgloss.Color("#00FFFF")
	secondary := lipgloss.Color("#7D7D7D")
	success := lipgloss.Color("#00FF00")
	alert := lipgloss.Color("#FFBF00")
	danger := lipgloss.Color("#FF0055")
	highlight := lipgloss.Color("#1A2A3A")

	return theme{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondary).
			Padding(0, 1),
		PanelTitle: lipgloss.NewStyle().
			Bold(true),
		Muted: lipgloss.NewStyle().
			Foreground(secondary),
		Accent: lipgloss.NewStyle().
			Foreground(accent),
		Selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Background(highlight),
		Success: lipgloss.NewStyle().
			Foreground(success),
		Alert: lipgloss.NewStyle().
			Foreground(alert),
		Danger: lipgloss.NewStyle().
			Foreground(danger),
		Input: lipgloss.NewStyle().
			Foreground(accent),
		Overlay: lipgloss.NewStyle().
			Foreground(secondary),
		OverlayBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
	}
}

func (th theme) tag(t providers.AuthTag) lipgloss.Style {
	switch t.Kind {
	case providers.TagOAuth:
		return th.Accent
	case providers.TagAPIKey:
		return th.Alert
	case providers.TagLocal:
		return th.Success
	default:
		return th.Muted
	}
}

// logStyle colours a log line by level and subsystem.
func (th theme) logStyle(level, subsystem string) lipgloss.Style {
	switch {
	case level == "ERROR" || containsFold(subsystem, "error"):
		return th.Danger
	case subsystem == "ratelimit" || subsystem == "fallback":
		return th.Alert
	case subsystem == "model":
		return th.Accent
	default:
		return th.Muted
	}
}

// Package ui renders colored terminal output for the sp CLI.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	renderer = lipgloss.NewRenderer(os.Stdout, termenv.WithColorCache(true))

	accentStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"})
	passStyle   = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#4ADE80"})
	warnStyle   = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"})
	failStyle   = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"})
	mutedStyle  = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"})
	boldStyle   = renderer.NewStyle().Bold(true)
)

// SetOutput points rendering at w and re-detects its color support.
func SetOutput(w io.Writer) {
	renderer.SetOutput(termenv.NewOutput(w, termenv.WithColorCache(true)))
}

// ColorEnabled reports whether output carries ANSI colors. NO_COLOR and
// non-terminal outputs disable them.
func ColorEnabled() bool {
	return renderer.ColorProfile() != termenv.Ascii
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s as a success.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as a failure.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders s de-emphasized.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold renders s in bold.
func RenderBold(s string) string { return boldStyle.Render(s) }

// RenderStatus colors a sync status or participant result label.
func RenderStatus(status string) string {
	switch status {
	case "succeeded", "new_data":
		return RenderPass(status)
	case "no_data":
		return RenderMuted(status)
	case "retry_needed":
		return RenderWarn(status)
	case "failed":
		return RenderFail(status)
	default:
		return status
	}
}

// Package report renders sessions and analyses for the terminal.
package report

import (
	"charm.land/lipgloss/v2"
)

// Palette
var (
	Primary   = lipgloss.Color("#8B5CF6")
	Secondary = lipgloss.Color("#14B8A6")
	Success   = lipgloss.Color("#22C55E")
	Warning   = lipgloss.Color("#F97316")
	Error     = lipgloss.Color("#F43F5E")
	Text      = lipgloss.Color("#F8FAFC")
	TextDim   = lipgloss.Color("#94A3B8")
	Border    = lipgloss.Color("#334155")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	labelStyle = lipgloss.NewStyle().
			Foreground(TextDim).
			Width(14)

	bodyStyle = lipgloss.NewStyle().
			Foreground(Text)

	hintStyle = lipgloss.NewStyle().
			Foreground(TextDim).
			Italic(true)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Border).
			Padding(0, 1)

	correctStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	incorrectStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(Warning)
)

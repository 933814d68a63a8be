package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	ownColor     = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")
	seenColor    = lipgloss.Color("#3B82F6")
	focusColor   = lipgloss.Color("#F59E0B")
	matchBg      = lipgloss.Color("#FDE68A")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(errorColor).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	chatStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)

	selectedItemStyle = lipgloss.NewStyle().
				Foreground(ownColor).
				Bold(true).
				PaddingLeft(1).
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(ownColor)

	itemStyle = lipgloss.NewStyle().PaddingLeft(2)

	ownMessageStyle   = lipgloss.NewStyle().Foreground(ownColor)
	otherMessageStyle = lipgloss.NewStyle().Foreground(primaryColor)
	currentMatchStyle = lipgloss.NewStyle().Background(focusColor).Foreground(lipgloss.Color("#000000"))
	matchStyle        = lipgloss.NewStyle().Background(matchBg).Foreground(lipgloss.Color("#000000"))

	pendingBadgeStyle = lipgloss.NewStyle().Foreground(mutedColor)
	unreadBadgeStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	seenBadgeStyle    = lipgloss.NewStyle().Foreground(seenColor).Bold(true)
)

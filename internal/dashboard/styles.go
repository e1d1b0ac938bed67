package dashboard

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorBlue   = lipgloss.Color("#6272FF")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorWhite  = lipgloss.Color("#F8F8F2")
	colorGray   = lipgloss.Color("#6272A4")
	colorBlack  = lipgloss.Color("#000000")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	labelStyle = lipgloss.NewStyle().Foreground(colorGray)
	valueStyle = lipgloss.NewStyle().Foreground(colorWhite)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	critStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	helpStyle  = lipgloss.NewStyle().Foreground(colorGray)

	badgeOff = lipgloss.NewStyle().Padding(0, 1).Foreground(colorGray).Background(lipgloss.Color("#303030"))
)

// badgeOn returns the lit badge style for an alert colour
func badgeOn(bg lipgloss.Color) lipgloss.Style {
	fg := colorWhite
	if bg == colorYellow {
		fg = colorBlack
	}
	return lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(fg).Background(bg)
}

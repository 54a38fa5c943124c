package style

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// --- Reusable Colors ---
var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorCyan      = lipgloss.Color("212")
	colorPurple    = lipgloss.Color("99")
	colorRed       = lipgloss.Color("196")
)

// --- General Purpose Styles ---
var (
	ErrorStyle = lipgloss.NewStyle().Foreground(colorRed)
	HelpStyle  = lipgloss.NewStyle().Faint(true)
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	FaintText  = lipgloss.NewStyle().Foreground(colorLightGray)
)

// --- Token & Chat Styles ---
var (
	TokenStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray).Padding(0, 1)
	SelfStyle  = lipgloss.NewStyle().Foreground(colorCyan)
	PeerStyle  = lipgloss.NewStyle().Foreground(colorPurple)
)

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

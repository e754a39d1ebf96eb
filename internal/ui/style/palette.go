package style

import "github.com/charmbracelet/lipgloss"

var (
	Cyan    = lipgloss.Color("#00E5FF") // Primary highlight
	Magenta = lipgloss.Color("#FF1B6B") // Accent
	Yellow  = lipgloss.Color("#FFB500") // Warnings
	Green   = lipgloss.Color("#2AFFAA") // Profit / success
	Red     = lipgloss.Color("#FF5555") // Errors

	Base03 = lipgloss.Color("#1B1D23") // Background
	Base01 = lipgloss.Color("#6C7280") // Muted text
	Base2  = lipgloss.Color("#ECEFF4") // Primary text
	Base1  = lipgloss.Color("#B4BCC8") // Secondary text
)

// Palette provides a centralized color management
type Palette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color

	Background    lipgloss.Color
	Text          lipgloss.Color
	TextMuted     lipgloss.Color
	TextSecondary lipgloss.Color
}

func DefaultPalette() Palette {
	return Palette{
		Primary:   Cyan,
		Secondary: Magenta,
		Success:   Green,
		Error:     Red,
		Warning:   Yellow,

		Background:    Base03,
		Text:          Base2,
		TextMuted:     Base01,
		TextSecondary: Base1,
	}
}

// Styles used by the status viewer and the startup banner.
type Styles struct {
	Banner   lipgloss.Style
	Panel    lipgloss.Style
	Title    lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Positive lipgloss.Style
	Negative lipgloss.Style
	Muted    lipgloss.Style
	Warning  lipgloss.Style
}

func NewStyles(p Palette) Styles {
	return Styles{
		Banner: lipgloss.NewStyle().
			Foreground(p.Primary).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(p.Secondary).
			Padding(0, 2).
			Bold(true),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Primary).
			Padding(0, 2).
			MarginBottom(1),
		Title:    lipgloss.NewStyle().Foreground(p.Primary).Bold(true),
		Label:    lipgloss.NewStyle().Foreground(p.TextSecondary).Width(18),
		Value:    lipgloss.NewStyle().Foreground(p.Text),
		Positive: lipgloss.NewStyle().Foreground(p.Success).Bold(true),
		Negative: lipgloss.NewStyle().Foreground(p.Error).Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(p.TextMuted).Italic(true),
		Warning:  lipgloss.NewStyle().Foreground(p.Warning),
	}
}

// Banner renders the startup banner with one detail line per entry.
func Banner(title string, details ...string) string {
	s := NewStyles(DefaultPalette())
	lines := []string{title}
	for _, d := range details {
		lines = append(lines, s.Muted.Render(d))
	}
	return s.Banner.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

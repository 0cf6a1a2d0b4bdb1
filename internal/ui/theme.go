package ui

import (
	"image/color"

	"charm.land/lipgloss/v2"
)

type Theme struct {
	Header       lipgloss.Style
	Status       lipgloss.Style
	HUDLabel     lipgloss.Style
	HUDValue     lipgloss.Style
	Overlay      lipgloss.Style
	OverlayTitle lipgloss.Style
	Accent       lipgloss.Style
	Pass         lipgloss.Style
	Fail         lipgloss.Style
	Muted        lipgloss.Style
	Flash        lipgloss.Style
	Cursor       lipgloss.Style

	// Node styles. Aligned nodes sit at rotation 0.
	Source  lipgloss.Style
	Sink    lipgloss.Style
	Wire    lipgloss.Style
	Aligned lipgloss.Style

	GridIdle color.Color
	GridLive color.Color
}

const (
	StyleNeon  = "neon"
	StyleCozy  = "cozy"
	StyleRetro = "retro"
)

type palette struct {
	bg, bar, fg   color.Color
	title, accent color.Color
	good, bad     color.Color
	warm, muted   color.Color
	grid          color.Color
	overlayBorder lipgloss.Border
}

var palettes = map[string]palette{
	StyleNeon: {
		bg: lipgloss.Color("#0E1420"), bar: lipgloss.Color("#1B2740"), fg: lipgloss.Color("#EAF2FF"),
		title: lipgloss.Color("#5EEBFF"), accent: lipgloss.Color("#5EEBFF"),
		good: lipgloss.Color("#67F0A8"), bad: lipgloss.Color("#FF6F91"),
		warm: lipgloss.Color("#FFC857"), muted: lipgloss.Color("#9CAAC6"),
		grid: lipgloss.Color("#4B5F8A"), overlayBorder: lipgloss.RoundedBorder(),
	},
	StyleCozy: {
		bg: lipgloss.Color("#1E2430"), bar: lipgloss.Color("#30394A"), fg: lipgloss.Color("#F4F6FA"),
		title: lipgloss.Color("#F2B872"), accent: lipgloss.Color("#86B6F6"),
		good: lipgloss.Color("#80C4A3"), bad: lipgloss.Color("#D17A86"),
		warm: lipgloss.Color("#F2B872"), muted: lipgloss.Color("#A3ACC2"),
		grid: lipgloss.Color("#4A5972"), overlayBorder: lipgloss.RoundedBorder(),
	},
	StyleRetro: {
		bg: lipgloss.Color("#07150A"), bar: lipgloss.Color("#12301A"), fg: lipgloss.Color("#C5F7C4"),
		title: lipgloss.Color("#E5D47A"), accent: lipgloss.Color("#9CF5A2"),
		good: lipgloss.Color("#9CF5A2"), bad: lipgloss.Color("#FF6B6B"),
		warm: lipgloss.Color("#E5D47A"), muted: lipgloss.Color("#73A17A"),
		grid: lipgloss.Color("#1F5C2F"), overlayBorder: lipgloss.DoubleBorder(),
	},
}

func DefaultTheme() Theme {
	return ThemeForVariant(StyleNeon)
}

// ThemeForVariant falls back to the neon palette for unknown names.
func ThemeForVariant(variant string) Theme {
	p, ok := palettes[variant]
	if !ok {
		p = palettes[StyleNeon]
	}
	return buildTheme(p)
}

func ValidStyle(variant string) bool {
	_, ok := palettes[variant]
	return ok
}

func buildTheme(p palette) Theme {
	fg := lipgloss.NewStyle().Foreground
	bold := func(c color.Color) lipgloss.Style { return fg(c).Bold(true) }
	accent := bold(p.accent)
	return Theme{
		Header:   lipgloss.NewStyle().Background(p.bg).Foreground(p.fg).Padding(0, 1),
		Status:   lipgloss.NewStyle().Background(p.bar).Foreground(p.fg).Padding(0, 1),
		HUDLabel: bold(p.title),
		HUDValue: fg(p.fg),
		Overlay: lipgloss.NewStyle().
			BorderStyle(p.overlayBorder).
			BorderForeground(p.title).
			Background(p.bg).
			Foreground(p.fg).
			Padding(1, 2),
		OverlayTitle: bold(p.title),
		Accent:       accent,
		Pass:         bold(p.good),
		Fail:         bold(p.bad),
		Muted:        fg(p.muted),
		Flash:        fg(p.accent),
		Cursor:       accent.Reverse(true),
		Source:       bold(p.accent),
		Sink:         fg(p.warm),
		Wire:         fg(p.muted),
		Aligned:      fg(p.good),
		GridIdle:     p.grid,
		GridLive:     p.good,
	}
}

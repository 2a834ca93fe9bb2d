package gui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

var (
	// DefaultWindowSize is the size of the control panel on first start
	DefaultWindowSize = fyne.NewSize(960, 680)

	ColorPrimary    = color.NRGBA{R: 7, G: 193, B: 96, A: 255}
	ColorSuccess    = color.NRGBA{R: 76, G: 175, B: 80, A: 255}
	ColorWarning    = color.NRGBA{R: 255, G: 152, B: 0, A: 255}
	ColorError      = color.NRGBA{R: 229, G: 57, B: 53, A: 255}
	ColorBackground = color.NRGBA{R: 24, G: 26, B: 27, A: 255}
)

// PanelTheme is the dark theme of the control panel
type PanelTheme struct{}

func (t *PanelTheme) Color(name fyne.ThemeColorName, variant fyne.ThemeVariant) color.Color {
	switch name {
	case theme.ColorNamePrimary, theme.ColorNameFocus:
		return ColorPrimary
	case theme.ColorNameBackground:
		return ColorBackground
	case theme.ColorNameSuccess:
		return ColorSuccess
	case theme.ColorNameWarning:
		return ColorWarning
	case theme.ColorNameError:
		return ColorError
	default:
		return theme.DefaultTheme().Color(name, theme.VariantDark)
	}
}

func (t *PanelTheme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return theme.DefaultTheme().Icon(name)
}

func (t *PanelTheme) Font(style fyne.TextStyle) fyne.Resource {
	return theme.DefaultTheme().Font(style)
}

func (t *PanelTheme) Size(name fyne.ThemeSizeName) float32 {
	switch name {
	case theme.SizeNameText:
		return 13
	case theme.SizeNameHeadingText:
		return 18
	case theme.SizeNamePadding:
		return 6
	default:
		return theme.DefaultTheme().Size(name)
	}
}

// stateImportance colors the state label
func stateImportance(state string) widget.Importance {
	switch state {
	case "Running", "Starting":
		return widget.HighImportance
	case "Completed":
		return widget.SuccessImportance
	case "Error":
		return widget.DangerImportance
	default:
		return widget.MediumImportance
	}
}

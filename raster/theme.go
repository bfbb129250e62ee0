package raster

import (
	"errors"
	"image/color"
	"strings"

	"github.com/arran4/mdlive"
)

// Theme holds the colours that are not part of a text style.
type Theme struct {
	BG       color.Color
	FG       color.Color
	CodeBG   color.Color
	QuoteBar color.Color
	HRule    color.Color
	Link     color.Color
	Warning  color.Color
}

var (
	LightTheme = Theme{
		BG:       color.RGBA{0xFF, 0xFF, 0xFF, 0xFF},
		FG:       color.RGBA{0x11, 0x11, 0x11, 0xFF},
		CodeBG:   color.RGBA{0xF5, 0xF5, 0xF7, 0xFF},
		QuoteBar: color.RGBA{0xCC, 0xCC, 0xCC, 0xFF},
		HRule:    color.RGBA{0xDD, 0xDD, 0xDD, 0xFF},
		Link:     color.RGBA{0x06, 0x4F, 0xBD, 0xFF},
		Warning:  color.RGBA{0xD9, 0x51, 0x2C, 0xFF},
	}
	DarkTheme = Theme{
		BG:       color.RGBA{0x12, 0x12, 0x14, 0xFF},
		FG:       color.RGBA{0xEE, 0xEE, 0xF0, 0xFF},
		CodeBG:   color.RGBA{0x1E, 0x1E, 0x22, 0xFF},
		QuoteBar: color.RGBA{0x44, 0x44, 0x48, 0xFF},
		HRule:    color.RGBA{0x33, 0x33, 0x36, 0xFF},
		Link:     color.RGBA{0x58, 0x9D, 0xF6, 0xFF},
		Warning:  color.RGBA{0xD9, 0x51, 0x2C, 0xFF},
	}
)

// ThemeByName returns a built-in theme ("light" or "dark").
func ThemeByName(name string) (Theme, error) {
	switch strings.ToLower(name) {
	case "light", "":
		return LightTheme, nil
	case "dark":
		return DarkTheme, nil
	default:
		return Theme{}, errors.New("unknown theme: " + name)
	}
}

// ThemeFor picks the built-in theme for cfg's appearance and takes the code
// and quote tints from cfg.
func ThemeFor(cfg mdlive.Config) Theme {
	th := LightTheme
	if cfg.Appearance == mdlive.AppearanceDark {
		th = DarkTheme
	}
	th.FG = cfg.Style(mdlive.TextBody).Foreground
	th.CodeBG = cfg.InlineCodeTint
	th.QuoteBar = cfg.BlockQuoteTint
	return th
}

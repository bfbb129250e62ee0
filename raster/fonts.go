package raster

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/arran4/mdlive"
)

// FontAndFace is a parsed font with a face at its base size. Other sizes are
// drawn through the freetype context and measured by scaling.
type FontAndFace struct {
	Font     *truetype.Font
	Face     font.Face
	baseSize float64
}

// Fonts is the set of faces the surface draws with.
type Fonts struct {
	Regular    *FontAndFace
	Bold       *FontAndFace
	Italic     *FontAndFace
	BoldItalic *FontAndFace
	Mono       *FontAndFace
}

// FontConfig names TrueType files to load. Empty paths use the Go fonts.
type FontConfig struct {
	RegularPath    string
	BoldPath       string
	ItalicPath     string
	BoldItalicPath string
	MonoPath       string
	SizeBase       float64 // body font size in pt
}

func loadFontAndFace(ttf []byte, size float64) (*FontAndFace, error) {
	ft, err := truetype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	face := truetype.NewFace(ft, &truetype.Options{Size: size, DPI: 96, Hinting: font.HintingFull})
	return &FontAndFace{Font: ft, Face: face, baseSize: size}, nil
}

// LoadFonts loads cfg, falling back to Go's bundled fonts for empty paths.
func LoadFonts(cfg FontConfig) (Fonts, error) {
	if cfg.SizeBase <= 0 {
		cfg.SizeBase = 16
	}
	var f Fonts
	slots := []struct {
		path     string
		fallback []byte
		dst      **FontAndFace
	}{
		{cfg.RegularPath, goregular.TTF, &f.Regular},
		{cfg.BoldPath, gobold.TTF, &f.Bold},
		{cfg.ItalicPath, goitalic.TTF, &f.Italic},
		{cfg.BoldItalicPath, gobolditalic.TTF, &f.BoldItalic},
		{cfg.MonoPath, gomono.TTF, &f.Mono},
	}
	for _, s := range slots {
		data := s.fallback
		if s.path != "" {
			b, err := os.ReadFile(s.path)
			if err != nil {
				return f, fmt.Errorf("font %s: %w", s.path, err)
			}
			data = b
		}
		ff, err := loadFontAndFace(data, cfg.SizeBase)
		if err != nil {
			return f, fmt.Errorf("font %s: %w", s.path, err)
		}
		*s.dst = ff
	}
	return f, nil
}

func (f Fonts) complete() bool {
	return f.Regular != nil && f.Bold != nil && f.Italic != nil && f.BoldItalic != nil && f.Mono != nil
}

// fill returns f with missing faces taken from fallback.
func (f Fonts) fill(fallback Fonts) Fonts {
	for _, p := range []struct{ dst, src **FontAndFace }{
		{&f.Regular, &fallback.Regular},
		{&f.Bold, &fallback.Bold},
		{&f.Italic, &fallback.Italic},
		{&f.BoldItalic, &fallback.BoldItalic},
		{&f.Mono, &fallback.Mono},
	} {
		if *p.dst == nil {
			*p.dst = *p.src
		}
	}
	return f
}

// face picks the font for a configured face with the given emphasis. Mono has
// no variants.
func (f Fonts) face(face mdlive.FontFace, bold, italic bool) *FontAndFace {
	if face == mdlive.FaceMono {
		return f.Mono
	}
	if face == mdlive.FaceBold {
		bold = true
	}
	switch {
	case bold && italic:
		return f.BoldItalic
	case bold:
		return f.Bold
	case italic:
		return f.Italic
	default:
		return f.Regular
	}
}

func measureWidth(fnt *FontAndFace, size float64, s string) float64 {
	if fnt == nil || s == "" {
		return 0
	}
	// The face was built at baseSize; freetype.Context has no measuring call.
	d := font.Drawer{Face: fnt.Face, Src: image.NewUniform(color.Black)}
	width := float64(d.MeasureString(s).Round())
	base := fnt.baseSize
	if base <= 0 {
		base = size
	}
	if base <= 0 || size <= 0 {
		return width
	}
	if size != base {
		width *= size / base
	}
	return width
}

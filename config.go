package mdlive

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Role selects whether rendered text regions are read-only or editable.
type Role int

const (
	RoleNormal Role = iota
	RoleEditor
)

func (r Role) String() string {
	if r == RoleEditor {
		return "editor"
	}
	return "normal"
}

// Appearance selects which code theme applies.
type Appearance int

const (
	AppearanceLight Appearance = iota
	AppearanceDark
)

func (a Appearance) String() string {
	if a == AppearanceDark {
		return "dark"
	}
	return "light"
}

// TextType is the role a run of text plays; fonts and styles are keyed by it.
type TextType int

const (
	TextH1 TextType = iota
	TextH2
	TextH3
	TextH4
	TextH5
	TextH6
	TextBody
	TextCodeBlock
	TextBlockQuote
	TextTableHeader
	TextTableBody

	textTypeCount
)

var textTypeNames = [textTypeCount]string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	"body", "code_block", "block_quote", "table_header", "table_body",
}

func (t TextType) String() string {
	if t < 0 || t >= textTypeCount {
		return "unknown"
	}
	return textTypeNames[t]
}

// HeadingText returns the text type for a heading level, clamped to 1..6.
func HeadingText(level int) TextType {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return TextH1 + TextType(level-1)
}

// FontFace names one of the faces a host provides.
type FontFace int

const (
	FaceRegular FontFace = iota
	FaceBold
	FaceMono
)

// FontSpec is the font for one text type. Size is in points.
type FontSpec struct {
	Face FontFace
	Size float64
}

// Style is the foreground style for one text type.
type Style struct {
	Foreground color.RGBA
	Bold       bool
	Italic     bool
}

// FontSet and StyleSet are arrays so that copying a Config copies them.
type (
	FontSet  [textTypeCount]FontSpec
	StyleSet [textTypeCount]Style
)

// CodeTheme names the highlight theme used for each appearance.
type CodeTheme struct {
	Light string
	Dark  string
}

// Config describes the rendering options for one render pass. It is a value:
// a renderer keeps its own copy, and the With methods return modified
// copies. Changing configuration means rendering again.
type Config struct {
	Role             Role
	Appearance       Appearance
	LineSpacing      float64 // line height as a multiple of font size
	ComponentSpacing float64 // vertical gap between blocks
	ListIndent       float64 // indent per list level
	Bullet           string
	Fonts            FontSet
	Styles           StyleSet
	CodeTheme        CodeTheme
	InlineCodeTint   color.RGBA
	BlockQuoteTint   color.RGBA
	BaseURL          string // base for relative image locators
}

var (
	lightForeground = color.RGBA{0x11, 0x11, 0x11, 0xFF}
	darkForeground  = color.RGBA{0xEE, 0xEE, 0xF0, 0xFF}
)

// DefaultConfig returns the light configuration with a 16pt body size.
func DefaultConfig() Config {
	return newConfig(16, AppearanceLight)
}

// DarkConfig returns the dark counterpart of DefaultConfig.
func DarkConfig() Config {
	return newConfig(16, AppearanceDark)
}

func newConfig(base float64, appearance Appearance) Config {
	cfg := Config{
		Appearance:       appearance,
		LineSpacing:      1.4,
		ComponentSpacing: base * 0.75,
		ListIndent:       32,
		Bullet:           "•",
		CodeTheme:        CodeTheme{Light: "github", Dark: "monokai"},
	}
	cfg = cfg.WithBaseSize(base)
	fg := lightForeground
	cfg.InlineCodeTint = color.RGBA{0xF5, 0xF5, 0xF7, 0xFF}
	cfg.BlockQuoteTint = color.RGBA{0xCC, 0xCC, 0xCC, 0xFF}
	if appearance == AppearanceDark {
		fg = darkForeground
		cfg.InlineCodeTint = color.RGBA{0x1E, 0x1E, 0x22, 0xFF}
		cfg.BlockQuoteTint = color.RGBA{0x44, 0x44, 0x48, 0xFF}
	}
	for t := TextType(0); t < textTypeCount; t++ {
		cfg.Styles[t] = Style{Foreground: fg}
	}
	for t := TextH1; t <= TextH6; t++ {
		cfg.Styles[t].Bold = true
	}
	cfg.Styles[TextTableHeader].Bold = true
	cfg.Styles[TextBlockQuote].Italic = true
	return cfg
}

var headingScale = [6]float64{1.9, 1.6, 1.4, 1.25, 1.15, 1.15}

// WithBaseSize returns a copy whose fonts are scaled from a body size of
// base points.
func (c Config) WithBaseSize(base float64) Config {
	if base <= 0 {
		base = 16
	}
	for i, s := range headingScale {
		c.Fonts[TextH1+TextType(i)] = FontSpec{Face: FaceBold, Size: base * s}
	}
	c.Fonts[TextBody] = FontSpec{Face: FaceRegular, Size: base}
	c.Fonts[TextCodeBlock] = FontSpec{Face: FaceMono, Size: base * 0.95}
	c.Fonts[TextBlockQuote] = FontSpec{Face: FaceRegular, Size: base}
	c.Fonts[TextTableHeader] = FontSpec{Face: FaceBold, Size: base}
	c.Fonts[TextTableBody] = FontSpec{Face: FaceRegular, Size: base}
	return c
}

// WithRole returns a copy with the role set.
func (c Config) WithRole(r Role) Config {
	c.Role = r
	return c
}

// WithAppearance returns a copy with the appearance set.
func (c Config) WithAppearance(a Appearance) Config {
	c.Appearance = a
	return c
}

// WithBaseURL returns a copy with the relative image base set.
func (c Config) WithBaseURL(base string) Config {
	c.BaseURL = base
	return c
}

// WithFont returns a copy with the font for t replaced.
func (c Config) WithFont(t TextType, f FontSpec) Config {
	if t >= 0 && t < textTypeCount {
		c.Fonts[t] = f
	}
	return c
}

// WithStyle returns a copy with the style for t replaced.
func (c Config) WithStyle(t TextType, s Style) Config {
	if t >= 0 && t < textTypeCount {
		c.Styles[t] = s
	}
	return c
}

// Font returns the font for t.
func (c Config) Font(t TextType) FontSpec {
	if t < 0 || t >= textTypeCount {
		t = TextBody
	}
	return c.Fonts[t]
}

// Style returns the style for t.
func (c Config) Style(t TextType) Style {
	if t < 0 || t >= textTypeCount {
		t = TextBody
	}
	return c.Styles[t]
}

// CodeThemeName returns the code theme for the configured appearance.
func (c Config) CodeThemeName() string {
	if c.Appearance == AppearanceDark {
		return c.CodeTheme.Dark
	}
	return c.CodeTheme.Light
}

type fileFont struct {
	Face *string  `toml:"face"`
	Size *float64 `toml:"size"`
}

type fileStyle struct {
	Foreground *string `toml:"foreground"`
	Bold       *bool   `toml:"bold"`
	Italic     *bool   `toml:"italic"`
}

type fileConfig struct {
	Role             *string              `toml:"role"`
	Appearance       *string              `toml:"appearance"`
	BaseSize         *float64             `toml:"base_size"`
	LineSpacing      *float64             `toml:"line_spacing"`
	ComponentSpacing *float64             `toml:"component_spacing"`
	ListIndent       *float64             `toml:"list_indent"`
	Bullet           *string              `toml:"bullet"`
	BaseURL          *string              `toml:"base_url"`
	InlineCodeTint   *string              `toml:"inline_code_tint"`
	BlockQuoteTint   *string              `toml:"block_quote_tint"`
	CodeTheme        *CodeTheme           `toml:"code_theme"`
	Fonts            map[string]fileFont  `toml:"fonts"`
	Styles           map[string]fileStyle `toml:"styles"`
}

// LoadConfigFile reads TOML overrides from path and applies them on top of
// base. Keys that are absent keep their value from base.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg, err := ParseConfig(data, base)
	if err != nil {
		return base, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig applies TOML overrides in data on top of base.
func ParseConfig(data []byte, base Config) (Config, error) {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return base, err
	}
	c := base
	if fc.Appearance != nil {
		switch strings.ToLower(*fc.Appearance) {
		case "light":
			c = c.WithAppearance(AppearanceLight)
		case "dark":
			c = c.WithAppearance(AppearanceDark)
		default:
			return base, fmt.Errorf("unknown appearance %q", *fc.Appearance)
		}
	}
	if fc.Role != nil {
		switch strings.ToLower(*fc.Role) {
		case "normal":
			c.Role = RoleNormal
		case "editor":
			c.Role = RoleEditor
		default:
			return base, fmt.Errorf("unknown role %q", *fc.Role)
		}
	}
	if fc.BaseSize != nil {
		c = c.WithBaseSize(*fc.BaseSize)
	}
	if fc.LineSpacing != nil {
		c.LineSpacing = *fc.LineSpacing
	}
	if fc.ComponentSpacing != nil {
		c.ComponentSpacing = *fc.ComponentSpacing
	}
	if fc.ListIndent != nil {
		c.ListIndent = *fc.ListIndent
	}
	if fc.Bullet != nil {
		c.Bullet = *fc.Bullet
	}
	if fc.BaseURL != nil {
		c.BaseURL = *fc.BaseURL
	}
	if fc.CodeTheme != nil {
		if fc.CodeTheme.Light != "" {
			c.CodeTheme.Light = fc.CodeTheme.Light
		}
		if fc.CodeTheme.Dark != "" {
			c.CodeTheme.Dark = fc.CodeTheme.Dark
		}
	}
	var err error
	if fc.InlineCodeTint != nil {
		if c.InlineCodeTint, err = ParseColor(*fc.InlineCodeTint); err != nil {
			return base, err
		}
	}
	if fc.BlockQuoteTint != nil {
		if c.BlockQuoteTint, err = ParseColor(*fc.BlockQuoteTint); err != nil {
			return base, err
		}
	}
	for name, f := range fc.Fonts {
		t, err := parseTextType(name)
		if err != nil {
			return base, err
		}
		spec := c.Fonts[t]
		if f.Face != nil {
			if spec.Face, err = parseFace(*f.Face); err != nil {
				return base, err
			}
		}
		if f.Size != nil {
			spec.Size = *f.Size
		}
		c.Fonts[t] = spec
	}
	for name, s := range fc.Styles {
		t, err := parseTextType(name)
		if err != nil {
			return base, err
		}
		st := c.Styles[t]
		if s.Foreground != nil {
			if st.Foreground, err = ParseColor(*s.Foreground); err != nil {
				return base, err
			}
		}
		if s.Bold != nil {
			st.Bold = *s.Bold
		}
		if s.Italic != nil {
			st.Italic = *s.Italic
		}
		c.Styles[t] = st
	}
	return c, nil
}

func parseTextType(name string) (TextType, error) {
	for i, n := range textTypeNames {
		if strings.EqualFold(n, name) {
			return TextType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown text type %q", name)
}

func parseFace(name string) (FontFace, error) {
	switch strings.ToLower(name) {
	case "regular":
		return FaceRegular, nil
	case "bold":
		return FaceBold, nil
	case "mono", "monospace":
		return FaceMono, nil
	}
	return 0, fmt.Errorf("unknown font face %q", name)
}

var errBadColor = errors.New("colors are #rgb or #rrggbb")

// ParseColor parses #rgb or #rrggbb into an opaque color.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", errBadColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", errBadColor, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, nil
}

package raster

import (
	"bufio"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"unicode"

	"github.com/golang/freetype"
	xdraw "golang.org/x/image/draw"

	"github.com/arran4/mdlive/grid"
)

const initialHeight = 2048

type canvas struct {
	img         *image.RGBA
	dc          *freetype.Context
	w, h        int
	margin      int
	cursorY     int
	th          Theme
	fonts       Fonts
	ptSize      float64
	lineSpacing float64
}

func newCanvas(width, margin int, th Theme, fonts Fonts, ptSize, lineSpacing float64) *canvas {
	img := image.NewRGBA(image.Rect(0, 0, width, initialHeight))
	dc := freetype.NewContext()
	dc.SetDPI(96)
	dc.SetClip(img.Bounds())
	dc.SetDst(img)
	dc.SetSrc(image.NewUniform(th.FG))
	dc.SetFontSize(ptSize)
	draw.Draw(img, img.Bounds(), image.NewUniform(th.BG), image.Point{}, draw.Src)
	if lineSpacing <= 0 {
		lineSpacing = 1.4
	}
	return &canvas{
		img:         img,
		dc:          dc,
		w:           width,
		h:           initialHeight,
		margin:      margin,
		cursorY:     margin,
		th:          th,
		fonts:       fonts,
		ptSize:      ptSize,
		lineSpacing: lineSpacing,
	}
}

// ensure grows the backing image so that y is inside it.
func (c *canvas) ensure(y int) {
	if y < c.h {
		return
	}
	h := c.h * 2
	for h <= y {
		h *= 2
	}
	img := image.NewRGBA(image.Rect(0, 0, c.w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c.th.BG), image.Point{}, draw.Src)
	draw.Draw(img, c.img.Bounds(), c.img, image.Point{}, draw.Src)
	c.img = img
	c.h = h
	c.dc.SetDst(img)
	c.dc.SetClip(img.Bounds())
}

// crop returns the used part of the canvas.
func (c *canvas) crop() *image.RGBA {
	used := c.cursorY + c.margin
	if used < c.margin+50 {
		used = c.margin + 50
	}
	c.ensure(used)
	out := image.NewRGBA(image.Rect(0, 0, c.w, used))
	draw.Draw(out, out.Bounds(), c.img, image.Point{}, draw.Src)
	return out
}

func (c *canvas) lineHeight(size float64) int {
	if size <= 0 {
		size = c.ptSize
	}
	return int(size * c.lineSpacing)
}

func (c *canvas) setFace(fnt *FontAndFace, col color.Color, size float64) {
	c.dc.SetFontSize(size)
	c.dc.SetSrc(image.NewUniform(col))
	c.dc.SetFont(fnt.Font)
}

func (c *canvas) fill(r image.Rectangle, col color.Color) {
	c.ensure(r.Max.Y)
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
}

func (c *canvas) addVSpace(px int) { c.cursorY += px }

func (c *canvas) drawHRule(left, right int) {
	y := c.cursorY + 4
	c.fill(image.Rect(left, y, right, y+2), c.th.HRule)
	c.cursorY = y + 10
}

func (c *canvas) drawBlockquoteBar(x, topY, height int) {
	c.fill(image.Rect(x, topY, x+4, topY+height), c.th.QuoteBar)
}

// codePiece is a run of code text with its own colour and face.
type codePiece struct {
	text  string
	font  *FontAndFace
	color color.Color
}

// drawCodeLines draws source lines on a tinted box, wrapping long lines and
// keeping runs of spaces.
func (c *canvas) drawCodeLines(lines [][]codePiece, left, right int, size float64) {
	pad := 10
	top := c.cursorY
	wrapped := wrapCode(lines, size, float64(right-left-2*pad))
	lh := c.lineHeight(size)
	height := len(wrapped)*lh + 2*pad + 6
	c.fill(image.Rect(left, top, right, top+height), c.th.CodeBG)

	y := top + pad + int(size)
	for _, ln := range wrapped {
		x := left + pad
		for _, p := range ln {
			c.setFace(p.font, p.color, size)
			_, _ = c.dc.DrawString(p.text, freetype.Pt(x, y))
			x += int(measureWidth(p.font, size, p.text))
		}
		y += lh
	}
	c.cursorY = top + height + 6
}

func wrapCode(lines [][]codePiece, size, maxWidth float64) [][]codePiece {
	var out [][]codePiece
	for _, line := range lines {
		var cur []codePiece
		var width float64
		flush := func() {
			out = append(out, cur)
			cur = nil
			width = 0
		}
		for _, p := range line {
			for _, seg := range splitTextPreserveSpaces(p.text) {
				w := measureWidth(p.font, size, seg)
				if maxWidth > 0 && w > maxWidth {
					if len(cur) > 0 {
						flush()
					}
					parts := breakLongToken(p.font, size, seg, maxWidth)
					for _, part := range parts[:len(parts)-1] {
						out = append(out, []codePiece{{text: part, font: p.font, color: p.color}})
					}
					last := parts[len(parts)-1]
					cur = append(cur, codePiece{text: last, font: p.font, color: p.color})
					width = measureWidth(p.font, size, last)
					continue
				}
				if maxWidth > 0 && width+w > maxWidth && len(cur) > 0 {
					flush()
				}
				cur = append(cur, codePiece{text: seg, font: p.font, color: p.color})
				width += w
			}
		}
		flush()
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}

func scaleImageToWidth(img image.Image, maxWidth int) image.Image {
	if img == nil {
		return nil
	}
	if maxWidth <= 0 {
		return img
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxWidth {
		return img
	}
	scale := float64(maxWidth) / float64(bounds.Dx())
	height := int(float64(bounds.Dy()) * scale)
	if height <= 0 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}

func wrapLines(ff *FontAndFace, size float64, text string, maxWidth float64) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		ln := scanner.Text()
		if ln == "" {
			lines = append(lines, "")
			continue
		}
		if maxWidth <= 0 || measureWidth(ff, size, ln) <= maxWidth {
			lines = append(lines, ln)
			continue
		}
		lines = append(lines, wrapLinePreservingSpaces(ff, size, ln, maxWidth)...)
	}
	if len(lines) == 0 {
		lines = append(lines, "")
	}
	return lines
}

func wrapLinePreservingSpaces(ff *FontAndFace, size float64, line string, maxWidth float64) []string {
	if line == "" {
		return []string{""}
	}
	var result []string
	var current strings.Builder
	var currentWidth float64
	flush := func() {
		result = append(result, current.String())
		current.Reset()
		currentWidth = 0
	}
	for _, token := range splitTextPreserveSpaces(line) {
		tokenWidth := measureWidth(ff, size, token)
		if tokenWidth > maxWidth {
			if current.Len() > 0 {
				flush()
			}
			result = append(result, breakLongToken(ff, size, token, maxWidth)...)
			continue
		}
		if currentWidth+tokenWidth > maxWidth && current.Len() > 0 {
			flush()
		}
		current.WriteString(token)
		currentWidth += tokenWidth
	}
	if current.Len() > 0 {
		flush()
	}
	if len(result) == 0 {
		result = append(result, "")
	}
	return result
}

func breakLongToken(ff *FontAndFace, size float64, token string, maxWidth float64) []string {
	var parts []string
	var current strings.Builder
	var width float64
	for _, r := range token {
		ch := string(r)
		charWidth := measureWidth(ff, size, ch)
		if width+charWidth > maxWidth && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
			width = 0
		}
		current.WriteString(ch)
		width += charWidth
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	if len(parts) == 0 {
		parts = append(parts, token)
	}
	return parts
}

// splitTextPreserveSpaces splits s into alternating runs of space and
// non-space.
func splitTextPreserveSpaces(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	var current strings.Builder
	lastSpace := unicode.IsSpace([]rune(s)[0])
	for _, r := range s {
		space := unicode.IsSpace(r)
		if space != lastSpace {
			parts = append(parts, current.String())
			current.Reset()
			lastSpace = space
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

type textToken struct {
	text      string
	font      *FontAndFace
	size      float64
	color     color.Color
	bg        color.Color
	underline bool
	strike    bool
	newline   bool
	image     image.Image
	center    bool
}

type styledWord struct {
	text  string
	tok   textToken
	width float64
	space bool
}

type lineMetric struct {
	baseline int
	height   int
}

func (c *canvas) drawTokens(tokens []textToken, left, right int) []lineMetric {
	return c.drawTokensAligned(tokens, left, right, grid.AlignNone)
}

// drawTokensAligned word-wraps tokens between left and right and draws them
// from the cursor down. Whole images are drawn on their own line.
func (c *canvas) drawTokensAligned(tokens []textToken, left, right int, align grid.Alignment) []lineMetric {
	if len(tokens) == 0 {
		return nil
	}
	maxWidth := float64(right - left)
	var line []styledWord
	var lineWidth float64
	var lineMaxSize float64
	var metrics []lineMetric

	flush := func(force bool) {
		if len(line) == 0 {
			if force {
				size := lineMaxSize
				if size == 0 {
					size = c.ptSize
				}
				c.cursorY += c.lineHeight(size)
			}
			return
		}
		size := lineMaxSize
		if size == 0 {
			size = c.ptSize
		}
		lh := c.lineHeight(size)
		c.ensure(c.cursorY + 2*lh)
		baseline := c.cursorY + int(size)

		visible := lineWidth
		for i := len(line) - 1; i >= 0 && line[i].space; i-- {
			visible -= line[i].width
		}
		x := left
		switch align {
		case grid.AlignCenter:
			x += int((maxWidth - visible) / 2)
		case grid.AlignRight:
			x += int(maxWidth - visible)
		}
		if x < left {
			x = left
		}
		for _, w := range line {
			width := int(w.width)
			if w.tok.bg != nil && !w.space {
				c.fill(image.Rect(x-1, baseline-int(w.tok.size), x+width+1, baseline+int(w.tok.size*0.3)), w.tok.bg)
			}
			c.setFace(w.tok.font, w.tok.color, w.tok.size)
			_, _ = c.dc.DrawString(w.text, freetype.Pt(x, baseline))
			if w.tok.underline && width > 0 {
				y := baseline + int(w.tok.size*0.12)
				if y <= baseline {
					y = baseline + 1
				}
				c.fill(image.Rect(x, y, x+width, y+1), w.tok.color)
			}
			if w.tok.strike && width > 0 {
				y := baseline - int(w.tok.size*0.3)
				c.fill(image.Rect(x, y, x+width, y+1), w.tok.color)
			}
			x += width
		}
		metrics = append(metrics, lineMetric{baseline: baseline, height: lh})
		c.cursorY += lh
		line = line[:0]
		lineWidth = 0
		lineMaxSize = 0
	}

	for _, tok := range tokens {
		if tok.newline {
			flush(true)
			continue
		}
		if tok.image != nil {
			flush(false)
			metrics = append(metrics, c.drawImage(tok.image, left, int(maxWidth), tok.center))
			continue
		}
		if tok.font == nil {
			tok.font = c.fonts.Regular
		}
		if tok.size <= 0 {
			tok.size = c.ptSize
		}
		for _, seg := range splitTextPreserveSpaces(tok.text) {
			space := unicode.IsSpace([]rune(seg)[0])
			segWidth := measureWidth(tok.font, tok.size, seg)
			if space {
				if len(line) == 0 {
					continue
				}
				line = append(line, styledWord{text: seg, tok: tok, width: segWidth, space: true})
				lineWidth += segWidth
				continue
			}
			if lineWidth+segWidth > maxWidth && len(line) > 0 {
				flush(false)
			}
			line = append(line, styledWord{text: seg, tok: tok, width: segWidth})
			if tok.size > lineMaxSize {
				lineMaxSize = tok.size
			}
			lineWidth += segWidth
		}
	}
	flush(false)
	return metrics
}

func (c *canvas) drawImage(img image.Image, left, maxWidth int, center bool) lineMetric {
	if b := img.Bounds(); maxWidth > 0 && b.Dx() > maxWidth {
		img = scaleImageToWidth(img, maxWidth)
	}
	bounds := img.Bounds()
	startY := c.cursorY
	w, h := bounds.Dx(), bounds.Dy()
	x := left
	if center && maxWidth > w {
		x += (maxWidth - w) / 2
	}
	rect := image.Rect(x, startY, x+w, startY+h)
	c.ensure(rect.Max.Y + int(c.ptSize))
	draw.Draw(c.img, rect, img, bounds.Min, draw.Over)
	baseline := startY + int(c.ptSize)
	if baseline > rect.Max.Y || baseline <= startY {
		baseline = rect.Max.Y
	}
	c.cursorY += h + int(c.ptSize*0.6)
	return lineMetric{baseline: baseline, height: h}
}

package raster

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/golang/freetype"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/grid"
	"github.com/arran4/mdlive/resource"
)

const (
	listMarkerGap = 8
	// default replaced-element size for vector images that declare none
	defaultVectorWidth  = 300
	defaultVectorHeight = 150
)

// Drawable is implemented by custom components that paint themselves.
// Height is asked first so the canvas can grow; Draw then gets a rectangle of
// that height.
type Drawable interface {
	Height(width int) int
	Draw(dst draw.Image, r image.Rectangle)
}

type painter struct {
	c       *canvas
	cfg     mdlive.Config
	log     *slog.Logger
	engines map[string]*grid.Engine
	anchors map[string]int

	linkFootnotes  bool
	imageFootnotes bool
	footnoteIndex  map[string]int
	footnotes      []string
}

func (p *painter) bodySize() float64 { return p.cfg.Font(mdlive.TextBody).Size }

func (p *painter) engine(id string) *grid.Engine {
	e, ok := p.engines[id]
	if !ok {
		e = &grid.Engine{}
		p.engines[id] = e
	}
	return e
}

func (p *painter) ensureFootnote(raw string) int {
	if raw == "" {
		return 0
	}
	if p.footnoteIndex == nil {
		p.footnoteIndex = make(map[string]int)
	}
	if idx, ok := p.footnoteIndex[raw]; ok {
		return idx
	}
	p.footnotes = append(p.footnotes, raw)
	p.footnoteIndex[raw] = len(p.footnotes)
	return len(p.footnotes)
}

func (p *painter) footnoteMarker(size float64, raw string) []textToken {
	idx := p.ensureFootnote(raw)
	if idx == 0 {
		return nil
	}
	return []textToken{{text: fmt.Sprintf("[%d]", idx), font: p.c.fonts.Regular, size: size * 0.75, color: p.c.th.FG}}
}

func (p *painter) paint(doc *mdlive.Document) {
	right := p.c.w - p.c.margin
	p.blocks(doc.Blocks, p.c.margin, right)
	p.drawFootnotes()
}

func (p *painter) blocks(blocks []mdlive.Component, left, right int) {
	for _, b := range blocks {
		p.block(b, left, right)
	}
}

// block draws one component and returns the baseline of its first line, or 0
// when it has none.
func (p *painter) block(b mdlive.Component, left, right int) int {
	body := p.bodySize()
	switch c := b.(type) {
	case *mdlive.Heading:
		p.c.addVSpace(int(body * 0.75))
		if a := c.Anchor(); a != "" {
			p.anchors[a] = p.c.cursorY
		}
		m := p.c.drawTokens(p.tokens(c.Spans, c.Type), left, right)
		p.c.addVSpace(int(body * 0.5))
		return firstBaseline(m)
	case *mdlive.Paragraph:
		baseline := p.text(c.Spans, c.Type, left, right)
		if baseline != 0 {
			p.c.addVSpace(int(p.cfg.ComponentSpacing))
		}
		return baseline
	case *mdlive.CodeBlock:
		p.c.addVSpace(4)
		start := p.c.cursorY
		p.c.drawCodeLines(p.codeLines(c), left, right, p.cfg.Font(mdlive.TextCodeBlock).Size)
		return start + 10 + int(p.cfg.Font(mdlive.TextCodeBlock).Size)
	case *mdlive.LiteralBlock:
		p.c.addVSpace(4)
		start := p.c.cursorY
		size := p.cfg.Font(mdlive.TextCodeBlock).Size
		var lines [][]codePiece
		for _, ln := range wrapLines(p.c.fonts.Mono, size, c.Text, 0) {
			lines = append(lines, []codePiece{{text: ln, font: p.c.fonts.Mono, color: p.c.th.FG}})
		}
		p.c.drawCodeLines(lines, left, right, size)
		return start + 10 + int(size)
	case *mdlive.BlockQuote:
		start := p.c.cursorY
		p.c.addVSpace(2)
		p.blocks(c.Blocks, left+10, right)
		p.c.addVSpace(6)
		p.c.drawBlockquoteBar(left, start+2, p.c.cursorY-start-2)
		return 0
	case *mdlive.List:
		p.list(c, left, right)
		return 0
	case *mdlive.Table:
		p.table(c, left, right)
		return 0
	case *mdlive.Image:
		return p.image(c, left, right)
	case *mdlive.ThematicBreak:
		p.c.drawHRule(left, right)
		return 0
	case Drawable:
		width := right - left
		h := c.Height(width)
		if h <= 0 {
			return 0
		}
		r := image.Rect(left, p.c.cursorY, right, p.c.cursorY+h)
		p.c.ensure(r.Max.Y)
		c.Draw(p.c.img, r)
		p.c.cursorY = r.Max.Y
		p.c.addVSpace(int(p.cfg.ComponentSpacing))
		return 0
	default:
		p.unsupported(fmt.Sprintf("⚠ Unsupported: %s", b.Kind()), left, right)
		return 0
	}
}

func firstBaseline(m []lineMetric) int {
	if len(m) == 0 {
		return 0
	}
	return m[0].baseline
}

// text draws spans as one wrapped block without trailing spacing.
func (p *painter) text(spans []mdlive.Span, tt mdlive.TextType, left, right int) int {
	tokens := p.tokens(spans, tt)
	if len(tokens) == 0 {
		return 0
	}
	return firstBaseline(p.c.drawTokens(tokens, left, right))
}

func (p *painter) tokens(spans []mdlive.Span, tt mdlive.TextType) []textToken {
	spec := p.cfg.Font(tt)
	st := p.cfg.Style(tt)
	var out []textToken
	for i, s := range spans {
		if s.Break {
			out = append(out, textToken{newline: true})
			continue
		}
		if img, ok := s.Embed.(*mdlive.Image); ok {
			out = append(out, p.inlineImage(img, spec.Size)...)
			continue
		}
		if s.Text == "" {
			continue
		}
		tok := textToken{
			text:   s.Text,
			font:   p.c.fonts.face(spec.Face, st.Bold || s.Bold, st.Italic || s.Italic),
			size:   spec.Size,
			color:  st.Foreground,
			strike: s.Strike,
		}
		if s.Code {
			tok.font = p.c.fonts.Mono
			tok.size = spec.Size * 0.95
			tok.bg = p.c.th.CodeBG
		}
		if s.Link != "" {
			tok.color = p.c.th.Link
			tok.underline = true
		}
		out = append(out, tok)
		// one marker per link, after its last span
		if s.Link != "" && p.linkFootnotes && (i+1 == len(spans) || spans[i+1].Link != s.Link) {
			out = append(out, p.footnoteMarker(spec.Size, s.Link)...)
		}
	}
	return out
}

func (p *painter) inlineImage(img *mdlive.Image, size float64) []textToken {
	var out []textToken
	snap := img.Snapshot()
	if snap.State == resource.LoadedRaster && snap.Image != nil {
		out = append(out, textToken{image: snap.Image, center: true})
	} else {
		out = append(out, p.imageFallback(img, size)...)
	}
	if p.imageFootnotes {
		out = append(out, p.footnoteMarker(size, img.Locator)...)
	}
	return out
}

func (p *painter) imageFallback(img *mdlive.Image, size float64) []textToken {
	text, col := img.Alt, p.c.th.FG
	if text == "" {
		text = img.Title
	}
	if text == "" {
		text, col = img.Locator, p.c.th.Warning
	}
	if text == "" {
		return nil
	}
	return []textToken{{text: text, font: p.c.fonts.Regular, size: size, color: col}}
}

func (p *painter) image(img *mdlive.Image, left, right int) int {
	snap := img.Snapshot()
	width := right - left
	switch snap.State {
	case resource.LoadedRaster:
		if snap.Image == nil {
			break
		}
		m := p.c.drawImage(snap.Image, left, width, true)
		if p.imageFootnotes {
			p.c.drawTokens(p.footnoteMarker(p.bodySize(), img.Locator), left, right)
		}
		return m.baseline
	case resource.LoadedVector:
		return p.vectorPlaceholder(img, snap, left, right)
	}
	tokens := p.imageFallback(img, p.bodySize())
	if p.imageFootnotes {
		tokens = append(tokens, p.footnoteMarker(p.bodySize(), img.Locator)...)
	}
	m := p.c.drawTokens(tokens, left, right)
	p.c.addVSpace(int(p.bodySize() * 0.6))
	return firstBaseline(m)
}

// vectorSize is the display size of a loaded vector: the host-reported
// geometry when complete, then the declared size, then the default.
func vectorSize(snap resource.Snapshot) (float64, float64) {
	if w, h := snap.Vector.Geometry(); w > 0 && h > 0 {
		return w, h
	}
	if w, h, ok := resource.IntrinsicSize(snap.Markup); ok && w > 0 && h > 0 {
		return w, h
	}
	return defaultVectorWidth, defaultVectorHeight
}

// vectorPlaceholder frames the space a vector image occupies; there is no
// vector rasteriser, so the frame carries the alt text.
func (p *painter) vectorPlaceholder(img *mdlive.Image, snap resource.Snapshot, left, right int) int {
	w, h := vectorSize(snap)
	maxWidth := float64(right - left)
	if w > maxWidth {
		h *= maxWidth / w
		w = maxWidth
	}
	iw, ih := int(w), int(h)
	if ih < 1 {
		ih = 1
	}
	x := left + (right-left-iw)/2
	top := p.c.cursorY
	frame := image.Rect(x, top, x+iw, top+ih)
	p.c.fill(frame, p.c.th.CodeBG)
	p.c.fill(image.Rect(frame.Min.X, frame.Min.Y, frame.Max.X, frame.Min.Y+1), p.c.th.HRule)
	p.c.fill(image.Rect(frame.Min.X, frame.Max.Y-1, frame.Max.X, frame.Max.Y), p.c.th.HRule)
	p.c.fill(image.Rect(frame.Min.X, frame.Min.Y, frame.Min.X+1, frame.Max.Y), p.c.th.HRule)
	p.c.fill(image.Rect(frame.Max.X-1, frame.Min.Y, frame.Max.X, frame.Max.Y), p.c.th.HRule)

	if label := img.Alt; label != "" {
		size := p.bodySize()
		if lw := measureWidth(p.c.fonts.Regular, size, label); lw < w && float64(ih) > size {
			p.c.setFace(p.c.fonts.Regular, p.c.th.FG, size)
			lx := x + int((w-lw)/2)
			ly := top + ih/2 + int(size/2)
			_, _ = p.c.dc.DrawString(label, freetype.Pt(lx, ly))
		}
	}
	p.c.cursorY = top + ih + int(p.bodySize()*0.6)
	return top + ih
}

func (p *painter) codeLines(cb *mdlive.CodeBlock) [][]codePiece {
	mono := p.c.fonts.Mono
	lines := make([][]codePiece, len(cb.Lines))
	for i, runs := range cb.Lines {
		for _, run := range runs {
			col := p.cfg.Style(mdlive.TextCodeBlock).Foreground
			if run.HasColor {
				col = run.Color
			}
			// mono has no bold or italic variant; runs keep only their colour
			lines[i] = append(lines[i], codePiece{text: run.Text, font: mono, color: col})
		}
	}
	return lines
}

func (p *painter) list(l *mdlive.List, left, right int) {
	body := p.bodySize()
	indent := int(p.cfg.ListIndent)
	if indent <= listMarkerGap {
		indent = listMarkerGap + 24
	}
	markerLeft := left
	markerRight := left + indent - listMarkerGap
	contentLeft := left + indent
	for i, item := range l.Items {
		start := p.c.cursorY
		baseline := p.item(item.Blocks, contentLeft, right)
		if baseline == 0 {
			baseline = start + int(body)
		}
		if item.Checked != nil {
			p.drawCheckbox(*item.Checked, baseline, markerLeft, markerRight)
		} else {
			p.drawListMarker(item.Marker, baseline, markerLeft, markerRight)
		}
		if i+1 < len(l.Items) {
			p.c.addVSpace(int(body * 0.6))
		}
	}
	p.c.addVSpace(int(body * 0.7))
}

// item draws list item content tightly and returns the first baseline.
func (p *painter) item(blocks []mdlive.Component, left, right int) int {
	first := 0
	for i, b := range blocks {
		var baseline int
		switch c := b.(type) {
		case *mdlive.Paragraph:
			baseline = p.text(c.Spans, c.Type, left, right)
		case *mdlive.List:
			p.c.addVSpace(int(p.bodySize() * 0.3))
			p.list(c, left, right)
		default:
			baseline = p.block(b, left, right)
		}
		if first == 0 {
			first = baseline
		}
		if i+1 < len(blocks) {
			p.c.addVSpace(int(p.bodySize() * 0.5))
		}
	}
	return first
}

func (p *painter) drawListMarker(marker string, baseline, markerLeft, markerRight int) {
	size := p.bodySize()
	font := p.c.fonts.Regular
	p.c.setFace(font, p.cfg.Style(mdlive.TextBody).Foreground, size)
	x := markerRight - int(measureWidth(font, size, marker))
	if x < markerLeft {
		x = markerLeft
	}
	_, _ = p.c.dc.DrawString(marker, freetype.Pt(x, baseline))
}

func (p *painter) drawCheckbox(checked bool, baseline, markerLeft, markerRight int) {
	side := int(p.bodySize() * 0.8)
	x := markerRight - side
	if x < markerLeft {
		x = markerLeft
	}
	box := image.Rect(x, baseline-side, x+side, baseline)
	fg := p.cfg.Style(mdlive.TextBody).Foreground
	p.c.fill(box, fg)
	p.c.fill(box.Inset(1), p.c.th.BG)
	if checked && side > 6 {
		p.c.fill(box.Inset(3), fg)
	}
}

func (p *painter) table(t *mdlive.Table, left, right int) {
	g := t.Grid.Padded()
	cols := g.ColumnCount()
	if cols == 0 {
		return
	}
	border := 1
	cellPadding := int(p.bodySize() * 0.6)
	if cellPadding < 8 {
		cellPadding = 8
	}

	rowOf := make(map[string]int)
	for ri, row := range g.Rows {
		for _, cell := range row.Cells {
			rowOf[cell.ID] = ri
		}
	}
	measure := grid.MeasurerFunc(func(cell grid.Cell) float64 {
		w := tokensWidth(p.tokens(t.Cells[cell.ID], t.CellType(rowOf[cell.ID])))
		if w == 0 {
			return 0
		}
		return w + float64(2*cellPadding)
	})
	available := float64(right - left - border*(cols+1))
	widths := p.engine(t.ID).Compute(t.Grid, measure, available)
	if over := grid.Overflow(widths, available); over > 0 {
		p.log.Debug("table overflows", "table", t.ID, "overflow", over)
	}

	colLeft := make([]int, cols+1)
	colLeft[0] = left
	for c := 0; c < cols; c++ {
		w := int(widths[c])
		if w < 2*cellPadding {
			w = 2 * cellPadding
		}
		colLeft[c+1] = colLeft[c] + border + w
	}
	tableRight := colLeft[cols] + border

	p.c.addVSpace(int(p.bodySize() * 0.3))
	tableTop := p.c.cursorY
	p.c.fill(image.Rect(left, tableTop, tableRight, tableTop+border), p.c.th.HRule)
	y := tableTop + border

	for ri, row := range g.Rows {
		rowTop := y
		maxHeight := int(p.bodySize() * 1.1)
		for c, cell := range row.Cells {
			contentLeft := colLeft[c] + border + cellPadding
			contentRight := colLeft[c+1] - cellPadding
			start := rowTop + cellPadding
			p.c.cursorY = start
			if !cell.Filler {
				p.c.drawTokensAligned(p.tokens(t.Cells[cell.ID], t.CellType(ri)), contentLeft, contentRight, cell.Align)
			}
			if h := p.c.cursorY - start; h > maxHeight {
				maxHeight = h
			}
		}
		rowBottom := rowTop + maxHeight + 2*cellPadding
		p.c.fill(image.Rect(left, rowBottom, tableRight, rowBottom+border), p.c.th.HRule)
		y = rowBottom + border
	}

	tableBottom := y - border
	for _, x := range colLeft {
		p.c.fill(image.Rect(x, tableTop, x+border, tableBottom+border), p.c.th.HRule)
	}
	p.c.cursorY = tableBottom + int(p.bodySize()*0.7)
}

// tokensWidth is the widest line of tokens laid out without wrapping.
func tokensWidth(tokens []textToken) float64 {
	var widest, cur float64
	for _, t := range tokens {
		switch {
		case t.newline:
			cur = 0
		case t.image != nil:
			cur += float64(t.image.Bounds().Dx())
		default:
			cur += measureWidth(t.font, t.size, t.text)
		}
		if cur > widest {
			widest = cur
		}
	}
	return widest
}

func (p *painter) unsupported(msg string, left, right int) {
	tokens := []textToken{{text: msg, font: p.c.fonts.Regular, size: p.bodySize() * 0.9, color: p.c.th.Warning}}
	_ = p.c.drawTokens(tokens, left, right)
	p.c.addVSpace(int(p.bodySize() * 0.6))
}

func (p *painter) drawFootnotes() {
	if len(p.footnotes) == 0 {
		return
	}
	p.c.addVSpace(int(p.bodySize() * 0.4))
	size := p.bodySize() * 0.85
	for i, note := range p.footnotes {
		tokens := []textToken{{text: fmt.Sprintf("[%d] %s", i+1, note), font: p.c.fonts.Regular, size: size, color: p.c.th.FG}}
		_ = p.c.drawTokens(tokens, p.c.margin, p.c.w-p.c.margin)
	}
}

func (p *painter) drawDiagnostics(diags []mdlive.Diagnostic) {
	for _, d := range diags {
		msg := d.Message
		if d.Range != nil {
			msg = d.Range.String() + " " + msg
		}
		p.unsupported("⚠ "+msg, p.c.margin, p.c.w-p.c.margin)
	}
}

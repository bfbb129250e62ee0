// Package textview lays rendered documents out as plain text for terminals
// and pipes. Widths are in terminal columns.
package textview

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/padding"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/grid"
	"github.com/arran4/mdlive/resource"
)

const (
	DefaultWidth = 80
	minWidth     = 10
)

// Page is a document laid out as lines.
type Page struct {
	Lines []string
	// Anchors maps heading anchors to their line index.
	Anchors map[string]int
}

func (p *Page) String() string {
	return strings.Join(p.Lines, "\n") + "\n"
}

// Layout lays doc out at width columns. Tables wider than width overflow.
func Layout(doc *mdlive.Document, width int) *Page {
	l := &layout{anchors: make(map[string]int), engines: make(map[string]*grid.Engine)}
	return l.page(doc, width)
}

// Render writes doc laid out at width to w.
func Render(w io.Writer, doc *mdlive.Document, width int) error {
	_, err := io.WriteString(w, Layout(doc, width).String())
	return err
}

type layout struct {
	anchors map[string]int
	engines map[string]*grid.Engine
}

func (l *layout) page(doc *mdlive.Document, width int) *Page {
	if width < minWidth {
		width = minWidth
	}
	lines := l.blocks(doc.Blocks, width, 0)
	return &Page{Lines: lines, Anchors: l.anchors}
}

// blocks lays out blocks separated by blank lines. base is the line index of
// the first output line in the page, used for anchors.
func (l *layout) blocks(blocks []mdlive.Component, width, base int) []string {
	var out []string
	for i, b := range blocks {
		if i > 0 {
			out = append(out, "")
		}
		out = append(out, l.block(b, width, base+len(out))...)
	}
	return out
}

func (l *layout) block(b mdlive.Component, width, base int) []string {
	switch c := b.(type) {
	case *mdlive.Heading:
		if a := c.Anchor(); a != "" && base >= 0 {
			l.anchors[a] = base
		}
		text := inline(c.Spans)
		if c.Level > 2 {
			return fill(strings.Repeat("#", c.Level)+" "+text, width)
		}
		lines := fill(text, width)
		rule := "="
		if c.Level == 2 {
			rule = "-"
		}
		widest := 0
		for _, ln := range lines {
			widest = max(widest, runewidth.StringWidth(ln))
		}
		return append(lines, strings.Repeat(rule, widest))
	case *mdlive.Paragraph:
		return fill(inline(c.Spans), width)
	case *mdlive.CodeBlock:
		return code(c.Code)
	case *mdlive.LiteralBlock:
		return code(c.Text)
	case *mdlive.BlockQuote:
		// nested anchors are not tracked
		inner := l.blocks(c.Blocks, width-2, -1<<20)
		for i, ln := range inner {
			inner[i] = strings.TrimRight("> "+ln, " ")
		}
		return inner
	case *mdlive.List:
		return l.list(c, width)
	case *mdlive.Table:
		return l.table(c)
	case *mdlive.Image:
		return fill(imageText(c), width)
	case *mdlive.ThematicBreak:
		return []string{strings.Repeat("─", width)}
	case fmt.Stringer:
		return fill(c.String(), width)
	default:
		return []string{fmt.Sprintf("[%s]", b.Kind())}
	}
}

// fill word-wraps s at width, hard-breaking words longer than the line.
func fill(s string, width int) []string {
	if s == "" {
		return nil
	}
	wrapped := wrap.String(wordwrap.String(s, width), width)
	return strings.Split(wrapped, "\n")
}

func code(s string) []string {
	s = strings.TrimRight(s, "\n")
	return strings.Split(indent.String(s, 4), "\n")
}

func (l *layout) list(list *mdlive.List, width int) []string {
	markerWidth := 0
	markers := make([]string, len(list.Items))
	for i, it := range list.Items {
		m := it.Marker
		if it.Checked != nil {
			m = "[ ]"
			if *it.Checked {
				m = "[x]"
			}
		}
		markers[i] = m
		markerWidth = max(markerWidth, runewidth.StringWidth(m))
	}
	gutter := markerWidth + 1
	var out []string
	for i, it := range list.Items {
		var body []string
		for j, b := range it.Blocks {
			if _, nested := b.(*mdlive.List); j > 0 && !nested {
				body = append(body, "")
			}
			body = append(body, l.block(b, width-gutter, -1<<20)...)
		}
		if len(body) == 0 {
			body = []string{""}
		}
		prefix := strings.Repeat(" ", gutter)
		for k, ln := range body {
			switch {
			case k == 0:
				ln = padding.String(markers[i], uint(gutter)) + ln
			case ln != "":
				ln = prefix + ln
			}
			out = append(out, strings.TrimRight(ln, " "))
		}
	}
	return out
}

func (l *layout) table(t *mdlive.Table) []string {
	g := t.Grid.Padded()
	cols := g.ColumnCount()
	if cols == 0 {
		return nil
	}
	e, ok := l.engines[t.ID]
	if !ok {
		e = &grid.Engine{}
		l.engines[t.ID] = e
	}
	// available 0: natural widths, the terminal scrolls or wraps the rest
	widths := e.Compute(t.Grid, grid.RuneWidthMeasurer{}, 0)

	var out []string
	for ri, row := range g.Rows {
		cells := make([]string, cols)
		for c, cell := range row.Cells {
			cells[c] = align(cell.Text, int(widths[c]), cell.Align)
		}
		out = append(out, "| "+strings.Join(cells, " | ")+" |")
		if ri+1 == t.HeaderRows {
			seps := make([]string, cols)
			for c := range seps {
				seps[c] = separator(int(widths[c]), g.Rows[0].Cells[c].Align)
			}
			out = append(out, "|"+strings.Join(seps, "|")+"|")
		}
	}
	return out
}

func align(text string, width int, a grid.Alignment) string {
	text = truncate.StringWithTail(text, uint(width), "…")
	gap := width - runewidth.StringWidth(text)
	if gap <= 0 {
		return text
	}
	switch a {
	case grid.AlignRight:
		return strings.Repeat(" ", gap) + text
	case grid.AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + padding.String(text, uint(width-left))
	default:
		return padding.String(text, uint(width))
	}
}

func separator(width int, a grid.Alignment) string {
	dashes := strings.Repeat("-", width+2)
	switch a {
	case grid.AlignLeft:
		return ":" + dashes[1:]
	case grid.AlignRight:
		return dashes[1:] + ":"
	case grid.AlignCenter:
		return ":" + dashes[2:] + ":"
	default:
		return dashes
	}
}

func inline(spans []mdlive.Span) string {
	var b strings.Builder
	for i, s := range spans {
		switch {
		case s.Break:
			b.WriteByte('\n')
		case s.Embed != nil:
			if img, ok := s.Embed.(*mdlive.Image); ok {
				b.WriteString(imageText(img))
			}
		case s.Code:
			b.WriteString("`" + s.Text + "`")
		default:
			b.WriteString(s.Text)
		}
		if s.Link != "" && (i+1 == len(spans) || spans[i+1].Link != s.Link) && s.Text != s.Link {
			b.WriteString(" <" + s.Link + ">")
		}
	}
	return b.String()
}

func imageText(img *mdlive.Image) string {
	label := img.Alt
	if label == "" {
		label = img.Locator
	}
	snap := img.Snapshot()
	switch snap.State {
	case resource.LoadedRaster:
		return fmt.Sprintf("[image: %s %dx%d]", label, snap.Width, snap.Height)
	case resource.LoadedVector:
		return fmt.Sprintf("[svg: %s]", label)
	case resource.Unsupported:
		return fmt.Sprintf("[image unavailable: %s]", label)
	default:
		return fmt.Sprintf("[image: %s]", label)
	}
}

// View is an mdlive.Host that lays documents out as text. Every shown
// document is also written to out when it is non-nil.
type View struct {
	mu     sync.Mutex
	out    io.Writer
	width  int
	page   *Page
	offset int
	layout *layout
}

// NewView returns a view of width columns writing to out, which may be nil.
func NewView(out io.Writer, width int) *View {
	if width <= 0 {
		width = DefaultWidth
	}
	return &View{out: out, width: width}
}

func (v *View) Show(doc *mdlive.Document) {
	v.mu.Lock()
	defer v.mu.Unlock()
	engines := make(map[string]*grid.Engine)
	if v.layout != nil {
		engines = v.layout.engines
	}
	v.layout = &layout{anchors: make(map[string]int), engines: engines}
	v.page = v.layout.page(doc, v.width)
	if v.offset >= len(v.page.Lines) {
		v.offset = 0
	}
	if v.out != nil {
		_, _ = io.WriteString(v.out, v.page.String())
	}
}

func (v *View) ScrollTo(anchor string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page == nil {
		return
	}
	if line, ok := v.page.Anchors[anchor]; ok {
		v.offset = line
	}
}

// Page returns the latest page, or nil before the first Show.
func (v *View) Page() *Page {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// Visible returns up to height lines starting at the scroll offset.
func (v *View) Visible(height int) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page == nil {
		return nil
	}
	end := min(v.offset+height, len(v.page.Lines))
	return v.page.Lines[v.offset:end]
}

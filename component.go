package mdlive

import (
	"image/color"

	"github.com/arran4/mdlive/grid"
	"github.com/arran4/mdlive/resource"
)

// ComponentKind tags the closed set of components a renderer produces.
type ComponentKind int

const (
	KindHeading ComponentKind = iota
	KindParagraph
	KindCodeBlock
	KindBlockQuote
	KindList
	KindTable
	KindImage
	KindLiteral
	KindThematicBreak
	KindCustom
)

func (k ComponentKind) String() string {
	switch k {
	case KindHeading:
		return "heading"
	case KindParagraph:
		return "paragraph"
	case KindCodeBlock:
		return "code-block"
	case KindBlockQuote:
		return "block-quote"
	case KindList:
		return "list"
	case KindTable:
		return "table"
	case KindImage:
		return "image"
	case KindLiteral:
		return "literal"
	case KindThematicBreak:
		return "thematic-break"
	default:
		return "custom"
	}
}

// Component is one renderable block. Hosts switch on Kind and type-assert.
// Components returned by directive providers may report KindCustom.
type Component interface {
	Kind() ComponentKind
}

// Span is a run of inline content with uniform formatting.
type Span struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
	Strike bool
	Link   string
	Break  bool      // hard line break; Text is empty
	Embed  Component // inline image; Text holds the alt text
}

// PlainText concatenates the text of spans, rendering breaks as newlines.
func PlainText(spans []Span) string {
	var n int
	for _, s := range spans {
		n += len(s.Text) + 1
	}
	b := make([]byte, 0, n)
	for _, s := range spans {
		if s.Break {
			b = append(b, '\n')
			continue
		}
		b = append(b, s.Text...)
	}
	return string(b)
}

// Editable marks the source bytes a text-bearing component was rendered
// from. It is set only when the renderer runs with RoleEditor.
type Editable struct {
	ID    string
	Range SourceRange
	Start int
	Stop  int
}

type Heading struct {
	Level int
	Type  TextType
	Spans []Span
	Range *SourceRange
	Edit  *Editable
}

func (*Heading) Kind() ComponentKind { return KindHeading }

// Anchor is the scroll target for the heading.
func (h *Heading) Anchor() string {
	if h.Range == nil {
		return ""
	}
	return h.Range.String()
}

type Paragraph struct {
	Type  TextType
	Spans []Span
	Range *SourceRange
	Edit  *Editable
}

func (*Paragraph) Kind() ComponentKind { return KindParagraph }

// StyledRun is a run of highlighted code.
type StyledRun struct {
	Text     string
	Color    color.RGBA
	HasColor bool
	Bold     bool
	Italic   bool
}

// CodeBlock holds code split into lines. Lines is always populated: when no
// highlighter is configured or highlighting fails each line is one unstyled
// run.
type CodeBlock struct {
	Language string
	Theme    string
	Code     string
	Lines    [][]StyledRun
	Styled   bool
	Range    *SourceRange
	Edit     *Editable
}

func (*CodeBlock) Kind() ComponentKind { return KindCodeBlock }

type BlockQuote struct {
	Blocks []Component
	Range  *SourceRange
}

func (*BlockQuote) Kind() ComponentKind { return KindBlockQuote }

type ListItem struct {
	Marker  string
	Checked *bool // task list state, nil for plain items
	Blocks  []Component
}

type List struct {
	Ordered bool
	Start   int
	Items   []ListItem
	Range   *SourceRange
}

func (*List) Kind() ComponentKind { return KindList }

// Table is a grid layout instruction. Cell content is keyed by cell id; the
// host measures cells and runs the grid layout engine on Grid.
type Table struct {
	ID         string
	Grid       grid.Grid
	Cells      map[string][]Span
	HeaderRows int
	Range      *SourceRange
}

func (*Table) Kind() ComponentKind { return KindTable }

// CellType returns the text type for cells in row.
func (t *Table) CellType(row int) TextType {
	if row < t.HeaderRows {
		return TextTableHeader
	}
	return TextTableBody
}

// Image is a resource-backed picture. Loader reports the loading state; it is
// nil for images a provider resolved without a loader, and for pooled images
// until their document is applied.
type Image struct {
	ID      string
	Locator string
	Alt     string
	Title   string
	Loader  *resource.Loader
	Range   *SourceRange

	pool *resource.Pool // set by providers that load through a session pool
}

func (*Image) Kind() ComponentKind { return KindImage }

// Snapshot returns the current loading state of the image.
func (i *Image) Snapshot() resource.Snapshot {
	if i.Loader == nil {
		return resource.Snapshot{Locator: i.Locator, State: resource.Pending}
	}
	return i.Loader.Snapshot()
}

// LiteralBlock is verbatim text. It is the fallback for directives with no
// registered provider and for raw HTML blocks.
type LiteralBlock struct {
	Text  string
	Range *SourceRange
	Edit  *Editable
}

func (*LiteralBlock) Kind() ComponentKind { return KindLiteral }

type ThematicBreak struct {
	Range *SourceRange
}

func (*ThematicBreak) Kind() ComponentKind { return KindThematicBreak }

// Diagnostic is a non-fatal problem met while rendering.
type Diagnostic struct {
	Range   *SourceRange
	Message string
}

// Document is the result of one render pass.
type Document struct {
	Source      []byte
	Generation  uint64
	Config      Config
	Blocks      []Component
	TOC         []TOCItem
	Regions     []Editable
	Diagnostics []Diagnostic
}

// RegionText returns the current source text of region r.
func (d *Document) RegionText(r Editable) string {
	if r.Start < 0 || r.Stop > len(d.Source) || r.Start > r.Stop {
		return ""
	}
	return string(d.Source[r.Start:r.Stop])
}

// Region returns the editable region with id.
func (d *Document) Region(id string) (Editable, bool) {
	for _, r := range d.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Editable{}, false
}

// AcquireLoaders points the pooled loader of every image at its locator and
// returns the ids it acquired. Rendering never touches loaders; only the
// document being applied does, so a superseded render cannot redirect them.
func (d *Document) AcquireLoaders() map[string]bool {
	ids := make(map[string]bool)
	for _, img := range d.Images() {
		if img.pool == nil {
			continue
		}
		img.Loader = img.pool.Acquire(img.ID, img.Locator)
		ids[img.ID] = true
	}
	return ids
}

// Images returns every image component in document order, including inline
// images and images nested in quotes, lists and tables.
func (d *Document) Images() []*Image {
	var out []*Image
	var visitSpans func([]Span)
	var visit func([]Component)
	visitSpans = func(spans []Span) {
		for _, s := range spans {
			if img, ok := s.Embed.(*Image); ok {
				out = append(out, img)
			}
		}
	}
	visit = func(blocks []Component) {
		for _, b := range blocks {
			switch c := b.(type) {
			case *Image:
				out = append(out, c)
			case *Heading:
				visitSpans(c.Spans)
			case *Paragraph:
				visitSpans(c.Spans)
			case *BlockQuote:
				visit(c.Blocks)
			case *List:
				for _, it := range c.Items {
					visit(it.Blocks)
				}
			case *Table:
				for _, row := range c.Grid.Rows {
					for _, cell := range row.Cells {
						visitSpans(c.Cells[cell.ID])
					}
				}
			}
		}
	}
	visit(d.Blocks)
	return out
}

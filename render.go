package mdlive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/arran4/mdlive/grid"
	"github.com/arran4/mdlive/resource"
)

// nodeKind is the closed set of parser nodes the renderer distinguishes.
type nodeKind int

const (
	nodeDocument nodeKind = iota
	nodeHeading
	nodeParagraph
	nodeTextBlock
	nodeImage
	nodeCodeBlock
	nodeBlockQuote
	nodeList
	nodeListItem
	nodeTable
	nodeDirective
	nodeThematicBreak
	nodeHTMLBlock
	nodeInline
	nodeUnknown
)

func kindOf(n ast.Node) nodeKind {
	switch n.(type) {
	case *ast.Document:
		return nodeDocument
	case *ast.Heading:
		return nodeHeading
	case *ast.Paragraph:
		return nodeParagraph
	case *ast.TextBlock:
		return nodeTextBlock
	case *ast.Image:
		return nodeImage
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return nodeCodeBlock
	case *ast.Blockquote:
		return nodeBlockQuote
	case *ast.List:
		return nodeList
	case *ast.ListItem:
		return nodeListItem
	case *east.Table:
		return nodeTable
	case *DirectiveNode:
		return nodeDirective
	case *ast.ThematicBreak:
		return nodeThematicBreak
	case *ast.HTMLBlock:
		return nodeHTMLBlock
	}
	if n.Type() == ast.TypeInline {
		return nodeInline
	}
	return nodeUnknown
}

// NewParser returns the goldmark instance used for rendering: GFM plus
// directive blocks.
func NewParser() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM, DirectiveExtension),
	)
}

// Parse parses source with NewParser.
func Parse(source []byte) ast.Node {
	return NewParser().Parser().Parse(text.NewReader(source))
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithHighlighter sets the code highlighter. Without one code blocks are
// unstyled.
func WithHighlighter(h Highlighter) RendererOption {
	return func(r *Renderer) { r.highlighter = h }
}

// WithRendererLogger sets the logger diagnostics are written to.
func WithRendererLogger(log *slog.Logger) RendererOption {
	return func(r *Renderer) {
		if log != nil {
			r.log = log
		}
	}
}

// WithImagePool sets the loader pool used by the relative image fallback.
func WithImagePool(p *resource.Pool) RendererOption {
	return func(r *Renderer) { r.pool = p }
}

// Renderer turns markdown source into a Document. It holds a copy of its
// Config; render with a new Renderer to change configuration. Render is safe
// for concurrent use.
type Renderer struct {
	cfg         Config
	images      *ImageRegistry
	directives  *DirectiveRegistry
	highlighter Highlighter
	pool        *resource.Pool
	log         *slog.Logger
	md          goldmark.Markdown
}

// NewRenderer returns a renderer. Nil registries are replaced by empty ones.
func NewRenderer(cfg Config, images *ImageRegistry, directives *DirectiveRegistry, opts ...RendererOption) *Renderer {
	r := &Renderer{
		cfg:        cfg,
		images:     images,
		directives: directives,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		md:         NewParser(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.images == nil {
		r.images = NewImageRegistry(r.pool)
	}
	if r.directives == nil {
		r.directives = NewDirectiveRegistry()
	}
	return r
}

// Config returns the renderer's configuration.
func (r *Renderer) Config() Config { return r.cfg }

// Render parses source and builds its Document. It never fails: nodes that
// cannot be rendered are skipped and noted in Document.Diagnostics. A
// canceled ctx stops rendering early and returns what was built so far.
func (r *Renderer) Render(ctx context.Context, source []byte) *Document {
	root := r.md.Parser().Parse(text.NewReader(source))
	return r.RenderNode(ctx, root, source)
}

// RenderNode builds the Document for an already parsed tree.
func (r *Renderer) RenderNode(ctx context.Context, root ast.Node, source []byte) *Document {
	p := &pass{
		r:   r,
		ctx: ctx,
		src: source,
		li:  newLineIndex(source),
		doc: &Document{Source: source, Config: r.cfg},
	}
	if root != nil {
		p.doc.Blocks = p.children(root, TextBody, true)
		p.doc.TOC = ExtractTOC(root, source)
	}
	return p.doc
}

// pass holds the state of one render.
type pass struct {
	r   *Renderer
	ctx context.Context
	src []byte
	li  *lineIndex
	doc *Document

	images  int
	tables  int
	regions int
}

func (p *pass) diag(rng *SourceRange, format string, args ...any) {
	d := Diagnostic{Range: rng, Message: fmt.Sprintf(format, args...)}
	p.doc.Diagnostics = append(p.doc.Diagnostics, d)
	if rng != nil {
		p.r.log.Warn("render", "range", rng.String(), "problem", d.Message)
	} else {
		p.r.log.Warn("render", "problem", d.Message)
	}
}

func (p *pass) children(parent ast.Node, tt TextType, top bool) []Component {
	var out []Component
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if top {
			if err := p.ctx.Err(); err != nil {
				p.diag(nil, "render stopped: %v", err)
				break
			}
		}
		out = append(out, p.block(c, tt)...)
	}
	return out
}

func (p *pass) block(n ast.Node, tt TextType) []Component {
	switch kindOf(n) {
	case nodeDocument, nodeListItem:
		return p.children(n, tt, false)
	case nodeHeading:
		h := n.(*ast.Heading)
		return []Component{&Heading{
			Level: h.Level,
			Type:  HeadingText(h.Level),
			Spans: p.spans(h),
			Range: p.li.rangeOfNode(h),
			Edit:  p.editable(h),
		}}
	case nodeParagraph, nodeTextBlock:
		if img, ok := soleImage(n); ok {
			return []Component{p.image(img)}
		}
		spans := p.spans(n)
		if len(spans) == 0 {
			return nil
		}
		return []Component{&Paragraph{
			Type:  tt,
			Spans: spans,
			Range: p.li.rangeOfNode(n),
			Edit:  p.editable(n),
		}}
	case nodeImage:
		return []Component{p.image(n.(*ast.Image))}
	case nodeCodeBlock:
		return []Component{p.codeBlock(n)}
	case nodeBlockQuote:
		return []Component{&BlockQuote{
			Blocks: p.children(n, TextBlockQuote, false),
			Range:  p.li.rangeOfNode(n),
		}}
	case nodeList:
		return []Component{p.list(n.(*ast.List), tt)}
	case nodeTable:
		return []Component{p.table(n.(*east.Table))}
	case nodeDirective:
		return []Component{p.directive(n.(*DirectiveNode))}
	case nodeThematicBreak:
		return []Component{&ThematicBreak{Range: p.li.rangeOfNode(n)}}
	case nodeHTMLBlock:
		return []Component{p.htmlBlock(n.(*ast.HTMLBlock))}
	case nodeInline:
		spans := p.inlineSpans(n)
		if len(spans) == 0 {
			return nil
		}
		return []Component{&Paragraph{Type: tt, Spans: spans, Range: p.li.rangeOfNode(n)}}
	default:
		rng := p.li.rangeOfNode(n)
		p.diag(rng, "unsupported node %s", n.Kind())
		if n.HasChildren() {
			return p.children(n, tt, false)
		}
		return nil
	}
}

// editable returns the write-back region for n when editing is enabled.
func (p *pass) editable(n ast.Node) *Editable {
	if p.r.cfg.Role != RoleEditor {
		return nil
	}
	start, stop, ok := nodeSpan(n)
	if !ok {
		return nil
	}
	return p.editableSpan(start, stop)
}

func (p *pass) editableSpan(start, stop int) *Editable {
	if p.r.cfg.Role != RoleEditor {
		return nil
	}
	e := Editable{
		ID:    fmt.Sprintf("r%d", p.regions),
		Range: p.li.rangeOf(start, stop),
		Start: start,
		Stop:  stop,
	}
	p.regions++
	p.doc.Regions = append(p.doc.Regions, e)
	return &e
}

func soleImage(n ast.Node) (*ast.Image, bool) {
	if n.ChildCount() != 1 {
		return nil, false
	}
	img, ok := n.FirstChild().(*ast.Image)
	return img, ok
}

func (p *pass) image(n *ast.Image) Component {
	locator := strings.TrimSpace(string(n.Destination))
	req := ImageRequest{
		ID:      fmt.Sprintf("img-%d", p.images),
		Locator: locator,
		Alt:     plainInlineText(n, p.src),
		Title:   string(n.Title),
		Range:   p.li.rangeOfNode(n),
	}
	p.images++
	if scheme := resource.Scheme(locator); scheme != "" {
		if prov, ok := p.r.images.Resolve(scheme); ok {
			if c := prov.Image(req); c != nil {
				return c
			}
			p.diag(req.Range, "image provider for %q returned nothing", scheme)
		} else {
			p.r.log.Debug("no image provider, using relative fallback", "scheme", scheme, "locator", locator)
		}
	}
	return RelativeImageProvider{Base: p.r.cfg.BaseURL, Pool: p.r.pool}.Image(req)
}

func (p *pass) codeBlock(n ast.Node) Component {
	var lang string
	if f, ok := n.(*ast.FencedCodeBlock); ok {
		lang = string(f.Language(p.src))
	}
	code := linesText(n, p.src)
	cb := &CodeBlock{
		Language: lang,
		Theme:    p.r.cfg.CodeThemeName(),
		Code:     code,
		Lines:    plainLines(code),
		Range:    p.li.rangeOfNode(n),
		Edit:     p.editable(n),
	}
	if p.r.highlighter != nil && lang != "" {
		lines, err := p.r.highlighter.Highlight(p.ctx, code, lang, cb.Theme)
		if err != nil {
			p.diag(cb.Range, "highlight %s: %v", lang, err)
		} else {
			cb.Lines, cb.Styled = lines, true
		}
	}
	return cb
}

func linesText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func (p *pass) list(l *ast.List, tt TextType) Component {
	out := &List{Ordered: l.IsOrdered(), Start: l.Start, Range: p.li.rangeOfNode(l)}
	num := l.Start
	for c := l.FirstChild(); c != nil; c = c.NextSibling() {
		li, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		item := ListItem{Marker: p.r.cfg.Bullet, Checked: taskState(li)}
		if out.Ordered {
			item.Marker = fmt.Sprintf("%d%c", num, l.Marker)
			num++
		}
		item.Blocks = p.children(li, tt, false)
		if item.Checked != nil && len(item.Blocks) > 0 {
			if para, ok := item.Blocks[0].(*Paragraph); ok && len(para.Spans) > 0 {
				para.Spans[0].Text = strings.TrimLeft(para.Spans[0].Text, " \t")
			}
		}
		out.Items = append(out.Items, item)
	}
	return out
}

func taskState(li *ast.ListItem) *bool {
	first := li.FirstChild()
	if first == nil {
		return nil
	}
	if box, ok := first.FirstChild().(*east.TaskCheckBox); ok {
		checked := box.IsChecked
		return &checked
	}
	return nil
}

func (p *pass) table(t *east.Table) Component {
	id := fmt.Sprintf("t%d", p.tables)
	p.tables++
	out := &Table{ID: id, Cells: make(map[string][]Span), Range: p.li.rangeOfNode(t)}
	row := 0
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		var gr grid.Row
		col := 0
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			cell, ok := c.(*east.TableCell)
			if !ok {
				continue
			}
			cid := fmt.Sprintf("%s-r%d-c%d", id, row, col)
			spans := p.spans(cell)
			out.Cells[cid] = spans
			gr.Cells = append(gr.Cells, grid.Cell{
				ID:    cid,
				Align: cellAlignment(cell.Alignment),
				Text:  PlainText(spans),
			})
			col++
		}
		if _, ok := r.(*east.TableHeader); ok {
			out.HeaderRows++
		}
		out.Grid.Rows = append(out.Grid.Rows, gr)
		row++
	}
	return out
}

func cellAlignment(a east.Alignment) grid.Alignment {
	switch a {
	case east.AlignLeft:
		return grid.AlignLeft
	case east.AlignCenter:
		return grid.AlignCenter
	case east.AlignRight:
		return grid.AlignRight
	default:
		return grid.AlignNone
	}
}

func (p *pass) directive(n *DirectiveNode) Component {
	start, stop := n.Span()
	rng := p.li.rangeOf(start, stop)
	inner := n.Inner(p.src)
	if !n.Closed {
		p.diag(&rng, "directive %q has no closing fence", n.Name)
	}
	if prov, ok := p.r.directives.Resolve(n.Name); ok {
		args := append([]DirectiveArgument(nil), n.Args...)
		if c := prov.Directive(args, inner); c != nil {
			return c
		}
		p.diag(&rng, "directive provider %q returned nothing", n.Name)
	}
	return &LiteralBlock{Text: inner, Range: &rng, Edit: p.editableSpan(start, stop)}
}

func (p *pass) htmlBlock(n *ast.HTMLBlock) Component {
	txt := linesText(n, p.src)
	if n.HasClosure() {
		txt += string(n.ClosureLine.Value(p.src))
	}
	return &LiteralBlock{
		Text:  strings.TrimRight(txt, "\n"),
		Range: p.li.rangeOfNode(n),
		Edit:  p.editable(n),
	}
}

type spanStyle struct {
	bold, italic, code, strike bool
	link                       string
}

func (s spanStyle) span(text string) Span {
	return Span{Text: text, Bold: s.bold, Italic: s.italic, Code: s.code, Strike: s.strike, Link: s.link}
}

// spans flattens the inline children of n.
func (p *pass) spans(n ast.Node) []Span {
	var out []Span
	p.collectSpans(n, spanStyle{}, &out)
	return out
}

func (p *pass) inlineSpans(n ast.Node) []Span {
	var out []Span
	p.collectSpan(n, spanStyle{}, &out)
	return out
}

func (p *pass) collectSpans(n ast.Node, st spanStyle, out *[]Span) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		p.collectSpan(c, st, out)
	}
}

func (p *pass) collectSpan(c ast.Node, st spanStyle, out *[]Span) {
	switch v := c.(type) {
	case *ast.Text:
		if s := string(v.Value(p.src)); s != "" {
			*out = append(*out, st.span(s))
		}
		if v.HardLineBreak() {
			*out = append(*out, Span{Break: true})
		} else if v.SoftLineBreak() {
			*out = append(*out, st.span(" "))
		}
	case *ast.String:
		if len(v.Value) > 0 {
			*out = append(*out, st.span(string(v.Value)))
		}
	case *ast.CodeSpan:
		code := st
		code.code = true
		if s := plainInlineText(v, p.src); s != "" {
			*out = append(*out, code.span(s))
		}
	case *ast.Emphasis:
		next := st
		if v.Level >= 2 {
			next.bold = true
		} else {
			next.italic = true
		}
		p.collectSpans(v, next, out)
	case *east.Strikethrough:
		next := st
		next.strike = true
		p.collectSpans(v, next, out)
	case *ast.Link:
		next := st
		next.link = string(v.Destination)
		p.collectSpans(v, next, out)
	case *ast.AutoLink:
		next := st
		next.link = string(v.URL(p.src))
		label := string(v.Label(p.src))
		if label == "" {
			label = next.link
		}
		*out = append(*out, next.span(label))
	case *ast.Image:
		comp := p.image(v)
		alt := plainInlineText(v, p.src)
		*out = append(*out, Span{Text: alt, Embed: comp})
	case *ast.RawHTML:
		var b strings.Builder
		for i := 0; i < v.Segments.Len(); i++ {
			seg := v.Segments.At(i)
			b.Write(seg.Value(p.src))
		}
		if b.Len() > 0 {
			*out = append(*out, st.span(b.String()))
		}
	case *east.TaskCheckBox:
	default:
		p.collectSpans(c, st, out)
	}
}

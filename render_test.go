package mdlive

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/yuin/goldmark/ast"

	"github.com/arran4/mdlive/grid"
)

func TestRenderBlocks(t *testing.T) {
	src := "# Title\n\nSome **bold** and _it_ with `code` and ~~gone~~.\n\n> quoted\n\n1. one\n2. two\n\n- [x] done\n- [ ] todo\n\n---\n"
	doc := NewRenderer(DefaultConfig(), nil, nil).Render(context.Background(), []byte(src))

	kinds := make([]ComponentKind, len(doc.Blocks))
	for i, b := range doc.Blocks {
		kinds[i] = b.Kind()
	}
	want := []ComponentKind{KindHeading, KindParagraph, KindBlockQuote, KindList, KindList, KindThematicBreak}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}

	h := doc.Blocks[0].(*Heading)
	if h.Level != 1 || h.Type != TextH1 || PlainText(h.Spans) != "Title" {
		t.Fatalf("heading = %+v", h)
	}

	p := doc.Blocks[1].(*Paragraph)
	var bold, italic, code, strike bool
	for _, s := range p.Spans {
		bold = bold || (s.Bold && s.Text == "bold")
		italic = italic || (s.Italic && s.Text == "it")
		code = code || (s.Code && s.Text == "code")
		strike = strike || (s.Strike && s.Text == "gone")
	}
	if !bold || !italic || !code || !strike {
		t.Fatalf("formatting lost: %+v", p.Spans)
	}

	q := doc.Blocks[2].(*BlockQuote)
	if qp, ok := q.Blocks[0].(*Paragraph); !ok || qp.Type != TextBlockQuote {
		t.Fatalf("quote content = %#v", q.Blocks[0])
	}

	ordered := doc.Blocks[3].(*List)
	if !ordered.Ordered || ordered.Items[1].Marker != "2." {
		t.Fatalf("ordered list = %+v", ordered)
	}
	tasks := doc.Blocks[4].(*List)
	if tasks.Items[0].Checked == nil || !*tasks.Items[0].Checked || *tasks.Items[1].Checked {
		t.Fatalf("task states wrong")
	}
	if tasks.Items[0].Marker != "•" {
		t.Fatalf("bullet = %q", tasks.Items[0].Marker)
	}
	first := tasks.Items[0].Blocks[0].(*Paragraph)
	if PlainText(first.Spans) != "done" {
		t.Fatalf("task text = %q", PlainText(first.Spans))
	}
}

func TestRenderTableGrid(t *testing.T) {
	src := "| a | bb |\n|---|---:|\n| 1 | 2 |\n| 3 |\n"
	doc := NewRenderer(DefaultConfig(), nil, nil).Render(context.Background(), []byte(src))
	tbl, ok := doc.Blocks[0].(*Table)
	if !ok {
		t.Fatalf("block is %T", doc.Blocks[0])
	}
	if tbl.ID != "t0" || tbl.HeaderRows != 1 || len(tbl.Grid.Rows) != 3 {
		t.Fatalf("table = %+v", tbl)
	}
	if id := tbl.Grid.Rows[1].Cells[1].ID; id != "t0-r1-c1" {
		t.Fatalf("cell id = %q", id)
	}
	if tbl.Grid.Rows[0].Cells[1].Align != grid.AlignRight {
		t.Fatalf("alignment = %v", tbl.Grid.Rows[0].Cells[1].Align)
	}
	if PlainText(tbl.Cells["t0-r0-c1"]) != "bb" {
		t.Fatalf("header cell = %+v", tbl.Cells["t0-r0-c1"])
	}
	if tbl.CellType(0) != TextTableHeader || tbl.CellType(1) != TextTableBody {
		t.Fatalf("cell types wrong")
	}

	widths := grid.Layout(tbl.Grid.ColumnCount(), grid.Measure(tbl.Grid, grid.RuneWidthMeasurer{}), 10)
	if len(widths) != 2 {
		t.Fatalf("widths = %v", widths)
	}
}

func TestRenderCodeBlock(t *testing.T) {
	src := "```go\npackage main\n\nfunc main() {}\n```\n\n```nosuchlang\nx\n```\n\n    indented\n"

	plain := NewRenderer(DefaultConfig(), nil, nil).Render(context.Background(), []byte(src))
	cb := plain.Blocks[0].(*CodeBlock)
	if cb.Language != "go" || cb.Theme != "github" || cb.Styled {
		t.Fatalf("code block = %+v", cb)
	}
	if len(cb.Lines) != 3 || cb.Lines[0][0].Text != "package main" || cb.Lines[1] != nil {
		t.Fatalf("plain lines = %+v", cb.Lines)
	}
	if ind := plain.Blocks[2].(*CodeBlock); ind.Code != "indented\n" || ind.Language != "" {
		t.Fatalf("indented block = %+v", ind)
	}

	dark := DarkConfig()
	styled := NewRenderer(dark, nil, nil, WithHighlighter(ChromaHighlighter{})).Render(context.Background(), []byte(src))
	cb = styled.Blocks[0].(*CodeBlock)
	if !cb.Styled || cb.Theme != "monokai" {
		t.Fatalf("expected styled monokai block: %+v", cb)
	}
	if len(cb.Lines) != 3 {
		t.Fatalf("styled lines = %d, want 3", len(cb.Lines))
	}
	var line strings.Builder
	colored := false
	for _, run := range cb.Lines[0] {
		line.WriteString(run.Text)
		colored = colored || run.HasColor
	}
	if line.String() != "package main" || !colored {
		t.Fatalf("first line = %q colored=%v", line.String(), colored)
	}

	unknown := styled.Blocks[1].(*CodeBlock)
	if unknown.Styled || len(unknown.Lines) != 1 {
		t.Fatalf("unknown language should stay unstyled: %+v", unknown)
	}
	if len(styled.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v", styled.Diagnostics)
	}
}

func TestRenderDegradesOnEmptyInput(t *testing.T) {
	r := NewRenderer(DefaultConfig(), nil, nil)
	for _, src := range []string{"", "\n\n", "<div>\nraw\n</div>\n"} {
		doc := r.Render(context.Background(), []byte(src))
		if doc == nil {
			t.Fatalf("nil document for %q", src)
		}
	}
	doc := r.Render(context.Background(), []byte("<div>\nraw\n</div>\n"))
	if lit, ok := doc.Blocks[0].(*LiteralBlock); !ok || !strings.Contains(lit.Text, "raw") {
		t.Fatalf("html block = %#v", doc.Blocks[0])
	}
}

func TestRenderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := NewRenderer(DefaultConfig(), nil, nil).Render(ctx, []byte("# a\n\nb\n"))
	if len(doc.Blocks) != 0 || len(doc.Diagnostics) != 1 {
		t.Fatalf("blocks=%d diagnostics=%+v", len(doc.Blocks), doc.Diagnostics)
	}
}

// shape flattens a parse tree into comparable node descriptions.
func shape(n ast.Node, src []byte) []string {
	var out []string
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		desc := c.Kind().String()
		switch v := c.(type) {
		case *ast.Text:
			desc += ":" + string(v.Value(src))
		case *ast.Heading:
			desc += fmt.Sprintf(":%d", v.Level)
		case *DirectiveNode:
			desc += ":" + v.Name + ":" + v.Inner(src)
		}
		out = append(out, desc)
		return ast.WalkContinue, nil
	})
	return out
}

func TestEditorRegionsRoundTrip(t *testing.T) {
	src := "# Title\n\nSome *text*\nacross lines.\n\n```go\nx := 1\n```\n\n:::aside a=1\ninner\n:::\n\n- item one\n- item two\n"
	cfg := DefaultConfig().WithRole(RoleEditor)
	doc := NewRenderer(cfg, nil, nil).Render(context.Background(), []byte(src))
	if len(doc.Regions) < 5 {
		t.Fatalf("regions = %+v", doc.Regions)
	}
	h := doc.Blocks[0].(*Heading)
	if h.Edit == nil || doc.RegionText(*h.Edit) != "Title" {
		t.Fatalf("heading region = %+v", h.Edit)
	}

	// Writing every region back unchanged reproduces the source.
	out := src
	for i := len(doc.Regions) - 1; i >= 0; i-- {
		r := doc.Regions[i]
		out = out[:r.Start] + doc.RegionText(r) + out[r.Stop:]
	}
	if out != src {
		t.Fatalf("write-back changed source:\n%q\n%q", out, src)
	}
	a, b := shape(Parse([]byte(src)), []byte(src)), shape(Parse([]byte(out)), []byte(out))
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Fatalf("reparse differs:\n%v\n%v", a, b)
	}

	normal := NewRenderer(DefaultConfig(), nil, nil).Render(context.Background(), []byte(src))
	if len(normal.Regions) != 0 {
		t.Fatalf("normal role produced regions")
	}
}

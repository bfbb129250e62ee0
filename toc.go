package mdlive

import (
	"strings"

	"github.com/yuin/goldmark/ast"
)

// TOCItem is one heading in document order.
type TOCItem struct {
	Level int
	Range *SourceRange // nil for headings without source positions
	Text  string
}

// Anchor is the scroll target for the item, or "" when it has no range.
func (t TOCItem) Anchor() string {
	if t.Range == nil {
		return ""
	}
	return t.Range.String()
}

// ExtractTOC lists every heading under doc in the order it appears,
// including headings nested in quotes and lists. The result is flat.
func ExtractTOC(doc ast.Node, source []byte) []TOCItem {
	if doc == nil {
		return nil
	}
	li := newLineIndex(source)
	var items []TOCItem
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			items = append(items, TOCItem{
				Level: h.Level,
				Range: li.rangeOfNode(h),
				Text:  plainInlineText(h, source),
			})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return items
}

// plainInlineText returns the text of n's inline descendants with
// formatting dropped.
func plainInlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.AutoLink:
			b.Write(v.Label(source))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

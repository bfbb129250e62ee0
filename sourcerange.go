package mdlive

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Position is a 1-based line and column (in runes) in the source text.
type Position struct {
	Line   int
	Column int
}

// SourceRange is the span of source text a node or component came from.
type SourceRange struct {
	Start Position
	End   Position
}

// String renders the range as "line:col-line:col". It is the anchor id used
// to scroll to the range.
func (r SourceRange) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line, r.Start.Column, r.End.Line, r.End.Column)
}

// lineIndex maps byte offsets to positions.
type lineIndex struct {
	src    []byte
	starts []int
}

func newLineIndex(src []byte) *lineIndex {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{src: src, starts: starts}
}

func (li *lineIndex) position(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(li.src) {
		offset = len(li.src)
	}
	line := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	col := utf8.RuneCount(li.src[li.starts[line]:offset]) + 1
	return Position{Line: line + 1, Column: col}
}

func (li *lineIndex) rangeOf(start, stop int) SourceRange {
	return SourceRange{Start: li.position(start), End: li.position(stop)}
}

// nodeSpan returns the smallest byte span covering n and its descendants.
func nodeSpan(n ast.Node) (start, stop int, ok bool) {
	start, stop = -1, -1
	widen := func(s text.Segment) {
		if s.Start > s.Stop {
			return
		}
		if start < 0 || s.Start < start {
			start = s.Start
		}
		if s.Stop > stop {
			stop = s.Stop
		}
	}
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if c.Type() == ast.TypeBlock {
			lines := c.Lines()
			for i := 0; i < lines.Len(); i++ {
				widen(lines.At(i))
			}
		}
		if t, ok := c.(*ast.Text); ok {
			widen(t.Segment)
		}
		return ast.WalkContinue, nil
	})
	if start < 0 {
		return 0, 0, false
	}
	return start, stop, true
}

// rangeOfNode returns the source range of n, or nil when n carries no
// source positions (synthetic content).
func (li *lineIndex) rangeOfNode(n ast.Node) *SourceRange {
	start, stop, ok := nodeSpan(n)
	if !ok {
		return nil
	}
	r := li.rangeOf(start, stop)
	return &r
}

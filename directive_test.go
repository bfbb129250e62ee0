package mdlive

import (
	"context"
	"reflect"
	"testing"
)

type noteBlock struct {
	args []DirectiveArgument
	text string
}

func (*noteBlock) Kind() ComponentKind { return KindCustom }

func TestDirectiveResolvedByProvider(t *testing.T) {
	directives := NewDirectiveRegistry()
	directives.Register("note", DirectiveProviderFunc(func(args []DirectiveArgument, text string) Component {
		return &noteBlock{args: args, text: text}
	}))
	r := NewRenderer(DefaultConfig(), nil, directives)
	src := ":::note title=\"Hi there\" level=2\nline one\n\nline *two*\n:::\n\nafter\n"
	doc := r.Render(context.Background(), []byte(src))

	if len(doc.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(doc.Blocks))
	}
	note, ok := doc.Blocks[0].(*noteBlock)
	if !ok {
		t.Fatalf("first block is %T", doc.Blocks[0])
	}
	wantArgs := []DirectiveArgument{{"title", "Hi there"}, {"level", "2"}}
	if !reflect.DeepEqual(note.args, wantArgs) {
		t.Fatalf("args = %+v, want %+v", note.args, wantArgs)
	}
	if note.text != "line one\n\nline *two*" {
		t.Fatalf("inner text = %q", note.text)
	}
	if p, ok := doc.Blocks[1].(*Paragraph); !ok || PlainText(p.Spans) != "after" {
		t.Fatalf("second block = %#v", doc.Blocks[1])
	}
	if len(doc.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", doc.Diagnostics)
	}
}

func TestUnregisteredDirectiveRendersLiteral(t *testing.T) {
	r := NewRenderer(DefaultConfig(), nil, nil)
	doc := r.Render(context.Background(), []byte(":::warning x=1\nkeep *this*   verbatim\n  indented\n:::\n"))
	if len(doc.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(doc.Blocks))
	}
	lit, ok := doc.Blocks[0].(*LiteralBlock)
	if !ok {
		t.Fatalf("block is %T, want *LiteralBlock", doc.Blocks[0])
	}
	if lit.Text != "keep *this*   verbatim\n  indented" {
		t.Fatalf("literal = %q", lit.Text)
	}
	if lit.Range == nil || lit.Range.Start.Line != 1 || lit.Range.End.Line != 4 {
		t.Fatalf("range = %v", lit.Range)
	}
}

func TestUnclosedDirective(t *testing.T) {
	r := NewRenderer(DefaultConfig(), nil, nil)
	doc := r.Render(context.Background(), []byte("# T\n\n:::box\nabc\n"))
	if len(doc.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(doc.Blocks))
	}
	lit, ok := doc.Blocks[1].(*LiteralBlock)
	if !ok || lit.Text != "abc" {
		t.Fatalf("second block = %#v", doc.Blocks[1])
	}
	if len(doc.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v, want one", doc.Diagnostics)
	}
}

func TestBareFenceIsNotADirective(t *testing.T) {
	r := NewRenderer(DefaultConfig(), nil, nil)
	doc := r.Render(context.Background(), []byte(":::\n"))
	if len(doc.Blocks) != 1 {
		t.Fatalf("blocks = %d", len(doc.Blocks))
	}
	if p, ok := doc.Blocks[0].(*Paragraph); !ok || PlainText(p.Spans) != ":::" {
		t.Fatalf("block = %#v", doc.Blocks[0])
	}
}

func TestParseDirectiveArguments(t *testing.T) {
	tests := []struct {
		in   string
		want []DirectiveArgument
	}{
		{"", nil},
		{"a=1", []DirectiveArgument{{"a", "1"}}},
		{"  a=1   b=two ", []DirectiveArgument{{"a", "1"}, {"b", "two"}}},
		{`t="x y" flag`, []DirectiveArgument{{"t", "x y"}, {"flag", ""}}},
		{`q="say \"hi\""`, []DirectiveArgument{{"q", `say "hi"`}}},
		{`e=`, []DirectiveArgument{{"e", ""}}},
	}
	for _, tt := range tests {
		got := ParseDirectiveArguments(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseDirectiveArguments(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if v, ok := Argument([]DirectiveArgument{{"a", "1"}}, "a"); !ok || v != "1" {
		t.Errorf("Argument lookup failed")
	}
}

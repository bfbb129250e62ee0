package mdlive

import (
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindDirective is the node kind of a directive block.
var KindDirective = ast.NewNodeKind("Directive")

// DirectiveNode is a fenced directive block:
//
//	:::name key=value title="quoted value"
//	inner text
//	:::
//
// The inner lines are kept raw. A block with no closing fence runs to the end
// of its container.
type DirectiveNode struct {
	ast.BaseBlock
	Name   string
	Args   []DirectiveArgument
	Closed bool

	start, stop int
}

func (n *DirectiveNode) Kind() ast.NodeKind { return KindDirective }

func (n *DirectiveNode) IsRaw() bool { return true }

func (n *DirectiveNode) Dump(source []byte, level int) {
	kv := map[string]string{"Name": n.Name}
	for _, a := range n.Args {
		kv["Arg."+a.Name] = a.Value
	}
	ast.DumpHelper(n, source, level, kv, nil)
}

// Inner returns the verbatim text between the fences without the final line
// break.
func (n *DirectiveNode) Inner(source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimSuffix(strings.TrimSuffix(b.String(), "\n"), "\r")
}

// Span returns the byte offsets of the whole block, fences included.
func (n *DirectiveNode) Span() (start, stop int) { return n.start, n.stop }

type directiveParser struct{}

// NewDirectiveParser returns the block parser for directive blocks.
func NewDirectiveParser() parser.BlockParser { return &directiveParser{} }

func (p *directiveParser) Trigger() []byte { return []byte{':'} }

func (p *directiveParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || pos+3 > len(line) || string(line[pos:pos+3]) != ":::" {
		return nil, parser.NoChildren
	}
	name, args, ok := parseDirectiveHeader(string(line[pos+3:]))
	if !ok {
		return nil, parser.NoChildren
	}
	node := &DirectiveNode{Name: name, Args: args}
	node.start = segment.Start + pos - segment.Padding
	node.stop = segment.Stop - util.TrimRightSpaceLength(line)
	return node, parser.NoChildren
}

func (p *directiveParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	n := node.(*DirectiveNode)
	line, segment := reader.PeekLine()
	if line == nil {
		return parser.Close
	}
	if isDirectiveFence(line) {
		newline := 1
		if line[len(line)-1] != '\n' {
			newline = 0
		}
		n.Closed = true
		n.stop = segment.Stop - util.TrimRightSpaceLength(line)
		reader.Advance(segment.Stop - segment.Start - newline + segment.Padding)
		return parser.Close
	}
	seg := segment
	seg.ForceNewline = true
	n.Lines().Append(seg)
	if stop := segment.Stop - util.TrimRightSpaceLength(line); stop > n.stop {
		n.stop = stop
	}
	reader.Advance(segment.Len() - 1)
	return parser.Continue | parser.NoChildren
}

func (p *directiveParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {}

func (p *directiveParser) CanInterruptParagraph() bool { return true }

func (p *directiveParser) CanAcceptIndentedLine() bool { return false }

func isDirectiveFence(line []byte) bool {
	s := strings.TrimSpace(string(line))
	return len(s) >= 3 && strings.Trim(s, ":") == ""
}

type directiveExtension struct{}

// DirectiveExtension adds directive blocks to a goldmark parser.
var DirectiveExtension goldmark.Extender = &directiveExtension{}

func (e *directiveExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithBlockParsers(
		util.Prioritized(NewDirectiveParser(), 750),
	))
}

// parseDirectiveHeader splits "name a=1 b="two words" flag" into the name and
// its arguments. Bare words are arguments with an empty value.
func parseDirectiveHeader(header string) (string, []DirectiveArgument, bool) {
	header = strings.TrimSpace(header)
	end := strings.IndexFunc(header, unicode.IsSpace)
	if end < 0 {
		end = len(header)
	}
	name := header[:end]
	if !validDirectiveName(name) {
		return "", nil, false
	}
	return name, ParseDirectiveArguments(header[end:]), true
}

func validDirectiveName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '_' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// ParseDirectiveArguments parses whitespace separated key=value pairs.
// Values may be double quoted, with backslash escaping a quote or backslash.
func ParseDirectiveArguments(s string) []DirectiveArgument {
	var args []DirectiveArgument
	i := 0
	for i < len(s) {
		for i < len(s) && isSpaceByte(s[i]) {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		for i < len(s) && s[i] != '=' && !isSpaceByte(s[i]) {
			i++
		}
		arg := DirectiveArgument{Name: s[start:i]}
		if i < len(s) && s[i] == '=' {
			i++
			if i < len(s) && s[i] == '"' {
				var b strings.Builder
				i++
				for i < len(s) && s[i] != '"' {
					if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
						i++
					}
					b.WriteByte(s[i])
					i++
				}
				i++ // closing quote
				arg.Value = b.String()
			} else {
				vs := i
				for i < len(s) && !isSpaceByte(s[i]) {
					i++
				}
				arg.Value = s[vs:i]
			}
		}
		if arg.Name != "" {
			args = append(args, arg)
		}
	}
	return args
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Argument returns the value of the first argument called name.
func Argument(args []DirectiveArgument, name string) (string, bool) {
	for _, a := range args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

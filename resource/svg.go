package resource

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var (
	xmlProlog  = regexp.MustCompile(`(?s)<\?xml.*?\?>`)
	xmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	xmlDoctype = regexp.MustCompile(`(?is)<!DOCTYPE[^>\[]*(\[[^\]]*\])?\s*>`)
)

// DetectSVG reports whether data is vector content. It strips the XML
// prolog, comments and any DOCTYPE, then checks that what remains starts with
// an <svg> root tag. The returned markup is the remaining svg subtree.
func DetectSVG(data []byte) (string, bool) {
	s := strings.TrimPrefix(string(data), "\ufeff")
	s = xmlProlog.ReplaceAllString(s, "")
	s = xmlComment.ReplaceAllString(s, "")
	s = xmlDoctype.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if !hasSVGRoot(s) {
		return "", false
	}
	return s, true
}

func hasSVGRoot(s string) bool {
	if len(s) < 5 || !strings.EqualFold(s[:4], "<svg") {
		return false
	}
	switch s[4] {
	case ' ', '\t', '\n', '\r', '>', '/':
		return true
	}
	return false
}

const shellHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>html,body{margin:0;padding:0;background:transparent;overflow:hidden}svg{display:block;max-width:100%;height:auto}</style>
</head>
<body>
`

const shellTail = `
</body>
</html>
`

// Shell wraps svg markup in the minimal HTML document a host web view
// displays. Once shown, the host reports the computed width and height back
// through Loader.ReportVectorWidth and Loader.ReportVectorHeight.
func Shell(markup string) string {
	var b strings.Builder
	b.Grow(len(shellHead) + len(markup) + len(shellTail))
	b.WriteString(shellHead)
	b.WriteString(markup)
	b.WriteString(shellTail)
	return b.String()
}

// IntrinsicSize reads the declared size of the svg root from its width and
// height attributes, falling back to the viewBox. Hosts without a web view use
// it as their measurement.
func IntrinsicSize(markup string) (width, height float64, ok bool) {
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return 0, 0, false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "svg" {
				return 0, 0, false
			}
			var viewBox string
			for _, a := range tok.Attr {
				switch strings.ToLower(a.Key) {
				case "width":
					width = parseLength(a.Val)
				case "height":
					height = parseLength(a.Val)
				case "viewbox":
					viewBox = a.Val
				}
			}
			if (width <= 0 || height <= 0) && viewBox != "" {
				fields := strings.FieldsFunc(viewBox, func(r rune) bool { return r == ' ' || r == ',' })
				if len(fields) == 4 {
					vw := parseLength(fields[2])
					vh := parseLength(fields[3])
					switch {
					case width <= 0 && height <= 0:
						width, height = vw, vh
					case width <= 0 && vh > 0:
						width = height * vw / vh
					case height <= 0 && vw > 0:
						height = width * vh / vw
					}
				}
			}
			return width, height, width > 0 && height > 0
		}
	}
}

func parseLength(v string) float64 {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, "px")
	if strings.HasSuffix(v, "%") {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

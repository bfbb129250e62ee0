package mdlive

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter turns code into styled lines. Returning an error makes the
// renderer fall back to unstyled lines.
type Highlighter interface {
	Highlight(ctx context.Context, code, language, theme string) ([][]StyledRun, error)
}

// HighlighterFunc adapts a function to Highlighter.
type HighlighterFunc func(ctx context.Context, code, language, theme string) ([][]StyledRun, error)

func (f HighlighterFunc) Highlight(ctx context.Context, code, language, theme string) ([][]StyledRun, error) {
	return f(ctx, code, language, theme)
}

var errUnknownLanguage = errors.New("no lexer for language")

// ChromaHighlighter highlights with chroma lexers and styles.
type ChromaHighlighter struct {
	// Analyse guesses the lexer from the code when the language is empty.
	Analyse bool
}

func (h ChromaHighlighter) Highlight(ctx context.Context, code, language, theme string) ([][]StyledRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lexer chroma.Lexer
	if language != "" {
		lexer = lexers.Get(language)
	} else if h.Analyse {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		return nil, fmt.Errorf("%w %q", errUnknownLanguage, language)
	}
	lexer = chroma.Coalesce(lexer)
	style, ok := styles.Registry[strings.ToLower(theme)]
	if !ok {
		style = styles.Fallback
	}
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return nil, fmt.Errorf("tokenise %s: %w", language, err)
	}
	var out [][]StyledRun
	for _, line := range chroma.SplitTokensIntoLines(it.Tokens()) {
		runs := make([]StyledRun, 0, len(line))
		for _, tok := range line {
			v := strings.TrimSuffix(tok.Value, "\n")
			if v == "" {
				continue
			}
			entry := style.Get(tok.Type)
			run := StyledRun{
				Text:   v,
				Bold:   entry.Bold == chroma.Yes,
				Italic: entry.Italic == chroma.Yes,
			}
			if entry.Colour.IsSet() {
				run.HasColor = true
				run.Color = color.RGBA{entry.Colour.Red(), entry.Colour.Green(), entry.Colour.Blue(), 0xFF}
			}
			runs = append(runs, run)
		}
		out = append(out, runs)
	}
	return out, nil
}

// plainLines splits code into one unstyled run per line.
func plainLines(code string) [][]StyledRun {
	code = strings.TrimSuffix(code, "\n")
	if code == "" {
		return nil
	}
	lines := strings.Split(code, "\n")
	out := make([][]StyledRun, len(lines))
	for i, l := range lines {
		if l == "" {
			continue
		}
		out[i] = []StyledRun{{Text: l}}
	}
	return out
}

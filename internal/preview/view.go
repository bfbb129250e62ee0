package preview

import (
	"github.com/arran4/mdlive"
)

type blockView struct {
	Kind  string `json:"kind"`
	Range string `json:"range,omitempty"`
}

type regionView struct {
	ID    string `json:"id"`
	Range string `json:"range"`
	Start int    `json:"start"`
	Stop  int    `json:"stop"`
	Text  string `json:"text"`
}

type imageView struct {
	ID      string `json:"id"`
	Locator string `json:"locator"`
	State   string `json:"state"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Error   string `json:"error,omitempty"`
}

type diagnosticView struct {
	Range   string `json:"range,omitempty"`
	Message string `json:"message"`
}

// documentView is the JSON summary of a rendered document.
type documentView struct {
	Generation  uint64           `json:"generation"`
	Role        string           `json:"role"`
	Blocks      []blockView      `json:"blocks"`
	Regions     []regionView     `json:"regions"`
	Images      []imageView      `json:"images"`
	Diagnostics []diagnosticView `json:"diagnostics"`
}

func newDocumentView(doc *mdlive.Document) documentView {
	v := documentView{
		Generation:  doc.Generation,
		Role:        doc.Config.Role.String(),
		Blocks:      make([]blockView, 0, len(doc.Blocks)),
		Regions:     make([]regionView, 0, len(doc.Regions)),
		Images:      []imageView{},
		Diagnostics: make([]diagnosticView, 0, len(doc.Diagnostics)),
	}
	for _, b := range doc.Blocks {
		v.Blocks = append(v.Blocks, blockView{Kind: b.Kind().String(), Range: rangeString(componentRange(b))})
	}
	for _, r := range doc.Regions {
		v.Regions = append(v.Regions, regionView{
			ID:    r.ID,
			Range: r.Range.String(),
			Start: r.Start,
			Stop:  r.Stop,
			Text:  doc.RegionText(r),
		})
	}
	for _, img := range doc.Images() {
		snap := img.Snapshot()
		iv := imageView{ID: img.ID, Locator: img.Locator, State: snap.State.String()}
		if snap.Image != nil {
			iv.Width, iv.Height = snap.Width, snap.Height
		}
		if snap.Err != nil {
			iv.Error = snap.Err.Error()
		}
		v.Images = append(v.Images, iv)
	}
	for _, d := range doc.Diagnostics {
		v.Diagnostics = append(v.Diagnostics, diagnosticView{Range: rangeString(d.Range), Message: d.Message})
	}
	return v
}

func componentRange(c mdlive.Component) *mdlive.SourceRange {
	switch b := c.(type) {
	case *mdlive.Heading:
		return b.Range
	case *mdlive.Paragraph:
		return b.Range
	case *mdlive.CodeBlock:
		return b.Range
	case *mdlive.BlockQuote:
		return b.Range
	case *mdlive.List:
		return b.Range
	case *mdlive.Table:
		return b.Range
	case *mdlive.Image:
		return b.Range
	case *mdlive.LiteralBlock:
		return b.Range
	case *mdlive.ThematicBreak:
		return b.Range
	}
	return nil
}

func rangeString(r *mdlive.SourceRange) string {
	if r == nil {
		return ""
	}
	return r.String()
}

// Package raster draws rendered documents onto images.
//
// It is a display surface for mdlive: Render paints one document, and
// Surface implements mdlive.Host so a session can drive it directly.
// Not a full layout engine; keep expectations practical.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/grid"
	"github.com/arran4/mdlive/resource"
)

// Options configure how a document is painted. Zero values use defaults:
// 1024px width, 48px margin, the theme for the document's appearance and the
// bundled Go fonts.
type Options struct {
	Width          int
	Margin         int
	Theme          Theme
	Fonts          Fonts
	LinkFootnotes  *bool
	ImageFootnotes *bool
	Diagnostics    bool // draw render diagnostics after the content
	Logger         *slog.Logger
}

func (o Options) withDefaults(cfg mdlive.Config) (Options, error) {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Margin <= 0 {
		o.Margin = 48
	}
	if (o.Theme == Theme{}) {
		o.Theme = ThemeFor(cfg)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if !o.Fonts.complete() {
		fallback, err := LoadFonts(FontConfig{SizeBase: cfg.Font(mdlive.TextBody).Size})
		if err != nil {
			return o, err
		}
		o.Fonts = o.Fonts.fill(fallback)
	}
	return o, nil
}

// Page is one painted document.
type Page struct {
	Image *image.RGBA
	// Anchors maps heading anchors to their top y offset.
	Anchors map[string]int
}

// Render paints doc with opts.
func Render(doc *mdlive.Document, opts Options) (*Page, error) {
	return render(doc, opts, make(map[string]*grid.Engine))
}

func render(doc *mdlive.Document, opts Options, engines map[string]*grid.Engine) (*Page, error) {
	if doc == nil {
		return nil, errors.New("raster: nil document")
	}
	opts, err := opts.withDefaults(doc.Config)
	if err != nil {
		return nil, fmt.Errorf("raster: %w", err)
	}
	linkFootnotes := true
	if opts.LinkFootnotes != nil {
		linkFootnotes = *opts.LinkFootnotes
	}
	imageFootnotes := false
	if opts.ImageFootnotes != nil {
		imageFootnotes = *opts.ImageFootnotes
	}

	c := newCanvas(opts.Width, opts.Margin, opts.Theme, opts.Fonts, doc.Config.Font(mdlive.TextBody).Size, doc.Config.LineSpacing)
	p := &painter{
		c:              c,
		cfg:            doc.Config,
		log:            opts.Logger,
		engines:        engines,
		anchors:        make(map[string]int),
		linkFootnotes:  linkFootnotes,
		imageFootnotes: imageFootnotes,
	}
	p.paint(doc)
	if opts.Diagnostics {
		p.drawDiagnostics(doc.Diagnostics)
	}
	return &Page{Image: c.crop(), Anchors: p.anchors}, nil
}

// Surface is an mdlive.Host that keeps the latest painted page and a scroll
// offset. Table layouts are memoised across pages by table id.
type Surface struct {
	mu      sync.Mutex
	opts    Options
	log     *slog.Logger
	engines map[string]*grid.Engine
	page    *Page
	offset  int
}

// NewSurface returns an empty surface.
func NewSurface(opts Options) *Surface {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Surface{opts: opts, log: log, engines: make(map[string]*grid.Engine)}
}

// Show paints doc and replaces the current page. The scroll offset is kept
// and clamped to the new page.
func (s *Surface) Show(doc *mdlive.Document) {
	MeasureVectors(doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneEngines(doc)
	page, err := render(doc, s.opts, s.engines)
	if err != nil {
		s.log.Error("paint failed", "error", err)
		return
	}
	s.page = page
	if h := page.Image.Bounds().Dy(); s.offset > h {
		s.offset = h
	}
	s.log.Debug("page painted", "generation", doc.Generation, "height", page.Image.Bounds().Dy())
}

func (s *Surface) pruneEngines(doc *mdlive.Document) {
	live := make(map[string]bool)
	for _, b := range doc.Blocks {
		if t, ok := b.(*mdlive.Table); ok {
			live[t.ID] = true
		}
	}
	for id := range s.engines {
		if !live[id] {
			delete(s.engines, id)
		}
	}
}

// ScrollTo moves the offset to the heading with anchor. Unknown anchors are
// ignored.
func (s *Surface) ScrollTo(anchor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return
	}
	y, ok := s.page.Anchors[anchor]
	if !ok {
		s.log.Debug("unknown anchor", "anchor", anchor)
		return
	}
	s.offset = y
}

// Page returns the latest page, or nil before the first Show.
func (s *Surface) Page() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Offset returns the scroll offset in pixels.
func (s *Surface) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Viewport returns the part of the page of the given height starting at the
// scroll offset.
func (s *Surface) Viewport(height int) image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil
	}
	b := s.page.Image.Bounds()
	r := image.Rect(0, s.offset, b.Dx(), s.offset+height).Intersect(b)
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), s.page.Image, r.Min, draw.Src)
	return out
}

// MeasureVectors reports the declared size of every loaded vector image in
// doc back to its loader, the way a browser reports a shell's computed size.
func MeasureVectors(doc *mdlive.Document) {
	if doc == nil {
		return
	}
	for _, img := range doc.Images() {
		if img.Loader == nil {
			continue
		}
		snap := img.Loader.Snapshot()
		if snap.State != resource.LoadedVector || snap.Vector.Complete() {
			continue
		}
		w, h, ok := resource.IntrinsicSize(snap.Markup)
		if !ok {
			w, h = defaultVectorWidth, defaultVectorHeight
		}
		img.Loader.ReportVectorHeight(snap.Generation, h)
		img.Loader.ReportVectorWidth(snap.Generation, w)
	}
}

// WaitImages blocks until no image in doc is pending or ctx is done. Closed
// loaders are skipped, including ones closed while waiting.
func WaitImages(ctx context.Context, doc *mdlive.Document) error {
	if doc == nil {
		return nil
	}
	for _, img := range doc.Images() {
		l := img.Loader
		if l == nil {
			continue
		}
		for l.Snapshot().State == resource.Pending && !l.Closed() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.Changes():
			}
		}
	}
	return nil
}

// Encode writes img as PNG or JPEG, chosen by the file extension or format
// name in ext.
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 92})
	default:
		return errors.New("unsupported output extension: " + ext)
	}
}

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/raster"
	"github.com/arran4/mdlive/resource"
	"github.com/arran4/mdlive/textview"
)

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// writeImage writes page to path through a temporary file so that viewers
// never see a partial image.
func writeImage(path, format string, page *raster.Page) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := raster.Encode(f, page.Image, format); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// textHost redraws the text layout on every document, either to a file or to
// the terminal.
type textHost struct {
	view *textview.View
	path string
	log  *slog.Logger
}

func newTextHost(path string, width int, log *slog.Logger) *textHost {
	return &textHost{view: textview.NewView(nil, width), path: path, log: log}
}

func (h *textHost) Show(doc *mdlive.Document) {
	h.view.Show(doc)
	text := h.view.Page().String()
	if h.path != "" {
		if err := os.WriteFile(h.path, []byte(text), 0o644); err != nil {
			h.log.Error("writing text", "error", err)
		}
		return
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		io.WriteString(os.Stdout, "\x1b[H\x1b[2J")
	}
	io.WriteString(os.Stdout, text)
}

func (h *textHost) ScrollTo(anchor string) { h.view.ScrollTo(anchor) }

// imageHost paints every document and writes it to path. When images are
// still loading it paints again once they settle, unless a newer document
// arrived in the meantime.
type imageHost struct {
	surface *raster.Surface
	path    string
	format  string
	wait    time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	latest  uint64
	paintMu sync.Mutex
	repaint sync.WaitGroup
}

func newImageHost(path, format string, opts raster.Options, wait time.Duration, log *slog.Logger) *imageHost {
	return &imageHost{
		surface: raster.NewSurface(opts),
		path:    path,
		format:  format,
		wait:    wait,
		log:     log,
	}
}

func (h *imageHost) Show(doc *mdlive.Document) {
	h.mu.Lock()
	h.latest = doc.Generation
	h.mu.Unlock()
	h.paint(doc)
	for _, img := range doc.Images() {
		if img.Loader != nil && img.Snapshot().State == resource.Pending {
			h.repaint.Add(1)
			go func() {
				defer h.repaint.Done()
				h.repaintWhenLoaded(doc)
			}()
			return
		}
	}
}

func (h *imageHost) repaintWhenLoaded(doc *mdlive.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), h.wait)
	defer cancel()
	if err := raster.WaitImages(ctx, doc); err != nil {
		h.log.Warn("images still loading", "generation", doc.Generation, "error", err)
	}
	h.mu.Lock()
	current := h.latest == doc.Generation
	h.mu.Unlock()
	if current {
		h.paint(doc)
	}
}

func (h *imageHost) paint(doc *mdlive.Document) {
	h.paintMu.Lock()
	defer h.paintMu.Unlock()
	h.surface.Show(doc)
	page := h.surface.Page()
	if page == nil {
		return
	}
	if err := writeImage(h.path, h.format, page); err != nil {
		h.log.Error("writing image", "error", err)
		return
	}
	h.log.Info("rendered", "generation", doc.Generation, "path", h.path)
}

func (h *imageHost) ScrollTo(anchor string) { h.surface.ScrollTo(anchor) }

// Package preview serves a live session over HTTP: clients push source text,
// read the rendered structure and follow updates as server-sent events.
package preview

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/internal/config"
	"github.com/arran4/mdlive/raster"
	"github.com/arran4/mdlive/textview"
)

// Server is the HTTP preview server for one session.
type Server struct {
	router  chi.Router
	session *mdlive.Session
	log     *slog.Logger
	cfg     config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(session *mdlive.Session, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		session: session,
		log:     log,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Get("/source", s.handleGetSource)
	r.Put("/source", s.handlePutSource)
	r.Put("/regions/{regionID}", s.handleEditRegion)

	r.Get("/toc", s.handleTOC)
	r.Get("/document", s.handleDocument)
	r.Get("/render.txt", s.handleRenderText)
	r.Get("/render.png", s.handleRenderPNG)
	r.Get("/events", s.handleEvents)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session": s.session.ID()})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	io.WriteString(w, s.session.Text())
}

// readBody reads a request body up to the configured limit.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxSourceBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		jsonError(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// settle flushes a pending render when the client asked for it and reports
// the resulting state.
func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	status := http.StatusAccepted
	if r.URL.Query().Get("flush") == "true" {
		s.session.Flush()
		status = http.StatusOK
	}
	var gen uint64
	if doc := s.session.Document(); doc != nil {
		gen = doc.Generation
	}
	writeJSON(w, status, map[string]any{"generation": gen})
}

func (s *Server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.session.SetText(string(body))
	s.settle(w, r)
}

// handleEditRegion writes new text into one editable region. Clients may
// send the start and stop they last saw; a mismatch is reported as a
// conflict.
func (s *Server) handleEditRegion(w http.ResponseWriter, r *http.Request) {
	doc := s.session.Document()
	if doc == nil {
		jsonError(w, mdlive.ErrNoDocument.Error(), http.StatusConflict)
		return
	}
	region, ok := doc.Region(chi.URLParam(r, "regionID"))
	if !ok {
		jsonError(w, mdlive.ErrUnknownRegion.Error(), http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"start", &region.Start}, {"stop", &region.Stop}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, p.name+" must be an integer", http.StatusBadRequest)
			return
		}
		*p.dst = n
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.session.Edit(region, string(body)); err != nil {
		switch {
		case errors.Is(err, mdlive.ErrUnknownRegion):
			jsonError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, mdlive.ErrStaleRegion), errors.Is(err, mdlive.ErrNoDocument):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
		}
		return
	}
	s.settle(w, r)
}

type tocEntry struct {
	Level  int    `json:"level"`
	Text   string `json:"text"`
	Anchor string `json:"anchor,omitempty"`
}

func (s *Server) handleTOC(w http.ResponseWriter, r *http.Request) {
	items := s.session.TOC()
	out := make([]tocEntry, 0, len(items))
	for _, it := range items {
		out = append(out, tocEntry{Level: it.Level, Text: it.Text, Anchor: it.Anchor()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) currentDocument(w http.ResponseWriter) *mdlive.Document {
	doc := s.session.Document()
	if doc == nil {
		jsonError(w, mdlive.ErrNoDocument.Error(), http.StatusNotFound)
	}
	return doc
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.currentDocument(w)
	if doc == nil {
		return
	}
	writeJSON(w, http.StatusOK, newDocumentView(doc))
}

func (s *Server) handleRenderText(w http.ResponseWriter, r *http.Request) {
	doc := s.currentDocument(w)
	if doc == nil {
		return
	}
	width := s.cfg.TextWidth
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "width must be a positive integer", http.StatusBadRequest)
			return
		}
		width = n
	}
	if width <= 0 {
		width = textview.DefaultWidth
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := textview.Render(w, doc, width); err != nil {
		s.log.Warn("write text render", "error", err)
	}
}

func (s *Server) handleRenderPNG(w http.ResponseWriter, r *http.Request) {
	doc := s.currentDocument(w)
	if doc == nil {
		return
	}
	raster.MeasureVectors(doc)
	page, err := raster.Render(doc, raster.Options{
		Width:          s.cfg.Width,
		Margin:         s.cfg.Margin,
		LinkFootnotes:  &s.cfg.LinkFootnotes,
		ImageFootnotes: &s.cfg.ImageFootnotes,
		Logger:         s.log,
	})
	if err != nil {
		jsonError(w, "render failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := raster.Encode(w, page.Image, "png"); err != nil {
		s.log.Warn("write png render", "error", err)
	}
}

// handleEvents streams the generation of every applied document.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	gens := make(chan uint64, 16)
	cancel := s.session.Subscribe(func(d *mdlive.Document) {
		select {
		case gens <- d.Generation:
		default:
			// the client is behind; it will see a later generation
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if doc := s.session.Document(); doc != nil {
		writeEvent(w, doc.Generation)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case gen := <-gens:
			writeEvent(w, gen)
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, gen uint64) {
	fmt.Fprintf(w, "event: document\ndata: {\"generation\":%d}\n\n", gen)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

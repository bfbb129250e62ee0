package mdlive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arran4/mdlive/resource"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrNoDocument    = errors.New("no document rendered yet")
	ErrUnknownRegion = errors.New("unknown editable region")
	ErrStaleRegion   = errors.New("editable region is out of date")
)

// Host is the display surface a session drives. Show and ScrollTo run on the
// scheduler's primary dispatcher.
type Host interface {
	Show(doc *Document)
	ScrollTo(anchor string)
}

type sessionOptions struct {
	host        Host
	log         *slog.Logger
	fetcher     resource.Fetcher
	highlighter Highlighter
	sched       []SchedulerOption
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

func WithHost(h Host) SessionOption {
	return func(o *sessionOptions) { o.host = h }
}

func WithSessionLogger(log *slog.Logger) SessionOption {
	return func(o *sessionOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithFetcher sets how image bytes are fetched. The default serves http,
// https and local files.
func WithFetcher(f resource.Fetcher) SessionOption {
	return func(o *sessionOptions) { o.fetcher = f }
}

// WithSessionHighlighter replaces the chroma highlighter. A nil highlighter
// turns highlighting off.
func WithSessionHighlighter(h Highlighter) SessionOption {
	return func(o *sessionOptions) { o.highlighter = h }
}

// WithScheduler passes options to the session's scheduler.
func WithScheduler(opts ...SchedulerOption) SessionOption {
	return func(o *sessionOptions) { o.sched = append(o.sched, opts...) }
}

// Session is one live rendering instance. It owns the source text, the
// provider registries, the image loaders and the scheduler, and keeps the
// latest applied Document.
type Session struct {
	id         string
	log        *slog.Logger
	host       Host
	pool       *resource.Pool
	images     *ImageRegistry
	directives *DirectiveRegistry
	highlight  Highlighter
	sched      *Scheduler

	renderer atomic.Pointer[Renderer]
	doc      atomic.Pointer[Document]

	mu     sync.Mutex
	text   string
	subs   map[int]func(*Document)
	nextID int
	closed bool
}

// NewSession returns a session rendering with cfg. Nothing is rendered until
// SetText.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	o := sessionOptions{
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		highlighter: ChromaHighlighter{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		o.fetcher = resource.NewMux(resource.NewHTTPFetcher(0), resource.FileFetcher{})
	}

	id := uuid.NewString()
	log := o.log.With("session", id)
	s := &Session{
		id:        id,
		log:       log,
		host:      o.host,
		highlight: o.highlighter,
		subs:      make(map[int]func(*Document)),
	}
	s.pool = resource.NewPool(o.fetcher,
		resource.WithLogger(log),
		resource.WithNotify(func(snap resource.Snapshot) {
			log.Debug("image state", "locator", snap.Locator, "state", snap.State.String())
		}),
	)
	s.images = NewImageRegistry(s.pool)
	s.directives = NewDirectiveRegistry()
	s.renderer.Store(s.newRenderer(cfg))

	schedOpts := append([]SchedulerOption{WithSchedulerLogger(log)}, o.sched...)
	s.sched = NewScheduler(s.render, s.apply, schedOpts...)
	log.Info("session started")
	return s
}

func (s *Session) newRenderer(cfg Config) *Renderer {
	opts := []RendererOption{WithImagePool(s.pool), WithRendererLogger(s.log)}
	if s.highlight != nil {
		opts = append(opts, WithHighlighter(s.highlight))
	}
	return NewRenderer(cfg, s.images, s.directives, opts...)
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// Config returns the configuration renders currently use.
func (s *Session) Config() Config { return s.renderer.Load().Config() }

// SetConfig replaces the configuration and re-renders the current text.
func (s *Session) SetConfig(cfg Config) {
	s.renderer.Store(s.newRenderer(cfg))
	s.mu.Lock()
	text, closed := s.text, s.closed
	s.mu.Unlock()
	if !closed {
		s.sched.Push(text)
	}
}

// SetText replaces the source text and schedules a render.
func (s *Session) SetText(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.text = text
	s.mu.Unlock()
	s.sched.Push(text)
}

// Text returns the current source text, which may be newer than Document.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Flush renders pending text now instead of waiting for the debounce delay.
func (s *Session) Flush() bool { return s.sched.Flush() }

// Document returns the latest applied document, or nil before the first
// render completes.
func (s *Session) Document() *Document { return s.doc.Load() }

// TOC returns the headings of the latest applied document.
func (s *Session) TOC() []TOCItem {
	if d := s.doc.Load(); d != nil {
		return d.TOC
	}
	return nil
}

// Images is the session's image provider registry.
func (s *Session) Images() *ImageRegistry { return s.images }

// Directives is the session's directive provider registry.
func (s *Session) Directives() *DirectiveRegistry { return s.directives }

// Subscribe calls fn with every applied document until the returned func is
// called.
func (s *Session) Subscribe(fn func(*Document)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Edit writes text back into the source bytes of region and schedules a
// render. The region must come from the current document, and the source
// must not have changed since that document was rendered.
func (s *Session) Edit(region Editable, text string) error {
	doc := s.doc.Load()
	if doc == nil {
		return ErrNoDocument
	}
	cur, ok := doc.Region(region.ID)
	if !ok {
		return ErrUnknownRegion
	}
	if cur.Start != region.Start || cur.Stop != region.Stop {
		return ErrStaleRegion
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.text != string(doc.Source) {
		s.mu.Unlock()
		return ErrStaleRegion
	}
	next := s.text[:region.Start] + text + s.text[region.Stop:]
	s.text = next
	s.mu.Unlock()
	s.log.Debug("edit", "region", region.ID, "range", region.Range.String())
	s.sched.Push(next)
	return nil
}

// Navigate asks the host to scroll to item. It reports false when the item
// has no source range or there is no host.
func (s *Session) Navigate(item TOCItem) bool {
	anchor := item.Anchor()
	if anchor == "" || s.host == nil {
		return false
	}
	s.host.ScrollTo(anchor)
	return true
}

// Close stops the scheduler and every image loader.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.subs = make(map[int]func(*Document))
	s.mu.Unlock()
	s.sched.Close()
	s.pool.Close()
	s.log.Info("session closed")
}

func (s *Session) render(ctx context.Context, text string) *Document {
	return s.renderer.Load().Render(ctx, []byte(text))
}

// apply runs on the primary dispatcher with the newest document.
func (s *Session) apply(doc *Document) {
	s.pool.Retain(doc.AcquireLoaders())
	s.doc.Store(doc)

	s.mu.Lock()
	subs := make([]func(*Document), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if len(doc.Diagnostics) > 0 {
		s.log.Info("rendered with diagnostics", "generation", doc.Generation, "count", len(doc.Diagnostics))
	}
	if s.host != nil {
		s.host.Show(doc)
	}
	for _, fn := range subs {
		fn(doc)
	}
}

package mdlive

import (
	"sort"
	"strings"
	"sync"

	"github.com/arran4/mdlive/resource"
)

// registry is a string-keyed handler table. Lookups and registrations are
// serialized so a reader never observes a partial update.
type registry[H any] struct {
	mu       sync.RWMutex
	fold     bool
	handlers map[string]H
}

func newRegistry[H any](fold bool) *registry[H] {
	return &registry[H]{fold: fold, handlers: make(map[string]H)}
}

func (r *registry[H]) key(k string) string {
	if r.fold {
		return strings.ToLower(k)
	}
	return k
}

func (r *registry[H]) register(key string, h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[r.key(key)] = h
}

func (r *registry[H]) resolve(key string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[r.key(key)]
	return h, ok
}

func (r *registry[H]) keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ImageRequest describes one image node being rendered.
type ImageRequest struct {
	ID      string // stable across re-renders of the same position
	Locator string
	Alt     string
	Title   string
	Range   *SourceRange
}

// ImageProvider renders an image node.
type ImageProvider interface {
	Image(req ImageRequest) Component
}

// ImageProviderFunc adapts a function to ImageProvider.
type ImageProviderFunc func(req ImageRequest) Component

func (f ImageProviderFunc) Image(req ImageRequest) Component { return f(req) }

// DirectiveArgument is one name/value pair from a directive header.
type DirectiveArgument struct {
	Name  string
	Value string
}

// DirectiveProvider renders a directive block from its arguments and inner
// text.
type DirectiveProvider interface {
	Directive(args []DirectiveArgument, text string) Component
}

// DirectiveProviderFunc adapts a function to DirectiveProvider.
type DirectiveProviderFunc func(args []DirectiveArgument, text string) Component

func (f DirectiveProviderFunc) Directive(args []DirectiveArgument, text string) Component {
	return f(args, text)
}

// ImageRegistry maps URL schemes to image providers. Schemes are matched
// case-insensitively.
type ImageRegistry struct {
	r *registry[ImageProvider]
}

// NewImageRegistry returns a registry with the network provider registered
// for http and https. A nil pool gives image components without loaders.
func NewImageRegistry(pool *resource.Pool) *ImageRegistry {
	reg := &ImageRegistry{r: newRegistry[ImageProvider](true)}
	network := NetworkImageProvider{Pool: pool}
	reg.Register("http", network)
	reg.Register("https", network)
	return reg
}

// Register sets the provider for scheme. The last registration wins.
func (r *ImageRegistry) Register(scheme string, p ImageProvider) {
	r.r.register(scheme, p)
}

// Resolve returns the provider for scheme.
func (r *ImageRegistry) Resolve(scheme string) (ImageProvider, bool) {
	return r.r.resolve(scheme)
}

// Keys returns the registered schemes in sorted order.
func (r *ImageRegistry) Keys() []string {
	return r.r.keys()
}

// DirectiveRegistry maps directive names to providers. It starts empty.
type DirectiveRegistry struct {
	r *registry[DirectiveProvider]
}

func NewDirectiveRegistry() *DirectiveRegistry {
	return &DirectiveRegistry{r: newRegistry[DirectiveProvider](false)}
}

// Register sets the provider for name. The last registration wins.
func (r *DirectiveRegistry) Register(name string, p DirectiveProvider) {
	r.r.register(name, p)
}

// Resolve returns the provider for name.
func (r *DirectiveRegistry) Resolve(name string) (DirectiveProvider, bool) {
	return r.r.resolve(name)
}

// Keys returns the registered names in sorted order.
func (r *DirectiveRegistry) Keys() []string {
	return r.r.keys()
}

// NetworkImageProvider marks each image for a loader from Pool keyed by the
// image id, so re-rendering keeps in-flight and finished loads. The loader is
// acquired when the document is applied.
type NetworkImageProvider struct {
	Pool *resource.Pool
}

func (p NetworkImageProvider) Image(req ImageRequest) Component {
	img := &Image{
		ID:      req.ID,
		Locator: req.Locator,
		Alt:     req.Alt,
		Title:   req.Title,
		Range:   req.Range,
		pool:    p.Pool,
	}
	return img
}

// RelativeImageProvider resolves locators against Base by concatenation and
// loads the result like NetworkImageProvider.
type RelativeImageProvider struct {
	Base string
	Pool *resource.Pool
}

func (p RelativeImageProvider) Image(req ImageRequest) Component {
	req.Locator = JoinLocator(p.Base, req.Locator)
	return NetworkImageProvider{Pool: p.Pool}.Image(req)
}

// JoinLocator appends locator to base with exactly one slash between them.
// An empty base leaves locator unchanged.
func JoinLocator(base, locator string) string {
	if base == "" {
		return locator
	}
	bs := strings.HasSuffix(base, "/")
	ls := strings.HasPrefix(locator, "/")
	switch {
	case bs && ls:
		return base + locator[1:]
	case bs || ls:
		return base + locator
	default:
		return base + "/" + locator
	}
}

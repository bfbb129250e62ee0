package resource

import (
	"sort"
	"sync"
)

// Pool keeps one Loader per component identity for a rendering session.
// Re-rendering a document reuses the loader of an image at the same position,
// so an unchanged locator is not fetched again and a changed one cancels the
// previous fetch.
type Pool struct {
	mu      sync.Mutex
	fetcher Fetcher
	opts    []LoaderOption
	loaders map[string]*Loader
	closed  bool
}

// NewPool returns a pool whose loaders share fetcher and opts.
func NewPool(fetcher Fetcher, opts ...LoaderOption) *Pool {
	return &Pool{
		fetcher: fetcher,
		opts:    opts,
		loaders: make(map[string]*Loader),
	}
}

// Acquire returns the loader for id pointed at locator.
func (p *Pool) Acquire(id, locator string) *Loader {
	p.mu.Lock()
	l, ok := p.loaders[id]
	if !ok {
		l = NewLoader(p.fetcher, p.opts...)
		if p.closed {
			l.Close()
		} else {
			p.loaders[id] = l
		}
	}
	p.mu.Unlock()
	l.SetLocator(locator)
	return l
}

// Retain closes and forgets every loader whose id is not in keep.
func (p *Pool) Retain(keep map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, l := range p.loaders {
		if !keep[id] {
			l.Close()
			delete(p.loaders, id)
		}
	}
}

// IDs returns the ids of live loaders in sorted order.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.loaders))
	for id := range p.loaders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every loader. Loaders acquired afterwards are closed on
// creation.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, l := range p.loaders {
		l.Close()
		delete(p.loaders, id)
	}
}

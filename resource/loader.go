// Package resource loads images and embedded vector graphics for rendered
// documents.
//
// A Loader is the per-resource state machine. It is keyed by a locator:
// setting a new locator cancels the in-flight fetch and starts over, and a
// fetch that completes for a superseded locator never touches the current
// state.
package resource

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// State is the loading state of one resource.
type State int

const (
	Pending State = iota
	LoadedRaster
	LoadedVector
	Unsupported
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case LoadedRaster:
		return "loaded-raster"
	case LoadedVector:
		return "loaded-vector"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// VectorSize merges the two independent measurements a host reports for a
// displayed vector shell. Each report only touches its own axis.
type VectorSize struct {
	Width     float64
	Height    float64
	HasWidth  bool
	HasHeight bool
}

// Complete reports whether both axes have arrived.
func (v VectorSize) Complete() bool { return v.HasWidth && v.HasHeight }

// Geometry returns the merged size, or a zero placeholder until both axes
// are known.
func (v VectorSize) Geometry() (float64, float64) {
	if !v.Complete() {
		return 0, 0
	}
	return v.Width, v.Height
}

// Snapshot is an immutable copy of a loader's state.
type Snapshot struct {
	Locator    string
	Generation uint64
	State      State

	// LoadedRaster
	Image  image.Image
	Width  int
	Height int

	// LoadedVector
	Markup string
	Shell  string
	Vector VectorSize

	// Unsupported
	Err error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// WithNotify registers a callback run after every applied state change. It
// is called outside the loader's lock, so callbacks for quick successive
// changes can race; read Snapshot for the current state.
func WithNotify(fn func(Snapshot)) LoaderOption {
	return func(l *Loader) {
		l.notify = fn
	}
}

// Loader is the state machine for one resource instance.
type Loader struct {
	mu      sync.Mutex
	fetcher Fetcher
	log     *slog.Logger
	notify  func(Snapshot)
	changes chan Snapshot

	gen    uint64
	cancel context.CancelFunc
	snap   Snapshot
	closed bool
}

// NewLoader returns an idle loader. Nothing is fetched until SetLocator.
func NewLoader(fetcher Fetcher, opts ...LoaderOption) *Loader {
	l := &Loader{
		fetcher: fetcher,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		changes: make(chan Snapshot, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLocator points the loader at locator. If it differs from the current
// locator, any in-flight fetch is canceled, the state resets to Pending and a
// new fetch starts. Setting the current locator again is a no-op.
func (l *Loader) SetLocator(locator string) {
	l.mu.Lock()
	if l.closed || (l.gen != 0 && locator == l.snap.Locator) {
		l.mu.Unlock()
		return
	}
	snap := l.restartLocked(locator)
	l.mu.Unlock()
	l.notifyChange(snap)
}

// Retry restarts the fetch for the current locator. It only applies in the
// Unsupported state and reports whether a retry started.
func (l *Loader) Retry() bool {
	l.mu.Lock()
	if l.closed || l.gen == 0 || l.snap.State != Unsupported {
		l.mu.Unlock()
		return false
	}
	snap := l.restartLocked(l.snap.Locator)
	l.mu.Unlock()
	l.notifyChange(snap)
	return true
}

func (l *Loader) restartLocked(locator string) Snapshot {
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	l.snap = Snapshot{Locator: locator, Generation: l.gen, State: Pending}
	l.publishLocked(l.snap)
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.load(ctx, l.gen, locator)
	return l.snap
}

func (l *Loader) load(ctx context.Context, gen uint64, locator string) {
	var next Snapshot
	data, err := l.fetch(ctx, locator)
	if err != nil {
		next = unsupported(locator, err, ErrKindNetwork)
	} else {
		next = classify(locator, data)
	}
	next.Locator = locator
	next.Generation = gen

	l.mu.Lock()
	if l.closed || gen != l.gen {
		l.mu.Unlock()
		l.log.Debug("dropping stale resource result", "locator", locator, "generation", gen)
		return
	}
	l.snap = next
	l.publishLocked(next)
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()
	if next.Err != nil {
		l.log.Warn("resource unavailable", "locator", locator, "error", next.Err)
	}
	l.notifyChange(next)
}

func (l *Loader) fetch(ctx context.Context, locator string) ([]byte, error) {
	if l.fetcher == nil {
		return nil, errors.New("no fetcher configured")
	}
	return l.fetcher.Fetch(ctx, locator)
}

func classify(locator string, data []byte) Snapshot {
	if markup, ok := DetectSVG(data); ok {
		return Snapshot{State: LoadedVector, Markup: markup, Shell: Shell(markup)}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return unsupported(locator, errors.Join(errNotImage, err), ErrKindUnsupportedFormat)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return unsupported(locator, errNoDimensions, ErrKindMissingSize)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return unsupported(locator, err, ErrKindUnsupportedFormat)
	}
	return Snapshot{State: LoadedRaster, Image: img, Width: cfg.Width, Height: cfg.Height}
}

func unsupported(locator string, err error, kind ErrorKind) Snapshot {
	var fe *FetchError
	if !errors.As(err, &fe) {
		fe = &FetchError{Kind: kind, Locator: locator, Err: err}
	}
	return Snapshot{State: Unsupported, Err: fe}
}

// ReportVectorWidth records the computed width of the displayed shell for
// generation gen. Reports for an older generation are ignored.
func (l *Loader) ReportVectorWidth(gen uint64, width float64) bool {
	return l.reportVector(gen, func(v *VectorSize) {
		v.Width = width
		v.HasWidth = true
	})
}

// ReportVectorHeight is the height counterpart of ReportVectorWidth.
func (l *Loader) ReportVectorHeight(gen uint64, height float64) bool {
	return l.reportVector(gen, func(v *VectorSize) {
		v.Height = height
		v.HasHeight = true
	})
}

func (l *Loader) reportVector(gen uint64, set func(*VectorSize)) bool {
	l.mu.Lock()
	if l.closed || gen != l.gen || l.snap.State != LoadedVector {
		l.mu.Unlock()
		return false
	}
	set(&l.snap.Vector)
	snap := l.snap
	l.publishLocked(snap)
	l.mu.Unlock()
	l.notifyChange(snap)
	return true
}

// Snapshot returns the current state.
func (l *Loader) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// Locator returns the current locator.
func (l *Loader) Locator() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap.Locator
}

// Closed reports whether Close has been called.
func (l *Loader) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close cancels any in-flight fetch. No state changes are applied after it;
// the last snapshot is published once more so that readers of Changes wake
// up and see Closed.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.publishLocked(l.snap)
}

// Changes returns a channel carrying the most recent state change. Older
// undelivered changes are replaced, so a slow reader only sees the latest.
// The channel is never closed.
func (l *Loader) Changes() <-chan Snapshot {
	return l.changes
}

// publishLocked replaces the pending change with s. Callers hold l.mu, so
// the channel always carries the state that was applied last.
func (l *Loader) publishLocked(s Snapshot) {
	for {
		select {
		case l.changes <- s:
		default:
			select {
			case <-l.changes:
			default:
			}
			continue
		}
		break
	}
}

func (l *Loader) notifyChange(s Snapshot) {
	if l.notify != nil {
		l.notify(s)
	}
}

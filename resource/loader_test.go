package resource

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, l *Loader, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := l.Snapshot()
		if s.State == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, state is %s", want, l.Snapshot().State)
	return Snapshot{}
}

func TestLoaderRaster(t *testing.T) {
	data := pngBytes(t, 7, 3)
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return data, nil
	}))
	defer l.Close()
	l.SetLocator("mem://a.png")
	s := waitFor(t, l, LoadedRaster)
	if s.Width != 7 || s.Height != 3 {
		t.Fatalf("natural size = %dx%d, want 7x3", s.Width, s.Height)
	}
	if s.Image == nil {
		t.Fatalf("expected decoded image")
	}
}

func TestLoaderUnsupportedAndRetry(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return []byte("<svg width=\"10\" height=\"4\"></svg>"), nil
	}))
	defer l.Close()
	if l.Retry() {
		t.Fatalf("retry must not apply before a locator is set")
	}
	l.SetLocator("https://example.invalid/x.svg")
	s := waitFor(t, l, Unsupported)
	if KindOf(s.Err) != ErrKindNetwork {
		t.Fatalf("error kind = %v, want network (%v)", KindOf(s.Err), s.Err)
	}
	if !l.Retry() {
		t.Fatalf("expected retry to start from unsupported")
	}
	s = waitFor(t, l, LoadedVector)
	if s.Locator != "https://example.invalid/x.svg" {
		t.Fatalf("retry changed locator to %q", s.Locator)
	}
	if l.Retry() {
		t.Fatalf("retry must not apply once loaded")
	}
}

func TestLoaderUndecodableContent(t *testing.T) {
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return []byte("definitely not an image"), nil
	}))
	defer l.Close()
	l.SetLocator("mem://bad")
	s := waitFor(t, l, Unsupported)
	if KindOf(s.Err) != ErrKindUnsupportedFormat {
		t.Fatalf("error kind = %v, want unsupported format", KindOf(s.Err))
	}
}

func TestLoaderSupersededFetchIsDropped(t *testing.T) {
	releaseA := make(chan struct{})
	doneA := make(chan struct{})
	data := pngBytes(t, 4, 4)
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		if locator == "a" {
			defer close(doneA)
			<-releaseA
			return data, nil
		}
		return nil, errors.New("b is missing")
	}))
	defer l.Close()

	l.SetLocator("a")
	genA := l.Snapshot().Generation
	l.SetLocator("b")
	s := waitFor(t, l, Unsupported)
	if s.Locator != "b" {
		t.Fatalf("locator = %q, want b", s.Locator)
	}

	close(releaseA)
	<-doneA
	time.Sleep(20 * time.Millisecond)

	s = l.Snapshot()
	if s.Locator != "b" || s.State != Unsupported || s.Generation == genA {
		t.Fatalf("stale result for a leaked into state: %+v", s)
	}
}

func TestLoaderSameLocatorIsNoop(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		calls.Add(1)
		return []byte("<svg></svg>"), nil
	}))
	defer l.Close()
	l.SetLocator("x")
	waitFor(t, l, LoadedVector)
	l.SetLocator("x")
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestLoaderVectorSizeMerge(t *testing.T) {
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return []byte("<svg></svg>"), nil
	}))
	defer l.Close()
	l.SetLocator("v")
	s := waitFor(t, l, LoadedVector)
	if w, h := s.Vector.Geometry(); w != 0 || h != 0 {
		t.Fatalf("initial geometry = %vx%v, want placeholder 0x0", w, h)
	}

	if !l.ReportVectorHeight(s.Generation, 40) {
		t.Fatalf("height report rejected")
	}
	if w, h := l.Snapshot().Vector.Geometry(); w != 0 || h != 0 {
		t.Fatalf("geometry with one axis = %vx%v, want 0x0", w, h)
	}
	if l.ReportVectorWidth(s.Generation+1, 999) {
		t.Fatalf("report for a future generation accepted")
	}
	if !l.ReportVectorWidth(s.Generation, 120) {
		t.Fatalf("width report rejected")
	}
	w, h := l.Snapshot().Vector.Geometry()
	if w != 120 || h != 40 {
		t.Fatalf("geometry = %vx%v, want 120x40", w, h)
	}
}

func TestLoaderNoUpdatesAfterClose(t *testing.T) {
	release := make(chan struct{})
	var notified atomic.Int32
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		<-release
		return []byte("<svg></svg>"), nil
	}), WithNotify(func(Snapshot) { notified.Add(1) }))
	l.SetLocator("x")
	before := notified.Load()
	l.Close()
	close(release)
	time.Sleep(20 * time.Millisecond)
	if l.Snapshot().State != Pending {
		t.Fatalf("state changed after close: %s", l.Snapshot().State)
	}
	if notified.Load() != before {
		t.Fatalf("notify fired after close")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	data, err := f.Fetch(context.Background(), srv.URL+"/ok")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("body = %q", data)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.com/x"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestHTTPFetcherRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<svg width=\"10\" height=\"4\"></svg>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	f.MaxBytes = 16
	if _, err := f.Fetch(context.Background(), srv.URL+"/big.svg"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}

	l := NewLoader(f)
	defer l.Close()
	l.SetLocator(srv.URL + "/big.svg")
	s := waitFor(t, l, Unsupported)
	if !errors.Is(s.Err, ErrTooLarge) || KindOf(s.Err) != ErrKindNetwork {
		t.Fatalf("snapshot error = %v", s.Err)
	}

	f.MaxBytes = int64(len("<svg width=\"10\" height=\"4\"></svg>"))
	if _, err := f.Fetch(context.Background(), srv.URL+"/big.svg"); err != nil {
		t.Fatalf("body at the limit: %v", err)
	}
}

func TestFileFetcherAndMux(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pic.svg"), []byte("<svg/>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mux := NewMux(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return []byte("remote"), nil
	}), FileFetcher{BaseDir: dir})

	data, err := mux.Fetch(context.Background(), "pic.svg")
	if err != nil || string(data) != "<svg/>" {
		t.Fatalf("relative fetch = %q, %v", data, err)
	}
	data, err = mux.Fetch(context.Background(), "HTTPS://example.com/a.png")
	if err != nil || string(data) != "remote" {
		t.Fatalf("remote fetch = %q, %v", data, err)
	}
	if _, err := mux.Fetch(context.Background(), "gopher://x"); err == nil || !strings.Contains(err.Error(), "gopher") {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestPoolReusesLoaders(t *testing.T) {
	var calls atomic.Int32
	p := NewPool(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		calls.Add(1)
		return []byte("<svg></svg>"), nil
	}))
	defer p.Close()
	a := p.Acquire("img-0", "x")
	waitFor(t, a, LoadedVector)
	if b := p.Acquire("img-0", "x"); b != a {
		t.Fatalf("expected the same loader for the same id")
	}
	p.Acquire("img-1", "y")
	p.Retain(map[string]bool{"img-1": true})
	if ids := p.IDs(); len(ids) != 1 || ids[0] != "img-1" {
		t.Fatalf("IDs after retain = %v", ids)
	}
}

func TestLoaderChangesKeepsLatest(t *testing.T) {
	release := make(chan struct{})
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		<-release
		return []byte("<svg></svg>"), nil
	}))
	defer l.Close()
	l.SetLocator("x")
	close(release)

	timeout := time.After(time.Second)
	for {
		select {
		case s := <-l.Changes():
			if s.State == LoadedVector {
				return
			}
			if s.State != Pending {
				t.Fatalf("unexpected change %s", s.State)
			}
		case <-timeout:
			t.Fatalf("loaded state never delivered")
		}
	}
}

func TestLoaderChangesEndOnAppliedState(t *testing.T) {
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		return []byte("<svg></svg>"), nil
	}))
	defer l.Close()
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			l.SetLocator("a")
		} else {
			l.SetLocator("b")
		}
	}
	want := waitFor(t, l, LoadedVector)
	if want.Locator != "b" || want.Generation != 200 {
		t.Fatalf("snapshot = %+v", want)
	}
	select {
	case got := <-l.Changes():
		if got.Generation != want.Generation || got.State != LoadedVector {
			t.Fatalf("last change = generation %d %s, want generation %d %s", got.Generation, got.State, want.Generation, want.State)
		}
	default:
		t.Fatalf("no change pending")
	}
}

func TestLoaderCloseWakesChanges(t *testing.T) {
	l := NewLoader(FetcherFunc(func(ctx context.Context, locator string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	l.SetLocator("x")
	<-l.Changes()
	l.Close()
	select {
	case s := <-l.Changes():
		if s.State != Pending || !l.Closed() {
			t.Fatalf("change after close = %s, closed = %v", s.State, l.Closed())
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not publish a change")
	}
}

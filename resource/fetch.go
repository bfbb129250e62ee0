package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher retrieves the raw bytes named by a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, locator string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, locator string) ([]byte, error) {
	return f(ctx, locator)
}

// DefaultMaxBytes caps a single fetched resource. Larger bodies fail with
// ErrTooLarge.
const DefaultMaxBytes = 32 << 20

// HTTPFetcher fetches http and https locators.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPFetcher returns an HTTPFetcher with its own client and timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(locator), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", req.URL.Scheme)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: %s", locator, resp.Status)
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, locator, limit)
	}
	return data, nil
}

// FileFetcher reads local files. Relative paths are joined to BaseDir and a
// leading file:// is stripped.
type FileFetcher struct {
	BaseDir string
}

func (f FileFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Path(locator))
}

// Path resolves locator to a cleaned absolute path where possible.
func (f FileFetcher) Path(locator string) string {
	path := strings.TrimPrefix(strings.TrimSpace(locator), "file://")
	if !filepath.IsAbs(path) {
		if base := strings.TrimSpace(f.BaseDir); base != "" {
			path = filepath.Join(base, path)
		}
	}
	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) {
		if abs, err := filepath.Abs(cleaned); err == nil {
			cleaned = abs
		}
	}
	return cleaned
}

// Mux dispatches on the locator scheme. The empty key handles locators
// without a scheme.
type Mux map[string]Fetcher

// NewMux returns a Mux serving http(s) with h and file/plain paths with f.
func NewMux(h Fetcher, f Fetcher) Mux {
	return Mux{"http": h, "https": h, "file": f, "": f}
}

func (m Mux) Fetch(ctx context.Context, locator string) ([]byte, error) {
	scheme := Scheme(locator)
	f, ok := m[scheme]
	if !ok || f == nil {
		return nil, fmt.Errorf("no fetcher for scheme %q", scheme)
	}
	return f.Fetch(ctx, locator)
}

// Scheme returns the lower-cased scheme of locator, or "" when it has none.
func Scheme(locator string) string {
	locator = strings.TrimSpace(locator)
	if idx := strings.Index(locator, "://"); idx != -1 {
		return strings.ToLower(locator[:idx])
	}
	return ""
}

package preview

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/internal/config"
)

func newTestServer(t *testing.T, cfg mdlive.Config, mutate func(*config.Config)) (*Server, *mdlive.Session) {
	t.Helper()
	s := mdlive.NewSession(cfg, mdlive.WithScheduler(mdlive.WithMode(mdlive.Immediate)))
	t.Cleanup(s.Close)
	c := config.Load()
	if mutate != nil {
		mutate(&c)
	}
	return NewServer(s, slog.New(slog.NewTextHandler(io.Discard, nil)), c), s
}

func do(t *testing.T, srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, sess := newTestServer(t, mdlive.DefaultConfig(), nil)
	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "ok" || got["session"] != sess.ID() {
		t.Fatalf("health = %v", got)
	}
}

func TestSourceAndStructure(t *testing.T) {
	srv, _ := newTestServer(t, mdlive.DefaultConfig(), nil)

	if rec := do(t, srv, http.MethodGet, "/document", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("document before text = %d", rec.Code)
	}

	src := "# Title\n\nSome text.\n\n## Part\n\n---\n"
	rec := do(t, srv, http.MethodPut, "/source?flush=true", src)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"generation":1`) {
		t.Fatalf("put body = %s", rec.Body)
	}

	if rec := do(t, srv, http.MethodGet, "/source", ""); rec.Body.String() != src {
		t.Fatalf("source = %q", rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/toc", "")
	var toc struct {
		Items []tocEntry `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&toc); err != nil {
		t.Fatalf("decode toc: %v", err)
	}
	if len(toc.Items) != 2 || toc.Items[0].Text != "Title" || toc.Items[1].Level != 2 || toc.Items[1].Anchor == "" {
		t.Fatalf("toc = %+v", toc.Items)
	}

	rec = do(t, srv, http.MethodGet, "/document", "")
	var doc documentView
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	kinds := make([]string, 0, len(doc.Blocks))
	for _, b := range doc.Blocks {
		kinds = append(kinds, b.Kind)
	}
	if got := strings.Join(kinds, ","); got != "heading,paragraph,heading,thematic-break" {
		t.Fatalf("kinds = %s", got)
	}
	if doc.Generation != 1 || doc.Role != "normal" || len(doc.Regions) != 0 {
		t.Fatalf("document = %+v", doc)
	}
	if doc.Blocks[0].Range != "1:3-1:8" {
		t.Fatalf("heading range = %q", doc.Blocks[0].Range)
	}
}

func TestPutSourceWithoutFlushIsAccepted(t *testing.T) {
	srv, sess := newTestServer(t, mdlive.DefaultConfig(), nil)
	rec := do(t, srv, http.MethodPut, "/source", "hello")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if sess.Text() != "hello" {
		t.Fatalf("text = %q", sess.Text())
	}
}

func TestPutSourceTooLarge(t *testing.T) {
	srv, sess := newTestServer(t, mdlive.DefaultConfig(), func(c *config.Config) { c.MaxSourceBytes = 8 })
	rec := do(t, srv, http.MethodPut, "/source", "this body is far too long")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
	if sess.Text() != "" {
		t.Fatalf("oversized body applied: %q", sess.Text())
	}
}

func TestEditRegion(t *testing.T) {
	srv, sess := newTestServer(t, mdlive.DefaultConfig().WithRole(mdlive.RoleEditor), nil)

	if rec := do(t, srv, http.MethodPut, "/regions/r0", "x"); rec.Code != http.StatusConflict {
		t.Fatalf("edit without document = %d", rec.Code)
	}

	do(t, srv, http.MethodPut, "/source?flush=true", "# Title\n\nbody\n")
	rec := do(t, srv, http.MethodPut, "/regions/r0?flush=true", "Renamed")
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d: %s", rec.Code, rec.Body)
	}
	if sess.Text() != "# Renamed\n\nbody\n" {
		t.Fatalf("text = %q", sess.Text())
	}

	// the heading text used to stop at byte 7
	if rec := do(t, srv, http.MethodPut, "/regions/r0?start=2&stop=7", "x"); rec.Code != http.StatusConflict {
		t.Fatalf("stale edit = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPut, "/regions/r0?start=two", "x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad start = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPut, "/regions/r99", "x"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown region = %d", rec.Code)
	}
}

func TestRenderText(t *testing.T) {
	srv, _ := newTestServer(t, mdlive.DefaultConfig(), nil)
	do(t, srv, http.MethodPut, "/source?flush=true", "# Title\n\nalpha beta gamma delta\n")

	rec := do(t, srv, http.MethodGet, "/render.txt?width=12", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "Title\n=====\n") || !strings.Contains(body, "alpha beta\ngamma delta") {
		t.Fatalf("body = %q", body)
	}
	if rec := do(t, srv, http.MethodGet, "/render.txt?width=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad width = %d", rec.Code)
	}
}

func TestRenderPNG(t *testing.T) {
	srv, _ := newTestServer(t, mdlive.DefaultConfig(), func(c *config.Config) { c.Width = 200; c.Margin = 10 })
	do(t, srv, http.MethodPut, "/source?flush=true", "# Title\n")

	rec := do(t, srv, http.MethodGet, "/render.png", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status = %d, type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatalf("body is not a png")
	}
}

func TestEventsStreamGenerations(t *testing.T) {
	srv, _ := newTestServer(t, mdlive.DefaultConfig(), nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	put, err := http.NewRequest(http.MethodPut, ts.URL+"/source?flush=true", strings.NewReader("# One\n"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	putResp, err := http.DefaultClient.Do(put)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	putResp.Body.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early")
			}
			if line == `data: {"generation":1}` {
				return
			}
		case <-deadline:
			t.Fatalf("no event received")
		}
	}
}

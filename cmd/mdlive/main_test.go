package main

import (
	"bytes"
	"image"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/raster"
	"github.com/arran4/mdlive/resource"
)

func TestOutputFormat(t *testing.T) {
	cases := []struct {
		format, out, want string
		err               bool
	}{
		{"", "", "text", false},
		{"", "doc.PNG", "png", false},
		{"", "doc.jpeg", "jpg", false},
		{"", "doc.txt", "text", false},
		{"jpeg", "x.bin", "jpg", false},
		{"", "doc.gif", "", true},
		{"png", "", "", true},
		{"svg", "x.svg", "", true},
	}
	for _, c := range cases {
		got, err := outputFormat(c.format, c.out)
		if (err != nil) != c.err || got != c.want {
			t.Errorf("outputFormat(%q, %q) = %q, %v", c.format, c.out, got, err)
		}
	}
}

func TestBuildConfig(t *testing.T) {
	cfg, err := buildConfig(options{theme: "dark", pt: 20, editor: true, baseURL: "https://example.com/docs/"})
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.Appearance != mdlive.AppearanceDark || cfg.Role != mdlive.RoleEditor {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Font(mdlive.TextBody).Size != 20 || cfg.BaseURL != "https://example.com/docs/" {
		t.Fatalf("cfg = %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "mdlive.toml")
	if err := os.WriteFile(path, []byte("appearance = \"light\"\nbullet = \"-\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = buildConfig(options{theme: "dark", pt: 16, configFile: path})
	if err != nil {
		t.Fatalf("buildConfig with file: %v", err)
	}
	if cfg.Appearance != mdlive.AppearanceLight || cfg.Bullet != "-" {
		t.Fatalf("file overrides not applied: %+v", cfg)
	}

	if _, err := buildConfig(options{pt: 16, configFile: filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestResolveTextWidth(t *testing.T) {
	if got := resolveTextWidth(42, ""); got != 42 {
		t.Fatalf("explicit width = %d", got)
	}
	if got := resolveTextWidth(0, "out.txt"); got != 80 {
		t.Fatalf("file width = %d", got)
	}
}

func TestRunWritesImage(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "doc.md")
	out := filepath.Join(dir, "doc.png")
	if err := os.WriteFile(in, []byte("# Hello\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := run([]string{"--in", in, "--out", out, "--width", "300", "--margin", "10", "--log-level", "error"}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != "png" || cfg.Width != 300 {
		t.Fatalf("image = %s %dx%d", format, cfg.Width, cfg.Height)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind")
	}
}

func TestRunWritesText(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "doc.md")
	out := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(in, []byte("# Hello\n\nworld\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if code := run([]string{"-i", in, "-o", out, "--log-level", "error"}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("Hello\n=====\n\nworld\n")) {
		t.Fatalf("text = %q", got)
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	if code := run([]string{"--theme", "sepia"}); code != 2 {
		t.Fatalf("bad theme exit = %d", code)
	}
	if code := run([]string{"--watch"}); code != 2 {
		t.Fatalf("watch without input exit = %d", code)
	}
}

func TestImageHostWritesEachDocument(t *testing.T) {
	dir := t.TempDir()
	pic := filepath.Join(dir, "pic.png")
	var buf bytes.Buffer
	if err := raster.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), "png"); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(pic, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := filepath.Join(dir, "out.png")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	host := newImageHost(out, "png", raster.Options{Width: 200, Margin: 10}, 2*time.Second, log)

	s := mdlive.NewSession(mdlive.DefaultConfig(), mdlive.WithHost(host), mdlive.WithScheduler(mdlive.WithMode(mdlive.Immediate)))
	defer s.Close()
	s.SetText("![pic](" + pic + ")\n")

	if _, err := os.Stat(out); err != nil {
		t.Fatalf("first paint missing: %v", err)
	}
	host.repaint.Wait()
	if snap := s.Document().Images()[0].Snapshot(); snap.State != resource.LoadedRaster {
		t.Fatalf("image state = %s", snap.State)
	}
}

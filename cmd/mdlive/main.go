package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/arran4/mdlive"
	"github.com/arran4/mdlive/internal/config"
	"github.com/arran4/mdlive/internal/preview"
	"github.com/arran4/mdlive/internal/watch"
	"github.com/arran4/mdlive/raster"
	"github.com/arran4/mdlive/resource"
	"github.com/arran4/mdlive/textview"
)

type options struct {
	in, out, format string

	width, margin int
	pt            float64
	theme         string
	editor        bool

	fontRegular, fontBold, fontItalic, fontBoldItalic, fontMono string

	configFile     string
	baseURL        string
	highlight      bool
	linkFootnotes  bool
	imageFootnotes bool
	diagnostics    bool
	textWidth      int

	watch    bool
	serve    bool
	port     string
	logLevel string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	env := config.Load()
	var o options

	flags := pflag.NewFlagSet("mdlive", pflag.ExitOnError)
	flags.StringVarP(&o.in, "in", "i", "", "Input Markdown file (default: stdin if empty)")
	flags.StringVarP(&o.out, "out", "o", "", "Output file (.png, .jpg or .txt; default: text on stdout)")
	flags.StringVarP(&o.format, "format", "f", "", "Output format: png|jpg|text (default: from --out)")
	flags.IntVar(&o.width, "width", env.Width, "Output image width in pixels")
	flags.IntVar(&o.margin, "margin", env.Margin, "Margin in pixels")
	flags.Float64Var(&o.pt, "pt", env.BaseSize, "Base font size in points (paragraph)")
	flags.StringVarP(&o.theme, "theme", "t", env.Theme, "Theme: light|dark")
	flags.BoolVar(&o.editor, "editor", false, "Render text regions as editable (preview server)")
	flags.StringVar(&o.fontRegular, "font", "", "Path to TTF for regular text (default Go Regular)")
	flags.StringVar(&o.fontBold, "fontbold", "", "Path to TTF for bold text (default Go Bold)")
	flags.StringVar(&o.fontItalic, "fontitalic", "", "Path to TTF for italic text (default Go Italic)")
	flags.StringVar(&o.fontBoldItalic, "fontbolditalic", "", "Path to TTF for bold italic text (default Go Bold Italic)")
	flags.StringVar(&o.fontMono, "fontmono", "", "Path to TTF for mono/code (default Go Mono)")
	flags.StringVarP(&o.configFile, "config", "c", env.ConfigFile, "TOML file with rendering overrides")
	flags.StringVar(&o.baseURL, "base-url", env.BaseURL, "Base for relative image locators (default: the input's directory)")
	flags.BoolVar(&o.highlight, "highlight", env.Highlight, "Syntax highlight fenced code")
	flags.BoolVar(&o.linkFootnotes, "footnotes", env.LinkFootnotes, "List link targets as footnotes in images")
	flags.BoolVar(&o.imageFootnotes, "image-footnotes", env.ImageFootnotes, "List image locators as footnotes in images")
	flags.BoolVar(&o.diagnostics, "diagnostics", false, "Append render diagnostics to image output")
	flags.IntVarP(&o.textWidth, "text-width", "w", env.TextWidth, "Text output width (0 uses terminal width if available)")
	flags.BoolVar(&o.watch, "watch", false, "Re-render whenever the input file changes")
	flags.BoolVar(&o.serve, "serve", false, "Serve a live preview over HTTP")
	flags.StringVarP(&o.port, "port", "p", env.Port, "Preview server port")
	flags.StringVar(&o.logLevel, "log-level", env.LogLevel, "Log level: debug|info|warn|error")
	flags.SetInterspersed(true)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mdlive [flags]\n")
		fmt.Fprintln(os.Stderr, "\nRenders Markdown to an image or text once, on every change (--watch) or over HTTP (--serve).")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}

	env.Width, env.Margin, env.BaseSize, env.Theme = o.width, o.margin, o.pt, o.theme
	env.Port, env.LogLevel, env.TextWidth = o.port, o.logLevel, o.textWidth
	env.LinkFootnotes, env.ImageFootnotes = o.linkFootnotes, o.imageFootnotes
	if err := env.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "mdlive: %v\n", err)
		return 2
	}
	level, _ := env.Level()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	format, err := outputFormat(o.format, o.out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mdlive: %v\n", err)
		return 2
	}
	if o.watch && o.in == "" {
		fmt.Fprintln(os.Stderr, "mdlive: --watch needs --in")
		return 2
	}

	cfg, err := buildConfig(o)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}
	fonts, err := raster.LoadFonts(raster.FontConfig{
		RegularPath:    o.fontRegular,
		BoldPath:       o.fontBold,
		ItalicPath:     o.fontItalic,
		BoldItalicPath: o.fontBoldItalic,
		MonoPath:       o.fontMono,
		SizeBase:       o.pt,
	})
	if err != nil {
		log.Error("loading fonts", "error", err)
		return 1
	}
	ropts := raster.Options{
		Width:          o.width,
		Margin:         o.margin,
		Fonts:          fonts,
		LinkFootnotes:  &o.linkFootnotes,
		ImageFootnotes: &o.imageFootnotes,
		Diagnostics:    o.diagnostics,
		Logger:         log,
	}

	sessionOpts := []mdlive.SessionOption{
		mdlive.WithSessionLogger(log),
		mdlive.WithFetcher(resource.NewMux(
			resource.NewHTTPFetcher(env.FetchTimeout),
			resource.FileFetcher{BaseDir: inputDir(o.in)},
		)),
	}
	if !o.highlight {
		sessionOpts = append(sessionOpts, mdlive.WithSessionHighlighter(nil))
	}

	switch {
	case o.serve:
		return serve(o, env, cfg, sessionOpts, log)
	case o.watch:
		return watchFile(o, env, format, ropts, cfg, sessionOpts, log)
	}
	return renderOnce(o, env, format, ropts, cfg, sessionOpts, log)
}

// buildConfig derives the render configuration from flags and the optional
// TOML file. The file is applied on top of the flags.
func buildConfig(o options) (mdlive.Config, error) {
	cfg := mdlive.DefaultConfig()
	if o.theme == "dark" {
		cfg = mdlive.DarkConfig()
	}
	cfg = cfg.WithBaseSize(o.pt)
	if o.editor {
		cfg = cfg.WithRole(mdlive.RoleEditor)
	}
	if o.baseURL != "" {
		cfg = cfg.WithBaseURL(o.baseURL)
	}
	if o.configFile != "" {
		return mdlive.LoadConfigFile(o.configFile, cfg)
	}
	return cfg, nil
}

// outputFormat resolves the format flag, falling back to the output
// extension.
func outputFormat(format, out string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		switch strings.ToLower(filepath.Ext(out)) {
		case ".png":
			f = "png"
		case ".jpg", ".jpeg":
			f = "jpg"
		case "", ".txt", ".text":
			f = "text"
		default:
			return "", errors.New("unsupported output extension: " + filepath.Ext(out))
		}
	}
	switch f {
	case "png", "jpg", "text":
	case "jpeg":
		f = "jpg"
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
	if f != "text" && out == "" {
		return "", fmt.Errorf("%s output needs --out", f)
	}
	return f, nil
}

func inputDir(in string) string {
	if in == "" {
		return ""
	}
	return filepath.Dir(in)
}

func readInput(in string) ([]byte, error) {
	if in == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(in)
}

func renderOnce(o options, env config.Config, format string, ropts raster.Options, cfg mdlive.Config, sessionOpts []mdlive.SessionOption, log *slog.Logger) int {
	data, err := readInput(o.in)
	if err != nil {
		log.Error("reading input", "error", err)
		return 1
	}
	s := mdlive.NewSession(cfg, append(sessionOpts, mdlive.WithScheduler(mdlive.WithMode(mdlive.Immediate)))...)
	defer s.Close()
	s.SetText(string(data))
	doc := s.Document()

	if len(doc.Images()) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), env.ImageWait)
		if err := raster.WaitImages(ctx, doc); err != nil {
			log.Warn("images still loading", "error", err)
		}
		cancel()
	}

	if format == "text" {
		w, closeOut, err := openOutput(o.out)
		if err != nil {
			log.Error("opening output", "error", err)
			return 1
		}
		defer closeOut()
		if err := textview.Render(w, doc, resolveTextWidth(o.textWidth, o.out)); err != nil {
			log.Error("writing text", "error", err)
			return 1
		}
		return 0
	}

	raster.MeasureVectors(doc)
	page, err := raster.Render(doc, ropts)
	if err != nil {
		log.Error("render failed", "error", err)
		return 1
	}
	if err := writeImage(o.out, format, page); err != nil {
		log.Error("writing image", "error", err)
		return 1
	}
	return 0
}

func watchFile(o options, env config.Config, format string, ropts raster.Options, cfg mdlive.Config, sessionOpts []mdlive.SessionOption, log *slog.Logger) int {
	var host mdlive.Host
	if format == "text" {
		host = newTextHost(o.out, resolveTextWidth(o.textWidth, o.out), log)
	} else {
		host = newImageHost(o.out, format, ropts, env.ImageWait, log)
	}
	s := mdlive.NewSession(cfg, append(sessionOpts,
		mdlive.WithHost(host),
		mdlive.WithScheduler(mdlive.WithDelay(env.Debounce)),
	)...)
	defer s.Close()

	data, err := readInput(o.in)
	if err != nil {
		log.Error("reading input", "error", err)
		return 1
	}
	s.SetText(string(data))
	s.Flush()

	w, err := watch.New(o.in, func(b []byte) { s.SetText(string(b)) }, log)
	if err != nil {
		log.Error("watching input", "error", err)
		return 1
	}
	defer w.Close()
	log.Info("watching", "path", w.Path())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")
	return 0
}

func serve(o options, env config.Config, cfg mdlive.Config, sessionOpts []mdlive.SessionOption, log *slog.Logger) int {
	s := mdlive.NewSession(cfg, append(sessionOpts, mdlive.WithScheduler(mdlive.WithDelay(env.Debounce)))...)
	defer s.Close()

	if o.in != "" {
		data, err := os.ReadFile(o.in)
		if err != nil {
			log.Error("reading input", "error", err)
			return 1
		}
		s.SetText(string(data))
		s.Flush()
		if o.watch {
			w, err := watch.New(o.in, func(b []byte) { s.SetText(string(b)) }, log)
			if err != nil {
				log.Error("watching input", "error", err)
				return 1
			}
			defer w.Close()
		}
	}

	httpServer := &http.Server{
		Addr:         ":" + env.Port,
		Handler:      preview.NewServer(s, log, env),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting mdlive preview", "port", env.Port, "session", s.ID())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		return 1
	}
	return 0
}

func resolveTextWidth(width int, out string) int {
	if width > 0 {
		return width
	}
	if out != "" {
		return textview.DefaultWidth
	}
	return terminalWidth(textview.DefaultWidth)
}

func terminalWidth(fallback int) int {
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			return w
		}
	}
	if value := os.Getenv("COLUMNS"); value != "" {
		if w, err := strconv.Atoi(value); err == nil && w > 0 {
			return w
		}
	}
	return fallback
}

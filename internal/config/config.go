package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Rendering
	ConfigFile string // TOML overrides for the render config
	Theme      string
	BaseSize   float64
	BaseURL    string
	Highlight  bool

	// Raster output
	Width          int
	Margin         int
	LinkFootnotes  bool
	ImageFootnotes bool

	// Text output; 0 uses the terminal width
	TextWidth int

	// Live updates
	Debounce time.Duration

	// Images
	FetchTimeout time.Duration
	ImageWait    time.Duration

	// Preview server
	MaxSourceBytes int64

	LogLevel string
}

func Load() Config {
	cfg := Config{
		Port: envOr("MDLIVE_PORT", "8090"),

		ConfigFile: os.Getenv("MDLIVE_CONFIG"),
		Theme:      envOr("MDLIVE_THEME", "light"),
		BaseSize:   envFloat("MDLIVE_BASE_SIZE", 16),
		BaseURL:    os.Getenv("MDLIVE_BASE_URL"),
		Highlight:  envBool("MDLIVE_HIGHLIGHT", true),

		Width:          envInt("MDLIVE_WIDTH", 1024),
		Margin:         envInt("MDLIVE_MARGIN", 48),
		LinkFootnotes:  envBool("MDLIVE_LINK_FOOTNOTES", true),
		ImageFootnotes: envBool("MDLIVE_IMAGE_FOOTNOTES", false),

		TextWidth: envInt("MDLIVE_TEXT_WIDTH", 0),

		Debounce: envDuration("MDLIVE_DEBOUNCE", 300*time.Millisecond),

		FetchTimeout: envDuration("MDLIVE_FETCH_TIMEOUT", 15*time.Second),
		ImageWait:    envDuration("MDLIVE_IMAGE_WAIT", 10*time.Second),

		MaxSourceBytes: envInt64("MDLIVE_MAX_SOURCE_BYTES", 4<<20), // 4MB

		LogLevel: envOr("MDLIVE_LOG_LEVEL", "info"),
	}

	if cfg.BaseSize <= 0 {
		cfg.BaseSize = 16
	}
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 48
	}
	if cfg.TextWidth < 0 {
		cfg.TextWidth = 0
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.ImageWait <= 0 {
		cfg.ImageWait = 10 * time.Second
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 4 << 20
	}

	return cfg
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Theme) {
	case "light", "dark":
	default:
		return fmt.Errorf("theme %q: want light or dark", c.Theme)
	}
	if c.Width <= 2*c.Margin {
		return fmt.Errorf("width %d leaves no room inside margin %d", c.Width, c.Margin)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8090" || cfg.Width != 1024 || cfg.Margin != 48 || cfg.Theme != "light" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Debounce != 300*time.Millisecond || !cfg.LinkFootnotes || cfg.ImageFootnotes {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MDLIVE_PORT", "9000")
	t.Setenv("MDLIVE_THEME", "dark")
	t.Setenv("MDLIVE_BASE_SIZE", "12.5")
	t.Setenv("MDLIVE_WIDTH", "-3")
	t.Setenv("MDLIVE_DEBOUNCE", "50ms")
	t.Setenv("MDLIVE_HIGHLIGHT", "false")
	t.Setenv("MDLIVE_MAX_SOURCE_BYTES", "not-a-number")
	t.Setenv("MDLIVE_LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.Port != "9000" || cfg.Theme != "dark" || cfg.BaseSize != 12.5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Width != 1024 {
		t.Fatalf("negative width not reset: %d", cfg.Width)
	}
	if cfg.Debounce != 50*time.Millisecond || cfg.Highlight {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MaxSourceBytes != 4<<20 {
		t.Fatalf("bad number should fall back: %d", cfg.MaxSourceBytes)
	}
	if l, err := cfg.Level(); err != nil || l != slog.LevelDebug {
		t.Fatalf("level = %v, %v", l, err)
	}
}

func TestValidate(t *testing.T) {
	bad := []Config{
		{Theme: "sepia", Width: 100, Margin: 10, LogLevel: "info"},
		{Theme: "light", Width: 100, Margin: 50, LogLevel: "info"},
		{Theme: "light", Width: 100, Margin: 10, LogLevel: "loud"},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) succeeded", c)
		}
	}
}

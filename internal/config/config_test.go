package config

import (
	"strings"
	"testing"
	"time"

	"image-magic/internal/gemini"
	"image-magic/internal/prompt"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "fallback-key")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("MAX_CONCURRENT", "0")
	t.Setenv("MAX_GENERATION_CONCURRENCY", "")
	t.Setenv("GEMINI_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiAPIKey != "fallback-key" {
		t.Fatalf("api key = %q", cfg.GeminiAPIKey)
	}
	if cfg.GeminiBackend != gemini.BackendREST || cfg.MaxConcurrent != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.GenerationConcurrency != 0 {
		t.Fatalf("generation calls should be unbounded by default, got %d", cfg.GenerationConcurrency)
	}
	if cfg.MediaGroupDebounce != 1200*time.Millisecond || cfg.MaxUploadBytes != 50<<20 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if err := cfg.RequireGemini(); err != nil {
		t.Fatalf("RequireGemini: %v", err)
	}
	if err := cfg.RequireTelegram(); err == nil {
		t.Fatal("RequireTelegram should fail without a token")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", " key ")
	t.Setenv("GEMINI_BACKEND", "SDK")
	t.Setenv("DEBUG", "true")
	t.Setenv("SESSION_IDLE_MINUTES", "5")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "nope")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiAPIKey != "key" || cfg.GeminiBackend != gemini.BackendSDK || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SessionIdle != 5*time.Minute || cfg.RequestTimeout != 180*time.Second {
		t.Fatalf("durations = %v, %v", cfg.SessionIdle, cfg.RequestTimeout)
	}
}

func TestGenerationConcurrency(t *testing.T) {
	for _, tc := range []struct {
		value string
		want  int
	}{
		{"", 0},
		{"0", 0},
		{"-3", 0},
		{"6", 6},
	} {
		t.Setenv("MAX_GENERATION_CONCURRENCY", tc.value)
		t.Setenv("MAX_CONCURRENT", "2")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.GenerationConcurrency != tc.want || cfg.MaxConcurrent != 2 {
			t.Fatalf("MAX_GENERATION_CONCURRENCY=%q: got %d (updates %d), want %d",
				tc.value, cfg.GenerationConcurrency, cfg.MaxConcurrent, tc.want)
		}
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("GEMINI_BACKEND", "grpc")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "GEMINI_BACKEND") {
		t.Fatalf("err = %v", err)
	}
}

func TestPresetApply(t *testing.T) {
	p, err := ParsePreset([]byte(`
mode = "banner"
theme = "summer"
aspect_ratio = "9:16"
variants = 9
`))
	if err != nil {
		t.Fatalf("ParsePreset: %v", err)
	}

	base := prompt.DefaultSettings()
	base.Instruction = "keep me"
	got := p.Apply(base)

	if got.Mode != prompt.ModeBanner || got.Theme != "summer" || got.AspectRatio != prompt.AspectPortrait {
		t.Fatalf("settings = %+v", got)
	}
	if got.Variants != prompt.MaxVariants || got.Instruction != "keep me" {
		t.Fatalf("settings = %+v", got)
	}
}

func TestPresetRejectsUnknownKeys(t *testing.T) {
	if _, err := ParsePreset([]byte(`colour = "red"`)); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if _, err := ParsePreset([]byte(`mode = "sketch"`)); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"image-magic/internal/gemini"
)

type Config struct {
	TelegramToken string
	GeminiAPIKey  string
	GeminiBackend string

	LogLevel  string
	LogFormat string
	Debug     bool

	PreferIPv4 bool

	MediaGroupDebounce time.Duration
	// MaxConcurrent bounds the bot updates handled at once.
	MaxConcurrent int
	// GenerationConcurrency bounds generator calls per session. Zero, the
	// default, issues every call of a run at once.
	GenerationConcurrency int

	RequestTimeout   time.Duration
	HTTPTimeout      time.Duration
	GeminiBaseURL    string
	GeminiAPIVersion string

	WebAddr        string
	SessionIdle    time.Duration
	ArchiveMethod  string
	MaxUploadBytes int64
}

// Load reads the environment. Credentials are checked separately by
// RequireGemini and RequireTelegram because not every binary needs both.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:              strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		LogFormat:             strings.ToLower(strings.TrimSpace(getEnv("LOG_FORMAT", ""))),
		Debug:                 getEnvBool("DEBUG", false),
		PreferIPv4:            getEnvBool("PREFER_IPV4", true),
		MediaGroupDebounce:    time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		MaxConcurrent:         getEnvInt("MAX_CONCURRENT", 4),
		GenerationConcurrency: getEnvInt("MAX_GENERATION_CONCURRENCY", 0),
		RequestTimeout:        time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 180)) * time.Second,
		HTTPTimeout:           time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		GeminiBackend:         strings.ToLower(getEnv("GEMINI_BACKEND", gemini.BackendREST)),
		GeminiBaseURL:         strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion:      strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		WebAddr:               getEnv("WEB_ADDR", ":8080"),
		SessionIdle:           time.Duration(getEnvInt("SESSION_IDLE_MINUTES", 60)) * time.Minute,
		ArchiveMethod:         strings.ToLower(getEnv("ARCHIVE_METHOD", "deflate")),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20,
	}

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", strings.TrimSpace(os.Getenv("API_KEY")))

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	switch cfg.GeminiBackend {
	case gemini.BackendREST, gemini.BackendSDK:
	default:
		return Config{}, fmt.Errorf("GEMINI_BACKEND must be %q or %q, got %q", gemini.BackendREST, gemini.BackendSDK, cfg.GeminiBackend)
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.GenerationConcurrency < 0 {
		cfg.GenerationConcurrency = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.SessionIdle < 0 {
		cfg.SessionIdle = 0
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}

	return cfg, nil
}

func (c Config) RequireGemini() error {
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}
	return nil
}

func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return c.RequireGemini()
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

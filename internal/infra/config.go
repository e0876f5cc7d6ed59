package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	DefaultProvider string
	DefaultModel    string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	ReplicateAPIKey  string
	ReplicateModel   string
	ReplicateBaseURL string

	StabilityAPIKey  string
	StabilityBaseURL string

	HuggingFaceAPIKey  string
	HuggingFaceModel   string
	HuggingFaceBaseURL string

	MaxUploadBytes    int64
	AllowedImageTypes []string
	AllowedOrigins    []string

	AutosavePrompts  bool
	CleanupAfterDays int

	GeoIPDBPath string

	MaxConcurrentGenerations int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		DefaultProvider: getEnv("DEFAULT_PROVIDER", "gemini"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gemini-2.5-flash-image-preview"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image-preview"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		ReplicateAPIKey:  os.Getenv("REPLICATE_API_KEY"),
		ReplicateModel:   getEnv("REPLICATE_MODEL", "black-forest-labs/flux-dev"),
		ReplicateBaseURL: getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),

		StabilityAPIKey:  os.Getenv("STABILITY_API_KEY"),
		StabilityBaseURL: getEnv("STABILITY_BASE_URL", "https://api.stability.ai/v2beta/stable-image"),

		HuggingFaceAPIKey:  os.Getenv("HUGGINGFACE_API_KEY"),
		HuggingFaceModel:   getEnv("HUGGINGFACE_MODEL", "stabilityai/stable-diffusion-xl-base-1.0"),
		HuggingFaceBaseURL: getEnv("HUGGINGFACE_BASE_URL", "https://api-inference.huggingface.co/models"),

		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		AllowedImageTypes: getEnvList("ALLOWED_IMAGE_TYPES", []string{"image/jpeg", "image/png", "image/gif", "image/webp"}),
		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", nil),

		AutosavePrompts:  getEnvBool("AUTOSAVE_PROMPTS", false),
		CleanupAfterDays: getEnvInt("CLEANUP_AFTER_DAYS", 90),

		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		MaxConcurrentGenerations: getEnvInt("MAX_CONCURRENT_GENERATIONS", 8),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Package handlers implements the HTTP surface of the generation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"server/internal/domain"
	image "server/internal/providers/image"
	"server/internal/service"
)

// Generator is the slice of the generation service the handlers use.
type Generator interface {
	Generate(ctx context.Context, in service.GenerateInput) (*service.GenerateResult, error)
	SavePrompt(ctx context.Context, in service.SaveInput) (*domain.PromptRecord, error)
	Providers() []string
}

// App carries handler dependencies. Gallery and stats responses are
// served through a short-lived cache so list traffic does not hammer
// the database.
type App struct {
	Logger    zerolog.Logger
	Generator Generator
	Ledger    domain.PromptLedger
	Cache     *gocache.Cache

	MaxUploadBytes    int64
	AllowedImageTypes []string
}

// NewApp builds the handler container with a 30s response cache.
func NewApp(logger zerolog.Logger, generator Generator, ledger domain.PromptLedger, maxUploadBytes int64, allowedTypes []string) *App {
	return &App{
		Logger:            logger,
		Generator:         generator,
		Ledger:            ledger,
		Cache:             gocache.New(30*time.Second, time.Minute),
		MaxUploadBytes:    maxUploadBytes,
		AllowedImageTypes: allowedTypes,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

// serviceError maps domain and provider errors to HTTP responses.
// Internal detail never leaves the process; 5xx bodies carry a fixed
// message and the cause goes to the log.
func (a *App) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPrompt), errors.Is(err, domain.ErrInvalidImage):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "prompt not found")
		return
	case errors.Is(err, domain.ErrDuplicatePrompt):
		a.error(w, http.StatusConflict, "duplicate_prompt", "prompt already exists")
		return
	}

	var unsupported *image.UnsupportedProviderError
	if errors.As(err, &unsupported) {
		a.error(w, http.StatusBadRequest, "bad_request", unsupported.Error())
		return
	}

	var perr *image.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case image.KindAuth:
			a.error(w, http.StatusUnauthorized, "provider_auth", "provider rejected the API key")
		case image.KindRateLimit:
			a.error(w, http.StatusTooManyRequests, "rate_limited", "provider rate limit exceeded")
		case image.KindInvalidRequest:
			a.error(w, http.StatusBadRequest, "bad_request", "provider rejected the request")
		case image.KindContentBlocked:
			a.error(w, http.StatusBadRequest, "content_blocked", "prompt blocked by content policy: "+perr.BlockReason)
		default:
			a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("generation failed")
			a.error(w, http.StatusInternalServerError, "internal", "generation failed")
		}
		return
	}

	a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	a.error(w, http.StatusInternalServerError, "internal", "internal error")
}

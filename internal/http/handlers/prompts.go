package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"

	"server/internal/domain"
	"server/internal/service"
)

type promptResponse struct {
	ID           int64     `json:"id"`
	Prompt       string    `json:"prompt"`
	Hash         string    `json:"hash"`
	TotalUses    int64     `json:"total_uses"`
	TotalFails   int64     `json:"total_fails"`
	FirstUsedAt  time.Time `json:"first_used_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	Model        string    `json:"model,omitempty"`
	HasThumbnail bool      `json:"has_thumbnail"`
	ThumbWidth   int       `json:"thumbnail_width,omitempty"`
	ThumbHeight  int       `json:"thumbnail_height,omitempty"`
}

func toPromptResponse(record *domain.PromptRecord) promptResponse {
	resp := promptResponse{
		ID:           record.ID,
		Prompt:       record.PromptText,
		Hash:         record.PromptHash,
		TotalUses:    record.TotalUses,
		TotalFails:   record.TotalFails,
		FirstUsedAt:  record.FirstUsedAt,
		LastUsedAt:   record.LastUsedAt,
		Model:        record.Model,
		HasThumbnail: record.HasThumbnail(),
	}
	if record.Thumbnail != nil {
		resp.ThumbWidth = record.Thumbnail.Width
		resp.ThumbHeight = record.Thumbnail.Height
	}
	return resp
}

func toPromptList(records []domain.PromptRecord) []promptResponse {
	items := make([]promptResponse, 0, len(records))
	for i := range records {
		items = append(items, toPromptResponse(&records[i]))
	}
	return items
}

type savePromptRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	// Image is a base64 payload rendered into the stored thumbnail.
	Image string `json:"image,omitempty"`
}

// SavePrompt stores a prompt explicitly, optionally with a thumbnail
// rendered from an attached image.
func (a *App) SavePrompt(w http.ResponseWriter, r *http.Request) {
	var req savePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	in := service.SaveInput{Prompt: req.Prompt, Model: req.Model}
	if req.Image != "" {
		data, err := decodeBase64Image(req.Image)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "image must be base64-encoded")
			return
		}
		in.ImageData = data
	}

	record, err := a.Generator.SavePrompt(r.Context(), in)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.invalidateListCaches()
	a.json(w, http.StatusCreated, toPromptResponse(record))
}

// ListPrompts serves the gallery: thumbnail-bearing prompts sorted by
// recency or popularity. Responses are cached briefly.
func (a *App) ListPrompts(w http.ResponseWriter, r *http.Request) {
	sortBy := strings.ToLower(r.URL.Query().Get("sort"))
	if sortBy == "" {
		sortBy = "recent"
	}
	limit := queryInt(r, "limit", 20)
	model := r.URL.Query().Get("model")

	cacheKey := fmt.Sprintf("prompts:%s:%d:%s", sortBy, limit, model)
	if cached, ok := a.Cache.Get(cacheKey); ok {
		a.json(w, http.StatusOK, cached)
		return
	}

	var (
		records []domain.PromptRecord
		err     error
	)
	switch sortBy {
	case "recent":
		records, err = a.Ledger.Recent(r.Context(), limit, model)
	case "popular":
		records, err = a.Ledger.Popular(r.Context(), limit, model)
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "sort must be recent or popular")
		return
	}
	if err != nil {
		a.serviceError(w, r, err)
		return
	}

	payload := map[string]any{"items": toPromptList(records)}
	a.Cache.Set(cacheKey, payload, gocache.DefaultExpiration)
	a.json(w, http.StatusOK, payload)
}

// MostFailedPrompts lists prompts ordered by failure count.
func (a *App) MostFailedPrompts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	model := r.URL.Query().Get("model")

	cacheKey := fmt.Sprintf("prompts:failed:%d:%s", limit, model)
	if cached, ok := a.Cache.Get(cacheKey); ok {
		a.json(w, http.StatusOK, cached)
		return
	}

	records, err := a.Ledger.MostFailed(r.Context(), limit, model)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	payload := map[string]any{"items": toPromptList(records)}
	a.Cache.Set(cacheKey, payload, gocache.DefaultExpiration)
	a.json(w, http.StatusOK, payload)
}

// SearchPrompts finds prompts whose text contains the query.
func (a *App) SearchPrompts(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "q is required")
		return
	}
	records, err := a.Ledger.Search(r.Context(), query, queryInt(r, "limit", 20))
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": toPromptList(records)})
}

// PromptStats returns ledger-wide aggregates.
func (a *App) PromptStats(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "prompts:stats"
	if cached, ok := a.Cache.Get(cacheKey); ok {
		a.json(w, http.StatusOK, cached)
		return
	}

	stats, err := a.Ledger.Stats(r.Context())
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	payload := map[string]any{
		"total_prompts":          stats.TotalPrompts,
		"total_uses":             stats.TotalUses,
		"total_fails":            stats.TotalFails,
		"prompts_with_thumbnail": stats.PromptsWithThumbnail,
		"most_popular_prompt":    stats.MostPopularPrompt,
		"most_popular_uses":      stats.MostPopularUses,
		"most_failed_prompt":     stats.MostFailedPrompt,
		"most_failed_fails":      stats.MostFailedFails,
	}
	a.Cache.Set(cacheKey, payload, gocache.DefaultExpiration)
	a.json(w, http.StatusOK, payload)
}

// GetPrompt fetches a single record by id.
func (a *App) GetPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := a.promptID(w, r)
	if !ok {
		return
	}
	record, err := a.Ledger.GetByID(r.Context(), id)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toPromptResponse(record))
}

// GetThumbnail serves the stored preview image raw.
func (a *App) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := a.promptID(w, r)
	if !ok {
		return
	}
	thumb, err := a.Ledger.GetThumbnail(r.Context(), id)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", thumb.MIME)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(thumb.Data)
}

type updatePromptRequest struct {
	Prompt string `json:"prompt"`
}

// UpdatePrompt replaces the text of an existing record.
func (a *App) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := a.promptID(w, r)
	if !ok {
		return
	}
	var req updatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	text := strings.TrimSpace(req.Prompt)
	if text == "" || utf8.RuneCountInString(text) > domain.MaxPromptLength {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt must be 1-2000 characters")
		return
	}

	record, err := a.Ledger.UpdateText(r.Context(), id, text)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.invalidateListCaches()
	a.json(w, http.StatusOK, toPromptResponse(record))
}

// DeletePrompt removes a record by id.
func (a *App) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := a.promptID(w, r)
	if !ok {
		return
	}
	deleted, err := a.Ledger.Delete(r.Context(), id)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	if !deleted {
		a.error(w, http.StatusNotFound, "not_found", "prompt not found")
		return
	}
	a.invalidateListCaches()
	w.WriteHeader(http.StatusNoContent)
}

// Providers lists the registered provider names.
func (a *App) Providers(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"providers": a.Generator.Providers()})
}

// Health reports liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) promptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (a *App) invalidateListCaches() {
	a.Cache.Flush()
}

// decodeBase64Image accepts both raw base64 and data URLs.
func decodeBase64Image(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

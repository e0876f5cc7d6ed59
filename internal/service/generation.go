// Package service orchestrates image generation against vendor
// providers and keeps the prompt ledger in sync with outcomes.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"server/internal/domain"
	"server/internal/infra"
	image "server/internal/providers/image"
	"server/internal/thumbnail"
)

// ProviderFactory resolves provider names to adapters.
type ProviderFactory interface {
	Create(name string, apiKey ...string) (image.Generator, error)
	Available() []string
}

// GenerateInput is one generation request.
type GenerateInput struct {
	Prompt   string
	Images   []domain.File
	Provider string
	// APIKey overrides the configured vendor key when non-empty.
	APIKey string
	// PromptID links the request to a known ledger record. Zero means
	// the prompt is identified by its text.
	PromptID int64
}

// GenerateResult is a completed generation.
type GenerateResult struct {
	Data        []byte
	ContentType string
	Provider    string
	Model       string
	// ReferenceDataURL echoes the first reference image as a data URL
	// so clients can render the input beside the output.
	ReferenceDataURL string
	// Record is the ledger row touched by this generation, nil when
	// nothing was recorded.
	Record *domain.PromptRecord
}

// GenerationService runs generations and applies the ledger rules:
// successes bump total_uses, failures of known prompts bump
// total_fails, and unseen failing prompts are never persisted.
type GenerationService struct {
	factory  ProviderFactory
	ledger   domain.PromptLedger
	logger   zerolog.Logger
	sem      *semaphore.Weighted
	fallback string
	autoSave bool
}

// NewGenerationService wires the orchestrator. Vendor calls are
// bounded by cfg.MaxConcurrentGenerations.
func NewGenerationService(cfg *infra.Config, factory ProviderFactory, ledger domain.PromptLedger, logger zerolog.Logger) *GenerationService {
	limit := cfg.MaxConcurrentGenerations
	if limit <= 0 {
		limit = 8
	}
	return &GenerationService{
		factory:  factory,
		ledger:   ledger,
		logger:   logger.With().Str("component", "generation").Logger(),
		sem:      semaphore.NewWeighted(int64(limit)),
		fallback: cfg.DefaultProvider,
		autoSave: cfg.AutosavePrompts,
	}
}

// Generate validates the prompt, dispatches to the requested provider
// and records the outcome. Ledger bookkeeping is best-effort: a
// storage error never masks the generation result.
func (s *GenerationService) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	prompt, err := validatePrompt(in.Prompt)
	if err != nil {
		return nil, err
	}

	providerName := strings.TrimSpace(in.Provider)
	if providerName == "" {
		providerName = s.fallback
	}
	gen, err := s.factory.Create(providerName, in.APIKey)
	if err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	data, contentType, genErr := dispatch(ctx, gen, prompt, in.Images)
	if genErr != nil {
		s.recordFailure(ctx, in.PromptID, prompt)
		return nil, genErr
	}

	result := &GenerateResult{
		Data:        data,
		ContentType: contentType,
		Provider:    gen.Name(),
		Model:       gen.Model(),
	}
	if len(in.Images) > 0 {
		if dataURL, derr := image.ProcessReferenceImage(in.Images[0]); derr == nil {
			result.ReferenceDataURL = dataURL
		}
	}
	result.Record = s.recordSuccess(ctx, in.PromptID, prompt, gen.Model(), data)
	return result, nil
}

func dispatch(ctx context.Context, gen image.Generator, prompt string, imgs []domain.File) ([]byte, string, error) {
	switch len(imgs) {
	case 0:
		return gen.GenerateFromText(ctx, prompt)
	case 1:
		return gen.GenerateFromImageAndText(ctx, imgs[0], prompt)
	default:
		return gen.GenerateFromMultipleImagesAndText(ctx, imgs, prompt)
	}
}

// recordSuccess applies the success-path ledger rules: a known id is
// bumped, a known text is updated, and an unseen text is autosaved
// only when the switch is on.
func (s *GenerationService) recordSuccess(ctx context.Context, promptID int64, prompt, model string, imageData []byte) *domain.PromptRecord {
	if promptID > 0 {
		if _, err := s.ledger.IncrementUsageByID(ctx, promptID); err != nil {
			s.logger.Warn().Err(err).Int64("prompt_id", promptID).Msg("usage increment failed")
		}
		record, err := s.ledger.GetByID(ctx, promptID)
		if err != nil {
			return nil
		}
		return record
	}

	exists, err := s.ledger.ExistsByText(ctx, prompt)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ledger lookup failed")
		return nil
	}
	if exists {
		record, err := s.ledger.Update(ctx, prompt, model)
		if err != nil {
			s.logger.Warn().Err(err).Msg("usage update failed")
			return nil
		}
		return record
	}
	if !s.autoSave {
		return nil
	}
	return s.ledger.AttemptSave(ctx, prompt, model, s.renderThumbnail(imageData))
}

// recordFailure bumps total_fails for known prompts only. Unseen
// prompts stay out of the ledger so failures alone never persist text.
func (s *GenerationService) recordFailure(ctx context.Context, promptID int64, prompt string) {
	var err error
	if promptID > 0 {
		_, err = s.ledger.TrackFailureByID(ctx, promptID)
	} else {
		_, err = s.ledger.TrackFailure(ctx, prompt)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failure tracking failed")
	}
}

func (s *GenerationService) renderThumbnail(imageData []byte) *domain.Thumbnail {
	if len(imageData) == 0 {
		return nil
	}
	thumb, err := thumbnail.Generate(imageData, thumbnail.DefaultMaxSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("thumbnail render failed")
		return nil
	}
	return thumb
}

// SaveInput is an explicit save request for the prompt ledger.
type SaveInput struct {
	Prompt string
	Model  string
	// ImageData, when present, is rendered into the stored thumbnail.
	ImageData []byte
}

// SavePrompt stores a prompt explicitly. An existing record is
// treated as a reuse: its counters are bumped instead of erroring.
func (s *GenerationService) SavePrompt(ctx context.Context, in SaveInput) (*domain.PromptRecord, error) {
	prompt, err := validatePrompt(in.Prompt)
	if err != nil {
		return nil, err
	}

	record := domain.NewPromptRecord(prompt, in.Model)
	record.TotalUses = 1
	record.Thumbnail = s.renderThumbnail(in.ImageData)

	created, err := s.ledger.Create(ctx, record)
	if err == nil {
		return created, nil
	}
	if errors.Is(err, domain.ErrDuplicatePrompt) {
		return s.ledger.Update(ctx, prompt, in.Model)
	}
	return nil, err
}

// Providers lists the registered provider names.
func (s *GenerationService) Providers() []string {
	return s.factory.Available()
}

func validatePrompt(prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", fmt.Errorf("%w: prompt is empty", domain.ErrInvalidPrompt)
	}
	// The bound is in characters, not bytes; multibyte prompts count
	// by rune.
	if utf8.RuneCountInString(trimmed) > domain.MaxPromptLength {
		return "", fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrInvalidPrompt, domain.MaxPromptLength)
	}
	return trimmed, nil
}

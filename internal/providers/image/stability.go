package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
)

const stabilityProviderName = "stability"

// StabilityOptions controls how the Stability adapter is configured.
type StabilityOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// StabilityGenerator talks to the Stability v2beta stable-image
// endpoints: generate/sd3 for text-to-image, edit for img2img. The
// API accepts one init image, so multi-image requests degrade to the
// first image.
type StabilityGenerator struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type stabilityErrorResponse struct {
	ID     string   `json:"id,omitempty"`
	Name   string   `json:"name,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// NewStabilityGenerator constructs the adapter; the API key must be
// present at construction time.
func NewStabilityGenerator(opts StabilityOptions) (*StabilityGenerator, error) {
	token := strings.TrimSpace(opts.APIKey)
	if token == "" {
		return nil, errors.New("stability: api key is required (set STABILITY_API_KEY)")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.stability.ai/v2beta/stable-image"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &StabilityGenerator{
		token:      token,
		baseURL:    baseURL,
		httpClient: client,
	}, nil
}

func (s *StabilityGenerator) Name() string { return stabilityProviderName }

func (s *StabilityGenerator) Model() string { return "sd3" }

func (s *StabilityGenerator) GenerateFromText(ctx context.Context, prompt string) ([]byte, string, error) {
	fields := map[string]string{
		"prompt":        prompt,
		"output_format": "png",
	}
	return s.invoke(ctx, "/generate/sd3", fields, nil)
}

func (s *StabilityGenerator) GenerateFromImageAndText(ctx context.Context, img domain.File, prompt string) ([]byte, string, error) {
	fields := map[string]string{
		"prompt":   prompt,
		"mode":     "image-to-image",
		"strength": "0.7",
	}
	return s.invoke(ctx, "/generate/sd3", fields, img)
}

// GenerateFromMultipleImagesAndText uses the first image only; the
// edit API takes a single init image.
func (s *StabilityGenerator) GenerateFromMultipleImagesAndText(ctx context.Context, imgs []domain.File, prompt string) ([]byte, string, error) {
	if len(imgs) == 0 {
		return nil, "", &Error{Kind: KindInvalidRequest, Provider: stabilityProviderName, Detail: "at least one image is required"}
	}
	return s.GenerateFromImageAndText(ctx, imgs[0], prompt)
}

func (s *StabilityGenerator) invoke(ctx context.Context, path string, fields map[string]string, img domain.File) ([]byte, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write form field: %w", err)
		}
	}
	if img != nil {
		data, err := readFile(img)
		if err != nil {
			return nil, "", &Error{Kind: KindInvalidRequest, Provider: stabilityProviderName, Err: err}
		}
		part, err := writer.CreateFormFile("image", firstNonEmpty(img.Name(), "image.png"))
		if err != nil {
			return nil, "", fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("write form file: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &body)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "image/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", transportError(stabilityProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr stabilityErrorResponse
		detail := ""
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			detail = strings.Join(apiErr.Errors, "; ")
			// Moderation refusals arrive with a dedicated error name.
			if apiErr.Name == "content_moderation" {
				return nil, "", blockedError(stabilityProviderName, apiErr.Name)
			}
		}
		return nil, "", classifyStatus(stabilityProviderName, resp.StatusCode, detail)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", transportError(stabilityProviderName, err)
	}
	if len(data) == 0 {
		return nil, "", noImageError(stabilityProviderName, "empty response body")
	}
	return data, firstNonEmpty(resp.Header.Get("Content-Type"), "image/png"), nil
}

var _ Generator = (*StabilityGenerator)(nil)

package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
)

const (
	huggingFaceProviderName = "huggingface"

	// hfDefaultLoadingDelay is how long to wait before the single
	// retry after a 503 "model loading" response.
	hfDefaultLoadingDelay = 10 * time.Second
)

// HuggingFaceOptions controls how the Hugging Face adapter is configured.
type HuggingFaceOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client

	// LoadingRetryDelay overrides the wait before the single retry on
	// a model-loading response. Zero means the default.
	LoadingRetryDelay time.Duration
}

// HuggingFaceGenerator calls the serverless Inference API. The hosted
// diffusion endpoints are text-conditioned only: reference images are
// consumed to honor the stream contract but do not condition the
// output, and multi-image requests degrade to the first image.
type HuggingFaceGenerator struct {
	token        string
	model        string
	baseURL      string
	httpClient   *http.Client
	loadingDelay time.Duration
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
}

type hfErrorResponse struct {
	Error         string  `json:"error,omitempty"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// NewHuggingFaceGenerator constructs the adapter; the API key must be
// present at construction time.
func NewHuggingFaceGenerator(opts HuggingFaceOptions) (*HuggingFaceGenerator, error) {
	token := strings.TrimSpace(opts.APIKey)
	if token == "" {
		return nil, errors.New("huggingface: api key is required (set HUGGINGFACE_API_KEY)")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co/models"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "stabilityai/stable-diffusion-xl-base-1.0"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	delay := opts.LoadingRetryDelay
	if delay <= 0 {
		delay = hfDefaultLoadingDelay
	}

	return &HuggingFaceGenerator{
		token:        token,
		model:        model,
		baseURL:      baseURL,
		httpClient:   client,
		loadingDelay: delay,
	}, nil
}

func (h *HuggingFaceGenerator) Name() string { return huggingFaceProviderName }

func (h *HuggingFaceGenerator) Model() string { return h.model }

func (h *HuggingFaceGenerator) GenerateFromText(ctx context.Context, prompt string) ([]byte, string, error) {
	return h.infer(ctx, prompt, true)
}

func (h *HuggingFaceGenerator) GenerateFromImageAndText(ctx context.Context, img domain.File, prompt string) ([]byte, string, error) {
	// Read the stream to honor the seek contract even though the
	// hosted endpoint cannot condition on it.
	if _, err := readFile(img); err != nil {
		return nil, "", &Error{Kind: KindInvalidRequest, Provider: huggingFaceProviderName, Err: err}
	}
	return h.infer(ctx, prompt, true)
}

// GenerateFromMultipleImagesAndText uses the first image only.
func (h *HuggingFaceGenerator) GenerateFromMultipleImagesAndText(ctx context.Context, imgs []domain.File, prompt string) ([]byte, string, error) {
	if len(imgs) == 0 {
		return nil, "", &Error{Kind: KindInvalidRequest, Provider: huggingFaceProviderName, Detail: "at least one image is required"}
	}
	return h.GenerateFromImageAndText(ctx, imgs[0], prompt)
}

func (h *HuggingFaceGenerator) infer(ctx context.Context, prompt string, mayRetry bool) ([]byte, string, error) {
	body, err := json.Marshal(hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			NumInferenceSteps: 50,
			GuidanceScale:     7.5,
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := h.baseURL + "/" + url.PathEscape(h.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, "", transportError(huggingFaceProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable && mayRetry {
		// The serverless API answers 503 while the model is cold.
		// One retry after a fixed delay; a second 503 propagates.
		io.Copy(io.Discard, resp.Body)
		select {
		case <-time.After(h.loadingDelay):
		case <-ctx.Done():
			return nil, "", transportError(huggingFaceProviderName, ctx.Err())
		}
		return h.infer(ctx, prompt, false)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr hfErrorResponse
		detail := ""
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			detail = apiErr.Error
		}
		return nil, "", classifyStatus(huggingFaceProviderName, resp.StatusCode, detail)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", transportError(huggingFaceProviderName, err)
	}
	if len(data) == 0 {
		return nil, "", noImageError(huggingFaceProviderName, "empty response body")
	}
	return data, firstNonEmpty(resp.Header.Get("Content-Type"), "image/png"), nil
}

var _ Generator = (*HuggingFaceGenerator)(nil)

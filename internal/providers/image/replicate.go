package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
)

const replicateProviderName = "replicate"

// ReplicateOptions controls how the Replicate adapter is configured.
type ReplicateOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// ReplicateGenerator drives FLUX-family models through the Replicate
// predictions API in blocking mode. FLUX takes a single conditioning
// image, so multi-image requests use the first image only.
type ReplicateGenerator struct {
	token      string
	model      string
	baseURL    string
	httpClient *http.Client
}

type replicateInput struct {
	Prompt            string  `json:"prompt"`
	Image             string  `json:"image,omitempty"`
	NumOutputs        int     `json:"num_outputs"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

type replicatePredictionRequest struct {
	Input replicateInput `json:"input"`
}

type replicatePredictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

type replicateErrorResponse struct {
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// NewReplicateGenerator constructs the adapter; the API token must be
// present at construction time.
func NewReplicateGenerator(opts ReplicateOptions) (*ReplicateGenerator, error) {
	token := strings.TrimSpace(opts.APIKey)
	if token == "" {
		return nil, errors.New("replicate: api key is required (set REPLICATE_API_KEY)")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "black-forest-labs/flux-dev"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &ReplicateGenerator{
		token:      token,
		model:      model,
		baseURL:    baseURL,
		httpClient: client,
	}, nil
}

func (r *ReplicateGenerator) Name() string { return replicateProviderName }

func (r *ReplicateGenerator) Model() string { return r.model }

func (r *ReplicateGenerator) GenerateFromText(ctx context.Context, prompt string) ([]byte, string, error) {
	return r.predict(ctx, replicateInput{
		Prompt:            prompt,
		NumOutputs:        1,
		GuidanceScale:     7.5,
		NumInferenceSteps: 28,
	})
}

func (r *ReplicateGenerator) GenerateFromImageAndText(ctx context.Context, img domain.File, prompt string) ([]byte, string, error) {
	dataURL, err := ProcessReferenceImage(img)
	if err != nil {
		return nil, "", &Error{Kind: KindInvalidRequest, Provider: replicateProviderName, Err: err}
	}
	return r.predict(ctx, replicateInput{
		Prompt:            prompt,
		Image:             dataURL,
		NumOutputs:        1,
		GuidanceScale:     7.5,
		NumInferenceSteps: 28,
	})
}

// GenerateFromMultipleImagesAndText uses the first image only; FLUX
// has no native multi-image conditioning.
func (r *ReplicateGenerator) GenerateFromMultipleImagesAndText(ctx context.Context, imgs []domain.File, prompt string) ([]byte, string, error) {
	if len(imgs) == 0 {
		return nil, "", &Error{Kind: KindInvalidRequest, Provider: replicateProviderName, Detail: "at least one image is required"}
	}
	return r.GenerateFromImageAndText(ctx, imgs[0], prompt)
}

func (r *ReplicateGenerator) predict(ctx context.Context, input replicateInput) ([]byte, string, error) {
	body, err := json.Marshal(replicatePredictionRequest{Input: input})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s/predictions", r.baseURL, r.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Prefer", "wait")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", transportError(replicateProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr replicateErrorResponse
		detail := ""
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			detail = firstNonEmpty(apiErr.Detail, apiErr.Title)
		}
		return nil, "", classifyStatus(replicateProviderName, resp.StatusCode, detail)
	}

	var prediction replicatePredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, "", &Error{Kind: KindGeneration, Provider: replicateProviderName, Detail: "undecodable response", Err: err}
	}
	if prediction.Status == "failed" || prediction.Status == "canceled" {
		return nil, "", &Error{Kind: KindGeneration, Provider: replicateProviderName, Detail: prediction.Error}
	}

	outputURL := firstOutputURL(prediction.Output)
	if outputURL == "" {
		return nil, "", noImageError(replicateProviderName, "prediction produced no output")
	}
	return r.download(ctx, outputURL)
}

// firstOutputURL handles both output shapes the API returns: a list
// of URLs or a single URL string.
func firstOutputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err == nil && len(urls) > 0 {
		return urls[0]
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	return ""
}

func (r *ReplicateGenerator) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", transportError(replicateProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", classifyStatus(replicateProviderName, resp.StatusCode, "output download failed")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", transportError(replicateProviderName, err)
	}
	if len(data) == 0 {
		return nil, "", noImageError(replicateProviderName, "empty output download")
	}
	return data, firstNonEmpty(resp.Header.Get("Content-Type"), "image/png"), nil
}

var _ Generator = (*ReplicateGenerator)(nil)

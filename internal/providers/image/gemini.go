package image

import (
	"bytes"
	"context"
	"encoding/base64"
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

const geminiProviderName = "gemini"

// GeminiOptions controls how the Gemini adapter is configured.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiGenerator produces images through the Gemini generateContent
// API. Reference images travel as inlineData parts, so multi-image
// generation is native.
type GeminiGenerator struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Finish reasons Gemini uses when safety filtering suppresses output.
var geminiBlockReasons = map[string]struct{}{
	"SAFETY":             {},
	"IMAGE_SAFETY":       {},
	"PROHIBITED_CONTENT": {},
	"BLOCKLIST":          {},
}

// NewGeminiGenerator constructs the adapter. A missing API key is a
// construction-time error, not a first-call surprise.
func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required (set GEMINI_API_KEY)")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash-image-preview"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &GeminiGenerator{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: client,
	}, nil
}

func (g *GeminiGenerator) Name() string { return geminiProviderName }

func (g *GeminiGenerator) Model() string { return g.model }

func (g *GeminiGenerator) GenerateFromText(ctx context.Context, prompt string) ([]byte, string, error) {
	parts := []geminiPart{{Text: prompt}}
	return g.generate(ctx, parts)
}

func (g *GeminiGenerator) GenerateFromImageAndText(ctx context.Context, img domain.File, prompt string) ([]byte, string, error) {
	return g.GenerateFromMultipleImagesAndText(ctx, []domain.File{img}, prompt)
}

func (g *GeminiGenerator) GenerateFromMultipleImagesAndText(ctx context.Context, imgs []domain.File, prompt string) ([]byte, string, error) {
	parts := []geminiPart{{Text: prompt}}
	for _, img := range imgs {
		data, err := readFile(img)
		if err != nil {
			return nil, "", &Error{Kind: KindInvalidRequest, Provider: geminiProviderName, Err: err}
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: firstNonEmpty(img.ContentType(), MIMEFromFilename(img.Name())),
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}
	return g.generate(ctx, parts)
}

func (g *GeminiGenerator) generate(ctx context.Context, parts []geminiPart) ([]byte, string, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}

	var response geminiGenerateContentResponse
	if err := g.invoke(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.model)), payload, &response); err != nil {
		return nil, "", err
	}

	if reason := response.PromptFeedback.BlockReason; reason != "" {
		return nil, "", blockedError(geminiProviderName, reason)
	}

	for _, candidate := range response.Candidates {
		if _, blocked := geminiBlockReasons[candidate.FinishReason]; blocked {
			return nil, "", blockedError(geminiProviderName, candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, "", &Error{Kind: KindGeneration, Provider: geminiProviderName, Detail: "undecodable inline data", Err: err}
			}
			contentType := firstNonEmpty(part.InlineData.MimeType, "image/png")
			return data, contentType, nil
		}
	}

	return nil, "", noImageError(geminiProviderName, "response contained no image part")
}

func (g *GeminiGenerator) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", g.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return transportError(geminiProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		detail := ""
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			detail = apiErr.Error.Message
		}
		return classifyStatus(geminiProviderName, resp.StatusCode, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return noImageError(geminiProviderName, "empty response body")
		}
		return &Error{Kind: KindGeneration, Provider: geminiProviderName, Detail: "undecodable response", Err: err}
	}
	return nil
}

var _ Generator = (*GeminiGenerator)(nil)

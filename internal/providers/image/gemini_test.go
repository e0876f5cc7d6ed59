package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"server/internal/domain"
)

func newGeminiForTest(t *testing.T, baseURL string) *GeminiGenerator {
	t.Helper()
	gen, err := NewGeminiGenerator(GeminiOptions{APIKey: "test-key", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("NewGeminiGenerator error: %v", err)
	}
	return gen
}

func geminiImageResponse(mime string, data []byte) geminiGenerateContentResponse {
	var resp geminiGenerateContentResponse
	resp.Candidates = []geminiCandidate{{
		Content: geminiContent{Parts: []geminiPart{{
			InlineData: &geminiInlineData{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(data),
			},
		}}},
	}}
	return resp
}

func TestGeminiGenerateFromTextReturnsInlineImage(t *testing.T) {
	wantBytes := []byte{0x89, 0x50, 0x4e, 0x47}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "generateContent") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Fatalf("unexpected api key: %s", got)
		}
		var payload geminiGenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(payload.Contents) != 1 || payload.Contents[0].Parts[0].Text != "a red bicycle" {
			t.Fatalf("prompt not forwarded: %+v", payload)
		}
		_ = json.NewEncoder(w).Encode(geminiImageResponse("image/png", wantBytes))
	}))
	defer ts.Close()

	gen := newGeminiForTest(t, ts.URL)
	data, contentType, err := gen.GenerateFromText(context.Background(), "a red bicycle")
	if err != nil {
		t.Fatalf("GenerateFromText error: %v", err)
	}
	if contentType != "image/png" {
		t.Fatalf("unexpected content type: %s", contentType)
	}
	if string(data) != string(wantBytes) {
		t.Fatalf("image bytes mismatch")
	}
}

func TestGeminiSendsReferenceImagesAsInlineParts(t *testing.T) {
	var captured geminiGenerateContentRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(geminiImageResponse("image/png", []byte{0x01}))
	}))
	defer ts.Close()

	gen := newGeminiForTest(t, ts.URL)
	imgs := []domain.File{
		domain.NewUpload("a.png", "image/png", []byte{0x0a}),
		domain.NewUpload("b.jpg", "", []byte{0x0b}),
	}
	if _, _, err := gen.GenerateFromMultipleImagesAndText(context.Background(), imgs, "merge these"); err != nil {
		t.Fatalf("GenerateFromMultipleImagesAndText error: %v", err)
	}

	parts := captured.Contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected text + 2 inline parts, got %d", len(parts))
	}
	if parts[1].InlineData.MimeType != "image/png" {
		t.Fatalf("first image mime mismatch: %s", parts[1].InlineData.MimeType)
	}
	// Declared MIME absent: falls back to the filename extension.
	if parts[2].InlineData.MimeType != "image/jpeg" {
		t.Fatalf("second image mime mismatch: %s", parts[2].InlineData.MimeType)
	}
}

func TestGeminiNoImageInResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiGenerateContentResponse{Candidates: []geminiCandidate{{
			Content: geminiContent{Parts: []geminiPart{{Text: "cannot help with that"}}},
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	gen := newGeminiForTest(t, ts.URL)
	_, _, err := gen.GenerateFromText(context.Background(), "a red bicycle")
	if KindOf(err) != KindNoImage {
		t.Fatalf("expected no_image kind, got %v", err)
	}
}

func TestGeminiSafetyBlockCarriesReason(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiGenerateContentResponse{Candidates: []geminiCandidate{{
			FinishReason: "IMAGE_SAFETY",
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	gen := newGeminiForTest(t, ts.URL)
	_, _, err := gen.GenerateFromText(context.Background(), "something disallowed")
	if KindOf(err) != KindContentBlocked {
		t.Fatalf("expected content_blocked, got %v", err)
	}
	if BlockReasonOf(err) != "IMAGE_SAFETY" {
		t.Fatalf("block reason missing: %v", err)
	}
}

func TestGeminiStatusClassification(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 401, "message": "API key not valid"}})
	}))
	defer ts.Close()

	gen := newGeminiForTest(t, ts.URL)
	_, _, err := gen.GenerateFromText(context.Background(), "a red bicycle")
	if KindOf(err) != KindAuth {
		t.Fatalf("expected authentication kind, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status code not preserved: %v", err)
	}
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	if _, err := NewGeminiGenerator(GeminiOptions{}); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

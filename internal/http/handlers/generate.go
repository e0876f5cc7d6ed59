package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"server/internal/domain"
	"server/internal/service"
)

type generateJSONRequest struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	PromptID int64  `json:"prompt_id"`
}

type generateResponse struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	// ReferenceImage echoes the first uploaded image as a data URL so
	// clients can render the input beside the output.
	ReferenceImage string `json:"reference_image,omitempty"`
	PromptID       int64  `json:"prompt_id,omitempty"`
}

// Generate runs one generation. Text-only requests may be JSON;
// requests with reference images are multipart/form-data with the
// images under the "images" field. The response is the generated image
// itself, or a JSON envelope (base64 image plus the reference echo)
// when the client asks for application/json.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	in, err := a.parseGenerateRequest(r)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}

	result, err := a.Generator.Generate(r.Context(), *in)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		resp := generateResponse{
			Image:          base64.StdEncoding.EncodeToString(result.Data),
			ContentType:    result.ContentType,
			Provider:       result.Provider,
			Model:          result.Model,
			ReferenceImage: result.ReferenceDataURL,
		}
		if result.Record != nil {
			resp.PromptID = result.Record.ID
		}
		a.json(w, http.StatusOK, resp)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("X-Provider", result.Provider)
	w.Header().Set("X-Model", result.Model)
	if result.Record != nil {
		w.Header().Set("X-Prompt-Id", strconv.FormatInt(result.Record.ID, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (a *App) parseGenerateRequest(r *http.Request) (*service.GenerateInput, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, a.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req generateJSONRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.Join(domain.ErrInvalidPrompt, err)
		}
		return &service.GenerateInput{
			Prompt:   req.Prompt,
			Provider: req.Provider,
			APIKey:   req.APIKey,
			PromptID: req.PromptID,
		}, nil
	}

	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		return nil, errors.Join(domain.ErrInvalidImage, err)
	}

	in := &service.GenerateInput{
		Prompt:   r.FormValue("prompt"),
		Provider: r.FormValue("provider"),
		APIKey:   r.FormValue("api_key"),
	}
	if raw := strings.TrimSpace(r.FormValue("prompt_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Join(domain.ErrInvalidPrompt, errors.New("prompt_id must be a positive integer"))
		}
		in.PromptID = id
	}

	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["images"] {
			upload, err := a.readUpload(header)
			if err != nil {
				return nil, err
			}
			in.Images = append(in.Images, upload)
		}
	}
	return in, nil
}

// readUpload buffers one uploaded image and checks its declared type
// against the allow list.
func (a *App) readUpload(header *multipart.FileHeader) (domain.File, error) {
	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if !a.imageTypeAllowed(contentType) {
		return nil, errors.Join(domain.ErrInvalidImage, fmt.Errorf("unsupported image type %q", contentType))
	}
	if header.Size > a.MaxUploadBytes {
		return nil, errors.Join(domain.ErrInvalidImage, fmt.Errorf("image exceeds %d bytes", a.MaxUploadBytes))
	}

	file, err := header.Open()
	if err != nil {
		return nil, errors.Join(domain.ErrInvalidImage, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.Join(domain.ErrInvalidImage, err)
	}
	return domain.NewUpload(header.Filename, contentType, data), nil
}

func (a *App) imageTypeAllowed(contentType string) bool {
	for _, allowed := range a.AllowedImageTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

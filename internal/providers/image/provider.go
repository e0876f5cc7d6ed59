package image

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"server/internal/domain"
)

// Generator is the capability contract every vendor adapter
// implements: text-to-image, image+text, and multi-image generation.
// Adapters without native multi-image support use the first image and
// ignore the rest; that degradation is part of the contract, not a
// silent fallback.
type Generator interface {
	// Name returns the registered provider name.
	Name() string
	// Model returns the vendor model identifier used for generations.
	Model() string

	GenerateFromText(ctx context.Context, prompt string) ([]byte, string, error)
	GenerateFromImageAndText(ctx context.Context, img domain.File, prompt string) ([]byte, string, error)
	GenerateFromMultipleImagesAndText(ctx context.Context, imgs []domain.File, prompt string) ([]byte, string, error)
}

var extMIMEs = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// MIMEFromFilename infers the MIME type from the file extension,
// defaulting to image/jpeg for unknown extensions.
func MIMEFromFilename(name string) string {
	if mime, ok := extMIMEs[strings.ToLower(filepath.Ext(name))]; ok {
		return mime
	}
	return "image/jpeg"
}

// ProcessReferenceImage reads the file fully and returns it as a
// data:<mime>;base64,<payload> URL. Shared by all adapters.
func ProcessReferenceImage(f domain.File) (string, error) {
	data, err := readFile(f)
	if err != nil {
		return "", fmt.Errorf("process reference image: %w", err)
	}
	mime := MIMEFromFilename(f.Name())
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// readFile reads the whole stream, seeking to the start before and
// after so downstream callers can re-read it.
func readFile(f domain.File) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek image: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("reset image: %w", err)
	}
	return data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

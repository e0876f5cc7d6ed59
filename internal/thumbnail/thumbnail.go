// Package thumbnail renders small previews of generated images for
// the prompt ledger.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"server/internal/domain"
)

const (
	// DefaultMaxSize bounds the longer thumbnail edge in pixels.
	DefaultMaxSize = 256

	jpegQuality = 80
)

// Generate decodes raw image bytes and returns a JPEG preview whose
// longer edge is at most maxSize (DefaultMaxSize when <= 0). Aspect
// ratio is preserved; images already inside the bound keep their size.
func Generate(data []byte, maxSize int) (*domain.Thumbnail, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fit(bounds.Dx(), bounds.Dy(), maxSize)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	return &domain.Thumbnail{
		Data:   buf.Bytes(),
		MIME:   "image/jpeg",
		Width:  width,
		Height: height,
	}, nil
}

func fit(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width >= height {
		scaled := height * maxSize / width
		if scaled < 1 {
			scaled = 1
		}
		return maxSize, scaled
	}
	scaled := width * maxSize / height
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxSize
}

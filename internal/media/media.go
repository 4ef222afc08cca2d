// Package media downscales inline images so vision payloads fit the
// byte budgets providers enforce on data URLs.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension caps the longest edge of any outbound image.
	// Vision models gain nothing past this resolution.
	DefaultMaxDimension = 2048

	// minDimension is the floor for iterative downscaling. An image that
	// still exceeds the byte budget at this size cannot be sent.
	minDimension = 64

	// jpegQuality balances fidelity against payload size for re-encoded
	// images.
	jpegQuality = 85
)

// Shrinker re-encodes oversized inline images. It is stateless and safe
// for concurrent use.
type Shrinker struct {
	maxDimension int
}

// NewShrinker returns a Shrinker that caps the longest image edge at
// maxDimension pixels before fitting the byte budget. Non-positive
// values fall back to DefaultMaxDimension.
func NewShrinker(maxDimension int) *Shrinker {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Shrinker{maxDimension: maxDimension}
}

// ShrinkDataURL re-encodes a base64 data: URL as JPEG so the image fits
// both the longest-edge cap and maxBytes (non-positive means no byte
// budget). Non-data URLs pass through unchanged, as do payloads that
// already satisfy both limits. The image is always scaled from the
// original, never from a prior downscale.
func (s *Shrinker) ShrinkDataURL(dataURL string, maxBytes int) (string, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return dataURL, nil
	}
	overBudget := maxBytes > 0 && len(dataURL) > maxBytes

	meta, encoded, ok := strings.Cut(dataURL[len("data:"):], ",")
	if !ok {
		if !overBudget {
			return dataURL, nil
		}
		return "", fmt.Errorf("malformed data URL")
	}
	if !strings.HasSuffix(meta, ";base64") {
		if !overBudget {
			return dataURL, nil
		}
		return "", fmt.Errorf("data URL payload is not base64-encoded")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if !overBudget {
			return dataURL, nil
		}
		return "", fmt.Errorf("decode image payload: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		// Non-image payloads are only a problem when they blow the
		// byte budget; the edge cap does not apply to them.
		if !overBudget {
			return dataURL, nil
		}
		return "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}
	if !overBudget && longest <= s.maxDimension {
		return dataURL, nil
	}

	edge := longest
	if edge > s.maxDimension {
		edge = s.maxDimension
	}

	for ; edge >= minDimension; edge /= 2 {
		out := img
		if edge < longest {
			out = resize(img, edge)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return "", fmt.Errorf("encode image: %w", err)
		}

		rebuilt := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
		if maxBytes <= 0 || len(rebuilt) <= maxBytes {
			return rebuilt, nil
		}
	}

	return "", fmt.Errorf("image exceeds %d bytes even at %dpx", maxBytes, minDimension)
}

// resize scales an image so its longest edge is maxSize pixels,
// preserving aspect ratio.
func resize(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = height * maxSize / width
	} else {
		newHeight = maxSize
		newWidth = width * maxSize / height
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return dst
}

package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"testing"
)

// createTestImage renders a PNG of seeded noise so the encoded size
// tracks the pixel count instead of collapsing under compression.
func createTestImage(t *testing.T, width, height int) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func testDataURL(t *testing.T, width, height int) string {
	t.Helper()
	raw := createTestImage(t, width, height)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
}

func decodeDataURL(t *testing.T, dataURL string) image.Image {
	t.Helper()

	_, encoded, ok := strings.Cut(dataURL, ",")
	if !ok {
		t.Fatalf("result is not a data URL: %.40s", dataURL)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode result payload: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode result image: %v", err)
	}
	return img
}

func TestShrinkDataURLPassThrough(t *testing.T) {
	s := NewShrinker(0)
	small := testDataURL(t, 8, 8)

	tests := []struct {
		name     string
		url      string
		maxBytes int
	}{
		{"remote URL", "https://example.com/cat.png", 10},
		{"within budget", small, len(small) + 1},
		{"no budget", small, 0},
		{"non-image within budget", "data:text/plain;base64," + base64.StdEncoding.EncodeToString([]byte("hello")), 0},
	}

	for _, tt := range tests {
		got, err := s.ShrinkDataURL(tt.url, tt.maxBytes)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if got != tt.url {
			t.Errorf("%s: URL was modified", tt.name)
		}
	}
}

func TestShrinkDataURLResizesOversized(t *testing.T) {
	s := NewShrinker(2048)
	url := testDataURL(t, 400, 300)
	maxBytes := 32 * 1024
	if len(url) <= maxBytes {
		t.Fatalf("test image too small to exercise shrinking: %d bytes", len(url))
	}

	got, err := s.ShrinkDataURL(url, maxBytes)
	if err != nil {
		t.Fatalf("ShrinkDataURL failed: %v", err)
	}
	if len(got) > maxBytes {
		t.Errorf("result is %d bytes, want <= %d", len(got), maxBytes)
	}
	if !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Errorf("result should be a JPEG data URL, got %.40s", got)
	}

	bounds := decodeDataURL(t, got).Bounds()
	if bounds.Dx() > 400 || bounds.Dy() > 300 {
		t.Errorf("result grew to %dx%d", bounds.Dx(), bounds.Dy())
	}
	if bounds.Dx() <= bounds.Dy() {
		t.Errorf("aspect ratio not preserved: %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestShrinkDataURLCapsLongestEdge(t *testing.T) {
	s := NewShrinker(100)
	url := testDataURL(t, 300, 200)

	// The dimension cap applies even when the payload already fits the
	// byte budget, and when there is no byte budget at all.
	for _, maxBytes := range []int{len(url) + 1, 0} {
		got, err := s.ShrinkDataURL(url, maxBytes)
		if err != nil {
			t.Fatalf("maxBytes=%d: ShrinkDataURL failed: %v", maxBytes, err)
		}
		bounds := decodeDataURL(t, got).Bounds()
		if bounds.Dx() != 100 {
			t.Errorf("maxBytes=%d: longest edge = %d, want 100", maxBytes, bounds.Dx())
		}
		if bounds.Dy() != 66 {
			t.Errorf("maxBytes=%d: short edge = %d, want 66", maxBytes, bounds.Dy())
		}
	}
}

func TestShrinkDataURLMalformed(t *testing.T) {
	s := NewShrinker(0)

	tests := []struct {
		name string
		url  string
	}{
		{"no comma", "data:image/png;base64"},
		{"not base64", "data:image/png,plain-payload"},
		{"bad base64", "data:image/png;base64,!!!"},
		{"not an image", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))},
	}

	for _, tt := range tests {
		if _, err := s.ShrinkDataURL(tt.url, 1); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestShrinkDataURLBudgetUnreachable(t *testing.T) {
	s := NewShrinker(2048)
	url := testDataURL(t, 400, 300)

	_, err := s.ShrinkDataURL(url, 100)
	if err == nil {
		t.Fatal("expected error for unreachable budget")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewShrinkerDefaults(t *testing.T) {
	if s := NewShrinker(0); s.maxDimension != DefaultMaxDimension {
		t.Errorf("maxDimension = %d, want %d", s.maxDimension, DefaultMaxDimension)
	}
	if s := NewShrinker(-5); s.maxDimension != DefaultMaxDimension {
		t.Errorf("maxDimension = %d, want %d", s.maxDimension, DefaultMaxDimension)
	}
	if s := NewShrinker(512); s.maxDimension != 512 {
		t.Errorf("maxDimension = %d, want 512", s.maxDimension)
	}
}

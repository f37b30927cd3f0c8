// Package testutil provides shared image fixtures for catmosaic tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// TempDir creates a temporary directory for testing and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "catmosaic-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// Color returns a deterministic, opaque color for index i. Distinct indices
// below 4096 map to distinct colors.
func Color(i int) color.NRGBA {
	return color.NRGBA{
		R: uint8(17 * (i % 16)),
		G: uint8(17 * ((i / 16) % 16)),
		B: uint8(17 * ((i / 256) % 16)),
		A: 0xff,
	}
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// JPEG encodes img as a JPEG payload.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes img as a PNG payload.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// WriteImage writes img as a PNG file named name under dir and returns its path.
func WriteImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PNG(t, img), 0644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return path
}

// Heights returns solid images of width w and the given heights, colored by index.
func Heights(w int, heights ...int) []image.Image {
	imgs := make([]image.Image, len(heights))
	for i, h := range heights {
		imgs[i] = Solid(w, h, Color(i+1))
	}
	return imgs
}

// Package pack encodes batches for upload and decodes fetched payloads.
package pack

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zip"

	// Registers the WebP decoder with image.Decode; JPEG, PNG, GIF, BMP and
	// TIFF come in through imaging.
	_ "golang.org/x/image/webp"
)

// ErrCorrupt marks a payload that could not be decoded as an image.
var ErrCorrupt = errors.New("corrupt image payload")

// DefaultJPEGQuality is used for archive entries when no quality is configured.
const DefaultJPEGQuality = 90

// Content types of the two upload formats.
const (
	ZipContentType = "application/zip"
	PNGContentType = "image/png"
)

// EntryName returns the archive entry name for the i-th image of a batch.
func EntryName(i int) string {
	return fmt.Sprintf("item%d.jpeg", i)
}

// Decode decodes an image payload, applying EXIF orientation when present.
func Decode(payload []byte) (image.Image, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload: %w", ErrCorrupt)
	}
	img, err := imaging.Decode(bytes.NewReader(payload), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return img, nil
}

// Zip packs images into a zip archive with one JPEG entry per image, named
// item0.jpeg, item1.jpeg, ... in batch order.
func Zip(images []image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, img := range images {
		w, err := zw.Create(EntryName(i))
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", EntryName(i), err)
		}
		if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", EntryName(i), err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// PNG encodes img losslessly.
func PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

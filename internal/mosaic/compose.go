package mosaic

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Fit downscales img with a Lanczos filter so it is no wider than a column,
// preserving aspect ratio. Narrower images are returned unchanged.
func (l Layout) Fit(img image.Image) image.Image {
	colW := l.ColumnWidth()
	if img.Bounds().Dx() <= colW {
		return img
	}
	return imaging.Resize(img, colW, 0, imaging.Lanczos)
}

// Compose resizes images, plans the layout and draws them onto a new canvas
// filled with the layout background. The canvas is allocated once and images
// are alpha-blended onto it in place. Input images are not modified.
func (l Layout) Compose(images []image.Image) (*image.NRGBA, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	fitted := make([]image.Image, len(images))
	sizes := make([]image.Point, len(images))
	for i, img := range images {
		fitted[i] = l.Fit(img)
		sizes[i] = fitted[i].Bounds().Size()
	}

	plan, err := l.Plan(sizes)
	if err != nil {
		return nil, err
	}

	bg := l.Background
	if bg == nil {
		bg = color.White
	}
	canvas := imaging.New(plan.Canvas.X, plan.Canvas.Y, bg)
	for _, col := range plan.Columns {
		for _, i := range col {
			img := fitted[i]
			draw.Draw(canvas, plan.Placements[i].Rect, img, img.Bounds().Min, draw.Over)
		}
	}
	return canvas, nil
}

// Package mosaic arranges a batch of images into a single column-balanced collage.
//
// Layout happens in two stages. Plan is pure arithmetic over image sizes:
// the first Columns images seed one column each, every later image is
// appended to the column whose images are currently shortest, and the
// tallest column fixes the canvas height. Compose resizes the images, runs
// Plan and draws the result onto a fresh canvas.
package mosaic

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrTooFewImages is returned when a batch cannot seed every column.
var ErrTooFewImages = errors.New("fewer images than columns")

// Layout holds the collage geometry. All values are in pixels.
type Layout struct {
	Columns    int
	Width      int // content width, excluding gaps and margins
	ColumnGap  int
	RowGap     int // minimum gap between images in the tallest column
	Margin     int
	Background color.Color
}

// DefaultLayout returns the 4-column, 512px layout.
func DefaultLayout() Layout {
	return Layout{
		Columns:    4,
		Width:      512,
		ColumnGap:  10,
		RowGap:     10,
		Margin:     10,
		Background: color.White,
	}
}

// Validate checks that the layout can produce a canvas.
func (l Layout) Validate() error {
	if l.Columns < 1 {
		return fmt.Errorf("columns must be at least 1, got %d", l.Columns)
	}
	if l.Width < l.Columns {
		return fmt.Errorf("width %d too small for %d columns", l.Width, l.Columns)
	}
	if l.ColumnGap < 0 || l.RowGap < 0 || l.Margin < 0 {
		return fmt.Errorf("gaps and margin must not be negative")
	}
	return nil
}

// ColumnWidth is the maximum width of an image in the collage.
func (l Layout) ColumnWidth() int {
	return l.Width / l.Columns
}

// CanvasWidth is the total width of every canvas produced by l.
func (l Layout) CanvasWidth() int {
	return l.Width + l.ColumnGap*(l.Columns-1) + 2*l.Margin
}

// Placement is where one batch image lands on the canvas.
type Placement struct {
	Index  int // position of the image in the batch
	Column int
	Rect   image.Rectangle
}

// Plan is the computed arrangement of one batch.
type Plan struct {
	Columns       [][]int // batch indices per column, top to bottom
	Placements    []Placement
	ContentHeight int
	Canvas        image.Point
}

// Assign distributes images into columns. The first columns images seed one
// column each; every later image goes to the column with the smallest sum of
// image heights, ties going to the lowest column index. Gaps are not counted.
func Assign(heights []int, columns int) ([][]int, error) {
	if columns < 1 {
		return nil, fmt.Errorf("columns must be at least 1, got %d", columns)
	}
	if len(heights) < columns {
		return nil, fmt.Errorf("%d images for %d columns: %w", len(heights), columns, ErrTooFewImages)
	}

	cols := make([][]int, columns)
	sums := make([]int, columns)
	for i := 0; i < columns; i++ {
		cols[i] = []int{i}
		sums[i] = heights[i]
	}

	for i := columns; i < len(heights); i++ {
		target := 0
		for c := 1; c < columns; c++ {
			if sums[c] < sums[target] {
				target = c
			}
		}
		cols[target] = append(cols[target], i)
		sums[target] += heights[i]
	}
	return cols, nil
}

// Plan computes placements for images of the given (already resized) sizes.
func (l Layout) Plan(sizes []image.Point) (Plan, error) {
	if err := l.Validate(); err != nil {
		return Plan{}, err
	}

	heights := make([]int, len(sizes))
	for i, sz := range sizes {
		heights[i] = sz.Y
	}
	cols, err := Assign(heights, l.Columns)
	if err != nil {
		return Plan{}, err
	}

	sums := make([]int, len(cols))
	tallest := 0
	for c, col := range cols {
		for _, i := range col {
			sums[c] += heights[i]
		}
		if sums[c] > sums[tallest] {
			tallest = c
		}
	}

	contentHeight := sums[tallest] + l.RowGap*(len(cols[tallest])-1)
	p := Plan{
		Columns:       cols,
		Placements:    make([]Placement, len(sizes)),
		ContentHeight: contentHeight,
		Canvas:        image.Pt(l.CanvasWidth(), contentHeight+2*l.Margin),
	}

	x := l.Margin
	for c, col := range cols {
		// Spread the column's slack evenly so it fills the content height.
		gap := 0
		if len(col) > 1 {
			gap = (contentHeight - sums[c]) / (len(col) - 1)
		}
		y := l.Margin
		for _, i := range col {
			p.Placements[i] = Placement{
				Index:  i,
				Column: c,
				Rect:   image.Rectangle{Min: image.Pt(x, y), Max: image.Pt(x+sizes[i].X, y+sizes[i].Y)},
			}
			y += sizes[i].Y + gap
		}
		x += l.ColumnWidth() + l.ColumnGap
	}
	return p, nil
}

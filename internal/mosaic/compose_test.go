package mosaic

import (
	"image"
	"image/color"
	"testing"

	"github.com/catmosaic/catmosaic/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h, seed int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x*7 + seed*31) % 256),
				G: uint8((y*5 + seed*17) % 256),
				B: uint8((x + y + seed) % 256),
				A: 0xff,
			})
		}
	}
	return img
}

func TestFit_DownscalesPreservingAspect(t *testing.T) {
	l := DefaultLayout()
	out := l.Fit(testutil.Solid(256, 100, testutil.Color(1)))
	assert.Equal(t, image.Pt(128, 50), out.Bounds().Size())
}

func TestFit_NeverUpscales(t *testing.T) {
	l := DefaultLayout()
	src := testutil.Solid(64, 40, testutil.Color(1))
	out := l.Fit(src)
	assert.Same(t, src, out)
}

func TestCompose_FixtureCanvas(t *testing.T) {
	l := DefaultLayout()
	imgs := testutil.Heights(128, 100, 50, 80, 60, 40, 70, 30, 90, 20, 10, 55, 45)

	canvas, err := l.Compose(imgs)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 562, 220), canvas.Bounds())

	plan, err := l.Plan(sizesOf(128, 100, 50, 80, 60, 40, 70, 30, 90, 20, 10, 55, 45))
	require.NoError(t, err)

	for _, pl := range plan.Placements {
		center := pl.Rect.Min.Add(pl.Rect.Size().Div(2))
		assert.Equal(t, testutil.Color(pl.Index+1), canvas.NRGBAAt(center.X, center.Y), "image %d", pl.Index)
	}

	white := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	assert.Equal(t, white, canvas.NRGBAAt(0, 0))
	assert.Equal(t, white, canvas.NRGBAAt(561, 219))
	// Column gap between column 0 and column 1.
	assert.Equal(t, white, canvas.NRGBAAt(143, 50))
}

func TestCompose_ResizesWideImages(t *testing.T) {
	l := DefaultLayout()
	imgs := make([]image.Image, 12)
	for i := range imgs {
		// 512 wide -> 128 wide, heights quartered.
		imgs[i] = testutil.Solid(512, 40*(i+1), testutil.Color(i+1))
	}

	canvas, err := l.Compose(imgs)
	require.NoError(t, err)

	heights := make([]int, 12)
	for i := range heights {
		heights[i] = 10 * (i + 1)
	}
	plan, err := l.Plan(sizesOf(128, heights...))
	require.NoError(t, err)
	assert.Equal(t, plan.Canvas, canvas.Bounds().Size())
	assert.Equal(t, 562, canvas.Bounds().Dx())
}

func TestCompose_Deterministic(t *testing.T) {
	l := DefaultLayout()
	imgs := make([]image.Image, 12)
	for i := range imgs {
		imgs[i] = gradient(150+13*i, 90+21*i, i)
	}

	a, err := l.Compose(imgs)
	require.NoError(t, err)
	b, err := l.Compose(imgs)
	require.NoError(t, err)

	require.Equal(t, a.Bounds(), b.Bounds())
	assert.Equal(t, a.Pix, b.Pix, "same batch must compose pixel-identically")
}

func TestCompose_DoesNotMutateInputs(t *testing.T) {
	l := DefaultLayout()
	imgs := make([]image.Image, 4)
	originals := make([][]uint8, 4)
	for i := range imgs {
		g := gradient(300, 200, i)
		originals[i] = append([]uint8(nil), g.Pix...)
		imgs[i] = g
	}

	_, err := l.Compose(imgs)
	require.NoError(t, err)

	for i, img := range imgs {
		assert.Equal(t, originals[i], img.(*image.NRGBA).Pix)
		assert.Equal(t, image.Pt(300, 200), img.Bounds().Size())
	}
}

func TestCompose_TooFewImages(t *testing.T) {
	l := DefaultLayout()
	_, err := l.Compose(testutil.Heights(128, 10, 20))
	assert.ErrorIs(t, err, ErrTooFewImages)
}

func TestCompose_TransparentPixelsShowBackground(t *testing.T) {
	l := DefaultLayout()
	l.Background = color.NRGBA{R: 0, G: 0, B: 0xff, A: 0xff}
	imgs := testutil.Heights(128, 20, 20, 20, 20)
	imgs[0] = testutil.Solid(128, 20, color.NRGBA{})

	canvas, err := l.Compose(imgs)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{B: 0xff, A: 0xff}, canvas.NRGBAAt(20, 15))
}

func TestCompose_BlendsTranslucentPixels(t *testing.T) {
	l := DefaultLayout()
	imgs := testutil.Heights(128, 20, 20, 20, 20)
	imgs[0] = testutil.Solid(128, 20, color.NRGBA{R: 0xff, A: 0x80})

	canvas, err := l.Compose(imgs)
	require.NoError(t, err)

	got := canvas.NRGBAAt(20, 15)
	assert.Equal(t, uint8(0xff), got.R)
	assert.InDelta(t, 0x7f, int(got.G), 1)
	assert.InDelta(t, 0x7f, int(got.B), 1)
	assert.Equal(t, uint8(0xff), got.A)
}

func TestCompose_OffsetSourceBounds(t *testing.T) {
	l := DefaultLayout()
	green := color.NRGBA{G: 0xff, A: 0xff}
	big := testutil.Solid(100, 100, color.NRGBA{R: 0xff, A: 0xff})
	for y := 40; y < 60; y++ {
		for x := 10; x < 60; x++ {
			big.SetNRGBA(x, y, green)
		}
	}

	imgs := testutil.Heights(128, 20, 20, 20, 20)
	imgs[0] = big.SubImage(image.Rect(10, 40, 60, 60))

	canvas, err := l.Compose(imgs)
	require.NoError(t, err)

	sizes := sizesOf(128, 20, 20, 20, 20)
	sizes[0] = image.Pt(50, 20)
	plan, err := l.Plan(sizes)
	require.NoError(t, err)
	rect := plan.Placements[0].Rect
	for _, p := range []image.Point{rect.Min, rect.Max.Sub(image.Pt(1, 1))} {
		assert.Equal(t, green, canvas.NRGBAAt(p.X, p.Y))
	}
}

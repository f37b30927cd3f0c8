package pack

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/catmosaic/catmosaic/testutil"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZip_EntriesNamedInBatchOrder(t *testing.T) {
	imgs := testutil.Heights(32, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120)

	data, err := Zip(imgs, 0)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 12)

	for i, f := range zr.File {
		assert.Equal(t, EntryName(i), f.Name)

		rc, err := f.Open()
		require.NoError(t, err)
		payload, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)

		img, err := Decode(payload)
		require.NoError(t, err, "entry %s", f.Name)
		assert.Equal(t, image.Pt(32, 10*(i+1)), img.Bounds().Size())
	}
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "item0.jpeg", EntryName(0))
	assert.Equal(t, "item11.jpeg", EntryName(11))
}

func TestPNG_Lossless(t *testing.T) {
	src := testutil.Solid(7, 5, testutil.Color(9))

	data, err := PNG(src)
	require.NoError(t, err)

	out, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), out.Bounds())
	r, g, b, a := out.At(3, 2).RGBA()
	er, eg, eb, ea := src.At(3, 2).RGBA()
	assert.Equal(t, []uint32{er, eg, eb, ea}, []uint32{r, g, b, a})
}

func TestDecode(t *testing.T) {
	src := testutil.Solid(16, 9, testutil.Color(4))

	tests := []struct {
		name    string
		payload []byte
		wantErr bool
	}{
		{"jpeg", testutil.JPEG(t, src), false},
		{"png", testutil.PNG(t, src), false},
		{"empty", nil, true},
		{"garbage", []byte("<html>not an image</html>"), true},
		{"truncated jpeg", testutil.JPEG(t, src)[:20], true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCorrupt)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, image.Pt(16, 9), img.Bounds().Size())
		})
	}
}

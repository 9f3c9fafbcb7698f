package imagefile

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePNG(t *testing.T, c color.Color) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodePayload(t *testing.T) {
	raw := []byte("\x89PNG fake bytes??>>")

	cases := map[string]string{
		"standard":      base64.StdEncoding.EncodeToString(raw),
		"raw standard":  base64.RawStdEncoding.EncodeToString(raw),
		"url safe":      base64.URLEncoding.EncodeToString(raw),
		"raw url safe":  base64.RawURLEncoding.EncodeToString(raw),
		"data url":      "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
		"wrapped lines": base64.StdEncoding.EncodeToString(raw)[:8] + "\n" + base64.StdEncoding.EncodeToString(raw)[8:],
	}

	for name, payload := range cases {
		got, err := DecodePayload(payload)
		require.NoError(t, err, name)
		assert.Equal(t, raw, got, name)
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	_, err := DecodePayload("")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = DecodePayload("data:image/png;base64,")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = DecodePayload("this is *not* base64!")
	assert.ErrorIs(t, err, ErrInvalidBase64)
}

func TestStoreWritesJPEG(t *testing.T) {
	dir := t.TempDir()

	img, err := Store(dir, samplePNG(t, color.NRGBA{R: 200, G: 10, B: 10, A: 255}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = img.Remove() })

	assert.Equal(t, dir, filepath.Dir(img.Path()))
	assert.Len(t, img.SHA1(), 40)

	f, err := os.Open(img.Path())
	require.NoError(t, err)
	defer f.Close()

	decoded, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
	assert.Equal(t, 12, decoded.Bounds().Dy())
}

func TestStoreFlattensTransparencyOntoWhite(t *testing.T) {
	img, err := Store(t.TempDir(), samplePNG(t, color.NRGBA{A: 0}))
	require.NoError(t, err)
	defer img.Remove()

	f, err := os.Open(img.Path())
	require.NoError(t, err)
	defer f.Close()

	decoded, err := jpeg.Decode(f)
	require.NoError(t, err)
	r, g, b, _ := decoded.At(8, 6).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestStoreRejectsNonImage(t *testing.T) {
	dir := t.TempDir()

	_, err := Store(dir, []byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp file may be left behind")
}

// pngWithDimensions returns a 1x1 PNG whose header claims width x height, which
// is all DecodeConfig looks at.
func pngWithDimensions(t *testing.T, width, height uint32) []byte {
	t.Helper()

	data := samplePNG(t, color.Black)
	require.Equal(t, "IHDR", string(data[12:16]))
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestStoreRejectsOversizedImage(t *testing.T) {
	dir := t.TempDir()

	_, err := Store(dir, pngWithDimensions(t, 40000, 40000))
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.Contains(t, err.Error(), "40000x40000")

	_, err = StorePayload(dir, base64.StdEncoding.EncodeToString(pngWithDimensions(t, 9460, 9460)))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp file may be left behind")
}

func TestStorePayload(t *testing.T) {
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(samplePNG(t, color.Black))

	img, err := StorePayload(t.TempDir(), payload)
	require.NoError(t, err)
	defer img.Remove()
	assert.FileExists(t, img.Path())

	_, err = StorePayload(t.TempDir(), "%%%")
	assert.ErrorIs(t, err, ErrInvalidBase64)
}

func TestRemoveIsIdempotent(t *testing.T) {
	img, err := Store(t.TempDir(), samplePNG(t, color.White))
	require.NoError(t, err)

	require.NoError(t, img.Remove())
	assert.NoFileExists(t, img.Path())
	require.NoError(t, img.Remove())

	var nilImage *TempImage
	assert.NoError(t, nilImage.Remove())
}

func TestSameImageSameDigest(t *testing.T) {
	raw := samplePNG(t, color.NRGBA{G: 128, A: 255})

	a, err := Store(t.TempDir(), raw)
	require.NoError(t, err)
	defer a.Remove()
	b, err := Store(t.TempDir(), raw)
	require.NoError(t, err)
	defer b.Remove()

	assert.Equal(t, a.SHA1(), b.SHA1())
	assert.NotEqual(t, a.Path(), b.Path())
}

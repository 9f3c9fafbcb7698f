// Package imagefile turns base64 image payloads into short-lived JPEG files
// on disk for the face-verification model to read.
package imagefile

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 95

// MaxPixels caps width*height of an accepted image so that a small compressed
// payload cannot claim a huge decoded bitmap.
const MaxPixels = 89_478_485

var (
	ErrEmptyPayload     = errors.New("image payload is empty")
	ErrInvalidBase64    = errors.New("invalid base64 image data")
	ErrUnsupportedImage = errors.New("cannot identify image file")
	ErrImageTooLarge    = errors.New("image exceeds pixel limit")
)

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodePayload accepts raw base64 or a data URL and returns the decoded bytes.
func DecodePayload(payload string) ([]byte, error) {
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	for _, enc := range base64Encodings {
		if data, err := enc.DecodeString(payload); err == nil {
			if len(data) == 0 {
				return nil, ErrEmptyPayload
			}
			return data, nil
		}
	}
	return nil, ErrInvalidBase64
}

// TempImage is a normalized JPEG stored in a temporary file. Callers must
// call Remove once the file is no longer needed.
type TempImage struct {
	path   string
	digest string

	once      sync.Once
	removeErr error
}

// Store decodes raw image bytes, flattens them to RGB and writes a JPEG into
// dir (os.TempDir when empty).
func Store(dir string, raw []byte) (*TempImage, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	var encoded bytes.Buffer
	if err := imaging.Encode(&encoded, toRGB(img), imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	file, err := os.CreateTemp(dir, "face-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := file.Write(encoded.Bytes()); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	sum := sha1.Sum(encoded.Bytes())
	return &TempImage{path: file.Name(), digest: hex.EncodeToString(sum[:])}, nil
}

// StorePayload is DecodePayload followed by Store.
func StorePayload(dir, payload string) (*TempImage, error) {
	raw, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return Store(dir, raw)
}

// Path is the location of the JPEG on disk.
func (t *TempImage) Path() string {
	return t.path
}

// SHA1 is the hex digest of the normalized JPEG bytes.
func (t *TempImage) SHA1() string {
	return t.digest
}

// Remove deletes the file. It is safe to call more than once and on a nil
// receiver; a file that is already gone is not an error.
func (t *TempImage) Remove() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.removeErr = err
		}
	})
	return t.removeErr
}

// toRGB drops the alpha channel by compositing onto white.
func toRGB(img image.Image) image.Image {
	bounds := img.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
)

// DefaultAlphaThreshold is the alpha level above which a painted pixel is
// treated as part of the erase region.
const DefaultAlphaThreshold = 10

var (
	ErrEmptyMask   = errors.New("imaging: mask is empty")
	ErrInvalidMask = errors.New("imaging: mask could not be decoded")
)

// BinaryMask converts a base64 canvas export, optionally wrapped in a data
// URI, into a black and white PNG: pixels whose alpha exceeds threshold
// become white (erase), everything else black (keep).
func BinaryMask(encoded string, threshold uint8) ([]byte, error) {
	raw, err := DecodeBase64Image(encoded)
	if err != nil {
		return nil, err
	}
	src, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMask, err)
	}

	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := src.At(x, y).RGBA()
			if uint8(a>>8) > threshold {
				dst.SetGray(x, y, color.Gray{Y: 255})
			} else {
				dst.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, fmt.Errorf("imaging: encode mask: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeBase64Image strips an optional data URI prefix and decodes the
// payload.
func DecodeBase64Image(encoded string) ([]byte, error) {
	data := strings.TrimSpace(encoded)
	if strings.HasPrefix(data, "data:") {
		comma := strings.IndexByte(data, ',')
		if comma < 0 {
			return nil, ErrEmptyMask
		}
		data = data[comma+1:]
	}
	if data == "" {
		return nil, ErrEmptyMask
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMask, err)
		}
	}
	if len(raw) == 0 {
		return nil, ErrEmptyMask
	}
	return raw, nil
}

// DataURI renders data as a base64 data URI.
func DataURI(mime string, data []byte) string {
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsPNG reports whether data carries the PNG signature.
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n"))
}

// IsWEBP reports whether data is a RIFF/WEBP container.
func IsWEBP(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

func decode(data []byte) (image.Image, error) {
	if IsWEBP(data) {
		return webp.Decode(bytes.NewReader(data), &decoder.Options{})
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

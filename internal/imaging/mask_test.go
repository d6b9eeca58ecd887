package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeNRGBA(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestBinaryMaskThreshold(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 0})
	src.SetNRGBA(1, 0, color.NRGBA{R: 255, A: 10})
	src.SetNRGBA(2, 0, color.NRGBA{R: 255, A: 200})

	for _, encoded := range []string{encodeNRGBA(t, src), "data:image/png;base64," + encodeNRGBA(t, src)} {
		out, err := BinaryMask(encoded, DefaultAlphaThreshold)
		if err != nil {
			t.Fatalf("BinaryMask error: %v", err)
		}
		if !IsPNG(out) {
			t.Fatal("expected png output")
		}
		img, err := png.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("decode output: %v", err)
		}
		want := []uint8{0, 0, 255}
		for x, w := range want {
			got := color.GrayModel.Convert(img.At(x, 0)).(color.Gray).Y
			if got != w {
				t.Fatalf("pixel %d = %d, want %d", x, got, w)
			}
		}
	}
}

func TestBinaryMaskRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "data:image/png;base64,"} {
		if _, err := BinaryMask(in, DefaultAlphaThreshold); !errors.Is(err, ErrEmptyMask) {
			t.Fatalf("BinaryMask(%q) err = %v, want ErrEmptyMask", in, err)
		}
	}
}

func TestBinaryMaskRejectsGarbage(t *testing.T) {
	garbage := base64.StdEncoding.EncodeToString([]byte("definitely not an image"))
	if _, err := BinaryMask(garbage, DefaultAlphaThreshold); !errors.Is(err, ErrInvalidMask) {
		t.Fatalf("expected ErrInvalidMask, got %v", err)
	}
	if _, err := BinaryMask("%%%", DefaultAlphaThreshold); !errors.Is(err, ErrInvalidMask) {
		t.Fatalf("expected ErrInvalidMask for bad base64, got %v", err)
	}
}

func TestDataURI(t *testing.T) {
	if got := DataURI("", []byte("hi")); got != "data:image/png;base64,aGk=" {
		t.Fatalf("unexpected data uri %q", got)
	}
}

func TestIsWEBP(t *testing.T) {
	if !IsWEBP([]byte("RIFF\x00\x00\x00\x00WEBPVP8 ")) {
		t.Fatal("expected webp signature to match")
	}
	if IsWEBP([]byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("png must not match webp")
	}
}

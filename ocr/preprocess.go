package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// minOCRWidth is the width below which images are upscaled before
// recognition.
const minOCRWidth = 1200

// Preprocess converts img to grayscale reduced to depth bits per pixel,
// upscaling small images, and returns it PNG-encoded.
func Preprocess(img []byte, depth int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if w < minOCRWidth {
		scale := (minOCRWidth + w - 1) / w
		w, h = w*scale, h*scale
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(gray, gray.Bounds(), src, b, draw.Src, nil)

	if depth > 0 && depth < 8 {
		levels := 1 << depth
		step := 255 / (levels - 1)
		for i, v := range gray.Pix {
			q := (int(v) + step/2) / step * step
			if q > 255 {
				q = 255
			}
			gray.Pix[i] = uint8(q)
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, gray); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return out.Bytes(), nil
}

package docpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// parseImage records the image dimensions and, when an engine resolved,
// returns the recognized text as a single block.
func parseImage(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) ([]Chunk, error) {
	data, err := in.bytes()
	if err != nil {
		return nil, err
	}
	if ic, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.add("tiff:ImageWidth", strconv.Itoa(ic.Width))
		meta.add("tiff:ImageLength", strconv.Itoa(ic.Height))
		meta.add("image:format", format)
	} else {
		cfg.logger.Debug("docpipe: image header not decodable", "extraction_id", cfg.id, "error", err)
	}

	if cfg.engine == nil {
		return nil, nil
	}
	text, err := cfg.engine.Recognize(ctx, data, cfg.ocrOptions())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if cfg.strategy.requiresOCR() {
			return nil, fmt.Errorf("ocr: %w", err)
		}
		cfg.logger.Warn("docpipe: image OCR failed", "extraction_id", cfg.id, "engine", cfg.engine.Name(), "error", err)
		meta.set("ocr:errors", "1")
		return nil, nil
	}
	meta.add("ocr:engine", cfg.engine.Name())
	lines := textLines(text)
	if len(lines) == 0 {
		return nil, nil
	}
	return []Chunk{{Text: strings.Join(lines, "\n") + "\n", Element: "div", Class: "ocr"}}, nil
}

//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

var defaultLoader Loader = LoadGosseract

// Gosseract runs libtesseract in-process. Build with -tags gosseract.
type Gosseract struct{}

func (Gosseract) Name() string { return "gosseract" }

func (Gosseract) Recognize(ctx context.Context, img []byte, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if opts.Preprocess {
		p, err := Preprocess(img, opts.Depth)
		if err != nil {
			return "", fmt.Errorf("ocr: preprocess: %w", err)
		}
		img = p
	}
	client := gosseract.NewClient()
	defer client.Close()

	if opts.Language != "" {
		if err := client.SetLanguage(strings.Split(opts.Language, "+")...); err != nil {
			return "", fmt.Errorf("ocr: gosseract language: %w", err)
		}
	}
	if opts.Rotate {
		if err := client.SetPageSegMode(gosseract.PSM_AUTO_OSD); err != nil {
			return "", fmt.Errorf("ocr: gosseract psm: %w", err)
		}
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("ocr: gosseract image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: gosseract: %w", err)
	}
	return text, nil
}

// LoadGosseract lists the languages libtesseract can load.
func LoadGosseract(_ context.Context) (Engine, []string, error) {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, nil, err
	}
	return Gosseract{}, langs, nil
}

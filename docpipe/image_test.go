package docpipe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/docstream/ocr"
)

func TestImage_OCRText(t *testing.T) {
	eng := &stubEngine{text: "  Line one  \n\n Line two\r\n"}
	ex := testExtractor().WithOcrRuntime(stubRuntime{eng: eng})
	text, meta := extract(t, ex, grayPNG(t, 40, 20))
	if text != "  Line one\n Line two\n" {
		t.Fatalf("text = %q", text)
	}
	if eng.calls.Load() != 1 {
		t.Errorf("engine calls = %d", eng.calls.Load())
	}
	checks := map[string]string{
		"Content-Type":     "image/png",
		"tiff:ImageWidth":  "40",
		"tiff:ImageLength": "20",
		"image:format":     "png",
		"ocr:engine":       "stub",
	}
	for k, want := range checks {
		if got := meta.Value(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestImage_TaggedOCRBlock(t *testing.T) {
	ex := testExtractor().WithOcrRuntime(stubRuntime{eng: &stubEngine{text: "scan"}}).WithXMLOutput(true)
	tagged, _ := extract(t, ex, grayPNG(t, 8, 8))
	want := `<div class="ocr">scan` + "\n" + `</div>`
	if !strings.Contains(tagged, want) {
		t.Fatalf("tagged = %q", tagged)
	}
}

func TestImage_NoEngineUnderAuto(t *testing.T) {
	// WHAT: Without an engine, Auto still reports the image and flags OCR as missing.
	// WHY: A missing OCR install must degrade, not fail the extraction.
	text, meta := extract(t, testExtractor(), grayPNG(t, 10, 10))
	if text != "" {
		t.Fatalf("text = %q", text)
	}
	if got := meta.Value("ocr:status"); got != "unavailable" {
		t.Errorf("ocr:status = %q", got)
	}
	if got := meta.Value("tiff:ImageWidth"); got != "10" {
		t.Errorf("tiff:ImageWidth = %q", got)
	}
}

func TestImage_OCROnlyRequiresEngine(t *testing.T) {
	ex := testExtractor().WithImageConfig(ImageParserConfig{OcrStrategy: OCROnly})
	_, _, err := ex.ExtractString(context.Background(), ByteBuffer(grayPNG(t, 10, 10)))
	if KindOf(err) != KindBackendUnavailable {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestImage_NoOCRSkipsEngine(t *testing.T) {
	eng := &stubEngine{text: "never"}
	ex := testExtractor().
		WithOcrRuntime(stubRuntime{eng: eng}).
		WithImageConfig(ImageParserConfig{OcrStrategy: NoOCR})
	text, meta := extract(t, ex, grayPNG(t, 10, 10))
	if text != "" || eng.calls.Load() != 0 {
		t.Fatalf("text = %q, calls = %d", text, eng.calls.Load())
	}
	if _, ok := meta.Get("ocr:status"); ok {
		t.Error("ocr:status set although OCR was disabled")
	}
}

func TestImage_EngineFailure(t *testing.T) {
	eng := &stubEngine{err: errors.New("tesseract crashed")}

	ex := testExtractor().WithOcrRuntime(stubRuntime{eng: eng})
	text, meta := extract(t, ex, grayPNG(t, 10, 10))
	if text != "" {
		t.Errorf("text = %q", text)
	}
	if got := meta.Value("ocr:errors"); got != "1" {
		t.Errorf("ocr:errors = %q", got)
	}

	strict := ex.WithImageConfig(ImageParserConfig{OcrStrategy: OCROnly})
	_, _, err := strict.ExtractString(context.Background(), ByteBuffer(grayPNG(t, 10, 10)))
	if KindOf(err) != KindMalformedDocument {
		t.Fatalf("expected malformed document, got %v", err)
	}
}

func TestImage_LanguageMissing(t *testing.T) {
	ex := testExtractor().WithOcrRuntime(stubRuntime{err: fmt.Errorf("%w: fra", ocr.ErrLanguageMissing)})
	_, meta := extract(t, ex, grayPNG(t, 10, 10))
	if got := meta.Value("ocr:status"); got != "language-missing" {
		t.Errorf("ocr:status = %q", got)
	}
}

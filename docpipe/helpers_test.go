package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/docstream/ocr"
)

// stubEngine returns fixed text for every image.
type stubEngine struct {
	text  string
	calls atomic.Int32
	err   error
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Recognize(ctx context.Context, img []byte, _ ocr.Options) (string, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(img) == 0 {
		return "", io.ErrUnexpectedEOF
	}
	return e.text, e.err
}

// stubRuntime resolves to eng, or fails with err.
type stubRuntime struct {
	eng ocr.Engine
	err error
}

func (r stubRuntime) Engine(context.Context, string) (ocr.Engine, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.eng, nil
}

var noOCRRuntime = stubRuntime{err: ocr.ErrUnavailable}

// testExtractor returns an extractor that never looks for an OCR engine on the host.
func testExtractor() Extractor {
	return New().
		WithOcrRuntime(noOCRRuntime).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func drain(t *testing.T, r *StreamReader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

// zipFile is one member of a test archive. Stored members are written
// uncompressed with no extra fields, as ODF and EPUB require for the
// leading mimetype entry.
type zipFile struct {
	name   string
	body   string
	stored bool
}

func buildZip(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		h := &zip.FileHeader{Name: f.name, Method: zip.Deflate}
		if f.stored {
			h.Method = zip.Store
		} else {
			h.Modified = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		w, err := zw.CreateHeader(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, f.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// grayPNG returns a w x h light-gray PNG.
func grayPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetGray(0, 0, color.Gray{Y: 0})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// writeTemp saves b under name in a fresh temporary directory.
func writeTemp(t *testing.T, name string, b []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// CLAUDE:SUMMARY Parser dispatcher: format -> backend registry, merged per-extraction parse config, OCR/subprocess availability checks before any backend work.
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/hazyhaar/docstream/ocr"
)

// eagerFunc produces all chunks at once.
type eagerFunc func(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) ([]Chunk, error)

// streamFunc is the body of an incremental backend, run on a worker.
type streamFunc func(ctx context.Context, emit emitFunc) error

// openFunc prepares an incremental backend: it validates the container and
// records metadata synchronously, then returns the streaming body.
type openFunc func(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error)

type backend struct {
	name  string
	eager eagerFunc
	open  openFunc
	// binary names an external program the backend shells out to.
	binary string
}

var backends = map[Format]backend{
	FormatPDF:   {name: "pdf", open: openPDF},
	FormatDocx:  {name: "docx", open: openDocx},
	FormatPptx:  {name: "pptx", open: openPptx},
	FormatXlsx:  {name: "xlsx", open: openXlsx},
	FormatODF:   {name: "odf", open: openODF},
	FormatEPUB:  {name: "epub", open: openEPUB},
	FormatTXT:   {name: "text", open: openText},
	FormatCSV:   {name: "text", open: openText},
	FormatMD:    {name: "markdown", open: openMarkdown},
	FormatHTML:  {name: "html", eager: parseHTML},
	FormatImage: {name: "image", eager: parseImage},
	FormatDoc:   {name: "doc", eager: parseDoc, binary: "wvText"},
	FormatRTF:   {name: "rtf", eager: parseRTF, binary: "unrtf"},
	FormatXML:   {name: "xml", eager: parseXML, binary: "tidy"},
}

func backendFor(f Format) (backend, bool) {
	b, ok := backends[f]
	return b, ok
}

// SupportedFormats lists the formats with a registered backend.
func SupportedFormats() []Format {
	return []Format{
		FormatPDF, FormatDocx, FormatDoc, FormatRTF, FormatODF, FormatXlsx,
		FormatPptx, FormatEPUB, FormatImage, FormatTXT, FormatCSV, FormatMD,
		FormatHTML, FormatXML,
	}
}

// parseConfig is the merged, read-only configuration handed to a backend.
type parseConfig struct {
	det      Detection
	ocr      OcrConfig
	pdf      PdfParserConfig
	office   OfficeParserConfig
	html     HTMLParserConfig
	strategy OcrStrategy
	// engine is nil when OCR is disabled or unavailable.
	engine ocr.Engine
	logger *slog.Logger
	id     string
}

func (c *parseConfig) ocrOptions() ocr.Options {
	return ocr.Options{
		Language:   c.ocr.Language,
		Density:    c.ocr.Density,
		Depth:      c.ocr.Depth,
		Timeout:    c.ocr.Timeout,
		Preprocess: c.ocr.EnableImagePreprocessing,
		Rotate:     c.ocr.ApplyRotation,
	}
}

// lookPath resolves external programs. Replaced in tests.
var lookPath = exec.LookPath

// dispatch selects the backend for det and resolves everything it needs
// before any backend resource is acquired.
func (e Extractor) dispatch(ctx context.Context, det Detection, id string, meta *metaBuilder) (backend, *parseConfig, error) {
	b, ok := backendFor(det.Format)
	if !ok {
		return backend{}, nil, newError(KindUnsupportedFormat, "dispatch", fmt.Errorf("no backend for format %q", det.Format))
	}
	if b.binary != "" {
		if _, err := lookPath(b.binary); err != nil {
			return backend{}, nil, newError(KindBackendUnavailable, b.name, fmt.Errorf("%s not installed: %w", b.binary, err))
		}
	}

	ocfg := e.ocr
	ocfg.defaults()
	cfg := &parseConfig{
		det:    det,
		ocr:    ocfg,
		pdf:    e.pdf,
		office: e.office,
		html:   e.html,
		logger: e.log(),
		id:     id,
	}

	if det.Format.supportsOCR() {
		cfg.strategy = e.pdf.OcrStrategy
		if det.Format == FormatImage {
			cfg.strategy = e.image.OcrStrategy
		}
		if cfg.strategy != NoOCR {
			eng, err := e.ocrRuntime().Engine(ctx, ocfg.Language)
			switch {
			case err == nil:
				cfg.engine = eng
			case cfg.strategy.requiresOCR():
				return backend{}, nil, newError(KindBackendUnavailable, "ocr", err)
			default:
				reason := "unavailable"
				if errors.Is(err, ocr.ErrLanguageMissing) {
					reason = "language-missing"
				}
				meta.add("ocr:status", reason)
				cfg.logger.Warn("docpipe: OCR unavailable, continuing without it",
					"extraction_id", id, "format", det.Format, "language", ocfg.Language, "error", err)
			}
		}
	}
	return b, cfg, nil
}

// ocrRuntime returns the configured OCR runtime, or the process-wide one.
func (e Extractor) ocrRuntime() OcrRuntime {
	if e.ocrRT != nil {
		return e.ocrRT
	}
	return ocr.Shared()
}

// OcrRuntime resolves an OCR engine able to recognize language.
type OcrRuntime interface {
	Engine(ctx context.Context, language string) (ocr.Engine, error)
}

// textLines splits recognized or converted text into trimmed, non-empty lines.
func textLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, " \t\r\f\v")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

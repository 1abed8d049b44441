// CLAUDE:SUMMARY Extractor value type: immutable configuration with With* setters and the Extract/ExtractString/ExtractDocument/Detect entry points.
// Package docpipe extracts text and metadata from documents and streams the
// result through a bounded-memory pull reader.
//
// Supported formats:
//   - pdf   : text layer, annotations, OCR of page images
//   - docx, pptx, xlsx : Office Open XML
//   - odt, ods, odp : OpenDocument
//   - epub  : spine chapters
//   - doc, rtf, xml : legacy formats through docconv
//   - html  : plain text or Markdown
//   - txt, csv, md : charset-detected text
//   - png, jpeg, gif, tiff, bmp, webp : OCR
//
// Usage:
//
//	ex := docpipe.New().WithPdfConfig(docpipe.DefaultPdfConfig().WithOcrStrategy(docpipe.NoOCR))
//	text, meta, err := ex.ExtractString(ctx, docpipe.FilePath("report.pdf"))
//
//	r, _, err := ex.Extract(ctx, docpipe.URL("https://example.com/a.docx"))
//	defer r.Close()
//	io.Copy(os.Stdout, r)
package docpipe

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hazyhaar/docstream/idgen"
)

// Extractor holds an extraction configuration. It is a value: setters
// return a modified copy and never affect other holders. An Extractor is
// safe for concurrent use.
type Extractor struct {
	ocr       OcrConfig
	pdf       PdfParserConfig
	office    OfficeParserConfig
	html      HTMLParserConfig
	image     ImageParserConfig
	xmlOutput bool
	charset   CharSet
	maxLength int
	fetcher   Fetcher
	ocrRT     OcrRuntime
	logger    *slog.Logger
	newID     idgen.Generator
}

// New returns an Extractor with default configuration.
func New() Extractor {
	return Extractor{
		ocr:    DefaultOcrConfig(),
		pdf:    DefaultPdfConfig(),
		office: DefaultOfficeConfig(),
		image:  ImageParserConfig{OcrStrategy: Auto},
	}
}

func (e Extractor) WithOcrConfig(c OcrConfig) Extractor { e.ocr = c; return e }

func (e Extractor) WithPdfConfig(c PdfParserConfig) Extractor { e.pdf = c; return e }

func (e Extractor) WithOfficeConfig(c OfficeParserConfig) Extractor { e.office = c; return e }

func (e Extractor) WithHTMLConfig(c HTMLParserConfig) Extractor { e.html = c; return e }

func (e Extractor) WithImageConfig(c ImageParserConfig) Extractor { e.image = c; return e }

// WithXMLOutput switches output to tagged XHTML.
func (e Extractor) WithXMLOutput(on bool) Extractor { e.xmlOutput = on; return e }

// WithEncoding sets the byte encoding of streamed content.
func (e Extractor) WithEncoding(cs CharSet) Extractor { e.charset = cs; return e }

// WithMaxStringLength bounds ExtractString and ExtractDocument results, in
// characters. Zero or negative means unbounded.
func (e Extractor) WithMaxStringLength(n int) Extractor { e.maxLength = n; return e }

// WithFetcher sets the retriever used for URL sources.
func (e Extractor) WithFetcher(f Fetcher) Extractor { e.fetcher = f; return e }

// WithOcrRuntime overrides the process-wide OCR runtime.
func (e Extractor) WithOcrRuntime(rt OcrRuntime) Extractor { e.ocrRT = rt; return e }

func (e Extractor) WithLogger(l *slog.Logger) Extractor { e.logger = l; return e }

// WithIDGenerator sets how extraction IDs are generated.
func (e Extractor) WithIDGenerator(g idgen.Generator) Extractor { e.newID = g; return e }

func (e Extractor) OcrConfig() OcrConfig { return e.ocr }
func (e Extractor) PdfConfig() PdfParserConfig { return e.pdf }
func (e Extractor) OfficeConfig() OfficeParserConfig { return e.office }
func (e Extractor) HTMLConfig() HTMLParserConfig { return e.html }
func (e Extractor) ImageConfig() ImageParserConfig { return e.image }
func (e Extractor) XMLOutput() bool { return e.xmlOutput }
func (e Extractor) Encoding() CharSet { return e.charset }
func (e Extractor) MaxStringLength() int { return e.maxLength }

func (e Extractor) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func (e Extractor) id() string {
	if e.newID != nil {
		return e.newID()
	}
	return idgen.New()
}

// Extract starts an extraction and returns a reader over its content with
// the metadata known at that point. The caller must Close the reader.
func (e Extractor) Extract(ctx context.Context, src Source) (*StreamReader, Metadata, error) {
	p, err := e.start(ctx, src)
	if err != nil {
		return nil, Metadata{}, err
	}
	r := newStreamReader(p)
	return r, r.Metadata(), nil
}

// Detect reports the format of src without extracting it.
func (e Extractor) Detect(ctx context.Context, src Source) (Detection, error) {
	in, err := e.open(ctx, src)
	if err != nil {
		return Detection{}, err
	}
	defer in.close()
	prefix, err := in.prefix(detectPrefixSize)
	if err != nil {
		return Detection{}, newError(KindSourceNotFound, "read", err)
	}
	return detectFormat(prefix, in.hint)
}

// start opens, detects, dispatches and launches the backend.
func (e Extractor) start(ctx context.Context, src Source) (_ *pipeline, err error) {
	started := time.Now()
	id := e.id()
	logger := e.log()

	in, err := e.open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			in.close()
		}
	}()

	prefix, err := in.prefix(detectPrefixSize)
	if err != nil {
		return nil, newError(KindSourceNotFound, "read", err)
	}
	det, err := detectFormat(prefix, in.hint)
	if err != nil {
		return nil, err
	}

	meta := newMetaBuilder()
	meta.add("Content-Type", det.MIME)
	if ct := baseMIME(in.hint.contentType); ct != "" && ct != det.MIME {
		meta.add("Content-Type-Hint", ct)
	}
	meta.add("resource-name", in.hint.name)
	meta.add("Content-Length", strconv.FormatInt(in.size, 10))

	b, cfg, err := e.dispatch(ctx, det, id, meta)
	if err != nil {
		return nil, err
	}
	meta.add("X-Parsed-By", "docpipe", b.name)

	logger.Debug("docpipe: extraction started",
		"extraction_id", id,
		"source", in.kind,
		"format", det.Format,
		"mime", det.MIME,
		"backend", b.name,
		"size", in.size,
	)

	pctx, cancel := context.WithCancel(ctx)
	p := &pipeline{
		id:      id,
		det:     det,
		backend: b.name,
		in:      in,
		meta:    meta,
		ctx:     pctx,
		cancel:  cancel,
		logger:  logger,
		started: started,
		tagged:  e.xmlOutput,
		charset: e.charset,
	}

	prod, err := runBackend(pctx, b, in, cfg, meta)
	if err != nil {
		cancel()
		return nil, err
	}
	p.prod = prod
	return p, nil
}

// runBackend runs the synchronous part of a backend and wraps the result in
// a producer. Zero-byte input yields no content without calling the backend.
func runBackend(ctx context.Context, b backend, in *input, cfg *parseConfig, meta *metaBuilder) (prod producer, err error) {
	if in.size == 0 {
		return newEagerProducer(nil), nil
	}
	defer func() {
		if r := recover(); r != nil {
			prod, err = nil, newError(KindMalformedDocument, b.name, fmt.Errorf("panic: %v", r))
		}
	}()
	if b.eager != nil {
		chunks, err := b.eager(ctx, in, cfg, meta)
		if err != nil {
			return nil, backendError(b.name, err)
		}
		return newEagerProducer(chunks), nil
	}
	run, err := b.open(ctx, in, cfg, meta)
	if err != nil {
		return nil, backendError(b.name, err)
	}
	return startWorker(ctx, b.name, run), nil
}

// CLAUDE:SUMMARY Immutable configuration values for extraction: OCR, per-format parser options, output shaping.
package docpipe

import (
	"fmt"
	"strings"
	"time"
)

// OcrStrategy controls whether OCR runs instead of, alongside, or after the
// native text layer.
type OcrStrategy int

const (
	// Auto extracts the text layer and OCRs pages that lack one, when an OCR
	// engine is available.
	Auto OcrStrategy = iota
	// NoOCR ignores embedded images; only native text is returned.
	NoOCR
	// OCROnly skips the text layer and returns OCR output only.
	OCROnly
	// OCRAndTextExtraction returns the text layer followed by OCR output.
	OCRAndTextExtraction
)

func (s OcrStrategy) String() string {
	switch s {
	case NoOCR:
		return "no_ocr"
	case OCROnly:
		return "ocr_only"
	case OCRAndTextExtraction:
		return "ocr_and_text_extraction"
	}
	return "auto"
}

// requiresOCR reports whether the strategy cannot run without an OCR engine.
func (s OcrStrategy) requiresOCR() bool {
	return s == OCROnly || s == OCRAndTextExtraction
}

// ParseOcrStrategy parses the names produced by String, case-insensitively.
func ParseOcrStrategy(s string) (OcrStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "no_ocr", "none":
		return NoOCR, nil
	case "ocr_only":
		return OCROnly, nil
	case "ocr_and_text_extraction", "ocr_and_text":
		return OCRAndTextExtraction, nil
	}
	return Auto, fmt.Errorf("unknown ocr strategy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s OcrStrategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OcrStrategy) UnmarshalText(b []byte) error {
	v, err := ParseOcrStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OcrConfig holds recognition language and engine tuning parameters.
type OcrConfig struct {
	// Language is a tesseract language spec, e.g. "eng" or "eng+fra".
	Language string `json:"language" yaml:"language" toml:"language"`
	// Density is the resolution (dpi) hint passed to the engine.
	Density int `json:"density" yaml:"density" toml:"density"`
	// Depth is the number of bits per gray level kept by preprocessing.
	Depth int `json:"depth" yaml:"depth" toml:"depth"`
	// Timeout bounds a single recognition call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	// EnableImagePreprocessing converts images to reduced-depth grayscale
	// before recognition.
	EnableImagePreprocessing bool `json:"enable_image_preprocessing" yaml:"enable_image_preprocessing" toml:"enable_image_preprocessing"`
	// ApplyRotation lets the engine detect and correct page orientation.
	ApplyRotation bool `json:"apply_rotation" yaml:"apply_rotation" toml:"apply_rotation"`
}

// DefaultOcrConfig returns the default OCR configuration.
func DefaultOcrConfig() OcrConfig {
	c := OcrConfig{}
	c.defaults()
	return c
}

func (c *OcrConfig) defaults() {
	if c.Language == "" {
		c.Language = "eng"
	}
	if c.Density <= 0 {
		c.Density = 300
	}
	if c.Depth <= 0 {
		c.Depth = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 130 * time.Second
	}
}

// PageRange selects pages by 1-based inclusive bounds. Zero leaves a bound open.
type PageRange struct {
	First int `json:"first" yaml:"first" toml:"first"`
	Last  int `json:"last" yaml:"last" toml:"last"`
}

// Contains reports whether page n is selected.
func (r PageRange) Contains(n int) bool {
	if r.First > 0 && n < r.First {
		return false
	}
	if r.Last > 0 && n > r.Last {
		return false
	}
	return true
}

// PdfParserConfig holds PDF-specific options.
type PdfParserConfig struct {
	OcrStrategy OcrStrategy `json:"ocr_strategy" yaml:"ocr_strategy" toml:"ocr_strategy"`
	// ExtractAnnotationText appends annotation contents to page text.
	ExtractAnnotationText bool `json:"extract_annotation_text" yaml:"extract_annotation_text" toml:"extract_annotation_text"`
	// ExtractInlineImages OCRs every embedded image, not only pages that
	// need OCR under Auto.
	ExtractInlineImages bool `json:"extract_inline_images" yaml:"extract_inline_images" toml:"extract_inline_images"`
	// ExtractUniqueInlineImagesOnly processes an image object once even
	// when several pages reference it.
	ExtractUniqueInlineImagesOnly bool      `json:"extract_unique_inline_images_only" yaml:"extract_unique_inline_images_only" toml:"extract_unique_inline_images_only"`
	Pages                         PageRange `json:"pages" yaml:"pages" toml:"pages"`
}

// DefaultPdfConfig returns the default PDF configuration.
func DefaultPdfConfig() PdfParserConfig {
	return PdfParserConfig{
		OcrStrategy:                   Auto,
		ExtractAnnotationText:         true,
		ExtractUniqueInlineImagesOnly: true,
	}
}

// WithOcrStrategy returns a copy of c using strategy s.
func (c PdfParserConfig) WithOcrStrategy(s OcrStrategy) PdfParserConfig {
	c.OcrStrategy = s
	return c
}

// OfficeParserConfig holds options for OOXML and OpenDocument formats.
type OfficeParserConfig struct {
	IncludeDeletedContent     bool `json:"include_deleted_content" yaml:"include_deleted_content" toml:"include_deleted_content"`
	IncludeMoveFromContent    bool `json:"include_move_from_content" yaml:"include_move_from_content" toml:"include_move_from_content"`
	IncludeShapeBasedContent  bool `json:"include_shape_based_content" yaml:"include_shape_based_content" toml:"include_shape_based_content"`
	IncludeHeadersAndFooters  bool `json:"include_headers_and_footers" yaml:"include_headers_and_footers" toml:"include_headers_and_footers"`
	IncludeMissingRows        bool `json:"include_missing_rows" yaml:"include_missing_rows" toml:"include_missing_rows"`
	IncludeSlideNotes         bool `json:"include_slide_notes" yaml:"include_slide_notes" toml:"include_slide_notes"`
	IncludeSlideMasterContent bool `json:"include_slide_master_content" yaml:"include_slide_master_content" toml:"include_slide_master_content"`
}

// DefaultOfficeConfig returns the default Office configuration.
func DefaultOfficeConfig() OfficeParserConfig {
	return OfficeParserConfig{
		IncludeShapeBasedContent:  true,
		IncludeSlideNotes:         true,
		IncludeSlideMasterContent: true,
	}
}

// HTMLParserConfig holds options for HTML and web content.
type HTMLParserConfig struct {
	// Markdown renders the document body as Markdown instead of plain text.
	Markdown bool `json:"markdown" yaml:"markdown" toml:"markdown"`
	// KeepHidden keeps elements hidden through inline styles.
	KeepHidden bool `json:"keep_hidden" yaml:"keep_hidden" toml:"keep_hidden"`
}

// ImageParserConfig holds options for raster images.
type ImageParserConfig struct {
	OcrStrategy OcrStrategy `json:"ocr_strategy" yaml:"ocr_strategy" toml:"ocr_strategy"`
}

// CharSet is the byte encoding of streamed content.
type CharSet int

const (
	UTF8 CharSet = iota
	USASCII
	UTF16BE
)

func (c CharSet) String() string {
	switch c {
	case USASCII:
		return "US-ASCII"
	case UTF16BE:
		return "UTF-16BE"
	}
	return "UTF-8"
}

// ParseCharSet parses an IANA charset name.
func ParseCharSet(s string) (CharSet, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "", "UTF-8", "UTF8":
		return UTF8, nil
	case "US-ASCII", "ASCII":
		return USASCII, nil
	case "UTF-16BE", "UTF16BE":
		return UTF16BE, nil
	}
	return UTF8, fmt.Errorf("unsupported charset %q", s)
}

// DefaultMaxStringLength bounds materialized string results, in characters.
const DefaultMaxStringLength = 500_000

// CLAUDE:SUMMARY PDF backend: ledongthuc text layer (rows by baseline), Info metadata, annotations; pdfcpu structure for page images (OCR) and content-stream fallback text.
// CLAUDE:DEPENDS docpipe/quality.go
package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfcpu writes a config dir under the user's home unless told otherwise.
var pdfcpuInit sync.Once

type pdfDoc struct {
	cfg  *parseConfig
	meta *metaBuilder

	// text is nil when only pdfcpu could read the file.
	text *lpdf.Reader
	// structure is loaded when page images are needed or the text layer is
	// unreadable.
	structure *model.Context
	pages     int

	seen      map[int]bool
	ocrPages  int
	ocrErrors int
	unmapped  int
}

func openPDF(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	pdfcpuInit.Do(api.DisableConfigDir)

	d := &pdfDoc{cfg: cfg, meta: meta, seen: make(map[int]bool)}
	r, textErr := newPDFReader(in)
	if textErr == nil {
		d.text = r
		d.pages = r.NumPage()
	}

	if textErr != nil || cfg.engine != nil {
		pc, err := readPDFStructure(in)
		switch {
		case err == nil:
			d.structure = pc
		case textErr != nil:
			return nil, fmt.Errorf("pdf: %w", textErr)
		case cfg.strategy.requiresOCR():
			return nil, fmt.Errorf("pdf: read page images: %w", err)
		default:
			cfg.logger.Warn("docpipe: pdf structure unreadable, skipping OCR",
				"extraction_id", cfg.id, "error", err)
		}
	}
	if d.text == nil {
		cfg.logger.Warn("docpipe: pdf text layer unreadable, using content-stream fallback",
			"extraction_id", cfg.id, "error", textErr)
		d.pages = d.structure.PageCount
	}

	d.describe(in)
	return d.stream, nil
}

// newPDFReader opens the text layer. The reader panics on some malformed
// cross-reference tables.
func newPDFReader(in *input) (r *lpdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("pdf reader: %v", p)
		}
	}()
	return lpdf.NewReader(in.ra, in.size)
}

func readPDFStructure(in *input) (pc *model.Context, err error) {
	defer func() {
		if p := recover(); p != nil {
			pc, err = nil, fmt.Errorf("pdfcpu: %v", p)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pc, err = api.ReadValidateAndOptimize(in.reader(), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return pc, nil
}

// describe records document-level metadata.
func (d *pdfDoc) describe(in *input) {
	if head, err := in.prefix(16); err == nil {
		if v, ok := strings.CutPrefix(string(head), "%PDF-"); ok {
			d.meta.add("pdf:PDFVersion", strings.TrimRightFunc(v[:min(3, len(v))], unicode.IsSpace))
		}
	}
	d.meta.add("xmpTPg:NPages", strconv.Itoa(d.pages))
	if d.text == nil {
		return
	}

	trailer := d.text.Trailer()
	d.meta.add("pdf:encrypted", strconv.FormatBool(trailer.Key("Encrypt").Kind() != lpdf.Null))

	info := trailer.Key("Info")
	if info.Kind() != lpdf.Dict {
		return
	}
	d.meta.add("dc:title", info.Key("Title").Text())
	d.meta.add("dc:creator", info.Key("Author").Text())
	d.meta.add("dc:subject", info.Key("Subject").Text())
	d.meta.add("meta:keyword", splitKeywords(info.Key("Keywords").Text())...)
	d.meta.add("xmp:CreatorTool", info.Key("Creator").Text())
	d.meta.add("pdf:producer", info.Key("Producer").Text())
	if t, ok := parsePDFDate(info.Key("CreationDate").Text()); ok {
		d.meta.add("dcterms:created", t.UTC().Format(time.RFC3339))
	}
	if t, ok := parsePDFDate(info.Key("ModDate").Text()); ok {
		d.meta.add("dcterms:modified", t.UTC().Format(time.RFC3339))
	}
}

// stream emits one div.page chunk per selected page, then a closing newline.
func (d *pdfDoc) stream(ctx context.Context, emit emitFunc) error {
	for n := 1; n <= d.pages; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.cfg.pdf.Pages.Contains(n) {
			continue
		}

		var lines []string
		if d.cfg.strategy != OCROnly {
			lines = d.pageText(n)
		}
		if d.wantOCR(n, lines) {
			recognized, err := d.ocrPage(ctx, n)
			if err != nil {
				return err
			}
			if d.cfg.strategy == Auto && measurePage(lines, true).garbled() {
				lines = nil
			}
			lines = append(lines, recognized...)
		}

		var sb strings.Builder
		sb.WriteByte('\n')
		for _, line := range lines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
		if err := emit(Chunk{Text: sb.String(), Element: "div", Class: "page"}); err != nil {
			return err
		}
	}

	if d.ocrPages > 0 {
		d.meta.set("pdf:ocrPageCount", strconv.Itoa(d.ocrPages))
		d.meta.set("ocr:engine", d.cfg.engine.Name())
	}
	if d.ocrErrors > 0 {
		d.meta.set("ocr:errors", strconv.Itoa(d.ocrErrors))
	}
	if d.unmapped > 0 {
		d.meta.set("pdf:unmappedGlyphs", strconv.Itoa(d.unmapped))
	}
	return emit(Chunk{Text: "\n"})
}

func (d *pdfDoc) pageText(n int) []string {
	if d.text == nil {
		return textLines(pdfcpuPageText(d.structure, n))
	}
	page := d.text.Page(n)
	lines, replaced, err := contentLines(page)
	if replaced > 0 {
		d.unmapped += unmappedGlyphs(page)
	}
	if err != nil {
		d.cfg.logger.Debug("docpipe: pdf page layout failed, using plain text",
			"extraction_id", d.cfg.id, "page", n, "error", err)
		s, perr := page.GetPlainText(nil)
		if perr != nil {
			d.cfg.logger.Warn("docpipe: pdf page text unreadable",
				"extraction_id", d.cfg.id, "page", n, "error", perr)
		}
		d.unmapped += strings.Count(s, "\ufffd")
		lines = textLines(strings.ReplaceAll(s, "\ufffd", ""))
	}
	if d.cfg.pdf.ExtractAnnotationText {
		lines = append(lines, annotationLines(page)...)
	}
	return lines
}

func (d *pdfDoc) hasImages(n int) bool {
	return d.structure != nil && len(pdfcpu.ImageObjNrs(d.structure, n)) > 0
}

func (d *pdfDoc) wantOCR(n int, lines []string) bool {
	if d.cfg.engine == nil || d.structure == nil {
		return false
	}
	switch d.cfg.strategy {
	case OCROnly, OCRAndTextExtraction:
		return d.hasImages(n)
	case Auto:
		has := d.hasImages(n)
		return has && (d.cfg.pdf.ExtractInlineImages || measurePage(lines, has).needsOCR())
	}
	return false
}

// ocrPage recognizes the images drawn on page n. A failing image is logged
// and skipped; only cancellation aborts the page.
func (d *pdfDoc) ocrPage(ctx context.Context, n int) ([]string, error) {
	images, err := pdfcpu.ExtractPageImages(d.structure, n, false)
	if err != nil {
		d.cfg.logger.Warn("docpipe: pdf page images unreadable",
			"extraction_id", d.cfg.id, "page", n, "error", err)
		d.ocrErrors++
		return nil, nil
	}
	objNrs := make([]int, 0, len(images))
	for nr := range images {
		objNrs = append(objNrs, nr)
	}
	slices.Sort(objNrs)

	var lines []string
	opts := d.cfg.ocrOptions()
	for _, nr := range objNrs {
		if d.cfg.pdf.ExtractUniqueInlineImagesOnly {
			if d.seen[nr] {
				continue
			}
			d.seen[nr] = true
		}
		data, err := io.ReadAll(images[nr])
		if err != nil {
			d.ocrErrors++
			continue
		}
		text, err := d.cfg.engine.Recognize(ctx, data, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d.cfg.logger.Warn("docpipe: OCR failed on pdf image",
				"extraction_id", d.cfg.id, "page", n, "object", nr, "error", err)
			d.ocrErrors++
			continue
		}
		lines = append(lines, textLines(text)...)
	}
	d.ocrPages++
	return lines, nil
}

// contentLines groups the page's glyphs into rows by baseline, top to
// bottom, keeping content-stream order within a row. U+FFFD glyphs are
// dropped and counted in replaced.
func contentLines(p lpdf.Page) (lines []string, replaced int, err error) {
	defer func() {
		if r := recover(); r != nil {
			lines, replaced, err = nil, 0, fmt.Errorf("content stream: %v", r)
		}
	}()

	type row struct {
		y      float64
		glyphs []lpdf.Text
	}
	var rows []*row
	for _, g := range p.Content().Text {
		// TJ arrays end with a synthetic newline glyph, decoded as U+FFFD by
		// CMap fonts.
		if g.S == "\ufffd" {
			replaced++
			continue
		}
		if g.S == "" || g.S == "\n" {
			continue
		}
		tol := math.Max(1, g.FontSize*0.3)
		var r *row
		for i := len(rows) - 1; i >= 0; i-- {
			if math.Abs(rows[i].y-g.Y) <= tol {
				r = rows[i]
				break
			}
		}
		if r == nil {
			r = &row{y: g.Y}
			rows = append(rows, r)
		}
		r.glyphs = append(r.glyphs, g)
	}
	slices.SortStableFunc(rows, func(a, b *row) int {
		switch {
		case a.y > b.y:
			return -1
		case a.y < b.y:
			return 1
		}
		return 0
	})

	for _, r := range rows {
		var sb strings.Builder
		for i, g := range r.glyphs {
			if i > 0 && glyphGap(r.glyphs[i-1], g) && g.S != " " && !strings.HasSuffix(sb.String(), " ") {
				sb.WriteByte(' ')
			}
			sb.WriteString(g.S)
		}
		if line := strings.TrimRightFunc(sb.String(), unicode.IsSpace); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, replaced, nil
}

// unmappedGlyphs counts the glyphs on p that its fonts map to no character.
// The plain-text walk has no synthetic TJ line ends to tell apart.
func unmappedGlyphs(p lpdf.Page) int {
	s, err := p.GetPlainText(nil)
	if err != nil {
		return 0
	}
	return strings.Count(s, "\ufffd")
}

// glyphGap reports whether cur starts a new word after prev. Without width
// information every glyph of a text run shares the run's origin, so any
// jump of about a glyph's size is a new run.
func glyphGap(prev, cur lpdf.Text) bool {
	size := math.Max(prev.FontSize, 1)
	if prev.W > 0 {
		return cur.X-(prev.X+prev.W) > 0.2*size
	}
	return math.Abs(cur.X-prev.X) > size
}

func annotationLines(p lpdf.Page) []string {
	annots := p.V.Key("Annots")
	var out []string
	for i := 0; i < annots.Len(); i++ {
		a := annots.Index(i)
		if a.Key("Subtype").Name() == "Popup" {
			continue
		}
		out = append(out, textLines(a.Key("Contents").Text())...)
	}
	return out
}

func splitKeywords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
}

// parsePDFDate parses a PDF date string: D:YYYYMMDDHHmmSSOHH'mm'. Trailing
// components are optional.
func parsePDFDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 4 {
		return time.Time{}, false
	}
	digits := s
	zone := ""
	if i := strings.IndexAny(s, "Z+-"); i >= 0 {
		digits, zone = s[:i], s[i:]
	}
	// Pad to YYYYMMDDHHmmSS with month and day 01.
	const layout = "20060102150405"
	pad := "00000101000000"
	if len(digits) > len(layout) {
		return time.Time{}, false
	}
	digits += pad[len(digits):]
	t, err := time.Parse(layout, digits)
	if err != nil {
		return time.Time{}, false
	}
	if zone == "" || zone[0] == 'Z' {
		return t, true
	}
	z := strings.ReplaceAll(strings.TrimSuffix(zone[1:], "'"), "'", "")
	if len(z) != 4 && len(z) != 2 {
		return t, true
	}
	hh, _ := strconv.Atoi(z[:2])
	mm := 0
	if len(z) == 4 {
		mm, _ = strconv.Atoi(z[2:])
	}
	offset := hh*3600 + mm*60
	if zone[0] == '-' {
		offset = -offset
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0,
		time.FixedZone("", offset)), true
}

// pdfcpuPageText extracts text from a single page's content stream when the
// text layer reader could not open the file.
func pdfcpuPageText(pc *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pc, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// extractTextFromStream parses content stream operators for text. Each
// text object (BT..ET) becomes one line.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.Equal(line, []byte("ET")), bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
	}
	var out []string
	for _, l := range strings.Split(sb.String(), "\n") {
		if l = cleanPDFText(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			// Octal escape (e.g. \040 for space).
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanPDFText collapses whitespace runs and drops unprintable runes.
func cleanPDFText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

// CLAUDE:SUMMARY Format detection: content sniffing over a bounded prefix, refined by declared extension and content type.
package docpipe

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// detectPrefixSize bounds how much of a source detection reads.
const detectPrefixSize = 64 << 10

func init() {
	mimetype.SetLimit(detectPrefixSize)
}

var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDocx,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.template":   FormatDocx,
	"application/vnd.ms-word.document.macroenabled.12":                          FormatDocx,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatXlsx,
	"application/vnd.ms-excel.sheet.macroenabled.12":                            FormatXlsx,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPptx,
	"application/vnd.ms-powerpoint.presentation.macroenabled.12":                FormatPptx,
	"application/msword":                                     FormatDoc,
	"application/rtf":                                        FormatRTF,
	"text/rtf":                                               FormatRTF,
	"application/vnd.oasis.opendocument.text":                FormatODF,
	"application/vnd.oasis.opendocument.spreadsheet":         FormatODF,
	"application/vnd.oasis.opendocument.presentation":        FormatODF,
	"application/vnd.oasis.opendocument.text-template":       FormatODF,
	"application/epub+zip":                                   FormatEPUB,
	"image/png":                                              FormatImage,
	"image/jpeg":                                             FormatImage,
	"image/gif":                                              FormatImage,
	"image/tiff":                                             FormatImage,
	"image/bmp":                                              FormatImage,
	"image/x-ms-bmp":                                         FormatImage,
	"image/webp":                                             FormatImage,
	"text/html":                                              FormatHTML,
	"application/xhtml+xml":                                  FormatHTML,
	"text/xml":                                               FormatXML,
	"application/xml":                                        FormatXML,
	"image/svg+xml":                                          FormatXML,
	"text/csv":                                               FormatCSV,
	"text/tab-separated-values":                              FormatCSV,
	"text/markdown":                                          FormatMD,
	"text/x-markdown":                                        FormatMD,
	"text/plain":                                             FormatTXT,
}

var extFormats = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDocx,
	".docm":     FormatDocx,
	".dotx":     FormatDocx,
	".doc":      FormatDoc,
	".rtf":      FormatRTF,
	".odt":      FormatODF,
	".ods":      FormatODF,
	".odp":      FormatODF,
	".xlsx":     FormatXlsx,
	".xlsm":     FormatXlsx,
	".pptx":     FormatPptx,
	".pptm":     FormatPptx,
	".epub":     FormatEPUB,
	".png":      FormatImage,
	".jpg":      FormatImage,
	".jpeg":     FormatImage,
	".gif":      FormatImage,
	".tif":      FormatImage,
	".tiff":     FormatImage,
	".bmp":      FormatImage,
	".webp":     FormatImage,
	".txt":      FormatTXT,
	".text":     FormatTXT,
	".log":      FormatTXT,
	".csv":      FormatCSV,
	".tsv":      FormatCSV,
	".md":       FormatMD,
	".markdown": FormatMD,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".xhtml":    FormatHTML,
	".xml":      FormatXML,
}

// canonicalMIME is the type reported for a format found through a hint
// when sniffing gave only a generic answer.
var canonicalMIME = map[Format]string{
	FormatPDF:   "application/pdf",
	FormatDocx:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatDoc:   "application/msword",
	FormatRTF:   "application/rtf",
	FormatODF:   "application/vnd.oasis.opendocument.text",
	FormatXlsx:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatPptx:  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	FormatEPUB:  "application/epub+zip",
	FormatImage: "application/octet-stream",
	FormatTXT:   "text/plain",
	FormatCSV:   "text/csv",
	FormatMD:    "text/markdown",
	FormatHTML:  "text/html",
	FormatXML:   "application/xml",
}

// genericMIME are sniff results that only say "some container" or "some
// text"; declared hints may refine them.
var genericMIME = map[string]bool{
	"text/plain":                true,
	"application/zip":           true,
	"application/octet-stream":  true,
	"application/x-ole-storage": true,
	"application/xml":           true,
	"text/xml":                  true,
}

// baseMIME strips parameters and lowercases a media type.
func baseMIME(s string) string {
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// detectFormat classifies a document from its leading bytes and declared
// hints. Sniffed types win unless they are generic.
func detectFormat(prefix []byte, h hint) (Detection, error) {
	if len(prefix) == 0 {
		f, ok := extFormats[h.ext()]
		if !ok {
			f = FormatTXT
		}
		return detection(f, canonicalMIME[f]), nil
	}

	sniffed := baseMIME(mimetype.Detect(prefix).String())
	if f, ok := mimeFormats[sniffed]; ok && !genericMIME[sniffed] {
		return detection(f, sniffed), nil
	}

	declared := baseMIME(h.contentType)
	if f, ok := mimeFormats[declared]; ok && !genericMIME[declared] {
		return detection(f, declared), nil
	}
	if f, ok := extFormats[h.ext()]; ok {
		mt := canonicalMIME[f]
		if f == FormatImage || mt == "" {
			mt = sniffed
		}
		if f == FormatXML && (sniffed == "text/xml" || sniffed == "application/xml") {
			mt = sniffed
		}
		return detection(f, mt), nil
	}
	if f, ok := mimeFormats[declared]; ok {
		return detection(f, declared), nil
	}
	if f, ok := mimeFormats[sniffed]; ok {
		return detection(f, sniffed), nil
	}
	return Detection{MIME: sniffed}, newError(KindUnsupportedFormat, "detect", fmt.Errorf("no backend for %s", sniffed))
}

func detection(f Format, mt string) Detection {
	return Detection{Format: f, Family: f.Family(), MIME: mt}
}

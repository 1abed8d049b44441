// CLAUDE:SUMMARY Text-layer quality heuristics deciding when an Auto-strategy PDF page is OCRed.
package docpipe

import (
	"strings"
	"unicode"
)

// pageQuality captures metrics about a page's native text layer.
type pageQuality struct {
	Chars          int
	PrintableRatio float64
	WordlikeRatio  float64
	HasImages      bool
}

func measurePage(lines []string, hasImages bool) pageQuality {
	text := strings.Join(lines, "\n")
	return pageQuality{
		Chars:          len([]rune(strings.TrimSpace(text))),
		PrintableRatio: computePrintableRatio(text),
		WordlikeRatio:  computeWordlikeRatio(text),
		HasImages:      hasImages,
	}
}

// needsOCR reports whether the text layer is missing or unusable: almost no
// text over embedded images, or mostly unprintable glyphs.
func (q pageQuality) needsOCR() bool {
	if !q.HasImages {
		return false
	}
	return q.Chars < 50 || q.PrintableRatio < 0.85
}

// garbled reports whether the text layer is better replaced than kept.
func (q pageQuality) garbled() bool {
	return q.Chars > 0 && (q.PrintableRatio < 0.85 || q.WordlikeRatio < 0.2)
}

// computePrintableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars < U+0020 (except \n\r\t), U+FFFD.
func computePrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	// Private Use Area
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == unicode.ReplacementChar {
		return true
	}
	return r < 0x0020 && r != '\n' && r != '\r' && r != '\t'
}

// computeWordlikeRatio returns the ratio of word-like tokens (length 2-15) to total tokens.
func computeWordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

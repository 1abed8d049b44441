package docpipe

import (
	"strings"
	"testing"
)

func TestPrintableRatio_Normal(t *testing.T) {
	// WHAT: Normal text has high printable ratio.
	// WHY: Validates baseline quality scoring.
	ratio := computePrintableRatio("This is a normal sentence with standard characters.")
	if ratio < 0.95 {
		t.Errorf("printable ratio = %f, want > 0.95", ratio)
	}
}

func TestPrintableRatio_Garbage(t *testing.T) {
	// WHAT: PUA and control chars produce low printable ratio.
	// WHY: Detects garbled PDF extraction (CIDFont without ToUnicode).
	garbage := "abc\uE000\uE001\uE002\uE003\uE004def\uE005\uE006\uE007\uE008\uE009ghi\x01\x02\x03\x04\x05"
	ratio := computePrintableRatio(garbage)
	if ratio >= 0.85 {
		t.Errorf("printable ratio = %f, want < 0.85", ratio)
	}
}

func TestPrintableRatio_Empty(t *testing.T) {
	if r := computePrintableRatio(""); r != 1.0 {
		t.Errorf("empty ratio = %f, want 1", r)
	}
}

func TestWordlikeRatio_Normal(t *testing.T) {
	// WHAT: Normal phrases have high wordlike ratio.
	// WHY: Real text has multi-character words.
	ratio := computeWordlikeRatio("This is a normal sentence with standard words inside")
	if ratio < 0.70 {
		t.Errorf("wordlike ratio = %f, want > 0.70", ratio)
	}
}

func TestWordlikeRatio_SingleChar(t *testing.T) {
	// WHAT: Single-char tokens produce low wordlike ratio.
	// WHY: Detects broken character-by-character extraction.
	ratio := computeWordlikeRatio("a b c d e f g h i j k l")
	if ratio >= 0.40 {
		t.Errorf("wordlike ratio = %f, want < 0.40", ratio)
	}
}

func TestMeasurePage_NeedsOCR(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		hasImages bool
		want      bool
	}{
		{"no images never", nil, false, false},
		{"image only page", nil, true, true},
		{"short caption over image", []string{"Figure 1"}, true, true},
		{"full text over image", []string{strings.Repeat("Plenty of real words on this page. ", 4)}, true, false},
		{"private-use glyphs over image", []string{strings.Repeat("\uE000\uE001ab", 30)}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := measurePage(tt.lines, tt.hasImages)
			if got := q.needsOCR(); got != tt.want {
				t.Errorf("needsOCR = %v, want %v (quality %+v)", got, tt.want, q)
			}
		})
	}
}

func TestPageQuality_Garbled(t *testing.T) {
	// WHAT: Garbled layers are replaced, empty and clean layers are not.
	// WHY: OCRAndTextExtraction keeps a clean text layer next to OCR output.
	if measurePage(nil, true).garbled() {
		t.Error("empty page reported garbled")
	}
	if measurePage([]string{"A perfectly ordinary line of text"}, false).garbled() {
		t.Error("clean page reported garbled")
	}
	if !measurePage([]string{"x y z q w e r t"}, false).garbled() {
		t.Error("single-glyph tokens not reported garbled")
	}
}

package docpipe

import (
	"context"
	"strings"
	"testing"
)

func TestHTML_BlocksAndTitle(t *testing.T) {
	raw := []byte(`<!DOCTYPE html>
<html lang="fr"><head><title>HTML Test</title>
<meta name="author" content="Claire Dupont">
<meta name="keywords" content="news, local">
<meta property="og:type" content="article">
<script>var ignored = 1;</script>
</head>
<body>
<article>
<h1>Main Heading</h1>
<p>This is a substantial paragraph of text
spread over   two lines.</p>
<ul><li>first <b>bold</b> item</li><li>second</li></ul>
<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table>
<pre>  keep
    indent</pre>
loose text<br>after break
</article>
</body></html>`)
	text, meta := extract(t, testExtractor(), raw)
	want := "Main Heading\n" +
		"This is a substantial paragraph of text spread over two lines.\n" +
		"first bold item\nsecond\n" +
		"k\tv\na\t1\n" +
		"  keep\n    indent\n" +
		"loose text\nafter break\n"
	if text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
	checks := map[string]string{
		"dc:title":    "HTML Test",
		"dc:language": "fr",
		"dc:creator":  "Claire Dupont",
		"og:type":     "article",
	}
	for k, want := range checks {
		if got := meta.Value(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if got := meta.Values("meta:keyword"); len(got) != 2 || got[1] != "local" {
		t.Errorf("meta:keyword = %q", got)
	}
}

func TestHTML_DeclaredCharset(t *testing.T) {
	raw := []byte("<html><head><meta charset=\"windows-1252\"><title>t</title></head><body><p>caf\xe9 cr\xe8me</p></body></html>")
	text, meta := extract(t, testExtractor(), raw)
	if text != "café crème\n" {
		t.Fatalf("text = %q", text)
	}
	if got := meta.Value("Content-Encoding"); got != "windows-1252" {
		t.Errorf("Content-Encoding = %q", got)
	}
}

// --- hidden text filtering ---

func TestHTML_HiddenContent(t *testing.T) {
	// WHAT: Text hidden through inline styles or the hidden attribute is dropped.
	// WHY: Hidden text is an injection vector (SEO spam, prompt injection).
	tests := []struct {
		name   string
		hidden string
	}{
		{"display none", `<div style="display:none">secret hidden text</div>`},
		{"visibility hidden", `<span style="visibility: hidden">secret hidden text</span>`},
		{"font-size 0", `<span style="font-size:0px">secret hidden text</span>`},
		{"opacity 0", `<span style="opacity:0">secret hidden text</span>`},
		{"hidden attribute", `<p hidden>secret hidden text</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(`<!DOCTYPE html><html><body><p>Visible text here</p>` + tt.hidden + `</body></html>`)
			text, _ := extract(t, testExtractor(), raw)
			if strings.Contains(text, "secret hidden text") {
				t.Errorf("hidden text kept: %q", text)
			}
			if !strings.Contains(text, "Visible text here") {
				t.Errorf("visible text lost: %q", text)
			}

			kept, _ := extract(t, testExtractor().WithHTMLConfig(HTMLParserConfig{KeepHidden: true}), raw)
			if !strings.Contains(kept, "secret hidden text") {
				t.Errorf("KeepHidden dropped text: %q", kept)
			}
		})
	}
}

func TestHTML_VisibleStyledTextKept(t *testing.T) {
	// WHAT: Visible text is preserved after hidden filtering.
	// WHY: The filter must not over-strip.
	raw := []byte(`<!DOCTYPE html><html><body>
<h1>Title</h1>
<p style="color:red; opacity:0.9; font-size:12px">Styled but visible</p>
<p>Normal paragraph</p>
</body></html>`)
	text, _ := extract(t, testExtractor(), raw)
	if text != "Title\nStyled but visible\nNormal paragraph\n" {
		t.Fatalf("text = %q", text)
	}
}

func TestHTML_Markdown(t *testing.T) {
	raw := []byte(`<html><body><h1>Title</h1><p>Some <b>bold</b> and <a href="https://example.com/x">a link</a>.</p>
<ul><li>a</li><li>b</li></ul>
<script>alert(1)</script><p onclick="steal()">clean</p></body></html>`)
	ex := testExtractor().WithHTMLConfig(HTMLParserConfig{Markdown: true})
	text, _ := extract(t, ex, raw)
	for _, want := range []string{"# Title\n\n", "**bold**", "[a link](https://example.com/x)", "- a\n- b"} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q: %q", want, text)
		}
	}
	for _, banned := range []string{"alert", "onclick", "steal"} {
		if strings.Contains(text, banned) {
			t.Errorf("markdown kept %q: %q", banned, text)
		}
	}

	tagged, _ := extract(t, ex.WithXMLOutput(true), raw)
	if !strings.Contains(tagged, "<h1># Title\n\n</h1>") {
		t.Errorf("tagged markdown = %q", tagged)
	}
}

// --- epub ---

func minimalEPUB(t *testing.T, chapter2 string) []byte {
	t.Helper()
	chapter := func(title, body string) string {
		return `<?xml version="1.0" encoding="UTF-8"?><html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + title + `</title></head><body>` + body + `</body></html>`
	}
	return buildZip(t,
		zipFile{name: "mimetype", body: "application/epub+zip", stored: true},
		zipFile{name: "META-INF/container.xml", body: `<?xml version="1.0"?><container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`},
		zipFile{name: "OEBPS/content.opf", body: `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
<metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:title>The Long Road</dc:title><dc:creator>M. Ibrahim</dc:creator><dc:creator>J. Lee</dc:creator>
<dc:language>en</dc:language><dc:identifier id="id">urn:isbn:9780000000001</dc:identifier>
</metadata>
<manifest>
<item id="c1" href="text/chapter%201.xhtml" media-type="application/xhtml+xml"/>
<item id="c2" href="text/ch2.xhtml#start" media-type="application/xhtml+xml"/>
</manifest>
<spine><itemref idref="c1"/><itemref idref="ghost"/><itemref idref="c2"/></spine>
</package>`},
		zipFile{name: "OEBPS/text/chapter 1.xhtml", body: chapter("One", `<h1>Chapter One</h1><p>It begins.</p><p style="display:none">spoiler</p>`)},
		zipFile{name: "OEBPS/text/ch2.xhtml", body: chapter("Two", chapter2)},
	)
}

func TestEPUB_SpineOrderAndMetadata(t *testing.T) {
	raw := minimalEPUB(t, `<h2>Chapter Two</h2><p>It ends.</p>`)
	text, meta := extract(t, testExtractor(), raw)
	if text != "Chapter One\nIt begins.\nChapter Two\nIt ends.\n" {
		t.Fatalf("text = %q", text)
	}
	if got := meta.Value("dc:title"); got != "The Long Road" {
		t.Errorf("dc:title = %q", got)
	}
	if got := meta.Values("dc:creator"); len(got) != 2 || got[1] != "J. Lee" {
		t.Errorf("dc:creator = %q", got)
	}
	if got := meta.Value("epub:version"); got != "3.0" {
		t.Errorf("epub:version = %q", got)
	}
	if got := meta.Value("epub:chapter-count"); got != "2" {
		t.Errorf("epub:chapter-count = %q", got)
	}
	if got := meta.Value("Content-Type"); got != "application/epub+zip" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestEPUB_TaggedChapters(t *testing.T) {
	raw := minimalEPUB(t, `<p>x</p>`)
	tagged, _ := extract(t, testExtractor().WithXMLOutput(true), raw)
	if !strings.Contains(tagged, `<h1 class="chapter">Chapter One`) || !strings.Contains(tagged, `<p class="chapter">x`) {
		t.Fatalf("tagged = %q", tagged)
	}
}

func TestEPUB_MissingContainer(t *testing.T) {
	raw := buildZip(t,
		zipFile{name: "mimetype", body: "application/epub+zip", stored: true},
		zipFile{name: "OEBPS/content.opf", body: "<package/>"},
	)
	_, _, err := testExtractor().ExtractString(context.Background(), ByteBuffer(raw))
	if KindOf(err) != KindMalformedDocument {
		t.Fatalf("expected malformed document, got %v", err)
	}
}

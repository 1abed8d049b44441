// CLAUDE:SUMMARY HTML backend: charset-aware parse, <head> metadata, block walk (headings, paragraphs, list items, rows, pre) or sanitized Markdown rendering. The block walker is shared with EPUB chapters.
package docpipe

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0[^.]`),
	regexp.MustCompile(`(?i)position\s*:\s*absolute[^;]*-\d{4,}`),
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			// Terminated so that a trailing "opacity:0" still matches.
			style := a.Val + ";"
			for _, pat := range hiddenStylePatterns {
				if pat.MatchString(style) {
					return true
				}
			}
		}
	}
	return false
}

// Built once; a Converter is safe for concurrent use.
var markdownConverter = sync.OnceValue(func() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
})

var sanitizer = sync.OnceValue(bluemonday.UGCPolicy)

func parseHTML(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) ([]Chunk, error) {
	raw, err := in.bytes()
	if err != nil {
		return nil, err
	}
	doc, err := decodeHTML(raw, cfg.det.MIME, in.hint.contentType, meta)
	if err != nil {
		return nil, err
	}
	describeHTML(doc, meta)

	if !cfg.html.KeepHidden {
		pruneHidden(doc)
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		body = doc
	}

	if cfg.html.Markdown {
		return htmlMarkdown(ctx, body)
	}
	var chunks []Chunk
	w := &htmlBlocks{emit: func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	}}
	if err := w.run(body); err != nil {
		return nil, err
	}
	return chunks, nil
}

// decodeHTML converts raw to UTF-8 using the BOM, the declared content
// type or a <meta charset> prescan, and parses the result.
func decodeHTML(raw []byte, detected, declared string, meta *metaBuilder) (*html.Node, error) {
	ct := declared
	if ct == "" {
		ct = detected
	}
	enc, name, _ := charset.DetermineEncoding(raw, ct)
	meta.add("Content-Encoding", name)
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, err
	}
	return html.Parse(bytes.NewReader(decoded))
}

// describeHTML records the title, language and <meta> properties.
func describeHTML(doc *html.Node, meta *metaBuilder) {
	meta.add("dc:title", findHTMLTitle(doc))
	if root := findElement(doc, atom.Html); root != nil {
		meta.add("dc:language", attrOf(root, "lang"))
	}
	head := findElement(doc, atom.Head)
	if head == nil {
		return
	}
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Meta {
			continue
		}
		name := attrOf(c, "name")
		if name == "" {
			name = attrOf(c, "property")
		}
		content := attrOf(c, "content")
		if name == "" || content == "" {
			continue
		}
		meta.add(name, content)
		switch strings.ToLower(name) {
		case "author":
			meta.add("dc:creator", content)
		case "description":
			meta.add("dc:description", content)
		case "keywords":
			meta.add("meta:keyword", splitKeywords(content)...)
		case "generator":
			meta.add("xmp:CreatorTool", content)
		}
	}
}

func htmlMarkdown(ctx context.Context, body *html.Node) ([]Chunk, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, body); err != nil {
		return nil, err
	}
	clean := sanitizer().Sanitize(buf.String())
	md, err := markdownConverter().ConvertString(clean, converter.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	for _, block := range strings.Split(strings.TrimSpace(md), "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		elem := "p"
		if level := atxLevel(block); level > 0 && !strings.Contains(block, "\n") {
			elem = "h" + strconv.Itoa(level)
		}
		chunks = append(chunks, Chunk{Text: block + "\n\n", Element: elem})
	}
	return chunks, nil
}

// findHTMLTitle extracts the <title> text.
func findHTMLTitle(n *html.Node) string {
	if t := findElement(n, atom.Title); t != nil {
		return collectHTMLText(t)
	}
	return ""
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findElement(c, a); f != nil {
			return f
		}
	}
	return nil
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// pruneHidden removes nodes hidden through inline styles or the hidden
// attribute.
func pruneHidden(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if hasHiddenStyle(c) {
			n.RemoveChild(c)
		} else {
			pruneHidden(c)
		}
		c = next
	}
}

// skippedAtoms never contribute text.
var skippedAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Head: true, atom.Iframe: true, atom.Object: true,
}

// inlineAtoms flow inside a line; any other element separates words.
var inlineAtoms = map[atom.Atom]bool{
	atom.A: true, atom.Abbr: true, atom.B: true, atom.Bdi: true, atom.Bdo: true,
	atom.Cite: true, atom.Code: true, atom.Data: true, atom.Dfn: true, atom.Em: true,
	atom.Font: true, atom.I: true, atom.Kbd: true, atom.Label: true, atom.Mark: true,
	atom.Q: true, atom.S: true, atom.Samp: true, atom.Small: true, atom.Span: true,
	atom.Strong: true, atom.Sub: true, atom.Sup: true, atom.Time: true, atom.U: true,
	atom.Var: true, atom.Wbr: true,
}

// htmlBlocks turns a DOM subtree into block chunks. Text outside any
// recognized block accumulates and is flushed as a paragraph at the next
// block boundary.
type htmlBlocks struct {
	emit   emitFunc
	class  string
	inline strings.Builder
	err    error
}

func (w *htmlBlocks) run(n *html.Node) error {
	w.walk(n)
	w.flush()
	return w.err
}

func (w *htmlBlocks) walk(n *html.Node) {
	if w.err != nil {
		return
	}
	switch n.Type {
	case html.TextNode:
		w.inline.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedAtoms[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			w.block(n.Data, collectHTMLText(n))
			return
		case atom.P, atom.Li, atom.Dt, atom.Dd, atom.Caption, atom.Figcaption:
			w.block(n.Data, collectHTMLText(n))
			return
		case atom.Pre:
			w.block("pre", strings.TrimRight(rawHTMLText(n), "\n"))
			return
		case atom.Tr:
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, collectHTMLText(c))
				}
			}
			w.block("tr", strings.Join(cells, "\t"))
			return
		case atom.Br:
			w.flush()
			return
		}
		if !inlineAtoms[n.DataAtom] {
			w.flush()
			defer w.flush()
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *htmlBlocks) block(elem, text string) {
	w.flush()
	if w.err != nil || strings.TrimSpace(text) == "" {
		return
	}
	w.err = w.emit(Chunk{Text: text + "\n", Element: elem, Class: w.class})
}

func (w *htmlBlocks) flush() {
	text := normalizeWhitespace(w.inline.String())
	w.inline.Reset()
	if w.err != nil || text == "" {
		return
	}
	w.err = w.emit(Chunk{Text: text + "\n", Element: "p", Class: w.class})
}

// collectHTMLText extracts all visible text from a node subtree with
// whitespace collapsed.
func collectHTMLText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if skippedAtoms[n.DataAtom] {
				return
			}
			if !inlineAtoms[n.DataAtom] {
				sb.WriteByte(' ')
				defer sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return normalizeWhitespace(sb.String())
}

// rawHTMLText concatenates text nodes as-is, for preformatted content.
func rawHTMLText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func normalizeWhitespace(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

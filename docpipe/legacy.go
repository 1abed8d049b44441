// CLAUDE:SUMMARY Legacy formats through docconv: Word 97-2003 (wvText), RTF (unrtf), generic XML (tidy). One paragraph chunk per output line.
package docpipe

import (
	"context"
	"io"

	"code.sajari.com/docconv"
)

// docconvKeys maps docconv metadata names to canonical keys. Other names
// are kept as-is.
var docconvKeys = map[string]string{
	"Author":       "dc:creator",
	"Title":        "dc:title",
	"Subject":      "dc:subject",
	"Keywords":     "meta:keyword",
	"CreatedDate":  "dcterms:created",
	"ModifiedDate": "dcterms:modified",
	"LastAuthor":   "meta:last-author",
}

type convertFunc func(io.Reader) (string, map[string]string, error)

func parseDoc(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) ([]Chunk, error) {
	return runDocconv(ctx, in, meta, docconv.ConvertDoc)
}

func parseRTF(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) ([]Chunk, error) {
	return runDocconv(ctx, in, meta, docconv.ConvertRTF)
}

func parseXML(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) ([]Chunk, error) {
	return runDocconv(ctx, in, meta, docconv.ConvertXML)
}

// runDocconv runs a converter and gives up waiting when ctx ends. The
// converter itself cannot be interrupted; its subprocess finishes on its own.
func runDocconv(ctx context.Context, in *input, meta *metaBuilder, convert convertFunc) ([]Chunk, error) {
	type result struct {
		text string
		meta map[string]string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, m, err := convert(in.reader())
		done <- result{text, m, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	rest := make(map[string]string, len(res.meta))
	for k, v := range res.meta {
		if key, ok := docconvKeys[k]; ok {
			rest[key] = v
		} else {
			rest[k] = v
		}
	}
	if kw, ok := rest["meta:keyword"]; ok {
		delete(rest, "meta:keyword")
		meta.addStrings(rest)
		meta.add("meta:keyword", splitKeywords(kw)...)
	} else {
		meta.addStrings(rest)
	}

	lines := textLines(res.text)
	chunks := make([]Chunk, 0, len(lines))
	for _, line := range lines {
		chunks = append(chunks, Chunk{Text: line + "\n", Element: "p"})
	}
	return chunks, nil
}

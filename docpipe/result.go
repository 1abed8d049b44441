// CLAUDE:SUMMARY Result assembly for the eager entry points: drains the reader, enforces the string length bound, bundles metadata.
package docpipe

import (
	"context"
	"strings"
	"unicode/utf8"
)

// ExtractString extracts the whole content. The metadata is complete.
func (e Extractor) ExtractString(ctx context.Context, src Source) (string, Metadata, error) {
	doc, err := e.ExtractDocument(ctx, src)
	if err != nil {
		return "", Metadata{}, err
	}
	return doc.Content, doc.Metadata, nil
}

// ExtractDocument extracts the whole content into a Document.
func (e Extractor) ExtractDocument(ctx context.Context, src Source) (*Document, error) {
	p, err := e.start(ctx, src)
	if err != nil {
		return nil, err
	}
	r := newStreamReader(p)
	defer r.Close()

	var sb strings.Builder
	buf := make([]byte, 32<<10)
	chars := 0
	truncated := false
	for !truncated {
		n, err := r.ReadInto(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		s, err := r.codec.decode(buf[:n])
		if err != nil {
			return nil, newError(KindDecodeError, "decode", err)
		}
		if e.maxLength > 0 {
			rc := utf8.RuneCountInString(s)
			if chars+rc > e.maxLength {
				s = truncateRunes(s, e.maxLength-chars)
				truncated = true
			}
			chars += rc
		}
		sb.WriteString(s)
	}
	if truncated {
		p.meta.set("extract:content-truncated", "true")
		p.logger.Debug("docpipe: content truncated", "extraction_id", p.id, "max_length", e.maxLength)
	}
	return &Document{
		Format:   p.det.Format,
		MIME:     p.det.MIME,
		Content:  sb.String(),
		Metadata: p.meta.snapshot(),
	}, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}

// CLAUDE:SUMMARY One in-flight extraction: owns the input, the producer and the metadata; renders chunks as plain text or tagged XHTML.
package docpipe

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type pipeline struct {
	id      string
	det     Detection
	backend string
	in      *input
	prod    producer
	meta    *metaBuilder
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	started time.Time

	tagged   bool
	charset  CharSet
	headDone bool
	tailDone bool

	closeOnce sync.Once
}

// next returns the next rendered segment, or io.EOF once the document and
// its closing markup have been delivered.
func (p *pipeline) next() (string, error) {
	if p.tagged && !p.headDone {
		p.headDone = true
		return renderHead(p.meta.snapshot(), p.charset), nil
	}
	for {
		c, err := p.prod.next(p.ctx)
		if err == io.EOF {
			if p.tagged && !p.tailDone {
				p.tailDone = true
				return tagTail, nil
			}
			return "", io.EOF
		}
		if err != nil {
			return "", backendError(p.backend, err)
		}
		if c.Text == "" {
			continue
		}
		if p.tagged {
			return renderChunk(c), nil
		}
		return c.Text, nil
	}
}

// close releases every resource of the extraction exactly once.
func (p *pipeline) close() {
	p.closeOnce.Do(func() {
		p.cancel()
		_ = p.prod.close()
		if err := p.in.close(); err != nil {
			p.logger.Warn("docpipe: close input", "extraction_id", p.id, "error", err)
		}
		p.logger.Debug("docpipe: extraction released",
			"extraction_id", p.id,
			"format", p.det.Format,
			"backend", p.backend,
			"elapsed", time.Since(p.started),
		)
	})
}

const (
	tagBodyOpen = "</head><body>"
	tagTail     = "</body></html>"
)

func renderHead(m Metadata, cs CharSet) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="`)
	sb.WriteString(cs.String())
	sb.WriteString(`"?>`)
	sb.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml"><head>`)
	for _, k := range m.Keys() {
		for _, v := range m.Values(k) {
			sb.WriteString(`<meta name="`)
			sb.WriteString(escapeText(k))
			sb.WriteString(`" content="`)
			sb.WriteString(escapeText(v))
			sb.WriteString(`"/>`)
		}
	}
	sb.WriteString("<title>")
	sb.WriteString(escapeText(m.Value("dc:title")))
	sb.WriteString("</title>")
	sb.WriteString(tagBodyOpen)
	return sb.String()
}

func renderChunk(c Chunk) string {
	if c.Element == "" {
		return escapeText(c.Text)
	}
	var sb strings.Builder
	sb.Grow(len(c.Text) + 2*len(c.Element) + 16)
	sb.WriteByte('<')
	sb.WriteString(c.Element)
	if c.Class != "" {
		sb.WriteString(` class="`)
		sb.WriteString(escapeText(c.Class))
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	sb.WriteString(escapeText(c.Text))
	sb.WriteString("</")
	sb.WriteString(c.Element)
	sb.WriteByte('>')
	return sb.String()
}

// escapeText escapes markup characters. Carriage returns are written as a
// character reference because HTML tokenizers fold raw CR into LF.
var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
	"\r", "&#13;",
)

func escapeText(s string) string { return textEscaper.Replace(s) }

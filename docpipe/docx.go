package docpipe

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// openDocx validates word/document.xml and records package properties.
// Parts stream in reading order: headers, body, footnotes, endnotes,
// footers.
func openDocx(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	zr, err := openZip(in)
	if err != nil {
		return nil, err
	}
	body := zipMember(zr, "word/document.xml")
	if body == nil {
		return nil, errors.New("word/document.xml not found in archive")
	}
	readOfficeProps(zr, cfg, meta)

	type part struct {
		f     *zip.File
		class string
	}
	var parts []part
	if cfg.office.IncludeHeadersAndFooters {
		for _, f := range numberedMembers(zr, "word/header", ".xml") {
			parts = append(parts, part{f, "header"})
		}
	}
	parts = append(parts, part{body, ""})
	for _, name := range []string{"word/footnotes.xml", "word/endnotes.xml"} {
		if f := zipMember(zr, name); f != nil {
			parts = append(parts, part{f, "footnote"})
		}
	}
	if cfg.office.IncludeHeadersAndFooters {
		for _, f := range numberedMembers(zr, "word/footer", ".xml") {
			parts = append(parts, part{f, "footer"})
		}
	}

	return func(ctx context.Context, emit emitFunc) error {
		for _, p := range parts {
			if err := walkWordML(ctx, p.f, cfg.office, p.class, emit); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// walkWordML emits one chunk per WordprocessingML paragraph. Text boxes
// nest paragraphs inside a paragraph; the inner ones are emitted first.
func walkWordML(ctx context.Context, f *zip.File, office OfficeParserConfig, class string, emit emitFunc) error {
	dec, rc, err := xmlTokens(f)
	if err != nil {
		return err
	}
	defer rc.Close()

	type paragraph struct {
		text  strings.Builder
		style string
		list  bool
	}
	var stack []*paragraph
	inText := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}

		var top *paragraph
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}

		switch t := tok.(type) {
		case xml.StartElement:
			skip := false
			switch t.Name.Local {
			case "p":
				stack = append(stack, &paragraph{})
			case "pStyle":
				if top != nil {
					top.style = attr(t, "val")
				}
			case "numPr":
				if top != nil {
					top.list = true
				}
			case "t":
				inText = true
			case "delText":
				inText = office.IncludeDeletedContent
			case "del":
				skip = !office.IncludeDeletedContent
			case "moveFrom":
				skip = !office.IncludeMoveFromContent
			case "txbxContent":
				skip = !office.IncludeShapeBasedContent
			case "Fallback", "instrText":
				// Fallback repeats the Choice content for older readers.
				skip = true
			case "tab":
				if top != nil {
					top.text.WriteByte('\t')
				}
			case "br", "cr":
				if top != nil {
					top.text.WriteByte('\n')
				}
			}
			if skip {
				if err := dec.Skip(); err != nil {
					return fmt.Errorf("%s: %w", f.Name, err)
				}
			}

		case xml.CharData:
			if inText && top != nil {
				top.text.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t", "delText":
				inText = false
			case "p":
				if top == nil {
					continue
				}
				stack = stack[:len(stack)-1]
				text := strings.TrimRight(top.text.String(), " \t\n")
				if strings.TrimSpace(text) == "" {
					continue
				}
				elem := "p"
				if level := docxHeadingLevel(top.style); level > 0 {
					elem = fmt.Sprintf("h%d", level)
				} else if top.list {
					elem = "li"
				}
				if err := emit(Chunk{Text: text + "\n", Element: elem, Class: class}); err != nil {
					return err
				}
			}
		}
	}
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Heading2" → 2, "Title" → 1, etc.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(strings.ReplaceAll(style, " ", ""))

	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}

	// "Heading1", "heading1", "Titre1", etc.
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok {
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

// CLAUDE:SUMMARY OpenDocument backend (odt, ods, odp): meta.xml properties and a streaming walk of content.xml with headings, lists, tables, notes.
package docpipe

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var odfMetaKeys = map[string]string{
	"title":           "dc:title",
	"creator":         "dc:creator",
	"initial-creator": "meta:initial-author",
	"subject":         "dc:subject",
	"description":     "dc:description",
	"keyword":         "meta:keyword",
	"language":        "dc:language",
	"creation-date":   "dcterms:created",
	"date":            "dcterms:modified",
	"generator":       "xmp:CreatorTool",
	"editing-cycles":  "meta:editing-cycles",
}

var odfStatKeys = map[string]string{
	"page-count":      "xmpTPg:NPages",
	"word-count":      "meta:word-count",
	"character-count": "meta:character-count",
	"paragraph-count": "meta:paragraph-count",
	"table-count":     "meta:table-count",
	"image-count":     "meta:image-count",
}

// openODF handles text documents, spreadsheets and presentations alike:
// they share content.xml and differ only in the container elements.
func openODF(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	zr, err := openZip(in)
	if err != nil {
		return nil, err
	}
	content := zipMember(zr, "content.xml")
	if content == nil {
		return nil, errors.New("content.xml not found in archive")
	}
	textDoc := true
	if mt := zipMember(zr, "mimetype"); mt != nil {
		if b, err := readMember(mt); err == nil {
			meta.add("odf:mimetype", string(b))
			textDoc = strings.HasPrefix(string(b), "application/vnd.oasis.opendocument.text")
		}
	}
	if err := readODFMeta(zipMember(zr, "meta.xml"), meta); err != nil {
		cfg.logger.Warn("docpipe: meta.xml unreadable", "extraction_id", cfg.id, "error", err)
	}

	var parts []odfPart
	styles := zipMember(zr, "styles.xml")
	if cfg.office.IncludeHeadersAndFooters && styles != nil {
		parts = append(parts, odfPart{f: styles, within: "header", class: "header", textDoc: textDoc})
	}
	parts = append(parts, odfPart{f: content, within: "body", textDoc: textDoc})
	if cfg.office.IncludeHeadersAndFooters && styles != nil {
		parts = append(parts, odfPart{f: styles, within: "footer", class: "footer", textDoc: textDoc})
	}

	return func(ctx context.Context, emit emitFunc) error {
		for _, p := range parts {
			if err := walkODF(ctx, p, cfg.office, emit); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// odfPart selects the subtree of f rooted at elements named within.
type odfPart struct {
	f       *zip.File
	within  string
	class   string
	textDoc bool
}

// readODFMeta records office:meta children, document statistics and
// user-defined properties.
func readODFMeta(f *zip.File, meta *metaBuilder) error {
	if f == nil {
		return nil
	}
	dec, rc, err := xmlTokens(f)
	if err != nil {
		return err
	}
	defer rc.Close()

	var current, userName string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
			text.Reset()
			switch current {
			case "document-statistic":
				for _, a := range t.Attr {
					if key, ok := odfStatKeys[a.Name.Local]; ok {
						meta.add(key, a.Value)
					}
				}
			case "user-defined":
				userName = attr(t, "name")
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local != current {
				continue
			}
			v := strings.TrimSpace(text.String())
			switch {
			case current == "user-defined" && userName != "":
				meta.add("custom:"+userName, v)
			case current == "keyword":
				meta.add("meta:keyword", splitKeywords(v)...)
			default:
				if key, ok := odfMetaKeys[current]; ok {
					meta.add(key, v)
				}
			}
			current = ""
		}
	}
}

// walkODF emits headings, paragraphs, list items and table rows found
// under part.within.
func walkODF(ctx context.Context, part odfPart, office OfficeParserConfig, emit emitFunc) error {
	dec, rc, err := xmlTokens(part.f)
	if err != nil {
		return err
	}
	defer rc.Close()

	type block struct {
		text strings.Builder
		elem string
	}
	var (
		blocks []*block
		inside int // depth inside part.within
		lists  int
		row    []string
		inRow  bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", part.f.Name, err)
		}

		var top *block
		if len(blocks) > 0 {
			top = blocks[len(blocks)-1]
		}

		switch t := tok.(type) {
		case xml.StartElement:
			local := t.Name.Local
			if local == part.within {
				inside++
				continue
			}
			if inside == 0 {
				continue
			}
			skip := false
			switch local {
			case "h":
				level, _ := strconv.Atoi(attr(t, "outline-level"))
				blocks = append(blocks, &block{elem: "h" + strconv.Itoa(min(max(level, 1), 6))})
			case "p":
				elem := "p"
				if lists > 0 {
					elem = "li"
				}
				blocks = append(blocks, &block{elem: elem})
			case "list":
				lists++
			case "table-row":
				inRow, row = true, nil
			case "s":
				if top != nil {
					n, err := strconv.Atoi(attr(t, "c"))
					if err != nil || n < 1 {
						n = 1
					}
					top.text.WriteString(strings.Repeat(" ", n))
				}
			case "tab":
				if top != nil {
					top.text.WriteByte('\t')
				}
			case "line-break":
				if top != nil {
					top.text.WriteByte('\n')
				}
			case "tracked-changes":
				skip = !office.IncludeDeletedContent
			case "text-box":
				// Presentations keep all their text in frames.
				skip = part.textDoc && !office.IncludeShapeBasedContent
			case "notes":
				skip = !office.IncludeSlideNotes
			case "annotation":
				skip = true
			}
			if skip {
				if err := dec.Skip(); err != nil {
					return fmt.Errorf("%s: %w", part.f.Name, err)
				}
			}

		case xml.CharData:
			if inside > 0 && top != nil {
				top.text.Write(t)
			}

		case xml.EndElement:
			local := t.Name.Local
			if local == part.within {
				inside--
				continue
			}
			if inside == 0 {
				continue
			}
			switch local {
			case "list":
				lists--
			case "h", "p":
				if top == nil {
					continue
				}
				blocks = blocks[:len(blocks)-1]
				text := strings.TrimRight(top.text.String(), " \t\n")
				if strings.TrimSpace(text) == "" {
					continue
				}
				if inRow {
					row = append(row, text)
					continue
				}
				if err := emit(Chunk{Text: text + "\n", Element: top.elem, Class: part.class}); err != nil {
					return err
				}
			case "table-row":
				inRow = false
				if len(row) == 0 {
					continue
				}
				if err := emit(Chunk{Text: strings.Join(row, "\t") + "\n", Element: "tr", Class: part.class}); err != nil {
					return err
				}
			}
		}
	}
}

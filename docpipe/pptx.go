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

// Placeholder types that carry layout furniture rather than content.
var (
	slideSkipPH = map[string]bool{"sldNum": true}
	notesSkipPH = map[string]bool{"sldNum": true, "sldImg": true, "hdr": true, "ftr": true, "dt": true}
)

type slidePart struct {
	f     *zip.File
	class string
	// skip reports whether a placeholder of the given type is dropped.
	skip func(phType string) bool
}

// openPptx streams slides in presentation order, each followed by its
// notes, then the text of slide masters.
func openPptx(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	zr, err := openZip(in)
	if err != nil {
		return nil, err
	}
	slides := numberedMembers(zr, "ppt/slides/slide", ".xml")
	if zipMember(zr, "ppt/presentation.xml") == nil && len(slides) == 0 {
		return nil, errors.New("ppt/presentation.xml not found in archive")
	}
	readOfficeProps(zr, cfg, meta)

	var parts []slidePart
	for _, s := range slides {
		parts = append(parts, slidePart{s, "slide-content", func(t string) bool { return slideSkipPH[t] }})
		if !cfg.office.IncludeSlideNotes {
			continue
		}
		for _, target := range relTargets(zr, s.Name, "notesSlide") {
			if f := zipMember(zr, target); f != nil {
				parts = append(parts, slidePart{f, "slide-notes", func(t string) bool { return notesSkipPH[t] }})
			}
		}
	}
	if cfg.office.IncludeSlideMasterContent {
		for _, m := range numberedMembers(zr, "ppt/slideMasters/slideMaster", ".xml") {
			// Master placeholders hold prompt text such as "Click to edit".
			parts = append(parts, slidePart{m, "slide-master-content", func(string) bool { return true }})
		}
	}

	return func(ctx context.Context, emit emitFunc) error {
		for _, p := range parts {
			if err := walkDrawingML(ctx, p, emit); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// walkDrawingML emits a chunk per text paragraph and one per table row.
func walkDrawingML(ctx context.Context, part slidePart, emit emitFunc) error {
	dec, rc, err := xmlTokens(part.f)
	if err != nil {
		return err
	}
	defer rc.Close()

	var (
		depth  int
		shapes []int // depths of open sp elements
		skipTo int   // depth of the shape being skipped, 0 when none
		para   strings.Builder
		inPara bool
		inText bool
		cell   []string
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

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if skipTo > 0 {
				continue
			}
			switch t.Name.Local {
			case "sp":
				shapes = append(shapes, depth)
			case "ph":
				if len(shapes) > 0 && part.skip(attr(t, "type")) {
					skipTo = shapes[len(shapes)-1]
				}
			case "tr":
				inRow, row = true, nil
			case "tc":
				cell = nil
			case "p":
				inPara = true
				para.Reset()
			case "t":
				inText = inPara
			case "br":
				if inPara {
					para.WriteByte('\n')
				}
			}

		case xml.CharData:
			if skipTo == 0 && inText {
				para.Write(t)
			}

		case xml.EndElement:
			d := depth
			depth--
			if skipTo > 0 {
				if d == skipTo {
					skipTo = 0
					shapes = shapes[:len(shapes)-1]
				}
				continue
			}
			switch t.Name.Local {
			case "sp":
				if len(shapes) > 0 {
					shapes = shapes[:len(shapes)-1]
				}
			case "t":
				inText = false
			case "p":
				if !inPara {
					continue
				}
				inPara = false
				text := strings.TrimRight(para.String(), " \t\n")
				if strings.TrimSpace(text) == "" {
					continue
				}
				if inRow {
					cell = append(cell, text)
					continue
				}
				if err := emit(Chunk{Text: text + "\n", Element: "p", Class: part.class}); err != nil {
					return err
				}
			case "tc":
				row = append(row, strings.Join(cell, " "))
			case "tr":
				inRow = false
				if strings.TrimSpace(strings.Join(row, "")) == "" {
					continue
				}
				if err := emit(Chunk{Text: strings.Join(row, "\t") + "\n", Element: "tr", Class: part.class}); err != nil {
					return err
				}
			}
		}
	}
}

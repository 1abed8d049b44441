// CLAUDE:SUMMARY Zip-container plumbing shared by the OOXML, OpenDocument and EPUB backends: bounded member reads, numbered part ordering, property-file metadata.
package docpipe

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/docstream/horosafe"
)

// maxMemberBytes bounds a single decompressed archive member read whole.
const maxMemberBytes = 256 << 20

func openZip(in *input) (*zip.Reader, error) {
	zr, err := zip.NewReader(in.ra, in.size)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return zr, nil
}

func zipMember(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// numberedMembers returns the members named prefix<N>suffix ordered by N,
// e.g. ppt/slides/slide1.xml .. slide12.xml.
func numberedMembers(zr *zip.Reader, prefix, suffix string) []*zip.File {
	type numbered struct {
		n int
		f *zip.File
	}
	var found []numbered
	for _, f := range zr.File {
		rest, ok := strings.CutPrefix(f.Name, prefix)
		if !ok {
			continue
		}
		num, ok := strings.CutSuffix(rest, suffix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		found = append(found, numbered{n, f})
	}
	slices.SortFunc(found, func(a, b numbered) int { return a.n - b.n })
	out := make([]*zip.File, len(found))
	for i, nf := range found {
		out[i] = nf.f
	}
	return out
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := horosafe.LimitedReadAll(rc, maxMemberBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return b, nil
}

// xmlTokens opens a member for token-level decoding.
func xmlTokens(f *zip.File) (*xml.Decoder, io.Closer, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	dec := xml.NewDecoder(io.LimitReader(rc, maxMemberBytes))
	dec.Strict = false
	dec.CharsetReader = charset.NewReaderLabel
	return dec, rc, nil
}

// unmarshalMember decodes a whole member into v.
func unmarshalMember(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	dec := xml.NewDecoder(io.LimitReader(rc, maxMemberBytes))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: %w", f.Name, err)
	}
	return nil
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// readXMLProps maps the text of leaf elements, by local name, to metadata
// keys. Unknown elements are ignored.
func readXMLProps(f *zip.File, keys map[string]string, meta *metaBuilder) error {
	if f == nil {
		return nil
	}
	dec, rc, err := xmlTokens(f)
	if err != nil {
		return err
	}
	defer rc.Close()

	var current string
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
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local != current {
				continue
			}
			if key, ok := keys[current]; ok {
				v := strings.TrimSpace(text.String())
				if key == "meta:keyword" {
					meta.add(key, splitKeywords(v)...)
				} else {
					meta.add(key, v)
				}
			}
			current = ""
		}
	}
}

var corePropKeys = map[string]string{
	"title":          "dc:title",
	"creator":        "dc:creator",
	"subject":        "dc:subject",
	"description":    "dc:description",
	"keywords":       "meta:keyword",
	"language":       "dc:language",
	"lastModifiedBy": "meta:last-author",
	"created":        "dcterms:created",
	"modified":       "dcterms:modified",
	"revision":       "cp:revision",
	"category":       "cp:category",
}

var appPropKeys = map[string]string{
	"Application": "extended-properties:Application",
	"AppVersion":  "extended-properties:AppVersion",
	"Company":     "extended-properties:Company",
	"Template":    "extended-properties:Template",
	"Pages":       "xmpTPg:NPages",
	"Words":       "meta:word-count",
	"Characters":  "meta:character-count",
	"Slides":      "meta:slide-count",
	"Notes":       "meta:notes-count",
}

// readOfficeProps records docProps/core.xml and docProps/app.xml.
// Property files are optional; a broken one is logged, not fatal.
func readOfficeProps(zr *zip.Reader, cfg *parseConfig, meta *metaBuilder) {
	parts := []struct {
		name string
		keys map[string]string
	}{
		{"docProps/core.xml", corePropKeys},
		{"docProps/app.xml", appPropKeys},
	}
	for _, p := range parts {
		if err := readXMLProps(zipMember(zr, p.name), p.keys, meta); err != nil {
			cfg.logger.Warn("docpipe: office properties unreadable",
				"extraction_id", cfg.id, "part", p.name, "error", err)
		}
	}
}

// relTargets returns the targets of relationships of the given type in a
// .rels part, resolved against the directory of the source part.
func relTargets(zr *zip.Reader, source, relType string) []string {
	dir, file := path.Split(source)
	f := zipMember(zr, dir+"_rels/"+file+".rels")
	if f == nil {
		return nil
	}
	dec, rc, err := xmlTokens(f)
	if err != nil {
		return nil
	}
	defer rc.Close()
	var out []string
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			continue
		}
		if !strings.HasSuffix(attr(se, "Type"), "/"+relType) {
			continue
		}
		out = append(out, path.Join(dir, attr(se, "Target")))
	}
}

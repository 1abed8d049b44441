// CLAUDE:SUMMARY EPUB backend: container.xml -> OPF package (Dublin Core metadata, manifest, spine), chapters streamed in spine order through the HTML block walker.
package docpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type epubContainer struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Version  string `xml:"version,attr"`
	Metadata struct {
		Title       []string `xml:"title"`
		Creator     []string `xml:"creator"`
		Language    []string `xml:"language"`
		Identifier  []string `xml:"identifier"`
		Publisher   []string `xml:"publisher"`
		Date        []string `xml:"date"`
		Subject     []string `xml:"subject"`
		Description []string `xml:"description"`
		Rights      []string `xml:"rights"`
	} `xml:"metadata"`
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef  string `xml:"idref,attr"`
		Linear string `xml:"linear,attr"`
	} `xml:"spine>itemref"`
}

func openEPUB(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	zr, err := openZip(in)
	if err != nil {
		return nil, err
	}
	cf := zipMember(zr, "META-INF/container.xml")
	if cf == nil {
		return nil, errors.New("META-INF/container.xml not found in archive")
	}
	var container epubContainer
	if err := unmarshalMember(cf, &container); err != nil {
		return nil, err
	}
	if len(container.Rootfiles) == 0 {
		return nil, errors.New("container.xml names no rootfile")
	}
	opfPath := container.Rootfiles[0].FullPath
	of := zipMember(zr, opfPath)
	if of == nil {
		return nil, fmt.Errorf("package document %q not found in archive", opfPath)
	}
	var pkg epubPackage
	if err := unmarshalMember(of, &pkg); err != nil {
		return nil, err
	}

	md := pkg.Metadata
	meta.add("epub:version", pkg.Version)
	meta.add("dc:title", md.Title...)
	meta.add("dc:creator", md.Creator...)
	meta.add("dc:language", md.Language...)
	meta.add("dc:identifier", md.Identifier...)
	meta.add("dc:publisher", md.Publisher...)
	meta.add("dc:date", md.Date...)
	meta.add("dc:subject", md.Subject...)
	meta.add("dc:description", md.Description...)
	meta.add("dc:rights", md.Rights...)

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}
	dir := path.Dir(opfPath)
	var chapters []string
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			cfg.logger.Warn("docpipe: epub spine item missing from manifest",
				"extraction_id", cfg.id, "idref", ref.IDRef)
			continue
		}
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
		}
		if u, err := url.PathUnescape(href); err == nil {
			href = u
		}
		chapters = append(chapters, path.Join(dir, href))
	}
	meta.add("epub:chapter-count", fmt.Sprint(len(chapters)))

	return func(ctx context.Context, emit emitFunc) error {
		for _, name := range chapters {
			if err := ctx.Err(); err != nil {
				return err
			}
			f := zipMember(zr, name)
			if f == nil {
				cfg.logger.Warn("docpipe: epub chapter missing", "extraction_id", cfg.id, "chapter", name)
				continue
			}
			b, err := readMember(f)
			if err != nil {
				return err
			}
			doc, err := html.Parse(bytes.NewReader(b))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if !cfg.html.KeepHidden {
				pruneHidden(doc)
			}
			body := findElement(doc, atom.Body)
			if body == nil {
				body = doc
			}
			w := &htmlBlocks{emit: emit, class: "chapter"}
			if err := w.run(body); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// CLAUDE:SUMMARY Source union (file path, byte buffer, URL) and the random-access input every backend reads from.
package docpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hazyhaar/docstream/fetch"
)

// Source is the document to extract: a FilePath, a ByteBuffer, an Upload
// or a URL.
type Source interface {
	isSource()
}

// FilePath names a local file.
type FilePath string

// ByteBuffer holds an in-memory document. The extractor does not copy it;
// the caller must not modify it until the extraction is released.
type ByteBuffer []byte

// URL is a remote document: http, https or s3.
type URL string

// Upload is an in-memory document that arrived with a file name and a
// declared media type, both used as detection hints. Data is not copied.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

func (FilePath) isSource()   {}
func (ByteBuffer) isSource() {}
func (URL) isSource()        {}
func (Upload) isSource()     {}

// Fetcher retrieves remote documents.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// hint carries declared type information that refines sniffing.
type hint struct {
	name        string // resource name; its extension is a hint
	contentType string // declared media type
}

func (h hint) ext() string { return strings.ToLower(filepath.Ext(h.name)) }

// input is an opened source with random access.
type input struct {
	ra   io.ReaderAt
	size int64
	data []byte   // whole content, for in-memory sources
	file *os.File // for file sources
	hint hint
	kind string // "file", "bytes", "url"

	closeOnce sync.Once
	closeErr  error
}

func (e Extractor) open(ctx context.Context, src Source) (*input, error) {
	switch s := src.(type) {
	case FilePath:
		return openFile(string(s))
	case ByteBuffer:
		return &input{ra: bytes.NewReader(s), size: int64(len(s)), data: s, kind: "bytes"}, nil
	case URL:
		return e.openURL(ctx, string(s))
	case Upload:
		return &input{
			ra:   bytes.NewReader(s.Data),
			size: int64(len(s.Data)),
			data: s.Data,
			// Browsers on Windows may send the full client path.
			hint: hint{name: baseName(strings.ReplaceAll(s.Name, `\`, "/")), contentType: s.ContentType},
			kind: "bytes",
		}, nil
	case nil:
		return nil, newError(KindSourceNotFound, "open", errors.New("no source"))
	}
	return nil, newError(KindSourceNotFound, "open", fmt.Errorf("unknown source type %T", src))
}

func openFile(name string) (*input, error) {
	f, err := os.Open(name)
	if err != nil {
		// Missing, unreadable and otherwise unopenable paths all fail to resolve.
		return nil, newError(KindSourceNotFound, "open", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newError(KindSourceNotFound, "stat", err)
	}
	if st.IsDir() {
		f.Close()
		return nil, newError(KindSourceNotFound, "open", fmt.Errorf("%s is a directory", name))
	}
	return &input{
		ra:   f,
		size: st.Size(),
		file: f,
		hint: hint{name: filepath.Base(name)},
		kind: "file",
	}, nil
}

func (e Extractor) openURL(ctx context.Context, raw string) (*input, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return nil, newError(KindSourceNotFound, "open", fmt.Errorf("invalid url %q", raw))
	}
	f := e.fetcher
	if f == nil {
		f = fetch.New(fetch.Config{Logger: e.log()})
	}
	res, err := f.Fetch(ctx, raw)
	if err != nil {
		return nil, newError(KindNetworkFailure, "fetch", err)
	}
	name := baseName(u.Path)
	if res.URL != "" {
		if fu, err := url.Parse(res.URL); err == nil {
			name = baseName(fu.Path)
		}
	}
	return &input{
		ra:   bytes.NewReader(res.Body),
		size: int64(len(res.Body)),
		data: res.Body,
		hint: hint{name: name, contentType: res.ContentType},
		kind: "url",
	}, nil
}

// baseName is the last element of a slash-separated path, or "" when there
// is none.
func baseName(p string) string {
	name := path.Base(p)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// reader returns a fresh reader over the whole input.
func (in *input) reader() *io.SectionReader {
	return io.NewSectionReader(in.ra, 0, in.size)
}

// bytes returns the whole content, reading the file when needed.
func (in *input) bytes() ([]byte, error) {
	if in.data != nil || in.size == 0 {
		return in.data, nil
	}
	b := make([]byte, in.size)
	if _, err := in.ra.ReadAt(b, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return b, nil
}

// prefix returns up to n leading bytes.
func (in *input) prefix(n int) ([]byte, error) {
	if int64(n) > in.size {
		n = int(in.size)
	}
	if in.data != nil {
		return in.data[:n], nil
	}
	b := make([]byte, n)
	m, err := in.ra.ReadAt(b, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return b[:m], nil
}

func (in *input) close() error {
	in.closeOnce.Do(func() {
		if in.file != nil {
			in.closeErr = in.file.Close()
		}
		in.data = nil
	})
	return in.closeErr
}

package docpipe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// withoutBinaries makes every external program look uninstalled.
func withoutBinaries(t *testing.T) {
	t.Helper()
	orig := lookPath
	lookPath = func(name string) (string, error) { return "", exec.ErrNotFound }
	t.Cleanup(func() { lookPath = orig })
}

func TestLegacy_MissingBinary(t *testing.T) {
	// WHAT: Formats that shell out fail with BackendUnavailable when the tool is absent.
	// WHY: Callers must tell a missing install apart from a broken document.
	withoutBinaries(t)
	ole := append([]byte("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"), make([]byte, 1024)...)
	tests := []struct {
		name string
		raw  []byte
	}{
		{"old.doc", ole},
		{"letter.rtf", []byte(`{\rtf1\ansi Hello}`)},
		{"catalog.xml", []byte(`<?xml version="1.0"?><catalog><item>Hello</item></catalog>`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := testExtractor().ExtractString(context.Background(), FilePath(writeTemp(t, tt.name, tt.raw)))
			if KindOf(err) != KindBackendUnavailable {
				t.Fatalf("expected backend unavailable, got %v", err)
			}
			if !errors.Is(err, ErrBackendUnavailable) {
				t.Errorf("error does not match the sentinel: %v", err)
			}
		})
	}
}

func bytesInput(b []byte) *input {
	return &input{ra: bytes.NewReader(b), size: int64(len(b)), data: b, kind: "bytes"}
}

func TestRunDocconv_MapsMetadata(t *testing.T) {
	convert := func(r io.Reader) (string, map[string]string, error) {
		b, err := io.ReadAll(r)
		if err != nil {
			return "", nil, err
		}
		return string(b) + "\r\n\n  \nsecond  \n", map[string]string{
			"Author":      "R. Okafor",
			"Keywords":    "alpha; beta",
			"Pages":       "3",
			"CreatedDate": "2020-01-02",
		}, nil
	}
	meta := newMetaBuilder()
	chunks, err := runDocconv(context.Background(), bytesInput([]byte("first")), meta, convert)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[0].Text != "first\n" || chunks[1].Text != "second\n" || chunks[1].Element != "p" {
		t.Fatalf("chunks = %+v", chunks)
	}
	m := meta.snapshot()
	if got := m.Value("dc:creator"); got != "R. Okafor" {
		t.Errorf("dc:creator = %q", got)
	}
	if got := m.Values("meta:keyword"); len(got) != 2 || got[1] != "beta" {
		t.Errorf("meta:keyword = %q", got)
	}
	if got := m.Value("dcterms:created"); got != "2020-01-02" {
		t.Errorf("dcterms:created = %q", got)
	}
	if got := m.Value("Pages"); got != "3" {
		t.Errorf("Pages = %q", got)
	}
}

func TestRunDocconv_ConverterError(t *testing.T) {
	boom := errors.New("exit status 1")
	convert := func(io.Reader) (string, map[string]string, error) { return "", nil, boom }
	_, err := runDocconv(context.Background(), bytesInput([]byte("x")), newMetaBuilder(), convert)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunDocconv_Cancel(t *testing.T) {
	// WHAT: A stuck converter does not hold the caller past cancellation.
	// WHY: Subprocess converters cannot be interrupted mid-run.
	release := make(chan struct{})
	defer close(release)
	convert := func(io.Reader) (string, map[string]string, error) {
		<-release
		return "late", nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := runDocconv(ctx, bytesInput([]byte("x")), newMetaBuilder(), convert)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestXML_Tidy(t *testing.T) {
	if _, err := exec.LookPath("tidy"); err != nil {
		t.Skip("tidy not installed")
	}
	raw := []byte(`<?xml version="1.0"?><catalog><book><title>Dune</title></book></catalog>`)
	text, meta := extractFile(t, testExtractor(), "catalog.xml", raw)
	if !strings.Contains(text, "Dune") {
		t.Fatalf("text = %q", text)
	}
	if got := meta.Values("X-Parsed-By"); len(got) != 2 || got[1] != "xml" {
		t.Errorf("X-Parsed-By = %q", got)
	}
}

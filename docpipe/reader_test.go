package docpipe

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestStreamReader_EOFIsRepeatable(t *testing.T) {
	r, _, err := testExtractor().Extract(context.Background(), ByteBuffer("abc"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	buf := make([]byte, 16)
	n, err := r.ReadInto(buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("first read = %q, %v", buf[:n], err)
	}
	for i := 0; i < 3; i++ {
		n, err := r.ReadInto(buf)
		if n != 0 || err != nil {
			t.Fatalf("read after end = %d, %v", n, err)
		}
	}
	if n, err := r.Read(buf); n != 0 || err != io.EOF {
		t.Fatalf("Read after end = %d, %v", n, err)
	}
}

func TestStreamReader_EmptyBuffer(t *testing.T) {
	r, _, err := testExtractor().Extract(context.Background(), ByteBuffer("abc"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if n, err := r.ReadInto(nil); n != 0 || err != nil {
		t.Fatalf("empty read = %d, %v", n, err)
	}
	if got := drain(t, r); got != "abc" {
		t.Fatalf("content after empty read = %q", got)
	}
}

func TestStreamReader_NeverSplitsCharacters(t *testing.T) {
	// WHAT: A buffer smaller than the next character fails without consuming it.
	// WHY: Each delivered run must decode on its own.
	r, _, err := testExtractor().Extract(context.Background(), ByteBuffer("é€"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	one := make([]byte, 1)
	if _, err := r.ReadInto(one); !errors.Is(err, io.ErrShortBuffer) {
		t.Fatalf("expected io.ErrShortBuffer, got %v", err)
	}
	four := make([]byte, 4)
	n, err := r.ReadInto(four)
	if err != nil || string(four[:n]) != "é" {
		t.Fatalf("read = %q, %v", four[:n], err)
	}
	n, err = r.ReadInto(four)
	if err != nil || string(four[:n]) != "€" {
		t.Fatalf("read = %q, %v", four[:n], err)
	}
}

func TestStreamReader_SmallBufferReassembles(t *testing.T) {
	content := strings.Repeat("ünïcødé text ", 5000)
	r, _, err := testExtractor().Extract(context.Background(), ByteBuffer(content))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var sb strings.Builder
	buf := make([]byte, 7)
	for {
		n, err := r.ReadInto(buf)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
		sb.Write(buf[:n])
	}
	if sb.String() != content {
		t.Fatalf("reassembled %d bytes, want %d", sb.Len(), len(content))
	}
}

func TestStreamReader_UTF16BE(t *testing.T) {
	r, _, err := testExtractor().WithEncoding(UTF16BE).Extract(context.Background(), ByteBuffer("Hi€"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 'H', 0x00, 'i', 0x20, 0xAC}
	if string(b) != string(want) {
		t.Fatalf("bytes = % x, want % x", b, want)
	}

	// Odd buffers never split a code unit.
	r2, _, err := testExtractor().WithEncoding(UTF16BE).Extract(context.Background(), ByteBuffer("Hi"))
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	buf := make([]byte, 3)
	n, err := r2.ReadInto(buf)
	if err != nil || n != 2 {
		t.Fatalf("read = %d, %v", n, err)
	}
}

func TestStreamReader_UTF16BESurrogatePair(t *testing.T) {
	r, _, err := testExtractor().WithEncoding(UTF16BE).Extract(context.Background(), ByteBuffer("😀"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	buf := make([]byte, 2)
	if _, err := r.ReadInto(buf); !errors.Is(err, io.ErrShortBuffer) {
		t.Fatalf("expected io.ErrShortBuffer for a split pair, got %v", err)
	}
	buf = make([]byte, 4)
	if n, err := r.ReadInto(buf); err != nil || n != 4 {
		t.Fatalf("read = %d, %v", n, err)
	}
}

func TestStreamReader_USASCII(t *testing.T) {
	text, _, err := testExtractor().WithEncoding(USASCII).ExtractString(context.Background(), ByteBuffer("café ok"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "caf? ok" {
		t.Fatalf("text = %q", text)
	}
}

func TestStreamReader_Cancel(t *testing.T) {
	// WHAT: Cancelling the context ends the stream with the context error.
	// WHY: Long extractions must stop promptly when the caller goes away.
	ctx, cancel := context.WithCancel(context.Background())
	content := strings.Repeat("x", 4<<20)
	r, _, err := testExtractor().Extract(ctx, ByteBuffer(content))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	buf := make([]byte, 1024)
	if _, err := r.ReadInto(buf); err != nil {
		t.Fatal(err)
	}
	cancel()

	var rerr error
	total := 0
	for i := 0; i < 1<<12; i++ {
		n, err := r.ReadInto(buf)
		if err != nil {
			rerr = err
			break
		}
		if n == 0 {
			t.Fatal("stream reached the end after cancellation")
		}
		total += n
	}
	if !errors.Is(rerr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v after %d bytes", rerr, total)
	}
	// Errors are sticky.
	if _, err := r.ReadInto(buf); !errors.Is(err, context.Canceled) {
		t.Fatalf("second read error = %v", err)
	}
}

func TestStreamReader_ReadAfterClose(t *testing.T) {
	r, _, err := testExtractor().Extract(context.Background(), ByteBuffer(strings.Repeat("y", 1<<20)))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal("Close must be idempotent")
	}
	if _, err := r.ReadInto(make([]byte, 8)); err == nil {
		t.Fatal("expected an error reading a closed reader")
	}
}

func TestStreamReader_Accessors(t *testing.T) {
	ex := testExtractor().WithIDGenerator(func() string { return "ext_fixed" })
	r, meta, err := ex.Extract(context.Background(), ByteBuffer("<html><body><p>x</p></body></html>"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.ExtractionID() != "ext_fixed" {
		t.Errorf("ExtractionID = %q", r.ExtractionID())
	}
	if r.Detection().Format != FormatHTML {
		t.Errorf("Detection = %+v", r.Detection())
	}
	if meta.Value("Content-Type") != "text/html" {
		t.Errorf("Content-Type = %q", meta.Value("Content-Type"))
	}
	if got := drain(t, r); got != "x\n" {
		t.Errorf("content = %q", got)
	}
}

func TestEagerProducer_SlicesLargeChunks(t *testing.T) {
	big := strings.Repeat("é", maxChunkBytes) // two bytes each
	p := newEagerProducer([]Chunk{{Text: big, Element: "p"}, {Text: ""}, {Text: "tail"}})
	var sb strings.Builder
	count := 0
	for {
		c, err := p.next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(c.Text) > maxChunkBytes {
			t.Fatalf("chunk of %d bytes", len(c.Text))
		}
		sb.WriteString(c.Text)
		count++
	}
	if sb.String() != big+"tail" {
		t.Fatal("sliced chunks do not reassemble")
	}
	if count != 3 {
		t.Errorf("chunks = %d, want 3", count)
	}
}

func TestCompletePrefix(t *testing.T) {
	tests := []struct {
		in      []byte
		want    int
		wantErr bool
	}{
		{[]byte("abc"), 3, false},
		{[]byte("ab\xc3"), 2, false},
		{[]byte("\xe2\x82"), 0, false},
		{[]byte("a\xffb"), 1, true},
	}
	for _, tt := range tests {
		got, err := completePrefix(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("completePrefix(%q) = %d, %v", tt.in, got, err)
		}
	}
}

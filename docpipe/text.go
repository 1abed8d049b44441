package docpipe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textChunkBytes is the read size for plain text sources.
const textChunkBytes = 32 << 10

// sourceEncoding picks the encoding of a text source from its BOM, the
// declared charset, or its leading bytes. Undeclared text whose prefix is
// valid UTF-8 is read as UTF-8; anything else falls back to windows-1252.
// complete reports whether prefix is the whole source; otherwise a
// character cut by the end of the prefix does not count against UTF-8.
func sourceEncoding(prefix []byte, contentType string, complete bool) (encoding.Encoding, string) {
	enc, name, certain := charset.DetermineEncoding(prefix, contentType)
	if certain {
		if name == "utf-8" {
			// The detector returns a pass-through decoder for UTF-8; this
			// one replaces invalid sequences later in the stream.
			enc = xunicode.UTF8
		}
		return enc, name
	}
	if n, err := completePrefix(prefix); err == nil && (!complete || n == len(prefix)) {
		return xunicode.UTF8, "utf-8"
	}
	return charmap.Windows1252, "windows-1252"
}

// decodedReader opens the input through its source encoding. A leading BOM
// is consumed.
func decodedReader(in *input, meta *metaBuilder) (io.Reader, error) {
	prefix, err := in.prefix(detectPrefixSize)
	if err != nil {
		return nil, err
	}
	enc, name := sourceEncoding(prefix, in.hint.contentType, int64(len(prefix)) >= in.size)
	meta.add("Content-Encoding", name)
	return transform.NewReader(in.reader(), xunicode.BOMOverride(enc.NewDecoder())), nil
}

// openText streams the decoded source unchanged, in rune-aligned pieces.
func openText(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	r, err := decodedReader(in, meta)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, emit emitFunc) error {
		buf := make([]byte, textChunkBytes)
		var pending []byte
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, rerr := r.Read(buf)
			pending = append(pending, buf[:n]...)
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				return rerr
			}
			eof := errors.Is(rerr, io.EOF)
			if len(pending) >= textChunkBytes || (eof && len(pending) > 0) {
				cut := len(pending)
				if !eof {
					k, err := completePrefix(pending)
					if err != nil {
						return err
					}
					cut = k
				}
				if err := emit(Chunk{Text: string(pending[:cut])}); err != nil {
					return err
				}
				pending = append(pending[:0], pending[cut:]...)
			}
			if eof {
				return nil
			}
		}
	}, nil
}

// openMarkdown streams the source unchanged while tagging its structure:
// ATX headings, paragraphs and fenced code blocks.
func openMarkdown(ctx context.Context, in *input, cfg *parseConfig, meta *metaBuilder) (streamFunc, error) {
	r, err := decodedReader(in, meta)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, emit emitFunc) error {
		br := bufio.NewReaderSize(r, textChunkBytes)
		var block strings.Builder
		blockElem := ""
		titled := false

		flush := func() error {
			if block.Len() == 0 {
				return nil
			}
			c := Chunk{Text: block.String(), Element: blockElem}
			block.Reset()
			return emit(c)
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			line, rerr := br.ReadString('\n')
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				return rerr
			}
			if line != "" {
				trimmed := strings.TrimSpace(line)
				switch {
				case blockElem == "pre":
					block.WriteString(line)
					if isFence(trimmed) {
						if err := flush(); err != nil {
							return err
						}
						blockElem = ""
					}
				case isFence(trimmed):
					if err := flush(); err != nil {
						return err
					}
					blockElem = "pre"
					block.WriteString(line)
				case trimmed == "":
					if err := flush(); err != nil {
						return err
					}
					if err := emit(Chunk{Text: line}); err != nil {
						return err
					}
				case atxLevel(line) > 0:
					if err := flush(); err != nil {
						return err
					}
					level := atxLevel(line)
					if !titled && level == 1 {
						meta.add("dc:title", headingText(trimmed))
						titled = true
					}
					if err := emit(Chunk{Text: line, Element: "h" + strconv.Itoa(level)}); err != nil {
						return err
					}
				default:
					blockElem = "p"
					block.WriteString(line)
					if block.Len() >= maxChunkBytes {
						if err := flush(); err != nil {
							return err
						}
					}
				}
			}
			if errors.Is(rerr, io.EOF) {
				return flush()
			}
		}
	}, nil
}

// atxLevel returns the level of an ATX heading line, or 0.
func atxLevel(line string) int {
	s := strings.TrimRight(line, "\r\n")
	indent := len(s) - len(strings.TrimLeft(s, " "))
	if indent > 3 {
		return 0
	}
	s = s[indent:]
	level := 0
	for level < len(s) && s[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0
	}
	if level < len(s) && s[level] != ' ' && s[level] != '\t' {
		return 0
	}
	return level
}

func headingText(trimmed string) string {
	text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	return strings.TrimSpace(strings.TrimRight(text, "#"))
}

func isFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

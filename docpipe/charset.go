package docpipe

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// codec encodes complete UTF-8 text into the output charset and finds safe
// cut points in encoded output.
type codec interface {
	// encode appends the encoding of s (valid, complete UTF-8) to dst.
	encode(dst, s []byte) ([]byte, error)
	// boundary returns the largest n' <= n such that b[:n'] ends on a
	// character boundary.
	boundary(b []byte, n int) int
	// decode converts encoded output back to a Go string.
	decode(b []byte) (string, error)
}

func codecFor(cs CharSet) codec {
	switch cs {
	case USASCII:
		return asciiCodec{}
	case UTF16BE:
		return utf16Codec{enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}
	}
	return utf8Codec{}
}

type utf8Codec struct{}

func (utf8Codec) encode(dst, s []byte) ([]byte, error) { return append(dst, s...), nil }

func (utf8Codec) boundary(b []byte, n int) int {
	if n >= len(b) {
		return len(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return n
}

func (utf8Codec) decode(b []byte) (string, error) { return string(b), nil }

// asciiCodec replaces every non-ASCII character with '?'.
type asciiCodec struct{}

func (asciiCodec) encode(dst, s []byte) ([]byte, error) {
	for len(s) > 0 {
		r, size := utf8.DecodeRune(s)
		if r < utf8.RuneSelf {
			dst = append(dst, byte(r))
		} else {
			dst = append(dst, '?')
		}
		s = s[size:]
	}
	return dst, nil
}

func (asciiCodec) boundary(b []byte, n int) int {
	if n > len(b) {
		return len(b)
	}
	return n
}

func (asciiCodec) decode(b []byte) (string, error) { return string(b), nil }

type utf16Codec struct {
	enc encoding.Encoding
}

func (c utf16Codec) encode(dst, s []byte) ([]byte, error) {
	out, err := c.enc.NewEncoder().Bytes(s)
	if err != nil {
		return dst, err
	}
	return append(dst, out...), nil
}

// boundary never splits a code unit or a surrogate pair.
func (utf16Codec) boundary(b []byte, n int) int {
	if n >= len(b) {
		return len(b)
	}
	n &^= 1
	if n >= 2 {
		u := uint16(b[n])<<8 | uint16(b[n+1])
		if u >= 0xDC00 && u <= 0xDFFF {
			n -= 2
		}
	}
	return n
}

func (c utf16Codec) decode(b []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// completePrefix returns the length of the longest prefix of b made of
// complete UTF-8 sequences. An incomplete trailing sequence is left out; an
// invalid sequence anywhere is an error.
func completePrefix(b []byte) (int, error) {
	i := 0
	for i < len(b) {
		if b[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(b[i:]) {
				return i, nil
			}
			return i, errInvalidUTF8
		}
		i += size
	}
	return i, nil
}

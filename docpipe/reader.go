// CLAUDE:SUMMARY Pull-based StreamReader: charset-aware boundaries, carryover of incomplete UTF-8 tails, sticky errors, release on EOF/error/Close.
package docpipe

import (
	"errors"
	"fmt"
	"io"
	"runtime"
)

var (
	errInvalidUTF8  = errors.New("invalid UTF-8 sequence")
	errReaderClosed = errors.New("docpipe: read on closed reader")
)

// StreamReader delivers extracted content incrementally. It is meant for a
// single consumer and does not seek. Close it when done; a reader that has
// returned EOF or an error has already released its resources.
type StreamReader struct {
	p     *pipeline
	codec codec

	buf   []byte // backing storage for out
	out   []byte // encoded bytes ready for delivery
	carry []byte // incomplete UTF-8 tail from the last segment

	eof    bool
	err    error
	closed bool
}

func newStreamReader(p *pipeline) *StreamReader {
	r := &StreamReader{p: p, codec: codecFor(p.charset)}
	runtime.AddCleanup(r, func(p *pipeline) { p.close() }, p)
	return r
}

// ReadInto copies the next run of content into p and returns the number of
// bytes written. It never splits a character of the output charset.
//
// At end of content it returns 0 and a nil error, on this and every later
// call. An empty p returns 0 without consuming anything. When p is too
// small to hold the next character, ReadInto returns io.ErrShortBuffer and
// the content stays available. Any other error is terminal and returned
// again by every later call.
func (r *StreamReader) ReadInto(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.out) == 0 {
		if r.eof {
			return 0, nil
		}
		if r.closed {
			return 0, errReaderClosed
		}
		if err := r.fill(); err != nil {
			r.fail(err)
			return 0, r.err
		}
	}
	n := len(r.out)
	if n > len(p) {
		n = r.codec.boundary(r.out, len(p))
		if n == 0 {
			return 0, io.ErrShortBuffer
		}
	}
	copy(p, r.out[:n])
	r.out = r.out[n:]
	return n, nil
}

// Read implements io.Reader on top of ReadInto.
func (r *StreamReader) Read(p []byte) (int, error) {
	n, err := r.ReadInto(p)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the extraction. Further reads return an error unless the
// reader had already reached EOF.
func (r *StreamReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.p.close()
	return nil
}

// Metadata returns a snapshot of the metadata gathered so far. After EOF it
// is complete.
func (r *StreamReader) Metadata() Metadata { return r.p.meta.snapshot() }

// Detection reports the detected format of the source.
func (r *StreamReader) Detection() Detection { return r.p.det }

// ExtractionID identifies the extraction in logs.
func (r *StreamReader) ExtractionID() string { return r.p.id }

// fill pulls segments until some complete characters are encoded or the
// content ends.
func (r *StreamReader) fill() error {
	for {
		seg, err := r.p.next()
		if err == io.EOF {
			if len(r.carry) > 0 {
				return newError(KindDecodeError, "read", fmt.Errorf("content ends inside a multi-byte sequence (%d bytes)", len(r.carry)))
			}
			r.eof = true
			r.release()
			return nil
		}
		if err != nil {
			return err
		}
		r.carry = append(r.carry, seg...)
		k, err := completePrefix(r.carry)
		if err != nil {
			return newError(KindDecodeError, "read", err)
		}
		if k == 0 {
			continue
		}
		r.out, err = r.codec.encode(r.buf[:0], r.carry[:k])
		if err != nil {
			return newError(KindDecodeError, "encode", err)
		}
		r.buf = r.out
		r.carry = append(r.carry[:0], r.carry[k:]...)
		return nil
	}
}

func (r *StreamReader) fail(err error) {
	r.err = err
	r.release()
}

func (r *StreamReader) release() {
	r.p.close()
}

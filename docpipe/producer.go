// CLAUDE:SUMMARY Normalizes eager and incremental backends into one pull-based chunk producer (single-slot hand-off, cancel-and-wait close).
package docpipe

import (
	"context"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// maxChunkBytes bounds a single chunk handed to the reader. Eager backends
// may return larger blocks; they are sliced on rune boundaries.
const maxChunkBytes = 64 << 10

// Chunk is one block of extracted content. Text concatenated over all chunks
// is the plain-text content; Element and Class drive tagged rendering.
type Chunk struct {
	Text    string
	Element string // "p", "div", "h1".."h6", "li"; empty renders bare text
	Class   string
}

// emitFunc hands one chunk to the consumer. It blocks while the consumer has
// not taken the previous chunk and fails once the extraction is cancelled.
type emitFunc func(Chunk) error

type producer interface {
	// next returns the next chunk, or io.EOF when the backend is done.
	next(ctx context.Context) (Chunk, error)
	// close stops production and releases backend resources. Idempotent.
	close() error
}

type eagerProducer struct {
	chunks []Chunk
	i      int
}

func newEagerProducer(chunks []Chunk) *eagerProducer {
	return &eagerProducer{chunks: chunks}
}

func (p *eagerProducer) next(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		if p.i >= len(p.chunks) {
			return Chunk{}, io.EOF
		}
		c := p.chunks[p.i]
		if c.Text == "" {
			p.i++
			continue
		}
		if len(c.Text) <= maxChunkBytes {
			p.chunks[p.i] = Chunk{}
			p.i++
			return c, nil
		}
		cut := maxChunkBytes
		for cut > 0 && !utf8.RuneStart(c.Text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxChunkBytes
		}
		head := c
		head.Text = c.Text[:cut]
		p.chunks[p.i].Text = c.Text[cut:]
		return head, nil
	}
}

func (p *eagerProducer) close() error {
	p.chunks = nil
	return nil
}

// workerProducer runs an incremental backend on its own goroutine. The
// channel has a single slot: the backend blocks once one chunk is waiting.
type workerProducer struct {
	ch     chan Chunk
	cancel context.CancelFunc
	g      *errgroup.Group

	waitOnce sync.Once
	err      error
}

func startWorker(ctx context.Context, op string, run func(ctx context.Context, emit emitFunc) error) *workerProducer {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	w := &workerProducer{
		ch:     make(chan Chunk, 1),
		cancel: cancel,
		g:      g,
	}
	emit := func(c Chunk) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		if c.Text == "" {
			return nil
		}
		select {
		case w.ch <- c:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	}
	g.Go(func() (err error) {
		defer close(w.ch)
		defer func() {
			if r := recover(); r != nil {
				err = newError(KindMalformedDocument, op, fmt.Errorf("panic: %v", r))
			}
		}()
		return run(gctx, emit)
	})
	return w
}

func (w *workerProducer) next(ctx context.Context) (Chunk, error) {
	select {
	case c, ok := <-w.ch:
		if ok {
			return c, nil
		}
		if err := w.wait(); err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

func (w *workerProducer) wait() error {
	w.waitOnce.Do(func() { w.err = w.g.Wait() })
	return w.err
}

// close cancels the worker and waits for it to return.
func (w *workerProducer) close() error {
	w.cancel()
	_ = w.wait()
	return nil
}

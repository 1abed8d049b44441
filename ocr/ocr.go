// CLAUDE:SUMMARY OCR engine contract, options, and the process-wide runtime that loads the engine exactly once.
// Package ocr recognizes text in raster images through an external engine
// (the tesseract CLI by default, libtesseract with the gosseract build tag).
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnavailable means no OCR engine could be started.
	ErrUnavailable = errors.New("ocr: engine unavailable")
	// ErrLanguageMissing means the engine lacks a requested language.
	ErrLanguageMissing = errors.New("ocr: language not installed")
)

// Options tunes one recognition call.
type Options struct {
	Language   string
	Density    int
	Depth      int
	Timeout    time.Duration
	Preprocess bool
	Rotate     bool
}

// Engine recognizes text in an encoded image (PNG, JPEG, TIFF, ...).
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img []byte, opts Options) (string, error)
}

// Loader starts an engine and lists its installed languages.
type Loader func(ctx context.Context) (Engine, []string, error)

// loadTimeout bounds the one-time engine load.
const loadTimeout = 10 * time.Second

// Runtime lazily loads an engine on first use, exactly once, and shares
// the outcome between all callers.
type Runtime struct {
	load   Loader
	logger *slog.Logger

	once   sync.Once
	engine Engine
	langs  map[string]bool
	err    error
}

// NewRuntime returns a Runtime that will initialize with load.
func NewRuntime(load Loader, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{load: load, logger: logger}
}

var shared = sync.OnceValue(func() *Runtime {
	return NewRuntime(defaultLoader, nil)
})

// Shared returns the process-wide runtime backed by the default engine.
func Shared() *Runtime { return shared() }

func (r *Runtime) init() {
	r.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		start := time.Now()
		eng, langs, err := r.load(ctx)
		if err != nil {
			r.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			r.logger.Info("ocr: engine unavailable", "error", err)
			return
		}
		r.engine = eng
		r.langs = make(map[string]bool, len(langs))
		for _, l := range langs {
			r.langs[strings.TrimSpace(l)] = true
		}
		r.logger.Info("ocr: engine ready",
			"engine", eng.Name(),
			"languages", len(langs),
			"elapsed", time.Since(start),
		)
	})
}

// Engine returns the engine when it is available and has every language of
// the "+"-separated language spec installed.
func (r *Runtime) Engine(ctx context.Context, language string) (Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.init()
	if r.err != nil {
		return nil, r.err
	}
	for _, l := range strings.Split(language, "+") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if !r.langs[l] {
			return nil, fmt.Errorf("%w: %s", ErrLanguageMissing, l)
		}
	}
	return r.engine, nil
}

// Languages returns the installed languages, probing the engine if needed.
func (r *Runtime) Languages() ([]string, error) {
	r.init()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]string, 0, len(r.langs))
	for l := range r.langs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

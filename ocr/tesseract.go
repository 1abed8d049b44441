package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Tesseract drives the tesseract command-line program, one process per
// image.
type Tesseract struct {
	Path string
}

func (t *Tesseract) Name() string { return "tesseract" }

// Recognize pipes img through "tesseract stdin stdout". The process is
// killed when ctx is cancelled or opts.Timeout elapses.
func (t *Tesseract) Recognize(ctx context.Context, img []byte, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Preprocess {
		p, err := Preprocess(img, opts.Depth)
		if err != nil {
			return "", fmt.Errorf("ocr: preprocess: %w", err)
		}
		img = p
	}

	cmd := exec.CommandContext(ctx, t.Path, tesseractArgs(opts)...)
	cmd.Stdin = bytes.NewReader(img)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("ocr: tesseract: %w", ctxErr)
		}
		return "", fmt.Errorf("ocr: tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func tesseractArgs(opts Options) []string {
	args := []string{"stdin", "stdout"}
	if opts.Language != "" {
		args = append(args, "-l", opts.Language)
	}
	if opts.Density > 0 {
		args = append(args, "--dpi", strconv.Itoa(opts.Density))
	}
	psm := "3"
	if opts.Rotate {
		psm = "1"
	}
	return append(args, "--psm", psm)
}

// LoadTesseract finds the tesseract binary on PATH and lists its
// languages.
func LoadTesseract(ctx context.Context) (Engine, []string, error) {
	path, err := exec.LookPath("tesseract")
	if err != nil {
		return nil, nil, err
	}
	if err := exec.CommandContext(ctx, path, "--version").Run(); err != nil {
		return nil, nil, fmt.Errorf("tesseract --version: %w", err)
	}
	out, err := exec.CommandContext(ctx, path, "--list-langs").Output()
	if err != nil {
		return nil, nil, fmt.Errorf("tesseract --list-langs: %w", err)
	}
	langs := parseLangList(out)
	if len(langs) == 0 {
		return nil, nil, errors.New("tesseract reports no languages")
	}
	return &Tesseract{Path: path}, langs, nil
}

// parseLangList reads the output of --list-langs: a header line followed by
// one language per line.
func parseLangList(out []byte) []string {
	var langs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.Contains(line, " ") {
			continue
		}
		langs = append(langs, line)
	}
	return langs
}

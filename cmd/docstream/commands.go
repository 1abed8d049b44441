package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docstream/docpipe"
	"github.com/hazyhaar/docstream/httpapi"
	"github.com/hazyhaar/docstream/idgen"
)

// extractFlags are the per-invocation overrides shared by extract and batch.
type extractFlags struct {
	xml      bool
	markdown bool
	ocr      string
	lang     string
	encoding string
}

func (f *extractFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.xml, "xml", false, "XHTML-tagged output")
	fs.BoolVar(&f.markdown, "markdown", false, "render HTML as Markdown")
	fs.StringVar(&f.ocr, "ocr", "", "OCR strategy: auto, no_ocr, ocr_only, ocr_and_text_extraction")
	fs.StringVar(&f.lang, "lang", "", "OCR language, e.g. eng+fra")
	fs.StringVar(&f.encoding, "encoding", "", "output encoding: UTF-8, US-ASCII, UTF-16BE")
}

// apply copies the flags the user set onto cfg.
func (f *extractFlags) apply(cmd *cobra.Command, cfg *Config) error {
	fs := cmd.Flags()
	if fs.Changed("xml") {
		cfg.Output.XML = f.xml
	}
	if fs.Changed("markdown") {
		cfg.HTML.Markdown = f.markdown
	}
	if f.ocr != "" {
		st, err := docpipe.ParseOcrStrategy(f.ocr)
		if err != nil {
			return err
		}
		cfg.PDF.OcrStrategy, cfg.Image.OcrStrategy = st, st
	}
	if f.lang != "" {
		cfg.OCR.Language = f.lang
	}
	if f.encoding != "" {
		cfg.Output.Encoding = f.encoding
	}
	return nil
}

// sourceArg names a document: "-" for stdin, a URL, or a file path.
func sourceArg(arg, name, contentType string, stdin io.Reader) (docpipe.Source, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return docpipe.Upload{Name: name, ContentType: contentType, Data: data}, nil
	case strings.Contains(arg, "://"):
		return docpipe.URL(arg), nil
	default:
		return docpipe.FilePath(arg), nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newExtractCmd(a *app) *cobra.Command {
	var (
		flags       extractFlags
		asJSON      bool
		showMeta    bool
		name        string
		contentType string
		output      string
	)
	cmd := &cobra.Command{
		Use:   "extract <file|url|->",
		Short: "Extract the text of a document",
		Long: `Extract streams the text of a document to stdout as it is parsed.

With --json the whole document is extracted first and printed as one JSON
object with its metadata; content is bounded by output.max_length.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, a.cfg); err != nil {
				return err
			}
			ex, release, err := a.extractor()
			if err != nil {
				return err
			}
			defer release()
			src, err := sourceArg(args[0], name, contentType, cmd.InOrStdin())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			ctx := cmd.Context()
			if asJSON {
				doc, err := ex.ExtractDocument(ctx, src)
				if err != nil {
					return err
				}
				return writeJSON(out, doc)
			}

			sr, _, err := ex.Extract(ctx, src)
			if err != nil {
				return err
			}
			defer sr.Close()
			if _, err := io.Copy(out, sr); err != nil {
				return err
			}
			if showMeta {
				return writeJSON(cmd.ErrOrStderr(), sr.Metadata())
			}
			return nil
		},
	}
	flags.bind(cmd)
	fs := cmd.Flags()
	fs.BoolVar(&asJSON, "json", false, "print one JSON document instead of streaming text")
	fs.BoolVar(&showMeta, "metadata", false, "print metadata as JSON to stderr after the text")
	fs.StringVar(&name, "name", "", "resource name for stdin input; its extension hints the format")
	fs.StringVar(&contentType, "content-type", "", "declared media type for stdin input")
	fs.StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newDetectCmd(a *app) *cobra.Command {
	var name, contentType string
	cmd := &cobra.Command{
		Use:   "detect <file|url|->",
		Short: "Detect the format of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, release, err := a.extractor()
			if err != nil {
				return err
			}
			defer release()
			src, err := sourceArg(args[0], name, contentType, cmd.InOrStdin())
			if err != nil {
				return err
			}
			det, err := ex.Detect(cmd.Context(), src)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), det)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "resource name for stdin input")
	cmd.Flags().StringVar(&contentType, "content-type", "", "declared media type for stdin input")
	return cmd
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FORMAT\tFAMILY")
			for _, f := range docpipe.SupportedFormats() {
				fmt.Fprintf(tw, "%s\t%s\n", f, f.Family())
			}
			return tw.Flush()
		},
	}
}

// outputNames maps inputs to distinct output base names inside dir.
func outputNames(dir string, inputs []string) []string {
	seen := make(map[string]int, len(inputs))
	names := make([]string, len(inputs))
	for i, in := range inputs {
		base := filepath.Base(in)
		if strings.Contains(in, "://") {
			base = filepath.Base(strings.TrimRight(in, "/"))
		}
		if base == "." || base == "/" || base == "" {
			base = "document"
		}
		n := seen[base]
		seen[base] = n + 1
		if n > 0 {
			base = fmt.Sprintf("%s-%d", base, n)
		}
		names[i] = filepath.Join(dir, base)
	}
	return names
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		flags extractFlags
		out   string
		jobs  int
	)
	cmd := &cobra.Command{
		Use:   "batch --out <dir> <file|url>...",
		Short: "Extract many documents concurrently",
		Long: `Batch extracts every input into the output directory: the text as
<name>.txt (or .xhtml with --xml) and the metadata as <name>.json.
A failed document is logged and does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			if err := flags.apply(cmd, a.cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			ex, release, err := a.extractor()
			if err != nil {
				return err
			}
			defer release()

			ext := ".txt"
			if a.cfg.Output.XML {
				ext = ".xhtml"
			}
			names := outputNames(out, args)
			var failed atomic.Int64
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(jobs, 1))
			for i, in := range args {
				g.Go(func() error {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					src, _ := sourceArg(in, "", "", nil)
					if err := extractTo(ctx, ex, src, names[i]+ext, names[i]+".json"); err != nil {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						failed.Add(1)
						a.logger.Error("batch: extraction failed", "input", in, "kind", docpipe.KindOf(err).String(), "error", err)
						return nil
					}
					a.logger.Debug("batch: extracted", "input", in, "output", names[i]+ext)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			n := failed.Load()
			fmt.Fprintf(cmd.OutOrStdout(), "%d extracted, %d failed\n", int64(len(args))-n, n)
			if n > 0 {
				return fmt.Errorf("%d of %d documents failed", n, len(args))
			}
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "concurrent extractions")
	return cmd
}

// extractTo streams src into textPath and writes its metadata to metaPath.
// A partial text file is removed on failure.
func extractTo(ctx context.Context, ex docpipe.Extractor, src docpipe.Source, textPath, metaPath string) (err error) {
	sr, _, err := ex.Extract(ctx, src)
	if err != nil {
		return err
	}
	defer sr.Close()

	f, err := os.Create(textPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(textPath)
		}
	}()
	if _, err := io.Copy(f, sr); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(sr.Metadata(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath, append(meta, '\n'), 0o644)
}

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		allowURLs bool
		fileRoot  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			if fs.Changed("addr") {
				a.cfg.Serve.Addr = addr
			}
			if fs.Changed("allow-urls") {
				a.cfg.Serve.AllowURLs = allowURLs
			}
			if fs.Changed("file-root") {
				a.cfg.Serve.FileRoot = fileRoot
			}
			ex, release, err := a.extractor()
			if err != nil {
				return err
			}
			defer release()
			srv, err := httpapi.New(ex, a.cfg.serveConfig(), a.logger)
			if err != nil {
				return err
			}
			if len(a.cfg.Serve.APIKeys) == 0 {
				a.logger.Warn("serve: no api keys configured, /v1 is open")
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&allowURLs, "allow-urls", false, "accept url= sources")
	cmd.Flags().StringVar(&fileRoot, "file-root", "", "accept path= sources under this directory")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the extraction tools over MCP (stdio)",
		Long: `Serve docstream_extract, docstream_detect and docstream_formats over
the Model Context Protocol on stdin/stdout.

Client configuration:
  {
    "mcpServers": {
      "docstream": {"command": "/path/to/docstream", "args": ["mcp"]}
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ex, release, err := a.extractor()
			if err != nil {
				return err
			}
			defer release()
			srv := mcp.NewServer(&mcp.Implementation{Name: "docstream", Version: version}, nil)
			ex.RegisterMCP(srv)
			a.logger.Info("mcp: serving on stdio")
			err = srv.Run(cmd.Context(), &mcp.StdioTransport{})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newHashKeyCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Generate an API key and the config entry that accepts it",
		Long: `Hash-key generates a random API key, prints it once, and prints the
serve.api_keys entry holding its bcrypt hash. Only the hash is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := idgen.APIKey()
			hash, err := httpapi.HashKey(secret)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "# key (shown once): %s\n", secret)
			fmt.Fprintf(w, "serve:\n  api_keys:\n    - id: %s\n      hash: %q\n", id, hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "default", "key identifier shown in logs")
	return cmd
}

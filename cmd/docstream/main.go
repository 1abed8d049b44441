// CLAUDE:SUMMARY CLI entry point for docstream: extract, detect, formats, batch, serve (HTTP), mcp (stdio) and hash-key commands over one configured Extractor.
// Command docstream extracts text and metadata from documents.
//
// Usage:
//
//	docstream extract report.pdf               # stream plain text to stdout
//	docstream extract --xml page.html          # XHTML-tagged output
//	cat scan.png | docstream extract --name scan.png -
//	docstream detect https://example.com/a.docx
//	docstream batch --out out/ --jobs 4 docs/*.pdf
//	docstream serve --config docstream.yaml    # HTTP API
//	docstream mcp                              # MCP over stdio
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/docstream/docpipe"
	"github.com/hazyhaar/docstream/kit"
)

var version = "dev"

// app carries what every command shares once flags are parsed.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg    *Config
	logger *slog.Logger
}

// setup loads the configuration and installs the logger. Logs go to
// stderr; stdout carries command output.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(a.logger)
	cmd.SetContext(kit.WithTransport(cmd.Context(), "cli"))
	return nil
}

// extractor builds the configured Extractor; release must be called when
// the command is done with it.
func (a *app) extractor() (docpipe.Extractor, func(), error) {
	return a.cfg.extractor(a.logger)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "docstream",
		Short:         "Extract text and metadata from documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (.yaml or .toml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with DOCSTREAM_* overrides")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(
		newExtractCmd(a),
		newDetectCmd(a),
		newFormatsCmd(),
		newBatchCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newHashKeyCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "docstream:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes failure classes for scripts: 2 for input the
// library cannot handle, 3 for a missing backend, 1 otherwise.
func exitCode(err error) int {
	switch docpipe.KindOf(err) {
	case docpipe.KindUnsupportedFormat, docpipe.KindMalformedDocument, docpipe.KindDecodeError:
		return 2
	case docpipe.KindBackendUnavailable:
		return 3
	}
	return 1
}

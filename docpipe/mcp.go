package docpipe

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docstream/kit"
)

// RegisterMCP registers the docstream tools on an MCP server. Results are
// bounded by the extractor's string length, or DefaultMaxStringLength when
// it has none.
func (e Extractor) RegisterMCP(srv *mcp.Server) {
	if e.maxLength <= 0 {
		e.maxLength = DefaultMaxStringLength
	}
	e.registerExtractTool(srv)
	e.registerDetectTool(srv)
	e.registerFormatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// sourceArgs names the document: exactly one field must be set.
type sourceArgs struct {
	Path          string `json:"path,omitempty"`
	URL           string `json:"url,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

var sourceProperties = map[string]any{
	"path":           map[string]any{"type": "string", "description": "Local file path"},
	"url":            map[string]any{"type": "string", "description": "http(s) or s3:// URL"},
	"content_base64": map[string]any{"type": "string", "description": "Document bytes, base64 encoded"},
}

func (a sourceArgs) source() (Source, error) {
	set := 0
	for _, s := range []string{a.Path, a.URL, a.ContentBase64} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of path, url, content_base64 is required")
	}
	switch {
	case a.Path != "":
		return FilePath(a.Path), nil
	case a.URL != "":
		return URL(a.URL), nil
	}
	b, err := base64.StdEncoding.DecodeString(a.ContentBase64)
	if err != nil {
		return nil, newError(KindSourceNotFound, "decode", err)
	}
	return ByteBuffer(b), nil
}

func (e Extractor) toolMiddleware(op string) kit.Middleware {
	return kit.Chain(kit.Logging(e.log(), op), kit.Recover(op))
}

// --- extract ---

type extractReq struct {
	sourceArgs
	OcrStrategy string `json:"ocr_strategy,omitempty"`
	Markdown    bool   `json:"markdown,omitempty"`
	XMLOutput   bool   `json:"xml_output,omitempty"`
	MaxLength   int    `json:"max_length,omitempty"`
}

type extractResp struct {
	Format    Format   `json:"format"`
	MIME      string   `json:"mime"`
	Content   string   `json:"content"`
	Metadata  Metadata `json:"metadata"`
	Truncated bool     `json:"truncated"`
}

func (e Extractor) registerExtractTool(srv *mcp.Server) {
	props := map[string]any{
		"ocr_strategy": map[string]any{"type": "string", "enum": []string{"auto", "no_ocr", "ocr_only", "ocr_and_text_extraction"}},
		"markdown":     map[string]any{"type": "boolean", "description": "Render HTML as Markdown"},
		"xml_output":   map[string]any{"type": "boolean", "description": "Return tagged XHTML instead of plain text"},
		"max_length":   map[string]any{"type": "integer", "description": "Maximum characters returned"},
	}
	for k, v := range sourceProperties {
		props[k] = v
	}
	tool := &mcp.Tool{
		Name:        "docstream_extract",
		Description: "Extract text and metadata from a document (pdf, docx, pptx, xlsx, odf, epub, html, text, images, doc, rtf, xml).",
		InputSchema: inputSchema(props, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		src, err := r.source()
		if err != nil {
			return nil, err
		}
		ex := e.WithXMLOutput(r.XMLOutput)
		if r.OcrStrategy != "" {
			s, err := ParseOcrStrategy(r.OcrStrategy)
			if err != nil {
				return nil, err
			}
			ex = ex.WithPdfConfig(ex.pdf.WithOcrStrategy(s)).WithImageConfig(ImageParserConfig{OcrStrategy: s})
		}
		if r.Markdown {
			h := ex.html
			h.Markdown = true
			ex = ex.WithHTMLConfig(h)
		}
		if r.MaxLength > 0 && r.MaxLength < ex.maxLength {
			ex = ex.WithMaxStringLength(r.MaxLength)
		}
		doc, err := ex.ExtractDocument(ctx, src)
		if err != nil {
			return nil, err
		}
		return extractResp{
			Format:    doc.Format,
			MIME:      doc.MIME,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Truncated: doc.Metadata.Value("extract:content-truncated") == "true",
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, e.toolMiddleware("docstream_extract")(endpoint), kit.DecodeJSON[extractReq]())
}

// --- detect ---

func (e Extractor) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docstream_detect",
		Description: "Detect the format, family and media type of a document from its content.",
		InputSchema: inputSchema(sourceProperties, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		src, err := req.(*sourceArgs).source()
		if err != nil {
			return nil, err
		}
		return e.Detect(ctx, src)
	}

	kit.RegisterMCPTool(srv, tool, e.toolMiddleware("docstream_detect")(endpoint), kit.DecodeJSON[sourceArgs]())
}

// --- formats ---

func (e Extractor) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docstream_formats",
		Description: "List all supported document formats.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"formats": SupportedFormats()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, e.toolMiddleware("docstream_formats")(endpoint), decode)
}

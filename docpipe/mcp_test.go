package docpipe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "docstream-test", Version: "0.1.0"}

func mcpSession(t *testing.T, ex Extractor) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	ex.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result := mcpCall(t, session, name, args)
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %+v", name, result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

// --- docstream_formats ---

func TestMCP_Formats(t *testing.T) {
	session := mcpSession(t, testExtractor())

	text := mcpCallTool(t, session, "docstream_formats", map[string]any{})

	var resp struct {
		Formats []string `json:"formats"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Formats) != len(SupportedFormats()) {
		t.Errorf("got %d formats, want %d: %v", len(resp.Formats), len(SupportedFormats()), resp.Formats)
	}
	expected := map[string]bool{"pdf": true, "docx": true, "xlsx": true, "pptx": true, "odf": true, "epub": true, "html": true}
	for _, f := range resp.Formats {
		delete(expected, f)
	}
	for f := range expected {
		t.Errorf("missing format: %q", f)
	}
}

// --- docstream_detect ---

func TestMCP_Detect(t *testing.T) {
	session := mcpSession(t, testExtractor())

	tests := []struct {
		name   string
		data   []byte
		format string
	}{
		{"pdf", helloQuarkusPDF(t), "pdf"},
		{"html", []byte("<!DOCTYPE html><html><body><p>hi</p></body></html>"), "html"},
		{"png", grayPNG(t, 8, 8), "image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := mcpCallTool(t, session, "docstream_detect", map[string]any{
				"content_base64": base64.StdEncoding.EncodeToString(tt.data),
			})
			var det Detection
			if err := json.Unmarshal([]byte(text), &det); err != nil {
				t.Fatal(err)
			}
			if string(det.Format) != tt.format {
				t.Errorf("format = %q, want %q", det.Format, tt.format)
			}
		})
	}
}

func TestMCP_Detect_RequiresOneSource(t *testing.T) {
	// WHAT: Zero or two sources are rejected as tool errors.
	// WHY: The source must be unambiguous.
	session := mcpSession(t, testExtractor())

	if res := mcpCall(t, session, "docstream_detect", map[string]any{}); !res.IsError {
		t.Error("no source: expected tool error")
	}
	res := mcpCall(t, session, "docstream_detect", map[string]any{"path": "a.txt", "url": "https://example.com/a.txt"})
	if !res.IsError {
		t.Error("two sources: expected tool error")
	}
}

// --- docstream_extract ---

func TestMCP_Extract_Text(t *testing.T) {
	session := mcpSession(t, testExtractor())

	path := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(path, []byte("Hello World\nSecond line"), 0o644); err != nil {
		t.Fatal(err)
	}

	text := mcpCallTool(t, session, "docstream_extract", map[string]any{"path": path})

	var resp extractResp
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Format != FormatTXT {
		t.Errorf("Format = %q, want %q", resp.Format, FormatTXT)
	}
	if resp.Content != "Hello World\nSecond line" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Metadata.Value("resource-name") != "test.txt" {
		t.Errorf("resource-name = %q", resp.Metadata.Value("resource-name"))
	}
	if resp.Truncated {
		t.Error("unexpected truncation")
	}
}

func TestMCP_Extract_MaxLength(t *testing.T) {
	session := mcpSession(t, testExtractor())

	content := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("abcdefghij", 10)))
	text := mcpCallTool(t, session, "docstream_extract", map[string]any{
		"content_base64": content,
		"max_length":     15,
	})
	var resp extractResp
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Content != "abcdefghijabcde" {
		t.Errorf("Content = %q", resp.Content)
	}
	if !resp.Truncated {
		t.Error("expected truncated=true")
	}
}

func TestMCP_Extract_DefaultBound(t *testing.T) {
	// WHAT: The MCP surface bounds results even when the extractor does not.
	// WHY: Tool results travel inside a single JSON message.
	session := mcpSession(t, testExtractor())

	big := strings.Repeat("x", DefaultMaxStringLength+10)
	text := mcpCallTool(t, session, "docstream_extract", map[string]any{
		"content_base64": base64.StdEncoding.EncodeToString([]byte(big)),
	})
	var resp extractResp
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Content) != DefaultMaxStringLength || !resp.Truncated {
		t.Errorf("len = %d truncated = %v", len(resp.Content), resp.Truncated)
	}
}

func TestMCP_Extract_Markdown(t *testing.T) {
	session := mcpSession(t, testExtractor())

	html := `<html><head><title>T</title></head><body><h1>Title</h1><p>Some <b>bold</b> text.</p></body></html>`
	text := mcpCallTool(t, session, "docstream_extract", map[string]any{
		"content_base64": base64.StdEncoding.EncodeToString([]byte(html)),
		"markdown":       true,
	})
	var resp extractResp
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Content, "# Title") || !strings.Contains(resp.Content, "**bold**") {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestMCP_Extract_MissingFile(t *testing.T) {
	session := mcpSession(t, testExtractor())

	res := mcpCall(t, session, "docstream_extract", map[string]any{"path": filepath.Join(t.TempDir(), "nope.pdf")})
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	tc := res.Content[0].(*mcp.TextContent)
	if !strings.Contains(tc.Text, "source_not_found") {
		t.Errorf("error text = %q", tc.Text)
	}
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docstream/docpipe"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const yamlConfig = `
log_level: debug
ocr:
  language: eng+fra
  timeout: 45s
pdf:
  ocr_strategy: no_ocr
  pages:
    first: 2
office:
  include_headers_and_footers: true
output:
  encoding: utf-16be
  max_length: 1000
fetch:
  timeout: 10s
  cache_db: /tmp/cache.db
serve:
  addr: 127.0.0.1:9000
  rate_window: 2m
  api_keys:
    - id: ci
      hash: "$2a$10$abcdefghijklmnopqrstuu"
`

func TestLoadConfig_YAML(t *testing.T) {
	cfg, err := loadConfig(writeFile(t, "docstream.yaml", yamlConfig), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.OCR.Language != "eng+fra" {
		t.Errorf("cfg = %+v", cfg)
	}
	if time.Duration(cfg.OCR.Timeout) != 45*time.Second {
		t.Errorf("ocr timeout = %v", time.Duration(cfg.OCR.Timeout))
	}
	if cfg.OCR.Density != 300 {
		t.Errorf("density default lost: %d", cfg.OCR.Density)
	}
	if cfg.PDF.OcrStrategy != docpipe.NoOCR || cfg.PDF.Pages.First != 2 {
		t.Errorf("pdf = %+v", cfg.PDF)
	}
	// WHAT: Keys absent from the file keep their defaults.
	// WHY: Decoding onto the defaults must not zero sibling fields.
	if !cfg.Office.IncludeHeadersAndFooters || !cfg.Office.IncludeSlideNotes {
		t.Errorf("office = %+v", cfg.Office)
	}
	if time.Duration(cfg.Serve.RateWindow) != 2*time.Minute || cfg.Serve.Addr != "127.0.0.1:9000" {
		t.Errorf("serve = %+v", cfg.Serve)
	}
	if len(cfg.Serve.APIKeys) != 1 || cfg.Serve.APIKeys[0].ID != "ci" {
		t.Errorf("api keys = %+v", cfg.Serve.APIKeys)
	}
	if cfg.Fetch.CacheDB != "/tmp/cache.db" || time.Duration(cfg.Fetch.Timeout) != 10*time.Second {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
}

const tomlConfig = `
log_level = "warn"

[ocr]
language = "deu"
timeout = "1m30s"

[image]
ocr_strategy = "ocr_only"

[html]
markdown = true

[output]
xml = true

[serve]
rate_limit = 10
shutdown_timeout = "5s"
`

func TestLoadConfig_TOML(t *testing.T) {
	cfg, err := loadConfig(writeFile(t, "docstream.toml", tomlConfig), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" || cfg.OCR.Language != "deu" {
		t.Errorf("cfg = %+v", cfg)
	}
	if time.Duration(cfg.OCR.Timeout) != 90*time.Second {
		t.Errorf("ocr timeout = %v", time.Duration(cfg.OCR.Timeout))
	}
	if cfg.Image.OcrStrategy != docpipe.OCROnly || !cfg.HTML.Markdown || !cfg.Output.XML {
		t.Errorf("image/html/output = %+v %+v %+v", cfg.Image, cfg.HTML, cfg.Output)
	}
	if cfg.PDF.OcrStrategy != docpipe.Auto {
		t.Errorf("pdf strategy = %v", cfg.PDF.OcrStrategy)
	}
	if cfg.Serve.RateLimit != 10 || time.Duration(cfg.Serve.ShutdownTimeout) != 5*time.Second {
		t.Errorf("serve = %+v", cfg.Serve)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := loadConfig(writeFile(t, "docstream.json", "{}"), ""); err == nil {
		t.Error("json extension: expected error")
	}
	if _, err := loadConfig(writeFile(t, "bad.yaml", "ocr:\n  timeout: soon\n"), ""); err == nil {
		t.Error("bad duration: expected error")
	}
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("DOCSTREAM_OCR_STRATEGY", "ocr_only")
	t.Setenv("DOCSTREAM_XML", "true")
	t.Setenv("DOCSTREAM_MAX_LENGTH", "42")
	t.Setenv("DOCSTREAM_ADDR", ":7000")

	// WHAT: The dotenv file fills variables the environment lacks only.
	// WHY: A real environment variable must beat a checked-in .env.
	envFile := writeFile(t, ".env", "DOCSTREAM_S3_REGION=eu-west-3\nDOCSTREAM_ADDR=:1111\n")
	t.Cleanup(func() { os.Unsetenv("DOCSTREAM_S3_REGION") })

	cfg, err := loadConfig(writeFile(t, "c.yaml", "serve:\n  addr: \":9999\"\n"), envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PDF.OcrStrategy != docpipe.OCROnly || cfg.Image.OcrStrategy != docpipe.OCROnly {
		t.Errorf("strategies = %v %v", cfg.PDF.OcrStrategy, cfg.Image.OcrStrategy)
	}
	if !cfg.Output.XML || cfg.Output.MaxLength != 42 {
		t.Errorf("output = %+v", cfg.Output)
	}
	if cfg.Serve.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Serve.Addr)
	}
	if cfg.Fetch.S3Region != "eu-west-3" {
		t.Errorf("s3 region = %q", cfg.Fetch.S3Region)
	}
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	if _, err := loadConfig("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing dotenv file should be ignored: %v", err)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	for name, val := range map[string]string{
		"DOCSTREAM_XML":          "maybe",
		"DOCSTREAM_RATE_LIMIT":   "ten",
		"DOCSTREAM_OCR_STRATEGY": "sometimes",
	} {
		cfg := defaultConfig()
		lookup := func(k string) (string, bool) {
			if k == name {
				return val, true
			}
			return "", false
		}
		if err := cfg.applyEnv(lookup); err == nil {
			t.Errorf("%s=%s: expected error", name, val)
		}
	}
}

func TestConfig_Extractor(t *testing.T) {
	cfg := defaultConfig()
	cfg.Output.Encoding = "UTF16BE"
	cfg.Output.XML = true
	cfg.OCR.Timeout = duration(3 * time.Second)
	cfg.HTML.KeepHidden = true

	ex, release, err := cfg.extractor(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if ex.Encoding() != docpipe.UTF16BE || !ex.XMLOutput() {
		t.Errorf("encoding = %v, xml = %v", ex.Encoding(), ex.XMLOutput())
	}
	if ex.OcrConfig().Timeout != 3*time.Second || !ex.HTMLConfig().KeepHidden {
		t.Errorf("ocr = %+v, html = %+v", ex.OcrConfig(), ex.HTMLConfig())
	}
	if ex.MaxStringLength() != docpipe.DefaultMaxStringLength {
		t.Errorf("max length = %d", ex.MaxStringLength())
	}

	cfg.Output.Encoding = "EBCDIC"
	if _, _, err := cfg.extractor(nil); err == nil {
		t.Error("unknown encoding: expected error")
	}
}

func TestConfig_FetchCache(t *testing.T) {
	cfg := defaultConfig()
	cfg.Fetch.CacheDB = filepath.Join(t.TempDir(), "fetch.db")
	cfg.Fetch.CacheSync = "full"
	cfg.Fetch.CacheBusyTimeout = duration(3 * time.Second)
	_, release, err := cfg.extractor(nil)
	if err != nil {
		t.Fatal(err)
	}
	release()
	if _, err := os.Stat(cfg.Fetch.CacheDB); err != nil {
		t.Errorf("cache db not created: %v", err)
	}

	cfg.Fetch.CacheSync = "sometimes"
	if _, _, err := cfg.extractor(nil); err == nil || !strings.Contains(err.Error(), "cache_synchronous") {
		t.Errorf("bad synchronous mode: err = %v", err)
	}
}

func TestAllowAnyHTTP(t *testing.T) {
	if err := allowAnyHTTP("http://10.0.0.5/doc.pdf"); err != nil {
		t.Errorf("private http: %v", err)
	}
	if err := allowAnyHTTP("file:///etc/passwd"); err == nil {
		t.Error("file scheme accepted")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG").String() != "DEBUG" || parseLevel("nonsense").String() != "INFO" {
		t.Error("unexpected level mapping")
	}
}

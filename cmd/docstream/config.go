package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docstream/dbopen"
	"github.com/hazyhaar/docstream/docpipe"
	"github.com/hazyhaar/docstream/fetch"
	"github.com/hazyhaar/docstream/horosafe"
	"github.com/hazyhaar/docstream/httpapi"
)

// duration reads "90s"-style strings from YAML and TOML alike.
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

type ocrSection struct {
	Language      string   `yaml:"language" toml:"language"`
	Density       int      `yaml:"density" toml:"density"`
	Depth         int      `yaml:"depth" toml:"depth"`
	Timeout       duration `yaml:"timeout" toml:"timeout"`
	Preprocess    bool     `yaml:"preprocess" toml:"preprocess"`
	ApplyRotation bool     `yaml:"apply_rotation" toml:"apply_rotation"`
}

type outputSection struct {
	XML       bool   `yaml:"xml" toml:"xml"`
	Encoding  string `yaml:"encoding" toml:"encoding"`
	MaxLength int    `yaml:"max_length" toml:"max_length"`
}

type fetchSection struct {
	Timeout          duration `yaml:"timeout" toml:"timeout"`
	MaxBytes         int64    `yaml:"max_bytes" toml:"max_bytes"`
	UserAgent        string   `yaml:"user_agent" toml:"user_agent"`
	MaxRetries       int      `yaml:"max_retries" toml:"max_retries"`
	CacheDB          string   `yaml:"cache_db" toml:"cache_db"`
	CacheSync        string   `yaml:"cache_synchronous" toml:"cache_synchronous"`
	CacheBusyTimeout duration `yaml:"cache_busy_timeout" toml:"cache_busy_timeout"`
	Render           bool     `yaml:"render" toml:"render"`
	BrowserURL       string   `yaml:"browser_url" toml:"browser_url"`
	S3Region         string   `yaml:"s3_region" toml:"s3_region"`
	S3Endpoint       string   `yaml:"s3_endpoint" toml:"s3_endpoint"`
	AllowPrivate     bool     `yaml:"allow_private" toml:"allow_private"`
}

type serveSection struct {
	Addr            string           `yaml:"addr" toml:"addr"`
	APIKeys         []httpapi.APIKey `yaml:"api_keys" toml:"api_keys"`
	MaxUploadBytes  int64            `yaml:"max_upload_bytes" toml:"max_upload_bytes"`
	AllowURLs       bool             `yaml:"allow_urls" toml:"allow_urls"`
	FileRoot        string           `yaml:"file_root" toml:"file_root"`
	RateLimit       int              `yaml:"rate_limit" toml:"rate_limit"`
	RateWindow      duration         `yaml:"rate_window" toml:"rate_window"`
	TrustProxy      bool             `yaml:"trust_proxy" toml:"trust_proxy"`
	ShutdownTimeout duration         `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Config is the docstream configuration file. Absent keys keep the
// library defaults.
type Config struct {
	LogLevel string                     `yaml:"log_level" toml:"log_level"`
	OCR      ocrSection                 `yaml:"ocr" toml:"ocr"`
	PDF      docpipe.PdfParserConfig    `yaml:"pdf" toml:"pdf"`
	Office   docpipe.OfficeParserConfig `yaml:"office" toml:"office"`
	HTML     docpipe.HTMLParserConfig   `yaml:"html" toml:"html"`
	Image    docpipe.ImageParserConfig  `yaml:"image" toml:"image"`
	Output   outputSection              `yaml:"output" toml:"output"`
	Fetch    fetchSection               `yaml:"fetch" toml:"fetch"`
	Serve    serveSection               `yaml:"serve" toml:"serve"`
}

func defaultConfig() *Config {
	oc := docpipe.DefaultOcrConfig()
	return &Config{
		LogLevel: "info",
		OCR: ocrSection{
			Language:      oc.Language,
			Density:       oc.Density,
			Depth:         oc.Depth,
			Timeout:       duration(oc.Timeout),
			Preprocess:    oc.EnableImagePreprocessing,
			ApplyRotation: oc.ApplyRotation,
		},
		PDF:    docpipe.DefaultPdfConfig(),
		Office: docpipe.DefaultOfficeConfig(),
		Image:  docpipe.ImageParserConfig{OcrStrategy: docpipe.Auto},
		Output: outputSection{Encoding: "UTF-8", MaxLength: docpipe.DefaultMaxStringLength},
	}
}

// loadConfig reads path (YAML or TOML by extension, optional), then the
// dotenv file (optional), then DOCSTREAM_* overrides.
func loadConfig(path, envFile string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = toml.Unmarshal(data, cfg)
		case ".yaml", ".yml", "":
			err = yaml.Unmarshal(data, cfg)
		default:
			return nil, fmt.Errorf("config %s: unknown extension (want .yaml, .yml or .toml)", path)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		// godotenv never overrides variables already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envVar struct {
	name string
	set  func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{"DOCSTREAM_LOG_LEVEL", str(&c.LogLevel)},
		{"DOCSTREAM_OCR_LANGUAGE", str(&c.OCR.Language)},
		{"DOCSTREAM_OCR_STRATEGY", func(v string) error {
			st, err := docpipe.ParseOcrStrategy(v)
			if err != nil {
				return err
			}
			c.PDF.OcrStrategy, c.Image.OcrStrategy = st, st
			return nil
		}},
		{"DOCSTREAM_XML", boolean(&c.Output.XML)},
		{"DOCSTREAM_ENCODING", str(&c.Output.Encoding)},
		{"DOCSTREAM_MAX_LENGTH", integer(&c.Output.MaxLength)},
		{"DOCSTREAM_HTML_MARKDOWN", boolean(&c.HTML.Markdown)},
		{"DOCSTREAM_FETCH_CACHE", str(&c.Fetch.CacheDB)},
		{"DOCSTREAM_FETCH_RENDER", boolean(&c.Fetch.Render)},
		{"DOCSTREAM_BROWSER_URL", str(&c.Fetch.BrowserURL)},
		{"DOCSTREAM_S3_REGION", str(&c.Fetch.S3Region)},
		{"DOCSTREAM_S3_ENDPOINT", str(&c.Fetch.S3Endpoint)},
		{"DOCSTREAM_ADDR", str(&c.Serve.Addr)},
		{"DOCSTREAM_FILE_ROOT", str(&c.Serve.FileRoot)},
		{"DOCSTREAM_ALLOW_URLS", boolean(&c.Serve.AllowURLs)},
		{"DOCSTREAM_RATE_LIMIT", integer(&c.Serve.RateLimit)},
		{"DOCSTREAM_TRUST_PROXY", boolean(&c.Serve.TrustProxy)},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range c.envVars() {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(v); err != nil {
			return fmt.Errorf("%s: %w", ev.name, err)
		}
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// extractor builds the configured Extractor. release closes the fetcher's
// browser and cache.
func (c *Config) extractor(logger *slog.Logger) (ex docpipe.Extractor, release func(), err error) {
	cs, err := docpipe.ParseCharSet(c.Output.Encoding)
	if err != nil {
		return docpipe.Extractor{}, nil, fmt.Errorf("output.encoding: %w", err)
	}
	f, cache, err := c.fetcher(logger)
	if err != nil {
		return docpipe.Extractor{}, nil, err
	}
	release = func() {
		f.Close()
		if cache != nil {
			cache.Close()
		}
	}
	ex = docpipe.New().
		WithOcrConfig(docpipe.OcrConfig{
			Language:                 c.OCR.Language,
			Density:                  c.OCR.Density,
			Depth:                    c.OCR.Depth,
			Timeout:                  time.Duration(c.OCR.Timeout),
			EnableImagePreprocessing: c.OCR.Preprocess,
			ApplyRotation:            c.OCR.ApplyRotation,
		}).
		WithPdfConfig(c.PDF).
		WithOfficeConfig(c.Office).
		WithHTMLConfig(c.HTML).
		WithImageConfig(c.Image).
		WithXMLOutput(c.Output.XML).
		WithEncoding(cs).
		WithMaxStringLength(c.Output.MaxLength).
		WithFetcher(f).
		WithLogger(logger)
	return ex, release, nil
}

func (c *Config) fetcher(logger *slog.Logger) (*fetch.Fetcher, *fetch.Cache, error) {
	fc := fetch.Config{
		Timeout:    time.Duration(c.Fetch.Timeout),
		MaxBytes:   c.Fetch.MaxBytes,
		UserAgent:  c.Fetch.UserAgent,
		MaxRetries: c.Fetch.MaxRetries,
		Render:     c.Fetch.Render,
		BrowserURL: c.Fetch.BrowserURL,
		S3Region:   c.Fetch.S3Region,
		S3Endpoint: c.Fetch.S3Endpoint,
		Logger:     logger,
	}
	if c.Fetch.AllowPrivate {
		fc.URLValidator = allowAnyHTTP
	}
	if c.Fetch.CacheDB != "" {
		var opts []dbopen.Option
		if c.Fetch.CacheSync != "" {
			mode := strings.ToUpper(c.Fetch.CacheSync)
			switch mode {
			case "OFF", "NORMAL", "FULL", "EXTRA":
			default:
				return nil, nil, fmt.Errorf("fetch.cache_synchronous: unknown mode %q", c.Fetch.CacheSync)
			}
			opts = append(opts, dbopen.WithSynchronous(mode))
		}
		if d := time.Duration(c.Fetch.CacheBusyTimeout); d > 0 {
			opts = append(opts, dbopen.WithBusyTimeout(int(d/time.Millisecond)))
		}
		cache, err := fetch.OpenCache(c.Fetch.CacheDB, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch cache: %w", err)
		}
		fc.Cache = cache
	}
	return fetch.New(fc), fc.Cache, nil
}

// allowAnyHTTP keeps the scheme check but skips the private address check,
// for deployments that extract from intranet hosts.
func allowAnyHTTP(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return horosafe.ErrUnsafeScheme
	}
	return nil
}

func (c *Config) serveConfig() httpapi.Config {
	return httpapi.Config{
		Addr:            c.Serve.Addr,
		APIKeys:         c.Serve.APIKeys,
		MaxUploadBytes:  c.Serve.MaxUploadBytes,
		AllowURLs:       c.Serve.AllowURLs,
		FileRoot:        c.Serve.FileRoot,
		RateLimit:       c.Serve.RateLimit,
		RateWindow:      time.Duration(c.Serve.RateWindow),
		TrustProxy:      c.Serve.TrustProxy,
		ShutdownTimeout: time.Duration(c.Serve.ShutdownTimeout),
	}
}

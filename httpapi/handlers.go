package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/hazyhaar/docstream/docpipe"
	"github.com/hazyhaar/docstream/horosafe"
	"github.com/hazyhaar/docstream/idgen"
	"github.com/hazyhaar/docstream/kit"
)

// Trailer names of a streamed extraction.
const (
	TrailerMetadata = "X-Extract-Metadata"
	TrailerError    = "X-Extract-Error"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind string, err error) {
	writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind, RequestID: w.Header().Get("X-Request-ID")})
}

// requestError is a client mistake detected before extraction starts.
type requestError struct {
	status int
	kind   string
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, kind: "bad_request", err: fmt.Errorf(format, args...)}
}

// failure writes err with the status its classification maps to.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeError(w, re.status, re.kind, re.err)
		return
	}
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// The client is gone; nobody reads the response.
		return
	}
	kind := docpipe.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case docpipe.KindSourceNotFound:
		status = http.StatusNotFound
	case docpipe.KindUnsupportedFormat:
		status = http.StatusUnsupportedMediaType
	case docpipe.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
	case docpipe.KindMalformedDocument, docpipe.KindDecodeError:
		status = http.StatusUnprocessableEntity
	case docpipe.KindNetworkFailure:
		status = http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, kind.String(), err)
}

// extractor applies the request's query options to the server's extractor.
func (s *Server) extractor(r *http.Request) (docpipe.Extractor, error) {
	q := r.URL.Query()
	ex := s.ex
	if v := q.Get("xml"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return ex, badRequest("xml: %v", err)
		}
		ex = ex.WithXMLOutput(on)
	}
	if v := q.Get("markdown"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return ex, badRequest("markdown: %v", err)
		}
		h := ex.HTMLConfig()
		h.Markdown = on
		ex = ex.WithHTMLConfig(h)
	}
	if v := q.Get("ocr"); v != "" {
		st, err := docpipe.ParseOcrStrategy(v)
		if err != nil {
			return ex, badRequest("ocr: %v", err)
		}
		ex = ex.WithPdfConfig(ex.PdfConfig().WithOcrStrategy(st)).
			WithImageConfig(docpipe.ImageParserConfig{OcrStrategy: st})
	}
	if v := q.Get("lang"); v != "" {
		oc := ex.OcrConfig()
		oc.Language = v
		ex = ex.WithOcrConfig(oc)
	}
	if v := q.Get("encoding"); v != "" {
		cs, err := docpipe.ParseCharSet(v)
		if err != nil {
			return ex, badRequest("encoding: %v", err)
		}
		ex = ex.WithEncoding(cs)
	}
	return ex, nil
}

// source resolves the document named by the request.
func (s *Server) source(r *http.Request) (docpipe.Source, error) {
	q := r.URL.Query()
	if u := q.Get("url"); u != "" {
		if !s.cfg.AllowURLs {
			return nil, &requestError{http.StatusForbidden, "forbidden", errors.New("url sources are disabled")}
		}
		return docpipe.URL(u), nil
	}
	if p := q.Get("path"); p != "" {
		if s.cfg.FileRoot == "" {
			return nil, &requestError{http.StatusForbidden, "forbidden", errors.New("path sources are disabled")}
		}
		full, err := horosafe.SafePath(s.cfg.FileRoot, p)
		if err != nil {
			return nil, badRequest("path: %v", err)
		}
		return docpipe.FilePath(full), nil
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.multipartSource(r)
	}
	data, err := s.readBody(r.Body)
	if err != nil {
		return nil, err
	}
	name := q.Get("name")
	if name == "" {
		if _, dp, err := mime.ParseMediaType(r.Header.Get("Content-Disposition")); err == nil {
			name = dp["filename"]
		}
	}
	declared := ""
	if mediaType != "" && mediaType != "application/octet-stream" {
		declared = mime.FormatMediaType(mediaType, params)
	}
	return docpipe.Upload{Name: name, ContentType: declared, Data: data}, nil
}

func (s *Server) multipartSource(r *http.Request) (docpipe.Source, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("multipart: %v", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, badRequest(`multipart: no "file" field`)
		}
		if err != nil {
			return nil, badRequest("multipart: %v", err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()
		data, err := s.readBody(part)
		if err != nil {
			return nil, err
		}
		return docpipe.Upload{Name: part.FileName(), ContentType: part.Header.Get("Content-Type"), Data: data}, nil
	}
}

func (s *Server) readBody(r io.Reader) ([]byte, error) {
	data, err := horosafe.LimitedReadAll(r, s.cfg.MaxUploadBytes)
	if errors.Is(err, horosafe.ErrTooLarge) {
		return nil, &requestError{http.StatusRequestEntityTooLarge, "too_large",
			fmt.Errorf("document exceeds %d bytes", s.cfg.MaxUploadBytes)}
	}
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	return data, nil
}

type formatInfo struct {
	Format docpipe.Format `json:"format"`
	Family docpipe.Family `json:"family"`
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	formats := docpipe.SupportedFormats()
	out := make([]formatInfo, 0, len(formats))
	for _, f := range formats {
		out = append(out, formatInfo{Format: f, Family: f.Family()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"formats": out})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	src, err := s.source(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	detect := kit.Chain(kit.Logging(s.logger, "http_detect"), kit.Recover("http_detect"))(func(ctx context.Context, req any) (any, error) {
		return s.ex.Detect(ctx, req.(docpipe.Source))
	})
	det, err := detect(r.Context(), src)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

type documentResponse struct {
	ExtractionID string `json:"extraction_id"`
	*docpipe.Document
	Truncated bool `json:"truncated"`
}

// handleExtract streams the content by default. response=json returns one
// bounded JSON document instead.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	ex, err := s.extractor(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	src, err := s.source(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	id := idgen.New()
	ex = ex.WithIDGenerator(func() string { return id })
	w.Header().Set("X-Extraction-ID", id)
	ctx := r.Context()

	q := r.URL.Query()
	if q.Get("response") == "json" {
		limit := ex.MaxStringLength()
		if limit <= 0 {
			limit = docpipe.DefaultMaxStringLength
		}
		if v := q.Get("max_length"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				s.failure(w, r, badRequest("max_length: want a positive integer"))
				return
			}
			limit = min(limit, n)
		}
		doc, err := ex.WithMaxStringLength(limit).ExtractDocument(ctx, src)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, documentResponse{
			ExtractionID: id,
			Document:     doc,
			Truncated:    doc.Metadata.Value("extract:content-truncated") == "true",
		})
		return
	}

	sr, _, err := ex.Extract(ctx, src)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	defer sr.Close()

	h := w.Header()
	h.Set("Trailer", TrailerMetadata+", "+TrailerError)
	mediaType := "text/plain"
	if ex.XMLOutput() {
		mediaType = "application/xhtml+xml"
	}
	h.Set("Content-Type", mediaType+"; charset="+strings.ToLower(ex.Encoding().String()))
	h.Set("X-Detected-Format", string(sr.Detection().Format))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, sr); err != nil {
		s.logger.WarnContext(ctx, "httpapi: extraction failed mid-stream",
			"extraction_id", id, "request_id", kit.GetRequestID(ctx), "error", err)
		h.Set(TrailerError, docpipe.KindOf(err).String()+": "+headerSafe(err.Error()))
	}
	meta, err := json.Marshal(sr.Metadata())
	if err == nil {
		h.Set(TrailerMetadata, string(meta))
	}
}

// headerSafe drops the control characters a header value cannot carry.
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

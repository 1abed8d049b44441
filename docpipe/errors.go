package docpipe

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an extraction failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindSourceNotFound
	KindUnsupportedFormat
	KindBackendUnavailable
	KindMalformedDocument
	KindNetworkFailure
	KindDecodeError
)

// Sentinel errors, one per Kind. Match with errors.Is.
var (
	ErrSourceNotFound     = errors.New("docpipe: source not found")
	ErrUnsupportedFormat  = errors.New("docpipe: unsupported format")
	ErrBackendUnavailable = errors.New("docpipe: backend unavailable")
	ErrMalformedDocument  = errors.New("docpipe: malformed document")
	ErrNetworkFailure     = errors.New("docpipe: network failure")
	ErrDecodeError        = errors.New("docpipe: decode error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindSourceNotFound:
		return ErrSourceNotFound
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindBackendUnavailable:
		return ErrBackendUnavailable
	case KindMalformedDocument:
		return ErrMalformedDocument
	case KindNetworkFailure:
		return ErrNetworkFailure
	case KindDecodeError:
		return ErrDecodeError
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindSourceNotFound:
		return "source_not_found"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindMalformedDocument:
		return "malformed_document"
	case KindNetworkFailure:
		return "network_failure"
	case KindDecodeError:
		return "decode_error"
	}
	return "unknown"
}

// Error is a classified extraction error.
type Error struct {
	Kind Kind
	Op   string // e.g. "detect", "pdf", "read"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("docpipe: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("docpipe: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify wraps err with kind unless it already carries a classification.
func classify(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return newError(kind, op, err)
}

// backendError classifies a backend failure as a malformed document.
// Cancellation passes through unchanged.
func backendError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return classify(KindMalformedDocument, op, err)
}

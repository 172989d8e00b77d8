// internal/scrapererr/errors.go
package scrapererr

import (
	"errors"
	"fmt"
)

// Kind buckets a failure by how the caller must react to it: browser and
// captcha and scraping failures restart the whole job (bounded), extraction
// failures skip the bill, HTTP failures surface with their status code.
type Kind string

const (
	KindBrowser    Kind = "browser"
	KindCaptcha    Kind = "captcha"
	KindScraping   Kind = "scraping"
	KindExtraction Kind = "extraction"
	KindHTTP       Kind = "http"
)

// Error is the shared error shape for the scraping core.
type Error struct {
	Kind       Kind
	Msg        string
	StatusCode int // only meaningful for KindHTTP
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Browser wraps a session or navigation failure.
func Browser(msg string, err error) error {
	return &Error{Kind: KindBrowser, Msg: msg, Err: err}
}

// Captcha wraps a solver or token-injection failure.
func Captcha(msg string, err error) error {
	return &Error{Kind: KindCaptcha, Msg: msg, Err: err}
}

// Scraping wraps an action-sequence failure.
func Scraping(msg string, err error) error {
	return &Error{Kind: KindScraping, Msg: msg, Err: err}
}

// Extraction wraps a document with no usable text layer.
func Extraction(msg string, err error) error {
	return &Error{Kind: KindExtraction, Msg: msg, Err: err}
}

// HTTP wraps a backend communication failure with its status code.
func HTTP(msg string, statusCode int, err error) error {
	return &Error{Kind: KindHTTP, Msg: msg, StatusCode: statusCode, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a core error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an HTTP
// core error.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindHTTP {
		return e.StatusCode
	}
	return 0
}

// ErrNotFound marks a recoverable 404 from the backend: the record simply
// does not exist yet.
var ErrNotFound = errors.New("not found")

// ErrUnsupported marks an operation the selected browser variant cannot
// perform (e.g. awaiting an external captcha solve on a launched browser).
var ErrUnsupported = errors.New("operation not supported by this session variant")

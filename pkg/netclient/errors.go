package netclient

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed request.
type Kind int

const (
	// KindTransport covers connection, DNS, TLS, timeout and cancellation failures.
	KindTransport Kind = iota + 1
	// KindValidation is a non-2xx status on a call that validates status.
	KindValidation
	// KindDecode is a body that does not have the expected shape.
	KindDecode
	// KindEncoding is a body that is not valid UTF-8 text.
	KindEncoding
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindDecode:
		return "decode"
	case KindEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a *RequestError.
var (
	ErrTransport  = errors.New("transport error")
	ErrValidation = errors.New("validation error")
	ErrDecode     = errors.New("decode error")
	ErrEncoding   = errors.New("encoding error")

	// ErrInvalidRequest reports a call the client refuses to send (bad URL, unsupported method).
	ErrInvalidRequest = errors.New("invalid request")
)

// RequestError is returned by every Client operation that reached the network.
// StatusCode is zero when no response was received.
type RequestError struct {
	Kind       Kind
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error: %s %s", e.Kind, e.Method, e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Kind == KindValidation && len(e.Body) > 0 {
		fmt.Fprintf(&b, " body=%s", snippet(e.Body))
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's Kind.
func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrDecode:
		return e.Kind == KindDecode
	case ErrEncoding:
		return e.Kind == KindEncoding
	}
	return false
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode != 0 {
		return reqErr.StatusCode, true
	}
	return 0, false
}

func snippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// Package response defines the contract every diagnostic handler implements
// and the wire-ready reply it produces.
package response

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/diagscope/diagscope/internal/domain/session"
)

// MIME types used by the built-in responses.
const (
	MIMEPlainText = "text/plain"
	MIMEJSON      = "application/json"
	MIMEYAML      = "application/yaml"
	MIMEHTML      = "text/html"
	MIMEBinary    = "application/octet-stream"
)

// WireResponse is a fully resolved HTTP reply, ready for serialization.
// Exactly one of Body or Stream is used; Stream wins when both are set.
type WireResponse struct {
	Status   int
	MIMEType string
	Header   http.Header

	Body []byte

	// Stream is copied to the client and closed by the transport.
	Stream io.ReadCloser
	// Length is the stream size in bytes, or -1 when unknown.
	Length int64

	// Err carries an internal failure for logging and metrics.
	// It is never written to the client.
	Err error
}

// Response turns a request into a reply. Implementations must be safe for
// concurrent use and must depend only on the session and on collaborators
// injected when they were registered.
type Response interface {
	Resolve(s *session.Params) WireResponse
}

// Func adapts an ordinary function to the Response interface.
type Func func(s *session.Params) WireResponse

// Resolve calls f(s).
func (f Func) Resolve(s *session.Params) WireResponse {
	return f(s)
}

// Fixed builds a fixed-length reply.
func Fixed(status int, mimeType string, body []byte) WireResponse {
	if body == nil {
		body = []byte{}
	}
	return WireResponse{Status: status, MIMEType: mimeType, Body: body}
}

// Text builds a text/plain reply.
func Text(status int, body string) WireResponse {
	return Fixed(status, MIMEPlainText, []byte(body))
}

// JSON encodes v as the reply body. An encoding failure becomes a 500.
func JSON(status int, v any) WireResponse {
	data, err := json.Marshal(v)
	if err != nil {
		return InternalError(fmt.Errorf("encode json response: %w", err))
	}
	return Fixed(status, MIMEJSON, data)
}

// Streamed builds a reply whose body is read from rc. length may be -1.
func Streamed(status int, mimeType string, rc io.ReadCloser, length int64) WireResponse {
	return WireResponse{Status: status, MIMEType: mimeType, Stream: rc, Length: length}
}

// InternalError is the 500 reply for a failure inside a handler.
// The cause is kept in Err and never shown to the client.
func InternalError(err error) WireResponse {
	w := Text(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	w.Err = err
	return w
}

// WithHeader returns a copy of w with an extra header value set.
func (w WireResponse) WithHeader(key, value string) WireResponse {
	h := make(http.Header, len(w.Header)+1)
	for k, v := range w.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set(key, value)
	w.Header = h
	return w
}

// Static is a handler with a fixed status, MIME type and body.
type Static struct {
	Status   int
	MIMEType string
	Body     []byte
}

// Resolve returns the configured reply.
func (r Static) Resolve(*session.Params) WireResponse {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return Fixed(r.Status, r.MIMEType, body)
}

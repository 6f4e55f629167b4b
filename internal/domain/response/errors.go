package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/diagscope/diagscope/internal/domain/session"
)

// StatusError is a handler failure that maps to a specific client-visible
// status, e.g. 400 for a bad parameter or 404 for a missing file.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// Errorf builds a StatusError with a formatted message.
func Errorf(status int, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// BadRequest builds a 400 StatusError.
func BadRequest(format string, args ...any) *StatusError {
	return Errorf(http.StatusBadRequest, format, args...)
}

// Try adapts a handler that can fail. A *StatusError becomes a text/plain
// reply with its status and message (5xx messages are hidden); any other
// error becomes InternalError.
type Try func(s *session.Params) (WireResponse, error)

// Resolve runs the handler and translates its error.
func (f Try) Resolve(s *session.Params) WireResponse {
	w, err := f(s)
	if err == nil {
		return w
	}
	return FromError(err)
}

// FromError converts an error to the reply described on Try.
func FromError(err error) WireResponse {
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		w := Text(se.Status, se.Message)
		w.Err = err
		return w
	}
	if errors.As(err, &se) && se.Status >= 500 && se.Status <= 599 {
		w := Text(se.Status, http.StatusText(se.Status))
		w.Err = err
		return w
	}
	return InternalError(err)
}

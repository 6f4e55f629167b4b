package response

import (
	"net/http"

	"github.com/diagscope/diagscope/internal/domain/session"
)

// NotFound is the last-resort reply: 404, text/plain, empty body,
// for every method and every session.
type NotFound struct{}

// Resolve always returns the 404 reply.
func (NotFound) Resolve(*session.Params) WireResponse {
	return Fixed(http.StatusNotFound, MIMEPlainText, nil)
}

package response

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/diagscope/diagscope/internal/domain/session"
)

// ETag returns the strong entity tag for body.
func ETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
}

// Cached wraps a handler with ETag support. Successful fixed-body replies
// get an ETag header; a matching If-None-Match turns them into a 304.
// Streamed and non-2xx replies pass through untouched.
func Cached(inner Response) Response {
	return Func(func(s *session.Params) WireResponse {
		w := inner.Resolve(s)
		if w.Stream != nil || w.Status < 200 || w.Status > 299 {
			return w
		}

		tag := ETag(w.Body)
		if etagMatches(s.Header("If-None-Match"), tag) {
			return Fixed(http.StatusNotModified, w.MIMEType, nil).WithHeader("ETag", tag)
		}
		return w.WithHeader("ETag", tag)
	})
}

// etagMatches implements the weak comparison used for If-None-Match.
func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	if strings.TrimSpace(header) == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == tag {
			return true
		}
	}
	return false
}

// Package session holds the per-request facts handed to diagnostic handlers.
package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
)

// ErrBodyAlreadyConsumed is returned when a handler reads the request body twice.
var ErrBodyAlreadyConsumed = errors.New("request body already consumed")

// QueryPair is one key/value occurrence from the raw query string.
type QueryPair struct {
	Key   string
	Value string
}

// Params is the routable view of one inbound HTTP request.
// A Params is built once by the transport adapter and never mutated
// afterwards; the only state change it allows is the one-shot body read.
type Params struct {
	method     string
	path       string
	rawQuery   string
	query      []QueryPair
	header     http.Header
	remoteAddr string
	ctx        context.Context

	body     io.Reader
	consumed atomic.Bool
}

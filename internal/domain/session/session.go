package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Option configures a Params during construction.
type Option func(*Params)

// WithRawQuery parses the raw (still escaped) query string.
// Pair order and duplicate keys are preserved.
func WithRawQuery(raw string) Option {
	return func(p *Params) {
		p.rawQuery = raw
		p.query = parseQuery(raw)
	}
}

// WithHeader copies the given headers. Keys are canonicalized so lookups
// are case-insensitive.
func WithHeader(h http.Header) Option {
	return func(p *Params) {
		p.header = make(http.Header, len(h))
		for k, v := range h {
			ck := http.CanonicalHeaderKey(k)
			p.header[ck] = append(p.header[ck], v...)
		}
	}
}

// WithBody sets the request body stream. It can be read exactly once.
func WithBody(r io.Reader) Option {
	return func(p *Params) {
		p.body = r
	}
}

// WithRemoteAddr records the peer address as reported by the transport.
func WithRemoteAddr(addr string) Option {
	return func(p *Params) {
		p.remoteAddr = addr
	}
}

// WithContext attaches the request context.
func WithContext(ctx context.Context) Option {
	return func(p *Params) {
		if ctx != nil {
			p.ctx = ctx
		}
	}
}

// New creates the Params for one request.
func New(method, path string, opts ...Option) *Params {
	p := &Params{
		method: method,
		path:   path,
		header: http.Header{},
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Method returns the HTTP method.
func (p *Params) Method() string { return p.method }

// Path returns the request path exactly as received (unnormalized).
func (p *Params) Path() string { return p.path }

// RawQuery returns the query string without the leading '?'.
func (p *Params) RawQuery() string { return p.rawQuery }

// RemoteAddr returns the peer address, or "" if the transport did not set it.
func (p *Params) RemoteAddr() string { return p.remoteAddr }

// Context returns the request context. It is never nil.
func (p *Params) Context() context.Context { return p.ctx }

// Query returns the first value for key, or "" when the key is absent.
func (p *Params) Query(key string) string {
	for _, q := range p.query {
		if q.Key == key {
			return q.Value
		}
	}
	return ""
}

// HasQuery reports whether key occurs at least once.
func (p *Params) HasQuery(key string) bool {
	for _, q := range p.query {
		if q.Key == key {
			return true
		}
	}
	return false
}

// QueryValues returns every value for key in request order.
func (p *Params) QueryValues(key string) []string {
	var out []string
	for _, q := range p.query {
		if q.Key == key {
			out = append(out, q.Value)
		}
	}
	return out
}

// QueryPairs returns a copy of all query pairs in request order.
func (p *Params) QueryPairs() []QueryPair {
	out := make([]QueryPair, len(p.query))
	copy(out, p.query)
	return out
}

// Header returns the first value of the named header (case-insensitive).
func (p *Params) Header(name string) string {
	return p.header.Get(name)
}

// HeaderValues returns all values of the named header (case-insensitive).
func (p *Params) HeaderValues(name string) []string {
	v := p.header.Values(name)
	if len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// HeaderNames returns the canonical names of all headers present.
func (p *Params) HeaderNames() []string {
	names := make([]string, 0, len(p.header))
	for k := range p.header {
		names = append(names, k)
	}
	return names
}

// Body hands out the request body stream. Only the first call succeeds;
// later calls return ErrBodyAlreadyConsumed.
func (p *Params) Body() (io.Reader, error) {
	if !p.consumed.CompareAndSwap(false, true) {
		return nil, ErrBodyAlreadyConsumed
	}
	if p.body == nil {
		return bytes.NewReader(nil), nil
	}
	return p.body, nil
}

// ReadBody consumes the body and returns at most limit bytes.
// A limit <= 0 means no limit.
func (p *Params) ReadBody(limit int64) ([]byte, error) {
	r, err := p.Body()
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		r = io.LimitReader(r, limit)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

// parseQuery splits a raw query into ordered pairs. Segments with a bad
// escape keep their raw text instead of failing the whole request.
func parseQuery(raw string) []QueryPair {
	if raw == "" {
		return nil
	}
	var pairs []QueryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		pairs = append(pairs, QueryPair{
			Key:   unescape(key),
			Value: unescape(value),
		})
	}
	return pairs
}

func unescape(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

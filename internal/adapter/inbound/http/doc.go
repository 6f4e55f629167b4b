// Package http provides the net/http transport for the diagnostic server.
//
// HTTPTransport implements the outbound.Binder port used by the server
// guard: each Bind call listens on an address and serves every request
// through one route.Router.
//
// # Usage
//
//	transport := http.NewHTTPTransport(router,
//	    http.WithLogger(logger),
//	    http.WithMetrics(http.NewMetrics(reg)),
//	    http.WithCompression(true),
//	)
//	srv, err := transport.Bind(ctx, "127.0.0.1:0")
//	defer srv.Close(ctx)
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Records duration and status class per method,
//     except for paths given to WithUnmeteredPaths
//  2. RequestIDMiddleware - Extracts or generates X-Request-ID and enriches the logger
//  3. gzhttp.GzipHandler - Compresses replies when enabled
//  4. Dispatch adapter - Builds session.Params and writes the WireResponse
//
// # Wire Format
//
// The adapter writes the reply's status, its MIME type as Content-Type
// (application/octet-stream when empty), any extra headers and the body.
// HEAD requests get headers only. Streamed bodies are copied and closed;
// Content-Length is set whenever the length is known.
package http

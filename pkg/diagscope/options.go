package diagscope

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// StaticRoute is a fixed reply served when Match, a CEL expression over
// method, path, query, headers, remote_addr and remote_ip, is true.
type StaticRoute struct {
	Name     string
	Match    string
	Priority int
	Status   int
	MIMEType string
	Body     string
}

type options struct {
	logger  *slog.Logger
	version string

	addr              string
	shutdownTimeout   time.Duration
	readHeaderTimeout time.Duration
	compression       bool
	maxBodyBytes      int64
	stripSlash        bool
	queueSize         int

	registry *prometheus.Registry
	tracer   trace.Tracer
	exporter string
	traceOut io.Writer

	diagnostics  bool
	configDump   any
	filesRoot    string
	allowDelete  bool
	databasesDir string
	static       []StaticRoute
}

// Option configures a Scope.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithVersion sets the version reported by /, /health and /api/info.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithAddr sets the listen address. Defaults to "127.0.0.1:0".
func WithAddr(addr string) Option {
	return func(o *options) { o.addr = addr }
}

// WithShutdownTimeout bounds graceful shutdown. Defaults to 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// WithReadHeaderTimeout bounds how long clients may take to send headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(o *options) { o.readHeaderTimeout = d }
}

// WithCompression toggles gzip replies. Enabled by default.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compression = enabled }
}

// WithMaxBodyBytes limits request bodies. Defaults to 10 MiB; 0 means
// unlimited.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithStripTrailingSlash makes "/status/" and "/status" the same path.
func WithStripTrailingSlash() Option {
	return func(o *options) { o.stripSlash = true }
}

// WithQueueSize sets the ready-event buffer. Defaults to 100.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithRegistry collects metrics into reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithTraceExporter builds a tracer that exports spans ("stdout" or "none").
// w receives stdout spans and may be nil for os.Stdout. WithTracer wins
// when both are given.
func WithTraceExporter(exporter string, w io.Writer) Option {
	return func(o *options) {
		o.exporter = exporter
		o.traceOut = w
	}
}

// WithoutDiagnostics leaves the table empty apart from user handlers.
func WithoutDiagnostics() Option {
	return func(o *options) { o.diagnostics = false }
}

// WithConfigDump serves v as YAML at /api/config.
func WithConfigDump(v any) Option {
	return func(o *options) { o.configDump = v }
}

// WithFiles exposes root under /api/files.
func WithFiles(root string, allowDelete bool) Option {
	return func(o *options) {
		o.filesRoot = root
		o.allowDelete = allowDelete
	}
}

// WithDatabases exposes the SQLite files in dir under /api/databases.
func WithDatabases(dir string) Option {
	return func(o *options) { o.databasesDir = dir }
}

// WithStaticRoutes adds fixed replies matched by CEL expressions.
func WithStaticRoutes(routes ...StaticRoute) Option {
	return func(o *options) { o.static = append(o.static, routes...) }
}
